package analyzer

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"rugguard/internal/logging"
	"rugguard/internal/metrics"
	"rugguard/internal/model"
	"rugguard/internal/profile"
	"rugguard/internal/trust"
	"rugguard/internal/util"
)

// Fetcher supplies account data; *profile.Fetcher implements it.
type Fetcher interface {
	Fetch(ctx context.Context, id profile.Identifier) (model.AccountSnapshot, error)
	ListRecent(ctx context.Context, userID string, limit int) ([]model.RecentPost, error)
	FollowerUsernames(ctx context.Context, userID string, n int) ([]string, error)
}

// TrustList answers membership questions; *trust.List implements it.
type TrustList interface {
	Contains(ctx context.Context, username string) bool
	Connections(ctx context.Context, usernames []string) int
}

type Options struct {
	MaxRecentPosts int
	// Followers sampled for trust-list connections; 0 disables sampling
	FollowerSample int
	CacheSize      int
	CacheTTL       time.Duration
}

// Analyzer fetches an account, scores it and keeps recent reports as a fallback
// for when the API cannot be reached.
type Analyzer struct {
	fetcher Fetcher
	list    TrustList
	scorer  *trust.Scorer
	opts    Options
	cache   *expirable.LRU[string, model.Report]
	now     func() time.Time
}

func New(fetcher Fetcher, list TrustList, scorer *trust.Scorer, opts Options) *Analyzer {
	if opts.MaxRecentPosts <= 0 || opts.MaxRecentPosts > profile.MaxRecentPosts {
		opts.MaxRecentPosts = profile.MaxRecentPosts
	}
	if opts.FollowerSample > profile.MaxFollowers {
		opts.FollowerSample = profile.MaxFollowers
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 256
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 6 * time.Hour
	}
	if scorer == nil {
		scorer = trust.NewScorer(trust.DefaultKeywords(), trust.DefaultWeights())
	}
	return &Analyzer{
		fetcher: fetcher,
		list:    list,
		scorer:  scorer,
		opts:    opts,
		cache:   expirable.NewLRU[string, model.Report](opts.CacheSize, nil, opts.CacheTTL),
		now:     time.Now,
	}
}

func cacheKey(id profile.Identifier) string {
	if id.ID != "" {
		return "id:" + id.ID
	}
	return "@" + util.NormalizeUsername(id.Username)
}

// Analyze scores the account. A missing account returns profile.ErrNotFound. When the
// profile itself cannot be fetched a cached report is returned if one exists; failures
// on posts or followers degrade those inputs to empty instead of failing.
func (a *Analyzer) Analyze(ctx context.Context, id profile.Identifier) (model.Report, error) {
	snap, err := a.fetcher.Fetch(ctx, id)
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			metrics.IncAnalysis("not_found")
			return model.Report{}, err
		}
		if r, ok := a.cache.Get(cacheKey(id)); ok {
			metrics.IncAnalysis("cached")
			logging.Warn("analysis_from_cache", map[string]any{"account": id.String(), "error": err.Error()})
			r.Cached = true
			return r, nil
		}
		metrics.IncAnalysis("error")
		return model.Report{}, err
	}

	var degraded []string
	posts, err := a.fetcher.ListRecent(ctx, snap.ID, a.opts.MaxRecentPosts)
	if err != nil {
		degraded = append(degraded, "posts")
		logging.Warn("analysis_posts_unavailable", map[string]any{"account": snap.Username, "error": err.Error()})
		posts = nil
	}

	m := trust.Membership{Listed: a.list != nil && a.list.Contains(ctx, snap.Username)}
	if !m.Listed && a.list != nil && a.opts.FollowerSample > 0 {
		names, err := a.fetcher.FollowerUsernames(ctx, snap.ID, a.opts.FollowerSample)
		if err != nil {
			degraded = append(degraded, "followers")
			logging.Warn("analysis_followers_unavailable", map[string]any{"account": snap.Username, "error": err.Error()})
		} else {
			m.Connections = a.list.Connections(ctx, names)
			m.Known = true
		}
	}

	now := a.now()
	res := a.scorer.Score(trust.Input{Snapshot: snap, Posts: posts, Membership: m, Now: now})
	r := model.Report{
		UserID:      snap.ID,
		Username:    snap.Username,
		Score:       res.Final,
		Level:       res.Level,
		Components:  res.Components,
		Signals:     res.Signals,
		GeneratedAt: now,
		Degraded:    degraded,
	}
	a.cache.Add("id:"+snap.ID, r)
	a.cache.Add("@"+util.NormalizeUsername(snap.Username), r)

	metrics.ObserveTrustScore(r.Score)
	outcome := "ok"
	if len(degraded) > 0 {
		outcome = "degraded"
	}
	metrics.IncAnalysis(outcome)
	logging.Info("analysis_complete", map[string]any{
		"account": snap.Username, "score": model.Round1(r.Score), "level": r.Level.String(), "degraded": degraded,
	})
	return r, nil
}
