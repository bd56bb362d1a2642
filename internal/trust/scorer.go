package trust

import (
	"math"
	"time"
	"unicode/utf8"

	"rugguard/internal/model"
	"rugguard/internal/util"
)

// Keywords are the case-insensitive substring lists used by the bio and content signals.
type Keywords struct {
	BioSuspicious     []string
	BioPositive       []string
	ContentRelevant   []string
	ContentSuspicious []string
}

func DefaultKeywords() Keywords {
	return Keywords{
		BioSuspicious: []string{"guaranteed", "risk-free", "1000x", "moon", "lambo", "diamond hands", "to the moon",
			"financial advice", "not financial advice", "nfa", "dyor", "pump", "dump"},
		BioPositive:       []string{"developer", "founder", "cto", "ceo", "engineer", "blockchain", "defi", "protocol", "security", "audit"},
		ContentRelevant:   []string{"solana", "sol", "$sol", "spl", "phantom", "serum"},
		ContentSuspicious: []string{"buy now", "urgent", "🚨", "last chance", "limited time"},
	}
}

// Weights of each component in the composite score. They sum to 1.
type Weights struct {
	AccountAge    float64
	FollowerRatio float64
	Bio           float64
	Engagement    float64
	Content       float64
	TrustList     float64
}

func DefaultWeights() Weights {
	return Weights{AccountAge: 0.15, FollowerRatio: 0.20, Bio: 0.10, Engagement: 0.25, Content: 0.20, TrustList: 0.10}
}

func (w Weights) sum() float64 {
	return w.AccountAge + w.FollowerRatio + w.Bio + w.Engagement + w.Content + w.TrustList
}

// Membership is the trust-list view of an account.
type Membership struct {
	Listed      bool
	Connections int
	// Known is false when the follower sample could not be fetched.
	Known bool
}

type Input struct {
	Snapshot   model.AccountSnapshot
	Posts      []model.RecentPost
	Membership Membership
	Now        time.Time
}

type Result struct {
	Components model.ScoreComponents `json:"components"`
	Final      float64               `json:"score"`
	Level      model.TrustLevel      `json:"level"`
	Signals    model.Signals         `json:"signals"`
}

// Scorer computes the composite trust score. It is pure and safe for concurrent use.
type Scorer struct {
	kw Keywords
	w  Weights
}

// NewScorer builds a scorer; empty keyword lists and zero weights fall back to defaults.
func NewScorer(kw Keywords, w Weights) *Scorer {
	def := DefaultKeywords()
	if len(kw.BioSuspicious) == 0 {
		kw.BioSuspicious = def.BioSuspicious
	}
	if len(kw.BioPositive) == 0 {
		kw.BioPositive = def.BioPositive
	}
	if len(kw.ContentRelevant) == 0 {
		kw.ContentRelevant = def.ContentRelevant
	}
	if len(kw.ContentSuspicious) == 0 {
		kw.ContentSuspicious = def.ContentSuspicious
	}
	if s := w.sum(); s <= 0 || math.IsNaN(s) {
		w = DefaultWeights()
	}
	return &Scorer{kw: kw, w: w}
}

// Score evaluates every component and the weighted composite. Total for any input.
func (s *Scorer) Score(in Input) Result {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	var r Result
	sig := &r.Signals

	sig.AgeDays = in.Snapshot.AgeDays(now)
	r.Components.AccountAge = AgeScore(sig.AgeDays)

	followers := max(0, in.Snapshot.FollowersCount)
	following := max(0, in.Snapshot.FollowingCount)
	sig.FollowersCount, sig.FollowingCount = followers, following
	sig.FollowerRatio = followerRatio(followers, following)
	r.Components.FollowerRatio = RatioScore(sig.FollowerRatio)

	sig.PositiveKeywords = util.CountContained(in.Snapshot.Bio, s.kw.BioPositive)
	sig.SuspiciousBio = util.CountContained(in.Snapshot.Bio, s.kw.BioSuspicious)
	r.Components.Bio = bioScore(utf8.RuneCountInString(in.Snapshot.Bio), sig.PositiveKeywords, sig.SuspiciousBio)

	r.Components.Engagement = s.engagement(in.Posts, followers, sig)
	r.Components.Content = s.content(in.Posts, sig)

	sig.TrustListed = in.Membership.Listed
	sig.TrustConnections = max(0, in.Membership.Connections)
	sig.ConnectionsKnown = in.Membership.Known
	r.Components.TrustList = MembershipScore(in.Membership)

	c := r.Components
	total := (c.AccountAge*s.w.AccountAge +
		c.FollowerRatio*s.w.FollowerRatio +
		c.Bio*s.w.Bio +
		c.Engagement*s.w.Engagement +
		c.Content*s.w.Content +
		c.TrustList*s.w.TrustList) / s.w.sum()
	r.Final = clamp(total, 0, 100)
	r.Level = model.LevelFor(r.Final)
	return r
}

// AgeScore is the step curve over account age in days.
func AgeScore(days int) float64 {
	switch {
	case days >= 730:
		return 100
	case days >= 365:
		return 80
	case days >= 180:
		return 60
	case days >= 90:
		return 40
	case days >= 30:
		return 20
	default:
		return 10
	}
}

func followerRatio(followers, following int) float64 {
	if following == 0 {
		if followers > 0 {
			return float64(followers)
		}
		return 1
	}
	return float64(followers) / float64(following)
}

// RatioScore is the step curve over followers/following.
func RatioScore(ratio float64) float64 {
	switch {
	case ratio >= 10:
		return 100
	case ratio >= 5:
		return 80
	case ratio >= 2:
		return 60
	case ratio >= 1:
		return 40
	case ratio >= 0.5:
		return 20
	default:
		return 10
	}
}

func bioScore(runes, positive, suspicious int) float64 {
	length := math.Min(100, float64(runes)*2)
	keywords := clamp(float64(positive*20-suspicious*15), 0, 100)
	return 0.3*length + 0.7*keywords
}

func (s *Scorer) engagement(posts []model.RecentPost, followers int, sig *model.Signals) float64 {
	sig.PostsAnalyzed = len(posts)
	if len(posts) == 0 {
		return 0
	}
	total := 0
	for _, p := range posts {
		total += p.Interactions()
	}
	sig.AvgEngagement = float64(total) / float64(len(posts))
	if followers > 0 {
		sig.EngagementRate = sig.AvgEngagement / float64(followers) * 100
	}
	return RateScore(sig.EngagementRate)
}

// RateScore is the step curve over engagement rate in percent.
func RateScore(rate float64) float64 {
	switch {
	case rate >= 5:
		return 100
	case rate >= 2:
		return 80
	case rate >= 1:
		return 60
	case rate >= 0.5:
		return 40
	case rate >= 0.1:
		return 20
	default:
		return 10
	}
}

func (s *Scorer) content(posts []model.RecentPost, sig *model.Signals) float64 {
	if len(posts) == 0 {
		return 0
	}
	for _, p := range posts {
		if util.ContainsAnyCaseInsensitive(p.Text, s.kw.ContentRelevant) {
			sig.RelevantPosts++
		}
		if util.ContainsAnyCaseInsensitive(p.Text, s.kw.ContentSuspicious) {
			sig.SuspiciousPosts++
		}
	}
	n := float64(len(posts))
	relevance := math.Min(100, float64(sig.RelevantPosts)/n*100)
	penalty := math.Min(50, float64(sig.SuspiciousPosts)/n*100)
	return math.Max(0, relevance-penalty)
}

// MembershipScore: listed accounts get full credit; otherwise vouching follower count steps.
func MembershipScore(m Membership) float64 {
	if m.Listed {
		return 100
	}
	if !m.Known {
		return 0
	}
	switch {
	case m.Connections >= 5:
		return 100
	case m.Connections >= 3:
		return 80
	case m.Connections >= 2:
		return 60
	case m.Connections >= 1:
		return 40
	default:
		return 0
	}
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
