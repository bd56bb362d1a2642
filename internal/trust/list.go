package trust

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"rugguard/internal/logging"
	"rugguard/internal/metrics"
	"rugguard/internal/util"
)

const (
	SourceNone   = "none"
	SourceRemote = "remote"
	SourceSeed   = "seed"
)

// ListOptions configures a List. Zero TTL selects one hour.
type ListOptions struct {
	URL    string
	TTL    time.Duration
	Seed   []string
	Client *http.Client
}

// ListInfo describes the currently loaded list.
type ListInfo struct {
	Size      int       `json:"size"`
	Source    string    `json:"source"`
	URL       string    `json:"url"`
	LoadedAt  time.Time `json:"loaded_at"`
	Stale     bool      `json:"stale"`
	LastError string    `json:"last_error,omitempty"`
}

// List is the remotely sourced set of vouched usernames. It refreshes lazily once
// the TTL has passed; a failed refresh keeps the previous members and is retried
// on access after a short backoff. Safe for concurrent use.
type List struct {
	url    string
	ttl    time.Duration
	seed   map[string]struct{}
	client *http.Client
	now    func() time.Time

	mu          sync.Mutex
	members     map[string]struct{}
	source      string
	loadedAt    time.Time
	lastAttempt time.Time
	lastErr     error
}

// failureBackoff is the longest wait before retrying a failed refresh; a shorter
// TTL wins.
const failureBackoff = 2 * time.Minute

func NewList(opts ListOptions) *List {
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 10 * time.Second}
	}
	return &List{
		url:    strings.TrimSpace(opts.URL),
		ttl:    opts.TTL,
		seed:   toSet(opts.Seed),
		client: opts.Client,
		now:    time.Now,
		source: SourceNone,
	}
}

// Contains reports whether username is on the list, ignoring case and a leading '@'.
func (l *List) Contains(ctx context.Context, username string) bool {
	name := util.NormalizeUsername(username)
	if name == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureLocked(ctx)
	_, ok := l.members[name]
	return ok
}

// Connections counts the distinct usernames that are on the list.
func (l *List) Connections(ctx context.Context, usernames []string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureLocked(ctx)
	seen := make(map[string]struct{}, len(usernames))
	n := 0
	for _, u := range usernames {
		name := util.NormalizeUsername(u)
		if _, dup := seen[name]; dup || name == "" {
			continue
		}
		seen[name] = struct{}{}
		if _, ok := l.members[name]; ok {
			n++
		}
	}
	return n
}

// Members returns the sorted member usernames.
func (l *List) Members(ctx context.Context) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureLocked(ctx)
	out := make([]string, 0, len(l.members))
	for m := range l.members {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Info describes the list as currently loaded. It never fetches.
func (l *List) Info(ctx context.Context) ListInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.infoLocked()
}

// Refresh forces a fetch regardless of age.
func (l *List) Refresh(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refreshLocked(ctx)
}

func (l *List) infoLocked() ListInfo {
	info := ListInfo{
		Size:     len(l.members),
		Source:   l.source,
		URL:      l.url,
		LoadedAt: l.loadedAt,
		Stale:    l.loadedAt.IsZero() || l.now().Sub(l.loadedAt) >= l.ttl,
	}
	if l.lastErr != nil {
		info.LastError = l.lastErr.Error()
	}
	return info
}

func (l *List) ensureLocked(ctx context.Context) {
	now := l.now()
	if !l.loadedAt.IsZero() && now.Sub(l.loadedAt) < l.ttl {
		return
	}
	if !l.lastAttempt.IsZero() && now.Sub(l.lastAttempt) < min(l.ttl, failureBackoff) {
		return
	}
	_ = l.refreshLocked(ctx)
}

func (l *List) refreshLocked(ctx context.Context) error {
	l.lastAttempt = l.now()
	members, err := l.fetch(ctx)
	if err != nil {
		l.lastErr = err
		metrics.IncTrustListRefresh("error")
		if l.source == SourceNone && len(l.seed) > 0 {
			l.members = l.seed
			l.source = SourceSeed
		}
		logging.Warn("trust_list_refresh_failed", map[string]any{"url": l.url, "error": err.Error(), "source": l.source, "size": len(l.members)})
		metrics.SetTrustListSize(len(l.members))
		return err
	}
	l.members = members
	l.source = SourceRemote
	l.loadedAt = l.now()
	l.lastErr = nil
	metrics.IncTrustListRefresh("ok")
	metrics.SetTrustListSize(len(members))
	logging.Info("trust_list_refreshed", map[string]any{"url": l.url, "size": len(members)})
	return nil
}

func (l *List) fetch(ctx context.Context) (map[string]struct{}, error) {
	if l.url == "" {
		return nil, fmt.Errorf("trust list url not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch trust list: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch trust list: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read trust list: %w", err)
	}
	names, err := ParseList(body)
	if err != nil {
		return nil, err
	}
	return toSet(names), nil
}

// ParseList accepts a JSON array of usernames or one username per line.
// Blank lines and '#' comments are skipped; names are normalized.
func ParseList(body []byte) ([]string, error) {
	body = bytes.TrimSpace(body)
	var raw []string
	if bytes.HasPrefix(body, []byte("[")) {
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, fmt.Errorf("parse trust list: %w", err)
		}
	} else {
		for _, line := range strings.Split(string(body), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			raw = append(raw, line)
		}
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if n := util.NormalizeUsername(r); n != "" {
			out = append(out, n)
		}
	}
	return out, nil
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n = util.NormalizeUsername(n); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}
