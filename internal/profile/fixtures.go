package profile

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"gopkg.in/yaml.v3"

	"rugguard/internal/model"
	"rugguard/internal/util"
)

type fixtureFile struct {
	Accounts []fixtureAccount `yaml:"accounts"`
}

type fixtureAccount struct {
	ID                string        `yaml:"id"`
	Username          string        `yaml:"username"`
	Name              string        `yaml:"name"`
	Bio               string        `yaml:"bio"`
	Created           string        `yaml:"created"`
	Followers         int           `yaml:"followers"`
	Following         int           `yaml:"following"`
	Posts             int           `yaml:"posts"`
	Listed            int           `yaml:"listed"`
	Verified          bool          `yaml:"verified"`
	FollowerUsernames []string      `yaml:"followerUsernames"`
	RecentPosts       []fixturePost `yaml:"recentPosts"`
}

type fixturePost struct {
	ID       string `yaml:"id"`
	Text     string `yaml:"text"`
	Created  string `yaml:"created"`
	Likes    int    `yaml:"likes"`
	Retweets int    `yaml:"retweets"`
	Replies  int    `yaml:"replies"`
	Quotes   int    `yaml:"quotes"`
}

// FixtureSource serves canned accounts from a YAML file, keyed by id and username.
type FixtureSource struct {
	byID       map[string]Fixture
	byUsername map[string]Fixture
}

func LoadFixtures(path string) (*FixtureSource, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseFixtures(b)
}

// ParseFixtures decodes fixture YAML. Dates accept any layout dateparse understands.
func ParseFixtures(b []byte) (*FixtureSource, error) {
	var ff fixtureFile
	if err := yaml.Unmarshal(b, &ff); err != nil {
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}
	src := &FixtureSource{byID: map[string]Fixture{}, byUsername: map[string]Fixture{}}
	for i, a := range ff.Accounts {
		name := util.NormalizeUsername(a.Username)
		if name == "" {
			return nil, fmt.Errorf("fixture %d: username is required", i)
		}
		id := strings.TrimSpace(a.ID)
		if id == "" {
			id = "fixture:" + name
		}
		created, err := parseDate(a.Created)
		if err != nil {
			return nil, fmt.Errorf("fixture %s: created: %w", name, err)
		}
		fx := Fixture{
			Snapshot: model.AccountSnapshot{
				ID:             id,
				Username:       strings.TrimLeft(strings.TrimSpace(a.Username), "@"),
				Name:           a.Name,
				Bio:            a.Bio,
				CreatedAt:      created,
				FollowersCount: max(0, a.Followers),
				FollowingCount: max(0, a.Following),
				PostCount:      max(0, a.Posts),
				ListedCount:    max(0, a.Listed),
				Verified:       a.Verified,
			},
			Followers: a.FollowerUsernames,
		}
		for j, p := range a.RecentPosts {
			ts, err := parseDate(p.Created)
			if err != nil {
				return nil, fmt.Errorf("fixture %s post %d: %w", name, j, err)
			}
			pid := p.ID
			if pid == "" {
				pid = fmt.Sprintf("%s-%d", id, j)
			}
			fx.Posts = append(fx.Posts, model.RecentPost{
				ID: pid, Text: p.Text, CreatedAt: ts,
				LikeCount: p.Likes, RetweetCount: p.Retweets, ReplyCount: p.Replies, QuoteCount: p.Quotes,
			})
		}
		src.byID[id] = fx
		src.byUsername[name] = fx
	}
	return src, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	return dateparse.ParseIn(s, time.UTC)
}

func (s *FixtureSource) Lookup(id Identifier) (Fixture, bool) {
	if s == nil {
		return Fixture{}, false
	}
	if id.ID != "" {
		fx, ok := s.byID[id.ID]
		return fx, ok
	}
	fx, ok := s.byUsername[util.NormalizeUsername(id.Username)]
	return fx, ok
}

func (s *FixtureSource) Len() int {
	if s == nil {
		return 0
	}
	return len(s.byID)
}
