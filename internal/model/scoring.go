package model

import (
	"math"
	"time"
)

// ScoreComponents holds the per-signal sub-scores, each in [0,100].
type ScoreComponents struct {
	AccountAge    float64 `json:"account_age"`
	FollowerRatio float64 `json:"follower_ratio"`
	Bio           float64 `json:"bio"`
	Engagement    float64 `json:"engagement"`
	Content       float64 `json:"content"`
	TrustList     float64 `json:"trust_list"`
}

// TrustLevel is the discrete label derived from the final score.
type TrustLevel int

const (
	HighRisk TrustLevel = iota
	CautionAdvised
	ModeratelyTrusted
	HighlyTrusted
)

// LevelFor maps a final score to its level: >=80, >=60, >=40, else high risk.
func LevelFor(score float64) TrustLevel {
	switch {
	case score >= 80:
		return HighlyTrusted
	case score >= 60:
		return ModeratelyTrusted
	case score >= 40:
		return CautionAdvised
	default:
		return HighRisk
	}
}

func (l TrustLevel) String() string {
	switch l {
	case HighlyTrusted:
		return "Highly Trusted"
	case ModeratelyTrusted:
		return "Moderately Trusted"
	case CautionAdvised:
		return "Caution Advised"
	default:
		return "High Risk"
	}
}

// Emoji is the status marker shown in replies.
func (l TrustLevel) Emoji() string {
	switch l {
	case HighlyTrusted:
		return "🟢"
	case ModeratelyTrusted:
		return "🟡"
	case CautionAdvised:
		return "🟠"
	default:
		return "🔴"
	}
}

func (l TrustLevel) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// Signals are the raw measurements behind the components, kept for reply formatting.
type Signals struct {
	AgeDays          int     `json:"age_days"`
	FollowersCount   int     `json:"followers_count"`
	FollowingCount   int     `json:"following_count"`
	FollowerRatio    float64 `json:"follower_ratio"`
	PositiveKeywords int     `json:"positive_keywords"`
	SuspiciousBio    int     `json:"suspicious_bio_keywords"`
	PostsAnalyzed    int     `json:"posts_analyzed"`
	AvgEngagement    float64 `json:"avg_engagement"`
	EngagementRate   float64 `json:"engagement_rate"`
	RelevantPosts    int     `json:"relevant_posts"`
	SuspiciousPosts  int     `json:"suspicious_posts"`
	TrustListed      bool    `json:"trust_listed"`
	TrustConnections int     `json:"trust_connections"`
	ConnectionsKnown bool    `json:"connections_known"`
}

// Round1 rounds to one decimal, the precision scores are displayed with.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Report is the outcome of analyzing one account.
type Report struct {
	UserID      string          `json:"user_id"`
	Username    string          `json:"username"`
	Score       float64         `json:"score"`
	Level       TrustLevel      `json:"level"`
	Components  ScoreComponents `json:"components"`
	Signals     Signals         `json:"signals"`
	GeneratedAt time.Time       `json:"generated_at"`
	// Cached is set when the report was served from the fallback cache.
	Cached bool `json:"cached"`
	// Degraded names the inputs that could not be fetched and scored as empty.
	Degraded []string `json:"degraded,omitempty"`
}
