package reply

import (
	"fmt"
	"strings"

	"github.com/flosch/pongo2/v6"

	"rugguard/internal/model"
	"rugguard/internal/util"
)

const (
	DefaultLimit  = 280
	DefaultMarker = "..."
)

// DefaultTemplate is the analysis reply.
const DefaultTemplate = `RugGuard Analysis Complete 🛡️

Trust Score: {{ score }}/100
Status: {{ emoji }} {{ level }}

📊 Breakdown:
• Account Age: {{ age_days }} days
• Followers: {{ followers }} | Following: {{ following }}
• Bio Quality: {% if bio_ok %}✓{% else %}✗{% endif %}
• Avg Engagement: {{ avg_engagement }}
• Trust List: {% if trust_ok %}✓{% else %}✗{% endif %}{% if cached %}
ℹ️ From cached data{% endif %}

⚠️ Always DYOR before any transactions!
#RugGuard #SolanaEcosystem`

const unverifiedTemplate = `RugGuard 🛡️

Could not verify @{{ username }} right now. Treat this account with caution.

⚠️ Always DYOR before any transactions!
#RugGuard #SolanaEcosystem`

// Formatter renders reports into reply text bounded to the post limit.
type Formatter struct {
	tpl        *pongo2.Template
	unverified *pongo2.Template
	limit      int
	marker     string
}

// NewFormatter compiles tpl (DefaultTemplate when empty).
func NewFormatter(tpl string, limit int, marker string) (*Formatter, error) {
	if strings.TrimSpace(tpl) == "" {
		tpl = DefaultTemplate
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if marker == "" {
		marker = DefaultMarker
	}
	body, err := compile(tpl)
	if err != nil {
		return nil, fmt.Errorf("reply template: %w", err)
	}
	unv, err := compile(unverifiedTemplate)
	if err != nil {
		return nil, fmt.Errorf("unverified template: %w", err)
	}
	return &Formatter{tpl: body, unverified: unv, limit: limit, marker: marker}, nil
}

// replies are plain text; HTML escaping stays off
func compile(tpl string) (*pongo2.Template, error) {
	return pongo2.FromString("{% autoescape off %}" + tpl + "{% endautoescape %}")
}

// Format renders the report and truncates it to the limit.
func (f *Formatter) Format(r model.Report) (string, error) {
	out, err := f.tpl.Execute(pongo2.Context{
		"username":       r.Username,
		"score":          fmt.Sprintf("%.1f", r.Score),
		"level":          strings.ToUpper(r.Level.String()),
		"emoji":          r.Level.Emoji(),
		"age_days":       r.Signals.AgeDays,
		"followers":      r.Signals.FollowersCount,
		"following":      r.Signals.FollowingCount,
		"bio_ok":         r.Components.Bio > 50,
		"avg_engagement": fmt.Sprintf("%.1f", r.Signals.AvgEngagement),
		"trust_ok":       r.Components.TrustList > 0,
		"cached":         r.Cached,
		"components":     r.Components,
	})
	if err != nil {
		return "", fmt.Errorf("render reply: %w", err)
	}
	return f.Truncate(strings.TrimSpace(out)), nil
}

// Unverified is the reply for an account whose data could not be loaded.
func (f *Formatter) Unverified(username string) string {
	out, err := f.unverified.Execute(pongo2.Context{"username": strings.TrimLeft(username, "@")})
	if err != nil {
		return f.Truncate("Could not verify @" + strings.TrimLeft(username, "@") + " right now. Always DYOR!")
	}
	return f.Truncate(strings.TrimSpace(out))
}

// Truncate bounds text to the formatter's limit.
func (f *Formatter) Truncate(text string) string {
	return Truncate(text, f.limit, f.marker)
}

// Truncate shortens text to limit grapheme clusters at a word boundary and appends marker.
// Text within the limit is returned unchanged.
func Truncate(text string, limit int, marker string) string {
	return util.TruncateWords(text, limit, marker)
}
