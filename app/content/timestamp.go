package content

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// Published is a source timestamp. Time is set only when Raw could be parsed.
type Published struct {
	Time time.Time
	Raw  string
}

// ParsePublished parses raw in any of the formats sources emit. The boolean
// is false when raw is kept verbatim as a fallback.
func ParsePublished(raw string) (Published, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Published{}, false
	}
	t, err := dateparse.ParseIn(raw, time.UTC)
	if err != nil {
		return Published{Raw: raw}, false
	}
	return Published{Time: t.UTC(), Raw: raw}, true
}

// PublishedFromTime wraps an already-parsed timestamp.
func PublishedFromTime(t *time.Time) Published {
	if t == nil {
		return Published{}
	}
	return Published{Time: t.UTC(), Raw: t.UTC().Format(time.RFC3339)}
}

// String renders the ISO-8601 form when parsed and the raw text otherwise.
func (p Published) String() string {
	if !p.Time.IsZero() {
		return p.Time.Format(time.RFC3339)
	}
	return p.Raw
}
