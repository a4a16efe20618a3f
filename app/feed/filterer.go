package feed

import (
	"strings"

	"github.com/lysyi3m/aifeed/app/content"
)

// Filterer keeps content mentioning at least one configured keyword.
// An empty keyword list keeps everything.
type Filterer struct {
	keywords []string
}

func NewFilterer(keywords []string) *Filterer {
	cleaned := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			cleaned = append(cleaned, k)
		}
	}
	return &Filterer{keywords: cleaned}
}

// Match reports whether any keyword occurs in any of the given fields, and
// which keyword matched first.
func (f *Filterer) Match(fields ...string) (bool, string) {
	if len(f.keywords) == 0 {
		return true, ""
	}
	for _, keyword := range f.keywords {
		for _, value := range fields {
			if value != "" && content.ContainsFold(value, keyword) {
				return true, keyword
			}
		}
	}
	return false, ""
}
