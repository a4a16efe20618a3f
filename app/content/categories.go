package content

import "strings"

const Uncategorized = "Uncategorized"

var Categories = []string{
	"Research",
	"Applications",
	"Business",
	"Ethics",
	"Policy",
	"Tools",
	"Tutorials",
	"Hardware",
	"Theory",
	"Community",
}

// CanonicalCategory returns the vocabulary spelling of name, matched
// case-insensitively.
func CanonicalCategory(name string) (string, bool) {
	name = strings.TrimSpace(name)
	for _, c := range Categories {
		if strings.EqualFold(c, name) {
			return c, true
		}
	}
	return "", false
}
