package cosmetics

import (
	"strings"

	"golang.org/x/text/cases"
)

var fold = cases.Fold()

// NormalizeUsername case-folds a platform username and unifies the
// separator characters the two platforms disagree on, so names compare
// equal across the chat and cosmetics services.
func NormalizeUsername(name string) string {
	folded := fold.String(strings.TrimSpace(name))
	return strings.Map(func(r rune) rune {
		switch r {
		case '-', ' ':
			return '_'
		}
		return r
	}, folded)
}

// placeholderIDs are values upstream uses to mean "no identifier".
var placeholderIDs = map[string]struct{}{
	"":                         {},
	"0":                        {},
	"null":                     {},
	"undefined":                {},
	"000000000000000000000000": {},
}

// usableID reports whether id is a real external identifier rather than a
// null, zero, or placeholder value.
func usableID(id string) bool {
	_, placeholder := placeholderIDs[strings.ToLower(strings.TrimSpace(id))]
	return !placeholder
}
