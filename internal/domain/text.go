package domain

import "strings"

var quoteFolder = strings.NewReplacer(
	"‘", "'",
	"’", "'",
	"“", `"`,
	"”", `"`,
)

// FoldText lower-cases text and folds typographic quotes so phrase lists
// written with ASCII apostrophes still match.
func FoldText(s string) string {
	return strings.ToLower(quoteFolder.Replace(s))
}
