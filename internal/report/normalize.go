package report

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize uppercases with Turkish casing rules and strips combining marks,
// so İ, ı, Ş, Ğ, Ü, Ö and Ç compare as their plain ASCII letters.
func Normalize(text string) string {
	upper := cases.Upper(language.Turkish).String(text)
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, upper)
	if err != nil {
		return upper
	}
	return folded
}

// words splits normalized text into letter/digit runs.
func words(normalized string) []string {
	return strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
