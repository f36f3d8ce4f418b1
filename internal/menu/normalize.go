package menu

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize lower-cases text, folds accents and trims surrounding space and
// punctuation, so "NÃO", "Não." and "nao" compare equal.
func Normalize(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, text)
	if err != nil {
		folded = text
	}
	return strings.TrimFunc(strings.ToLower(folded), func(r rune) bool {
		return unicode.IsSpace(r) || r == '.' || r == '!' || r == '*'
	})
}

// Yes/no and navigation keywords, already normalized.
var (
	yesWords  = map[string]bool{"sim": true, "yes": true, "s": true}
	noWords   = map[string]bool{"nao": true, "no": true, "n": true}
	backWords = map[string]bool{"voltar": true, "back": true, "menu": true}
)

func IsYes(text string) bool  { return yesWords[Normalize(text)] }
func IsNo(text string) bool   { return noWords[Normalize(text)] }
func IsBack(text string) bool { return backWords[Normalize(text)] }

// IsControlToken reports the short answers that legitimately repeat and must
// bypass the duplicate-text filter.
func IsControlToken(text string) bool {
	t := Normalize(text)
	switch t {
	case "1", "2", "3", "4", "5", "6":
		return true
	}
	return yesWords[t] || noWords[t] || backWords[t]
}
