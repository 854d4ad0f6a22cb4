package resolver

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const stemRunes = 5

var stopwords = toSet(
	// es
	"a", "al", "ante", "bajo", "con", "de", "del", "desde", "el", "en", "entre", "hasta", "la",
	"las", "lo", "los", "o", "para", "por", "segun", "sin", "sobre", "tras", "u", "un", "una",
	"unos", "unas", "y", "e", "mediante", "incluso", "tipo", "p/p", "formado", "realizado",
	// en
	"an", "and", "for", "from", "in", "of", "on", "or", "the", "to", "with",
)

func toSet(words ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		out[w] = struct{}{}
	}
	return out
}

// Fold lowercases s and strips combining accents.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// Keywords returns the salient stems of s in first-seen order.
func Keywords(s string) []string {
	words := strings.FieldsFunc(Fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := map[string]struct{}{}
	out := make([]string, 0, len(words))
	for _, w := range words {
		if _, stop := stopwords[w]; stop {
			continue
		}
		r := []rune(w)
		if len(r) < 3 || isNumber(r) {
			continue
		}
		if len(r) > stemRunes {
			r = r[:stemRunes]
		}
		stem := string(r)
		if _, dup := seen[stem]; dup {
			continue
		}
		seen[stem] = struct{}{}
		out = append(out, stem)
	}
	return out
}

// Overlap counts the stems a and b share.
func Overlap(a, b string) int {
	ka := Keywords(a)
	if len(ka) == 0 {
		return 0
	}
	kb := toSet(Keywords(b)...)
	n := 0
	for _, k := range ka {
		if _, ok := kb[k]; ok {
			n++
		}
	}
	return n
}

func isNumber(r []rune) bool {
	for _, c := range r {
		if !unicode.IsDigit(c) {
			return false
		}
	}
	return true
}
