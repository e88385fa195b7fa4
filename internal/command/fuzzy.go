package command

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// wakeMatcher recognises near-misses of the wake phrase, such as "hay bibel".
//
// The text is split into word windows as long as the wake phrase. Each window
// is reduced to its Double Metaphone primary codes and compared with the
// wake phrase's codes using Jaro-Winkler similarity.
type wakeMatcher struct {
	threshold float64
	words     int
	codes     string
}

func newWakeMatcher(wake string, threshold float64) *wakeMatcher {
	tokens := tokenize(wake)
	return &wakeMatcher{
		threshold: threshold,
		words:     len(tokens),
		codes:     phoneticKey(tokens),
	}
}

func (m *wakeMatcher) match(text string) bool {
	if m.words == 0 || m.codes == "" {
		return false
	}
	tokens := tokenize(text)
	for i := 0; i+m.words <= len(tokens); i++ {
		key := phoneticKey(tokens[i : i+m.words])
		if key == "" {
			continue
		}
		if matchr.JaroWinkler(key, m.codes, false) >= m.threshold {
			return true
		}
	}
	return false
}

// tokenize splits s into lower-case words, dropping punctuation.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// phoneticKey joins the primary Double Metaphone codes of tokens.
func phoneticKey(tokens []string) string {
	codes := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if p, _ := matchr.DoubleMetaphone(t); p != "" {
			codes = append(codes, p)
		}
	}
	return strings.Join(codes, " ")
}
