package resolution

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

// normalizeName folds case, punctuation and whitespace so cosmetic
// differences ("USD Coin" vs "usd-coin") do not affect matching.
func normalizeName(s string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// similarity returns an edit-distance ratio in [0.0, 1.0] between two coin
// names after normalization. 1.0 means identical.
func similarity(a, b string) float64 {
	na, nb := normalizeName(a), normalizeName(b)
	if na == nb {
		return 1.0
	}
	longest := len(na)
	if len(nb) > longest {
		longest = len(nb)
	}
	if longest == 0 {
		return 0.0
	}
	dist := levenshtein.ComputeDistance(na, nb)
	return 1.0 - float64(dist)/float64(longest)
}

// slugify derives a canonical_id from a coin name: "USD Coin" -> "usd-coin".
func slugify(name string) string {
	return strings.ReplaceAll(normalizeName(name), " ", "-")
}
