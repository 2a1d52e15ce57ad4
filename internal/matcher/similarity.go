package matcher

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"

	"golang-payment-matcher/internal/extractor"
)

const (
	// minPrefixLen is the shortest token allowed to match another token by prefix
	minPrefixLen = 3
	// prefixMatchWeight is what a prefix pairing counts for; exact pairings count 1
	prefixMatchWeight = 0.5
)

// NameSimilarity scores two names from 0 to 100 with two decimals.
//
// Both names are normalised first. The score is the larger of the edit
// distance ratio of the token-sorted names and the Dice overlap of their
// tokens. A token of at least three letters that is a prefix of another token
// pairs with it at half weight, so "ade" alone does not pass for
// "adebayo johnson". The result does not depend on argument order.
func NameSimilarity(a, b string) float64 {
	ta, tb := tokens(a), tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	sa, sb := sortedJoin(ta), sortedJoin(tb)
	if sa == sb {
		return 100
	}

	ratio := editRatio(sa, sb)
	overlap := diceOverlap(ta, tb)
	return round2(math.Max(ratio, overlap) * 100)
}

func tokens(name string) []string {
	return strings.FieldsFunc(extractor.NormalizeName(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func sortedJoin(toks []string) string {
	sorted := append([]string(nil), toks...)
	sort.Strings(sorted)
	return strings.Join(sorted, " ")
}

func editRatio(a, b string) float64 {
	longest := len([]rune(a))
	if n := len([]rune(b)); n > longest {
		longest = n
	}
	if longest == 0 {
		return 0
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

func diceOverlap(a, b []string) float64 {
	matched := matchWeight(a, b)
	if other := matchWeight(b, a); other > matched {
		matched = other
	}
	return 2 * matched / float64(len(a)+len(b))
}

// matchWeight pairs each token of a with at most one unused token of b,
// exact pairings first, then prefix pairings
func matchWeight(a, b []string) float64 {
	used := make([]bool, len(b))
	paired := make([]bool, len(a))
	weight := 0.0
	pair := func(match func(x, y string) bool, w float64) {
		for i, x := range a {
			if paired[i] {
				continue
			}
			for j, y := range b {
				if used[j] || !match(x, y) {
					continue
				}
				used[j], paired[i] = true, true
				weight += w
				break
			}
		}
	}
	pair(func(x, y string) bool { return x == y }, 1)
	pair(prefixMatch, prefixMatchWeight)
	return weight
}

func prefixMatch(x, y string) bool {
	if len(x) >= minPrefixLen && strings.HasPrefix(y, x) {
		return true
	}
	return len(y) >= minPrefixLen && strings.HasPrefix(x, y)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
