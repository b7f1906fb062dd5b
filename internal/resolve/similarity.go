package resolve

import "github.com/sells-group/context-graph/internal/model"

// DefaultThreshold is the minimum name similarity at which two records are
// treated as the same entity.
const DefaultThreshold = 0.78

// scoreEpsilon absorbs float rounding in d/n scores so a score that is
// exactly the threshold compares as equal to it. Distinct scores for names
// of realistic length differ by far more than this.
const scoreEpsilon = 1e-9

// Levenshtein returns the edit distance between a and b, counted in runes.
func Levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// Similarity scores two names in [0,1] on their normalized forms: 1 when the
// normalized names are identical, otherwise 1 - distance/max(len). Blank
// names score 0.
func Similarity(a, b string) float64 {
	na, nb := NormalizeName(a), NormalizeName(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}

	longest := max(len([]rune(na)), len([]rune(nb)))
	return 1 - float64(Levenshtein(na, nb))/float64(longest)
}

// profileDomain returns the normalized domain of p, falling back to its
// website.
func profileDomain(p model.CompetitorProfile) string {
	if d := NormalizeDomain(p.Domain); d != "" {
		return d
	}
	return NormalizeDomain(p.Website)
}

// AreDuplicates reports whether two profiles describe the same entity: their
// names are at least threshold similar, or their normalized domains are
// non-empty and equal. A domain match wins regardless of name similarity.
// A non-positive threshold means DefaultThreshold.
func AreDuplicates(a, b model.CompetitorProfile, threshold float64) bool {
	ok, _ := matchScore(a, b, threshold)
	return ok
}

// matchScore is AreDuplicates plus the observed score (1 for a domain match).
func matchScore(a, b model.CompetitorProfile, threshold float64) (bool, float64) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if da, db := profileDomain(a), profileDomain(b); da != "" && da == db {
		return true, 1
	}
	score := Similarity(a.Name, b.Name)
	return score+scoreEpsilon >= threshold, score
}
