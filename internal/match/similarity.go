package match

import "strings"

// TokenSetSimilarity computes Jaccard similarity on the word sets of two
// normalized names. Word order and duplicates don't matter, so
// "JANE A DOE" vs "DOE JANE" scores high while unrelated names score near 0.
func TokenSetSimilarity(a, b string) float64 {
	wordsA := wordSet(a)
	wordsB := wordSet(b)

	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0
	}

	intersection := 0
	for w := range wordsA {
		if wordsB[w] {
			intersection++
		}
	}

	union := len(wordsA)
	for w := range wordsB {
		if !wordsA[w] {
			union++
		}
	}

	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func wordSet(s string) map[string]bool {
	words := strings.Fields(s)
	set := make(map[string]bool, len(words))
	for _, w := range words {
		if len(w) == 1 {
			// Middle initials corroborate weakly; a missing initial should
			// not drag the score down.
			continue
		}
		set[w] = true
	}
	if len(set) == 0 {
		// Single-initial degenerate case: fall back to raw tokens.
		for _, w := range words {
			set[w] = true
		}
	}
	return set
}
