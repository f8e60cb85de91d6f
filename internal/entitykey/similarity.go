package entitykey

// Similarity returns a score in [0, 1] for how alike two names are, computed
// as 1 - levenshtein/maxLen over the normalized forms of a and b. Two empty
// names are identical; an empty name never matches a non-empty one.
func Similarity(a, b string) float64 {
	ra := []rune(NormalizeName(a))
	rb := []rune(NormalizeName(b))
	if len(ra) == 0 && len(rb) == 0 {
		return 1.0
	}
	if len(ra) == 0 || len(rb) == 0 {
		return 0.0
	}
	longest := max(len(ra), len(rb))
	return 1.0 - float64(levenshteinDistance(ra, rb))/float64(longest)
}

// IsSamePerson reports whether two person names are close enough to be the
// same individual.
func IsSamePerson(a, b string) bool {
	return Similarity(a, b) > PersonMatchThreshold
}

// IsSameOrganization reports whether two organization names are close enough
// to be the same company.
func IsSameOrganization(a, b string) bool {
	return Similarity(a, b) > OrgMatchThreshold
}

// BestMatch returns the index and score of the candidate most similar to name
// whose score is strictly above threshold. The index is -1 when no candidate
// qualifies. Ties keep the earliest candidate.
func BestMatch(name string, candidates []string, threshold float64) (int, float64) {
	best, bestScore := -1, 0.0
	for i, c := range candidates {
		score := Similarity(name, c)
		if score > threshold && score > bestScore {
			best, bestScore = i, score
		}
	}
	return best, bestScore
}

// levenshteinDistance computes the edit distance between two rune slices
// using two rows of the DP table.
func levenshteinDistance(s1, s2 []rune) int {
	if len(s1) == 0 {
		return len(s2)
	}
	if len(s2) == 0 {
		return len(s1)
	}

	prev := make([]int, len(s2)+1)
	curr := make([]int, len(s2)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(s1); i++ {
		curr[0] = i
		for j := 1; j <= len(s2); j++ {
			cost := 0
			if s1[i-1] != s2[j-1] {
				cost = 1
			}
			curr[j] = min(
				curr[j-1]+1,    // insertion
				prev[j]+1,      // deletion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}
	return prev[len(s2)]
}
