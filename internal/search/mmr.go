package search

// mmrCandidate is one diversification candidate: its relevance (fused or
// BM25 score, normalized by the caller if desired) plus the hooks the
// similarity function needs.
type mmrCandidate struct {
	ChunkID   string
	Relevance float64
	// OrigRank is the candidate's position in the base ordering, the
	// first-level tie-break.
	OrigRank int
}

// MMRSelect greedily picks up to k candidates maximizing
//
//	lambda·relevance − (1−lambda)·max_similarity_to_selected
//
// With lambda=1 this degenerates to the relevance ordering; with lambda=0
// each pick is the candidate least similar to everything already chosen.
// Score ties break by original relevance rank, then chunk id
// lexicographically, so the selection is fully deterministic.
//
// The returned slice holds the selected candidates in pick order followed
// by the unselected remainder in original order.
func MMRSelect(cands []mmrCandidate, lambda float64, k int, sim func(a, b string) float64) []mmrCandidate {
	if k <= 0 || len(cands) == 0 {
		return cands
	}
	if k > len(cands) {
		k = len(cands)
	}

	selected := make([]mmrCandidate, 0, k)
	remaining := append([]mmrCandidate(nil), cands...)

	for len(selected) < k && len(remaining) > 0 {
		bestIdx := -1
		bestScore := 0.0
		for i, c := range remaining {
			maxSim := 0.0
			for _, s := range selected {
				if v := sim(c.ChunkID, s.ChunkID); v > maxSim {
					maxSim = v
				}
			}
			score := lambda*c.Relevance - (1-lambda)*maxSim
			if bestIdx == -1 || better(score, c, bestScore, remaining[bestIdx]) {
				bestIdx = i
				bestScore = score
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	return append(selected, remaining...)
}

// better reports whether (score, c) beats the incumbent (bestScore, best)
// under the MMR tie-break rules.
func better(score float64, c mmrCandidate, bestScore float64, best mmrCandidate) bool {
	if score != bestScore {
		return score > bestScore
	}
	if c.OrigRank != best.OrigRank {
		return c.OrigRank < best.OrigRank
	}
	return c.ChunkID < best.ChunkID
}
