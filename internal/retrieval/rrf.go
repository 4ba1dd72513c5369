package retrieval

import (
	"sort"

	"github.com/govquery/explorer/internal/models"
)

// DefaultRRFK is the Reciprocal Rank Fusion constant. It is a tuned value kept configurable.
const DefaultRRFK = 60

// Fused is a proposal with its fused score. BestRank is its lowest zero-based rank in any input list.
type Fused struct {
	Proposal models.Proposal
	Score    float64
	BestRank int
}

// FuseRRF merges ranked lists by Reciprocal Rank Fusion: a document at zero-based rank r in a list
// contributes 1/(k+r+1), summed over lists. Each id appears once in the output, ordered by score
// descending, then best rank, then id. A repeated id within one list counts at its first rank.
func FuseRRF(k int, lists ...[]models.RankedProposal) []Fused {
	if k <= 0 {
		k = DefaultRRFK
	}

	merged := make(map[string]*Fused)
	order := make([]string, 0)

	for _, list := range lists {
		seen := make(map[string]bool, len(list))

		for rank, rp := range list {
			if seen[rp.ID] {
				continue
			}

			seen[rp.ID] = true
			contribution := 1.0 / float64(k+rank+1)

			if existing, ok := merged[rp.ID]; ok {
				existing.Score += contribution
				if rank < existing.BestRank {
					existing.BestRank = rank
				}

				continue
			}

			merged[rp.ID] = &Fused{Proposal: rp.Proposal, Score: contribution, BestRank: rank}
			order = append(order, rp.ID)
		}
	}

	out := make([]Fused, 0, len(order))
	for _, id := range order {
		out = append(out, *merged[id])
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}

		if out[i].BestRank != out[j].BestRank {
			return out[i].BestRank < out[j].BestRank
		}

		return out[i].Proposal.ID < out[j].Proposal.ID
	})

	return out
}
