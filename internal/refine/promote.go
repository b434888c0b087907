package refine

import (
	"sort"

	"movesetlab/internal/model"
)

// scored is a candidate loadout with its packed team and current score.
type scored struct {
	Loadout model.Loadout
	Team    model.PackedTeam
	Score   float64
	// order is the candidate's position in generation order and breaks ties.
	order int
}

// promote keeps candidates scoring at least ratio times the incumbent score,
// best first, at most limit of them. Candidates exactly on the threshold are
// kept.
func promote(cands []scored, incumbentScore, ratio float64, limit int) []scored {
	threshold := incumbentScore * ratio
	out := make([]scored, 0, len(cands))
	for _, c := range cands {
		if c.Score >= threshold {
			out = append(out, c)
		}
	}
	sortScored(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func sortScored(cands []scored) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		return cands[i].order < cands[j].order
	})
}

// keepTop trims a running list to the best limit entries.
func keepTop(cands []scored, limit int) []scored {
	sortScored(cands)
	if limit > 0 && len(cands) > limit {
		return cands[:limit]
	}
	return cands
}
