package refine

import (
	"context"
	"math"

	"movesetlab/internal/cover"
	"movesetlab/internal/model"
)

// coverSpecies picks a short list of loadouts from the species' confirmed
// candidates and records, per opponent, the one to prefer over the main
// loadout.
func (p *passRun) coverSpecies(ctx context.Context, i int) error {
	sp := &p.state.Species[i]
	pool := p.confirmed[i]
	if len(pool) < 2 {
		sp.Alternates = []model.Alternate{}
		return nil
	}

	// The current loadout goes first so it is the default per opponent.
	ordered := make([]scored, 0, len(pool))
	for _, c := range pool {
		if c.Loadout.Equal(sp.Loadout) {
			ordered = append([]scored{c}, ordered...)
			continue
		}
		ordered = append(ordered, c)
	}

	teams := p.teams()
	ids, err := p.o.store.InternTeams(ctx, teams)
	if err != nil {
		return err
	}
	cands := make([]cover.Candidate, len(ordered))
	for k, c := range ordered {
		id, err := p.o.store.InternTeam(ctx, c.Team)
		if err != nil {
			return err
		}
		vector, err := p.o.store.ScoreVector(ctx, id, ids)
		if err != nil {
			return err
		}
		vector[i] = math.NaN()
		cands[k] = cover.Candidate{Scores: vector, Moves: c.Loadout}
	}

	sel := cover.Select(cands, p.o.cfg.CoverOptions)
	picks := cover.Alternates(sel, cands, len(teams))

	alternates := []model.Alternate{}
	for j, k := range picks {
		if j == i || k < 0 {
			continue
		}
		if ordered[k].Loadout.Equal(sp.Loadout) {
			continue
		}
		// ordered[0] is the current loadout; an alternate must beat it there.
		current := cands[0].Scores[j]
		if math.IsNaN(current) {
			current = 0
		}
		if !(cands[k].Scores[j] > current) {
			continue
		}
		alternates = append(alternates, model.Alternate{
			Opponent: p.state.Species[j].Num,
			Loadout:  ordered[k].Loadout.Clone(),
		})
	}
	sp.Alternates = alternates
	p.o.log.Debug().
		Int("num", sp.Num).
		Int("selected", len(sel.Indices)).
		Int("alternates", len(alternates)).
		Msg("cover selection")
	return nil
}
