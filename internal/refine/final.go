package refine

import (
	"context"

	"movesetlab/internal/battlespec"
)

// finalPass plays every pair of current best teams at FinalRounds. Each pair
// is requested once, from the lower roster slot.
func (p *passRun) finalPass(ctx context.Context) error {
	teams := p.teams()
	rounds := p.o.cfg.FinalRounds
	p.o.log.Info().Int("rounds", rounds).Int("species", len(teams)).Msg("final confirmation pass")

	for i := range teams {
		if err := ctx.Err(); err != nil {
			return err
		}
		spec := &battlespec.Spec{}
		if _, err := battlespec.Build(ctx, p.o.store, spec, battlespec.Input{
			Index:         i,
			Team:          teams[i],
			Roster:        teams,
			Rounds:        rounds,
			UpperHalfOnly: true,
		}); err != nil {
			return err
		}
		if err := p.execute(ctx, spec); err != nil {
			return err
		}
	}
	return nil
}
