package refine

import (
	"context"
	"fmt"
	"math"

	"github.com/dustin/go-humanize"

	"movesetlab/internal/battlespec"
	"movesetlab/internal/candidates"
	"movesetlab/internal/model"
)

// passRun carries the mutable state of one pass. Species improved earlier in
// the pass are already used as opponents by later species.
type passRun struct {
	o     *Optimizer
	pass  int
	state model.GenerationState

	// confirmed holds each species' final-stage candidates for the cover stage.
	confirmed map[int][]scored

	improved    int
	simulations int64
	dropped     int64
}

func (p *passRun) teams() []model.PackedTeam {
	return p.state.Teams()
}

// execute runs spec and folds the outcomes into the store.
func (p *passRun) execute(ctx context.Context, spec *battlespec.Spec) error {
	if spec.Empty() {
		return nil
	}
	outcomes, stats, err := p.o.runner.Run(ctx, spec)
	if err != nil {
		return fmt.Errorf("run %d simulations: %w", spec.Len(), err)
	}
	summary, err := p.o.committer.Commit(ctx, spec, outcomes)
	if err != nil {
		return err
	}
	p.simulations += int64(summary.Committed)
	p.dropped += int64(stats.Dropped + summary.Discarded)

	if limit := p.o.cfg.CacheLimit; limit > 0 && p.o.store.CacheSize() > limit {
		p.o.store.InvalidateCache()
	}
	return nil
}

// opponentIDs interns the roster teams at the given indexes, skipping self.
func (p *passRun) opponentIDs(ctx context.Context, self int, indexes []int) ([]model.TeamID, error) {
	teams := p.teams()
	ids := make([]model.TeamID, 0, len(indexes))
	for _, j := range indexes {
		if j == self {
			continue
		}
		id, err := p.o.store.InternTeam(ctx, teams[j])
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (p *passRun) score(ctx context.Context, team model.PackedTeam, opponents []model.TeamID) (float64, int, error) {
	id, err := p.o.store.InternTeam(ctx, team)
	if err != nil {
		return 0, 0, err
	}
	return p.o.store.TotalScore(ctx, id, opponents)
}

// evaluate brings every candidate to rounds against the opponents and scores
// them. Opponents nil means the full roster.
func (p *passRun) evaluate(ctx context.Context, self int, cands []scored, opponents []int, rounds int) error {
	teams := p.teams()
	spec := &battlespec.Spec{}
	for _, c := range cands {
		if _, err := battlespec.Build(ctx, p.o.store, spec, battlespec.Input{
			Index:     self,
			Team:      c.Team,
			Roster:    teams,
			Opponents: opponents,
			Rounds:    rounds,
		}); err != nil {
			return err
		}
	}
	if err := p.execute(ctx, spec); err != nil {
		return err
	}

	indexes := opponents
	if indexes == nil {
		indexes = allIndexes(len(teams))
	}
	ids, err := p.opponentIDs(ctx, self, indexes)
	if err != nil {
		return err
	}
	for i := range cands {
		total, _, err := p.score(ctx, cands[i].Team, ids)
		if err != nil {
			return err
		}
		cands[i].Score = total
	}
	return nil
}

func allIndexes(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// broadOpponents is every SubsampleStride-th roster slot, rotating with the
// pass so successive passes sample different opponents.
func (p *passRun) broadOpponents(self int) []int {
	n := len(p.state.Species)
	stride := p.o.cfg.SubsampleStride
	out := make([]int, 0, n/stride+1)
	for j := p.pass % stride; j < n; j += stride {
		if j != self {
			out = append(out, j)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (p *passRun) refineSpecies(ctx context.Context, i int) error {
	cfg := p.o.cfg
	sp := p.state.Species[i]
	roster := p.o.roster[i]
	log := p.o.log.With().Int("num", sp.Num).Str("species", sp.Name).Logger()
	before := p.simulations

	incumbent := scored{Loadout: sp.Loadout.Clone(), Team: sp.Team, order: -1}

	// Stage 1: every candidate against a sample of the roster.
	broad := p.broadOpponents(i)
		var promoted []scored
	incumbentBroad := math.NaN()
	order := 0
	err := candidates.Batches(sp.Learnset, cfg.MaxLoadoutSize, cfg.BatchCandidates, func(batch []model.Loadout) error {
		cands := make([]scored, 0, len(batch)+1)
		if math.IsNaN(incumbentBroad) {
			cands = append(cands, incumbent)
		}
		for _, l := range batch {
			order++
			if l.Equal(incumbent.Loadout) {
				continue
			}
			team, err := p.o.source.PackTeam(roster, l, cfg.Generation)
			if err != nil {
				return fmt.Errorf("pack %s %s: %w", sp.Name, l, err)
			}
			cands = append(cands, scored{Loadout: l, Team: team, order: order})
		}
		if err := p.evaluate(ctx, i, cands, broad, cfg.BroadRounds); err != nil {
			return err
		}
		if math.IsNaN(incumbentBroad) {
			incumbentBroad = cands[0].Score
			cands = cands[1:]
		}
		promoted = promote(append(promoted, cands...), incumbentBroad, cfg.PromoteRatio, cfg.PromoteLimit)
		return nil
	})
	if err != nil {
		return err
	}

	// Stage 2: promoted candidates against the full roster.
	stage2 := append([]scored{incumbent}, promoted...)
	if err := p.evaluate(ctx, i, stage2, nil, cfg.PromoteRounds); err != nil {
		return err
	}
	confirmed := promote(stage2[1:], stage2[0].Score, cfg.ConfirmRatio, cfg.ConfirmLimit)

	// Stage 3: the short list at high round counts.
	stage3 := append([]scored{incumbent}, confirmed...)
	if err := p.evaluate(ctx, i, stage3, nil, cfg.confirmRounds(p.pass)); err != nil {
		return err
	}
	incumbentScore := stage3[0].Score
	finalists := keepTop(append([]scored(nil), stage3[1:]...), 0)
	p.confirmed[i] = append([]scored{stage3[0]}, finalists...)

	best := stage3[0]
	for _, c := range finalists {
		if c.Score > best.Score && !c.Loadout.Equal(incumbent.Loadout) {
			best = c
		}
	}

	opponents := float64(2 * (len(p.state.Species) - 1))
	event := log.Info().
		Str("simulations", humanize.Comma(p.simulations-before)).
		Str("before", percent(incumbentScore, opponents))
	if best.order != incumbent.order {
		p.state.Species[i].Loadout = best.Loadout.Clone()
		p.state.Species[i].Team = best.Team
		p.improved++
		event.Str("after", percent(best.Score, opponents)).
			Str("from", incumbent.Loadout.String()).
			Str("to", best.Loadout.String()).
			Msg("improved loadout")
		return nil
	}
	event.Str("loadout", incumbent.Loadout.String()).Msg("kept loadout")
	return nil
}

func percent(score, ceiling float64) string {
	if ceiling <= 0 {
		return "0%"
	}
	return fmt.Sprintf("%d%%", int(score/ceiling*100))
}
