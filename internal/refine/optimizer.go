// Package refine drives the staged loadout search for every species of a
// generation and persists the results between passes.
package refine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"movesetlab/internal/battlespec"
	"movesetlab/internal/matchstore"
	"movesetlab/internal/model"
	"movesetlab/internal/storage"
	"movesetlab/internal/workerpool"
)

var ErrRosterMismatch = errors.New("saved state does not match the roster")

// SpeciesSource supplies the roster, learnsets and team packing.
type SpeciesSource interface {
	Roster(gen int) ([]model.Species, error)
	LearnableMoves(sp model.Species, gen int) ([]model.MoveID, error)
	PackTeam(sp model.Species, loadout model.Loadout, gen int) (model.PackedTeam, error)
}

// Runner executes a battle spec.
type Runner interface {
	Run(ctx context.Context, spec *battlespec.Spec) ([]model.OutcomeRecord, workerpool.Stats, error)
}

// PassReport summarizes one completed pass.
type PassReport struct {
	Record model.PassRecord
	State  model.GenerationState
}

type Optimizer struct {
	cfg       Config
	source    SpeciesSource
	store     *matchstore.Store
	committer matchstore.Committer
	runner    Runner
	log       zerolog.Logger
	now       func() time.Time

	roster []model.Species
}

func New(cfg Config, source SpeciesSource, store *matchstore.Store, runner Runner, logger zerolog.Logger) (*Optimizer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if source == nil {
		return nil, fmt.Errorf("species source is required")
	}
	if store == nil {
		return nil, fmt.Errorf("match store is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if store.Generation() != cfg.Generation {
		return nil, fmt.Errorf("match store is for generation %d, config for %d", store.Generation(), cfg.Generation)
	}
	return &Optimizer{
		cfg:       cfg,
		source:    source,
		store:     store,
		committer: matchstore.Committer{Store: store},
		runner:    runner,
		log:       logger.With().Int("gen", cfg.Generation).Logger(),
		now:       time.Now,
	}, nil
}

// Init loads the saved state or builds and saves the initial one.
func (o *Optimizer) Init(ctx context.Context) (model.GenerationState, error) {
	roster, learnsets, err := o.prepareRoster()
	if err != nil {
		return model.GenerationState{}, err
	}
	o.roster = roster

	if o.cfg.StatePath != "" {
		state, ok, err := storage.ReadStateFile(o.cfg.StatePath)
		if err != nil {
			return model.GenerationState{}, err
		}
		if ok {
			if err := o.checkRoster(state); err != nil {
				return model.GenerationState{}, err
			}
			o.log.Info().
				Int("passes", state.Passes).
				Int("species", len(state.Species)).
				Str("path", o.cfg.StatePath).
				Msg("resumed saved state")
			return state, nil
		}
	}

	state := storage.NewGenerationState(o.cfg.Generation)
	for i, sp := range roster {
		loadout := initialLoadout(learnsets[i], o.cfg.MaxLoadoutSize)
		team, err := o.source.PackTeam(sp, loadout, o.cfg.Generation)
		if err != nil {
			return model.GenerationState{}, fmt.Errorf("pack %s: %w", sp.Name, err)
		}
		state.Species = append(state.Species, model.SpeciesState{
			Num:        sp.Num,
			Name:       sp.Name,
			Team:       team,
			Loadout:    loadout,
			Learnset:   learnsets[i],
			Alternates: []model.Alternate{},
		})
	}
	if err := o.save(state); err != nil {
		return model.GenerationState{}, err
	}
	o.log.Info().Int("species", len(state.Species)).Msg("initialized state")
	return state, nil
}

func (o *Optimizer) prepareRoster() ([]model.Species, [][]model.MoveID, error) {
	all, err := o.source.Roster(o.cfg.Generation)
	if err != nil {
		return nil, nil, fmt.Errorf("load roster: %w", err)
	}
	roster := make([]model.Species, 0, len(all))
	learnsets := make([][]model.MoveID, 0, len(all))
	for _, sp := range all {
		moves, err := o.source.LearnableMoves(sp, o.cfg.Generation)
		if err != nil {
			o.log.Warn().Err(err).Int("num", sp.Num).Str("species", sp.Name).Msg("skipping species")
			continue
		}
		roster = append(roster, sp)
		learnsets = append(learnsets, moves)
	}
	if len(roster) < 2 {
		return nil, nil, fmt.Errorf("roster for generation %d has %d usable species", o.cfg.Generation, len(roster))
	}
	return roster, learnsets, nil
}

func (o *Optimizer) checkRoster(state model.GenerationState) error {
	if state.Generation != o.cfg.Generation {
		return fmt.Errorf("%w: state is for generation %d", ErrRosterMismatch, state.Generation)
	}
	if len(state.Species) != len(o.roster) {
		return fmt.Errorf("%w: state has %d species, roster has %d", ErrRosterMismatch, len(state.Species), len(o.roster))
	}
	for i, sp := range state.Species {
		if sp.Num != o.roster[i].Num {
			return fmt.Errorf("%w: index %d is species %d, roster has %d", ErrRosterMismatch, i, sp.Num, o.roster[i].Num)
		}
	}
	return nil
}

func initialLoadout(learnset []model.MoveID, size int) model.Loadout {
	if len(learnset) < size {
		size = len(learnset)
	}
	return model.Loadout(append([]model.MoveID(nil), learnset[:size]...))
}

func (o *Optimizer) save(state model.GenerationState) error {
	if o.cfg.StatePath == "" {
		return nil
	}
	return storage.WriteStateFile(o.cfg.StatePath, state)
}

// Run loads state and refines until MaxPasses passes ran or ctx is done.
func (o *Optimizer) Run(ctx context.Context) (model.GenerationState, error) {
	state, err := o.Init(ctx)
	if err != nil {
		return model.GenerationState{}, err
	}
	for done := 0; o.cfg.MaxPasses == 0 || done < o.cfg.MaxPasses; done++ {
		if err := ctx.Err(); err != nil {
			return state, err
		}
		report, err := o.RunPass(ctx, state)
		if err != nil {
			return state, err
		}
		state = report.State
	}
	return state, nil
}

// RunPass refines every species once, covering each right after it is
// refined when enabled, then runs the optional final stage, saves the state
// and records the pass.
func (o *Optimizer) RunPass(ctx context.Context, state model.GenerationState) (PassReport, error) {
	if o.roster == nil {
		return PassReport{}, fmt.Errorf("optimizer is not initialized")
	}
	pass := state.Passes
	started := o.now().UTC()
	p := &passRun{
		o:         o,
		pass:      pass,
		state:     cloneState(state),
		confirmed: make(map[int][]scored),
	}
	o.log.Info().Int("pass", pass).Int("confirm_rounds", o.cfg.confirmRounds(pass)).Msg("pass starting")

	for i := range p.state.Species {
		if err := ctx.Err(); err != nil {
			return PassReport{}, err
		}
		if err := p.refineSpecies(ctx, i); err != nil {
			return PassReport{}, err
		}
		// Cover against the same opponents stage 3 just played, before a
		// later species in this pass replaces its team.
		if o.cfg.Cover {
			if err := p.coverSpecies(ctx, i); err != nil {
				return PassReport{}, err
			}
		}
	}
	if o.cfg.FinalPass {
		if err := p.finalPass(ctx); err != nil {
			return PassReport{}, err
		}
	}

	p.state.Passes = pass + 1
	if err := o.save(p.state); err != nil {
		return PassReport{}, fmt.Errorf("save state: %w", err)
	}
	record := model.PassRecord{
		ID:          uuid.NewString(),
		Generation:  o.cfg.Generation,
		Index:       pass,
		Rounds:      o.cfg.confirmRounds(pass),
		Species:     len(p.state.Species),
		Improved:    p.improved,
		Simulations: p.simulations,
		Dropped:     p.dropped,
		StartedAt:   started.Format(time.RFC3339),
		FinishedAt:  o.now().UTC().Format(time.RFC3339),
	}
	if err := o.store.Backend().SavePass(ctx, record); err != nil {
		return PassReport{}, fmt.Errorf("record pass: %w", err)
	}
	o.log.Info().
		Int("pass", pass).
		Int("improved", p.improved).
		Str("simulations", humanize.Comma(p.simulations)).
		Int64("dropped", p.dropped).
		Msg("pass finished")
	return PassReport{Record: record, State: p.state}, nil
}

func cloneState(state model.GenerationState) model.GenerationState {
	out := state
	out.Species = make([]model.SpeciesState, len(state.Species))
	for i, sp := range state.Species {
		sp.Loadout = sp.Loadout.Clone()
		sp.Learnset = append([]model.MoveID(nil), sp.Learnset...)
		sp.Alternates = append([]model.Alternate{}, sp.Alternates...)
		out.Species[i] = sp
	}
	return out
}
