// Package movesetlab is the embeddable entry point: it wires the species
// database, simulator workers, match store and optimizer behind one client.
package movesetlab

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"movesetlab/internal/dex"
	"movesetlab/internal/matchstore"
	"movesetlab/internal/model"
	"movesetlab/internal/refine"
	"movesetlab/internal/sim"
	"movesetlab/internal/stats"
	"movesetlab/internal/storage"
	"movesetlab/internal/workerpool"
)

const (
	defaultDBPath     = "movesetlab.db"
	defaultStateDir   = "state"
	defaultExportsDir = "exports"
	defaultDexPath    = "data/dex.json"
	defaultWorkers    = 4
)

var (
	ErrNoState        = errors.New("no saved state for generation")
	ErrUnknownSpecies = errors.New("species is not in the roster")
)

// SpeciesSource supplies rosters, learnsets and packed teams.
type SpeciesSource = refine.SpeciesSource

type Options struct {
	StoreKind  string
	DBPath     string
	StateDir   string
	ExportsDir string
	// CompressState stores snapshots as zstd-compressed .json.zst files.
	CompressState bool

	DexPath string
	// Source overrides the species database loaded from DexPath.
	Source SpeciesSource

	SimCommand string
	SimArgs    []string
	// Simulator overrides the external simulator process.
	Simulator sim.Factory
	Workers   int

	Logger *zerolog.Logger
}

type Client struct {
	store storage.Store
	log   zerolog.Logger
	opts  Options

	mu     sync.Mutex
	inited bool
	source SpeciesSource
}

type OptimizeRequest struct {
	Generation int
	// Passes to run. Zero runs until ctx is cancelled.
	Passes int

	BroadRounds     int
	PromoteRounds   int
	ConfirmRounds   int
	RoundStep       *int
	SubsampleStride int
	Workers         int
	Cover           bool
	FinalPass       bool
	FinalRounds     int
	CacheLimit      int
}

type OptimizeSummary struct {
	Generation  int
	Passes      int
	Improved    int
	Simulations int64
	Dropped     int64
	StatePath   string
}

type MatchupSummary = stats.MatchupSummary

func New(opts Options) (*Client, error) {
	if opts.StoreKind == "" {
		opts.StoreKind = storage.DefaultStoreKind()
	}
	if opts.DBPath == "" {
		opts.DBPath = defaultDBPath
	}
	if opts.StateDir == "" {
		opts.StateDir = defaultStateDir
	}
	if opts.ExportsDir == "" {
		opts.ExportsDir = defaultExportsDir
	}
	if opts.DexPath == "" {
		opts.DexPath = defaultDexPath
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}

	store, err := storage.NewStore(opts.StoreKind, opts.DBPath)
	if err != nil {
		return nil, err
	}

	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	return &Client{
		store:  store,
		log:    log,
		opts:   opts,
		source: opts.Source,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

// StatePath is where the snapshot for gen lives.
func (c *Client) StatePath(gen int) string {
	name := fmt.Sprintf("gen%d.json", gen)
	if c.opts.CompressState {
		name += ".zst"
	}
	return filepath.Join(c.opts.StateDir, name)
}

func (c *Client) ensureStore(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inited {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	c.inited = true
	return nil
}

func (c *Client) speciesSource() (SpeciesSource, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.source != nil {
		return c.source, nil
	}
	d, err := dex.Load(c.opts.DexPath)
	if err != nil {
		return nil, err
	}
	c.source = d
	return d, nil
}

// matchStore returns a new cache over the backend for gen. Each call gets its
// own, so reads always see what another process committed since.
func (c *Client) matchStore(ctx context.Context, gen int) (*matchstore.Store, error) {
	if gen <= 0 {
		return nil, fmt.Errorf("generation must be > 0")
	}
	if err := c.ensureStore(ctx); err != nil {
		return nil, err
	}
	return matchstore.New(c.store, gen), nil
}

func (c *Client) simulatorFactory(gen int) (sim.Factory, error) {
	if c.opts.Simulator != nil {
		return c.opts.Simulator, nil
	}
	if c.opts.SimCommand == "" {
		return nil, fmt.Errorf("simulator command is required")
	}
	return sim.ProcessFactory(sim.ProcessConfig{
		Command: c.opts.SimCommand,
		Args:    c.opts.SimArgs,
		Format:  fmt.Sprintf("gen%dcustomgame", gen),
	}), nil
}

func (c *Client) optimizer(ctx context.Context, cfg refine.Config, workers int) (*refine.Optimizer, *workerpool.Executor, error) {
	source, err := c.speciesSource()
	if err != nil {
		return nil, nil, err
	}
	store, err := c.matchStore(ctx, cfg.Generation)
	if err != nil {
		return nil, nil, err
	}
	factory, err := c.simulatorFactory(cfg.Generation)
	if err != nil {
		return nil, nil, err
	}
	if workers <= 0 {
		workers = c.opts.Workers
	}
	exec, err := workerpool.New(workerpool.Config{
		Workers: workers,
		Factory: factory,
		Logger:  c.log,
	})
	if err != nil {
		return nil, nil, err
	}
	opt, err := refine.New(cfg, source, store, exec, c.log)
	if err != nil {
		_ = exec.Close()
		return nil, nil, err
	}
	return opt, exec, nil
}

// Init builds or resumes the state for gen without simulating anything.
func (c *Client) Init(ctx context.Context, gen int) (model.GenerationState, error) {
	cfg := refine.DefaultConfig(gen)
	cfg.StatePath = c.StatePath(gen)
	opt, exec, err := c.optimizer(ctx, cfg, 1)
	if err != nil {
		return model.GenerationState{}, err
	}
	defer exec.Close()
	return opt.Init(ctx)
}

func (c *Client) Optimize(ctx context.Context, req OptimizeRequest) (OptimizeSummary, error) {
	cfg := refine.DefaultConfig(req.Generation)
	cfg.StatePath = c.StatePath(req.Generation)
	cfg.MaxPasses = req.Passes
	cfg.Cover = req.Cover
	cfg.FinalPass = req.FinalPass
	cfg.CacheLimit = req.CacheLimit
	if req.BroadRounds > 0 {
		cfg.BroadRounds = req.BroadRounds
	}
	if req.PromoteRounds > 0 {
		cfg.PromoteRounds = req.PromoteRounds
	}
	if req.ConfirmRounds > 0 {
		cfg.ConfirmRounds = req.ConfirmRounds
	}
	if req.RoundStep != nil {
		cfg.RoundStep = *req.RoundStep
	}
	if req.SubsampleStride > 0 {
		cfg.SubsampleStride = req.SubsampleStride
	}
	if req.FinalRounds > 0 {
		cfg.FinalRounds = req.FinalRounds
	}

	if c.opts.StoreKind == "memory" {
		c.log.Warn().Str("state_path", cfg.StatePath).
			Msg("memory store in use, results are not durable and will not match the saved state on the next run")
	}

	opt, exec, err := c.optimizer(ctx, cfg, req.Workers)
	if err != nil {
		return OptimizeSummary{}, err
	}
	defer exec.Close()

	state, err := opt.Init(ctx)
	if err != nil {
		return OptimizeSummary{}, err
	}
	summary := OptimizeSummary{Generation: req.Generation, StatePath: cfg.StatePath}
	for cfg.MaxPasses == 0 || summary.Passes < cfg.MaxPasses {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		report, err := opt.RunPass(ctx, state)
		if err != nil {
			return summary, err
		}
		state = report.State
		summary.Passes++
		summary.Improved += report.Record.Improved
		summary.Simulations += report.Record.Simulations
		summary.Dropped += report.Record.Dropped
	}
	return summary, nil
}

// State reads the saved snapshot for gen.
func (c *Client) State(_ context.Context, gen int) (model.GenerationState, error) {
	state, ok, err := storage.ReadStateFile(c.StatePath(gen))
	if err != nil {
		return model.GenerationState{}, err
	}
	if !ok {
		return model.GenerationState{}, fmt.Errorf("%w %d", ErrNoState, gen)
	}
	return state, nil
}

// Passes lists recorded passes for gen, newest first.
func (c *Client) Passes(ctx context.Context, gen, limit int) ([]model.PassRecord, error) {
	if err := c.ensureStore(ctx); err != nil {
		return nil, err
	}
	return c.store.ListPasses(ctx, gen, limit)
}

// Matchup reports the accumulated results between the current best teams of
// species a and b.
func (c *Client) Matchup(ctx context.Context, gen, a, b int) (MatchupSummary, error) {
	state, err := c.State(ctx, gen)
	if err != nil {
		return MatchupSummary{}, err
	}
	ia, ib := state.IndexOf(a), state.IndexOf(b)
	if ia < 0 || ib < 0 {
		return MatchupSummary{}, fmt.Errorf("%w: %d or %d in generation %d", ErrUnknownSpecies, a, b, gen)
	}
	store, err := c.matchStore(ctx, gen)
	if err != nil {
		return MatchupSummary{}, err
	}
	out := MatchupSummary{Generation: gen, A: state.Species[ia], B: state.Species[ib]}
	out.Row = stats.MatchupRow{A: a, B: b}

	ida, okA, err := store.LookupTeam(ctx, state.Species[ia].Team)
	if err != nil {
		return MatchupSummary{}, err
	}
	idb, okB, err := store.LookupTeam(ctx, state.Species[ib].Team)
	if err != nil {
		return MatchupSummary{}, err
	}
	if !okA || !okB {
		// never played, so nothing to report
		return out, nil
	}
	if r, ok, err := store.GetResult(ctx, ida, idb); err != nil {
		return MatchupSummary{}, err
	} else if ok {
		out.Forward = r
		out.Row.Win += r.Win
		out.Row.Loss += r.Loss
		out.Row.Tie += r.Tie
	}
	if r, ok, err := store.GetResult(ctx, idb, ida); err != nil {
		return MatchupSummary{}, err
	} else if ok {
		out.Reverse = r
		out.Row.Win += r.Loss
		out.Row.Loss += r.Win
		out.Row.Tie += r.Tie
	}
	if played := out.Row.Played(); played > 0 {
		out.Score = float64(2*out.Row.Win+out.Row.Tie) / float64(played)
		out.Defined = true
	}
	return out, nil
}

// Export writes the result matrix, loadouts, pass log and state for gen
// under outDir (or the configured exports directory) and returns the
// directory written.
func (c *Client) Export(ctx context.Context, gen int, outDir string) (string, error) {
	if outDir == "" {
		outDir = c.opts.ExportsDir
	}
	state, err := c.State(ctx, gen)
	if err != nil {
		return "", err
	}
	store, err := c.matchStore(ctx, gen)
	if err != nil {
		return "", err
	}
	rows, err := stats.CollectMatchups(ctx, store, state)
	if err != nil {
		return "", err
	}
	passes, err := c.store.ListPasses(ctx, gen, 0)
	if err != nil {
		return "", err
	}

	export := stats.Export{State: state, Matchups: rows, Passes: passes}
	if source, err := c.speciesSource(); err == nil {
		if roster, err := source.Roster(gen); err == nil {
			export.Roster = roster
		}
	} else {
		c.log.Warn().Err(err).Msg("exporting without species levels and tiers")
	}
	return stats.WriteExport(outDir, export)
}
