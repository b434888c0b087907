// Package workerpool runs battle specs across a bounded set of simulator
// instances.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"movesetlab/internal/battlespec"
	"movesetlab/internal/model"
	"movesetlab/internal/sim"
)

const (
	DefaultChunkSize        = 64
	defaultProgressInterval = 10 * time.Second
)

type Config struct {
	Workers   int
	ChunkSize int
	Factory   sim.Factory
	Logger    zerolog.Logger
	// ProgressInterval throttles progress lines. Zero uses the default.
	ProgressInterval time.Duration
}

// Stats describes one Run.
type Stats struct {
	Requests  int
	Completed int
	Dropped   int
	Batches   int
	Elapsed   time.Duration
}

// Executor keeps simulator instances alive across runs. Each instance is used
// by one goroutine at a time.
type Executor struct {
	cfg Config
	log zerolog.Logger

	mu   sync.Mutex
	idle []sim.Simulator
}

func New(cfg Config) (*Executor, error) {
	if cfg.Factory == nil {
		return nil, errors.New("simulator factory is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = defaultProgressInterval
	}
	return &Executor{
		cfg: cfg,
		log: cfg.Logger.With().Str("component", "workerpool").Logger(),
	}, nil
}

func (e *Executor) Workers() int {
	return e.cfg.Workers
}

// Run simulates every request in spec and returns the outcomes in no
// particular order. Failed requests are dropped; a lost worker fails the run.
func (e *Executor) Run(ctx context.Context, spec *battlespec.Spec) ([]model.OutcomeRecord, Stats, error) {
	stats := Stats{Requests: spec.Len()}
	if spec.Empty() {
		return nil, stats, nil
	}
	start := time.Now()

	parts := spec.Split(e.cfg.ChunkSize)
	stats.Batches = len(parts)
	workers := e.cfg.Workers
	if workers > len(parts) {
		workers = len(parts)
	}

	var (
		outMu     sync.Mutex
		outcomes  = make([]model.OutcomeRecord, 0, spec.Len())
		completed atomic.Int64
		dropped   atomic.Int64
		progress  = rate.Sometimes{Interval: e.cfg.ProgressInterval}
	)

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan *battlespec.Spec)
	g.Go(func() error {
		defer close(jobs)
		for _, part := range parts {
			select {
			case jobs <- part:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	for w := 0; w < workers; w++ {
		g.Go(func() error {
			s, err := e.acquire()
			if err != nil {
				return err
			}
			local := make([]model.OutcomeRecord, 0, e.cfg.ChunkSize)
			for part := range jobs {
				for _, r := range part.Requests {
					outcome, err := s.Simulate(gctx, part.Team(r.A), part.Team(r.B), r.Seed)
					if err != nil {
						if errors.Is(err, sim.ErrSimulation) {
							dropped.Add(1)
							e.log.Warn().Err(err).Int64("result_id", r.ResultID).Int64("seed", r.Seed).Msg("dropping failed simulation")
							continue
						}
						e.discard(s)
						if ctxErr := gctx.Err(); ctxErr != nil {
							return ctxErr
						}
						return fmt.Errorf("simulate result %d seed %d: %w", r.ResultID, r.Seed, err)
					}
					if !outcome.Valid() {
						e.discard(s)
						return fmt.Errorf("%w: invalid outcome %d", sim.ErrWorkerLost, int8(outcome))
					}
					local = append(local, model.OutcomeRecord{ResultID: r.ResultID, Seed: r.Seed, Outcome: outcome})
				}
				done := completed.Add(int64(part.Len()))
				progress.Do(func() {
					e.log.Info().
						Str("done", humanize.Comma(done)).
						Str("total", humanize.Comma(int64(stats.Requests))).
						Msg("simulating")
				})
			}
			e.release(s)

			outMu.Lock()
			outcomes = append(outcomes, local...)
			outMu.Unlock()
			return nil
		})
	}

	err := g.Wait()
	stats.Elapsed = time.Since(start)
	stats.Dropped = int(dropped.Load())
	if err != nil {
		return nil, stats, err
	}
	if err := ctx.Err(); err != nil {
		return nil, stats, err
	}
	stats.Completed = len(outcomes)
	e.log.Debug().
		Int("requests", stats.Requests).
		Int("completed", stats.Completed).
		Int("dropped", stats.Dropped).
		Dur("elapsed", stats.Elapsed).
		Msg("batch finished")
	return outcomes, stats, nil
}

func (e *Executor) acquire() (sim.Simulator, error) {
	e.mu.Lock()
	if n := len(e.idle); n > 0 {
		s := e.idle[n-1]
		e.idle = e.idle[:n-1]
		e.mu.Unlock()
		return s, nil
	}
	e.mu.Unlock()

	s, err := e.cfg.Factory()
	if err != nil {
		return nil, fmt.Errorf("%w: start simulator: %v", sim.ErrWorkerLost, err)
	}
	return s, nil
}

func (e *Executor) release(s sim.Simulator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.idle = append(e.idle, s)
}

func (e *Executor) discard(s sim.Simulator) {
	if err := sim.Close(s); err != nil {
		e.log.Debug().Err(err).Msg("close simulator")
	}
}

// Close shuts down every idle simulator instance.
func (e *Executor) Close() error {
	e.mu.Lock()
	idle := e.idle
	e.idle = nil
	e.mu.Unlock()

	var errs []error
	for _, s := range idle {
		if err := sim.Close(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
