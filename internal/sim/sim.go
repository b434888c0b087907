// Package sim is the boundary to the external battle simulator.
package sim

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"movesetlab/internal/model"
)

var (
	// ErrSimulation marks a single failed request. The request is dropped.
	ErrSimulation = errors.New("simulation failed")
	// ErrWorkerLost marks a simulator instance that can no longer serve
	// requests. The whole batch fails.
	ErrWorkerLost = errors.New("simulator worker lost")
)

// Simulator runs one battle between two packed teams. The result must depend
// only on the teams and the seed.
type Simulator interface {
	Simulate(ctx context.Context, a, b model.PackedTeam, seed int64) (model.Outcome, error)
}

// Factory creates a simulator instance owned by one worker.
type Factory func() (Simulator, error)

// Func adapts a plain function to Simulator.
type Func func(ctx context.Context, a, b model.PackedTeam, seed int64) (model.Outcome, error)

func (f Func) Simulate(ctx context.Context, a, b model.PackedTeam, seed int64) (model.Outcome, error) {
	return f(ctx, a, b, seed)
}

// Shared returns a factory handing out the same simulator. Only for
// simulators that are safe for concurrent use.
func Shared(s Simulator) Factory {
	return func() (Simulator, error) {
		return s, nil
	}
}

// ParseWinner converts a raw winner string to an outcome for side A. A
// missing winner is a failed simulation, never a tie.
func ParseWinner(winner string) (model.Outcome, error) {
	switch strings.ToLower(strings.TrimSpace(winner)) {
	case "p1", "a":
		return model.Win, nil
	case "p2", "b":
		return model.Loss, nil
	case "tie":
		return model.Tie, nil
	case "":
		return 0, fmt.Errorf("%w: response has no winner", ErrSimulation)
	default:
		return 0, fmt.Errorf("%w: unknown winner %q", ErrSimulation, winner)
	}
}

// Close releases a simulator if it holds resources.
func Close(s Simulator) error {
	closer, ok := s.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
