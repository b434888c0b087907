package storage

import (
	"context"
	"errors"

	"movesetlab/internal/model"
)

var (
	ErrUnknownResult = errors.New("unknown result id")
	ErrInvalidDelta  = errors.New("invalid result delta")

	errNotInitialized = errors.New("store is not initialized")
)

// ResultDelta is an increment to apply to one result row.
type ResultDelta struct {
	ResultID int64
	Win      int
	Tie      int
	Loss     int
}

// Store defines durable persistence for interned teams, matchup results and
// the pass log. Counters are increment-only and rows are never deleted.
type Store interface {
	Init(ctx context.Context) error
	InternTeam(ctx context.Context, packed model.PackedTeam) (model.TeamID, error)
	// LookupTeam finds an interned team without inserting it.
	LookupTeam(ctx context.Context, packed model.PackedTeam) (model.TeamID, bool, error)
	GetTeam(ctx context.Context, id model.TeamID) (model.PackedTeam, bool, error)
	GetResult(ctx context.Context, key model.MatchupKey) (model.Result, bool, error)
	GetResultByID(ctx context.Context, id int64) (model.Result, bool, error)
	EnsureResult(ctx context.Context, key model.MatchupKey) (model.Result, error)
	// ApplyDeltas applies every delta or none of them.
	ApplyDeltas(ctx context.Context, deltas []ResultDelta) error
	ListResults(ctx context.Context, generation int) ([]model.Result, error)
	SavePass(ctx context.Context, pass model.PassRecord) error
	ListPasses(ctx context.Context, generation int, limit int) ([]model.PassRecord, error)
}

func validateDeltas(deltas []ResultDelta) error {
	for _, d := range deltas {
		if d.Win < 0 || d.Tie < 0 || d.Loss < 0 {
			return ErrInvalidDelta
		}
	}
	return nil
}
