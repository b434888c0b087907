package matchstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"movesetlab/internal/model"
	"movesetlab/internal/storage"
)

// ErrIntegrity marks a commit that would break the store's counting rules.
// Callers treat it as fatal.
var ErrIntegrity = errors.New("match store integrity violation")

// Store is the single-writer view over a durable backend for one generation.
// It caches results by matchup key and by row id; the cache is disposable.
type Store struct {
	backend    storage.Store
	generation int

	mu      sync.Mutex
	byKey   map[model.MatchupKey]*model.Result
	byID    map[int64]*model.Result
	teamIDs map[model.PackedTeam]model.TeamID
	teams   map[model.TeamID]model.PackedTeam
}

func New(backend storage.Store, generation int) *Store {
	return &Store{
		backend:    backend,
		generation: generation,
		byKey:      make(map[model.MatchupKey]*model.Result),
		byID:       make(map[int64]*model.Result),
		teamIDs:    make(map[model.PackedTeam]model.TeamID),
		teams:      make(map[model.TeamID]model.PackedTeam),
	}
}

func (s *Store) Generation() int {
	return s.generation
}

func (s *Store) Backend() storage.Store {
	return s.backend
}

func (s *Store) key(a, b model.TeamID) model.MatchupKey {
	return model.MatchupKey{Generation: s.generation, TeamA: a, TeamB: b}
}

// GetResult returns the accumulated result for a vs b, if the matchup exists.
func (s *Store) GetResult(ctx context.Context, a, b model.TeamID) (model.Result, bool, error) {
	key := s.key(a, b)

	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, ok := s.byKey[key]; ok {
		return *cached, true, nil
	}
	result, ok, err := s.backend.GetResult(ctx, key)
	if err != nil {
		return model.Result{}, false, fmt.Errorf("get result %s: %w", key, err)
	}
	if !ok {
		return model.Result{}, false, nil
	}
	s.cacheLocked(result)
	return result, true, nil
}

// EnsureMatchup creates the zero row for a vs b when missing and reports its
// id and how many rounds have been counted so far.
func (s *Store) EnsureMatchup(ctx context.Context, a, b model.TeamID) (int64, int, error) {
	key := s.key(a, b)

	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, ok := s.byKey[key]; ok {
		return cached.ID, cached.Played(), nil
	}
	result, err := s.backend.EnsureResult(ctx, key)
	if err != nil {
		return 0, 0, fmt.Errorf("ensure matchup %s: %w", key, err)
	}
	s.cacheLocked(result)
	return result.ID, result.Played(), nil
}

// CommitOutcomes folds a batch of outcomes into the backend atomically and
// then updates cached rows in place.
func (s *Store) CommitOutcomes(ctx context.Context, outcomes []model.OutcomeRecord) error {
	if len(outcomes) == 0 {
		return nil
	}

	order := make([]int64, 0)
	deltas := make(map[int64]*storage.ResultDelta)
	for _, o := range outcomes {
		if o.ResultID <= 0 {
			return fmt.Errorf("%w: result id %d", ErrIntegrity, o.ResultID)
		}
		d, ok := deltas[o.ResultID]
		if !ok {
			d = &storage.ResultDelta{ResultID: o.ResultID}
			deltas[o.ResultID] = d
			order = append(order, o.ResultID)
		}
		switch o.Outcome {
		case model.Win:
			d.Win++
		case model.Tie:
			d.Tie++
		case model.Loss:
			d.Loss++
		default:
			return fmt.Errorf("%w: outcome code %d for result %d", ErrIntegrity, int8(o.Outcome), o.ResultID)
		}
	}
	batch := make([]storage.ResultDelta, 0, len(order))
	for _, id := range order {
		batch = append(batch, *deltas[id])
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.ApplyDeltas(ctx, batch); err != nil {
		if errors.Is(err, storage.ErrUnknownResult) || errors.Is(err, storage.ErrInvalidDelta) {
			return fmt.Errorf("%w: %v", ErrIntegrity, err)
		}
		return fmt.Errorf("commit outcomes: %w", err)
	}
	for _, d := range batch {
		if cached, ok := s.byID[d.ResultID]; ok {
			cached.Win += d.Win
			cached.Tie += d.Tie
			cached.Loss += d.Loss
		}
	}
	return nil
}

// InvalidateCache drops cached results. Interned team ids are kept.
func (s *Store) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byKey = make(map[model.MatchupKey]*model.Result)
	s.byID = make(map[int64]*model.Result)
}

func (s *Store) CacheSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byKey)
}

// MatchupScore is the score of a against b; ok is false when nothing was
// played yet.
func (s *Store) MatchupScore(ctx context.Context, a, b model.TeamID) (float64, bool, error) {
	result, ok, err := s.GetResult(ctx, a, b)
	if err != nil || !ok {
		return 0, false, err
	}
	score, defined := result.Score()
	return score, defined, nil
}

// TotalScore sums team's defined scores against opponents and reports how
// many opponents contributed. A team never counts against itself.
func (s *Store) TotalScore(ctx context.Context, team model.TeamID, opponents []model.TeamID) (float64, int, error) {
	total := 0.0
	counted := 0
	for _, opp := range opponents {
		if opp == team {
			continue
		}
		score, ok, err := s.MatchupScore(ctx, team, opp)
		if err != nil {
			return 0, 0, err
		}
		if !ok {
			continue
		}
		total += score
		counted++
	}
	return total, counted, nil
}

// ScoreVector returns team's score against each opponent, NaN where the
// matchup is unplayed or is the team itself.
func (s *Store) ScoreVector(ctx context.Context, team model.TeamID, opponents []model.TeamID) ([]float64, error) {
	out := make([]float64, len(opponents))
	for i, opp := range opponents {
		out[i] = math.NaN()
		if opp == team {
			continue
		}
		score, ok, err := s.MatchupScore(ctx, team, opp)
		if err != nil {
			return nil, err
		}
		if ok {
			out[i] = score
		}
	}
	return out, nil
}

func (s *Store) cacheLocked(result model.Result) {
	row := result
	s.byKey[result.Key()] = &row
	s.byID[result.ID] = &row
}

func (s *Store) playedByID(ctx context.Context, id int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, ok := s.byID[id]; ok {
		return cached.Played(), nil
	}
	result, ok, err := s.backend.GetResultByID(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("get result %d: %w", id, err)
	}
	if !ok {
		return 0, fmt.Errorf("%w: unknown result %d", ErrIntegrity, id)
	}
	s.cacheLocked(result)
	return result.Played(), nil
}
