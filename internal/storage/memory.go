package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"movesetlab/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	teamIDs     map[model.PackedTeam]model.TeamID
	teams       []model.PackedTeam
	resultIDs   map[model.MatchupKey]int64
	results     []model.Result
	passes      map[string]model.PassRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}
	s.initialized = true
	s.teamIDs = make(map[model.PackedTeam]model.TeamID)
	s.teams = nil
	s.resultIDs = make(map[model.MatchupKey]int64)
	s.results = nil
	s.passes = make(map[string]model.PassRecord)
	return nil
}

func (s *MemoryStore) InternTeam(_ context.Context, packed model.PackedTeam) (model.TeamID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return 0, errNotInitialized
	}
	if id, ok := s.teamIDs[packed]; ok {
		return id, nil
	}
	s.teams = append(s.teams, packed)
	id := model.TeamID(len(s.teams))
	s.teamIDs[packed] = id
	return id, nil
}

func (s *MemoryStore) LookupTeam(_ context.Context, packed model.PackedTeam) (model.TeamID, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return 0, false, errNotInitialized
	}
	id, ok := s.teamIDs[packed]
	return id, ok, nil
}

func (s *MemoryStore) GetTeam(_ context.Context, id model.TeamID) (model.PackedTeam, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id <= 0 || int(id) > len(s.teams) {
		return "", false, nil
	}
	return s.teams[id-1], true, nil
}

func (s *MemoryStore) GetResult(_ context.Context, key model.MatchupKey) (model.Result, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.resultIDs[key]
	if !ok {
		return model.Result{}, false, nil
	}
	return s.results[id-1], true, nil
}

func (s *MemoryStore) GetResultByID(_ context.Context, id int64) (model.Result, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id <= 0 || int(id) > len(s.results) {
		return model.Result{}, false, nil
	}
	return s.results[id-1], true, nil
}

func (s *MemoryStore) EnsureResult(_ context.Context, key model.MatchupKey) (model.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return model.Result{}, errNotInitialized
	}
	if id, ok := s.resultIDs[key]; ok {
		return s.results[id-1], nil
	}
	id := int64(len(s.results) + 1)
	result := model.Result{ID: id, Generation: key.Generation, TeamA: key.TeamA, TeamB: key.TeamB}
	s.results = append(s.results, result)
	s.resultIDs[key] = id
	return result, nil
}

func (s *MemoryStore) ApplyDeltas(_ context.Context, deltas []ResultDelta) error {
	if err := validateDeltas(deltas); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range deltas {
		if d.ResultID <= 0 || int(d.ResultID) > len(s.results) {
			return fmt.Errorf("%w: %d", ErrUnknownResult, d.ResultID)
		}
	}
	for _, d := range deltas {
		row := &s.results[d.ResultID-1]
		row.Win += d.Win
		row.Tie += d.Tie
		row.Loss += d.Loss
	}
	return nil
}

func (s *MemoryStore) ListResults(_ context.Context, generation int) ([]model.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Result, 0)
	for _, r := range s.results {
		if r.Generation == generation {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) SavePass(_ context.Context, pass model.PassRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.passes[pass.ID] = pass
	return nil
}

func (s *MemoryStore) ListPasses(_ context.Context, generation int, limit int) ([]model.PassRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.PassRecord, 0, len(s.passes))
	for _, p := range s.passes {
		if p.Generation == generation {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Index > out[j].Index
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
