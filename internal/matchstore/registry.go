package matchstore

import (
	"context"
	"fmt"

	"movesetlab/internal/model"
)

// InternTeam maps a packed team to its stable id, persisting it on first
// sight. Ids are never reassigned.
func (s *Store) InternTeam(ctx context.Context, packed model.PackedTeam) (model.TeamID, error) {
	if packed == "" {
		return 0, fmt.Errorf("%w: empty packed team", ErrIntegrity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.teamIDs[packed]; ok {
		return id, nil
	}
	id, err := s.backend.InternTeam(ctx, packed)
	if err != nil {
		return 0, fmt.Errorf("intern team: %w", err)
	}
	if prev, ok := s.teams[id]; ok && prev != packed {
		return 0, fmt.Errorf("%w: team id %d already bound", ErrIntegrity, id)
	}
	s.teamIDs[packed] = id
	s.teams[id] = packed
	return id, nil
}

// LookupTeam resolves a packed team that was interned before. It never writes,
// so read-only views can use it next to a running optimizer.
func (s *Store) LookupTeam(ctx context.Context, packed model.PackedTeam) (model.TeamID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.teamIDs[packed]; ok {
		return id, true, nil
	}
	id, ok, err := s.backend.LookupTeam(ctx, packed)
	if err != nil {
		return 0, false, fmt.Errorf("lookup team: %w", err)
	}
	if !ok {
		return 0, false, nil
	}
	s.teamIDs[packed] = id
	s.teams[id] = packed
	return id, true, nil
}

// InternTeams interns every team in order.
func (s *Store) InternTeams(ctx context.Context, packed []model.PackedTeam) ([]model.TeamID, error) {
	ids := make([]model.TeamID, len(packed))
	for i, p := range packed {
		id, err := s.InternTeam(ctx, p)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

func (s *Store) Team(ctx context.Context, id model.TeamID) (model.PackedTeam, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if packed, ok := s.teams[id]; ok {
		return packed, true, nil
	}
	packed, ok, err := s.backend.GetTeam(ctx, id)
	if err != nil {
		return "", false, fmt.Errorf("get team %d: %w", id, err)
	}
	if ok {
		s.teamIDs[packed] = id
		s.teams[id] = packed
	}
	return packed, ok, nil
}
