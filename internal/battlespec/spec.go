package battlespec

import (
	"context"
	"fmt"

	"movesetlab/internal/model"
)

// MatchupStore is what the builder needs from the match result store.
type MatchupStore interface {
	InternTeam(ctx context.Context, packed model.PackedTeam) (model.TeamID, error)
	EnsureMatchup(ctx context.Context, a, b model.TeamID) (resultID int64, played int, err error)
}

// Request is one simulation to run. A and B index into Spec.Teams.
type Request struct {
	A        int
	B        int
	Seed     int64
	ResultID int64
}

// Spec is a self-contained batch of simulation requests.
type Spec struct {
	Teams    []model.PackedTeam
	Requests []Request

	index   map[model.PackedTeam]int
	planned map[int64]struct{}
}

func (s *Spec) Empty() bool {
	return s == nil || len(s.Requests) == 0
}

func (s *Spec) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Requests)
}

// Team returns the packed team at a request index.
func (s *Spec) Team(i int) model.PackedTeam {
	return s.Teams[i]
}

func (s *Spec) teamIndex(packed model.PackedTeam) int {
	if s.index == nil {
		s.index = make(map[model.PackedTeam]int, len(s.Teams))
		for i, t := range s.Teams {
			s.index[t] = i
		}
	}
	if i, ok := s.index[packed]; ok {
		return i
	}
	s.Teams = append(s.Teams, packed)
	s.index[packed] = len(s.Teams) - 1
	return len(s.Teams) - 1
}

func (s *Spec) markPlanned(resultID int64) bool {
	if s.planned == nil {
		s.planned = make(map[int64]struct{})
		for _, r := range s.Requests {
			s.planned[r.ResultID] = struct{}{}
		}
	}
	if _, ok := s.planned[resultID]; ok {
		return false
	}
	s.planned[resultID] = struct{}{}
	return true
}

// Split cuts the spec into sub-batches of at most n requests, each carrying
// only the teams it references.
func (s *Spec) Split(n int) []*Spec {
	if s.Empty() {
		return nil
	}
	if n <= 0 {
		n = len(s.Requests)
	}
	out := make([]*Spec, 0, (len(s.Requests)+n-1)/n)
	for start := 0; start < len(s.Requests); start += n {
		end := start + n
		if end > len(s.Requests) {
			end = len(s.Requests)
		}
		part := &Spec{}
		for _, r := range s.Requests[start:end] {
			part.Requests = append(part.Requests, Request{
				A:        part.teamIndex(s.Teams[r.A]),
				B:        part.teamIndex(s.Teams[r.B]),
				Seed:     r.Seed,
				ResultID: r.ResultID,
			})
		}
		out = append(out, part)
	}
	return out
}

// SeedsByResult groups the requested seeds per matchup row.
func (s *Spec) SeedsByResult() map[int64][]int64 {
	out := make(map[int64][]int64)
	if s == nil {
		return out
	}
	for _, r := range s.Requests {
		out[r.ResultID] = append(out[r.ResultID], r.Seed)
	}
	return out
}

// Input describes one team to evaluate against (part of) a roster.
type Input struct {
	// Index is the roster slot of the species the team belongs to.
	Index  int
	Team   model.PackedTeam
	Roster []model.PackedTeam
	// Opponents restricts evaluation to these roster indexes. Nil means all.
	Opponents     []int
	Rounds        int
	UpperHalfOnly bool
}

// Build appends the requests needed to bring every matchup of in.Team to
// in.Rounds counted rounds. Seeds continue from each matchup's played count.
// It returns the number of requests added.
func Build(ctx context.Context, store MatchupStore, spec *Spec, in Input) (int, error) {
	if spec == nil {
		return 0, fmt.Errorf("nil spec")
	}
	if in.Rounds <= 0 {
		return 0, nil
	}
	if in.Index < 0 || in.Index >= len(in.Roster) {
		return 0, fmt.Errorf("roster index %d out of range [0,%d)", in.Index, len(in.Roster))
	}

	teamA, err := store.InternTeam(ctx, in.Team)
	if err != nil {
		return 0, err
	}

	opponents := in.Opponents
	if opponents == nil {
		opponents = make([]int, len(in.Roster))
		for j := range opponents {
			opponents[j] = j
		}
	}

	added := 0
	a := -1
	for _, j := range opponents {
		if j == in.Index {
			continue
		}
		if in.UpperHalfOnly && j < in.Index {
			continue
		}
		if j < 0 || j >= len(in.Roster) {
			return added, fmt.Errorf("opponent index %d out of range [0,%d)", j, len(in.Roster))
		}
		teamB, err := store.InternTeam(ctx, in.Roster[j])
		if err != nil {
			return added, err
		}
		if teamB == teamA {
			continue
		}
		resultID, played, err := store.EnsureMatchup(ctx, teamA, teamB)
		if err != nil {
			return added, err
		}
		if played >= in.Rounds {
			continue
		}
		if !spec.markPlanned(resultID) {
			continue
		}
		if a < 0 {
			a = spec.teamIndex(in.Team)
		}
		b := spec.teamIndex(in.Roster[j])
		for seed := played; seed < in.Rounds; seed++ {
			spec.Requests = append(spec.Requests, Request{A: a, B: b, Seed: int64(seed), ResultID: resultID})
			added++
		}
	}
	return added, nil
}
