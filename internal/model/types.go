package model

import (
	"fmt"
	"sort"
	"strings"
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// MaxLoadoutSize is the battle format's move slot count.
const MaxLoadoutSize = 4

type MoveID string

// Species is a read-only roster entry supplied by the species database.
type Species struct {
	Num         int      `json:"num"`
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	BaseSpecies string   `json:"base_species"`
	Tier        string   `json:"tier"`
	Gender      string   `json:"gender,omitempty"`
	NFE         bool     `json:"nfe,omitempty"`
	Prevo       string   `json:"prevo,omitempty"`
	Abilities   []string `json:"abilities,omitempty"`
	Level       int      `json:"level"`
}

// Loadout is a set of up to four moves. Order is kept for display only.
type Loadout []MoveID

// Key returns the canonical, order-independent identity of the loadout.
func (l Loadout) Key() string {
	moves := make([]string, len(l))
	for i, m := range l {
		moves[i] = string(m)
	}
	sort.Strings(moves)
	return strings.Join(moves, ",")
}

func (l Loadout) Equal(other Loadout) bool {
	return l.Key() == other.Key()
}

func (l Loadout) Contains(move MoveID) bool {
	for _, m := range l {
		if m == move {
			return true
		}
	}
	return false
}

func (l Loadout) Clone() Loadout {
	return append(Loadout(nil), l...)
}

func (l Loadout) String() string {
	moves := make([]string, len(l))
	for i, m := range l {
		moves[i] = string(m)
	}
	return strings.Join(moves, ",")
}

func (l Loadout) Validate() error {
	if len(l) == 0 {
		return fmt.Errorf("loadout is empty")
	}
	if len(l) > MaxLoadoutSize {
		return fmt.Errorf("loadout has %d moves, max %d", len(l), MaxLoadoutSize)
	}
	seen := make(map[MoveID]struct{}, len(l))
	for _, m := range l {
		if m == "" {
			return fmt.Errorf("loadout contains an empty move")
		}
		if _, dup := seen[m]; dup {
			return fmt.Errorf("loadout repeats move %s", m)
		}
		seen[m] = struct{}{}
	}
	return nil
}

// PackedTeam is the canonical serialized form of one battle-ready creature.
type PackedTeam string

type TeamID int64

// MatchupKey is directional: TeamA is always the side under test.
type MatchupKey struct {
	Generation int
	TeamA      TeamID
	TeamB      TeamID
}

func (k MatchupKey) String() string {
	return fmt.Sprintf("gen%d:%d-%d", k.Generation, k.TeamA, k.TeamB)
}

// Result accumulates outcomes for one matchup. Counters only ever grow.
type Result struct {
	ID         int64  `json:"id" db:"id"`
	Generation int    `json:"generation" db:"generation"`
	TeamA      TeamID `json:"team_a" db:"team_a"`
	TeamB      TeamID `json:"team_b" db:"team_b"`
	Win        int    `json:"win" db:"win"`
	Tie        int    `json:"tie" db:"tie"`
	Loss       int    `json:"loss" db:"loss"`
}

func (r Result) Key() MatchupKey {
	return MatchupKey{Generation: r.Generation, TeamA: r.TeamA, TeamB: r.TeamB}
}

func (r Result) Played() int {
	return r.Win + r.Tie + r.Loss
}

// Score is (2*win + tie) / played. It is undefined for unplayed matchups.
func (r Result) Score() (float64, bool) {
	played := r.Played()
	if played == 0 {
		return 0, false
	}
	return float64(2*r.Win+r.Tie) / float64(played), true
}

// Add returns a copy of r with the outcome counted once.
func (r Result) Add(outcome Outcome) Result {
	switch outcome {
	case Win:
		r.Win++
	case Tie:
		r.Tie++
	case Loss:
		r.Loss++
	}
	return r
}

// Outcome is a battle result from team A's point of view.
type Outcome int8

const (
	Win Outcome = iota + 1
	Tie
	Loss
)

func (o Outcome) Valid() bool {
	return o == Win || o == Tie || o == Loss
}

// Points is the outcome's contribution to a score.
func (o Outcome) Points() int {
	switch o {
	case Win:
		return 2
	case Tie:
		return 1
	default:
		return 0
	}
}

func (o Outcome) String() string {
	switch o {
	case Win:
		return "win"
	case Tie:
		return "tie"
	case Loss:
		return "loss"
	default:
		return fmt.Sprintf("outcome(%d)", int8(o))
	}
}

// OutcomeRecord is one simulated round as returned by a worker.
type OutcomeRecord struct {
	ResultID int64
	Seed     int64
	Outcome  Outcome
}

// Alternate records the loadout to prefer against one specific opponent.
type Alternate struct {
	Opponent int     `json:"opponent"`
	Loadout  Loadout `json:"loadout"`
}

type SpeciesState struct {
	Num        int         `json:"num"`
	Name       string      `json:"name"`
	Team       PackedTeam  `json:"team"`
	Loadout    Loadout     `json:"loadout"`
	Learnset   []MoveID    `json:"learnset"`
	Alternates []Alternate `json:"alternates"`
}

// GenerationState is the durable per-generation optimizer snapshot.
type GenerationState struct {
	VersionedRecord
	Generation int            `json:"generation"`
	Passes     int            `json:"passes"`
	Species    []SpeciesState `json:"species"`
}

// Teams returns the current best packed team per roster index.
func (s GenerationState) Teams() []PackedTeam {
	teams := make([]PackedTeam, len(s.Species))
	for i, sp := range s.Species {
		teams[i] = sp.Team
	}
	return teams
}

// IndexOf returns the roster index of species num, or -1.
func (s GenerationState) IndexOf(num int) int {
	for i, sp := range s.Species {
		if sp.Num == num {
			return i
		}
	}
	return -1
}

// PassRecord summarizes one completed outer-loop pass.
type PassRecord struct {
	ID          string `json:"id" db:"id"`
	Generation  int    `json:"generation" db:"generation"`
	Index       int    `json:"index" db:"pass_index"`
	Rounds      int    `json:"rounds" db:"rounds"`
	Species     int    `json:"species" db:"species"`
	Improved    int    `json:"improved" db:"improved"`
	Simulations int64  `json:"simulations" db:"simulations"`
	Dropped     int64  `json:"dropped" db:"dropped"`
	StartedAt   string `json:"started_at" db:"started_at"`
	FinishedAt  string `json:"finished_at" db:"finished_at"`
}
