package stats

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"movesetlab/internal/model"
)

// MatchupRow aggregates both directions of one species pair, seen from A.
type MatchupRow struct {
	A    int `json:"a"`
	B    int `json:"b"`
	Win  int `json:"win"`
	Loss int `json:"loss"`
	Tie  int `json:"tie"`
}

func (r MatchupRow) Played() int {
	return r.Win + r.Loss + r.Tie
}

// MatchupSummary is one species pair with both directed results.
type MatchupSummary struct {
	Generation int                `json:"generation"`
	A          model.SpeciesState `json:"a"`
	B          model.SpeciesState `json:"b"`
	Forward    model.Result       `json:"forward"`
	Reverse    model.Result       `json:"reverse"`
	Row        MatchupRow         `json:"row"`
	// Score is A's (2*win + tie) / played over both directions.
	Score   float64 `json:"score"`
	Defined bool    `json:"defined"`
}

// Export is everything written by WriteExport. Roster is optional and only
// supplies level and tier for the matrix header.
type Export struct {
	State    model.GenerationState
	Roster   []model.Species
	Matchups []MatchupRow
	Passes   []model.PassRecord
}

// ResultLookup is the read-only subset of the match store an export needs.
type ResultLookup interface {
	LookupTeam(ctx context.Context, packed model.PackedTeam) (model.TeamID, bool, error)
	GetResult(ctx context.Context, a, b model.TeamID) (model.Result, bool, error)
}

// CollectMatchups gathers results between the current best teams without
// writing to the store. Pairs with no battles in either direction are left
// out.
func CollectMatchups(ctx context.Context, store ResultLookup, state model.GenerationState) ([]MatchupRow, error) {
	ids := make([]model.TeamID, len(state.Species))
	known := make([]bool, len(state.Species))
	for i, sp := range state.Species {
		id, ok, err := store.LookupTeam(ctx, sp.Team)
		if err != nil {
			return nil, fmt.Errorf("lookup team for %s: %w", sp.Name, err)
		}
		ids[i], known[i] = id, ok
	}

	rows := make([]MatchupRow, 0)
	for i := range ids {
		for j := i + 1; j < len(ids); j++ {
			if !known[i] || !known[j] {
				continue
			}
			row := MatchupRow{A: state.Species[i].Num, B: state.Species[j].Num}
			forward, ok, err := store.GetResult(ctx, ids[i], ids[j])
			if err != nil {
				return nil, err
			}
			if ok {
				row.Win += forward.Win
				row.Loss += forward.Loss
				row.Tie += forward.Tie
			}
			reverse, ok, err := store.GetResult(ctx, ids[j], ids[i])
			if err != nil {
				return nil, err
			}
			if ok {
				row.Win += reverse.Loss
				row.Loss += reverse.Win
				row.Tie += reverse.Tie
			}
			if row.Played() > 0 {
				rows = append(rows, row)
			}
		}
	}
	return rows, nil
}

// WriteExport writes matrix.txt, loadouts.csv, passes.json and state.json
// into outDir/gen<N>-pass<P> and returns that directory.
func WriteExport(outDir string, export Export) (string, error) {
	if export.State.Generation <= 0 {
		return "", fmt.Errorf("export requires a generation state")
	}
	dir := filepath.Join(outDir, fmt.Sprintf("gen%d-pass%d", export.State.Generation, export.State.Passes))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	if err := writeMatrix(filepath.Join(dir, "matrix.txt"), export); err != nil {
		return "", err
	}
	if err := writeLoadouts(filepath.Join(dir, "loadouts.csv"), export.State); err != nil {
		return "", err
	}
	passes := export.Passes
	if passes == nil {
		passes = []model.PassRecord{}
	}
	if err := writeJSON(filepath.Join(dir, "passes.json"), passes); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(dir, "state.json"), export.State); err != nil {
		return "", err
	}
	return dir, nil
}

// writeMatrix emits the chart text format: one "num name lvlN moves tier"
// line per species, then one "a b win loss tie" line per pair.
func writeMatrix(path string, export Export) error {
	byNum := make(map[int]model.Species, len(export.Roster))
	for _, sp := range export.Roster {
		byNum[sp.Num] = sp
	}

	var b strings.Builder
	for _, sp := range export.State.Species {
		info := byNum[sp.Num]
		tier := info.Tier
		if tier == "" {
			tier = "-"
		}
		level := info.Level
		if level <= 0 {
			level = 100
		}
		fmt.Fprintf(&b, "%d %s lvl%d %s %s\n", sp.Num, matrixName(sp.Name), level, sp.Loadout.String(), matrixName(tier))
	}
	for _, row := range export.Matchups {
		fmt.Fprintf(&b, "%d %d %d %d %d\n", row.A, row.B, row.Win, row.Loss, row.Tie)
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// matrixName keeps the line whitespace separated.
func matrixName(s string) string {
	return strings.Join(strings.Fields(s), "_")
}

func writeLoadouts(path string, state model.GenerationState) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"num", "name", "moves", "alternates", "team"}); err != nil {
		return err
	}
	for _, sp := range state.Species {
		alts := make([]string, 0, len(sp.Alternates))
		for _, alt := range sp.Alternates {
			alts = append(alts, strconv.Itoa(alt.Opponent)+":"+alt.Loadout.String())
		}
		record := []string{
			strconv.Itoa(sp.Num),
			sp.Name,
			sp.Loadout.String(),
			strings.Join(alts, ";"),
			string(sp.Team),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}
