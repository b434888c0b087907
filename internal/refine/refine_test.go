package refine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"movesetlab/internal/matchstore"
	"movesetlab/internal/model"
	"movesetlab/internal/sim"
	"movesetlab/internal/storage"
	"movesetlab/internal/workerpool"
)

type fakeSource struct {
	learnsets map[int][]model.MoveID
}

func (f fakeSource) Roster(gen int) ([]model.Species, error) {
	out := make([]model.Species, 0, len(f.learnsets))
	for num := 1; num <= len(f.learnsets); num++ {
		out = append(out, model.Species{Num: num, ID: fmt.Sprintf("m%d", num), Name: fmt.Sprintf("M%d", num), Level: 50})
	}
	return out, nil
}

func (f fakeSource) LearnableMoves(sp model.Species, _ int) ([]model.MoveID, error) {
	moves, ok := f.learnsets[sp.Num]
	if !ok {
		return nil, errors.New("no learnset")
	}
	return moves, nil
}

func (f fakeSource) PackTeam(sp model.Species, loadout model.Loadout, _ int) (model.PackedTeam, error) {
	if err := loadout.Validate(); err != nil {
		return "", err
	}
	return model.PackedTeam(sp.Name + "|" + loadout.Key()), nil
}

func splitTeam(team model.PackedTeam) (string, []string) {
	name, moves, _ := strings.Cut(string(team), "|")
	return name, strings.Split(moves, ",")
}

// strengthBattle: more moves starting with "s" wins.
func strengthBattle(_ context.Context, a, b model.PackedTeam, _ int64) (model.Outcome, error) {
	strength := func(team model.PackedTeam) int {
		_, moves := splitTeam(team)
		n := 0
		for _, m := range moves {
			if strings.HasPrefix(m, "s") {
				n++
			}
		}
		return n
	}
	sa, sb := strength(a), strength(b)
	switch {
	case sa > sb:
		return model.Win, nil
	case sa < sb:
		return model.Loss, nil
	default:
		return model.Tie, nil
	}
}

// counterBattle: a team holding "beat<name>" beats that opponent.
func counterBattle(_ context.Context, a, b model.PackedTeam, _ int64) (model.Outcome, error) {
	nameA, movesA := splitTeam(a)
	nameB, movesB := splitTeam(b)
	for _, m := range movesA {
		if m == "beat"+nameB {
			return model.Win, nil
		}
	}
	for _, m := range movesB {
		if m == "beat"+nameA {
			return model.Loss, nil
		}
	}
	return model.Tie, nil
}

type harness struct {
	opt     *Optimizer
	store   *matchstore.Store
	backend *storage.MemoryStore
	calls   *atomic.Int64
}

func newHarness(t *testing.T, cfg Config, source SpeciesSource, battle sim.Func, backend *storage.MemoryStore) harness {
	t.Helper()
	if backend == nil {
		backend = storage.NewMemoryStore()
		if err := backend.Init(context.Background()); err != nil {
			t.Fatalf("init backend: %v", err)
		}
	}
	calls := &atomic.Int64{}
	counted := sim.Func(func(ctx context.Context, a, b model.PackedTeam, seed int64) (model.Outcome, error) {
		calls.Add(1)
		return battle(ctx, a, b, seed)
	})
	exec, err := workerpool.New(workerpool.Config{Workers: 3, ChunkSize: 7, Factory: sim.Shared(counted), Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	store := matchstore.New(backend, cfg.Generation)
	opt, err := New(cfg, source, store, exec, zerolog.Nop())
	if err != nil {
		t.Fatalf("new optimizer: %v", err)
	}
	return harness{opt: opt, store: store, backend: backend, calls: calls}
}

func strengthSource() fakeSource {
	ls := []model.MoveID{"w1", "w2", "w3", "w4", "s1"}
	return fakeSource{learnsets: map[int][]model.MoveID{1: ls, 2: ls, 3: ls, 4: ls}}
}

func testConfig(t *testing.T) Config {
	cfg := DefaultConfig(1)
	cfg.StatePath = filepath.Join(t.TempDir(), "opt1.json")
	cfg.ConfirmRounds = 3
	cfg.RoundStep = 0
	cfg.SubsampleStride = 1
	cfg.BatchCandidates = 8
	return cfg
}

func TestRunImprovesEverySpecies(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxPasses = 1
	h := newHarness(t, cfg, strengthSource(), strengthBattle, nil)

	state, err := h.opt.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if state.Passes != 1 {
		t.Fatalf("expected 1 pass, got %d", state.Passes)
	}
	for _, sp := range state.Species {
		if !sp.Loadout.Contains("s1") {
			t.Fatalf("species %s kept weak loadout %s", sp.Name, sp.Loadout)
		}
		if !strings.Contains(string(sp.Team), "s1") {
			t.Fatalf("species %s team %q does not match its loadout", sp.Name, sp.Team)
		}
	}

	saved, ok, err := storage.ReadStateFile(cfg.StatePath)
	if err != nil || !ok {
		t.Fatalf("read state: ok=%t err=%v", ok, err)
	}
	if saved.Passes != 1 || saved.Species[0].Loadout.Key() != state.Species[0].Loadout.Key() {
		t.Fatalf("saved state differs from returned state")
	}

	passes, err := h.backend.ListPasses(context.Background(), 1, 0)
	if err != nil {
		t.Fatalf("list passes: %v", err)
	}
	if len(passes) != 1 || passes[0].Improved != 4 || passes[0].Simulations == 0 {
		t.Fatalf("unexpected pass log: %+v", passes)
	}
}

func TestConvergedPassRequestsNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig(t), strengthSource(), strengthBattle, nil)

	state, err := h.opt.Init(ctx)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	var sims []int64
	for pass := 0; pass < 3; pass++ {
		before := h.calls.Load()
		report, err := h.opt.RunPass(ctx, state)
		if err != nil {
			t.Fatalf("pass %d: %v", pass, err)
		}
		if report.Record.Simulations != h.calls.Load()-before {
			t.Fatalf("pass %d: recorded %d simulations, simulator saw %d", pass, report.Record.Simulations, h.calls.Load()-before)
		}
		sims = append(sims, report.Record.Simulations)
		state = report.State
	}
	if sims[0] == 0 {
		t.Fatal("expected the first pass to simulate")
	}
	if sims[2] != 0 {
		t.Fatalf("expected a converged pass to need no simulations, got %v", sims)
	}
}

func TestInitResumesSavedState(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.MaxPasses = 1
	first := newHarness(t, cfg, strengthSource(), strengthBattle, nil)
	done, err := first.opt.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	second := newHarness(t, cfg, strengthSource(), strengthBattle, first.backend)
	resumed, err := second.opt.Init(ctx)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Passes != done.Passes {
		t.Fatalf("expected %d passes, got %d", done.Passes, resumed.Passes)
	}
	for i := range resumed.Species {
		if !resumed.Species[i].Loadout.Equal(done.Species[i].Loadout) {
			t.Fatalf("species %d lost its loadout", i)
		}
	}

	smaller := fakeSource{learnsets: map[int][]model.MoveID{1: {"s1"}, 2: {"s1"}, 3: {"s1"}}}
	third := newHarness(t, cfg, smaller, strengthBattle, first.backend)
	if _, err := third.opt.Init(ctx); !errors.Is(err, ErrRosterMismatch) {
		t.Fatalf("expected roster mismatch, got %v", err)
	}
}

func TestPromoteKeepsTiesAtThreshold(t *testing.T) {
	cands := []scored{
		{Loadout: model.Loadout{"a"}, Score: 0.99, order: 1},
		{Loadout: model.Loadout{"b"}, Score: 1.0, order: 2},
		{Loadout: model.Loadout{"c"}, Score: 1.5, order: 3},
		{Loadout: model.Loadout{"d"}, Score: 1.0, order: 4},
	}
	got := promote(cands, 2.0, 0.5, 10)
	if len(got) != 3 {
		t.Fatalf("expected 3 promoted, got %d", len(got))
	}
	want := []string{"c", "b", "d"}
	for i, w := range want {
		if got[i].Loadout.Key() != w {
			t.Fatalf("position %d: got %s want %s", i, got[i].Loadout, w)
		}
	}

	limited := promote(cands, 2.0, 0.5, 2)
	if len(limited) != 2 || limited[1].Loadout.Key() != "b" {
		t.Fatalf("unexpected limited promotion %+v", limited)
	}
}

func TestFinalPassCoversEveryPairOnce(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.MaxPasses = 1
	cfg.FinalPass = true
	cfg.FinalRounds = 6
	h := newHarness(t, cfg, strengthSource(), strengthBattle, nil)

	state, err := h.opt.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	ids, err := h.store.InternTeams(ctx, state.Teams())
	if err != nil {
		t.Fatalf("intern: %v", err)
	}
	for i := range ids {
		for j := i + 1; j < len(ids); j++ {
			result, ok, err := h.store.GetResult(ctx, ids[i], ids[j])
			if err != nil || !ok {
				t.Fatalf("pair %d,%d missing: ok=%t err=%v", i, j, ok, err)
			}
			if result.Played() < cfg.FinalRounds {
				t.Fatalf("pair %d,%d played %d rounds", i, j, result.Played())
			}
		}
	}
}

func TestCoverStageRecordsAlternates(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxPasses = 1
	cfg.Cover = true
	cfg.MaxLoadoutSize = 1
	source := fakeSource{learnsets: map[int][]model.MoveID{
		1: {"beatM2", "beatM3", "beatM4"},
		2: {"noop"},
		3: {"noop"},
		4: {"noop"},
	}}
	h := newHarness(t, cfg, source, counterBattle, nil)

	state, err := h.opt.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	first := state.Species[0]
	if first.Loadout.Key() != "beatM2" {
		t.Fatalf("expected tied incumbent to be kept, got %s", first.Loadout)
	}
	if len(first.Alternates) != 2 {
		t.Fatalf("expected 2 alternates, got %+v", first.Alternates)
	}
	want := map[int]string{3: "beatM3", 4: "beatM4"}
	for _, alt := range first.Alternates {
		if want[alt.Opponent] != alt.Loadout.Key() {
			t.Fatalf("unexpected alternate %+v", alt)
		}
	}
	for _, sp := range state.Species[1:] {
		if len(sp.Alternates) != 0 {
			t.Fatalf("species %s should have no alternates", sp.Name)
		}
	}
}

func TestNewValidatesConfig(t *testing.T) {
	backend := storage.NewMemoryStore()
	store := matchstore.New(backend, 1)
	exec, _ := workerpool.New(workerpool.Config{Factory: sim.Shared(sim.Func(strengthBattle))})

	cfg := DefaultConfig(1)
	cfg.ConfirmRounds = 0
	if _, err := New(cfg, strengthSource(), store, exec, zerolog.Nop()); err == nil {
		t.Fatal("expected invalid rounds error")
	}
	if _, err := New(DefaultConfig(2), strengthSource(), store, exec, zerolog.Nop()); err == nil {
		t.Fatal("expected generation mismatch error")
	}
}

func TestOnlyConfirmationRoundsGrowWithPasses(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxPasses = 2
	cfg.RoundStep = 5
	cfg.PromoteRatio = 100
	h := newHarness(t, cfg, strengthSource(), strengthBattle, nil)

	if _, err := h.opt.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	ctx := context.Background()
	played := func(a, b model.PackedTeam) int {
		t.Helper()
		ida, err := h.store.InternTeam(ctx, a)
		if err != nil {
			t.Fatalf("intern %s: %v", a, err)
		}
		idb, err := h.store.InternTeam(ctx, b)
		if err != nil {
			t.Fatalf("intern %s: %v", b, err)
		}
		result, _, err := h.store.GetResult(ctx, ida, idb)
		if err != nil {
			t.Fatalf("get result: %v", err)
		}
		return result.Played()
	}

	if got := played("M1|w1", "M2|w1,w2,w3,w4"); got != cfg.BroadRounds {
		t.Fatalf("broad candidate played %d rounds, want %d", got, cfg.BroadRounds)
	}
	if got := played("M1|w1,w2,w3,w4", "M2|w1,w2,w3,w4"); got != cfg.ConfirmRounds+cfg.RoundStep {
		t.Fatalf("incumbent played %d rounds, want %d", got, cfg.ConfirmRounds+cfg.RoundStep)
	}
}

func TestCoverAlternatesSurviveLaterImprovements(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxPasses = 1
	cfg.Cover = true
	cfg.MaxLoadoutSize = 1
	source := fakeSource{learnsets: map[int][]model.MoveID{
		1: {"beatM2", "beatM3", "beatM4"},
		2: {"noop"},
		3: {"noop", "beatM4"},
		4: {"noop"},
	}}
	h := newHarness(t, cfg, source, counterBattle, nil)

	state, err := h.opt.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := state.Species[2].Loadout.Key(); got != "beatM4" {
		t.Fatalf("expected M3 to switch to beatM4, got %s", got)
	}
	want := map[int]string{3: "beatM3", 4: "beatM4"}
	first := state.Species[0]
	if len(first.Alternates) != len(want) {
		t.Fatalf("expected %d alternates, got %+v", len(want), first.Alternates)
	}
	for _, alt := range first.Alternates {
		if want[alt.Opponent] != alt.Loadout.Key() {
			t.Fatalf("unexpected alternate %+v", alt)
		}
	}
}
