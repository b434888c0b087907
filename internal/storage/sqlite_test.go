package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"movesetlab/internal/model"
)

func newSQLiteTestStore(t *testing.T, path string) *SQLiteStore {
	t.Helper()
	store := NewSQLiteStore(path)
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestSQLiteStoreResultsRoundTrip(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "movesetlab.db")
	store := newSQLiteTestStore(t, dbPath)

	a, err := store.InternTeam(ctx, "Bulbasaur||||tackle|||||90|")
	if err != nil {
		t.Fatalf("intern a: %v", err)
	}
	b, err := store.InternTeam(ctx, "Charmander||||ember|||||90|")
	if err != nil {
		t.Fatalf("intern b: %v", err)
	}
	again, err := store.InternTeam(ctx, "Bulbasaur||||tackle|||||90|")
	if err != nil {
		t.Fatalf("intern again: %v", err)
	}
	if again != a || a == b {
		t.Fatalf("unexpected team ids a=%d b=%d again=%d", a, b, again)
	}

	key := model.MatchupKey{Generation: 1, TeamA: a, TeamB: b}
	result, err := store.EnsureResult(ctx, key)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if result.Played() != 0 {
		t.Fatalf("expected fresh result, got %+v", result)
	}
	if err := store.ApplyDeltas(ctx, []ResultDelta{{ResultID: result.ID, Win: 3, Loss: 1}}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	loaded, ok, err := store.GetResult(ctx, key)
	if err != nil || !ok {
		t.Fatalf("get result: ok=%t err=%v", ok, err)
	}
	if loaded.Win != 3 || loaded.Loss != 1 || loaded.ID != result.ID {
		t.Fatalf("unexpected result: %+v", loaded)
	}

	results, err := store.ListResults(ctx, 1)
	if err != nil {
		t.Fatalf("list results: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected one result, got %d", len(results))
	}
}

func TestSQLiteStoreApplyDeltasRollsBack(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteTestStore(t, filepath.Join(t.TempDir(), "movesetlab.db"))

	a, _ := store.InternTeam(ctx, "A")
	b, _ := store.InternTeam(ctx, "B")
	result, err := store.EnsureResult(ctx, model.MatchupKey{Generation: 1, TeamA: a, TeamB: b})
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}

	err = store.ApplyDeltas(ctx, []ResultDelta{
		{ResultID: result.ID, Win: 1},
		{ResultID: result.ID + 100, Win: 1},
	})
	if !errors.Is(err, ErrUnknownResult) {
		t.Fatalf("expected unknown result, got %v", err)
	}
	loaded, _, err := store.GetResultByID(ctx, result.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if loaded.Played() != 0 {
		t.Fatalf("expected rollback, got %+v", loaded)
	}
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "movesetlab.db")

	first := NewSQLiteStore(dbPath)
	if err := first.Init(ctx); err != nil {
		t.Fatalf("init first: %v", err)
	}
	a, _ := first.InternTeam(ctx, "A")
	b, _ := first.InternTeam(ctx, "B")
	result, err := first.EnsureResult(ctx, model.MatchupKey{Generation: 2, TeamA: a, TeamB: b})
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := first.ApplyDeltas(ctx, []ResultDelta{{ResultID: result.ID, Tie: 2}}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := first.SavePass(ctx, model.PassRecord{ID: "p0", Generation: 2, Index: 0, Rounds: 1}); err != nil {
		t.Fatalf("save pass: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second := newSQLiteTestStore(t, dbPath)
	loaded, ok, err := second.GetResultByID(ctx, result.ID)
	if err != nil || !ok {
		t.Fatalf("reload result: ok=%t err=%v", ok, err)
	}
	if loaded.Tie != 2 {
		t.Fatalf("unexpected reloaded result: %+v", loaded)
	}
	passes, err := second.ListPasses(ctx, 2, 0)
	if err != nil {
		t.Fatalf("list passes: %v", err)
	}
	if len(passes) != 1 || passes[0].ID != "p0" {
		t.Fatalf("unexpected passes: %+v", passes)
	}
}

func TestSQLiteStoreLookupTeamSeesOtherConnections(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "movesetlab.db")
	writer := newSQLiteTestStore(t, dbPath)
	reader := newSQLiteTestStore(t, dbPath)

	if _, ok, err := reader.LookupTeam(ctx, "Gloom||||acid|||||100|"); err != nil || ok {
		t.Fatalf("expected unknown team, ok=%t err=%v", ok, err)
	}
	id, err := writer.InternTeam(ctx, "Gloom||||acid|||||100|")
	if err != nil {
		t.Fatalf("intern: %v", err)
	}
	got, ok, err := reader.LookupTeam(ctx, "Gloom||||acid|||||100|")
	if err != nil || !ok || got != id {
		t.Fatalf("expected id %d, got %d ok=%t err=%v", id, got, ok, err)
	}
	if _, ok, err := reader.LookupTeam(ctx, "Vileplume||||acid|||||100|"); err != nil || ok {
		t.Fatalf("lookup must not intern, ok=%t err=%v", ok, err)
	}
}
