package sim

import (
	"context"
	"errors"
	"testing"

	"movesetlab/internal/model"
)

func TestParseWinner(t *testing.T) {
	cases := map[string]model.Outcome{
		"p1":  model.Win,
		"A":   model.Win,
		"p2":  model.Loss,
		"B":   model.Loss,
		"tie": model.Tie,
	}
	for raw, want := range cases {
		got, err := ParseWinner(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if got != want {
			t.Fatalf("parse %q: got %s want %s", raw, got, want)
		}
	}
	for _, raw := range []string{"p3", "", "  "} {
		if _, err := ParseWinner(raw); !errors.Is(err, ErrSimulation) {
			t.Fatalf("parse %q: expected simulation error, got %v", raw, err)
		}
	}
}

func TestFuncAndSharedFactory(t *testing.T) {
	calls := 0
	f := Func(func(_ context.Context, a, b model.PackedTeam, seed int64) (model.Outcome, error) {
		calls++
		if seed%2 == 0 {
			return model.Win, nil
		}
		return model.Loss, nil
	})
	s, err := Shared(f)()
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	got, err := s.Simulate(context.Background(), "A", "B", 4)
	if err != nil || got != model.Win {
		t.Fatalf("unexpected simulate result %s err=%v", got, err)
	}
	if err := Close(s); err != nil {
		t.Fatalf("close: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one call, got %d", calls)
	}
}
