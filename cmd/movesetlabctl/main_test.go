package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"movesetlab/internal/model"
	"movesetlab/internal/sim"
	"movesetlab/pkg/movesetlab"
)

func captureStdout(fn func() error) (string, error) {
	origStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		return "", err
	}

	os.Stdout = w
	runErr := fn()
	_ = w.Close()
	os.Stdout = origStdout

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		_ = r.Close()
		return "", err
	}
	_ = r.Close()
	return buf.String(), runErr
}

func tieBattle(_ context.Context, _, _ model.PackedTeam, _ int64) (model.Outcome, error) {
	return model.Tie, nil
}

func commonArgs(t *testing.T) []string {
	t.Helper()
	base := t.TempDir()
	clientHook = func(opts *movesetlab.Options) {
		opts.Simulator = sim.Shared(sim.Func(tieBattle))
	}
	t.Cleanup(func() {
		clientHook = nil
	})
	return []string{
		"--store", "memory",
		"--env-file", "",
		"--gen", "1",
		"--state-dir", filepath.Join(base, "state"),
		"--dex", filepath.Join("..", "..", "internal", "dex", "testdata", "dex.json"),
		"--log-level", "error",
	}
}

func TestInitOptimizeStatusExport(t *testing.T) {
	ctx := context.Background()
	common := commonArgs(t)
	outDir := filepath.Join(t.TempDir(), "exports")

	out, err := captureStdout(func() error {
		return run(ctx, append([]string{"init"}, common...))
	})
	if err != nil {
		t.Fatalf("init command: %v", err)
	}
	if !strings.Contains(out, "initialized gen=1 species=4 passes=0") {
		t.Fatalf("unexpected init output: %s", out)
	}

	out, err = captureStdout(func() error {
		return run(ctx, append([]string{"optimize", "--passes", "1", "--rounds", "2", "--round-step", "0"}, common...))
	})
	if err != nil {
		t.Fatalf("optimize command: %v", err)
	}
	if !strings.Contains(out, "optimized gen=1 passes=1") || !strings.Contains(out, "interrupted=false") {
		t.Fatalf("unexpected optimize output: %s", out)
	}

	out, err = captureStdout(func() error {
		return run(ctx, append([]string{"status"}, common...))
	})
	if err != nil {
		t.Fatalf("status command: %v", err)
	}
	if !strings.Contains(out, "gen=1 passes=1 species=4") || !strings.Contains(out, "species=Ditto moves=transform") {
		t.Fatalf("unexpected status output: %s", out)
	}

	out, err = captureStdout(func() error {
		return run(ctx, append([]string{"export", "--out", outDir}, common...))
	})
	if err != nil {
		t.Fatalf("export command: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outDir, "gen1-pass1", "matrix.txt")); err != nil {
		t.Fatalf("expected exported matrix: %v", err)
	}
}

func TestOptimizeCancelledIsGraceful(t *testing.T) {
	common := commonArgs(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := captureStdout(func() error {
		return run(ctx, append([]string{"optimize", "--passes", "1"}, common...))
	})
	if err != nil {
		t.Fatalf("expected cancelled optimize to succeed, got %v", err)
	}
	if !strings.Contains(out, "interrupted=true") {
		t.Fatalf("unexpected optimize output: %s", out)
	}
}

func TestMatchupRequiresSpecies(t *testing.T) {
	common := commonArgs(t)
	if err := run(context.Background(), append([]string{"matchup"}, common...)); err == nil {
		t.Fatal("expected error without --a and --b")
	}
}

func TestUnknownCommand(t *testing.T) {
	err := run(context.Background(), []string{"bogus"})
	if err == nil || !strings.Contains(err.Error(), "unknown command: bogus") {
		t.Fatalf("expected usage error, got %v", err)
	}
	if err := run(context.Background(), nil); err == nil {
		t.Fatal("expected usage error for missing command")
	}
}
