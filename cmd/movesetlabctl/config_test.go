package main

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
)

func TestApplyEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "movesetlab.toml")
	content := `
generation = 2
workers = 3
sim_command = "node"
sim_args = ["sim.js"]

[optimize]
confirm_rounds = 5
cover = true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadConfigFile(path, defaultConfig())
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Generation != 2 || cfg.Workers != 3 || cfg.SimCommand != "node" || len(cfg.SimArgs) != 1 {
		t.Fatalf("unexpected file config: %+v", cfg)
	}
	if cfg.Optimize.ConfirmRounds != 5 || !cfg.Optimize.Cover {
		t.Fatalf("unexpected optimize section: %+v", cfg.Optimize)
	}
	if cfg.Optimize.BroadRounds != 1 || cfg.DexPath != "data/dex.json" {
		t.Fatalf("expected defaults to survive missing keys: %+v", cfg)
	}

	env := map[string]string{
		"GEN":            "3",
		"ROUNDS":         "12",
		"FINAL_PASS":     "true",
		"MOVESETLAB_SIM": "python3 -u battle.py",
		"LOG_LEVEL":      "debug",
	}
	cfg, err = applyEnv(cfg, func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})
	if err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.Generation != 3 || cfg.Optimize.ConfirmRounds != 12 || !cfg.Optimize.FinalPass || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected env config: %+v", cfg)
	}
	if cfg.SimCommand != "python3" || len(cfg.SimArgs) != 2 || cfg.SimArgs[1] != "battle.py" {
		t.Fatalf("unexpected simulator command: %s %v", cfg.SimCommand, cfg.SimArgs)
	}
	if cfg.Workers != 3 {
		t.Fatalf("expected file workers to survive, got %d", cfg.Workers)
	}

	if _, err := applyEnv(cfg, func(key string) (string, bool) {
		if key == "WORKERS" {
			return "many", true
		}
		return "", false
	}); err == nil {
		t.Fatal("expected error for non-numeric WORKERS")
	}
}

func TestSetFlagsWinOverEnvironment(t *testing.T) {
	t.Setenv("GEN", "4")
	t.Setenv("WORKERS", "6")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	common := registerCommonFlags(fs)
	if err := fs.Parse([]string{"--gen", "2", "--env-file", ""}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	cfg, err := common.resolve(nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Generation != 2 {
		t.Fatalf("expected flag generation 2, got %d", cfg.Generation)
	}
	if cfg.Workers != 6 {
		t.Fatalf("expected environment workers 6, got %d", cfg.Workers)
	}
}

func TestLoadEnvFileDoesNotOverrideEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("GEN=7\nMOVESETLAB_DEX=/tmp/dex.json\n"), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("GEN", "2")
	t.Setenv("MOVESETLAB_DEX", "")
	os.Unsetenv("MOVESETLAB_DEX")

	if err := loadEnvFile(path); err != nil {
		t.Fatalf("load env file: %v", err)
	}
	if got := os.Getenv("GEN"); got != "2" {
		t.Fatalf("expected existing GEN to win, got %s", got)
	}
	if got := os.Getenv("MOVESETLAB_DEX"); got != "/tmp/dex.json" {
		t.Fatalf("expected MOVESETLAB_DEX from file, got %q", got)
	}
	if err := loadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("expected missing env file to be ignored, got %v", err)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cfg := defaultConfig()
	cfg.Store = "postgres"
	if err := cfg.validate(); err == nil {
		t.Fatal("expected unsupported store error")
	}
	cfg = defaultConfig()
	cfg.Workers = 0
	if err := cfg.validate(); err == nil {
		t.Fatal("expected workers error")
	}
	cfg = defaultConfig()
	cfg.Optimize.ConfirmRounds = 0
	if err := cfg.validate(); err == nil {
		t.Fatal("expected rounds error")
	}
}
