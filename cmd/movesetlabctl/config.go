package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"movesetlab/internal/refine"
	"movesetlab/internal/storage"
	"movesetlab/pkg/movesetlab"
)

type OptimizeConfig struct {
	Passes          int  `toml:"passes"`
	BroadRounds     int  `toml:"broad_rounds"`
	PromoteRounds   int  `toml:"promote_rounds"`
	ConfirmRounds   int  `toml:"confirm_rounds"`
	RoundStep       int  `toml:"round_step"`
	SubsampleStride int  `toml:"subsample_stride"`
	Cover           bool `toml:"cover"`
	FinalPass       bool `toml:"final_pass"`
	FinalRounds     int  `toml:"final_rounds"`
	CacheLimit      int  `toml:"cache_limit"`
}

type Config struct {
	Generation    int      `toml:"generation"`
	Store         string   `toml:"store"`
	DBPath        string   `toml:"db_path"`
	StateDir      string   `toml:"state_dir"`
	CompressState bool     `toml:"compress_state"`
	ExportsDir    string   `toml:"exports_dir"`
	DexPath       string   `toml:"dex_path"`
	SimCommand    string   `toml:"sim_command"`
	SimArgs       []string `toml:"sim_args"`
	Workers       int      `toml:"workers"`
	LogLevel      string   `toml:"log_level"`
	Listen        string   `toml:"listen"`

	Optimize OptimizeConfig `toml:"optimize"`
}

func defaultConfig() Config {
	return Config{
		Generation: 1,
		Store:      storage.DefaultStoreKind(),
		DBPath:     "movesetlab.db",
		StateDir:   "state",
		ExportsDir: "exports",
		DexPath:    "data/dex.json",
		Workers:    4,
		LogLevel:   "info",
		Listen:     "127.0.0.1:8080",
		Optimize: OptimizeConfig{
			BroadRounds:     refine.DefaultBroadRounds,
			PromoteRounds:   refine.DefaultPromoteRounds,
			ConfirmRounds:   refine.DefaultConfirmRounds,
			RoundStep:       refine.DefaultRoundStep,
			SubsampleStride: refine.DefaultSubsampleStride,
			FinalRounds:     refine.DefaultFinalRounds,
		},
	}
}

// loadConfigFile overlays a TOML file onto cfg. Keys absent from the file
// keep their current values.
func loadConfigFile(path string, cfg Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// loadEnvFile exports a dotenv file into the process environment without
// overriding variables that are already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg Config, lookup func(string) (string, bool)) (Config, error) {
	intVar := func(key string, dst *int) error {
		raw, ok := lookup(key)
		if !ok || raw == "" {
			return nil
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = v
		return nil
	}
	boolVar := func(key string, dst *bool) error {
		raw, ok := lookup(key)
		if !ok || raw == "" {
			return nil
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = v
		return nil
	}
	strVar := func(key string, dst *string) {
		if raw, ok := lookup(key); ok && raw != "" {
			*dst = raw
		}
	}

	for _, err := range []error{
		intVar("GEN", &cfg.Generation),
		intVar("ROUNDS", &cfg.Optimize.ConfirmRounds),
		intVar("WORKERS", &cfg.Workers),
		boolVar("COVER", &cfg.Optimize.Cover),
		boolVar("FINAL_PASS", &cfg.Optimize.FinalPass),
	} {
		if err != nil {
			return Config{}, err
		}
	}
	strVar("MOVESETLAB_DB", &cfg.DBPath)
	strVar("MOVESETLAB_STATE", &cfg.StateDir)
	strVar("MOVESETLAB_DEX", &cfg.DexPath)
	strVar("LOG_LEVEL", &cfg.LogLevel)
	if raw, ok := lookup("MOVESETLAB_SIM"); ok && raw != "" {
		fields := strings.Fields(raw)
		cfg.SimCommand = fields[0]
		cfg.SimArgs = fields[1:]
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Generation <= 0 {
		return fmt.Errorf("generation must be > 0")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be > 0")
	}
	switch c.Store {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unsupported store kind: %s", c.Store)
	}
	o := c.Optimize
	if o.BroadRounds <= 0 || o.PromoteRounds <= 0 || o.ConfirmRounds <= 0 {
		return fmt.Errorf("rounds must be > 0")
	}
	if o.Passes < 0 || o.RoundStep < 0 || o.CacheLimit < 0 {
		return fmt.Errorf("passes, round step and cache limit must be >= 0")
	}
	return nil
}

func (c Config) clientOptions() movesetlab.Options {
	return movesetlab.Options{
		StoreKind:     c.Store,
		DBPath:        c.DBPath,
		StateDir:      c.StateDir,
		ExportsDir:    c.ExportsDir,
		CompressState: c.CompressState,
		DexPath:       c.DexPath,
		SimCommand:    c.SimCommand,
		SimArgs:       c.SimArgs,
		Workers:       c.Workers,
	}
}

// commonFlags registers the flags every command shares. Only flags the user
// set are applied, so file and environment values survive flag defaults.
type commonFlags struct {
	fs *flag.FlagSet

	configPath *string
	envFile    *string
	gen        *int
	store      *string
	dbPath     *string
	stateDir   *string
	dexPath    *string
	sim        *string
	workers    *int
	logLevel   *string
}

func registerCommonFlags(fs *flag.FlagSet) *commonFlags {
	d := defaultConfig()
	return &commonFlags{
		fs:         fs,
		configPath: fs.String("config", "", "optional TOML config path"),
		envFile:    fs.String("env-file", ".env", "dotenv file loaded before reading the environment"),
		gen:        fs.Int("gen", d.Generation, "generation"),
		store:      fs.String("store", d.Store, "store backend: sqlite, or memory for throwaway runs"),
		dbPath:     fs.String("db-path", d.DBPath, "sqlite database path"),
		stateDir:   fs.String("state-dir", d.StateDir, "directory holding per-generation state files"),
		dexPath:    fs.String("dex", d.DexPath, "species database JSON path"),
		sim:        fs.String("sim", "", "simulator command line"),
		workers:    fs.Int("workers", d.Workers, "simulator worker count"),
		logLevel:   fs.String("log-level", d.LogLevel, "log level: debug|info|warn|error"),
	}
}

// resolve layers defaults, the config file, the environment and set flags.
func (f *commonFlags) resolve(extra func(cfg *Config, set map[string]bool)) (Config, error) {
	cfg := defaultConfig()
	if *f.configPath != "" {
		var err error
		if cfg, err = loadConfigFile(*f.configPath, cfg); err != nil {
			return Config{}, err
		}
	}
	if err := loadEnvFile(*f.envFile); err != nil {
		return Config{}, err
	}
	cfg, err := applyEnv(cfg, os.LookupEnv)
	if err != nil {
		return Config{}, err
	}

	set := make(map[string]bool)
	f.fs.Visit(func(fl *flag.Flag) {
		set[fl.Name] = true
	})
	if set["gen"] {
		cfg.Generation = *f.gen
	}
	if set["store"] {
		cfg.Store = *f.store
	}
	if set["db-path"] {
		cfg.DBPath = *f.dbPath
	}
	if set["state-dir"] {
		cfg.StateDir = *f.stateDir
	}
	if set["dex"] {
		cfg.DexPath = *f.dexPath
	}
	if set["sim"] {
		fields := strings.Fields(*f.sim)
		if len(fields) > 0 {
			cfg.SimCommand = fields[0]
			cfg.SimArgs = fields[1:]
		}
	}
	if set["workers"] {
		cfg.Workers = *f.workers
	}
	if set["log-level"] {
		cfg.LogLevel = *f.logLevel
	}
	if extra != nil {
		extra(&cfg, set)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
