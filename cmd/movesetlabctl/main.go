package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"movesetlab/pkg/movesetlab"
)

// clientHook lets tests adjust client options before the client is built.
var clientHook func(*movesetlab.Options)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "optimize":
		return runOptimize(ctx, args[1:])
	case "status":
		return runStatus(ctx, args[1:])
	case "passes":
		return runPasses(ctx, args[1:])
	case "matchup":
		return runMatchup(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	case "serve":
		return runServe(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: movesetlabctl <init|optimize|status|passes|matchup|export|serve> [flags]", msg)
}

func newClient(cfg Config) (*movesetlab.Client, error) {
	log, err := newLogger(os.Stderr, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	opts := cfg.clientOptions()
	opts.Logger = &log
	if clientHook != nil {
		clientHook(&opts)
	}
	return movesetlab.New(opts)
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	common := registerCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := common.resolve(nil)
	if err != nil {
		return err
	}

	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	state, err := client.Init(ctx, cfg.Generation)
	if err != nil {
		return err
	}
	fmt.Printf("initialized gen=%d species=%d passes=%d state=%s\n",
		state.Generation, len(state.Species), state.Passes, filepath.Clean(client.StatePath(cfg.Generation)))
	return nil
}

func runOptimize(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("optimize", flag.ContinueOnError)
	common := registerCommonFlags(fs)
	d := defaultConfig().Optimize
	passes := fs.Int("passes", d.Passes, "passes to run (0 runs until interrupted)")
	rounds := fs.Int("rounds", d.ConfirmRounds, "confirmation rounds per matchup")
	broadRounds := fs.Int("broad-rounds", d.BroadRounds, "rounds per matchup in the broad stage")
	promoteRounds := fs.Int("promote-rounds", d.PromoteRounds, "rounds per matchup in the promotion stage")
	roundStep := fs.Int("round-step", d.RoundStep, "rounds added to every stage per completed pass")
	stride := fs.Int("stride", d.SubsampleStride, "broad stage plays every n-th opponent")
	cover := fs.Bool("cover", d.Cover, "record per-opponent alternate loadouts")
	finalPass := fs.Bool("final-pass", d.FinalPass, "replay every pair of best teams after each pass")
	finalRounds := fs.Int("final-rounds", d.FinalRounds, "rounds per pair in the final pass")
	cacheLimit := fs.Int("cache-limit", d.CacheLimit, "drop the result cache above this many rows (0 keeps all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := common.resolve(func(cfg *Config, set map[string]bool) {
		o := &cfg.Optimize
		if set["passes"] {
			o.Passes = *passes
		}
		if set["rounds"] {
			o.ConfirmRounds = *rounds
		}
		if set["broad-rounds"] {
			o.BroadRounds = *broadRounds
		}
		if set["promote-rounds"] {
			o.PromoteRounds = *promoteRounds
		}
		if set["round-step"] {
			o.RoundStep = *roundStep
		}
		if set["stride"] {
			o.SubsampleStride = *stride
		}
		if set["cover"] {
			o.Cover = *cover
		}
		if set["final-pass"] {
			o.FinalPass = *finalPass
		}
		if set["final-rounds"] {
			o.FinalRounds = *finalRounds
		}
		if set["cache-limit"] {
			o.CacheLimit = *cacheLimit
		}
	})
	if err != nil {
		return err
	}

	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	o := cfg.Optimize
	step := o.RoundStep
	summary, err := client.Optimize(ctx, movesetlab.OptimizeRequest{
		Generation:      cfg.Generation,
		Passes:          o.Passes,
		BroadRounds:     o.BroadRounds,
		PromoteRounds:   o.PromoteRounds,
		ConfirmRounds:   o.ConfirmRounds,
		RoundStep:       &step,
		SubsampleStride: o.SubsampleStride,
		Workers:         cfg.Workers,
		Cover:           o.Cover,
		FinalPass:       o.FinalPass,
		FinalRounds:     o.FinalRounds,
		CacheLimit:      o.CacheLimit,
	})
	interrupted := errors.Is(err, context.Canceled)
	if err != nil && !interrupted {
		return err
	}
	fmt.Printf("optimized gen=%d passes=%d improved=%d simulations=%s dropped=%d interrupted=%t state=%s\n",
		summary.Generation,
		summary.Passes,
		summary.Improved,
		humanize.Comma(summary.Simulations),
		summary.Dropped,
		interrupted,
		filepath.Clean(summary.StatePath),
	)
	return nil
}

func runStatus(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	common := registerCommonFlags(fs)
	jsonOut := fs.Bool("json", false, "emit the state as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := common.resolve(nil)
	if err != nil {
		return err
	}

	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	state, err := client.State(ctx, cfg.Generation)
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(state)
	}

	fmt.Printf("gen=%d passes=%d species=%d\n", state.Generation, state.Passes, len(state.Species))
	for _, sp := range state.Species {
		alts := make([]string, 0, len(sp.Alternates))
		for _, alt := range sp.Alternates {
			alts = append(alts, fmt.Sprintf("%d:%s", alt.Opponent, alt.Loadout))
		}
		fmt.Printf("num=%d species=%s moves=%s learnset=%d alternates=%s\n",
			sp.Num, sp.Name, sp.Loadout, len(sp.Learnset), strings.Join(alts, ";"))
	}
	return nil
}

func runPasses(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("passes", flag.ContinueOnError)
	common := registerCommonFlags(fs)
	limit := fs.Int("limit", 20, "max passes to list")
	jsonOut := fs.Bool("json", false, "emit passes as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}
	cfg, err := common.resolve(nil)
	if err != nil {
		return err
	}

	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	passes, err := client.Passes(ctx, cfg.Generation, *limit)
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(passes)
	}
	if len(passes) == 0 {
		fmt.Println("no passes found")
		return nil
	}
	for _, p := range passes {
		fmt.Printf("pass=%d id=%s rounds=%d improved=%d/%d simulations=%s dropped=%d started_at=%s finished_at=%s\n",
			p.Index, p.ID, p.Rounds, p.Improved, p.Species, humanize.Comma(p.Simulations), p.Dropped, p.StartedAt, p.FinishedAt)
	}
	return nil
}

func runMatchup(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("matchup", flag.ContinueOnError)
	common := registerCommonFlags(fs)
	a := fs.Int("a", 0, "species number on side A")
	b := fs.Int("b", 0, "species number on side B")
	jsonOut := fs.Bool("json", false, "emit the matchup as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *a <= 0 || *b <= 0 {
		return errors.New("matchup requires --a and --b species numbers")
	}
	cfg, err := common.resolve(nil)
	if err != nil {
		return err
	}

	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	m, err := client.Matchup(ctx, cfg.Generation, *a, *b)
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(m)
	}
	score := "n/a"
	if m.Defined {
		score = fmt.Sprintf("%.4f", m.Score)
	}
	fmt.Printf("a=%s(%s) b=%s(%s) win=%d loss=%d tie=%d score=%s\n",
		m.A.Name, m.A.Loadout, m.B.Name, m.B.Loadout, m.Row.Win, m.Row.Loss, m.Row.Tie, score)
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	common := registerCommonFlags(fs)
	outDir := fs.String("out", defaultConfig().ExportsDir, "export output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := common.resolve(nil)
	if err != nil {
		return err
	}

	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	dir, err := client.Export(ctx, cfg.Generation, *outDir)
	if err != nil {
		return err
	}
	fmt.Printf("exported gen=%d to=%s\n", cfg.Generation, filepath.Clean(dir))
	return nil
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	common := registerCommonFlags(fs)
	listen := fs.String("listen", defaultConfig().Listen, "listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := common.resolve(func(cfg *Config, set map[string]bool) {
		if set["listen"] {
			cfg.Listen = *listen
		}
	})
	if err != nil {
		return err
	}

	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           client.Handler(cfg.Generation),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	fmt.Printf("serving gen=%d on %s\n", cfg.Generation, cfg.Listen)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func printJSON(value any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
