package refine

import (
	"fmt"

	"movesetlab/internal/cover"
	"movesetlab/internal/model"
)

const (
	DefaultSubsampleStride = 16
	DefaultPromoteLimit    = 100
	DefaultPromoteRatio    = 0.7
	DefaultConfirmLimit    = 20
	DefaultConfirmRatio    = 0.9
	DefaultBroadRounds     = 1
	DefaultPromoteRounds   = 1
	DefaultConfirmRounds   = 10
	DefaultRoundStep       = 1
	DefaultBatchCandidates = 2048
	DefaultFinalRounds     = 100
)

type Config struct {
	Generation int
	// StatePath is the per-generation snapshot. Empty keeps state in memory.
	StatePath string

	BroadRounds   int
	PromoteRounds int
	ConfirmRounds int
	// RoundStep is added to the confirmation rounds once per completed pass.
	// The broad and promotion stages always play their base rounds.
	RoundStep int

	SubsampleStride int
	PromoteLimit    int
	PromoteRatio    float64
	ConfirmLimit    int
	ConfirmRatio    float64
	BatchCandidates int
	MaxLoadoutSize  int

	Cover        bool
	CoverOptions cover.Options

	FinalPass   bool
	FinalRounds int

	// MaxPasses stops Run after that many passes. Zero runs until cancelled.
	MaxPasses int
	// CacheLimit drops the result cache once it holds more rows. Zero keeps
	// everything.
	CacheLimit int
}

func DefaultConfig(generation int) Config {
	return Config{
		Generation:      generation,
		BroadRounds:     DefaultBroadRounds,
		PromoteRounds:   DefaultPromoteRounds,
		ConfirmRounds:   DefaultConfirmRounds,
		RoundStep:       DefaultRoundStep,
		SubsampleStride: DefaultSubsampleStride,
		PromoteLimit:    DefaultPromoteLimit,
		PromoteRatio:    DefaultPromoteRatio,
		ConfirmLimit:    DefaultConfirmLimit,
		ConfirmRatio:    DefaultConfirmRatio,
		BatchCandidates: DefaultBatchCandidates,
		MaxLoadoutSize:  model.MaxLoadoutSize,
		CoverOptions:    cover.DefaultOptions(),
		FinalRounds:     DefaultFinalRounds,
	}
}

func (c Config) validate() error {
	if c.Generation <= 0 {
		return fmt.Errorf("generation must be > 0")
	}
	if c.BroadRounds <= 0 || c.PromoteRounds <= 0 || c.ConfirmRounds <= 0 {
		return fmt.Errorf("stage rounds must be > 0")
	}
	if c.RoundStep < 0 {
		return fmt.Errorf("round step must be >= 0")
	}
	if c.SubsampleStride <= 0 {
		return fmt.Errorf("subsample stride must be > 0")
	}
	if c.PromoteLimit <= 0 || c.ConfirmLimit <= 0 {
		return fmt.Errorf("promotion limits must be > 0")
	}
	if c.PromoteRatio < 0 || c.ConfirmRatio < 0 {
		return fmt.Errorf("promotion ratios must be >= 0")
	}
	if c.BatchCandidates <= 0 {
		return fmt.Errorf("candidate batch size must be > 0")
	}
	if c.MaxLoadoutSize <= 0 || c.MaxLoadoutSize > model.MaxLoadoutSize {
		return fmt.Errorf("max loadout size must be in [1, %d]", model.MaxLoadoutSize)
	}
	if c.FinalPass && c.FinalRounds <= 0 {
		return fmt.Errorf("final rounds must be > 0")
	}
	if c.MaxPasses < 0 {
		return fmt.Errorf("max passes must be >= 0")
	}
	return nil
}

// confirmRounds is the confirmation target for pass.
func (c Config) confirmRounds(pass int) int {
	return c.ConfirmRounds + pass*c.RoundStep
}
