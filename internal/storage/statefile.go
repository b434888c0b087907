package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"movesetlab/internal/model"
)

const compressedSuffix = ".zst"

// ReadStateFile loads a generation snapshot. A missing file reports ok=false;
// anything unreadable is an error so callers never silently start over.
func ReadStateFile(path string) (model.GenerationState, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.GenerationState{}, false, nil
		}
		return model.GenerationState{}, false, fmt.Errorf("read state %s: %w", path, err)
	}
	if strings.HasSuffix(path, compressedSuffix) {
		decoder, err := zstd.NewReader(nil)
		if err != nil {
			return model.GenerationState{}, false, fmt.Errorf("create zstd decoder: %w", err)
		}
		defer decoder.Close()
		data, err = decoder.DecodeAll(data, nil)
		if err != nil {
			return model.GenerationState{}, false, fmt.Errorf("%w: %s: %v", ErrCorruptState, path, err)
		}
	}
	state, err := DecodeState(data)
	if err != nil {
		return model.GenerationState{}, false, fmt.Errorf("state %s: %w", path, err)
	}
	return state, true, nil
}

// WriteStateFile replaces the snapshot atomically via a sibling temp file.
func WriteStateFile(path string, state model.GenerationState) error {
	data, err := EncodeState(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if strings.HasSuffix(path, compressedSuffix) {
		encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
		if err != nil {
			return fmt.Errorf("create zstd encoder: %w", err)
		}
		data = encoder.EncodeAll(data, nil)
		if err := encoder.Close(); err != nil {
			return fmt.Errorf("close zstd encoder: %w", err)
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace state %s: %w", path, err)
	}
	return nil
}
