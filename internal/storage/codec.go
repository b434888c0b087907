package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"movesetlab/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var (
	ErrVersionMismatch = errors.New("record version mismatch")
	ErrCorruptState    = errors.New("corrupt generation state")
)

// NewGenerationState returns an empty state stamped with the current versions.
func NewGenerationState(generation int) model.GenerationState {
	return model.GenerationState{
		VersionedRecord: model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion},
		Generation:      generation,
	}
}

func EncodeState(state model.GenerationState) ([]byte, error) {
	if err := checkVersion(state.VersionedRecord); err != nil {
		return nil, err
	}
	if err := validateState(state); err != nil {
		return nil, err
	}
	return json.MarshalIndent(state, "", "  ")
}

// DecodeState parses a snapshot, rejecting unknown fields, trailing data,
// version drift and duplicate species.
func DecodeState(data []byte) (model.GenerationState, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var state model.GenerationState
	if err := dec.Decode(&state); err != nil {
		return model.GenerationState{}, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return model.GenerationState{}, fmt.Errorf("%w: trailing data after snapshot", ErrCorruptState)
	}
	if err := checkVersion(state.VersionedRecord); err != nil {
		return model.GenerationState{}, fmt.Errorf("%w: schema=%d codec=%d", err, state.SchemaVersion, state.CodecVersion)
	}
	if err := validateState(state); err != nil {
		return model.GenerationState{}, err
	}
	return state, nil
}

func validateState(state model.GenerationState) error {
	if state.Generation <= 0 {
		return fmt.Errorf("%w: generation %d", ErrCorruptState, state.Generation)
	}
	if state.Passes < 0 {
		return fmt.Errorf("%w: negative pass count", ErrCorruptState)
	}
	seen := make(map[int]struct{}, len(state.Species))
	for i, sp := range state.Species {
		if _, dup := seen[sp.Num]; dup {
			return fmt.Errorf("%w: duplicate species %d at index %d", ErrCorruptState, sp.Num, i)
		}
		seen[sp.Num] = struct{}{}
		if sp.Team == "" {
			return fmt.Errorf("%w: species %d has no team", ErrCorruptState, sp.Num)
		}
		if err := sp.Loadout.Validate(); err != nil {
			return fmt.Errorf("%w: species %d: %v", ErrCorruptState, sp.Num, err)
		}
	}
	return nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
