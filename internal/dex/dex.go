// Package dex reads species, learnsets and abilities from a JSON data dump.
package dex

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/tidwall/gjson"

	"movesetlab/internal/model"
)

var (
	ErrNoLearnset     = errors.New("species has no usable learnset")
	ErrUnknownSpecies = errors.New("unknown species")
)

// Moves that never help in a single-creature battle.
var uselessMoves = map[model.MoveID]bool{
	"batonpass": true,
}

type speciesEntry struct {
	model.Species
	Gen   int
	Forme string
}

type abilityEntry struct {
	Name   string
	Gen    int
	Rating float64
}

// Dex is an immutable, in-memory species database.
type Dex struct {
	species   map[string]*speciesEntry
	order     []string
	learnsets map[string]map[model.MoveID][]string
	abilities map[string]abilityEntry
}

// Load reads a dump from disk; paths ending in .zst are decompressed first.
func Load(path string) (*Dex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dex %s: %w", path, err)
	}
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		if data, err = dec.DecodeAll(data, nil); err != nil {
			return nil, fmt.Errorf("decompress dex %s: %w", path, err)
		}
	}
	return Parse(data)
}

// Parse builds a Dex from a dump with top-level "species", "learnsets" and
// "abilities" objects keyed by id.
func Parse(data []byte) (*Dex, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("dex dump is not valid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.Get("species").IsObject() {
		return nil, errors.New("dex dump has no species object")
	}

	d := &Dex{
		species:   make(map[string]*speciesEntry),
		learnsets: make(map[string]map[model.MoveID][]string),
		abilities: make(map[string]abilityEntry),
	}

	root.Get("species").ForEach(func(k, v gjson.Result) bool {
		id := k.String()
		entry := &speciesEntry{
			Species: model.Species{
				Num:         int(v.Get("num").Int()),
				ID:          id,
				Name:        v.Get("name").String(),
				BaseSpecies: v.Get("baseSpecies").String(),
				Tier:        v.Get("tier").String(),
				Gender:      v.Get("gender").String(),
				NFE:         v.Get("nfe").Bool(),
				Prevo:       v.Get("prevo").String(),
			},
			Gen:   int(v.Get("gen").Int()),
			Forme: v.Get("forme").String(),
		}
		if entry.BaseSpecies == "" {
			entry.BaseSpecies = entry.Name
		}
		v.Get("abilities").ForEach(func(_, a gjson.Result) bool {
			if name := a.String(); name != "" && !slices.Contains(entry.Abilities, name) {
				entry.Abilities = append(entry.Abilities, name)
			}
			return true
		})
		d.species[id] = entry
		d.order = append(d.order, id)
		return true
	})

	root.Get("learnsets").ForEach(func(k, v gjson.Result) bool {
		moves := make(map[model.MoveID][]string)
		v.Get("learnset").ForEach(func(m, sources gjson.Result) bool {
			for _, s := range sources.Array() {
				moves[model.MoveID(m.String())] = append(moves[model.MoveID(m.String())], s.String())
			}
			return true
		})
		d.learnsets[k.String()] = moves
		return true
	})

	root.Get("abilities").ForEach(func(k, v gjson.Result) bool {
		d.abilities[k.String()] = abilityEntry{
			Name:   v.Get("name").String(),
			Gen:    int(v.Get("gen").Int()),
			Rating: v.Get("rating").Float(),
		}
		return true
	})

	return d, nil
}

// ToID lowercases and strips everything but letters and digits.
func ToID(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Species looks a species up by name or id.
func (d *Dex) Species(name string) (model.Species, bool) {
	entry, ok := d.species[ToID(name)]
	if !ok {
		return model.Species{}, false
	}
	sp := entry.Species
	sp.Level = Level(sp)
	return sp, true
}

// Roster lists the species introduced in generation gen, one per national
// number, base formes only, ordered by number.
func (d *Dex) Roster(gen int) ([]model.Species, error) {
	seen := make(map[int]bool)
	out := make([]model.Species, 0)
	for _, id := range d.order {
		entry := d.species[id]
		if entry.Num <= 0 || entry.Gen != gen || entry.Forme != "" || seen[entry.Num] {
			continue
		}
		seen[entry.Num] = true
		sp := entry.Species
		sp.Abilities = slices.Clone(entry.Abilities)
		sp.Level = Level(sp)
		out = append(out, sp)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no species for generation %d", gen)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Num < out[j].Num })
	return out, nil
}

// LearnableMoves merges the learnsets along the pre-evolution chain and keeps
// moves learned by level-up in generation gen at or below the species' battle
// level, highest level first.
func (d *Dex) LearnableMoves(sp model.Species, gen int) ([]model.MoveID, error) {
	level := sp.Level
	if level <= 0 {
		level = Level(sp)
	}

	merged := make(map[model.MoveID][]string)
	found := false
	id := ToID(sp.ID)
	if id == "" {
		id = ToID(sp.Name)
	}
	visited := make(map[string]bool)
	for id != "" && !visited[id] {
		visited[id] = true
		if ls, ok := d.learnsets[id]; ok {
			found = true
			for move, sources := range ls {
				merged[move] = append(merged[move], sources...)
			}
		}
		entry, ok := d.species[id]
		if !ok {
			break
		}
		id = ToID(entry.Prevo)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrNoLearnset, sp.Name)
	}

	prefix := strconv.Itoa(gen) + "L"
	learnedAt := make(map[model.MoveID]int)
	for move, sources := range merged {
		if uselessMoves[move] {
			continue
		}
		for _, src := range sources {
			if !strings.HasPrefix(src, prefix) {
				continue
			}
			lvl, err := strconv.Atoi(src[len(prefix):])
			if err != nil || lvl > level {
				continue
			}
			learnedAt[move] = lvl
			break
		}
	}
	if len(learnedAt) == 0 {
		return nil, fmt.Errorf("%w: %s in generation %d", ErrNoLearnset, sp.Name, gen)
	}

	moves := make([]model.MoveID, 0, len(learnedAt))
	for m := range learnedAt {
		moves = append(moves, m)
	}
	sort.Slice(moves, func(i, j int) bool {
		if learnedAt[moves[i]] != learnedAt[moves[j]] {
			return learnedAt[moves[i]] > learnedAt[moves[j]]
		}
		return moves[i] < moves[j]
	})
	return moves, nil
}

// BestAbility is the highest-rated generation 3 ability of the species.
// Generations without abilities get "No Ability".
func (d *Dex) BestAbility(sp model.Species, gen int) string {
	const none = "No Ability"
	if gen <= 2 {
		return none
	}
	best := ""
	bestRating := 0.0
	for _, name := range sp.Abilities {
		a, ok := d.abilities[ToID(name)]
		if !ok || a.Gen != 3 {
			continue
		}
		if best == "" || a.Rating > bestRating {
			best, bestRating = a.Name, a.Rating
		}
	}
	if best == "" {
		return none
	}
	return best
}
