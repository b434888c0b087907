package dex

import (
	"fmt"
	"strconv"
	"strings"

	"movesetlab/internal/model"
)

// Stat spreads and fixed set details shared by every generated team.
const (
	Nature = "Quirky"

	oldGenEV = 255
	oldGenIV = 30
	newGenEV = 85
	newGenIV = 31
)

// PackTeam serializes a single-creature team in the simulator's packed team
// format: name|species|item|ability|moves|nature|evs|gender|ivs|shiny|level|happiness.
func (d *Dex) PackTeam(sp model.Species, loadout model.Loadout, gen int) (model.PackedTeam, error) {
	if err := loadout.Validate(); err != nil {
		return "", fmt.Errorf("pack %s: %w", sp.Name, err)
	}
	level := sp.Level
	if level <= 0 {
		level = Level(sp)
	}

	ev, iv := newGenEV, newGenIV
	if gen <= 2 {
		ev, iv = oldGenEV, oldGenIV
	}

	name := sp.BaseSpecies
	if name == "" {
		name = sp.Name
	}
	species := ""
	if packName(name) != packName(sp.Name) {
		species = packName(sp.Name)
	}

	moves := make([]string, len(loadout))
	for i, m := range loadout {
		moves[i] = ToID(string(m))
	}

	fields := []string{
		name,
		species,
		"",
		ToID(d.BestAbility(sp, gen)),
		strings.Join(moves, ","),
		Nature,
		spread(ev),
		sp.Gender,
		spread(iv),
		"",
		packLevel(level),
		"",
	}
	return model.PackedTeam(strings.Join(fields, "|")), nil
}

func spread(v int) string {
	s := strconv.Itoa(v)
	return strings.Join([]string{s, s, s, s, s, s}, ",")
}

func packLevel(level int) string {
	if level == 100 {
		return ""
	}
	return strconv.Itoa(level)
}

func packName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
