package dex

import "movesetlab/internal/model"

var tierLevels = map[string]int{
	"Uber": 76,
	"OU":   80,
	"UUBL": 82,
	"UU":   84,
	"NUBL": 86,
	"NU":   88,
	"NFE":  90,
}

var fixedLevels = map[string]int{
	"Ditto": 99,
	"Unown": 99,
}

// Level is the battle level that roughly evens out species across tiers.
func Level(sp model.Species) int {
	if lvl, ok := fixedLevels[sp.Name]; ok {
		return lvl
	}
	if lvl, ok := tierLevels[sp.Tier]; ok {
		return lvl
	}
	if sp.NFE {
		return 90
	}
	return 80
}
