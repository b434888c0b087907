// Package candidates enumerates move loadouts for a species.
package candidates

import "movesetlab/internal/model"

func clampSize(n, maxSize int) int {
	if maxSize > model.MaxLoadoutSize {
		maxSize = model.MaxLoadoutSize
	}
	if maxSize > n {
		maxSize = n
	}
	return maxSize
}

// Count is the number of loadouts Generate yields: sum of C(n,k) for
// k = 1..maxSize.
func Count(n, maxSize int) int {
	maxSize = clampSize(n, maxSize)
	total := 0
	c := 1
	for k := 1; k <= maxSize; k++ {
		c = c * (n - k + 1) / k
		total += c
	}
	return total
}

// Each calls fn for every combination of 1..maxSize moves from pool, keeping
// pool order inside each loadout. The loadout passed to fn is reused; clone
// it to keep it. Returning false stops the walk.
func Each(pool []model.MoveID, maxSize int, fn func(model.Loadout) bool) {
	maxSize = clampSize(len(pool), maxSize)
	buf := make(model.Loadout, 0, model.MaxLoadoutSize)
	for size := 1; size <= maxSize; size++ {
		if !combine(pool, 0, size, buf, fn) {
			return
		}
	}
}

func combine(pool []model.MoveID, start, size int, buf model.Loadout, fn func(model.Loadout) bool) bool {
	if len(buf) == size {
		return fn(buf)
	}
	need := size - len(buf)
	for i := start; i <= len(pool)-need; i++ {
		if !combine(pool, i+1, size, append(buf, pool[i]), fn) {
			return false
		}
	}
	return true
}

// Generate materializes every loadout Each would yield.
func Generate(pool []model.MoveID, maxSize int) []model.Loadout {
	out := make([]model.Loadout, 0, Count(len(pool), maxSize))
	Each(pool, maxSize, func(l model.Loadout) bool {
		out = append(out, l.Clone())
		return true
	})
	return out
}

// Batches streams loadouts to fn in slices of at most size.
func Batches(pool []model.MoveID, maxSize, size int, fn func([]model.Loadout) error) error {
	if size <= 0 {
		size = Count(len(pool), maxSize)
	}
	batch := make([]model.Loadout, 0, size)
	var err error
	Each(pool, maxSize, func(l model.Loadout) bool {
		batch = append(batch, l.Clone())
		if len(batch) < size {
			return true
		}
		err = fn(batch)
		batch = make([]model.Loadout, 0, size)
		return err == nil
	})
	if err != nil {
		return err
	}
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}
