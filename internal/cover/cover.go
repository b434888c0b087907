// Package cover picks a short list of loadouts that together perform best
// against every opponent when the loadout may be swapped per opponent.
package cover

import (
	"math"
	"sort"

	"movesetlab/internal/model"
)

const (
	DefaultMaxSize       = 4
	DefaultMaxDepth      = 15
	DefaultBranch        = 5
	DefaultMinNovelMoves = 1
)

// Candidate is one loadout with its score against each opponent. NaN marks an
// undefined score and counts as zero.
type Candidate struct {
	Scores []float64
	Moves  model.Loadout
}

type Options struct {
	MaxSize  int
	MaxDepth int
	Branch   int
	// MinNovelMoves is how many not yet covered moves each added candidate
	// must bring.
	MinNovelMoves int
	// MoveBudget caps distinct moves across the selection. Zero is unlimited.
	MoveBudget int
}

func DefaultOptions() Options {
	return Options{
		MaxSize:       DefaultMaxSize,
		MaxDepth:      DefaultMaxDepth,
		Branch:        DefaultBranch,
		MinNovelMoves: DefaultMinNovelMoves,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxSize <= 0 {
		o.MaxSize = DefaultMaxSize
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	if o.Branch <= 0 {
		o.Branch = DefaultBranch
	}
	if o.MinNovelMoves < 0 {
		o.MinNovelMoves = 0
	}
	return o
}

// Selection lists chosen candidate indexes in the order they were added.
type Selection struct {
	Indices []int
	Score   float64
}

func (s Selection) Empty() bool {
	return len(s.Indices) == 0
}

func score(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}

// Total is the candidate's summed defined score.
func (c Candidate) Total() float64 {
	total := 0.0
	for _, v := range c.Scores {
		total += score(v)
	}
	return total
}

type node struct {
	path    []int
	covered []float64
	moves   map[model.MoveID]struct{}
	start   int
	score   float64
}

type searcher struct {
	cands []Candidate
	order []int
	// suffix[p][j] is the best score on opponent j among order[p:].
	suffix [][]float64
	limit  int
	opts   Options
}

// Select runs the branch-and-bound search. With no feasible selection it
// falls back to the single best candidate.
func Select(cands []Candidate, opts Options) Selection {
	if len(cands) == 0 {
		return Selection{}
	}
	opts = opts.withDefaults()

	opponents := 0
	for _, c := range cands {
		if len(c.Scores) > opponents {
			opponents = len(c.Scores)
		}
	}

	totals := make([]float64, len(cands))
	order := make([]int, len(cands))
	for i, c := range cands {
		totals[i] = c.Total()
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return totals[order[a]] > totals[order[b]]
	})

	suffix := make([][]float64, len(order)+1)
	suffix[len(order)] = make([]float64, opponents)
	for p := len(order) - 1; p >= 0; p-- {
		row := append([]float64(nil), suffix[p+1]...)
		for j, v := range cands[order[p]].Scores {
			if s := score(v); s > row[j] {
				row[j] = s
			}
		}
		suffix[p] = row
	}

	limit := opts.MaxSize
	if opts.MaxDepth < limit {
		limit = opts.MaxDepth
	}
	s := &searcher{cands: cands, order: order, suffix: suffix, limit: limit, opts: opts}

	root := node{covered: make([]float64, opponents), moves: map[model.MoveID]struct{}{}}
	bestScore, bestPath := s.search(root, -1, nil)
	if len(bestPath) == 0 {
		return Selection{Indices: []int{order[0]}, Score: totals[order[0]]}
	}
	return Selection{Indices: bestPath, Score: bestScore}
}

func (s *searcher) search(n node, bestScore float64, bestPath []int) (float64, []int) {
	if len(n.path) > 0 && n.score > bestScore {
		bestScore, bestPath = n.score, n.path
	}
	if len(n.path) >= s.limit || n.start >= len(s.order) {
		return bestScore, bestPath
	}
	if n.score+s.gainBound(n) <= bestScore {
		return bestScore, bestPath
	}

	children := 0
	for p := n.start; p < len(s.order) && children < s.opts.Branch; p++ {
		idx := s.order[p]
		novel := 0
		for _, m := range s.cands[idx].Moves {
			if _, ok := n.moves[m]; !ok {
				novel++
			}
		}
		if novel < s.opts.MinNovelMoves {
			continue
		}
		if s.opts.MoveBudget > 0 && len(n.moves)+novel > s.opts.MoveBudget {
			continue
		}
		children++
		bestScore, bestPath = s.search(s.extend(n, p), bestScore, bestPath)
	}
	return bestScore, bestPath
}

func (s *searcher) gainBound(n node) float64 {
	gain := 0.0
	for j, best := range s.suffix[n.start] {
		if best > n.covered[j] {
			gain += best - n.covered[j]
		}
	}
	return gain
}

func (s *searcher) extend(n node, p int) node {
	idx := s.order[p]
	path := make([]int, len(n.path)+1)
	copy(path, n.path)
	path[len(n.path)] = idx

	covered := append([]float64(nil), n.covered...)
	total := 0.0
	for j := range covered {
		if j < len(s.cands[idx].Scores) {
			if v := score(s.cands[idx].Scores[j]); v > covered[j] {
				covered[j] = v
			}
		}
		total += covered[j]
	}

	moves := make(map[model.MoveID]struct{}, len(n.moves)+len(s.cands[idx].Moves))
	for m := range n.moves {
		moves[m] = struct{}{}
	}
	for _, m := range s.cands[idx].Moves {
		moves[m] = struct{}{}
	}
	return node{path: path, covered: covered, moves: moves, start: p + 1, score: total}
}

// Alternates returns, per opponent, the selected candidate scoring best
// against it. Opponents where no selected candidate has a defined score get
// the selection's first candidate.
func Alternates(sel Selection, cands []Candidate, opponents int) []int {
	out := make([]int, opponents)
	if sel.Empty() {
		for j := range out {
			out[j] = -1
		}
		return out
	}
	for j := range out {
		out[j] = sel.Indices[0]
		best := math.Inf(-1)
		for _, idx := range sel.Indices {
			if j >= len(cands[idx].Scores) || math.IsNaN(cands[idx].Scores[j]) {
				continue
			}
			if v := cands[idx].Scores[j]; v > best {
				best = v
				out[j] = idx
			}
		}
	}
	return out
}
