package cover

import (
	"math"
	"math/rand"
	"testing"

	"movesetlab/internal/model"
)

func cand(moves string, scores ...float64) Candidate {
	l := model.Loadout{}
	for _, r := range moves {
		l = append(l, model.MoveID(string(r)))
	}
	return Candidate{Scores: scores, Moves: l}
}

func TestSelectCombinesComplementaryLoadouts(t *testing.T) {
	cands := []Candidate{
		cand("a", 2, 0, 0),
		cand("b", 0, 2, 0),
		cand("c", 0, 0, 2),
		cand("d", 1, 1, 1),
	}

	sel := Select(cands, DefaultOptions())
	if sel.Score != 6 {
		t.Fatalf("expected full coverage score 6, got %v (%v)", sel.Score, sel.Indices)
	}
	if len(sel.Indices) > DefaultMaxSize {
		t.Fatalf("selection too large: %v", sel.Indices)
	}

	pair := Select(cands, Options{MaxSize: 2})
	if pair.Score != 4 || len(pair.Indices) != 2 {
		t.Fatalf("expected best pair score 4, got %v (%v)", pair.Score, pair.Indices)
	}
}

func TestSelectMatchesExhaustiveSearch(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 20; trial++ {
		n := 3 + rng.Intn(6)
		opponents := 2 + rng.Intn(5)
		cands := make([]Candidate, n)
		for i := range cands {
			scores := make([]float64, opponents)
			for j := range scores {
				scores[j] = float64(rng.Intn(5)) / 2
			}
			cands[i] = Candidate{Scores: scores, Moves: model.Loadout{model.MoveID(rune('a' + i))}}
		}

		opts := Options{MaxSize: 3, MaxDepth: 15, Branch: n, MinNovelMoves: 0}
		sel := Select(cands, opts)
		want := exhaustive(cands, 3)
		if math.Abs(sel.Score-want) > 1e-9 {
			t.Fatalf("trial %d: got %v want %v", trial, sel.Score, want)
		}
	}
}

func exhaustive(cands []Candidate, maxSize int) float64 {
	best := 0.0
	for mask := 1; mask < 1<<len(cands); mask++ {
		size := 0
		var covered []float64
		for i := range cands {
			if mask&(1<<i) == 0 {
				continue
			}
			size++
			if covered == nil {
				covered = make([]float64, len(cands[i].Scores))
			}
			for j, v := range cands[i].Scores {
				if v > covered[j] {
					covered[j] = v
				}
			}
		}
		if size > maxSize {
			continue
		}
		total := 0.0
		for _, v := range covered {
			total += v
		}
		if total > best {
			best = total
		}
	}
	return best
}

func TestSelectRespectsBoundsAndBeatsSingletons(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for trial := 0; trial < 30; trial++ {
		n := 1 + rng.Intn(25)
		cands := make([]Candidate, n)
		bestSingle := 0.0
		for i := range cands {
			scores := make([]float64, 10)
			for j := range scores {
				if rng.Intn(8) == 0 {
					scores[j] = math.NaN()
					continue
				}
				scores[j] = float64(rng.Intn(3))
			}
			moves := model.Loadout{}
			for k := 0; k < 1+rng.Intn(4); k++ {
				m := model.MoveID(rune('a' + rng.Intn(8)))
				if !moves.Contains(m) {
					moves = append(moves, m)
				}
			}
			cands[i] = Candidate{Scores: scores, Moves: moves}
			if total := cands[i].Total(); total > bestSingle {
				bestSingle = total
			}
		}

		opts := Options{MaxSize: 3, MaxDepth: 2, Branch: 4, MinNovelMoves: 1}
		sel := Select(cands, opts)
		if len(sel.Indices) == 0 || len(sel.Indices) > 2 {
			t.Fatalf("trial %d: selection size %d outside [1,2]", trial, len(sel.Indices))
		}
		if sel.Score < bestSingle {
			t.Fatalf("trial %d: score %v below best singleton %v", trial, sel.Score, bestSingle)
		}
	}
}

func TestSelectRequiresNovelMoves(t *testing.T) {
	cands := []Candidate{
		cand("a", 2, 0),
		cand("a", 0, 2),
	}
	sel := Select(cands, DefaultOptions())
	if len(sel.Indices) != 1 || sel.Score != 2 {
		t.Fatalf("expected a single loadout, got %v score %v", sel.Indices, sel.Score)
	}

	budget := Select([]Candidate{
		cand("ab", 2, 0),
		cand("cd", 0, 2),
	}, Options{MoveBudget: 3})
	if len(budget.Indices) != 1 {
		t.Fatalf("expected move budget to block the pair, got %v", budget.Indices)
	}
}

func TestSelectFallsBackToBestCandidate(t *testing.T) {
	if sel := Select(nil, DefaultOptions()); !sel.Empty() {
		t.Fatalf("expected empty selection, got %v", sel.Indices)
	}

	cands := []Candidate{
		{Scores: []float64{1}},
		{Scores: []float64{2}},
	}
	sel := Select(cands, DefaultOptions())
	if len(sel.Indices) != 1 || sel.Indices[0] != 1 || sel.Score != 2 {
		t.Fatalf("expected fallback to candidate 1, got %v score %v", sel.Indices, sel.Score)
	}
}

func TestAlternatesPicksBestSelectedPerOpponent(t *testing.T) {
	cands := []Candidate{
		cand("a", 2, 0, math.NaN()),
		cand("b", 0, 2, math.NaN()),
		cand("c", 1, 1, 1),
	}
	sel := Selection{Indices: []int{2, 0, 1}}
	got := Alternates(sel, cands, 3)
	want := []int{0, 1, 2}
	for j := range want {
		if got[j] != want[j] {
			t.Fatalf("opponent %d: got %d want %d", j, got[j], want[j])
		}
	}

	undefined := Alternates(Selection{Indices: []int{0, 1}}, cands, 3)
	if undefined[2] != 0 {
		t.Fatalf("expected default candidate for undefined opponent, got %d", undefined[2])
	}
}
