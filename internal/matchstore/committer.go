package matchstore

import (
	"context"
	"fmt"
	"sort"

	"movesetlab/internal/battlespec"
	"movesetlab/internal/model"
)

// CommitSummary reports what a commit folded into the store.
type CommitSummary struct {
	Committed int
	Discarded int
	Matchups  int
}

// Committer folds executor outcomes back into the store.
type Committer struct {
	Store *Store
}

// Commit applies the outcomes produced for spec. For each matchup it counts
// only the contiguous run of seeds starting at the matchup's played count, so
// the seeds ever counted for a matchup are exactly 0..played-1. Outcomes after
// a dropped seed are discarded and get re-requested by the next build.
func (c Committer) Commit(ctx context.Context, spec *battlespec.Spec, outcomes []model.OutcomeRecord) (CommitSummary, error) {
	var summary CommitSummary
	if spec.Empty() || len(outcomes) == 0 {
		summary.Discarded = len(outcomes)
		return summary, nil
	}

	requested := spec.SeedsByResult()
	got := make(map[int64]map[int64]model.Outcome, len(requested))
	for _, o := range outcomes {
		seeds, ok := requested[o.ResultID]
		if !ok {
			return CommitSummary{}, fmt.Errorf("%w: outcome for unrequested result %d", ErrIntegrity, o.ResultID)
		}
		if !containsSeed(seeds, o.Seed) {
			return CommitSummary{}, fmt.Errorf("%w: outcome for unrequested seed %d of result %d", ErrIntegrity, o.Seed, o.ResultID)
		}
		bySeed := got[o.ResultID]
		if bySeed == nil {
			bySeed = make(map[int64]model.Outcome)
			got[o.ResultID] = bySeed
		}
		if _, dup := bySeed[o.Seed]; dup {
			return CommitSummary{}, fmt.Errorf("%w: duplicate seed %d for result %d", ErrIntegrity, o.Seed, o.ResultID)
		}
		bySeed[o.Seed] = o.Outcome
	}

	ids := make([]int64, 0, len(got))
	for id := range got {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	batch := make([]model.OutcomeRecord, 0, len(outcomes))
	for _, id := range ids {
		base := minSeed(requested[id])
		played, err := c.Store.playedByID(ctx, id)
		if err != nil {
			return CommitSummary{}, err
		}
		if int64(played) != base {
			return CommitSummary{}, fmt.Errorf("%w: result %d has %d rounds but spec starts at seed %d", ErrIntegrity, id, played, base)
		}
		bySeed := got[id]
		seed := base
		for {
			outcome, ok := bySeed[seed]
			if !ok {
				break
			}
			batch = append(batch, model.OutcomeRecord{ResultID: id, Seed: seed, Outcome: outcome})
			seed++
		}
		if seed > base {
			summary.Matchups++
		}
	}

	if err := c.Store.CommitOutcomes(ctx, batch); err != nil {
		return CommitSummary{}, err
	}
	summary.Committed = len(batch)
	summary.Discarded = len(outcomes) - len(batch)
	return summary, nil
}

func containsSeed(seeds []int64, seed int64) bool {
	for _, s := range seeds {
		if s == seed {
			return true
		}
	}
	return false
}

func minSeed(seeds []int64) int64 {
	m := seeds[0]
	for _, s := range seeds[1:] {
		if s < m {
			m = s
		}
	}
	return m
}
