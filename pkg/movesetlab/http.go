package movesetlab

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"movesetlab/internal/httpapi"
	"movesetlab/internal/model"
)

// Handler serves the read-only HTTP view of generation gen.
func (c *Client) Handler(gen int) http.Handler {
	return httpapi.NewServer(httpView{c: c}, gen, c.log).Router()
}

type httpView struct {
	c *Client
}

func (v httpView) State(ctx context.Context, gen int) (model.GenerationState, error) {
	state, err := v.c.State(ctx, gen)
	return state, notFound(err)
}

func (v httpView) Passes(ctx context.Context, gen, limit int) ([]model.PassRecord, error) {
	return v.c.Passes(ctx, gen, limit)
}

func (v httpView) Matchup(ctx context.Context, gen, a, b int) (MatchupSummary, error) {
	summary, err := v.c.Matchup(ctx, gen, a, b)
	return summary, notFound(err)
}

func notFound(err error) error {
	if errors.Is(err, ErrNoState) || errors.Is(err, ErrUnknownSpecies) {
		return fmt.Errorf("%w: %v", httpapi.ErrNotFound, err)
	}
	return err
}
