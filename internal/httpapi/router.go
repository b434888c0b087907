// Package httpapi serves a read-only JSON view of one generation's state,
// results and pass log.
package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"movesetlab/internal/model"
	"movesetlab/internal/stats"
)

// View is what the handlers read from.
type View interface {
	State(ctx context.Context, gen int) (model.GenerationState, error)
	Passes(ctx context.Context, gen, limit int) ([]model.PassRecord, error)
	Matchup(ctx context.Context, gen, a, b int) (stats.MatchupSummary, error)
}

type Server struct {
	view       View
	generation int
	log        zerolog.Logger
}

func NewServer(view View, generation int, logger zerolog.Logger) *Server {
	return &Server{view: view, generation: generation, log: logger}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/v1/state", s.getState).Methods(http.MethodGet)
	r.HandleFunc("/v1/species/{num:[0-9]+}", s.getSpecies).Methods(http.MethodGet)
	r.HandleFunc("/v1/matchups/{a:[0-9]+}/{b:[0-9]+}", s.getMatchup).Methods(http.MethodGet)
	r.HandleFunc("/v1/passes", s.listPasses).Methods(http.MethodGet)

	return r
}
