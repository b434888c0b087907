package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

const defaultPassLimit = 20

// ErrNotFound marks lookups the handlers answer with 404.
var ErrNotFound = errors.New("not found")

type errorResponse struct {
	Error string `json:"error"`
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	state, err := s.view.State(r.Context(), s.generation)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) getSpecies(w http.ResponseWriter, r *http.Request) {
	num, err := strconv.Atoi(mux.Vars(r)["num"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "species number out of range"})
		return
	}
	state, err := s.view.State(r.Context(), s.generation)
	if err != nil {
		s.writeError(w, err)
		return
	}
	i := state.IndexOf(num)
	if i < 0 {
		s.writeError(w, fmt.Errorf("%w: species %d", ErrNotFound, num))
		return
	}
	writeJSON(w, http.StatusOK, state.Species[i])
}

func (s *Server) getMatchup(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	a, errA := strconv.Atoi(vars["a"])
	b, errB := strconv.Atoi(vars["b"])
	if errA != nil || errB != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "species number out of range"})
		return
	}
	summary, err := s.view.Matchup(r.Context(), s.generation, a, b)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) listPasses(w http.ResponseWriter, r *http.Request) {
	limit := defaultPassLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	passes, err := s.view.Passes(r.Context(), s.generation, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, passes)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, ErrNotFound) {
		status = http.StatusNotFound
	} else {
		s.log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}
