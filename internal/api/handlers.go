package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/explant/explant/internal/config"
	"github.com/explant/explant/internal/runner"
	"github.com/explant/explant/internal/store"
)

const (
	defaultRunsLimit = 50
	maxBodyBytes     = 1 << 16
)

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, GetVersionInfo())
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, Catalog(s.cfg))
}

// Catalog builds the input form catalog from cfg.
func Catalog(cfg *config.Config) CatalogResponse {
	sim := cfg.Simulation
	return CatalogResponse{
		Regions:      cfg.Regions,
		Crops:        cfg.Crops,
		WaterPresets: sim.WaterPresets,
		QuickStart:   runner.QuickStartInputs(cfg),
		Defaults: runner.Inputs{
			RegionID: sim.DefaultRegion,
			Crop:     sim.DefaultCrop,
			Water:    sim.QuickStart.Water,
		},
		StartDate:    sim.StartDate,
		EndDate:      sim.EndDate,
		Achievements: runner.Achievements,
	}
}

// handleSimulate runs one simulation. ?preset=quick_start ignores the body
// and uses the quick-start inputs.
func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var in runner.Inputs
	if r.URL.Query().Get("preset") == "quick_start" {
		in = runner.QuickStartInputs(s.cfg)
	} else if err := decodeBody(r, &in); err != nil {
		s.writeError(w, r, http.StatusBadRequest, ErrTypeInvalidParams, "invalid request body: "+err.Error())
		return
	}

	rep, err := s.runner.Run(r.Context(), in)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	p, err := s.runner.Progress(r.Context())
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ProgressResponse{Progress: p, Achievements: runner.Achievements})
}

func (s *Server) handleResetProgress(w http.ResponseWriter, r *http.Request) {
	if err := s.runner.ResetProgress(r.Context()); err != nil {
		s.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		s.writeError(w, r, http.StatusNotFound, ErrTypeNotFound, "run history is disabled")
		return
	}
	limit, err := parseLimit(r, defaultRunsLimit)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, ErrTypeInvalidParams, err.Error())
		return
	}
	runs, err := s.runs.ListRuns(r.Context(), limit)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	s.writeJSON(w, http.StatusOK, RunsResponse{Runs: runs, Count: len(runs)})
}

// handleExportRuns streams run history as CSV. Without ?limit every run is
// exported.
func (s *Server) handleExportRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		s.writeError(w, r, http.StatusNotFound, ErrTypeNotFound, "run history is disabled")
		return
	}
	limit, err := parseLimit(r, 0)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, ErrTypeInvalidParams, err.Error())
		return
	}
	runs, err := s.runs.ListRuns(r.Context(), limit)
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	name := "explant-runs-" + time.Now().UTC().Format("20060102") + ".csv"
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	if err := store.WriteCSV(w, runs); err != nil {
		s.logger.Error("write csv", "error", err)
	}
}

func (s *Server) handleGetFarm(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.farm.Snapshot())
}

func (s *Server) handleNextDay(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.farm.NextDay())
}

// handleFarmAction applies plant, water or harvest. The tile comes from the
// JSON body or the ?tile query parameter; water ignores it.
func (s *Server) handleFarmAction(w http.ResponseWriter, r *http.Request) {
	action := chi.URLParam(r, "action")

	var req FarmActionRequest
	if q := r.URL.Query().Get("tile"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, ErrTypeInvalidParams, "tile must be an integer")
			return
		}
		req.Tile = n
	} else if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, ErrTypeInvalidParams, "invalid request body: "+err.Error())
		return
	}

	snap, err := s.farm.Apply(action, req.Tile)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

// decodeBody decodes a JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func parseLimit(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("limit must be a non-negative integer")
	}
	return n, nil
}
