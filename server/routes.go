package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ftahirops/xmem/engine"
	"github.com/ftahirops/xmem/store"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.Status())
}

func (s *Server) handlePredictions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"bucket":      s.eng.Status().Bucket,
		"predictions": s.eng.PredictedAllocations(),
	})
}

func (s *Server) handleLeaks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"verdicts": s.eng.LeakVerdicts(),
		"active":   s.eng.Episodes().Active(),
	})
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	a, err := s.eng.Analyze(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "journal disabled")
		return
	}
	limit, err := limitParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runs, err := s.db.ListRuns(r.Context(), store.RunFilter{
		Trigger: r.URL.Query().Get("trigger"),
		Limit:   limit,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	totals, err := s.db.CountRuns(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "totals": totals})
}

func (s *Server) handleEpisodes(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeJSON(w, http.StatusOK, map[string]any{"episodes": s.eng.Episodes().Completed()})
		return
	}
	limit, err := limitParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	eps, err := s.db.ListEpisodes(r.Context(), r.URL.Query().Get("app"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"episodes": eps})
}

// handleOptimize runs the pipeline and returns its report. With
// ?async=true and a running scheduler the request is queued instead;
// "queued" is false when an earlier request is still pending.
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("async") == "true" && s.sched != nil {
		if s.sched.State() == engine.SchedulerStopped {
			writeError(w, http.StatusServiceUnavailable, "scheduler not running")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]bool{"queued": s.sched.Trigger()})
		return
	}
	rep, err := s.eng.RunOptimizationNow(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.log.Info("manual optimization", zap.String("run", rep.ID), zap.Int("errors", rep.ErrorCount()))
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handlePrioritize(w http.ResponseWriter, r *http.Request) {
	app := chi.URLParam(r, "appID")
	err := s.eng.PrioritizeApp(r.Context(), app)
	switch {
	case errors.Is(err, engine.ErrUnsupported):
		writeError(w, http.StatusNotImplemented, err.Error())
	case err != nil:
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "prioritized", "app": app})
	}
}

func limitParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("limit must be a non-negative integer")
	}
	return n, nil
}
