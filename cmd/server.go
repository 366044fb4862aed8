package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/tradehub/tradehub-cli/internal/model"
	"github.com/tradehub/tradehub-cli/internal/monitoring"
	"github.com/tradehub/tradehub-cli/internal/poll"
	"github.com/tradehub/tradehub-cli/internal/store"
	"github.com/tradehub/tradehub-cli/internal/suggest"
)

// serverDeps are the read-only views the status server exposes. Nil fields
// disable the matching routes' data, not the routes.
type serverDeps struct {
	metrics     *monitoring.Metrics
	ledger      store.Store
	suggestions *suggest.Store
	driver      func() poll.Stats
}

// buildRouter returns the watch status API.
func buildRouter(deps serverDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		body := map[string]any{"status": "ok"}
		if deps.driver != nil {
			st := deps.driver()
			body["mode"] = st.Mode
			body["iterations"] = st.Iterations
			body["failures"] = st.Failures
		}
		writeJSON(w, http.StatusOK, body)
	})

	if deps.metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.metrics.Handler())
	}

	r.Get("/runs", func(w http.ResponseWriter, req *http.Request) {
		if deps.ledger == nil {
			writeJSON(w, http.StatusOK, []model.Run{})
			return
		}
		q := req.URL.Query()
		filter := store.RunFilter{
			Strategy: model.Strategy(q.Get("strategy")),
			Status:   model.RunStatus(q.Get("status")),
			Limit:    50,
		}
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			filter.Limit = n
		}
		runs, err := deps.ledger.ListRuns(req.Context(), filter)
		if err != nil {
			zap.L().Error("server: list runs", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "list runs failed")
			return
		}
		if runs == nil {
			runs = []model.Run{}
		}
		writeJSON(w, http.StatusOK, runs)
	})

	r.Get("/runs/{id}", func(w http.ResponseWriter, req *http.Request) {
		if deps.ledger == nil {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		run, err := deps.ledger.GetRun(req.Context(), chi.URLParam(req, "id"))
		switch {
		case errors.Is(err, store.ErrRunNotFound):
			writeError(w, http.StatusNotFound, "run not found")
		case err != nil:
			zap.L().Error("server: get run", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "get run failed")
		default:
			writeJSON(w, http.StatusOK, run)
		}
	})

	r.Get("/suggestions", func(w http.ResponseWriter, _ *http.Request) {
		if deps.suggestions == nil {
			writeJSON(w, http.StatusOK, []suggest.Entry{})
			return
		}
		entries, err := deps.suggestions.List()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, entries)
	})

	r.Get("/suggestions/{strategy}", func(w http.ResponseWriter, req *http.Request) {
		spec, err := model.Lookup(chi.URLParam(req, "strategy"))
		if err != nil {
			writeError(w, http.StatusNotFound, "unknown strategy")
			return
		}
		if deps.suggestions == nil {
			writeError(w, http.StatusNotFound, "no suggestion file")
			return
		}
		f, err := deps.suggestions.Read(spec.Name)
		switch {
		case suggest.IsNotExist(err):
			writeError(w, http.StatusNotFound, "no suggestion file")
		case err != nil:
			writeError(w, http.StatusInternalServerError, err.Error())
		default:
			writeJSON(w, http.StatusOK, f)
		}
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
