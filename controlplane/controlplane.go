// Package controlplane exposes the engine's control surface (§6) over
// HTTP using chi, for remote or CLI-detached use. The in-process Go API on
// *brain.Brain remains authoritative; this package is a thin adapter.
package controlplane

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"idm/internal"
)

// Scheduler is the full control surface backing the HTTP routes, declared
// locally (rather than importing *brain.Brain directly) to avoid an import
// cycle between brain and controlplane. cmd wires the two together.
type Scheduler interface {
	List() []internal.Job
	Start(jobID string) error
	Pause(jobID string) error
	Cancel(jobID string) error
	Remove(jobID string, deleteFiles bool) error
	SetGlobalSpeedLimit(bytesPerSecond int64)
	SetMaxConcurrent(n int)
	SubmitSpec(spec internal.DownloadSpec) (string, error)
}

// NewRouter builds the chi router exposing the job control surface and a
// Prometheus /metrics endpoint when metricsHandler is non-nil.
func NewRouter(sched Scheduler, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, sched.List())
		})
		r.Post("/", func(w http.ResponseWriter, req *http.Request) {
			var spec internal.DownloadSpec
			if err := json.NewDecoder(req.Body).Decode(&spec); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			id, err := sched.SubmitSpec(spec)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]string{"job_id": id})
		})

		r.Route("/{id}", func(r chi.Router) {
			r.Post("/start", jobAction(sched.Start))
			r.Post("/pause", jobAction(sched.Pause))
			r.Post("/cancel", jobAction(sched.Cancel))
			r.Delete("/", func(w http.ResponseWriter, req *http.Request) {
				id := chi.URLParam(req, "id")
				deleteFiles := req.URL.Query().Get("delete_files") == "true"
				if err := sched.Remove(id, deleteFiles); err != nil {
					writeError(w, http.StatusBadRequest, err)
					return
				}
				w.WriteHeader(http.StatusNoContent)
			})
		})
	})

	r.Post("/config/speed-limit", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			BytesPerSecond int64 `json:"bytes_per_second"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		sched.SetGlobalSpeedLimit(body.BytesPerSecond)
		w.WriteHeader(http.StatusNoContent)
	})

	r.Post("/config/max-concurrent", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			N int `json:"n"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		sched.SetMaxConcurrent(body.N)
		w.WriteHeader(http.StatusNoContent)
	})

	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	return r
}

func jobAction(fn func(jobID string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		if err := fn(id); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
