// Package httpapi exposes a read-only diagnostics API over a pubsub.Manager's
// topology and health, for operators and monitoring — never a mutation
// surface; every write still goes through the typed Manager methods under
// the service mutex.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"

	"github.com/GoCodeAlone/opcua-pubsub"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// NewRouter builds the diagnostics router for m: GET /topology returns the
// full snapshot; GET /connections/{id}, /readergroups/{id},
// /writergroups/{id} return a single entity by walking the snapshot;
// GET /health runs every registered health check and returns the
// aggregated status.
func NewRouter(m *pubsub.Manager) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/topology", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, m.Topology())
	})

	r.Get("/connections/{id}", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		snap := m.Topology()
		for _, c := range snap.Connections {
			if c.ID == id {
				writeJSON(w, http.StatusOK, c)
				return
			}
		}
		http.Error(w, "connection not found", http.StatusNotFound)
	})

	r.Get("/readergroups/{id}", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		snap := m.Topology()
		for _, c := range snap.Connections {
			for _, g := range c.ReaderGroups {
				if g.ID == id {
					writeJSON(w, http.StatusOK, g)
					return
				}
			}
		}
		http.Error(w, "reader group not found", http.StatusNotFound)
	})

	r.Get("/writergroups/{id}", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		snap := m.Topology()
		for _, c := range snap.Connections {
			for _, g := range c.WriterGroups {
				if g.ID == id {
					writeJSON(w, http.StatusOK, g)
					return
				}
			}
		}
		http.Error(w, "writer group not found", http.StatusNotFound)
	})

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		status, err := m.Health(req.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		code := http.StatusOK
		if status.OverallStatus == "critical" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, status)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
