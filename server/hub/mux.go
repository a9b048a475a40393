package hub

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/experiment-hub/experiment-hub/server/config"
	"github.com/experiment-hub/experiment-hub/server/logger"
	"github.com/experiment-hub/experiment-hub/server/sessionstore"
	"github.com/go-chi/chi"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type MuxParams struct {
	Log     logger.Logger
	BaseURL string
	Version string

	Store      sessionstore.Store
	Prometheus config.PrometheusConfig

	// WS is the signaling endpoint mounted under /ws.
	WS http.Handler
}

// Mux is the HTTP surface of the hub: health probes, the session
// listing API, token-gated metrics and the signaling websocket.
type Mux struct {
	log     logger.Logger
	params  MuxParams
	handler *chi.Mux
}

func (m *Mux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.handler.ServeHTTP(w, r)
}

func withCounter(counter prometheus.Counter, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counter.Inc()
		h.ServeHTTP(w, r)
	}
}

func NewMux(params MuxParams) *Mux {
	m := &Mux{
		log:     params.Log.WithNamespaceAppended("mux"),
		params:  params,
		handler: chi.NewRouter(),
	}

	root := params.BaseURL
	if root == "" {
		root = "/"
	}

	m.handler.Route(root, func(router chi.Router) {
		router.Get("/probes/liveness", m.routeProbe)
		router.Get("/probes/health", m.routeProbe)
		router.Get("/api/version", m.routeVersion)
		router.Get("/api/sessions", withCounter(prometheusSessionViewsTotal, m.routeSessions))
		router.Get("/metrics", m.routeMetrics)
		router.Mount("/ws", params.WS)
	})

	return m
}

func (m *Mux) routeProbe(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
}

func (m *Mux) routeVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	_ = json.NewEncoder(w).Encode(map[string]string{
		"version": m.params.Version,
	})
}

func (m *Mux) routeSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := m.params.Store.List()
	if err != nil {
		m.log.Error("List sessions", errors.Trace(err), nil)

		w.WriteHeader(http.StatusInternalServerError)

		return
	}

	if sessions == nil {
		sessions = []sessionstore.Session{}
	}

	w.Header().Set("Content-Type", "application/json")

	_ = json.NewEncoder(w).Encode(sessions)
}

// routeMetrics serves prometheus metrics, gated on the configured
// access token.
func (m *Mux) routeMetrics(w http.ResponseWriter, r *http.Request) {
	accessToken := r.Header.Get("Authorization")
	if strings.HasPrefix(accessToken, "Bearer ") {
		accessToken = accessToken[len("Bearer "):]
	} else {
		accessToken = r.FormValue("access_token")
	}

	if accessToken == "" || accessToken != m.params.Prometheus.AccessToken {
		w.WriteHeader(http.StatusUnauthorized)

		return
	}

	promhttp.Handler().ServeHTTP(w, r)
}
