// Package server wires HTTP handlers into a gorilla/mux router for the
// ClipRelay application via routing helpers.
package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes configures and returns the router with all application routes:
// the subscribe socket, the publish endpoint, health checks and metrics.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	r.Use(s.recoverMiddleware, s.logMiddleware)

	r.HandleFunc("/ws", s.handleSubscribe).Methods(http.MethodGet)
	r.HandleFunc("/push", s.handlePublish).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet, http.MethodHead)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return r
}
