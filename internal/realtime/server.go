// Package realtime exposes collections over websocket channels and a small
// REST surface.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"livesync/internal/events"
	"livesync/internal/identity"
	"livesync/internal/liveview"
	"livesync/internal/query"
	"livesync/internal/realtime/config"
	"livesync/internal/server"
)

type Server struct {
	hub       *Hub
	engine    *query.Engine
	auth      *identity.Authenticator
	endpoints map[string]Endpoint
	cfg       config.Config
	upgrader  websocket.Upgrader
}

// NewServer creates the realtime server. allowedOrigins restricts browser
// websocket clients; an empty list allows every origin.
func NewServer(engine *query.Engine, endpoints []Endpoint, auth *identity.Authenticator, cfg config.Config, allowedOrigins []string) *Server {
	s := &Server{
		hub:       NewHub(),
		engine:    engine,
		auth:      auth,
		endpoints: make(map[string]Endpoint, len(endpoints)),
		cfg:       cfg,
	}
	for _, ep := range endpoints {
		s.endpoints[ep.Collection.Name] = ep
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || server.OriginAllowed(allowedOrigins, origin)
		},
	}
	return s
}

// Register mounts the realtime, query, health and metrics handlers.
func (s *Server) Register(srv server.Service) {
	srv.RegisterHTTPHandler("GET /v1/realtime/{collection}", http.HandlerFunc(s.HandleWS))
	srv.RegisterHTTPHandler("GET /v1/collections/{collection}",
		server.TimeoutMiddleware(s.cfg.RequestTimeout)(http.HandlerFunc(s.HandleQuery)))
	srv.RegisterHTTPHandler("GET /healthz", http.HandlerFunc(s.HandleHealth))
	srv.RegisterHTTPHandler("GET /metrics", promhttp.Handler())
}

// Run serves the connection hub until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	s.hub.Run(ctx)
	return nil
}

func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	ep, ok := s.endpoints[r.PathValue("collection")]
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "unknown collection")
		return
	}
	if r.URL.Query().Get("access_token") != "" || r.URL.Query().Get("token") != "" {
		writeError(w, http.StatusUnauthorized, "permission_denied", "query token not allowed")
		return
	}

	session, err := NewSession(ep, s.engine, s.auth, s.cfg.SendBuffer, s.cfg.RequestTimeout, bearerToken(r))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "permission_denied", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[Warn][WS] Upgrade failed", "error", err)
		session.Close()
		return
	}

	client := &Client{hub: s.hub, conn: conn, session: session, cfg: s.cfg}
	if !s.hub.Register(client) {
		session.Close()
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// HealthStatus is the body of the health endpoint.
type HealthStatus struct {
	Status      string             `json:"status"`
	Connections int                `json:"connections"`
	Collections []CollectionHealth `json:"collections"`
}

// CollectionHealth reports the live views and event listeners of one collection.
type CollectionHealth struct {
	liveview.Stats
	Listeners map[events.Kind]int `json:"listeners"`
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{Status: "ok", Connections: s.hub.Count()}
	for _, ep := range s.endpoints {
		status.Collections = append(status.Collections, CollectionHealth{
			Stats:     ep.Registry.Stats(),
			Listeners: ep.Bus.Listeners(),
		})
	}
	sort.Slice(status.Collections, func(i, j int) bool {
		return status.Collections[i].Collection < status.Collections[j].Collection
	})
	writeJSON(w, http.StatusOK, status)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("[Warn][Realtime] Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, server.APIError{Code: code, Message: message})
}
