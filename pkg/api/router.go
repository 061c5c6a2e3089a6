// Package api assembles the HTTP surface: versioned REST routes, the
// websocket attach point, health probes, metrics and docs.
package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"campuschat/pkg/api/handlers"
	"campuschat/pkg/auth"
	"campuschat/pkg/msglog"
	"campuschat/pkg/realtime"
	"campuschat/pkg/room"
	"campuschat/pkg/store"
	"campuschat/pkg/telemetry"
	"campuschat/pkg/utils"
)

// NewRouter wires middleware and routes for the full service surface.
func NewRouter(sec auth.SecConfig, rooms *room.Registry, msgs *msglog.Service, hub *realtime.Hub) *mux.Router {
	r := mux.NewRouter()
	r.Use(telemetry.Middleware)
	r.Use(auth.Gateway(sec))

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !store.Ready() {
			utils.JSONError(w, http.StatusServiceUnavailable, "store not ready")
			return
		}
		_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ready"})
	}).Methods(http.MethodGet)

	r.HandleFunc("/statusz", func(w http.ResponseWriter, _ *http.Request) {
		_ = utils.JSONWrite(w, http.StatusOK, map[string]any{
			"store_bytes":    store.DiskUsage(),
			"events_dropped": hub.Dropped(),
		})
	}).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.PathPrefix("/docs/").Handler(httpSwagger.Handler(
		httpSwagger.URL("/docs/openapi.yaml"),
	))
	r.HandleFunc("/docs/openapi.yaml", func(w http.ResponseWriter, req *http.Request) {
		http.ServeFile(w, req, "docs/openapi.yaml")
	}).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(auth.RequireIdentity(sec))
	handlers.RegisterRooms(v1, rooms, msgs)
	handlers.RegisterMessages(v1, msgs)

	v1.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		userID := auth.UserIDFromContext(req.Context())
		realtime.ServeWS(hub, memberOf(rooms), w, req, userID)
	}).Methods(http.MethodGet)

	return r
}

// memberOf adapts the registry into the membership gate subscriptions
// are checked against.
func memberOf(rooms *room.Registry) realtime.MemberOf {
	return func(roomID, userID string) bool {
		r, err := rooms.Get(context.Background(), roomID)
		if err != nil {
			return false
		}
		return r.IsParticipant(userID)
	}
}
