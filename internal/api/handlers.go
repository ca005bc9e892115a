package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"collabhub/internal/auth"
	"collabhub/internal/config"
	"collabhub/internal/models"
	"collabhub/internal/session"
	"collabhub/internal/utils"
)

type Handlers struct {
	log        *utils.Logger
	registry   *session.Registry
	authorizer auth.Authorizer
	cfg        *config.Config
}

func NewHandlers(log *utils.Logger, registry *session.Registry, authorizer auth.Authorizer, cfg *config.Config) *Handlers {
	if cfg == nil {
		cfg = config.Defaults()
	}
	if authorizer == nil {
		authorizer = auth.PermitAll{}
	}
	return &Handlers{log: log, registry: registry, authorizer: authorizer, cfg: cfg}
}

func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

func (h *Handlers) HealthStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, models.HealthStatus{Status: "ok", Rooms: h.registry.Len()})
}

// RoomStatus reports the live room of a document. The caller needs the same
// grant as for editing it.
func (h *Handlers) RoomStatus(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docId")
	if docID == "" {
		http.Error(w, "docId is required", http.StatusBadRequest)
		return
	}
	token := utils.TokenFromRequest(r)
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	ok, err := h.authorizer.Authorize(r.Context(), token, docID)
	if err != nil {
		h.log.Warn("room status authorization failed", "doc", docID, "error", err.Error())
	}
	if err != nil || !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	room, found := h.registry.Get(docID)
	if !found {
		http.Error(w, "no active room", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, room.Snapshot())
}

/*** Document WebSocket: one session per connection ***/
var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func (h *Handlers) DocumentWS(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docId")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "doc", docID, "error", err.Error())
		return
	}

	client := session.NewClient(conn, h.cfg.SendBuffer)
	client.Start(h.cfg.PingInterval)
	s := session.NewSession(docID, utils.TokenFromRequest(r), client, h.registry, h.authorizer, h.log)
	s.Serve(r.Context(), session.ReadOptions{
		MaxMessageBytes: h.cfg.MaxMessageBytes,
		PongWait:        pongWait(h.cfg.PingInterval),
	})
}

// pongWait gives a peer two ping intervals to answer before its read times
// out.
func pongWait(pingInterval time.Duration) time.Duration {
	if pingInterval <= 0 {
		return 0
	}
	return 2 * pingInterval
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
