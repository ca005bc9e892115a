package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"collabhub/internal/auth"
	"collabhub/internal/config"
	"collabhub/internal/models"
	"collabhub/internal/session"
	"collabhub/internal/store"
	"collabhub/internal/utils"
)

type memStore struct{ docs map[string]models.Document }

func (m *memStore) Fetch(_ context.Context, id string) (models.Document, error) {
	doc, ok := m.docs[id]
	if !ok {
		return models.Document{}, store.ErrDocumentNotFound
	}
	return doc, nil
}

func (m *memStore) Save(context.Context, string, string, string) error { return nil }

func newTestHandlers(authorizer auth.Authorizer) *Handlers {
	registry := session.NewRegistry(session.Options{
		Store: &memStore{docs: map[string]models.Document{"doc-1": {ID: "doc-1", Content: "hello"}}},
	})
	cfg := config.Defaults()
	cfg.PingInterval = 0
	return NewHandlers(utils.NopLogger(), registry, authorizer, cfg)
}

func addDocID(ctx context.Context, docID string) context.Context {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("docId", docID)
	return context.WithValue(ctx, chi.RouteCtxKey, rctx)
}

func decodeBody(t *testing.T, body *bytes.Buffer, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(body.Bytes(), out); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
}

func TestHealth(t *testing.T) {
	h := newTestHandlers(nil)
	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Body.String() != "ok" {
		t.Fatalf("expected ok, got %q", rec.Body.String())
	}
}

func TestHealthStatusCountsRooms(t *testing.T) {
	h := newTestHandlers(nil)
	h.registry.GetOrCreate("doc-1")

	rec := httptest.NewRecorder()
	h.HealthStatus(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var resp models.HealthStatus
	decodeBody(t, rec.Body, &resp)
	if resp.Status != "ok" || resp.Rooms != 1 {
		t.Fatalf("unexpected health: %#v", resp)
	}
}

func TestRoomStatus(t *testing.T) {
	secret := "room-secret"
	h := newTestHandlers(auth.NewJWTAuthorizer(secret))
	token, err := utils.SignDocumentToken(&utils.DocumentTokenClaims{UserId: "u1", Documents: []string{"doc-1"}}, []byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	request := func(docID, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/rooms/"+docID, nil)
		if docID != "" {
			req = req.WithContext(addDocID(req.Context(), docID))
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		h.RoomStatus(rec, req)
		return rec
	}

	if rec := request("", token); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing docId, got %d", rec.Code)
	}
	if rec := request("doc-1", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing token, got %d", rec.Code)
	}
	if rec := request("doc-1", "garbage"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid token, got %d", rec.Code)
	}
	if rec := request("doc-1", token); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a live room, got %d", rec.Code)
	}

	h.registry.GetOrCreate("doc-1")
	rec := request("doc-1", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var status models.RoomStatus
	decodeBody(t, rec.Body, &status)
	if status.DocumentID != "doc-1" || status.Initialized {
		t.Fatalf("unexpected status: %#v", status)
	}
}

func TestDocumentWS(t *testing.T) {
	h := newTestHandlers(nil)
	r := chi.NewRouter()
	r.Get("/ws/documents/{docId}", h.DocumentWS)
	server := httptest.NewServer(r)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/documents/doc-1?token=t"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var frame models.WSFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read sync: %v", err)
	}
	if frame.Type != models.FrameSync || frame.Update == "" {
		t.Fatalf("expected sync frame, got %#v", frame)
	}

	if err := conn.WriteJSON(models.WSFrame{Type: models.FramePing}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if frame.Type != models.FramePong {
		t.Fatalf("expected pong, got %#v", frame)
	}

	room, ok := h.registry.Get("doc-1")
	if !ok || room.Len() != 1 {
		t.Fatalf("expected one session in the room")
	}
}

func TestDocumentWSRequiresUpgrade(t *testing.T) {
	h := newTestHandlers(nil)
	req := httptest.NewRequest(http.MethodGet, "/ws/documents/doc-1", nil)
	req = req.WithContext(addDocID(req.Context(), "doc-1"))
	rec := httptest.NewRecorder()
	h.DocumentWS(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for plain request, got %d", rec.Code)
	}
}

func TestPongWait(t *testing.T) {
	if pongWait(0) != 0 {
		t.Fatalf("expected no read deadline without pings")
	}
	if pongWait(time.Second) != 2*time.Second {
		t.Fatalf("expected two ping intervals")
	}
}
