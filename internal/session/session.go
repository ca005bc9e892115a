package session

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"collabhub/internal/auth"
	"collabhub/internal/models"
	"collabhub/internal/utils"
)

const closeWait = 5 * time.Second

type State int

const (
	StateConnecting State = iota
	StateAuthorizing
	StateRejected
	StateSyncing
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthorizing:
		return "authorizing"
	case StateRejected:
		return "rejected"
	case StateSyncing:
		return "syncing"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session is one client connection editing one document.
type Session struct {
	ID         string
	DocumentID string
	Token      string

	client     *Client
	registry   *Registry
	authorizer auth.Authorizer
	log        *utils.Logger

	mu    sync.Mutex
	state State
	room  *Room

	leaveOnce sync.Once
}

func NewSession(docID, token string, client *Client, reg *Registry, authorizer auth.Authorizer, log *utils.Logger) *Session {
	if authorizer == nil {
		authorizer = auth.PermitAll{}
	}
	if log == nil {
		log = utils.NopLogger()
	}
	id := uuid.NewString()
	return &Session{
		ID:         id,
		DocumentID: docID,
		Token:      token,
		client:     client,
		registry:   reg,
		authorizer: authorizer,
		log:        log.With("doc", docID, "session", id),
		state:      StateConnecting,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Room() *Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Open authorizes the session and joins the document's room. On success the
// client has been sent its sync frame and the session is Active. On failure
// the client receives an error frame and a close frame, and the session is
// Rejected.
func (s *Session) Open(ctx context.Context) error {
	s.setState(StateAuthorizing)
	if s.Token == "" {
		return s.reject(ErrUnauthorized, websocket.ClosePolicyViolation, msgMissingToken)
	}
	ok, err := s.authorizer.Authorize(ctx, s.Token, s.DocumentID)
	if err != nil {
		s.log.Warn("authorization failed", "error", err.Error())
	}
	if err != nil || !ok {
		return s.reject(ErrUnauthorized, websocket.ClosePolicyViolation, msgUnauthorized)
	}

	s.setState(StateSyncing)
	room, _, err := s.registry.Join(ctx, s.DocumentID, s)
	switch {
	case errors.Is(err, ErrDocumentNotFound):
		return s.reject(err, websocket.ClosePolicyViolation, msgDocumentNotFound)
	case errors.Is(err, ErrClientGone):
		s.setState(StateClosed)
		return err
	case err != nil:
		return s.reject(err, websocket.CloseInternalServerErr, msgServiceUnavailable)
	}

	s.mu.Lock()
	s.room = room
	s.state = StateActive
	s.mu.Unlock()
	s.log.Info("session joined")
	return nil
}

func (s *Session) reject(err error, code int, msg string) error {
	s.setState(StateRejected)
	_ = s.client.Send(models.ErrorFrame(msg))
	s.client.Close(code, msg)
	s.log.Info("session rejected", "reason", msg)
	return err
}

// Handle processes one text frame of an Active session. Malformed frames are
// answered with an error frame and leave the session Active; the returned
// error is for logging only.
func (s *Session) Handle(ctx context.Context, data []byte) error {
	room := s.Room()
	if room == nil || s.State() != StateActive {
		return ErrClientGone
	}

	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return s.replyError(msgInvalidJSON)
	}
	msg, ok := decoded.(map[string]any)
	if !ok {
		return s.replyError(msgInvalidFormat)
	}
	rawType, ok := msg["type"]
	if !ok {
		return s.replyError(msgInvalidFormat)
	}

	switch rawType {
	case models.FrameUpdate:
		update, err := decodeHexField(msg, "update", true)
		if err != nil {
			return s.replyError(msgInvalidUpdate)
		}
		if err := room.ApplyRemoteUpdate(ctx, s, update); err != nil {
			if errors.Is(err, ErrMalformedMessage) {
				return s.replyError(msgInvalidUpdate)
			}
			return err
		}
		return nil

	case models.FrameSyncRequest:
		vector, err := decodeHexField(msg, "stateVector", false)
		if err != nil {
			return s.replyError(msgInvalidVector)
		}
		update, serverVector, err := room.SyncRequest(s, vector)
		if err != nil {
			if errors.Is(err, ErrMalformedMessage) {
				return s.replyError(msgInvalidVector)
			}
			return err
		}
		return s.client.Send(syncFrame(SyncPayload{StateVector: serverVector, Update: update}))

	case models.FramePing:
		return s.client.Send(models.WSFrame{Type: models.FramePong})

	default:
		return s.replyError(fmt.Sprintf("Unknown type %v", rawType))
	}
}

func (s *Session) replyError(msg string) error {
	if err := s.client.Send(models.ErrorFrame(msg)); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrMalformedMessage, msg)
}

// decodeHexField reads a hex string field. An absent or empty optional field
// decodes to nil.
func decodeHexField(msg map[string]any, field string, required bool) ([]byte, error) {
	raw, present := msg[field]
	if !present || raw == nil {
		if required {
			return nil, fmt.Errorf("%w: missing %s", ErrMalformedMessage, field)
		}
		return nil, nil
	}
	str, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a string", ErrMalformedMessage, field)
	}
	if str == "" {
		if required {
			return nil, fmt.Errorf("%w: empty %s", ErrMalformedMessage, field)
		}
		return nil, nil
	}
	b, err := hex.DecodeString(str)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, field, err)
	}
	return b, nil
}

// Close leaves the room and closes the client. It is safe to call more than
// once; only the first call has an effect.
func (s *Session) Close(ctx context.Context) {
	s.leaveOnce.Do(func() {
		s.mu.Lock()
		room := s.room
		if s.state != StateRejected {
			s.state = StateClosed
		}
		s.mu.Unlock()

		if room != nil {
			room.Leave(ctx, s)
		}
		s.client.Close(websocket.CloseNormalClosure, "")
		s.client.Wait(closeWait)
		s.log.Info("session closed")
	})
}

// ReadOptions bound the inbound side of the connection.
type ReadOptions struct {
	MaxMessageBytes int64
	PongWait        time.Duration
}

// Serve runs the session over its client's connection until the peer goes
// away. The room is left exactly once on every exit path.
func (s *Session) Serve(ctx context.Context, opts ReadOptions) {
	defer s.Close(ctx)
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("session panic", "panic", fmt.Sprint(rec))
		}
	}()

	if err := s.Open(ctx); err != nil {
		return
	}

	conn := s.client.Conn
	if opts.MaxMessageBytes > 0 {
		conn.SetReadLimit(opts.MaxMessageBytes)
	}
	extend := func() {
		if opts.PongWait > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(opts.PongWait))
		}
	}
	extend()
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.log.Debug("read failed", "error", err.Error())
			}
			return
		}
		extend()
		if kind != websocket.TextMessage {
			_ = s.replyError(msgInvalidFormat)
			continue
		}
		if err := s.Handle(ctx, data); errors.Is(err, ErrClientGone) {
			return
		}
	}
}
