package session

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"collabhub/internal/metrics"
	"collabhub/internal/models"
	"collabhub/internal/store"
	"collabhub/internal/utils"
)

const previewRunes = 200

// Room holds the replicated document and the sessions editing it.
//
// mu guards the document, the session set and the revision counters. Applying
// an update, relaying it, publishing the event and touching the debouncer
// happen under the write lock as one unit. Store I/O never runs under mu:
// initialization is serialized by initMu and saves by saveMu.
type Room struct {
	ID string

	registry *Registry
	opts     *Options
	log      *utils.Logger

	initMu sync.Mutex
	saveMu sync.Mutex

	mu            sync.RWMutex
	doc           Document
	title         string
	initialized   bool
	closed        bool
	sessions      map[*Session]struct{}
	revision      uint64
	savedRevision uint64
	lastEdit      time.Time

	debounce *debouncer
}

func newRoom(id string, reg *Registry) *Room {
	r := &Room{
		ID:       id,
		registry: reg,
		opts:     &reg.opts,
		log:      reg.opts.Log.With("doc", id),
		sessions: make(map[*Session]struct{}),
	}
	r.debounce = newDebouncer(reg.opts.Clock, reg.opts.SaveDebounce, func() {
		_ = r.Flush(context.Background(), "debounce")
	})
	return r
}

// Join registers s and enqueues its sync frame in the same critical section,
// so the session sees every later update after its bootstrap state.
func (r *Room) Join(ctx context.Context, s *Session) (SyncPayload, error) {
	if err := r.ensureInitialized(ctx); err != nil {
		return SyncPayload{}, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return SyncPayload{}, ErrRoomClosed
	}
	payload := SyncPayload{StateVector: r.doc.StateVector(), Update: r.doc.FullUpdate()}
	if err := s.client.Send(syncFrame(payload)); err != nil {
		r.mu.Unlock()
		return SyncPayload{}, err
	}
	r.sessions[s] = struct{}{}
	count := len(r.sessions)
	r.mu.Unlock()

	metrics.SessionsActive.Inc()
	r.publish(ctx, models.EventSessionJoined, map[string]any{"session_id": s.ID, "sessions": count})
	return payload, nil
}

func (r *Room) ensureInitialized(ctx context.Context) error {
	r.initMu.Lock()
	defer r.initMu.Unlock()

	r.mu.RLock()
	initialized, closed := r.initialized, r.closed
	r.mu.RUnlock()
	if closed {
		return ErrRoomClosed
	}
	if initialized {
		return nil
	}

	doc, err := r.opts.Store.Fetch(ctx, r.ID)
	if err != nil {
		if errors.Is(err, store.ErrDocumentNotFound) {
			return ErrDocumentNotFound
		}
		r.log.Warn("fetch document failed", "error", err.Error())
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	r.mu.Lock()
	r.doc = r.opts.Factory(doc.Content)
	r.title = doc.Title
	r.initialized = true
	r.mu.Unlock()
	r.log.Info("room initialized", "title", doc.Title, "length", len(doc.Content))
	return nil
}

// ApplyRemoteUpdate merges update, relays it to every other session, publishes
// a document_update event and rearms the save debouncer. A malformed update
// changes nothing and returns ErrMalformedUpdate. A session that is no longer
// a member gets ErrClientGone.
func (r *Room) ApplyRemoteUpdate(ctx context.Context, s *Session, update []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized || r.closed {
		return ErrRoomClosed
	}
	if _, member := r.sessions[s]; !member {
		return ErrClientGone
	}

	if err := r.doc.Apply(update); err != nil {
		metrics.UpdatesRejected.Inc()
		r.log.Debug("rejected update", "session", s.ID, "error", err.Error())
		return ErrMalformedUpdate
	}
	r.revision++
	r.lastEdit = r.opts.Clock.Now()
	metrics.UpdatesApplied.Inc()

	r.broadcastLocked(s, models.WSFrame{Type: models.FrameUpdate, Update: hex.EncodeToString(update)})

	r.publish(ctx, models.EventDocumentUpdate, map[string]any{
		"session_id":  s.ID,
		"update_size": len(update),
		"revision":    r.revision,
		"preview":     preview(r.doc.Text()),
	})
	r.debounce.Touch()
	return nil
}

// SyncRequest returns the diff against remoteVector (the full update when it
// is nil) together with the room's state vector.
func (r *Room) SyncRequest(s *Session, remoteVector []byte) (update, vector []byte, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.initialized {
		return nil, nil, ErrRoomClosed
	}
	if _, member := r.sessions[s]; !member {
		return nil, nil, ErrClientGone
	}
	if remoteVector == nil {
		return r.doc.FullUpdate(), r.doc.StateVector(), nil
	}
	update, err = r.doc.Diff(remoteVector)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	return update, r.doc.StateVector(), nil
}

// Leave removes s. The last session out stops the debouncer, saves the final
// content and releases the room. Saving happens before the release so a
// rejoin never fetches content older than the room's.
func (r *Room) Leave(ctx context.Context, s *Session) {
	r.mu.Lock()
	if _, ok := r.sessions[s]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, s)
	remaining := len(r.sessions)
	initialized := r.initialized
	r.mu.Unlock()

	metrics.SessionsActive.Dec()
	r.publish(ctx, models.EventSessionLeft, map[string]any{"session_id": s.ID, "sessions": remaining})
	if remaining > 0 {
		return
	}

	r.debounce.Stop()
	if initialized {
		_ = r.save(ctx, "final", true)
	}
	r.registry.Release(r)
}

// Flush saves the current content if it has edits not yet persisted.
func (r *Room) Flush(ctx context.Context, reason string) error {
	return r.save(ctx, reason, false)
}

// save snapshots the content under the read lock and writes it under saveMu.
// Saves of one room are serialized, so a later save always carries content at
// least as new as an earlier one.
func (r *Room) save(ctx context.Context, reason string, force bool) error {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	r.mu.RLock()
	if !r.initialized {
		r.mu.RUnlock()
		return nil
	}
	revision, saved := r.revision, r.savedRevision
	content, title := r.doc.Text(), r.title
	r.mu.RUnlock()

	if revision == saved && !force {
		return nil
	}

	ctx = context.WithoutCancel(ctx)
	if err := r.opts.Store.Save(ctx, r.ID, content, title); err != nil {
		metrics.Saves.WithLabelValues(reason, "error").Inc()
		r.log.Error("save document failed", "reason", reason, "revision", revision, "error", err.Error())
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	metrics.Saves.WithLabelValues(reason, "ok").Inc()

	r.mu.Lock()
	if revision > r.savedRevision {
		r.savedRevision = revision
	}
	r.mu.Unlock()

	r.log.Debug("document saved", "reason", reason, "revision", revision)
	r.publish(ctx, models.EventDocumentSaved, map[string]any{"revision": revision, "reason": reason})
	return nil
}

// broadcastLocked relays frame to every session except sender. Sessions whose
// queue is full or closed are removed after the sweep. Callers hold mu.
func (r *Room) broadcastLocked(sender *Session, frame models.WSFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		r.log.Error("encode broadcast frame", "error", err.Error())
		return
	}
	var gone []*Session
	for s := range r.sessions {
		if s == sender {
			continue
		}
		if err := s.client.deliver(frame, data); err != nil {
			gone = append(gone, s)
		}
	}
	for _, s := range gone {
		delete(r.sessions, s)
		s.client.Close(websocket.CloseTryAgainLater, "connection not writable")
		r.log.Warn("evicted session", "session", s.ID)
	}
	if len(gone) > 0 {
		metrics.SessionsActive.Sub(float64(len(gone)))
		metrics.BroadcastEvictions.Add(float64(len(gone)))
	}
}

// disconnectAll removes every session and closes its client with 1001. The
// sessions' own Leave becomes a no-op; saving is left to the caller.
func (r *Room) disconnectAll(reason string) int {
	r.mu.Lock()
	n := len(r.sessions)
	for s := range r.sessions {
		delete(r.sessions, s)
		s.client.Close(websocket.CloseGoingAway, reason)
	}
	r.mu.Unlock()

	r.debounce.Stop()
	if n > 0 {
		metrics.SessionsActive.Sub(float64(n))
		r.log.Info("disconnected sessions", "count", n, "reason", reason)
	}
	return n
}

func (r *Room) publish(ctx context.Context, eventType string, payload map[string]any) {
	r.opts.Notifier.Publish(ctx, models.Event{
		DocumentID: r.ID,
		EventType:  eventType,
		Timestamp:  r.opts.Clock.Now(),
		Payload:    payload,
	})
}

// Len returns the number of joined sessions.
func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Text materializes the room's document; empty before initialization.
func (r *Room) Text() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.initialized {
		return ""
	}
	return r.doc.Text()
}

func (r *Room) Snapshot() models.RoomStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	status := models.RoomStatus{
		DocumentID:    r.ID,
		Sessions:      len(r.sessions),
		Initialized:   r.initialized,
		Revision:      r.revision,
		SavedRevision: r.savedRevision,
		LastEdit:      r.lastEdit,
	}
	if r.initialized {
		status.ContentLength = len([]rune(r.doc.Text()))
	}
	return status
}

func syncFrame(p SyncPayload) models.WSFrame {
	return models.WSFrame{
		Type:        models.FrameSync,
		StateVector: hex.EncodeToString(p.StateVector),
		Update:      hex.EncodeToString(p.Update),
	}
}

func preview(text string) string {
	runes := []rune(text)
	if len(runes) > previewRunes {
		runes = runes[:previewRunes]
	}
	return string(runes)
}
