package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"collabhub/internal/clock"
	"collabhub/internal/metrics"
	"collabhub/internal/notify"
	"collabhub/internal/store"
	"collabhub/internal/utils"
)

const DefaultSaveDebounce = 2 * time.Second

// Options are shared by every room of a registry. Store is required.
type Options struct {
	Store        store.Store
	Notifier     notify.Notifier
	Factory      DocumentFactory
	Clock        clock.Clock
	SaveDebounce time.Duration
	Log          *utils.Logger
}

// Registry maps document ids to live rooms. Its mutex covers lookup, insert
// and removal only; no I/O happens while it is held.
type Registry struct {
	opts Options

	mu    sync.Mutex
	rooms map[string]*Room
}

func NewRegistry(opts Options) *Registry {
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.Factory == nil {
		opts.Factory = SeedDocument
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.SaveDebounce <= 0 {
		opts.SaveDebounce = DefaultSaveDebounce
	}
	if opts.Log == nil {
		opts.Log = utils.NopLogger()
	}
	return &Registry{opts: opts, rooms: make(map[string]*Room)}
}

func (g *Registry) GetOrCreate(docID string) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.rooms[docID]; ok {
		return r
	}
	r := newRoom(docID, g)
	g.rooms[docID] = r
	metrics.RoomsActive.Inc()
	return r
}

// Join attaches s to the room for docID, retrying when it races with the
// release of an emptied room. A room left empty by a failed join is released.
func (g *Registry) Join(ctx context.Context, docID string, s *Session) (*Room, SyncPayload, error) {
	for {
		room := g.GetOrCreate(docID)
		payload, err := room.Join(ctx, s)
		if errors.Is(err, ErrRoomClosed) {
			continue
		}
		if err != nil {
			g.Release(room)
			return nil, SyncPayload{}, err
		}
		return room, payload, nil
	}
}

// Release removes room if it is still registered and has no sessions. The
// room is closed in the same step so late joiners move to a fresh room.
func (g *Registry) Release(room *Room) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rooms[room.ID] != room {
		return false
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	if len(room.sessions) > 0 {
		return false
	}
	room.closed = true
	delete(g.rooms, room.ID)
	metrics.RoomsActive.Dec()
	room.log.Debug("room released")
	return true
}

func (g *Registry) Get(docID string) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[docID]
	return r, ok
}

func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// Rooms returns the live rooms ordered by document id.
func (g *Registry) Rooms() []*Room {
	g.mu.Lock()
	out := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		out = append(out, r)
	}
	g.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CloseAll disconnects every session of every room and stops their
// debouncers, so no edit lands after a following FlushAll. It returns the
// number of sessions disconnected.
func (g *Registry) CloseAll(reason string) int {
	closed := 0
	for _, r := range g.Rooms() {
		closed += r.disconnectAll(reason)
	}
	return closed
}

// FlushAll saves every room with unsaved edits and returns how many saves
// failed.
func (g *Registry) FlushAll(ctx context.Context, reason string) int {
	failed := 0
	for _, r := range g.Rooms() {
		if err := r.Flush(ctx, reason); err != nil {
			failed++
		}
	}
	return failed
}
