package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"collabhub/internal/auth"
	"collabhub/internal/clock"
	"collabhub/internal/models"
	"collabhub/internal/store"
)

type savedDoc struct {
	ID      string
	Content string
	Title   string
}

type fakeStore struct {
	mu        sync.Mutex
	docs      map[string]models.Document
	fetches   int
	fetchErr  error
	fetchGate chan struct{}
	saveErr   error
	saves     []savedDoc
	saved     chan savedDoc
}

func newFakeStore(docs ...models.Document) *fakeStore {
	s := &fakeStore{docs: make(map[string]models.Document), saved: make(chan savedDoc, 64)}
	for _, d := range docs {
		s.docs[d.ID] = d
	}
	return s
}

func (s *fakeStore) Fetch(_ context.Context, id string) (models.Document, error) {
	if s.fetchGate != nil {
		<-s.fetchGate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	if s.fetchErr != nil {
		return models.Document{}, s.fetchErr
	}
	doc, ok := s.docs[id]
	if !ok {
		return models.Document{}, store.ErrDocumentNotFound
	}
	return doc, nil
}

func (s *fakeStore) Save(_ context.Context, id, content, title string) error {
	s.mu.Lock()
	if s.saveErr != nil {
		s.mu.Unlock()
		return s.saveErr
	}
	d := savedDoc{ID: id, Content: content, Title: title}
	s.saves = append(s.saves, d)
	s.mu.Unlock()
	s.saved <- d
	return nil
}

func (s *fakeStore) fetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

func (s *fakeStore) saveList() []savedDoc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]savedDoc(nil), s.saves...)
}

func (s *fakeStore) setFetchErr(err error) {
	s.mu.Lock()
	s.fetchErr = err
	s.mu.Unlock()
}

func waitSave(t *testing.T, s *fakeStore) savedDoc {
	t.Helper()
	select {
	case d := <-s.saved:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("expected a save")
		return savedDoc{}
	}
}

func assertNoSave(t *testing.T, s *fakeStore) {
	t.Helper()
	select {
	case d := <-s.saved:
		t.Fatalf("unexpected save %#v", d)
	case <-time.After(50 * time.Millisecond):
	}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *eventRecorder) Publish(_ context.Context, e models.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *eventRecorder) ofType(eventType string) []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Event
	for _, e := range r.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

type frameCapture struct {
	mu     sync.Mutex
	frames []models.WSFrame
}

func newFrameCapture() *frameCapture { return &frameCapture{} }

func (c *frameCapture) hook(frame models.WSFrame) {
	c.mu.Lock()
	c.frames = append(c.frames, frame)
	c.mu.Unlock()
}

func (c *frameCapture) list() []models.WSFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.WSFrame, len(c.frames))
	copy(out, c.frames)
	return out
}

func (c *frameCapture) last() models.WSFrame {
	frames := c.list()
	if len(frames) == 0 {
		return models.WSFrame{}
	}
	return frames[len(frames)-1]
}

func (c *frameCapture) ofType(frameType string) []models.WSFrame {
	var out []models.WSFrame
	for _, f := range c.list() {
		if f.Type == frameType {
			out = append(out, f)
		}
	}
	return out
}

type testEnv struct {
	store    *fakeStore
	events   *eventRecorder
	clock    *clock.Fake
	registry *Registry
}

func newTestEnv(t *testing.T, docs ...models.Document) *testEnv {
	t.Helper()
	env := &testEnv{
		store:  newFakeStore(docs...),
		events: &eventRecorder{},
		clock:  clock.NewFake(time.Unix(1700000000, 0)),
	}
	env.registry = NewRegistry(Options{
		Store:        env.store,
		Notifier:     env.events,
		Clock:        env.clock,
		SaveDebounce: 2 * time.Second,
	})
	return env
}

// join opens a session whose frames are captured instead of written.
func (env *testEnv) join(t *testing.T, docID string) (*Session, *frameCapture) {
	t.Helper()
	capture := newFrameCapture()
	client := NewClient(nil, 16)
	client.SetSendHook(capture.hook)
	s := NewSession(docID, "token", client, env.registry, auth.PermitAll{}, nil)
	require.NoError(t, s.Open(context.Background()))
	require.Equal(t, StateActive, s.State())
	return s, capture
}
