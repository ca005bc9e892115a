package session

import "collabhub/internal/crdt"

// Document is the replicated document a room owns. Apply must be idempotent
// and commutative so that every replica converges regardless of arrival
// order. Rooms call Text, StateVector, Diff and FullUpdate from concurrent
// readers holding only the room's read lock, so implementations must be
// safe for concurrent use.
type Document interface {
	Apply(update []byte) error
	Text() string
	StateVector() []byte
	Diff(remoteVector []byte) ([]byte, error)
	FullUpdate() []byte
}

// DocumentFactory seeds a replica with stored content.
type DocumentFactory func(content string) Document

// SeedDocument builds the room replica with the crdt engine. Equal content
// always produces the same seed operations, so replicas seeded by different
// rooms for the same stored text merge without duplication.
func SeedDocument(content string) Document { return crdt.FromText(content) }

// SyncPayload bootstraps a joining session.
type SyncPayload struct {
	StateVector []byte
	Update      []byte
}
