package session

import (
	"errors"
	"fmt"

	"collabhub/internal/crdt"
)

var (
	ErrUnauthorized     = errors.New("session: unauthorized")
	ErrDocumentNotFound = errors.New("session: document not found")
	ErrStoreUnavailable = errors.New("session: document service unavailable")

	// ErrMalformedMessage covers frames the session cannot interpret. The
	// session stays active after replying with an error.
	ErrMalformedMessage = errors.New("session: malformed message")
	ErrMalformedUpdate  = fmt.Errorf("%w: %w", ErrMalformedMessage, crdt.ErrMalformedUpdate)

	// ErrRoomClosed is returned by Room.Join after the registry released the
	// room; the caller retries with a fresh room.
	ErrRoomClosed = errors.New("session: room closed")
	ErrClientGone = errors.New("session: client connection gone")
)

// Messages sent to clients in error frames.
const (
	msgMissingToken       = "Missing token. Provide ?token=... in WS URL."
	msgUnauthorized       = "Unauthorized"
	msgDocumentNotFound   = "Document not found"
	msgServiceUnavailable = "Document service unavailable"
	msgInvalidJSON        = "Invalid JSON"
	msgInvalidFormat      = "Invalid message format"
	msgInvalidUpdate      = "Invalid update"
	msgInvalidVector      = "Invalid state vector"
)
