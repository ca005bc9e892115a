package models

import "time"

// Frame types exchanged over the document WebSocket.
const (
	FrameError       = "error"
	FrameSync        = "sync"
	FrameUpdate      = "update"
	FrameSyncRequest = "sync_request"
	FramePing        = "ping"
	FramePong        = "pong"
)

// WSFrame is the JSON envelope of every client/server message. Binary
// payloads (updates, state vectors) are hex encoded.
type WSFrame struct {
	Type        string `json:"type"`
	Message     string `json:"message,omitempty"`
	StateVector string `json:"stateVector,omitempty"`
	Update      string `json:"update,omitempty"`
}

func ErrorFrame(msg string) WSFrame { return WSFrame{Type: FrameError, Message: msg} }

/*** Documents ***/

// Document is the stored representation served by the document service.
type Document struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

/*** Edit events ***/

const (
	EventDocumentUpdate = "document_update"
	EventSessionJoined  = "session_joined"
	EventSessionLeft    = "session_left"
	EventDocumentSaved  = "document_saved"
)

// Event is handed to the notification sink; the hub never persists it.
type Event struct {
	DocumentID string         `json:"document_id"`
	EventType  string         `json:"event_type"`
	Timestamp  time.Time      `json:"timestamp"`
	Payload    map[string]any `json:"payload,omitempty"`
}

/*** Room status ***/

type RoomStatus struct {
	DocumentID    string    `json:"documentId"`
	Sessions      int       `json:"sessions"`
	Initialized   bool      `json:"initialized"`
	Revision      uint64    `json:"revision"`
	SavedRevision uint64    `json:"savedRevision"`
	ContentLength int       `json:"contentLength"`
	LastEdit      time.Time `json:"lastEdit,omitempty"`
}

type HealthStatus struct {
	Status string `json:"status"`
	Rooms  int    `json:"rooms"`
}
