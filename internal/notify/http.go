package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"collabhub/internal/models"
)

// brokerEvent is the message broker's event shape.
type brokerEvent struct {
	DocumentID string         `json:"document_id"`
	EventType  string         `json:"event_type"`
	Content    string         `json:"content"`
	UserID     string         `json:"user_id,omitempty"`
	Timestamp  string         `json:"timestamp"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// HTTPSink posts events to {baseURL}/events.
type HTTPSink struct {
	url    string
	client *http.Client
}

func NewHTTPSink(baseURL string) *HTTPSink {
	return &HTTPSink{url: strings.TrimRight(baseURL, "/") + "/events", client: &http.Client{}}
}

func (s *HTTPSink) Send(ctx context.Context, event models.Event) error {
	preview, _ := event.Payload["preview"].(string)
	userID, _ := event.Payload["user_id"].(string)
	body, err := json.Marshal(brokerEvent{
		DocumentID: event.DocumentID,
		EventType:  event.EventType,
		Content:    preview,
		UserID:     userID,
		Timestamp:  event.Timestamp.UTC().Format(time.RFC3339Nano),
		Payload:    event.Payload,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("message broker returned status %d", resp.StatusCode)
	}
	return nil
}
