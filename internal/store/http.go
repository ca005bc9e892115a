package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"collabhub/internal/models"
)

// HTTPStore talks to the document service:
//
//	GET /documents/{id}  -> 200 document (object or single-element array), 404
//	PUT /documents/{id}  <- {"title": ..., "content": ...}
type HTTPStore struct {
	baseURL      string
	client       *http.Client
	fetchTimeout time.Duration
	saveTimeout  time.Duration
}

func NewHTTPStore(baseURL string, fetchTimeout, saveTimeout time.Duration) *HTTPStore {
	return &HTTPStore{
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       &http.Client{},
		fetchTimeout: fetchTimeout,
		saveTimeout:  saveTimeout,
	}
}

func (s *HTTPStore) documentURL(id string) string {
	return s.baseURL + "/documents/" + url.PathEscape(id)
}

func (s *HTTPStore) Fetch(ctx context.Context, id string) (models.Document, error) {
	ctx, cancel := withTimeout(ctx, s.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.documentURL(id), nil)
	if err != nil {
		return models.Document{}, fmt.Errorf("build fetch request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return models.Document{}, fmt.Errorf("failed to call document service: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return models.Document{}, ErrDocumentNotFound
	case resp.StatusCode != http.StatusOK:
		return models.Document{}, fmt.Errorf("document service returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.Document{}, fmt.Errorf("read document response: %w", err)
	}
	doc, err := decodeDocument(body)
	if err != nil {
		return models.Document{}, err
	}
	return models.Document{ID: id, Title: doc.Title, Content: doc.Content}, nil
}

// documentPayload ignores the service's id field, whose type varies.
type documentPayload struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// decodeDocument accepts either a document object or a list whose first
// element is the document.
func decodeDocument(body []byte) (documentPayload, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var docs []documentPayload
		if err := json.Unmarshal(trimmed, &docs); err != nil {
			return documentPayload{}, fmt.Errorf("failed to decode document response: %w", err)
		}
		if len(docs) == 0 {
			return documentPayload{}, ErrDocumentNotFound
		}
		return docs[0], nil
	}
	var doc documentPayload
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return documentPayload{}, fmt.Errorf("failed to decode document response: %w", err)
	}
	return doc, nil
}

func (s *HTTPStore) Save(ctx context.Context, id, content, title string) error {
	ctx, cancel := withTimeout(ctx, s.saveTimeout)
	defer cancel()

	payload, err := json.Marshal(map[string]string{"title": title, "content": content})
	if err != nil {
		return fmt.Errorf("encode save payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.documentURL(id), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build save request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call document service: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrDocumentNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("document service returned status %d", resp.StatusCode)
	}
	return nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
