// Package store implements the persistence gateway: fetching a document's
// initial content and saving its materialized content.
package store

import (
	"context"
	"errors"

	"collabhub/internal/models"
)

var ErrDocumentNotFound = errors.New("document not found")

// Store fetches and saves documents by id. Implementations report an
// unreachable backend as an error and never panic.
type Store interface {
	Fetch(ctx context.Context, id string) (models.Document, error)
	Save(ctx context.Context, id, content, title string) error
}
