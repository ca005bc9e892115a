package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"collabhub/internal/models"
)

type documentRecord struct {
	ID        string  `gorm:"type:varchar(64);primaryKey"`
	Title     string  `gorm:"type:varchar(255);not null;default:''"`
	Content   string  `gorm:"type:text;not null;default:''"`
	OwnerID   *string `gorm:"type:varchar(64);index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (documentRecord) TableName() string { return "documents" }

// SQLStore reads and writes the documents table directly.
type SQLStore struct {
	DB *gorm.DB
}

var openDialector = map[string]func(dsn string) gorm.Dialector{
	"postgres": postgres.Open,
	"sqlite":   sqlite.Open,
}

// OpenSQLStore connects with the named driver ("postgres" or "sqlite").
func OpenSQLStore(driver, dsn string) (*SQLStore, error) {
	open, ok := openDialector[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := gorm.Open(open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	return &SQLStore{DB: db}, nil
}

func (s *SQLStore) Migrate() error {
	return s.DB.AutoMigrate(&documentRecord{})
}

func (s *SQLStore) Fetch(ctx context.Context, id string) (models.Document, error) {
	var rec documentRecord
	err := s.DB.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Document{}, ErrDocumentNotFound
	}
	if err != nil {
		return models.Document{}, fmt.Errorf("fetch document %s: %w", id, err)
	}
	return models.Document{ID: rec.ID, Title: rec.Title, Content: rec.Content}, nil
}

func (s *SQLStore) Save(ctx context.Context, id, content, title string) error {
	updates := map[string]any{"content": content}
	if title != "" {
		updates["title"] = title
	}
	result := s.DB.WithContext(ctx).Model(&documentRecord{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("save document %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

// Put inserts or replaces a document.
func (s *SQLStore) Put(ctx context.Context, doc models.Document) error {
	return s.DB.WithContext(ctx).Save(&documentRecord{ID: doc.ID, Title: doc.Title, Content: doc.Content}).Error
}
