// Package archive persists session-buffer flushes to a relational store.
// It is the durable side of the buffer's bulk-persist-on-inactivity
// policy: a terminated session's buffered input survives here until a new
// message recreates the session.
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/scoutflow/scoutflow/session"
)

// BufferedMessage is the persisted form of one deduplicated buffer entry.
type BufferedMessage struct {
	ID              string    `gorm:"primaryKey;size:36"`
	SessionID       string    `gorm:"index;size:128;not null"`
	DedupKey        string    `gorm:"index;size:128;not null"`
	RunID           string    `gorm:"size:128"`
	ParentMessageID string    `gorm:"size:128"`
	Content         string    `gorm:"type:text"`
	BufferedAt      time.Time `gorm:"not null"`
	ArchivedAt      time.Time `gorm:"not null"`
}

// Store archives buffer flushes through GORM. It implements
// session.Archiver.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open creates a Store on an embedded SQLite database at dsn (":memory:"
// works for tests) and migrates the schema.
func Open(dsn string, logger *zap.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open archive database: %w", err)
	}
	return New(db, logger)
}

// New wraps an existing GORM handle and migrates the schema.
func New(db *gorm.DB, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&BufferedMessage{}); err != nil {
		return nil, fmt.Errorf("migrate archive schema: %w", err)
	}
	return &Store{
		db:     db,
		logger: logger.With(zap.String("component", "archive")),
	}, nil
}

// SaveBatch persists one buffer flush in a single transaction, so the
// flush is all-or-nothing and a failure leaves the caller free to retry.
func (s *Store) SaveBatch(ctx context.Context, sessionID string, entries []session.BufferedEntry) error {
	if len(entries) == 0 {
		return nil
	}

	now := time.Now()
	rows := make([]BufferedMessage, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, BufferedMessage{
			ID:              uuid.New().String(),
			SessionID:       sessionID,
			DedupKey:        e.Key,
			RunID:           e.RunID,
			ParentMessageID: e.ParentMessageID,
			Content:         e.Content,
			BufferedAt:      e.BufferedAt,
			ArchivedAt:      now,
		})
	}

	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("archive batch: %w", err)
	}

	s.logger.Debug("archived buffer flush",
		zap.String("session_id", sessionID),
		zap.Int("entries", len(rows)),
	)
	return nil
}

// BySession returns the archived messages for a session, oldest first.
func (s *Store) BySession(ctx context.Context, sessionID string, limit int) ([]BufferedMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []BufferedMessage
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("buffered_at asc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load archived messages: %w", err)
	}
	return rows, nil
}
