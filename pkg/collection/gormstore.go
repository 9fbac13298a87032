package collection

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/menta2k/cardscan/pkg/types"
)

// cardRecord is the database row for a card.
type cardRecord struct {
	ID               string `gorm:"primaryKey;size:36"`
	Company          string
	Name             string `gorm:"not null"`
	Position         string
	Email            string `gorm:"index"`
	RawText          string
	Confidence       float64
	CapturedAt       time.Time `gorm:"index"`
	ImageBytes       []byte
	Notes            string
	Tags             []string `gorm:"serializer:json"`
	OCRBackend       string
	ExtractorBackend string
	ProcessingTimeMs float64
	// InsertedAt keeps insertion order; upserts never touch it.
	InsertedAt int64 `gorm:"autoCreateTime:nano;index"`
}

func (cardRecord) TableName() string { return "cards" }

// upsertColumns are overwritten when a card is stored again.
var upsertColumns = []string{
	"company", "name", "position", "email", "raw_text", "confidence", "captured_at",
	"image_bytes", "notes", "tags", "ocr_backend", "extractor_backend", "processing_time_ms",
}

func toRecord(c types.Card) cardRecord {
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}
	return cardRecord{
		ID:               c.ID,
		Company:          c.Company,
		Name:             c.Name,
		Position:         c.Position,
		Email:            c.Email,
		RawText:          c.RawText,
		Confidence:       c.Confidence,
		CapturedAt:       c.CapturedAt,
		ImageBytes:       c.ImageBytes,
		Notes:            c.Notes,
		Tags:             tags,
		OCRBackend:       c.Provenance.OCRBackend,
		ExtractorBackend: c.Provenance.ExtractorBackend,
		ProcessingTimeMs: c.Provenance.ProcessingTimeMs,
	}
}

func (r cardRecord) toCard() types.Card {
	tags := r.Tags
	if tags == nil {
		tags = []string{}
	}
	return types.Card{
		ID:         r.ID,
		Company:    r.Company,
		Name:       r.Name,
		Position:   r.Position,
		Email:      r.Email,
		RawText:    r.RawText,
		Confidence: r.Confidence,
		CapturedAt: r.CapturedAt,
		ImageBytes: r.ImageBytes,
		Notes:      r.Notes,
		Tags:       tags,
		Provenance: types.Provenance{
			OCRBackend:       r.OCRBackend,
			ExtractorBackend: r.ExtractorBackend,
			ProcessingTimeMs: r.ProcessingTimeMs,
		},
	}
}

// GormStore keeps cards in Postgres.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// NewGormStore connects to Postgres and migrates the cards table.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return NewGormStoreWithDB(db)
}

// NewGormStoreWithDB uses an open connection and migrates the cards table.
func NewGormStoreWithDB(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&cardRecord{}); err != nil {
		return nil, fmt.Errorf("migrate cards: %w", err)
	}
	return &GormStore{db: db}, nil
}

// Load returns all cards in insertion order.
func (s *GormStore) Load(ctx context.Context) ([]types.Card, error) {
	var records []cardRecord
	if err := s.db.WithContext(ctx).Order("inserted_at, id").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("load cards: %w", err)
	}
	cards := make([]types.Card, 0, len(records))
	for _, r := range records {
		cards = append(cards, r.toCard())
	}
	return cards, nil
}

// Put inserts a card or updates the row with the same ID.
func (s *GormStore) Put(ctx context.Context, card types.Card) error {
	rec := toRecord(card)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns(upsertColumns),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("store card %s: %w", card.ID, err)
	}
	return nil
}

// Delete removes a card.
func (s *GormStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&cardRecord{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete card %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrCardNotFound
	}
	return nil
}

// Close closes the connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
