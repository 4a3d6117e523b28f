// Package sequence issues the human-readable document numbers. The store
// keeps one counter row per document kind; callers that cannot reach the
// store fall back to a provisional timestamp number (see FallbackNumber)
// and flag the document for reconciliation.
package sequence

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Generator hands out the next number in a kind's sequence.
type Generator interface {
	Next(ctx context.Context, kind string) (string, error)
}

var prefixes = map[string]string{
	"estimate": "EST",
	"invoice":  "INV",
}

// Format renders a sequence value as a document number, e.g. INV-000042.
func Format(kind string, n int64) string {
	prefix, ok := prefixes[kind]
	if !ok {
		prefix = "DOC"
	}
	return fmt.Sprintf("%s-%06d", prefix, n)
}

// FallbackNumber builds a locally generated provisional number. Uniqueness
// against the authoritative sequence is not guaranteed; documents numbered
// this way carry a provisional flag until reconciled.
func FallbackNumber(kind string) string {
	prefix, ok := prefixes[kind]
	if !ok {
		prefix = "DOC"
	}
	return fmt.Sprintf("%s-L%d", prefix, time.Now().UnixNano())
}

type counter struct {
	Kind string `gorm:"primaryKey;type:text"`
	Next int64  `gorm:"not null;default:0"`
}

func (counter) TableName() string { return "document_sequences" }

// Model exposes the counter table for migration.
func Model() any { return &counter{} }

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type generator struct {
	db  *gorm.DB
	log *zap.Logger
}

var Module = fx.Module("sequence",
	fx.Provide(NewGenerator),
)

func NewGenerator(p Params) Generator {
	return &generator{db: p.DB, log: p.Log.Named("sequence")}
}

// Next increments the kind's counter inside a transaction. The UPDATE takes
// a row lock, so concurrent callers observe a strictly increasing series.
func (g *generator) Next(ctx context.Context, kind string) (string, error) {
	var value int64
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(
			`INSERT INTO document_sequences (kind, next) VALUES (?, 0)
			 ON CONFLICT (kind) DO NOTHING`,
			kind,
		).Error; err != nil {
			return err
		}
		if err := tx.Exec(
			`UPDATE document_sequences SET next = next + 1 WHERE kind = ?`,
			kind,
		).Error; err != nil {
			return err
		}
		return tx.Raw(
			`SELECT next FROM document_sequences WHERE kind = ?`,
			kind,
		).Scan(&value).Error
	})
	if err != nil {
		return "", err
	}
	return Format(kind, value), nil
}
