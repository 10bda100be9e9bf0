package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base is embedded by every versioned governance entity.
// Version is the optimistic concurrency token: writers update
// "WHERE id = ? AND version = ?" and bump it by one.
type Base struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Version   int       `gorm:"not null;default:1" json:"version"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (b *Base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Version == 0 {
		b.Version = 1
	}
	return nil
}

// Stamp sets creation/update timestamps from the engine clock.
func (b *Base) Stamp(now time.Time) {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
}
