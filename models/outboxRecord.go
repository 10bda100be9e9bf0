package models

import (
	"time"

	"gorm.io/datatypes"
)

// Outbox publish statuses for AuditOutboxRecord.PublishStatus.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// AuditOutboxRecord is written in the same transaction as its audit row and
// published to Pub/Sub after commit by the outbox dispatcher.
type AuditOutboxRecord struct {
	ID               int            `gorm:"primaryKey;autoIncrement;index:idx_outbox_dispatch,priority:3" json:"id"`
	AuditLogId       string         `gorm:"size:36;not null;uniqueIndex" json:"audit_log_id"`
	Payload          datatypes.JSON `json:"payload"`
	PublishStatus    string         `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"`
	PublishAttempts  int            `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time     `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time     `gorm:"index" json:"locked_at"`
	LockedBy         *string        `gorm:"size:100" json:"locked_by"`
	LastPublishError *string        `gorm:"type:text" json:"last_publish_error"`
	PubSubMessageId  *string        `gorm:"size:255" json:"pubsub_message_id"`
	PublishedAt      *time.Time     `gorm:"index" json:"published_at"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}
