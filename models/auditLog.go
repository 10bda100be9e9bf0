package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// FieldChange is one field-level before/after pair. Empty strings mean "unset".
type FieldChange struct {
	Field    string `json:"field"`
	OldValue string `json:"old_value"`
	NewValue string `json:"new_value"`
}

// AuditLog is append-only: rows are inserted by the audit recorder and never
// updated or deleted.
type AuditLog struct {
	ID            string                           `gorm:"primaryKey;size:36" json:"id"`
	ActorId       string                           `gorm:"size:100;index;not null" json:"actor_id"`
	ActorName     string                           `gorm:"size:255" json:"actor_name"`
	Action        string                           `gorm:"size:30;not null;index" json:"action"`
	EntityType    string                           `gorm:"size:50;not null;index:idx_audit_entity,priority:1" json:"entity_type"`
	EntityId      string                           `gorm:"size:36;not null;index:idx_audit_entity,priority:2" json:"entity_id"`
	Changes       datatypes.JSONType[[]FieldChange] `json:"changes"`
	Note          *string                          `gorm:"type:text" json:"note"`
	CorrelationId string                           `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time                        `gorm:"index" json:"created_at"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

func (a *AuditLog) BeforeUpdate(tx *gorm.DB) error {
	return ErrAuditLogImmutable
}

func (a *AuditLog) BeforeDelete(tx *gorm.DB) error {
	return ErrAuditLogImmutable
}

// ChangeList returns the recorded field changes in order.
func (a AuditLog) ChangeList() []FieldChange {
	return a.Changes.Data()
}

type AuditLogFilter struct {
	EntityType string
	EntityId   string
	ActorId    string
	Action     string
	Limit      int
}
