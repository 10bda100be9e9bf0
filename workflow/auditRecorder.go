package workflow

import (
	"context"
	"encoding/json"
	"strings"

	"bitbucket.org/mmdatafocus/governance_backend/config"
	"bitbucket.org/mmdatafocus/governance_backend/models"
	"bitbucket.org/mmdatafocus/governance_backend/utils"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultAuditListLimit = 200

// AuditRecord is one entry to append to the audit trail.
type AuditRecord struct {
	Actor      Actor
	Action     string
	EntityType string
	EntityId   string
	Changes    []models.FieldChange
	Note       *string
}

// changeSet accumulates field-level changes, skipping fields that did not change.
type changeSet []models.FieldChange

func (c *changeSet) add(field string, oldValue string, newValue string) {
	if oldValue == newValue {
		return
	}
	*c = append(*c, models.FieldChange{Field: field, OldValue: oldValue, NewValue: newValue})
}

// record appends unconditionally; used where the action itself is the change.
func (c *changeSet) record(field string, oldValue string, newValue string) {
	*c = append(*c, models.FieldChange{Field: field, OldValue: oldValue, NewValue: newValue})
}

// recordAudit writes the audit row with tx, so it commits or rolls back with
// the domain mutation. With the outbox enabled it also enqueues the event.
func (e *Engine) recordAudit(ctx context.Context, tx *gorm.DB, rec AuditRecord) (*models.AuditLog, error) {
	changes := rec.Changes
	if changes == nil {
		changes = []models.FieldChange{}
	}
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	entry := models.AuditLog{
		ActorId:       rec.Actor.Id,
		ActorName:     rec.Actor.Name,
		Action:        rec.Action,
		EntityType:    rec.EntityType,
		EntityId:      rec.EntityId,
		Changes:       datatypes.NewJSONType(changes),
		Note:          normalizeNote(rec.Note),
		CorrelationId: correlationId,
		CreatedAt:     e.now(),
	}
	if err := tx.Create(&entry).Error; err != nil {
		return nil, err
	}
	if e.OutboxEnabled {
		if err := e.enqueueAuditEvent(tx, entry); err != nil {
			return nil, err
		}
	}
	return &entry, nil
}

func (e *Engine) enqueueAuditEvent(tx *gorm.DB, entry models.AuditLog) error {
	changes, err := json.Marshal(entry.ChangeList())
	if err != nil {
		return err
	}
	payload, err := json.Marshal(config.AuditEventMessage{
		AuditLogId:    entry.ID,
		Action:        entry.Action,
		EntityType:    entry.EntityType,
		EntityId:      entry.EntityId,
		ActorId:       entry.ActorId,
		Changes:       changes,
		CorrelationId: entry.CorrelationId,
		OccurredAt:    entry.CreatedAt,
	})
	if err != nil {
		return err
	}
	return tx.Create(&models.AuditOutboxRecord{
		AuditLogId:    entry.ID,
		Payload:       datatypes.JSON(payload),
		PublishStatus: models.OutboxPublishStatusPending,
	}).Error
}

func normalizeNote(note *string) *string {
	if note == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*note)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// RecordAudit appends a standalone audit entry, for collaborators that mutate
// state outside the engine but share its trail.
func (e *Engine) RecordAudit(ctx context.Context, actor Actor, action string, entityType string, entityId string, changes []models.FieldChange) (*models.AuditLog, error) {
	ctx, span := e.startSpan(ctx, "RecordAudit", attribute.String("entity_type", entityType), attribute.String("entity_id", entityId))
	var err error
	defer func() { endSpan(span, err) }()

	if err = e.authorize(ctx, actor, PermAuditRecord, Resource{Type: entityType, Id: entityId}); err != nil {
		return nil, err
	}
	switch {
	case strings.TrimSpace(action) == "":
		err = utils.NewInvalidInput("action", "is required")
	case strings.TrimSpace(entityType) == "":
		err = utils.NewInvalidInput("entity_type", "is required")
	case strings.TrimSpace(entityId) == "":
		err = utils.NewInvalidInput("entity_id", "is required")
	}
	if err != nil {
		return nil, err
	}

	var entry *models.AuditLog
	err = e.inTx(ctx, func(tx *gorm.DB) error {
		var txErr error
		entry, txErr = e.recordAudit(ctx, tx, AuditRecord{
			Actor:      actor,
			Action:     action,
			EntityType: entityType,
			EntityId:   entityId,
			Changes:    changes,
		})
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ListAuditLogs returns entries newest first.
func (e *Engine) ListAuditLogs(ctx context.Context, filter models.AuditLogFilter) ([]*models.AuditLog, error) {
	ctx, span := e.startSpan(ctx, "ListAuditLogs")
	var err error
	defer func() { endSpan(span, err) }()

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = defaultAuditListLimit
	}
	db := e.DB.WithContext(ctx).Model(&models.AuditLog{})
	if filter.EntityType != "" {
		db = db.Where("entity_type = ?", filter.EntityType)
	}
	if filter.EntityId != "" {
		db = db.Where("entity_id = ?", filter.EntityId)
	}
	if filter.ActorId != "" {
		db = db.Where("actor_id = ?", filter.ActorId)
	}
	if filter.Action != "" {
		db = db.Where("action = ?", filter.Action)
	}
	var results []*models.AuditLog
	if err = db.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&results).Error; err != nil {
		err = e.mapStorageError(ctx, err)
		return nil, err
	}
	return results, nil
}
