package workflow

import (
	"context"
	"strings"

	"bitbucket.org/mmdatafocus/governance_backend/models"
	"bitbucket.org/mmdatafocus/governance_backend/utils"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// CreateException records an approved deviation. Rules are checked in order:
// title, justification, target, type, then expiry (today or later, date only).
// The first failure is returned as InvalidInput.
func (e *Engine) CreateException(ctx context.Context, actor Actor, input models.NewCompletionException) (result *models.CompletionException, err error) {
	ctx, span := e.startSpan(ctx, "CreateException", attribute.String("section_id", input.SectionId))
	defer func() { endSpan(span, err) }()

	if err = utils.ValidateInput(input); err != nil {
		return nil, err
	}
	now := e.now()
	expiresAt := input.ExpiresAt.Ptr()
	if expiresAt != nil && expiresAt.Before(utils.DateOnly(now)) {
		err = utils.NewInvalidInput("expires_at", "must be today or a future date")
		return nil, err
	}
	if err = e.authorize(ctx, actor, PermExceptionCreate, Resource{Type: models.EntityCompletionException, SectionId: input.SectionId}); err != nil {
		return nil, err
	}

	requestedBy := strings.TrimSpace(input.RequestedBy)
	if requestedBy == "" {
		requestedBy = actor.Id
	}
	exception := models.CompletionException{
		SectionId:     input.SectionId,
		DataPointId:   input.DataPointId,
		Title:         strings.TrimSpace(input.Title),
		ExceptionType: input.ExceptionType,
		Justification: strings.TrimSpace(input.Justification),
		RequestedBy:   requestedBy,
		ExpiresAt:     expiresAt,
	}
	exception.Stamp(now)

	err = e.inTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&exception).Error; err != nil {
			return err
		}
		var changes changeSet
		changes.add("section_id", "", exception.SectionId)
		changes.add("data_point_id", "", strOrEmpty(exception.DataPointId))
		changes.add("title", "", exception.Title)
		changes.add("exception_type", "", string(exception.ExceptionType))
		changes.add("justification", "", exception.Justification)
		changes.add("requested_by", "", exception.RequestedBy)
		changes.add("expires_at", "", dateOrEmpty(exception.ExpiresAt))
		_, err := e.recordAudit(ctx, tx, AuditRecord{
			Actor:      actor,
			Action:     models.AuditActionCreate,
			EntityType: models.EntityCompletionException,
			EntityId:   exception.ID,
			Changes:    changes,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return &exception, nil
}

func (e *Engine) GetException(ctx context.Context, id string) (result *models.CompletionException, err error) {
	ctx, span := e.startSpan(ctx, "GetException", attribute.String("exception_id", id))
	defer func() { endSpan(span, err) }()

	result, err = fetchById[models.CompletionException](e.DB.WithContext(ctx), models.EntityCompletionException, id)
	if err != nil {
		err = e.mapStorageError(ctx, err)
		return nil, err
	}
	return result, nil
}

// ListExceptions returns the section's exceptions newest first. With
// activeOnly, expired ones are filtered out against the engine clock.
func (e *Engine) ListExceptions(ctx context.Context, sectionId string, activeOnly bool) (results []*models.CompletionException, err error) {
	ctx, span := e.startSpan(ctx, "ListExceptions", attribute.String("section_id", sectionId))
	defer func() { endSpan(span, err) }()

	var all []*models.CompletionException
	if err = e.DB.WithContext(ctx).Where("section_id = ?", sectionId).Order("created_at DESC").Order("id DESC").Find(&all).Error; err != nil {
		err = e.mapStorageError(ctx, err)
		return nil, err
	}
	if !activeOnly {
		return all, nil
	}
	now := e.now()
	results = make([]*models.CompletionException, 0, len(all))
	for _, exception := range all {
		if exception.IsActive(now) {
			results = append(results, exception)
		}
	}
	return results, nil
}
