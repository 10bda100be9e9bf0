package workflow

import (
	"context"
	"strings"

	"bitbucket.org/mmdatafocus/governance_backend/models"
	"bitbucket.org/mmdatafocus/governance_backend/utils"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// UpdateStatus moves a data point to a new completeness status. Entering
// "complete" requires the four prerequisites or an active covering exception.
// Requesting the current status is a no-op that writes nothing.
func (e *Engine) UpdateStatus(ctx context.Context, actor Actor, dataPointId string, input models.UpdateDataPointStatus) (result *models.DataPoint, err error) {
	ctx, span := e.startSpan(ctx, "UpdateStatus",
		attribute.String("data_point_id", dataPointId),
		attribute.String("status", string(input.Status)))
	defer func() { endSpan(span, err) }()

	if err = utils.ValidateInput(input); err != nil {
		return nil, err
	}
	unlock, err := e.lockEntity(ctx, models.EntityDataPoint, dataPointId)
	defer unlock()
	if err != nil {
		return nil, err
	}

	err = e.inTx(ctx, func(tx *gorm.DB) error {
		dp, err := fetchById[models.DataPoint](tx, models.EntityDataPoint, dataPointId)
		if err != nil {
			return err
		}
		if err := e.authorize(ctx, actor, PermDataPointStatus, Resource{Type: models.EntityDataPoint, Id: dp.ID, SectionId: dp.SectionId}); err != nil {
			return err
		}
		if dp.CompletenessStatus == input.Status {
			result = dp
			return nil
		}
		if err := checkVersion(models.EntityDataPoint, dp.ID, input.Version, dp.Version); err != nil {
			return err
		}

		now := e.now()
		if input.Status == models.CompletenessStatusComplete {
			exceptions, err := sectionExceptions(tx, dp.SectionId)
			if err != nil {
				return err
			}
			if missing := ValidateCompleteness(*dp, input.Status, exceptions, now); len(missing) > 0 {
				return utils.NewValidationFailed(models.EntityDataPoint, dp.ID, missing)
			}
		}

		oldStatus := dp.CompletenessStatus
		if err := saveVersioned[models.DataPoint](tx, models.EntityDataPoint, dp.ID, dp.Version, map[string]interface{}{
			"completeness_status": input.Status,
		}, now); err != nil {
			return err
		}
		dp.CompletenessStatus = input.Status
		dp.Version++
		dp.UpdatedAt = now

		var changes changeSet
		changes.add("completeness_status", string(oldStatus), string(input.Status))
		if _, err := e.recordAudit(ctx, tx, AuditRecord{
			Actor:      actor,
			Action:     models.AuditActionStatusChange,
			EntityType: models.EntityDataPoint,
			EntityId:   dp.ID,
			Changes:    changes,
			Note:       input.Note,
		}); err != nil {
			return err
		}
		result = dp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// sectionExceptions loads every exception of the section; activity is decided by the caller's clock.
func sectionExceptions(tx *gorm.DB, sectionId string) ([]models.CompletionException, error) {
	var exceptions []models.CompletionException
	if err := tx.Where("section_id = ?", sectionId).Order("created_at ASC").Find(&exceptions).Error; err != nil {
		return nil, err
	}
	return exceptions, nil
}

func (e *Engine) CreateDataPoint(ctx context.Context, actor Actor, input models.NewDataPoint) (result *models.DataPoint, err error) {
	ctx, span := e.startSpan(ctx, "CreateDataPoint", attribute.String("section_id", input.SectionId))
	defer func() { endSpan(span, err) }()

	if err = utils.ValidateInput(input); err != nil {
		return nil, err
	}
	if err = e.authorize(ctx, actor, PermDataPointWrite, Resource{Type: models.EntityDataPoint, SectionId: input.SectionId}); err != nil {
		return nil, err
	}

	now := e.now()
	dp := models.DataPoint{
		SectionId:          input.SectionId,
		Name:               strings.TrimSpace(input.Name),
		CompletenessStatus: models.CompletenessStatusMissing,
		Value:              input.Value,
		PeriodDeadline:     strings.TrimSpace(input.PeriodDeadline),
		MethodologySource:  input.MethodologySource,
		OwnerId:            strings.TrimSpace(input.OwnerId),
	}
	dp.Stamp(now)

	err = e.inTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&dp).Error; err != nil {
			return err
		}
		var changes changeSet
		changes.add("section_id", "", dp.SectionId)
		changes.add("name", "", dp.Name)
		changes.add("completeness_status", "", string(dp.CompletenessStatus))
		changes.add("value", "", dp.Value)
		changes.add("period_deadline", "", dp.PeriodDeadline)
		changes.add("methodology_source", "", dp.MethodologySource)
		changes.add("owner_id", "", dp.OwnerId)
		_, err := e.recordAudit(ctx, tx, AuditRecord{
			Actor:      actor,
			Action:     models.AuditActionCreate,
			EntityType: models.EntityDataPoint,
			EntityId:   dp.ID,
			Changes:    changes,
			Note:       input.Note,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return &dp, nil
}

func (e *Engine) GetDataPoint(ctx context.Context, id string) (result *models.DataPoint, err error) {
	ctx, span := e.startSpan(ctx, "GetDataPoint", attribute.String("data_point_id", id))
	defer func() { endSpan(span, err) }()

	result, err = fetchById[models.DataPoint](e.DB.WithContext(ctx), models.EntityDataPoint, id)
	if err != nil {
		err = e.mapStorageError(ctx, err)
		return nil, err
	}
	return result, nil
}

func (e *Engine) ListDataPoints(ctx context.Context, sectionId string) (results []*models.DataPoint, err error) {
	ctx, span := e.startSpan(ctx, "ListDataPoints", attribute.String("section_id", sectionId))
	defer func() { endSpan(span, err) }()

	if err = e.DB.WithContext(ctx).Where("section_id = ?", sectionId).Order("name ASC").Order("id ASC").Find(&results).Error; err != nil {
		err = e.mapStorageError(ctx, err)
		return nil, err
	}
	return results, nil
}

// UpdateDataPointDetails edits the descriptive fields of a data point. A
// complete data point must stay complete: clearing a prerequisite without a
// covering exception fails with ValidationFailed.
func (e *Engine) UpdateDataPointDetails(ctx context.Context, actor Actor, id string, input models.DataPointDetails) (result *models.DataPoint, err error) {
	ctx, span := e.startSpan(ctx, "UpdateDataPointDetails", attribute.String("data_point_id", id))
	defer func() { endSpan(span, err) }()

	if err = utils.ValidateInput(input); err != nil {
		return nil, err
	}
	unlock, err := e.lockEntity(ctx, models.EntityDataPoint, id)
	defer unlock()
	if err != nil {
		return nil, err
	}

	err = e.inTx(ctx, func(tx *gorm.DB) error {
		dp, err := fetchById[models.DataPoint](tx, models.EntityDataPoint, id)
		if err != nil {
			return err
		}
		if err := e.authorize(ctx, actor, PermDataPointWrite, Resource{Type: models.EntityDataPoint, Id: dp.ID, SectionId: dp.SectionId}); err != nil {
			return err
		}
		if err := checkVersion(models.EntityDataPoint, dp.ID, input.Version, dp.Version); err != nil {
			return err
		}

		next := *dp
		if input.Name != nil {
			next.Name = strings.TrimSpace(*input.Name)
		}
		if input.Value != nil {
			next.Value = *input.Value
		}
		if input.PeriodDeadline != nil {
			next.PeriodDeadline = strings.TrimSpace(*input.PeriodDeadline)
		}
		if input.MethodologySource != nil {
			next.MethodologySource = *input.MethodologySource
		}
		if input.OwnerId != nil {
			next.OwnerId = strings.TrimSpace(*input.OwnerId)
		}

		var changes changeSet
		changes.add("name", dp.Name, next.Name)
		changes.add("value", dp.Value, next.Value)
		changes.add("period_deadline", dp.PeriodDeadline, next.PeriodDeadline)
		changes.add("methodology_source", dp.MethodologySource, next.MethodologySource)
		changes.add("owner_id", dp.OwnerId, next.OwnerId)
		if len(changes) == 0 {
			result = dp
			return nil
		}

		now := e.now()
		if dp.CompletenessStatus == models.CompletenessStatusComplete {
			exceptions, err := sectionExceptions(tx, dp.SectionId)
			if err != nil {
				return err
			}
			if missing := ValidateCompleteness(next, models.CompletenessStatusComplete, exceptions, now); len(missing) > 0 {
				return utils.NewValidationFailed(models.EntityDataPoint, dp.ID, missing)
			}
		}

		if err := saveVersioned[models.DataPoint](tx, models.EntityDataPoint, dp.ID, dp.Version, map[string]interface{}{
			"name":               next.Name,
			"value":              next.Value,
			"period_deadline":    next.PeriodDeadline,
			"methodology_source": next.MethodologySource,
			"owner_id":           next.OwnerId,
		}, now); err != nil {
			return err
		}
		next.Version++
		next.UpdatedAt = now

		if _, err := e.recordAudit(ctx, tx, AuditRecord{
			Actor:      actor,
			Action:     models.AuditActionUpdate,
			EntityType: models.EntityDataPoint,
			EntityId:   dp.ID,
			Changes:    changes,
			Note:       input.Note,
		}); err != nil {
			return err
		}
		result = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
