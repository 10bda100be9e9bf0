package workflow

import (
	"context"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/governance_backend/models"
	"bitbucket.org/mmdatafocus/governance_backend/utils"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

func (e *Engine) CreatePlan(ctx context.Context, actor Actor, input models.NewRemediationPlan) (result *models.RemediationPlan, err error) {
	ctx, span := e.startSpan(ctx, "CreatePlan", attribute.String("section_id", input.SectionId))
	defer func() { endSpan(span, err) }()

	if err = utils.ValidateInput(input); err != nil {
		return nil, err
	}
	if err = validatePlanLink(input.LinkType, input.LinkId); err != nil {
		return nil, err
	}
	if err = e.authorize(ctx, actor, PermPlanWrite, Resource{Type: models.EntityRemediationPlan, SectionId: input.SectionId}); err != nil {
		return nil, err
	}

	priority := input.Priority
	if priority == "" {
		priority = models.RemediationPriorityMedium
	}
	plan := models.RemediationPlan{
		SectionId:    input.SectionId,
		LinkType:     input.LinkType,
		LinkId:       input.LinkId,
		Title:        strings.TrimSpace(input.Title),
		Description:  input.Description,
		OwnerId:      strings.TrimSpace(input.OwnerId),
		Priority:     priority,
		Status:       models.RemediationStatusPlanned,
		TargetPeriod: strings.TrimSpace(input.TargetPeriod),
	}
	plan.Stamp(e.now())

	err = e.inTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&plan).Error; err != nil {
			return err
		}
		var changes changeSet
		changes.add("section_id", "", plan.SectionId)
		if plan.LinkType != nil {
			changes.add("link_type", "", string(*plan.LinkType))
		}
		changes.add("link_id", "", strOrEmpty(plan.LinkId))
		changes.add("title", "", plan.Title)
		changes.add("description", "", plan.Description)
		changes.add("owner_id", "", plan.OwnerId)
		changes.add("priority", "", string(plan.Priority))
		changes.add("status", "", string(plan.Status))
		changes.add("target_period", "", plan.TargetPeriod)
		_, err := e.recordAudit(ctx, tx, AuditRecord{
			Actor:      actor,
			Action:     models.AuditActionCreate,
			EntityType: models.EntityRemediationPlan,
			EntityId:   plan.ID,
			Changes:    changes,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

// validatePlanLink requires link type and id together. The id is a weak
// reference: only its shape is checked.
func validatePlanLink(linkType *models.RemediationLinkType, linkId *string) error {
	hasType := linkType != nil && *linkType != ""
	hasId := linkId != nil && strings.TrimSpace(*linkId) != ""
	switch {
	case hasType && !hasId:
		return utils.NewInvalidInput("link_id", "is required when link_type is set")
	case hasId && !hasType:
		return utils.NewInvalidInput("link_type", "is required when link_id is set")
	case hasId:
		return utils.ValidateId("link_id", *linkId)
	}
	return nil
}

func (e *Engine) GetPlan(ctx context.Context, id string) (result *models.RemediationPlan, err error) {
	ctx, span := e.startSpan(ctx, "GetPlan", attribute.String("plan_id", id))
	defer func() { endSpan(span, err) }()

	result, err = fetchById[models.RemediationPlan](e.DB.WithContext(ctx), models.EntityRemediationPlan, id)
	if err != nil {
		err = e.mapStorageError(ctx, err)
		return nil, err
	}
	return result, nil
}

// ListPlans returns a section's plans newest first, optionally narrowed to one linked entity.
func (e *Engine) ListPlans(ctx context.Context, filter models.RemediationPlanFilter) (results []*models.RemediationPlan, err error) {
	ctx, span := e.startSpan(ctx, "ListPlans", attribute.String("section_id", filter.SectionId))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(filter.SectionId) == "" {
		err = utils.NewInvalidInput("section_id", "is required")
		return nil, err
	}
	if filter.LinkType != nil && !filter.LinkType.IsValid() {
		err = utils.NewInvalidInput("link_type", "must be one of: gap, assumption, data_point")
		return nil, err
	}
	if filter.LinkId != nil {
		if err = utils.ValidateId("link_id", *filter.LinkId); err != nil {
			return nil, err
		}
	}
	db := e.DB.WithContext(ctx).Where("section_id = ?", filter.SectionId)
	if filter.LinkType != nil {
		db = db.Where("link_type = ?", *filter.LinkType)
	}
	if filter.LinkId != nil {
		db = db.Where("link_id = ?", *filter.LinkId)
	}
	if err = db.Order("created_at DESC").Order("id DESC").Find(&results).Error; err != nil {
		err = e.mapStorageError(ctx, err)
		return nil, err
	}
	return results, nil
}

// UpdatePlan edits an open plan. Setting status completed behaves like
// CompletePlan; closed plans are immutable.
func (e *Engine) UpdatePlan(ctx context.Context, actor Actor, id string, input models.UpdateRemediationPlan) (result *models.RemediationPlan, err error) {
	ctx, span := e.startSpan(ctx, "UpdatePlan", attribute.String("plan_id", id))
	defer func() { endSpan(span, err) }()

	if err = utils.ValidateInput(input); err != nil {
		return nil, err
	}
	unlock, err := e.lockEntity(ctx, models.EntityRemediationPlan, id)
	defer unlock()
	if err != nil {
		return nil, err
	}

	err = e.inTx(ctx, func(tx *gorm.DB) error {
		plan, err := e.loadOpenPlan(ctx, tx, actor, PermPlanWrite, id)
		if err != nil {
			return err
		}
		if err := checkVersion(models.EntityRemediationPlan, plan.ID, input.Version, plan.Version); err != nil {
			return err
		}

		now := e.now()
		next := *plan
		if input.Title != nil {
			next.Title = strings.TrimSpace(*input.Title)
		}
		if input.Description != nil {
			next.Description = *input.Description
		}
		if input.OwnerId != nil {
			next.OwnerId = strings.TrimSpace(*input.OwnerId)
		}
		if input.Priority != nil {
			next.Priority = *input.Priority
		}
		if input.TargetPeriod != nil {
			next.TargetPeriod = strings.TrimSpace(*input.TargetPeriod)
		}
		if input.Status != nil {
			next.Status = *input.Status
		}
		if next.Status == models.RemediationStatusCompleted {
			completedBy := actor.Id
			next.CompletedAt = &now
			next.CompletedBy = &completedBy
		}

		var changes changeSet
		changes.add("title", plan.Title, next.Title)
		changes.add("description", plan.Description, next.Description)
		changes.add("owner_id", plan.OwnerId, next.OwnerId)
		changes.add("priority", string(plan.Priority), string(next.Priority))
		changes.add("target_period", plan.TargetPeriod, next.TargetPeriod)
		changes.add("status", string(plan.Status), string(next.Status))
		changes.add("completed_at", timeOrEmpty(plan.CompletedAt), timeOrEmpty(next.CompletedAt))
		changes.add("completed_by", strOrEmpty(plan.CompletedBy), strOrEmpty(next.CompletedBy))
		if len(changes) == 0 {
			result = plan
			return nil
		}

		if err := saveVersioned[models.RemediationPlan](tx, models.EntityRemediationPlan, plan.ID, plan.Version, map[string]interface{}{
			"title":         next.Title,
			"description":   next.Description,
			"owner_id":      next.OwnerId,
			"priority":      next.Priority,
			"target_period": next.TargetPeriod,
			"status":        next.Status,
			"completed_at":  next.CompletedAt,
			"completed_by":  next.CompletedBy,
		}, now); err != nil {
			return err
		}
		next.Version++
		next.UpdatedAt = now

		action := models.AuditActionUpdate
		if next.Status == models.RemediationStatusCompleted {
			action = models.AuditActionComplete
		} else if next.Status != plan.Status {
			action = models.AuditActionStatusChange
		}
		if _, err := e.recordAudit(ctx, tx, AuditRecord{
			Actor:      actor,
			Action:     action,
			EntityType: models.EntityRemediationPlan,
			EntityId:   plan.ID,
			Changes:    changes,
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

// CompletePlan closes a planned or in-progress plan, stamping who and when.
func (e *Engine) CompletePlan(ctx context.Context, actor Actor, id string, note *string) (result *models.RemediationPlan, err error) {
	ctx, span := e.startSpan(ctx, "CompletePlan", attribute.String("plan_id", id))
	defer func() { endSpan(span, err) }()

	unlock, err := e.lockEntity(ctx, models.EntityRemediationPlan, id)
	defer unlock()
	if err != nil {
		return nil, err
	}

	err = e.inTx(ctx, func(tx *gorm.DB) error {
		plan, err := e.loadOpenPlan(ctx, tx, actor, PermPlanWrite, id)
		if err != nil {
			return err
		}
		now := e.now()
		completedBy := actor.Id
		if err := saveVersioned[models.RemediationPlan](tx, models.EntityRemediationPlan, plan.ID, plan.Version, map[string]interface{}{
			"status":       models.RemediationStatusCompleted,
			"completed_at": &now,
			"completed_by": &completedBy,
		}, now); err != nil {
			return err
		}

		var changes changeSet
		changes.add("status", string(plan.Status), string(models.RemediationStatusCompleted))
		changes.add("completed_at", "", timeOrEmpty(&now))
		changes.add("completed_by", "", completedBy)

		plan.Status = models.RemediationStatusCompleted
		plan.CompletedAt = &now
		plan.CompletedBy = &completedBy
		plan.Version++
		plan.UpdatedAt = now

		if _, err := e.recordAudit(ctx, tx, AuditRecord{
			Actor:      actor,
			Action:     models.AuditActionComplete,
			EntityType: models.EntityRemediationPlan,
			EntityId:   plan.ID,
			Changes:    changes,
			Note:       note,
		}); err != nil {
			return err
		}
		result = plan
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DeletePlan removes the plan and all of its actions in one transaction and
// writes a single audit entry for the plan.
func (e *Engine) DeletePlan(ctx context.Context, actor Actor, id string) (err error) {
	ctx, span := e.startSpan(ctx, "DeletePlan", attribute.String("plan_id", id))
	defer func() { endSpan(span, err) }()

	unlock, err := e.lockEntity(ctx, models.EntityRemediationPlan, id)
	defer unlock()
	if err != nil {
		return err
	}

	err = e.inTx(ctx, func(tx *gorm.DB) error {
		plan, err := fetchById[models.RemediationPlan](tx, models.EntityRemediationPlan, id)
		if err != nil {
			return err
		}
		if err := e.authorize(ctx, actor, PermPlanDelete, Resource{Type: models.EntityRemediationPlan, Id: plan.ID, SectionId: plan.SectionId}); err != nil {
			return err
		}
		removed := tx.Where("plan_id = ?", plan.ID).Delete(&models.RemediationAction{})
		if removed.Error != nil {
			return removed.Error
		}
		deleted := tx.Where("id = ? AND version = ?", plan.ID, plan.Version).Delete(&models.RemediationPlan{})
		if deleted.Error != nil {
			return deleted.Error
		}
		if deleted.RowsAffected == 0 {
			return utils.NewConflict(models.EntityRemediationPlan, plan.ID, "stale version, reload and retry")
		}

		var changes changeSet
		changes.record("status", string(plan.Status), "")
		changes.record("actions", strconv.FormatInt(removed.RowsAffected, 10), "0")
		_, err = e.recordAudit(ctx, tx, AuditRecord{
			Actor:      actor,
			Action:     models.AuditActionDelete,
			EntityType: models.EntityRemediationPlan,
			EntityId:   plan.ID,
			Changes:    changes,
		})
		return err
	})
	return err
}

// loadOpenPlan fetches and authorizes a plan, rejecting closed plans.
func (e *Engine) loadOpenPlan(ctx context.Context, tx *gorm.DB, actor Actor, perm Permission, id string) (*models.RemediationPlan, error) {
	plan, err := fetchById[models.RemediationPlan](tx, models.EntityRemediationPlan, id)
	if err != nil {
		return nil, err
	}
	if err := e.authorize(ctx, actor, perm, Resource{Type: models.EntityRemediationPlan, Id: plan.ID, SectionId: plan.SectionId}); err != nil {
		return nil, err
	}
	if plan.Status.IsClosed() {
		return nil, utils.NewInvalidTransition(models.EntityRemediationPlan, plan.ID, "plan is "+string(plan.Status))
	}
	return plan, nil
}

// CreateAction adds a step to an open plan. Actions are serialized under the plan lock.
func (e *Engine) CreateAction(ctx context.Context, actor Actor, planId string, input models.NewRemediationAction) (result *models.RemediationAction, err error) {
	ctx, span := e.startSpan(ctx, "CreateAction", attribute.String("plan_id", planId))
	defer func() { endSpan(span, err) }()

	if err = utils.ValidateInput(input); err != nil {
		return nil, err
	}
	unlock, err := e.lockEntity(ctx, models.EntityRemediationPlan, planId)
	defer unlock()
	if err != nil {
		return nil, err
	}

	err = e.inTx(ctx, func(tx *gorm.DB) error {
		plan, err := e.loadOpenPlan(ctx, tx, actor, PermPlanWrite, planId)
		if err != nil {
			return err
		}
		action := models.RemediationAction{
			PlanId:  plan.ID,
			Title:   strings.TrimSpace(input.Title),
			OwnerId: strings.TrimSpace(input.OwnerId),
			DueDate: input.DueDate.Ptr(),
			Status:  models.RemediationStatusPlanned,
		}
		action.Stamp(e.now())
		if err := tx.Create(&action).Error; err != nil {
			return err
		}

		var changes changeSet
		changes.add("plan_id", "", action.PlanId)
		changes.add("title", "", action.Title)
		changes.add("owner_id", "", action.OwnerId)
		changes.add("due_date", "", dateOrEmpty(action.DueDate))
		changes.add("status", "", string(action.Status))
		if _, err := e.recordAudit(ctx, tx, AuditRecord{
			Actor:      actor,
			Action:     models.AuditActionCreate,
			EntityType: models.EntityRemediationAction,
			EntityId:   action.ID,
			Changes:    changes,
		}); err != nil {
			return err
		}
		result = &action
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListActions returns a plan's actions in creation order.
func (e *Engine) ListActions(ctx context.Context, planId string) (results []*models.RemediationAction, err error) {
	ctx, span := e.startSpan(ctx, "ListActions", attribute.String("plan_id", planId))
	defer func() { endSpan(span, err) }()

	db := e.DB.WithContext(ctx)
	if _, err = fetchById[models.RemediationPlan](db, models.EntityRemediationPlan, planId); err != nil {
		err = e.mapStorageError(ctx, err)
		return nil, err
	}
	if err = db.Where("plan_id = ?", planId).Order("created_at ASC").Order("id ASC").Find(&results).Error; err != nil {
		err = e.mapStorageError(ctx, err)
		return nil, err
	}
	return results, nil
}

// UpdateActionStatus moves an action of an open plan. Actions of closed plans are frozen.
func (e *Engine) UpdateActionStatus(ctx context.Context, actor Actor, actionId string, input models.UpdateRemediationActionStatus) (result *models.RemediationAction, err error) {
	ctx, span := e.startSpan(ctx, "UpdateActionStatus", attribute.String("action_id", actionId))
	defer func() { endSpan(span, err) }()

	if err = utils.ValidateInput(input); err != nil {
		return nil, err
	}
	action, err := fetchById[models.RemediationAction](e.DB.WithContext(ctx), models.EntityRemediationAction, actionId)
	if err != nil {
		err = e.mapStorageError(ctx, err)
		return nil, err
	}
	unlock, err := e.lockEntity(ctx, models.EntityRemediationPlan, action.PlanId)
	defer unlock()
	if err != nil {
		return nil, err
	}

	err = e.inTx(ctx, func(tx *gorm.DB) error {
		current, err := fetchById[models.RemediationAction](tx, models.EntityRemediationAction, actionId)
		if err != nil {
			return err
		}
		if _, err := e.loadOpenPlan(ctx, tx, actor, PermPlanWrite, current.PlanId); err != nil {
			return err
		}
		if err := checkVersion(models.EntityRemediationAction, current.ID, input.Version, current.Version); err != nil {
			return err
		}
		if current.Status == input.Status {
			result = current
			return nil
		}

		now := e.now()
		var completedAt *time.Time
		if input.Status == models.RemediationStatusCompleted {
			completedAt = &now
		}
		if err := saveVersioned[models.RemediationAction](tx, models.EntityRemediationAction, current.ID, current.Version, map[string]interface{}{
			"status":       input.Status,
			"completed_at": completedAt,
		}, now); err != nil {
			return err
		}

		var changes changeSet
		changes.add("status", string(current.Status), string(input.Status))
		changes.add("completed_at", timeOrEmpty(current.CompletedAt), timeOrEmpty(completedAt))

		current.Status = input.Status
		current.CompletedAt = completedAt
		current.Version++
		current.UpdatedAt = now

		if _, err := e.recordAudit(ctx, tx, AuditRecord{
			Actor:      actor,
			Action:     models.AuditActionStatusChange,
			EntityType: models.EntityRemediationAction,
			EntityId:   current.ID,
			Changes:    changes,
		}); err != nil {
			return err
		}
		result = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
