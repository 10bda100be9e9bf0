package workflow

import (
	"context"
	"strings"

	"bitbucket.org/mmdatafocus/governance_backend/models"
	"bitbucket.org/mmdatafocus/governance_backend/utils"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// CreateAccessRequest records a pending request by actor to view a restricted section or report.
func (e *Engine) CreateAccessRequest(ctx context.Context, actor Actor, input models.NewAccessRequest) (result *models.AccessRequest, err error) {
	ctx, span := e.startSpan(ctx, "CreateAccessRequest", attribute.String("resource_id", input.ResourceId))
	defer func() { endSpan(span, err) }()

	if err = utils.ValidateInput(input); err != nil {
		return nil, err
	}
	if err = e.authorize(ctx, actor, PermAccessRequest, Resource{Type: string(input.ResourceType), Id: input.ResourceId}); err != nil {
		return nil, err
	}

	request := models.AccessRequest{
		RequestedBy:  actor.Id,
		ResourceType: input.ResourceType,
		ResourceId:   input.ResourceId,
		Reason:       strings.TrimSpace(input.Reason),
		Status:       models.AccessRequestStatusPending,
	}
	request.Stamp(e.now())
	err = e.inTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&request).Error; err != nil {
			return err
		}
		var changes changeSet
		changes.add("resource_type", "", string(request.ResourceType))
		changes.add("resource_id", "", request.ResourceId)
		changes.add("reason", "", request.Reason)
		changes.add("status", "", string(request.Status))
		_, err := e.recordAudit(ctx, tx, AuditRecord{
			Actor:      actor,
			Action:     models.AuditActionRequestAccess,
			EntityType: models.EntityAccessRequest,
			EntityId:   request.ID,
			Changes:    changes,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return &request, nil
}

// ResolveAccessRequest approves or denies a pending request. Both outcomes are terminal.
func (e *Engine) ResolveAccessRequest(ctx context.Context, actor Actor, id string, input models.ResolveAccessRequest) (result *models.AccessRequest, err error) {
	ctx, span := e.startSpan(ctx, "ResolveAccessRequest",
		attribute.String("access_request_id", id),
		attribute.String("outcome", string(input.Outcome)))
	defer func() { endSpan(span, err) }()

	if err = utils.ValidateInput(input); err != nil {
		return nil, err
	}
	unlock, err := e.lockEntity(ctx, models.EntityAccessRequest, id)
	defer unlock()
	if err != nil {
		return nil, err
	}

	err = e.inTx(ctx, func(tx *gorm.DB) error {
		request, err := fetchById[models.AccessRequest](tx, models.EntityAccessRequest, id)
		if err != nil {
			return err
		}
		if err := e.authorize(ctx, actor, PermAccessResolve, Resource{Type: string(request.ResourceType), Id: request.ResourceId}); err != nil {
			return err
		}
		if request.Status != models.AccessRequestStatusPending {
			return utils.NewInvalidTransition(models.EntityAccessRequest, request.ID, "request is already "+string(request.Status))
		}

		now := e.now()
		resolvedBy := actor.Id
		if err := saveVersioned[models.AccessRequest](tx, models.EntityAccessRequest, request.ID, request.Version, map[string]interface{}{
			"status":      input.Outcome,
			"resolved_by": &resolvedBy,
			"resolved_at": &now,
		}, now); err != nil {
			return err
		}

		var changes changeSet
		changes.add("status", string(request.Status), string(input.Outcome))
		changes.add("resolved_by", "", resolvedBy)
		changes.add("resolved_at", "", timeOrEmpty(&now))

		request.Status = input.Outcome
		request.ResolvedBy = &resolvedBy
		request.ResolvedAt = &now
		request.Version++
		request.UpdatedAt = now

		if _, err := e.recordAudit(ctx, tx, AuditRecord{
			Actor:      actor,
			Action:     models.AuditActionResolve,
			EntityType: models.EntityAccessRequest,
			EntityId:   request.ID,
			Changes:    changes,
		}); err != nil {
			return err
		}
		result = request
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) GetAccessRequest(ctx context.Context, id string) (result *models.AccessRequest, err error) {
	ctx, span := e.startSpan(ctx, "GetAccessRequest", attribute.String("access_request_id", id))
	defer func() { endSpan(span, err) }()

	result, err = fetchById[models.AccessRequest](e.DB.WithContext(ctx), models.EntityAccessRequest, id)
	if err != nil {
		err = e.mapStorageError(ctx, err)
		return nil, err
	}
	return result, nil
}

// ListAccessRequests returns requests newest first, optionally only those in status.
func (e *Engine) ListAccessRequests(ctx context.Context, status *models.AccessRequestStatus) (results []*models.AccessRequest, err error) {
	ctx, span := e.startSpan(ctx, "ListAccessRequests")
	defer func() { endSpan(span, err) }()

	if status != nil && !status.IsValid() {
		err = utils.NewInvalidInput("status", "must be one of: pending, approved, denied")
		return nil, err
	}
	db := e.DB.WithContext(ctx)
	if status != nil {
		db = db.Where("status = ?", *status)
	}
	if err = db.Order("created_at DESC").Order("id DESC").Find(&results).Error; err != nil {
		err = e.mapStorageError(ctx, err)
		return nil, err
	}
	return results, nil
}
