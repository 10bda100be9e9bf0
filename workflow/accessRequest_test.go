package workflow

import (
	"context"
	"testing"

	"bitbucket.org/mmdatafocus/governance_backend/models"
	"bitbucket.org/mmdatafocus/governance_backend/utils"
	"github.com/google/uuid"
)

func TestAccessRequest_Lifecycle(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	auditor := Actor{Id: "auditor-1", Name: "External Auditor", Role: "viewer"}

	request, err := e.CreateAccessRequest(ctx, auditor, models.NewAccessRequest{
		ResourceType: models.AccessResourceSection,
		ResourceId:   uuid.NewString(),
		Reason:       "  Limited assurance engagement  ",
	})
	if err != nil {
		t.Fatalf("create access request: %v", err)
	}
	if request.Status != models.AccessRequestStatusPending || request.RequestedBy != auditor.Id || request.Reason != "Limited assurance engagement" {
		t.Fatalf("unexpected request %+v", request)
	}

	approved, err := e.ResolveAccessRequest(ctx, reviewer, request.ID, models.ResolveAccessRequest{Outcome: models.AccessRequestStatusApproved})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if approved.Status != models.AccessRequestStatusApproved || approved.ResolvedBy == nil || *approved.ResolvedBy != reviewer.Id || approved.ResolvedAt == nil {
		t.Fatalf("unexpected resolved request %+v", approved)
	}

	for _, outcome := range []models.AccessRequestStatus{models.AccessRequestStatusApproved, models.AccessRequestStatusDenied} {
		_, err = e.ResolveAccessRequest(ctx, reviewer, request.ID, models.ResolveAccessRequest{Outcome: outcome})
		mustKind(t, err, utils.ErrorKindInvalidTransition)
	}

	entries := auditEntries(t, e, models.EntityAccessRequest, request.ID)
	if len(entries) != 2 || entries[0].Action != models.AuditActionResolve || entries[1].Action != models.AuditActionRequestAccess {
		t.Fatalf("expected REQUEST_ACCESS then RESOLVE, got %+v", entries)
	}
}

func TestAccessRequest_Validation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.CreateAccessRequest(ctx, actorX, models.NewAccessRequest{ResourceType: models.AccessResourceReport, ResourceId: uuid.NewString(), Reason: " \t "})
	mustKind(t, err, utils.ErrorKindInvalidInput)
	if fields := utils.FieldsOf(err); len(fields) != 1 || fields[0].Field != "reason" {
		t.Fatalf("expected reason issue, got %+v", fields)
	}

	_, err = e.CreateAccessRequest(ctx, actorX, models.NewAccessRequest{ResourceType: "dashboard", ResourceId: uuid.NewString(), Reason: "Audit"})
	mustKind(t, err, utils.ErrorKindInvalidInput)

	request, err := e.CreateAccessRequest(ctx, actorX, models.NewAccessRequest{ResourceType: models.AccessResourceReport, ResourceId: uuid.NewString(), Reason: "Audit"})
	if err != nil {
		t.Fatalf("create access request: %v", err)
	}
	_, err = e.ResolveAccessRequest(ctx, reviewer, request.ID, models.ResolveAccessRequest{Outcome: models.AccessRequestStatusPending})
	mustKind(t, err, utils.ErrorKindInvalidInput)

	_, err = e.ResolveAccessRequest(ctx, reviewer, uuid.NewString(), models.ResolveAccessRequest{Outcome: models.AccessRequestStatusDenied})
	mustKind(t, err, utils.ErrorKindNotFound)

	denied, err := e.ResolveAccessRequest(ctx, reviewer, request.ID, models.ResolveAccessRequest{Outcome: models.AccessRequestStatusDenied})
	if err != nil || denied.Status != models.AccessRequestStatusDenied {
		t.Fatalf("deny: %+v %v", denied, err)
	}

	pending := models.AccessRequestStatusPending
	list, err := e.ListAccessRequests(ctx, &pending)
	if err != nil || len(list) != 0 {
		t.Fatalf("expected no pending requests, got %+v %v", list, err)
	}
	all, err := e.ListAccessRequests(ctx, nil)
	if err != nil || len(all) != 1 {
		t.Fatalf("expected one request, got %+v %v", all, err)
	}
	unknown := models.AccessRequestStatus("expired")
	_, err = e.ListAccessRequests(ctx, &unknown)
	mustKind(t, err, utils.ErrorKindInvalidInput)
	got, err := e.GetAccessRequest(ctx, request.ID)
	if err != nil || got.Status != models.AccessRequestStatusDenied {
		t.Fatalf("get access request: %+v %v", got, err)
	}
}
