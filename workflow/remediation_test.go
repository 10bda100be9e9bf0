package workflow

import (
	"context"
	"testing"

	"bitbucket.org/mmdatafocus/governance_backend/models"
	"bitbucket.org/mmdatafocus/governance_backend/utils"
	"github.com/google/uuid"
)

func createPlan(t *testing.T, e *Engine, input models.NewRemediationPlan) *models.RemediationPlan {
	t.Helper()
	if input.SectionId == "" {
		input.SectionId = uuid.NewString()
	}
	if input.Title == "" {
		input.Title = "Collect supplier emissions"
	}
	plan, err := e.CreatePlan(context.Background(), actorX, input)
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	return plan
}

func TestCompletePlan_OneWay(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	plan := createPlan(t, e, models.NewRemediationPlan{})
	if plan.Status != models.RemediationStatusPlanned || plan.Priority != models.RemediationPriorityMedium || plan.CompletedAt != nil {
		t.Fatalf("unexpected new plan %+v", plan)
	}

	completed, err := e.CompletePlan(ctx, actorX, plan.ID, nil)
	if err != nil {
		t.Fatalf("complete plan: %v", err)
	}
	if completed.Status != models.RemediationStatusCompleted || completed.CompletedAt == nil || completed.CompletedBy == nil || *completed.CompletedBy != actorX.Id {
		t.Fatalf("unexpected completed plan %+v", completed)
	}

	_, err = e.CompletePlan(ctx, actorX, plan.ID, nil)
	mustKind(t, err, utils.ErrorKindInvalidTransition)

	reloaded, err := e.GetPlan(ctx, plan.ID)
	if err != nil {
		t.Fatalf("get plan: %v", err)
	}
	if reloaded.CompletedAt == nil || reloaded.Status != models.RemediationStatusCompleted {
		t.Fatalf("expected stored completion, got %+v", reloaded)
	}

	entries := auditEntries(t, e, models.EntityRemediationPlan, plan.ID)
	if len(entries) != 2 || entries[0].Action != models.AuditActionComplete {
		t.Fatalf("expected CREATE then COMPLETE, got %+v", entries)
	}

	_, err = e.CompletePlan(ctx, actorX, uuid.NewString(), nil)
	mustKind(t, err, utils.ErrorKindNotFound)
}

func TestUpdatePlan(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	plan := createPlan(t, e, models.NewRemediationPlan{})

	high := models.RemediationPriorityHigh
	inProgress := models.RemediationStatusInProgress
	updated, err := e.UpdatePlan(ctx, actorX, plan.ID, models.UpdateRemediationPlan{Priority: &high, Status: &inProgress, Version: intPtr(plan.Version)})
	if err != nil {
		t.Fatalf("update plan: %v", err)
	}
	if updated.Priority != high || updated.Status != inProgress || updated.CompletedAt != nil {
		t.Fatalf("unexpected plan %+v", updated)
	}
	latest := auditEntries(t, e, models.EntityRemediationPlan, plan.ID)[0]
	if latest.Action != models.AuditActionStatusChange || len(latest.ChangeList()) != 2 {
		t.Fatalf("unexpected audit entry %+v", latest)
	}

	_, err = e.UpdatePlan(ctx, actorX, plan.ID, models.UpdateRemediationPlan{Title: strPtr("Stale"), Version: intPtr(plan.Version)})
	mustKind(t, err, utils.ErrorKindConflict)

	// Completing through an update stamps completion.
	completedStatus := models.RemediationStatusCompleted
	completed, err := e.UpdatePlan(ctx, actorX, plan.ID, models.UpdateRemediationPlan{Status: &completedStatus})
	if err != nil {
		t.Fatalf("complete via update: %v", err)
	}
	if completed.CompletedAt == nil {
		t.Fatalf("expected completed_at to be set")
	}

	_, err = e.UpdatePlan(ctx, actorX, plan.ID, models.UpdateRemediationPlan{Title: strPtr("Too late")})
	mustKind(t, err, utils.ErrorKindInvalidTransition)

	cancelled := createPlan(t, e, models.NewRemediationPlan{})
	cancelStatus := models.RemediationStatusCancelled
	if _, err := e.UpdatePlan(ctx, actorX, cancelled.ID, models.UpdateRemediationPlan{Status: &cancelStatus}); err != nil {
		t.Fatalf("cancel plan: %v", err)
	}
	_, err = e.CompletePlan(ctx, actorX, cancelled.ID, nil)
	mustKind(t, err, utils.ErrorKindInvalidTransition)
}

func TestCreatePlan_LinkValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	gap := models.RemediationLinkGap

	_, err := e.CreatePlan(ctx, actorX, models.NewRemediationPlan{SectionId: uuid.NewString(), Title: "Fix", LinkType: &gap})
	mustKind(t, err, utils.ErrorKindInvalidInput)

	_, err = e.CreatePlan(ctx, actorX, models.NewRemediationPlan{SectionId: uuid.NewString(), Title: "Fix", LinkId: strPtr(uuid.NewString())})
	mustKind(t, err, utils.ErrorKindInvalidInput)

	_, err = e.CreatePlan(ctx, actorX, models.NewRemediationPlan{SectionId: uuid.NewString(), Title: "Fix", LinkType: &gap, LinkId: strPtr("gap-7")})
	mustKind(t, err, utils.ErrorKindInvalidInput)

	// The linked gap does not exist anywhere: weak references are not resolved.
	plan, err := e.CreatePlan(ctx, actorX, models.NewRemediationPlan{SectionId: uuid.NewString(), Title: "Fix", LinkType: &gap, LinkId: strPtr(uuid.NewString())})
	if err != nil {
		t.Fatalf("create linked plan: %v", err)
	}
	if plan.LinkType == nil || *plan.LinkType != gap {
		t.Fatalf("expected link to be kept, got %+v", plan)
	}
}

func TestListPlans_NewestFirstWithLinkFilter(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	sectionId := uuid.NewString()
	dataPointLink := models.RemediationLinkDataPoint
	dataPointId := uuid.NewString()

	first := createPlan(t, e, models.NewRemediationPlan{SectionId: sectionId, Title: "First"})
	second := createPlan(t, e, models.NewRemediationPlan{SectionId: sectionId, Title: "Second", LinkType: &dataPointLink, LinkId: &dataPointId})
	third := createPlan(t, e, models.NewRemediationPlan{SectionId: sectionId, Title: "Third"})
	createPlan(t, e, models.NewRemediationPlan{Title: "Elsewhere"})

	plans, err := e.ListPlans(ctx, models.RemediationPlanFilter{SectionId: sectionId})
	if err != nil {
		t.Fatalf("list plans: %v", err)
	}
	if len(plans) != 3 || plans[0].ID != third.ID || plans[1].ID != second.ID || plans[2].ID != first.ID {
		t.Fatalf("expected newest first, got %+v", plans)
	}

	linked, err := e.ListPlans(ctx, models.RemediationPlanFilter{SectionId: sectionId, LinkType: &dataPointLink, LinkId: &dataPointId})
	if err != nil {
		t.Fatalf("list linked plans: %v", err)
	}
	if len(linked) != 1 || linked[0].ID != second.ID {
		t.Fatalf("expected only the linked plan, got %+v", linked)
	}

	_, err = e.ListPlans(ctx, models.RemediationPlanFilter{})
	mustKind(t, err, utils.ErrorKindInvalidInput)
}

func TestDeletePlan_CascadesWithOneAuditEntry(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	plan := createPlan(t, e, models.NewRemediationPlan{})
	keep := createPlan(t, e, models.NewRemediationPlan{})

	var actionIds []string
	for _, title := range []string{"Email suppliers", "Chase responses", "Load data"} {
		action, err := e.CreateAction(ctx, actorX, plan.ID, models.NewRemediationAction{Title: title})
		if err != nil {
			t.Fatalf("create action: %v", err)
		}
		actionIds = append(actionIds, action.ID)
	}
	if _, err := e.CreateAction(ctx, actorX, keep.ID, models.NewRemediationAction{Title: "Unrelated"}); err != nil {
		t.Fatalf("create action: %v", err)
	}

	if err := e.DeletePlan(ctx, reviewer, plan.ID); err != nil {
		t.Fatalf("delete plan: %v", err)
	}

	var remaining int64
	if err := e.DB.Model(&models.RemediationAction{}).Where("plan_id = ?", plan.ID).Count(&remaining).Error; err != nil {
		t.Fatalf("count actions: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected no actions left, got %d", remaining)
	}
	_, err := e.GetPlan(ctx, plan.ID)
	mustKind(t, err, utils.ErrorKindNotFound)
	_, err = e.ListActions(ctx, plan.ID)
	mustKind(t, err, utils.ErrorKindNotFound)

	deletes := 0
	for _, entry := range auditEntries(t, e, models.EntityRemediationPlan, plan.ID) {
		if entry.Action == models.AuditActionDelete {
			deletes++
			changes := entry.ChangeList()
			if len(changes) != 2 || changes[1].Field != "actions" || changes[1].OldValue != "3" {
				t.Fatalf("unexpected delete changes %+v", changes)
			}
		}
	}
	if deletes != 1 {
		t.Fatalf("expected exactly one plan delete entry, got %d", deletes)
	}
	for _, id := range actionIds {
		for _, entry := range auditEntries(t, e, models.EntityRemediationAction, id) {
			if entry.Action == models.AuditActionDelete {
				t.Fatalf("unexpected per-action delete entry for %s", id)
			}
		}
	}

	others, err := e.ListActions(ctx, keep.ID)
	if err != nil || len(others) != 1 {
		t.Fatalf("expected other plan's action to survive, got %v %v", others, err)
	}

	err = e.DeletePlan(ctx, reviewer, plan.ID)
	mustKind(t, err, utils.ErrorKindNotFound)
}

func TestDeletePlan_AllowedOnClosedPlan(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	plan := createPlan(t, e, models.NewRemediationPlan{})
	if _, err := e.CompletePlan(ctx, actorX, plan.ID, nil); err != nil {
		t.Fatalf("complete plan: %v", err)
	}
	if err := e.DeletePlan(ctx, reviewer, plan.ID); err != nil {
		t.Fatalf("delete completed plan: %v", err)
	}
}

func TestRemediationActions(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	plan := createPlan(t, e, models.NewRemediationPlan{})

	first, err := e.CreateAction(ctx, actorX, plan.ID, models.NewRemediationAction{Title: "Draft survey"})
	if err != nil {
		t.Fatalf("create action: %v", err)
	}
	second, err := e.CreateAction(ctx, actorX, plan.ID, models.NewRemediationAction{Title: "Send survey"})
	if err != nil {
		t.Fatalf("create action: %v", err)
	}
	_, err = e.CreateAction(ctx, actorX, plan.ID, models.NewRemediationAction{Title: " "})
	mustKind(t, err, utils.ErrorKindInvalidInput)

	actions, err := e.ListActions(ctx, plan.ID)
	if err != nil {
		t.Fatalf("list actions: %v", err)
	}
	if len(actions) != 2 || actions[0].ID != first.ID || actions[1].ID != second.ID {
		t.Fatalf("expected creation order, got %+v", actions)
	}

	done, err := e.UpdateActionStatus(ctx, actorX, first.ID, models.UpdateRemediationActionStatus{Status: models.RemediationStatusCompleted, Version: intPtr(first.Version)})
	if err != nil {
		t.Fatalf("update action: %v", err)
	}
	if done.Status != models.RemediationStatusCompleted || done.CompletedAt == nil {
		t.Fatalf("unexpected action %+v", done)
	}
	entries := auditEntries(t, e, models.EntityRemediationAction, first.ID)
	if len(entries) != 2 || entries[0].Action != models.AuditActionStatusChange {
		t.Fatalf("expected CREATE then STATUS_CHANGE, got %+v", entries)
	}

	if _, err := e.CompletePlan(ctx, actorX, plan.ID, nil); err != nil {
		t.Fatalf("complete plan: %v", err)
	}
	_, err = e.UpdateActionStatus(ctx, actorX, second.ID, models.UpdateRemediationActionStatus{Status: models.RemediationStatusInProgress})
	mustKind(t, err, utils.ErrorKindInvalidTransition)
	_, err = e.CreateAction(ctx, actorX, plan.ID, models.NewRemediationAction{Title: "Late"})
	mustKind(t, err, utils.ErrorKindInvalidTransition)

	// Closing the plan does not rewrite its actions.
	untouched, err := e.ListActions(ctx, plan.ID)
	if err != nil {
		t.Fatalf("list actions: %v", err)
	}
	if untouched[1].Status != models.RemediationStatusPlanned {
		t.Fatalf("expected second action to stay planned, got %s", untouched[1].Status)
	}

	_, err = e.UpdateActionStatus(ctx, actorX, uuid.NewString(), models.UpdateRemediationActionStatus{Status: models.RemediationStatusInProgress})
	mustKind(t, err, utils.ErrorKindNotFound)
}

func TestUpdatePlan_InProgressSpelling(t *testing.T) {
	e, _ := newTestEngine(t)
	plan := createPlan(t, e, models.NewRemediationPlan{})

	status := models.RemediationStatus("in-progress")
	updated, err := e.UpdatePlan(context.Background(), actorX, plan.ID, models.UpdateRemediationPlan{Status: &status})
	if err != nil {
		t.Fatalf("update plan: %v", err)
	}
	if updated.Status != models.RemediationStatusInProgress {
		t.Fatalf("unexpected status %q", updated.Status)
	}

	unknown := models.RemediationStatus("paused")
	_, err = e.UpdatePlan(context.Background(), actorX, plan.ID, models.UpdateRemediationPlan{Status: &unknown})
	mustKind(t, err, utils.ErrorKindInvalidInput)
}

func TestListPlans_RejectsUnknownLinkType(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	linkType := models.RemediationLinkType("ticket")
	_, err := e.ListPlans(ctx, models.RemediationPlanFilter{SectionId: uuid.NewString(), LinkType: &linkType})
	mustKind(t, err, utils.ErrorKindInvalidInput)
	if fields := utils.FieldsOf(err); len(fields) != 1 || fields[0].Field != "link_type" {
		t.Fatalf("expected link_type issue, got %+v", fields)
	}

	_, err = e.ListPlans(ctx, models.RemediationPlanFilter{SectionId: uuid.NewString(), LinkId: strPtr("gap-7")})
	mustKind(t, err, utils.ErrorKindInvalidInput)
}
