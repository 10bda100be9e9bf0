package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/governance_backend/models"
	"bitbucket.org/mmdatafocus/governance_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func TestUpdateStatus_MissingPrerequisitesFailsWithFieldList(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	dp := createDataPoint(t, e, models.NewDataPoint{Value: "1250", OwnerId: "owner-1"}, models.CompletenessStatusIncomplete)
	before := len(auditEntries(t, e, models.EntityDataPoint, dp.ID))

	_, err := e.UpdateStatus(ctx, actorX, dp.ID, models.UpdateDataPointStatus{Status: models.CompletenessStatusComplete})
	mustKind(t, err, utils.ErrorKindValidationFailed)

	fields := utils.FieldsOf(err)
	if len(fields) != 2 || fields[0].Field != FieldPeriodDeadline || fields[1].Field != FieldMethodologySource {
		t.Fatalf("expected [period/deadline methodology/source], got %+v", fields)
	}
	if fields[0].Reason != ReasonDeadlineMissing || fields[1].Reason != ReasonMethodologyMissing {
		t.Fatalf("unexpected reasons %+v", fields)
	}

	reloaded, err := e.GetDataPoint(ctx, dp.ID)
	if err != nil {
		t.Fatalf("get data point: %v", err)
	}
	if reloaded.CompletenessStatus != models.CompletenessStatusIncomplete {
		t.Fatalf("expected status to remain incomplete, got %s", reloaded.CompletenessStatus)
	}
	if after := len(auditEntries(t, e, models.EntityDataPoint, dp.ID)); after != before {
		t.Fatalf("expected no audit entry on failure, had %d now %d", before, after)
	}
}

func TestUpdateStatus_ActiveExceptionAllowsComplete(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	dp := createDataPoint(t, e, models.NewDataPoint{Value: "1250", OwnerId: "owner-1"}, models.CompletenessStatusIncomplete)

	if _, err := e.CreateException(ctx, actorX, models.NewCompletionException{
		Title:         "Estimated scope",
		Justification: "Supplier data arrives after the reporting deadline",
		SectionId:     dp.SectionId,
		DataPointId:   &dp.ID,
		ExceptionType: models.ExceptionTypeEstimatedData,
	}); err != nil {
		t.Fatalf("create exception: %v", err)
	}
	before := len(auditEntries(t, e, models.EntityDataPoint, dp.ID))

	updated, err := e.UpdateStatus(ctx, actorX, dp.ID, models.UpdateDataPointStatus{Status: models.CompletenessStatusComplete, Note: strPtr("waived")})
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if updated.CompletenessStatus != models.CompletenessStatusComplete {
		t.Fatalf("expected complete, got %s", updated.CompletenessStatus)
	}

	entries := auditEntries(t, e, models.EntityDataPoint, dp.ID)
	if len(entries) != before+1 {
		t.Fatalf("expected exactly one new audit entry, had %d now %d", before, len(entries))
	}
	latest := entries[0]
	changes := latest.ChangeList()
	if latest.Action != models.AuditActionStatusChange || len(changes) != 1 {
		t.Fatalf("unexpected audit entry %+v", latest)
	}
	if changes[0].Field != "completeness_status" || changes[0].OldValue != "incomplete" || changes[0].NewValue != "complete" {
		t.Fatalf("unexpected change %+v", changes[0])
	}
	if latest.Note == nil || *latest.Note != "waived" || latest.ActorId != actorX.Id {
		t.Fatalf("expected note and actor on audit entry, got %+v", latest)
	}
}

func TestUpdateStatus_ExceptionRemainsActiveUntilExpiry(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()
	dp := createDataPoint(t, e, models.NewDataPoint{}, models.CompletenessStatusIncomplete)

	expires := utils.NewDate(clock.Now().AddDate(0, 0, 1))
	if _, err := e.CreateException(ctx, actorX, models.NewCompletionException{
		Title:         "Simplified scope",
		Justification: "Subsidiaries are excluded this year",
		SectionId:     dp.SectionId,
		ExceptionType: models.ExceptionTypeSimplifiedScope,
		ExpiresAt:     &expires,
	}); err != nil {
		t.Fatalf("create exception: %v", err)
	}

	// Usable repeatedly while active.
	for i := 0; i < 2; i++ {
		if _, err := e.UpdateStatus(ctx, actorX, dp.ID, models.UpdateDataPointStatus{Status: models.CompletenessStatusComplete}); err != nil {
			t.Fatalf("round %d: complete: %v", i, err)
		}
		if _, err := e.UpdateStatus(ctx, actorX, dp.ID, models.UpdateDataPointStatus{Status: models.CompletenessStatusIncomplete}); err != nil {
			t.Fatalf("round %d: incomplete: %v", i, err)
		}
	}

	// Still active on the expiry day itself.
	clock.Advance(24 * time.Hour)
	if _, err := e.UpdateStatus(ctx, actorX, dp.ID, models.UpdateDataPointStatus{Status: models.CompletenessStatusComplete}); err != nil {
		t.Fatalf("complete on expiry day: %v", err)
	}
	if _, err := e.UpdateStatus(ctx, actorX, dp.ID, models.UpdateDataPointStatus{Status: models.CompletenessStatusMissing}); err != nil {
		t.Fatalf("missing: %v", err)
	}

	clock.Advance(24 * time.Hour)
	_, err := e.UpdateStatus(ctx, actorX, dp.ID, models.UpdateDataPointStatus{Status: models.CompletenessStatusComplete})
	mustKind(t, err, utils.ErrorKindValidationFailed)
	if len(utils.FieldsOf(err)) != 4 {
		t.Fatalf("expected all four fields missing, got %+v", utils.FieldsOf(err))
	}
}

func TestUpdateStatus_AllPrerequisitesPresent(t *testing.T) {
	e, _ := newTestEngine(t)
	dp := createDataPoint(t, e, models.NewDataPoint{
		Value:             "12.5",
		PeriodDeadline:    "2026-06-30",
		MethodologySource: "Metered invoices",
		OwnerId:           "owner-1",
	}, models.CompletenessStatusMissing)

	updated, err := e.UpdateStatus(context.Background(), actorX, dp.ID, models.UpdateDataPointStatus{Status: models.CompletenessStatusComplete})
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if updated.CompletenessStatus != models.CompletenessStatusComplete || updated.Version != dp.Version+1 {
		t.Fatalf("unexpected data point %+v", updated)
	}
}

func TestUpdateStatus_AnyTransitionOutsideCompleteIsAllowed(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	dp := createDataPoint(t, e, models.NewDataPoint{}, models.CompletenessStatusMissing)

	path := []models.CompletenessStatus{
		models.CompletenessStatusNotApplicable,
		models.CompletenessStatusIncomplete,
		models.CompletenessStatusMissing,
		models.CompletenessStatusNotApplicable,
		models.CompletenessStatusMissing,
	}
	for _, status := range path {
		updated, err := e.UpdateStatus(ctx, actorX, dp.ID, models.UpdateDataPointStatus{Status: status})
		if err != nil {
			t.Fatalf("transition to %s: %v", status, err)
		}
		if updated.CompletenessStatus != status {
			t.Fatalf("expected %s, got %s", status, updated.CompletenessStatus)
		}
	}
}

func TestUpdateStatus_SameStatusIsIdempotent(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	dp := createDataPoint(t, e, models.NewDataPoint{}, models.CompletenessStatusIncomplete)
	before := len(auditEntries(t, e, models.EntityDataPoint, dp.ID))

	same, err := e.UpdateStatus(ctx, actorX, dp.ID, models.UpdateDataPointStatus{Status: models.CompletenessStatusIncomplete, Note: strPtr("again")})
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if same.Version != dp.Version || same.CompletenessStatus != dp.CompletenessStatus || !same.UpdatedAt.Equal(dp.UpdatedAt) {
		t.Fatalf("expected unchanged entity, before=%+v after=%+v", dp, same)
	}
	if after := len(auditEntries(t, e, models.EntityDataPoint, dp.ID)); after != before {
		t.Fatalf("expected no new audit entry, had %d now %d", before, after)
	}
}

func TestUpdateStatus_Errors(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.UpdateStatus(ctx, actorX, uuid.NewString(), models.UpdateDataPointStatus{Status: models.CompletenessStatusIncomplete})
	mustKind(t, err, utils.ErrorKindNotFound)

	dp := createDataPoint(t, e, models.NewDataPoint{}, models.CompletenessStatusMissing)
	_, err = e.UpdateStatus(ctx, actorX, dp.ID, models.UpdateDataPointStatus{Status: "done"})
	mustKind(t, err, utils.ErrorKindInvalidInput)

	_, err = e.UpdateStatus(ctx, actorX, dp.ID, models.UpdateDataPointStatus{Status: models.CompletenessStatusIncomplete, Version: intPtr(dp.Version + 5)})
	mustKind(t, err, utils.ErrorKindConflict)
}

func TestUpdateStatus_ConcurrentWritersWithSameVersionProduceOneChange(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	dp := createDataPoint(t, e, models.NewDataPoint{}, models.CompletenessStatusMissing)
	version := dp.Version

	targets := []models.CompletenessStatus{models.CompletenessStatusIncomplete, models.CompletenessStatusNotApplicable}
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		conflicts int
		others    []error
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.UpdateStatus(ctx, actorX, dp.ID, models.UpdateDataPointStatus{Status: targets[i%2], Version: intPtr(version)})
			if err == nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if utils.IsKind(err, utils.ErrorKindConflict) {
				conflicts++
				return
			}
			others = append(others, err)
		}(i)
	}
	wg.Wait()

	if len(others) != 0 {
		t.Fatalf("unexpected errors: %v", others)
	}
	if conflicts == 0 {
		t.Fatalf("expected stale writers to be rejected with Conflict")
	}
	reloaded, err := e.GetDataPoint(ctx, dp.ID)
	if err != nil {
		t.Fatalf("get data point: %v", err)
	}
	if reloaded.Version != version+1 {
		t.Fatalf("expected exactly one committed change, version=%d", reloaded.Version)
	}
	statusChanges := 0
	for _, entry := range auditEntries(t, e, models.EntityDataPoint, dp.ID) {
		if entry.Action == models.AuditActionStatusChange {
			statusChanges++
		}
	}
	if statusChanges != 1 {
		t.Fatalf("expected one status audit entry, got %d", statusChanges)
	}
}

func TestUpdateStatus_AuditFailureRollsBackTheChange(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	dp := createDataPoint(t, e, models.NewDataPoint{}, models.CompletenessStatusMissing)

	if err := e.DB.Callback().Create().Before("gorm:create").Register("test:fail_audit", func(tx *gorm.DB) {
		if tx.Statement.Table == "audit_logs" {
			_ = tx.AddError(errors.New("audit store down"))
		}
	}); err != nil {
		t.Fatalf("register callback: %v", err)
	}

	_, err := e.UpdateStatus(ctx, actorX, dp.ID, models.UpdateDataPointStatus{Status: models.CompletenessStatusIncomplete})
	mustKind(t, err, utils.ErrorKindStorageUnavailable)

	reloaded, err := e.GetDataPoint(ctx, dp.ID)
	if err != nil {
		t.Fatalf("get data point: %v", err)
	}
	if reloaded.CompletenessStatus != models.CompletenessStatusMissing || reloaded.Version != dp.Version {
		t.Fatalf("expected rollback, got %+v", reloaded)
	}
}

func TestCreateDataPoint_StartsMissingAndIsAudited(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	sectionId := uuid.NewString()

	dp, err := e.CreateDataPoint(ctx, actorX, models.NewDataPoint{SectionId: sectionId, Name: "  Energy use  ", Value: "310"})
	if err != nil {
		t.Fatalf("create data point: %v", err)
	}
	if dp.CompletenessStatus != models.CompletenessStatusMissing || dp.Name != "Energy use" || dp.Version != 1 {
		t.Fatalf("unexpected data point %+v", dp)
	}
	entries := auditEntries(t, e, models.EntityDataPoint, dp.ID)
	if len(entries) != 1 || entries[0].Action != models.AuditActionCreate {
		t.Fatalf("expected one CREATE entry, got %+v", entries)
	}

	_, err = e.CreateDataPoint(ctx, actorX, models.NewDataPoint{SectionId: "not-a-uuid", Name: "x"})
	mustKind(t, err, utils.ErrorKindInvalidInput)
	if fields := utils.FieldsOf(err); len(fields) != 1 || fields[0].Field != "section_id" {
		t.Fatalf("expected section_id issue, got %+v", fields)
	}

	list, err := e.ListDataPoints(ctx, sectionId)
	if err != nil {
		t.Fatalf("list data points: %v", err)
	}
	if len(list) != 1 || list[0].ID != dp.ID {
		t.Fatalf("expected the created data point, got %+v", list)
	}
}

func TestUpdateDataPointDetails(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	dp := createDataPoint(t, e, models.NewDataPoint{
		Value:             "12.5",
		PeriodDeadline:    "FY2025",
		MethodologySource: "Metered",
		OwnerId:           "owner-1",
	}, models.CompletenessStatusComplete)

	updated, err := e.UpdateDataPointDetails(ctx, actorX, dp.ID, models.DataPointDetails{Value: strPtr("13.0"), Version: intPtr(dp.Version)})
	if err != nil {
		t.Fatalf("update details: %v", err)
	}
	if updated.Value != "13.0" || updated.Version != dp.Version+1 {
		t.Fatalf("unexpected data point %+v", updated)
	}
	latest := auditEntries(t, e, models.EntityDataPoint, dp.ID)[0]
	if latest.Action != models.AuditActionUpdate || len(latest.ChangeList()) != 1 || latest.ChangeList()[0].Field != "value" {
		t.Fatalf("unexpected audit entry %+v", latest)
	}

	// Clearing a prerequisite of a complete data point is refused.
	_, err = e.UpdateDataPointDetails(ctx, actorX, dp.ID, models.DataPointDetails{OwnerId: strPtr("")})
	mustKind(t, err, utils.ErrorKindValidationFailed)
	if fields := utils.FieldsOf(err); len(fields) != 1 || fields[0].Field != FieldOwner {
		t.Fatalf("expected owner issue, got %+v", fields)
	}

	// No effective change writes nothing.
	before := len(auditEntries(t, e, models.EntityDataPoint, dp.ID))
	same, err := e.UpdateDataPointDetails(ctx, actorX, dp.ID, models.DataPointDetails{Value: strPtr("13.0")})
	if err != nil {
		t.Fatalf("no-op update: %v", err)
	}
	if same.Version != updated.Version {
		t.Fatalf("expected unchanged version, got %d", same.Version)
	}
	if after := len(auditEntries(t, e, models.EntityDataPoint, dp.ID)); after != before {
		t.Fatalf("expected no audit entry for no-op, had %d now %d", before, after)
	}

	_, err = e.UpdateDataPointDetails(ctx, actorX, dp.ID, models.DataPointDetails{Value: strPtr("14"), Version: intPtr(dp.Version)})
	mustKind(t, err, utils.ErrorKindConflict)
}

func TestUpdateStatus_NotApplicableSpelledWithSpace(t *testing.T) {
	e, _ := newTestEngine(t)
	dp := createDataPoint(t, e, models.NewDataPoint{}, models.CompletenessStatusMissing)

	updated, err := e.UpdateStatus(context.Background(), actorX, dp.ID, models.UpdateDataPointStatus{Status: "not applicable"})
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if updated.CompletenessStatus != models.CompletenessStatusNotApplicable {
		t.Fatalf("unexpected status %q", updated.CompletenessStatus)
	}
}
