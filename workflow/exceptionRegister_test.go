package workflow

import (
	"context"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/governance_backend/models"
	"bitbucket.org/mmdatafocus/governance_backend/utils"
	"github.com/google/uuid"
)

func validException(sectionId string) models.NewCompletionException {
	return models.NewCompletionException{
		Title:         "Estimated water data",
		Justification: "Meters were replaced mid-year",
		SectionId:     sectionId,
		ExceptionType: models.ExceptionTypeEstimatedData,
	}
}

func TestCreateException_ValidationRules(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()
	sectionId := uuid.NewString()
	yesterday := utils.NewDate(clock.Now().AddDate(0, 0, -1))

	cases := []struct {
		name  string
		edit  func(in *models.NewCompletionException)
		field string
	}{
		{"blank title", func(in *models.NewCompletionException) { in.Title = "   " }, "title"},
		{"short justification", func(in *models.NewCompletionException) { in.Justification = "too short" }, "justification"},
		{"padded short justification", func(in *models.NewCompletionException) { in.Justification = "   short    " }, "justification"},
		{"title reported before justification", func(in *models.NewCompletionException) { in.Title = ""; in.Justification = "x" }, "title"},
		{"bad section", func(in *models.NewCompletionException) { in.SectionId = "section-1" }, "section_id"},
		{"padded justification reported before section", func(in *models.NewCompletionException) {
			in.Justification = "         x"
			in.SectionId = "section-1"
		}, "justification"},
		{"bad type", func(in *models.NewCompletionException) { in.ExceptionType = "waiver" }, "exception_type"},
		{"expired yesterday", func(in *models.NewCompletionException) { in.ExpiresAt = &yesterday }, "expires_at"},
	}
	for _, tc := range cases {
		input := validException(sectionId)
		tc.edit(&input)
		_, err := e.CreateException(ctx, actorX, input)
		mustKind(t, err, utils.ErrorKindInvalidInput)
		fields := utils.FieldsOf(err)
		if len(fields) != 1 || fields[0].Field != tc.field {
			t.Fatalf("%s: expected issue on %s, got %+v", tc.name, tc.field, fields)
		}
	}
}

func TestCreateException_ExpiryTodayIsAccepted(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	// Earlier time of day than now: only the date matters.
	now := clock.Now()
	today := utils.Date{Time: time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 1, 0, time.UTC)}
	input := validException(uuid.NewString())
	input.ExpiresAt = &today

	exception, err := e.CreateException(ctx, actorX, input)
	if err != nil {
		t.Fatalf("create exception: %v", err)
	}
	if exception.ExpiresAt == nil || !exception.ExpiresAt.Equal(utils.DateOnly(now)) {
		t.Fatalf("expected expiry stored as date, got %v", exception.ExpiresAt)
	}
	if exception.RequestedBy != actorX.Id {
		t.Fatalf("expected requester to default to actor, got %q", exception.RequestedBy)
	}
	if !exception.IsActive(clock.Now()) {
		t.Fatalf("expected exception active on its expiry day")
	}

	entries := auditEntries(t, e, models.EntityCompletionException, exception.ID)
	if len(entries) != 1 || entries[0].Action != models.AuditActionCreate {
		t.Fatalf("expected one CREATE entry, got %+v", entries)
	}
}

func TestListExceptions_ActiveOnly(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()
	sectionId := uuid.NewString()

	tomorrow := utils.NewDate(clock.Now().AddDate(0, 0, 1))
	shortLived := validException(sectionId)
	shortLived.ExpiresAt = &tomorrow
	first, err := e.CreateException(ctx, actorX, shortLived)
	if err != nil {
		t.Fatalf("create exception: %v", err)
	}
	second, err := e.CreateException(ctx, actorX, validException(sectionId))
	if err != nil {
		t.Fatalf("create exception: %v", err)
	}

	all, err := e.ListExceptions(ctx, sectionId, false)
	if err != nil {
		t.Fatalf("list exceptions: %v", err)
	}
	if len(all) != 2 || all[0].ID != second.ID || all[1].ID != first.ID {
		t.Fatalf("expected newest first, got %+v", all)
	}

	clock.Advance(72 * time.Hour)
	active, err := e.ListExceptions(ctx, sectionId, true)
	if err != nil {
		t.Fatalf("list active exceptions: %v", err)
	}
	if len(active) != 1 || active[0].ID != second.ID {
		t.Fatalf("expected only the open-ended exception, got %+v", active)
	}

	got, err := e.GetException(ctx, first.ID)
	if err != nil || got.ID != first.ID {
		t.Fatalf("get exception: %v", err)
	}
	_, err = e.GetException(ctx, uuid.NewString())
	mustKind(t, err, utils.ErrorKindNotFound)
}

func TestCreateException_AcceptsDocumentedTypeSpellings(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	for _, raw := range []string{"missing-data", "estimated-data", "simplified-scope", "other"} {
		input := validException(uuid.NewString())
		input.ExceptionType = models.ExceptionType(raw)
		exception, err := e.CreateException(ctx, actorX, input)
		if err != nil {
			t.Fatalf("%s: create exception: %v", raw, err)
		}
		if string(exception.ExceptionType) != raw {
			t.Fatalf("%s: stored as %q", raw, exception.ExceptionType)
		}
	}
}
