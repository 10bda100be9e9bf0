package workflow

import (
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/governance_backend/models"
	"bitbucket.org/mmdatafocus/governance_backend/utils"
)

// Required field names and reasons reported when a data point cannot be complete.
const (
	FieldValue             = "value"
	FieldPeriodDeadline    = "period/deadline"
	FieldMethodologySource = "methodology/source"
	FieldOwner             = "owner"

	ReasonValueMissing       = "a reported value is required before the data point can be complete"
	ReasonDeadlineMissing    = "the reporting period or deadline is required before the data point can be complete"
	ReasonMethodologyMissing = "the methodology or data source is required before the data point can be complete"
	ReasonOwnerMissing       = "an owner must be assigned before the data point can be complete"
)

// ValidateCompleteness returns the missing prerequisites for moving dp to
// target, in the order value, period/deadline, methodology/source, owner.
// An empty result means the transition is allowed. Only "complete" has
// prerequisites, and an active exception covering dp waives them.
func ValidateCompleteness(dp models.DataPoint, target models.CompletenessStatus, exceptions []models.CompletionException, now time.Time) []utils.FieldIssue {
	if target != models.CompletenessStatusComplete {
		return nil
	}
	for _, exception := range exceptions {
		if exception.IsActive(now) && exception.Covers(dp) {
			return nil
		}
	}
	var missing []utils.FieldIssue
	if blank(dp.Value) {
		missing = append(missing, utils.FieldIssue{Field: FieldValue, Reason: ReasonValueMissing})
	}
	if blank(dp.PeriodDeadline) {
		missing = append(missing, utils.FieldIssue{Field: FieldPeriodDeadline, Reason: ReasonDeadlineMissing})
	}
	if blank(dp.MethodologySource) {
		missing = append(missing, utils.FieldIssue{Field: FieldMethodologySource, Reason: ReasonMethodologyMissing})
	}
	if blank(dp.OwnerId) {
		missing = append(missing, utils.FieldIssue{Field: FieldOwner, Reason: ReasonOwnerMissing})
	}
	return missing
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
