package models

import (
	"encoding/json"
	"strings"
)

type CompletenessStatus string

const (
	CompletenessStatusMissing       CompletenessStatus = "missing"
	CompletenessStatusIncomplete    CompletenessStatus = "incomplete"
	CompletenessStatusComplete      CompletenessStatus = "complete"
	CompletenessStatusNotApplicable CompletenessStatus = "not applicable"
)

func (s CompletenessStatus) IsValid() bool {
	switch s {
	case CompletenessStatusMissing, CompletenessStatusIncomplete, CompletenessStatusComplete, CompletenessStatusNotApplicable:
		return true
	}
	return false
}

// ParseCompletenessStatus accepts "not_applicable" and "not-applicable" as "not applicable".
func ParseCompletenessStatus(raw string) CompletenessStatus {
	return CompletenessStatus(foldEnum(raw, " "))
}

func (s *CompletenessStatus) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*s = ParseCompletenessStatus(raw)
	return nil
}

type ExceptionType string

const (
	ExceptionTypeMissingData     ExceptionType = "missing-data"
	ExceptionTypeEstimatedData   ExceptionType = "estimated-data"
	ExceptionTypeSimplifiedScope ExceptionType = "simplified-scope"
	ExceptionTypeOther           ExceptionType = "other"
)

func (t ExceptionType) IsValid() bool {
	switch t {
	case ExceptionTypeMissingData, ExceptionTypeEstimatedData, ExceptionTypeSimplifiedScope, ExceptionTypeOther:
		return true
	}
	return false
}

func ParseExceptionType(raw string) ExceptionType {
	return ExceptionType(foldEnum(raw, "-"))
}

func (t *ExceptionType) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*t = ParseExceptionType(raw)
	return nil
}

type RemediationPriority string

const (
	RemediationPriorityLow    RemediationPriority = "low"
	RemediationPriorityMedium RemediationPriority = "medium"
	RemediationPriorityHigh   RemediationPriority = "high"
)

func (p RemediationPriority) IsValid() bool {
	switch p {
	case RemediationPriorityLow, RemediationPriorityMedium, RemediationPriorityHigh:
		return true
	}
	return false
}

// RemediationStatus is shared by plans and their actions.
type RemediationStatus string

const (
	RemediationStatusPlanned    RemediationStatus = "planned"
	RemediationStatusInProgress RemediationStatus = "in-progress"
	RemediationStatusCompleted  RemediationStatus = "completed"
	RemediationStatusCancelled  RemediationStatus = "cancelled"
)

func (s RemediationStatus) IsValid() bool {
	switch s {
	case RemediationStatusPlanned, RemediationStatusInProgress, RemediationStatusCompleted, RemediationStatusCancelled:
		return true
	}
	return false
}

func ParseRemediationStatus(raw string) RemediationStatus {
	return RemediationStatus(foldEnum(raw, "-"))
}

func (s *RemediationStatus) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*s = ParseRemediationStatus(raw)
	return nil
}

// IsClosed is true for the terminal statuses.
func (s RemediationStatus) IsClosed() bool {
	return s == RemediationStatusCompleted || s == RemediationStatusCancelled
}

type RemediationLinkType string

const (
	RemediationLinkGap        RemediationLinkType = "gap"
	RemediationLinkAssumption RemediationLinkType = "assumption"
	RemediationLinkDataPoint  RemediationLinkType = "data_point"
)

func (t RemediationLinkType) IsValid() bool {
	switch t {
	case RemediationLinkGap, RemediationLinkAssumption, RemediationLinkDataPoint:
		return true
	}
	return false
}

func ParseRemediationLinkType(raw string) RemediationLinkType {
	return RemediationLinkType(foldEnum(raw, "_"))
}

func (t *RemediationLinkType) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*t = ParseRemediationLinkType(raw)
	return nil
}

type GenerationStatus string

const (
	GenerationStatusDraft GenerationStatus = "draft"
	GenerationStatusFinal GenerationStatus = "final"
)

type AccessResourceType string

const (
	AccessResourceSection AccessResourceType = "section"
	AccessResourceReport  AccessResourceType = "report"
)

type AccessRequestStatus string

const (
	AccessRequestStatusPending  AccessRequestStatus = "pending"
	AccessRequestStatusApproved AccessRequestStatus = "approved"
	AccessRequestStatusDenied   AccessRequestStatus = "denied"
)

func (s AccessRequestStatus) IsValid() bool {
	switch s {
	case AccessRequestStatusPending, AccessRequestStatusApproved, AccessRequestStatusDenied:
		return true
	}
	return false
}

// Entity type names recorded in the audit trail.
const (
	EntityDataPoint           = "data_point"
	EntityCompletionException = "completion_exception"
	EntityRemediationPlan     = "remediation_plan"
	EntityRemediationAction   = "remediation_action"
	EntityReportingPeriod     = "reporting_period"
	EntityGeneration          = "generation"
	EntityAccessRequest       = "access_request"
)

// Audit action verbs.
const (
	AuditActionCreate        = "CREATE"
	AuditActionUpdate        = "UPDATE"
	AuditActionDelete        = "DELETE"
	AuditActionStatusChange  = "STATUS_CHANGE"
	AuditActionComplete      = "COMPLETE"
	AuditActionMarkFinal     = "MARK_FINAL"
	AuditActionResolve       = "RESOLVE"
	AuditActionRequestAccess = "REQUEST_ACCESS"
)

// foldEnum lower-cases raw and maps the word separators clients mix up
// (underscore, hyphen, space) onto sep.
func foldEnum(raw string, sep string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	return strings.NewReplacer("_", sep, "-", sep, " ", sep).Replace(raw)
}
