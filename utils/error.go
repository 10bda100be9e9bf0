package utils

import (
	"errors"
	"fmt"
	"strings"
)

var ErrorRecordNotFound = errors.New("record not found")

type ErrorKind string

const (
	ErrorKindNotFound           ErrorKind = "NotFound"
	ErrorKindInvalidInput       ErrorKind = "InvalidInput"
	ErrorKindValidationFailed   ErrorKind = "ValidationFailed"
	ErrorKindInvalidTransition  ErrorKind = "InvalidTransition"
	ErrorKindConflict           ErrorKind = "Conflict"
	ErrorKindStorageUnavailable ErrorKind = "StorageUnavailable"
	ErrorKindForbidden          ErrorKind = "Forbidden"
)

// FieldIssue names one field and why it is not acceptable.
type FieldIssue struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// GovernanceError is the only error type the engine returns.
// Fields is populated for ValidationFailed (missing prerequisites, in check order)
// and for InvalidInput (the first failing rule).
type GovernanceError struct {
	Kind     ErrorKind    `json:"kind"`
	Message  string       `json:"message"`
	Entity   string       `json:"entity,omitempty"`
	EntityId string       `json:"entity_id,omitempty"`
	Fields   []FieldIssue `json:"fields,omitempty"`
	Err      error        `json:"-"`
}

func (e *GovernanceError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Entity != "" {
		b.WriteString(" ")
		b.WriteString(e.Entity)
		if e.EntityId != "" {
			b.WriteString(" ")
			b.WriteString(e.EntityId)
		}
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *GovernanceError) Unwrap() error {
	return e.Err
}

func NewNotFound(entity string, id string) error {
	return &GovernanceError{Kind: ErrorKindNotFound, Entity: entity, EntityId: id, Message: "record not found", Err: ErrorRecordNotFound}
}

func NewInvalidInput(field string, reason string) error {
	return &GovernanceError{
		Kind:    ErrorKindInvalidInput,
		Message: fmt.Sprintf("%s %s", field, reason),
		Fields:  []FieldIssue{{Field: field, Reason: reason}},
	}
}

func NewValidationFailed(entity string, id string, fields []FieldIssue) error {
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.Field)
	}
	return &GovernanceError{
		Kind:     ErrorKindValidationFailed,
		Entity:   entity,
		EntityId: id,
		Message:  "missing prerequisites: " + strings.Join(names, ", "),
		Fields:   fields,
	}
}

func NewInvalidTransition(entity string, id string, message string) error {
	return &GovernanceError{Kind: ErrorKindInvalidTransition, Entity: entity, EntityId: id, Message: message}
}

func NewConflict(entity string, id string, message string) error {
	return &GovernanceError{Kind: ErrorKindConflict, Entity: entity, EntityId: id, Message: message}
}

func NewForbidden(message string) error {
	return &GovernanceError{Kind: ErrorKindForbidden, Message: message}
}

// NewStorageUnavailable wraps an infrastructure failure. Already-typed errors pass through.
func NewStorageUnavailable(err error) error {
	if err == nil {
		return nil
	}
	var ge *GovernanceError
	if errors.As(err, &ge) {
		return err
	}
	return &GovernanceError{Kind: ErrorKindStorageUnavailable, Message: "storage unavailable", Err: err}
}

// KindOf returns the kind of a GovernanceError anywhere in err's chain, or "".
func KindOf(err error) ErrorKind {
	var ge *GovernanceError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return ""
}

func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// FieldsOf returns the structured field list carried by err, if any.
func FieldsOf(err error) []FieldIssue {
	var ge *GovernanceError
	if errors.As(err, &ge) {
		return ge.Fields
	}
	return nil
}
