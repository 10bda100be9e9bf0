package models

import "errors"

var ErrAuditLogImmutable = errors.New("audit log entries are immutable")
