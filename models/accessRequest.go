package models

import "time"

// AccessRequest asks to view a restricted section or report.
// It is created pending and resolved exactly once.
type AccessRequest struct {
	Base
	RequestedBy  string              `gorm:"size:100;not null;index" json:"requested_by"`
	ResourceType AccessResourceType  `gorm:"size:20;not null" json:"resource_type"`
	ResourceId   string              `gorm:"size:36;not null;index" json:"resource_id"`
	Reason       string              `gorm:"type:text;not null" json:"reason"`
	Status       AccessRequestStatus `gorm:"size:20;not null;default:pending;index" json:"status"`
	ResolvedBy   *string             `gorm:"size:100" json:"resolved_by"`
	ResolvedAt   *time.Time          `json:"resolved_at"`
}

type NewAccessRequest struct {
	ResourceType AccessResourceType `json:"resource_type" validate:"required,oneof=section report"`
	ResourceId   string             `json:"resource_id" validate:"required,uuid"`
	Reason       string             `json:"reason" validate:"notblank"`
}

type ResolveAccessRequest struct {
	Outcome AccessRequestStatus `json:"outcome" validate:"required,oneof=approved denied"`
}
