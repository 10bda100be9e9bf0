package models

import (
	"time"

	"bitbucket.org/mmdatafocus/governance_backend/utils"
)

// CompletionException is an approved deviation that lets data points count as
// complete without meeting the normal prerequisites. A nil DataPointId covers
// the whole section. Rows are never updated after creation.
type CompletionException struct {
	Base
	SectionId     string        `gorm:"size:36;index;not null" json:"section_id"`
	DataPointId   *string       `gorm:"size:36;index" json:"data_point_id"`
	Title         string        `gorm:"size:255;not null" json:"title"`
	ExceptionType ExceptionType `gorm:"size:30;not null" json:"exception_type"`
	Justification string        `gorm:"type:text;not null" json:"justification"`
	RequestedBy   string        `gorm:"size:100;not null" json:"requested_by"`
	ExpiresAt     *time.Time    `gorm:"index" json:"expires_at"`
}

// IsActive reports whether the exception still applies on now's calendar day.
// Expiry is a date: an exception expiring today is active until the day ends.
func (e CompletionException) IsActive(now time.Time) bool {
	if e.ExpiresAt == nil {
		return true
	}
	return !dateOf(*e.ExpiresAt).Before(dateOf(now))
}

// Covers reports whether the exception targets the given data point.
func (e CompletionException) Covers(dp DataPoint) bool {
	if e.SectionId != dp.SectionId {
		return false
	}
	return e.DataPointId == nil || *e.DataPointId == dp.ID
}

type NewCompletionException struct {
	Title         string        `json:"title" validate:"notblank,max=255"`
	Justification string        `json:"justification" validate:"trimmed_min=10"`
	SectionId     string        `json:"section_id" validate:"required,uuid"`
	DataPointId   *string       `json:"data_point_id" validate:"omitempty,uuid"`
	ExceptionType ExceptionType `json:"exception_type" validate:"required,enum"`
	RequestedBy   string        `json:"requested_by"`
	ExpiresAt     *utils.Date   `json:"expires_at"`
}

func dateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
