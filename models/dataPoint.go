package models

// DataPoint is a single trackable disclosure field within a report section.
// CompletenessStatus is changed only by the status transition operation.
type DataPoint struct {
	Base
	SectionId          string             `gorm:"size:36;index;not null" json:"section_id"`
	Name               string             `gorm:"size:255;not null" json:"name"`
	CompletenessStatus CompletenessStatus `gorm:"size:20;not null;default:missing;index" json:"completeness_status"`
	Value              string             `gorm:"type:text" json:"value"`
	PeriodDeadline     string             `gorm:"size:100" json:"period_deadline"`
	MethodologySource  string             `gorm:"type:text" json:"methodology_source"`
	OwnerId            string             `gorm:"size:100" json:"owner_id"`
}

type NewDataPoint struct {
	SectionId         string  `json:"section_id" validate:"required,uuid"`
	Name              string  `json:"name" validate:"notblank,max=255"`
	Value             string  `json:"value"`
	PeriodDeadline    string  `json:"period_deadline" validate:"max=100"`
	MethodologySource string  `json:"methodology_source"`
	OwnerId           string  `json:"owner_id" validate:"max=100"`
	Note              *string `json:"note"`
}

// DataPointDetails edits the descriptive fields. Nil leaves a field unchanged.
type DataPointDetails struct {
	Name              *string `json:"name" validate:"omitempty,notblank,max=255"`
	Value             *string `json:"value"`
	PeriodDeadline    *string `json:"period_deadline" validate:"omitempty,max=100"`
	MethodologySource *string `json:"methodology_source"`
	OwnerId           *string `json:"owner_id" validate:"omitempty,max=100"`
	Version           *int    `json:"version"`
	Note              *string `json:"note"`
}

type UpdateDataPointStatus struct {
	Status  CompletenessStatus `json:"status" validate:"required,enum"`
	Version *int               `json:"version"`
	Note    *string            `json:"note"`
}
