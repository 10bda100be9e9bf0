package models

import (
	"encoding/json"
	"time"
)

// Generation is one produced version of a period's report. Checksum and
// Snapshot are written once at creation; Status moves draft -> final only.
type Generation struct {
	Base
	PeriodId       string           `gorm:"size:36;index:idx_generation_period;not null" json:"period_id"`
	Status         GenerationStatus `gorm:"size:10;not null;default:draft;index" json:"status"`
	Checksum       string           `gorm:"size:64;not null;index" json:"checksum"`
	SectionCount   int              `gorm:"not null" json:"section_count"`
	DataPointCount int              `gorm:"not null" json:"data_point_count"`
	GeneratedBy    string           `gorm:"size:100;not null" json:"generated_by"`
	GeneratedAt    time.Time        `gorm:"index" json:"generated_at"`
	VariantName    *string          `gorm:"size:100" json:"variant_name"`
	Note           *string          `gorm:"type:text" json:"note"`
	MarkedFinalAt  *time.Time       `json:"marked_final_at"`
	MarkedFinalBy  *string          `gorm:"size:100" json:"marked_final_by"`
	Snapshot       string           `gorm:"type:longtext;not null" json:"-"`
}

func (g Generation) IsFinal() bool {
	return g.Status == GenerationStatusFinal
}

// DecodeSnapshot parses the stored canonical snapshot.
func (g Generation) DecodeSnapshot() (*ReportSnapshot, error) {
	var snapshot ReportSnapshot
	if err := json.Unmarshal([]byte(g.Snapshot), &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// ReportSnapshot is the rendered section/data point set a generation captures.
type ReportSnapshot struct {
	Sections []SnapshotSection `json:"sections" validate:"dive"`
}

type SnapshotSection struct {
	SectionId  string              `json:"section_id" validate:"notblank"`
	Title      string              `json:"title"`
	DataPoints []SnapshotDataPoint `json:"data_points" validate:"dive"`
}

type SnapshotDataPoint struct {
	DataPointId        string             `json:"data_point_id" validate:"notblank"`
	Name               string             `json:"name"`
	Value              string             `json:"value"`
	Unit               string             `json:"unit,omitempty"`
	CompletenessStatus CompletenessStatus `json:"completeness_status,omitempty"`
	Attributes         map[string]string  `json:"attributes,omitempty"`
}

func (s ReportSnapshot) Counts() (sections int, dataPoints int) {
	for _, section := range s.Sections {
		dataPoints += len(section.DataPoints)
	}
	return len(s.Sections), dataPoints
}

type NewGeneration struct {
	Snapshot    ReportSnapshot `json:"snapshot"`
	VariantName *string        `json:"variant_name" validate:"omitempty,max=100"`
	Note        *string        `json:"note"`
}

// GenerationDiff describes generation From -> To. Added is present only in To,
// Removed only in From, Changed in both with a different value.
type GenerationDiff struct {
	FromGenerationId string     `json:"from_generation_id"`
	ToGenerationId   string     `json:"to_generation_id"`
	ChecksumsEqual   bool       `json:"checksums_equal"`
	Sections         DiffCounts `json:"sections"`
	DataPoints       DiffCounts `json:"data_points"`
	Changes          []DiffItem `json:"changes"`
}

type DiffCounts struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
	Changed int `json:"changed"`
}

type DiffKind string

const (
	DiffKindAdded   DiffKind = "added"
	DiffKindRemoved DiffKind = "removed"
	DiffKindChanged DiffKind = "changed"
)

type DiffItem struct {
	Kind        DiffKind `json:"kind"`
	SectionId   string   `json:"section_id"`
	DataPointId string   `json:"data_point_id,omitempty"`
	OldValue    *string  `json:"old_value,omitempty"`
	NewValue    *string  `json:"new_value,omitempty"`
}

// GenerationVerification is the result of recomputing a stored checksum.
type GenerationVerification struct {
	GenerationId     string `json:"generation_id"`
	StoredChecksum   string `json:"stored_checksum"`
	ComputedChecksum string `json:"computed_checksum"`
	Valid            bool   `json:"valid"`
}
