package models

import (
	"time"

	"bitbucket.org/mmdatafocus/governance_backend/utils"
)

// RemediationPlan tracks an effort to close a data gap. The optional link to a
// gap, assumption or data point is a weak reference: the id is kept but never resolved.
type RemediationPlan struct {
	Base
	SectionId    string               `gorm:"size:36;index:idx_plan_section;not null" json:"section_id"`
	LinkType     *RemediationLinkType `gorm:"size:20;index:idx_plan_link,priority:1" json:"link_type"`
	LinkId       *string              `gorm:"size:36;index:idx_plan_link,priority:2" json:"link_id"`
	Title        string               `gorm:"size:255;not null" json:"title"`
	Description  string               `gorm:"type:text" json:"description"`
	OwnerId      string               `gorm:"size:100" json:"owner_id"`
	Priority     RemediationPriority  `gorm:"size:10;not null;default:medium" json:"priority"`
	Status       RemediationStatus    `gorm:"size:20;not null;default:planned;index" json:"status"`
	TargetPeriod string               `gorm:"size:100" json:"target_period"`
	CompletedAt  *time.Time           `json:"completed_at"`
	CompletedBy  *string              `gorm:"size:100" json:"completed_by"`
}

// RemediationAction is one step of a plan. Actions live and die with their plan.
type RemediationAction struct {
	Base
	PlanId      string            `gorm:"size:36;index;not null" json:"plan_id"`
	Title       string            `gorm:"size:255;not null" json:"title"`
	OwnerId     string            `gorm:"size:100" json:"owner_id"`
	DueDate     *time.Time        `json:"due_date"`
	Status      RemediationStatus `gorm:"size:20;not null;default:planned" json:"status"`
	CompletedAt *time.Time        `json:"completed_at"`
}

type NewRemediationPlan struct {
	SectionId    string               `json:"section_id" validate:"required,uuid"`
	Title        string               `json:"title" validate:"notblank,max=255"`
	Description  string               `json:"description"`
	OwnerId      string               `json:"owner_id" validate:"max=100"`
	Priority     RemediationPriority  `json:"priority" validate:"omitempty,enum"`
	TargetPeriod string               `json:"target_period" validate:"max=100"`
	LinkType     *RemediationLinkType `json:"link_type" validate:"omitempty,enum"`
	LinkId       *string              `json:"link_id" validate:"omitempty,uuid"`
}

// UpdateRemediationPlan edits an open plan. Nil leaves a field unchanged.
type UpdateRemediationPlan struct {
	Title        *string              `json:"title" validate:"omitempty,notblank,max=255"`
	Description  *string              `json:"description"`
	OwnerId      *string              `json:"owner_id" validate:"omitempty,max=100"`
	Priority     *RemediationPriority `json:"priority" validate:"omitempty,enum"`
	Status       *RemediationStatus   `json:"status" validate:"omitempty,enum"`
	TargetPeriod *string              `json:"target_period" validate:"omitempty,max=100"`
	Version      *int                 `json:"version"`
}

type RemediationPlanFilter struct {
	SectionId string
	LinkType  *RemediationLinkType
	LinkId    *string
}

type NewRemediationAction struct {
	Title   string      `json:"title" validate:"notblank,max=255"`
	OwnerId string      `json:"owner_id" validate:"max=100"`
	DueDate *utils.Date `json:"due_date"`
}

type UpdateRemediationActionStatus struct {
	Status  RemediationStatus `json:"status" validate:"required,enum"`
	Version *int              `json:"version"`
}
