package models

import (
	"time"

	"bitbucket.org/mmdatafocus/governance_backend/utils"
)

type ReportingPeriod struct {
	Base
	Name      string    `gorm:"size:100;not null" json:"name"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

type NewReportingPeriod struct {
	Name      string     `json:"name" validate:"notblank,max=100"`
	StartDate utils.Date `json:"start_date" validate:"required"`
	EndDate   utils.Date `json:"end_date" validate:"required"`
}
