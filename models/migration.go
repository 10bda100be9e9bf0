package models

import (
	"gorm.io/gorm"
)

func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(
		&DataPoint{},
		&CompletionException{},
		&RemediationPlan{}, &RemediationAction{},
		&ReportingPeriod{}, &Generation{},
		&AccessRequest{},
		&AuditLog{}, &AuditOutboxRecord{},
	)
}
