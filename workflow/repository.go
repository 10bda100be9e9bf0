package workflow

import (
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/governance_backend/utils"
	"gorm.io/gorm"
)

// fetchById loads one row by primary key; a missing row is NotFound.
func fetchById[T any](db *gorm.DB, entity string, id string) (*T, error) {
	var result T
	if err := db.Where("id = ?", id).First(&result).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFound(entity, id)
		}
		return nil, err
	}
	return &result, nil
}

// saveVersioned applies updates only if the row still carries the expected
// version, bumping it. Zero rows affected means another writer won: Conflict.
func saveVersioned[T any](tx *gorm.DB, entity string, id string, version int, updates map[string]interface{}, now time.Time) error {
	updates["version"] = version + 1
	updates["updated_at"] = now
	var model T
	result := tx.Model(&model).Where("id = ? AND version = ?", id, version).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return utils.NewConflict(entity, id, "stale version, reload and retry")
	}
	return nil
}

// checkVersion rejects a caller-supplied version that does not match storage.
func checkVersion(entity string, id string, expected *int, current int) error {
	if expected != nil && *expected != current {
		return utils.NewConflict(entity, id, "stale version, reload and retry")
	}
	return nil
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func timeOrEmpty(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func dateOrEmpty(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}
