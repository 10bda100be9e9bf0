package config

import (
	"os"
	"strings"
	"time"
)

// AuditOutboxEnabled makes every audit write also enqueue an outbox record
// that the dispatcher publishes to Pub/Sub.
//
// Set via env:
// - AUDIT_OUTBOX_ENABLED=true
func AuditOutboxEnabled() bool {
	return envBool("AUDIT_OUTBOX_ENABLED")
}

// EntityLockTTL bounds how long a per-entity lock is held before Redis expires it.
//
// Set via env:
// - LOCK_TTL_SECONDS (default 30)
func EntityLockTTL() time.Duration {
	return time.Duration(intFromEnv("LOCK_TTL_SECONDS", 30)) * time.Second
}

// GenerationArchiveBucket names the GCS bucket receiving canonical generation snapshots.
// Empty disables archiving.
func GenerationArchiveBucket() string {
	return strings.TrimSpace(os.Getenv("GENERATION_ARCHIVE_BUCKET"))
}

func envBool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
