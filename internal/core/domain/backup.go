package domain

import (
	"regexp"
	"time"
)

const backupTimeLayout = "20060102_150405"

var backupNameRegex = regexp.MustCompile(`^backup_\d{8}_\d{6}\.sql$`)

// BackupFileName returns the artifact name for a dump taken at t.
// Pattern: backup_YYYYMMDD_HHMMSS.sql
func BackupFileName(t time.Time) string {
	return "backup_" + t.Format(backupTimeLayout) + ".sql"
}

// IsBackupFileName reports whether name looks like a backup artifact.
func IsBackupFileName(name string) bool {
	return backupNameRegex.MatchString(name)
}
