package platform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackupPath(t *testing.T) {
	at := time.Date(2025, 3, 14, 2, 0, 0, 0, time.UTC)
	result := BackupPath("/var/backups/logistica", "full", at)
	assert.Regexp(t, `^/var/backups/logistica/full/20250314_020000_[a-z0-9]{10}$`, result)
}

func TestBackupPath_Unique(t *testing.T) {
	at := time.Date(2025, 3, 14, 2, 0, 0, 0, time.UTC)
	assert.NotEqual(t, BackupPath("/b", "full", at), BackupPath("/b", "full", at))
}
