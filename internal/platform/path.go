package platform

import (
	"path/filepath"
	"time"
)

// BackupPath builds the destination directory label for a job.
// Example: /var/backups/logistica/full/20250314_020000_k3x9p0a1qz
func BackupPath(root, kind string, at time.Time) string {
	return filepath.Join(root, kind, NewName(at.UTC().Format("20060102_150405")+"_"))
}
