package agent

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// progressMarkers maps phrases printed by the backup scripts to coarse
// checkpoint percentages. Order matters only for readability; the highest
// matching value wins.
var progressMarkers = []struct {
	marker  string
	percent int
}{
	{"Avvio backup", 10},
	{"Backup database", 30},
	{"Compressione", 60},
	{"Registrazione", 80},
}

var (
	totalSizeRe = regexp.MustCompile(`Dimensione totale backup:\s*(\d+)\s*bytes`)
	artifactRe  = regexp.MustCompile(`File backup:\s*(\S+)\s*\((\d+)\s*bytes\)(?:\s*sha256=([0-9a-fA-F]{64}))?`)
)

// ProgressFor returns the checkpoint reached by an output line.
func ProgressFor(line string) (int, bool) {
	best := 0
	for _, m := range progressMarkers {
		if strings.Contains(line, m.marker) && m.percent > best {
			best = m.percent
		}
	}
	return best, best > 0
}

// ParseTotalSize extracts the total backup size from the full stdout. The
// last occurrence wins.
func ParseTotalSize(output string) (int64, bool) {
	matches := totalSizeRe.FindAllStringSubmatch(output, -1)
	if len(matches) == 0 {
		return 0, false
	}
	n, err := strconv.ParseInt(matches[len(matches)-1][1], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Artifact is a file reported by a backup script.
type Artifact struct {
	Path      string
	SizeBytes int64
	Checksum  string
}

// ParseArtifact recognises "File backup: <path> (<n> bytes) [sha256=<hex>]".
func ParseArtifact(line string) (Artifact, bool) {
	m := artifactRe.FindStringSubmatch(line)
	if m == nil {
		return Artifact{}, false
	}
	n, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return Artifact{}, false
	}
	return Artifact{Path: m[1], SizeBytes: n, Checksum: strings.ToLower(m[3])}, true
}

// CompressionFor guesses the compression from the file extension.
func CompressionFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz", ".tgz":
		return "gzip"
	case ".zst":
		return "zstd"
	case ".bz2":
		return "bzip2"
	case ".xz":
		return "xz"
	case ".zip":
		return "zip"
	}
	return ""
}

const maxErrorLen = 4000

// ErrorSummary picks the text stored as a failed job's error message:
// stderr when present, otherwise the last stdout line, otherwise the exit
// code.
func ErrorSummary(res *Result) string {
	msg := strings.TrimSpace(res.Stderr)
	if msg == "" {
		lines := strings.Split(strings.TrimSpace(res.Stdout), "\n")
		msg = strings.TrimSpace(lines[len(lines)-1])
	}
	if msg == "" {
		msg = "process exited with code " + strconv.Itoa(res.ExitCode)
	}
	if len(msg) > maxErrorLen {
		msg = msg[len(msg)-maxErrorLen:]
	}
	return msg
}
