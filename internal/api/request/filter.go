package request

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/edvin/logistica/internal/core"
	"github.com/edvin/logistica/internal/model"
)

const dateOnly = "2006-01-02"

// ParseJobFilter extracts the job listing filters and pagination from the
// query string. date_to given as a plain date includes that whole day.
func ParseJobFilter(r *http.Request) (core.JobFilter, error) {
	q := r.URL.Query()
	pg := ParsePagination(r)
	f := core.JobFilter{
		Status:     q.Get("status"),
		BackupType: q.Get("backup_type"),
		Limit:      pg.Limit,
		Offset:     pg.Offset,
	}

	if f.Status != "" && !model.ValidStatus(f.Status) {
		return f, fmt.Errorf("invalid status %q", f.Status)
	}
	if f.BackupType != "" && !model.ValidBackupType(f.BackupType) {
		return f, fmt.Errorf("invalid backup_type %q", f.BackupType)
	}

	if s := q.Get("date_from"); s != "" {
		t, _, err := parseDate(s)
		if err != nil {
			return f, fmt.Errorf("invalid date_from: %w", err)
		}
		f.DateFrom = &t
	}
	if s := q.Get("date_to"); s != "" {
		t, day, err := parseDate(s)
		if err != nil {
			return f, fmt.Errorf("invalid date_to: %w", err)
		}
		if day {
			t = t.AddDate(0, 0, 1)
		}
		f.DateTo = &t
	}

	if s := q.Get("job_id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil || id <= 0 {
			return f, fmt.Errorf("invalid job_id %q", s)
		}
		f.JobID = id
	}
	return f, nil
}

func parseDate(s string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), false, nil
	}
	t, err := time.Parse(dateOnly, s)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("expected RFC 3339 time or YYYY-MM-DD, got %q", s)
	}
	return t, true, nil
}
