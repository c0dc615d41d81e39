package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/logistica/internal/core"
)

// AuditLogger is an async writer of api_audit_logs rows.
type AuditLogger struct {
	db     core.Querier
	logger zerolog.Logger
	ch     chan auditEntry
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

type auditEntry struct {
	Actor       *string
	ActorRole   *string
	Method      string
	Path        string
	ResourceID  *string
	StatusCode  int
	RequestBody []byte
}

func NewAuditLogger(db core.Querier, logger zerolog.Logger) *AuditLogger {
	al := &AuditLogger{
		db:     db,
		logger: logger.With().Str("component", "audit").Logger(),
		ch:     make(chan auditEntry, 1024),
		done:   make(chan struct{}),
	}
	go al.drain()
	return al
}

func (al *AuditLogger) drain() {
	defer close(al.done)
	for entry := range al.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		var body any
		if len(entry.RequestBody) > 0 {
			body = string(entry.RequestBody)
		}
		_, err := al.db.ExecContext(ctx,
			`INSERT INTO api_audit_logs (actor, actor_role, method, path, resource_id, status_code, request_body)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			entry.Actor, entry.ActorRole, entry.Method, entry.Path, entry.ResourceID, entry.StatusCode, body,
		)
		cancel()
		if err != nil {
			al.logger.Error().Err(err).Msg("failed to write audit log")
		}
	}
}

// Close stops accepting entries and waits for the buffer to drain. Entries
// sent by requests still in flight after Close are dropped.
func (al *AuditLogger) Close() {
	al.mu.Lock()
	if al.closed {
		al.mu.Unlock()
		return
	}
	al.closed = true
	close(al.ch)
	al.mu.Unlock()
	<-al.done
}

func (al *AuditLogger) record(entry auditEntry) {
	al.mu.RLock()
	defer al.mu.RUnlock()
	if al.closed {
		al.logger.Warn().Str("path", entry.Path).Msg("audit log closed, dropping entry")
		return
	}
	select {
	case al.ch <- entry:
	default:
		al.logger.Warn().Msg("audit log buffer full, dropping entry")
	}
}

// Middleware records mutating API requests.
func (al *AuditLogger) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodDelete {
			next.ServeHTTP(w, r)
			return
		}

		var bodyBytes []byte
		if r.Body != nil {
			bodyBytes, _ = io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
		}

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		var actor, role *string
		if id := GetIdentity(r.Context()); id != nil {
			actor = &id.Subject
			if id.Role != "" {
				role = &id.Role
			}
		}

		var sanitized []byte
		if len(bodyBytes) > 0 && json.Valid(bodyBytes) {
			sanitized = sanitizeBody(bodyBytes)
		}

		al.record(auditEntry{
			Actor:       actor,
			ActorRole:   role,
			Method:      r.Method,
			Path:        r.URL.Path,
			ResourceID:  extractResourceID(r.URL.Path),
			StatusCode:  sw.status,
			RequestBody: sanitized,
		})
	})
}

// extractResourceID returns the first numeric path segment, e.g. 12 for
// /api/v1/backups/12/cancel.
func extractResourceID(path string) *string {
	for _, part := range strings.Split(strings.TrimPrefix(path, "/api/v1/"), "/") {
		if part == "" {
			continue
		}
		if strings.Trim(part, "0123456789") == "" {
			p := part
			return &p
		}
	}
	return nil
}

var sensitiveFields = map[string]bool{
	"password": true, "secret": true, "token": true, "dsn": true,
}

func sanitizeBody(body []byte) []byte {
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return body
	}
	for k := range data {
		if sensitiveFields[k] {
			data[k] = "[REDACTED]"
		}
	}
	sanitized, _ := json.Marshal(data)
	return sanitized
}
