// Package api serves the backup orchestration REST API: triggering,
// listing, cancelling and deleting backup jobs, plus schedule and
// configuration rows.
package api
