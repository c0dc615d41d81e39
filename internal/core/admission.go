package core

import (
	"context"
	"fmt"

	"github.com/edvin/logistica/internal/model"
)

// Admission is the outcome of an admission check.
type Admission struct {
	Allowed      bool `json:"allowed"`
	RunningCount int  `json:"running_count"`
	Ceiling      int  `json:"ceiling"`
}

// Gate answers whether another job may start under the parallelism ceiling.
// It is read-only; JobService.Admit performs the locked check-and-insert.
type Gate struct {
	db Querier
}

func NewGate(db Querier) *Gate {
	return &Gate{db: db}
}

// CanAdmit counts running jobs and compares against ceiling. A read error
// denies admission.
func (g *Gate) CanAdmit(ctx context.Context, ceiling int) (Admission, error) {
	a := Admission{Ceiling: ceiling}
	n, err := countRunning(ctx, g.db)
	if err != nil {
		return a, err
	}
	a.RunningCount = n
	a.Allowed = n < ceiling
	return a, nil
}

func countRunning(ctx context.Context, q Querier) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM backup_jobs WHERE status = ?`, model.StatusRunning,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count running jobs: %w", err)
	}
	return n, nil
}
