package core

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/edvin/logistica/internal/model"
)

var validNameRe = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// ValidDatabaseName reports whether name is safe to use as a MySQL
// identifier without quoting tricks.
func ValidDatabaseName(name string) bool {
	return len(name) <= 64 && validNameRe.MatchString(name)
}

// scratchName derives the disposable database name, keeping it within the
// 64 character identifier limit.
func scratchName(database string, at time.Time) string {
	if len(database) > 46 {
		database = database[:46]
	}
	return fmt.Sprintf("verify_%s_%d", database, at.Unix())
}

// Restorer loads a dump file into a database.
type Restorer interface {
	Restore(ctx context.Context, database, filePath string) error
}

// VerifyResult is the outcome of one restore test.
type VerifyResult struct {
	Database        string   `json:"database"`
	ScratchDatabase string   `json:"scratch_database"`
	FileID          int64    `json:"file_id"`
	FilePath        string   `json:"file_path"`
	Success         bool     `json:"success"`
	TableCountMatch bool     `json:"table_count_match"`
	SourceTables    int      `json:"source_tables"`
	RestoredTables  int      `json:"restored_tables"`
	MissingTables   []string `json:"missing_tables,omitempty"`
	ExtraTables     []string `json:"extra_tables,omitempty"`
	DurationMs      int64    `json:"duration_ms"`
	Error           string   `json:"error,omitempty"`
}

// Verifier restores the latest backup of a database into a scratch
// database and compares the table sets. The source database is only read.
type Verifier struct {
	db       DB
	files    *FileService
	activity *ActivityService
	restorer Restorer
	now      func() time.Time
}

func NewVerifier(db DB, restorer Restorer) *Verifier {
	return &Verifier{
		db:       db,
		files:    NewFileService(db),
		activity: NewActivityService(db),
		restorer: restorer,
		now:      time.Now,
	}
}

// Verify runs the restore test. A failed restore or a table mismatch is
// reported in the result; the error is reserved for failures to run the
// test at all. The scratch database is dropped on every path.
func (v *Verifier) Verify(ctx context.Context, database, actor string) (res *VerifyResult, err error) {
	if !ValidDatabaseName(database) {
		return nil, fmt.Errorf("invalid database name %q", database)
	}

	file, err := v.files.LatestCompletedForDatabase(ctx, database)
	if err != nil {
		return nil, err
	}

	start := v.now()
	res = &VerifyResult{
		Database:        database,
		ScratchDatabase: scratchName(database, start),
		FileID:          file.ID,
		FilePath:        file.FilePath,
	}

	if _, err := v.db.ExecContext(ctx, "CREATE DATABASE `"+res.ScratchDatabase+"`"); err != nil {
		return nil, fmt.Errorf("create scratch database %s: %w", res.ScratchDatabase, err)
	}
	defer func() {
		_, dropErr := v.db.ExecContext(context.WithoutCancel(ctx), "DROP DATABASE IF EXISTS `"+res.ScratchDatabase+"`")
		if dropErr != nil {
			err = multierror.Append(err, fmt.Errorf("drop scratch database %s: %w", res.ScratchDatabase, dropErr)).ErrorOrNil()
		}
	}()

	if rerr := v.restorer.Restore(ctx, res.ScratchDatabase, file.FilePath); rerr != nil {
		res.Error = rerr.Error()
	} else if cerr := v.compare(ctx, res); cerr != nil {
		res.Error = cerr.Error()
	}
	res.Success = res.Error == "" && res.TableCountMatch
	res.DurationMs = v.now().Sub(start).Milliseconds()

	status := model.VerificationFailed
	if res.Success {
		status = model.VerificationOK
	}
	var bookkeeping *multierror.Error
	if err := v.files.MarkVerification(ctx, file.ID, status, v.now().UTC()); err != nil {
		bookkeeping = multierror.Append(bookkeeping, err)
	}
	if err := v.activity.Record(ctx, &file.JobID, model.ActivityVerify, actor, res); err != nil {
		bookkeeping = multierror.Append(bookkeeping, err)
	}
	return res, bookkeeping.ErrorOrNil()
}

func (v *Verifier) compare(ctx context.Context, res *VerifyResult) error {
	schemas := []string{res.Database, res.ScratchDatabase}
	tables := make([][]string, len(schemas))

	g, ctx := errgroup.WithContext(ctx)
	for i, schema := range schemas {
		i, schema := i, schema
		g.Go(func() error {
			names, err := v.listTables(ctx, schema)
			if err != nil {
				return err
			}
			tables[i] = names
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	res.SourceTables = len(tables[0])
	res.RestoredTables = len(tables[1])
	res.TableCountMatch = res.SourceTables == res.RestoredTables
	res.MissingTables = difference(tables[0], tables[1])
	res.ExtraTables = difference(tables[1], tables[0])
	return nil
}

func (v *Verifier) listTables(ctx context.Context, schema string) ([]string, error) {
	rows, err := v.db.QueryContext(ctx,
		`SELECT table_name FROM information_schema.tables WHERE table_schema = ? ORDER BY table_name`, schema)
	if err != nil {
		return nil, fmt.Errorf("list tables of %s: %w", schema, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables of %s: %w", schema, err)
	}
	return names, nil
}

// difference returns the names in a that are not in b, sorted.
func difference(a, b []string) []string {
	seen := make(map[string]struct{}, len(b))
	for _, n := range b {
		seen[n] = struct{}{}
	}
	var out []string
	for _, n := range a {
		if _, ok := seen[n]; !ok {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}
