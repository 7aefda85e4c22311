// Package sqlite archives the last published permit snapshot so the service
// can warm start while the upstream export is unreachable.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/permit-data-service/internal/domain"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// SourceArchive is recorded as the Source of a dataset restored from disk.
const SourceArchive = "archive"

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	snapshot_id TEXT PRIMARY KEY,
	source      TEXT NOT NULL DEFAULT '',
	loaded_at   TEXT NOT NULL,
	archived_at TEXT NOT NULL,
	records     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS permits (
	snapshot_id   TEXT NOT NULL,
	position      INTEGER NOT NULL,
	permit_id     TEXT NOT NULL,
	permit_number TEXT NOT NULL DEFAULT '',
	permit_type   TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT '',
	address       TEXT NOT NULL DEFAULT '',
	zip_code      TEXT NOT NULL DEFAULT '',
	zip_source    TEXT NOT NULL DEFAULT '',
	issued_date   TEXT NOT NULL DEFAULT '',
	finaled_date  TEXT NOT NULL DEFAULT '',
	year          INTEGER NOT NULL DEFAULT 0,
	duration_days INTEGER,
	square_feet   REAL,
	valuation     REAL,
	fees_paid     REAL,
	processed_at  TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (snapshot_id, position)
);
`

const insertPermit = `
INSERT INTO permits (
	snapshot_id, position, permit_id, permit_number, permit_type, status, address,
	zip_code, zip_source, issued_date, finaled_date, year, duration_days,
	square_feet, valuation, fees_paid, processed_at
) VALUES (
	:snapshot_id, :position, :permit_id, :permit_number, :permit_type, :status, :address,
	:zip_code, :zip_source, :issued_date, :finaled_date, :year, :duration_days,
	:square_feet, :valuation, :fees_paid, :processed_at
)`

type snapshotRow struct {
	SnapshotID string `db:"snapshot_id"`
	Source     string `db:"source"`
	LoadedAt   string `db:"loaded_at"`
	ArchivedAt string `db:"archived_at"`
	Records    int    `db:"records"`
}

type permitRow struct {
	SnapshotID   string   `db:"snapshot_id"`
	Position     int      `db:"position"`
	PermitID     string   `db:"permit_id"`
	PermitNumber string   `db:"permit_number"`
	PermitType   string   `db:"permit_type"`
	Status       string   `db:"status"`
	Address      string   `db:"address"`
	ZipCode      string   `db:"zip_code"`
	ZipSource    string   `db:"zip_source"`
	IssuedDate   string   `db:"issued_date"`
	FinaledDate  string   `db:"finaled_date"`
	Year         int      `db:"year"`
	DurationDays *int     `db:"duration_days"`
	SquareFeet   *float64 `db:"square_feet"`
	Valuation    *float64 `db:"valuation"`
	FeesPaid     *float64 `db:"fees_paid"`
	ProcessedAt  string   `db:"processed_at"`
}

// Archive persists one snapshot in SQLite. It implements pipeline.Loader.
type Archive struct {
	db *sqlx.DB
}

// Open opens (creating if needed) the archive at path.
func Open(path string) (*Archive, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Archive{db: db}, nil
}

func (a *Archive) Close() error {
	return a.db.Close()
}

// Load replaces the archived snapshot with ds in a single transaction.
func (a *Archive) Load(ctx context.Context, ds domain.Dataset) (err error) {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "DELETE FROM permits"); err != nil {
		return fmt.Errorf("clear permits: %w", err)
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM snapshots"); err != nil {
		return fmt.Errorf("clear snapshots: %w", err)
	}

	_, err = tx.NamedExecContext(ctx,
		`INSERT INTO snapshots (snapshot_id, source, loaded_at, archived_at, records)
		 VALUES (:snapshot_id, :source, :loaded_at, :archived_at, :records)`,
		snapshotRow{
			SnapshotID: ds.ID,
			Source:     ds.Source,
			LoadedAt:   formatTime(ds.LoadedAt),
			ArchivedAt: formatTime(domain.Now()),
			Records:    len(ds.Permits),
		})
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}

	stmt, err := tx.PrepareNamedContext(ctx, insertPermit)
	if err != nil {
		return fmt.Errorf("prepare permit insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i := range ds.Permits {
		if _, err = stmt.ExecContext(ctx, toRow(ds.ID, i, &ds.Permits[i])); err != nil {
			return fmt.Errorf("insert permit %s: %w", ds.Permits[i].ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit archive tx: %w", err)
	}
	return nil
}

// Latest returns the archived snapshot, or nil if the archive is empty.
// The restored dataset keeps its original ID and LoadedAt.
func (a *Archive) Latest(ctx context.Context) (*domain.Dataset, error) {
	var snap snapshotRow
	err := a.db.GetContext(ctx, &snap,
		"SELECT snapshot_id, source, loaded_at, archived_at, records FROM snapshots ORDER BY archived_at DESC LIMIT 1")
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var rows []permitRow
	if err := a.db.SelectContext(ctx, &rows,
		"SELECT * FROM permits WHERE snapshot_id = ? ORDER BY position", snap.SnapshotID); err != nil {
		return nil, fmt.Errorf("read permits: %w", err)
	}

	permits := make([]domain.Permit, len(rows))
	for i := range rows {
		permits[i] = fromRow(&rows[i])
	}
	return &domain.Dataset{
		ID:       snap.SnapshotID,
		Source:   SourceArchive,
		LoadedAt: parseTime(snap.LoadedAt),
		Permits:  permits,
	}, nil
}

func toRow(snapshotID string, position int, p *domain.Permit) permitRow {
	return permitRow{
		SnapshotID:   snapshotID,
		Position:     position,
		PermitID:     p.ID,
		PermitNumber: p.PermitNumber,
		PermitType:   p.PermitType,
		Status:       p.Status,
		Address:      p.Address,
		ZipCode:      p.ZipCode,
		ZipSource:    p.ZipSource,
		IssuedDate:   formatTime(p.IssuedDate),
		FinaledDate:  formatTime(p.FinaledDate),
		Year:         p.Year,
		DurationDays: p.DurationDays,
		SquareFeet:   p.SquareFeet,
		Valuation:    p.Valuation,
		FeesPaid:     p.FeesPaid,
		ProcessedAt:  formatTime(p.ProcessedAt),
	}
}

func fromRow(r *permitRow) domain.Permit {
	return domain.Permit{
		ID:           r.PermitID,
		PermitNumber: r.PermitNumber,
		PermitType:   r.PermitType,
		Status:       r.Status,
		Address:      r.Address,
		ZipCode:      r.ZipCode,
		ZipSource:    r.ZipSource,
		IssuedDate:   parseTime(r.IssuedDate),
		FinaledDate:  parseTime(r.FinaledDate),
		Year:         r.Year,
		DurationDays: r.DurationDays,
		SquareFeet:   r.SquareFeet,
		Valuation:    r.Valuation,
		FeesPaid:     r.FeesPaid,
		ProcessedAt:  parseTime(r.ProcessedAt),
	}
}

// formatTime stores the zero time as an empty string.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
