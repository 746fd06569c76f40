package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"priorityline/internal/db"
	"priorityline/internal/domain"
	"priorityline/internal/period"
)

type Repo struct {
	DB      *sql.DB
	Dialect string
}

var ErrNotFound = errors.New("not found")

// TimeLayout is the fixed-width UTC layout used for stored timestamps; it
// keeps range predicates lexically comparable on every driver.
const TimeLayout = "2006-01-02T15:04:05Z"

const priorityColumns = `id,name,COALESCE(description,''),sort_order,from_at,until_at,finished_at,canceled_at,month,year,status,position_id,objective_id,is_active,created_at,updated_at`

// PeriodQuery scopes one dataset lookup.
type PeriodQuery struct {
	Month       int
	Year        int
	PositionID  string
	ObjectiveID string
}

func (q PeriodQuery) bounds() (string, string, error) {
	p, err := period.New(q.Year, q.Month)
	if err != nil {
		return "", "", err
	}
	return FormatTime(p.Start()), FormatTime(p.Next().Start()), nil
}

func (r Repo) rebind(query string) string {
	return db.Rebind(r.Dialect, query)
}

func FormatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(TimeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		// Rows written by other tools may carry offsets or fractions.
		t, err = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC(), err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableTimePtr(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return FormatTime(*t)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPriority(row rowScanner) (domain.Priority, error) {
	var (
		p                      domain.Priority
		fromAt, untilAt        sql.NullString
		finishedAt, canceledAt sql.NullString
		objectiveID            sql.NullString
		createdAt, updatedAt   string
		active                 int
	)
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Order, &fromAt, &untilAt, &finishedAt, &canceledAt,
		&p.Month, &p.Year, &p.Status, &p.PositionID, &objectiveID, &active, &createdAt, &updatedAt)
	if err != nil {
		return p, err
	}
	p.IsActive = active != 0
	// Unparseable dates stay zero/nil; the classifier excludes such rows.
	if fromAt.Valid {
		p.FromAt, _ = parseTime(fromAt.String)
	}
	if untilAt.Valid {
		p.UntilAt, _ = parseTime(untilAt.String)
	}
	if finishedAt.Valid {
		if t, err := parseTime(finishedAt.String); err == nil {
			p.FinishedAt = &t
		}
	}
	if canceledAt.Valid {
		if t, err := parseTime(canceledAt.String); err == nil {
			p.CanceledAt = &t
		}
	}
	if objectiveID.Valid && objectiveID.String != "" {
		p.ObjectiveID = &objectiveID.String
	}
	p.CreatedAt, _ = parseTime(createdAt)
	p.UpdatedAt, _ = parseTime(updatedAt)
	return p, nil
}

// findPriorities runs one dataset predicate with the shared active/scope filters.
func (r Repo) findPriorities(ctx context.Context, q PeriodQuery, predicate string, args ...any) ([]domain.Priority, error) {
	clauses := []string{"is_active=1", predicate}
	if q.PositionID != "" {
		clauses = append(clauses, "position_id=?")
		args = append(args, q.PositionID)
	}
	if q.ObjectiveID != "" {
		clauses = append(clauses, "objective_id=?")
		args = append(args, q.ObjectiveID)
	}
	query := `SELECT ` + priorityColumns + ` FROM priorities WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY sort_order, until_at, id`
	rows, err := r.DB.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Priority
	for rows.Next() {
		p, err := scanPriority(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// FindOpenCarriedOver returns open priorities due before the period starts.
func (r Repo) FindOpenCarriedOver(ctx context.Context, q PeriodQuery) ([]domain.Priority, error) {
	start, _, err := q.bounds()
	if err != nil {
		return nil, err
	}
	return r.findPriorities(ctx, q, "status=? AND until_at < ?", domain.StatusOpen, start)
}

// FindOpenDueInPeriod returns open priorities due inside the period.
func (r Repo) FindOpenDueInPeriod(ctx context.Context, q PeriodQuery) ([]domain.Priority, error) {
	start, next, err := q.bounds()
	if err != nil {
		return nil, err
	}
	return r.findPriorities(ctx, q, "status=? AND until_at >= ? AND until_at < ?", domain.StatusOpen, start, next)
}

// FindClosedInPeriod returns priorities finished inside the period.
func (r Repo) FindClosedInPeriod(ctx context.Context, q PeriodQuery) ([]domain.Priority, error) {
	start, next, err := q.bounds()
	if err != nil {
		return nil, err
	}
	return r.findPriorities(ctx, q, "status=? AND finished_at >= ? AND finished_at < ?", domain.StatusClosed, start, next)
}

// FindCanceledInPeriod returns priorities canceled inside the period.
func (r Repo) FindCanceledInPeriod(ctx context.Context, q PeriodQuery) ([]domain.Priority, error) {
	start, next, err := q.bounds()
	if err != nil {
		return nil, err
	}
	return r.findPriorities(ctx, q, "status=? AND canceled_at >= ? AND canceled_at < ?", domain.StatusCanceled, start, next)
}

// FindCompletedInLaterPeriod returns priorities due inside the period but
// finished after it ended.
func (r Repo) FindCompletedInLaterPeriod(ctx context.Context, q PeriodQuery) ([]domain.Priority, error) {
	start, next, err := q.bounds()
	if err != nil {
		return nil, err
	}
	return r.findPriorities(ctx, q, "status=? AND until_at >= ? AND until_at < ? AND finished_at >= ?", domain.StatusClosed, start, next, next)
}

// ValidatePriority enforces the status/date invariants.
func ValidatePriority(p domain.Priority) error {
	if p.ID == "" {
		return errors.New("priority id is required")
	}
	if p.UntilAt.IsZero() {
		return fmt.Errorf("priority %s: untilAt is required", p.ID)
	}
	if !p.FromAt.IsZero() && p.UntilAt.Before(p.FromAt) {
		return fmt.Errorf("priority %s: untilAt must not be before fromAt", p.ID)
	}
	switch p.Status {
	case domain.StatusOpen:
		if p.FinishedAt != nil || p.CanceledAt != nil {
			return fmt.Errorf("priority %s: OPEN must not carry finishedAt or canceledAt", p.ID)
		}
	case domain.StatusClosed:
		if p.FinishedAt == nil || p.CanceledAt != nil {
			return fmt.Errorf("priority %s: CLOSED requires finishedAt and no canceledAt", p.ID)
		}
	case domain.StatusCanceled:
		if p.CanceledAt == nil || p.FinishedAt != nil {
			return fmt.Errorf("priority %s: CANCELED requires canceledAt and no finishedAt", p.ID)
		}
	default:
		return fmt.Errorf("priority %s: invalid status %q", p.ID, p.Status)
	}
	return nil
}

// UpsertPriority inserts or replaces a priority. month/year are derived from untilAt.
func (r Repo) UpsertPriority(ctx context.Context, tx *sql.Tx, p domain.Priority) error {
	if err := ValidatePriority(p); err != nil {
		return err
	}
	if p.FromAt.IsZero() {
		p.FromAt = p.UntilAt
	}
	until := p.UntilAt.UTC()
	p.Month, p.Year = int(until.Month()), until.Year()
	now := FormatTime(time.Now())
	created := now
	if !p.CreatedAt.IsZero() {
		created = FormatTime(p.CreatedAt)
	}
	active := 0
	if p.IsActive {
		active = 1
	}
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, r.rebind(query), args...)
		}
		return r.DB.ExecContext(ctx, r.rebind(query), args...)
	}
	_, err := exec(`INSERT INTO priorities(id,name,description,sort_order,from_at,until_at,finished_at,canceled_at,month,year,status,position_id,objective_id,is_active,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, description=excluded.description, sort_order=excluded.sort_order,
from_at=excluded.from_at, until_at=excluded.until_at, finished_at=excluded.finished_at, canceled_at=excluded.canceled_at,
month=excluded.month, year=excluded.year, status=excluded.status, position_id=excluded.position_id,
objective_id=excluded.objective_id, is_active=excluded.is_active, updated_at=excluded.updated_at`,
		p.ID, p.Name, nullable(p.Description), p.Order, FormatTime(p.FromAt), FormatTime(p.UntilAt),
		nullableTimePtr(p.FinishedAt), nullableTimePtr(p.CanceledAt), p.Month, p.Year, p.Status,
		p.PositionID, nullableStringPtr(p.ObjectiveID), active, created, now)
	return err
}

func (r Repo) GetPriority(ctx context.Context, id string) (domain.Priority, error) {
	p, err := scanPriority(r.DB.QueryRowContext(ctx, r.rebind(`SELECT `+priorityColumns+` FROM priorities WHERE id=?`), id))
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

// CountPriorities returns the number of active priorities.
func (r Repo) CountPriorities(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM priorities WHERE is_active=1`).Scan(&n)
	return n, err
}

// ListPriorityIDs returns the ids of active priorities, optionally limited to one position.
func (r Repo) ListPriorityIDs(ctx context.Context, positionID string) ([]string, error) {
	query := `SELECT id FROM priorities WHERE is_active=1`
	var args []any
	if positionID != "" {
		query += ` AND position_id=?`
		args = append(args, positionID)
	}
	rows, err := r.DB.QueryContext(ctx, r.rebind(query+` ORDER BY id`), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
