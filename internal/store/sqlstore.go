package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"eventcheckin/internal/attendee"
	"eventcheckin/internal/metrics"
)

// SQLStore keeps attendees, children and photo sessions in a relational
// database. Writers are serialized in-process by a semaphore and across
// processes by the dialect's lock statement.
type SQLStore struct {
	db      *DB
	writer  chan struct{}
	timeout time.Duration
	log     *zap.Logger
}

// NewSQLStore wraps an opened database. The schema must already be migrated.
func NewSQLStore(db *DB, lockTimeout time.Duration, log *zap.Logger) *SQLStore {
	if log == nil {
		log = zap.NewNop()
	}
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &SQLStore{db: db, writer: make(chan struct{}, 1), timeout: lockTimeout, log: log}
}

// Ping checks database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.Client.PingContext(ctx)
}

// View runs fn inside a read-only transaction.
func (s *SQLStore) View(ctx context.Context, fn func(attendee.Tx) error) error {
	start := time.Now()
	tx, err := s.db.Reader.BeginTx(ctx, s.db.Dialect.ReadOptions())
	if err != nil {
		return s.txError("begin read", err)
	}
	defer func() { _ = tx.Rollback() }()
	metrics.LockWait.WithLabelValues(s.db.Dialect.Name(), "read").Observe(time.Since(start).Seconds())

	return fn(&sqlTx{ctx: ctx, tx: tx, dialect: s.db.Dialect, readOnly: true})
}

// Update runs fn inside a write transaction holding the store lock. The
// transaction is rolled back when fn fails.
func (s *SQLStore) Update(ctx context.Context, fn func(attendee.Tx) error) error {
	start := time.Now()
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	select {
	case s.writer <- struct{}{}:
	case <-timer.C:
		return fmt.Errorf("waiting for writer after %s: %w", s.timeout, attendee.ErrLockTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.writer }()

	tx, err := s.db.Client.BeginTx(ctx, nil)
	if err != nil {
		return s.txError("begin", err)
	}
	if stmt := s.db.Dialect.LockStatement(); stmt != "" {
		lockCtx, cancel := context.WithTimeout(ctx, s.timeout)
		_, err := tx.ExecContext(lockCtx, stmt)
		lockErr := lockCtx.Err()
		cancel()
		if err != nil {
			_ = tx.Rollback()
			if errors.Is(lockErr, context.DeadlineExceeded) && ctx.Err() == nil {
				return fmt.Errorf("table lock after %s: %w", s.timeout, attendee.ErrLockTimeout)
			}
			return s.txError("lock", err)
		}
	}
	metrics.LockWait.WithLabelValues(s.db.Dialect.Name(), "write").Observe(time.Since(start).Seconds())

	if err := fn(&sqlTx{ctx: ctx, tx: tx, dialect: s.db.Dialect}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return s.txError("commit", err)
	}
	return nil
}

// txError classifies driver failures: sqlite busy errors are lock timeouts,
// context errors pass through, everything else is a transaction failure.
func (s *SQLStore) txError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%s: %v: %w", op, err, attendee.ErrLockTimeout)
	}
	s.log.Warn("sql transaction failed", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%s: %v: %w", op, err, attendee.ErrTransaction)
}

type sqlTx struct {
	ctx      context.Context
	tx       *sql.Tx
	dialect  Dialect
	readOnly bool
}

func dbErr(op string, err error) error {
	if errors.Is(err, errReadOnly) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%s: %v: %w", op, err, attendee.ErrTransaction)
}

func (t *sqlTx) query(q string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(t.ctx, t.dialect.RewriteQuery(q), args...)
}

func (t *sqlTx) queryRow(q string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(t.ctx, t.dialect.RewriteQuery(q), args...)
}

func (t *sqlTx) exec(q string, args ...any) error {
	if t.readOnly {
		return errReadOnly
	}
	_, err := t.tx.ExecContext(t.ctx, t.dialect.RewriteQuery(q), args...)
	return err
}

// exists runs a SELECT 1 lookup. RowsAffected is not used for upserts because
// MySQL reports zero for updates that change nothing.
func (t *sqlTx) exists(q string, args ...any) (bool, error) {
	var one int
	err := t.queryRow(q, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

const attendeeColumns = `id, first_name, last_name, email, checked_in, checked_in_at, notes,
	photography_time_slot, photography_email, photography_status, photography_notes,
	photography_completed_at, guest_names, created_at, last_updated`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttendee(row rowScanner) (attendee.Attendee, error) {
	var (
		a                      attendee.Attendee
		checkedInAt, completed sql.NullTime
		status, guests         string
	)
	err := row.Scan(&a.ID, &a.FirstName, &a.LastName, &a.Email, &a.CheckedIn, &checkedInAt, &a.Notes,
		&a.PhotographyTimeSlot, &a.PhotographyEmail, &status, &a.PhotographyNotes,
		&completed, &guests, &a.CreatedAt, &a.LastUpdated)
	if err != nil {
		return attendee.Attendee{}, err
	}
	a.PhotographyStatus = attendee.PhotoStatus(status)
	a.CheckedInAt = timePtr(checkedInAt)
	a.PhotographyCompletedAt = timePtr(completed)
	if guests != "" {
		if err := json.Unmarshal([]byte(guests), &a.GuestNames); err != nil {
			return attendee.Attendee{}, fmt.Errorf("guest_names of %s: %w", a.ID, err)
		}
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.LastUpdated = a.LastUpdated.UTC()
	a.Children = []attendee.Child{}
	a.Normalize()
	return a, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func (t *sqlTx) Attendees() ([]attendee.Attendee, error) {
	rows, err := t.query(`SELECT ` + attendeeColumns + ` FROM attendees ORDER BY created_at, id`)
	if err != nil {
		return nil, dbErr("list attendees", err)
	}
	var out []attendee.Attendee
	index := make(map[string]int)
	for rows.Next() {
		a, err := scanAttendee(rows)
		if err != nil {
			_ = rows.Close()
			return nil, dbErr("scan attendee", err)
		}
		index[a.ID] = len(out)
		out = append(out, a)
	}
	if err := rows.Close(); err != nil {
		return nil, dbErr("list attendees", err)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("list attendees", err)
	}

	children, err := t.children(`SELECT attendee_id, id, name, age, gender, verified, verified_at
		FROM children ORDER BY attendee_id, position`)
	if err != nil {
		return nil, err
	}
	for id, list := range children {
		if i, ok := index[id]; ok {
			out[i].Children = list
		}
	}
	return out, nil
}

func (t *sqlTx) children(q string, args ...any) (map[string][]attendee.Child, error) {
	rows, err := t.query(q, args...)
	if err != nil {
		return nil, dbErr("list children", err)
	}
	defer rows.Close()

	out := make(map[string][]attendee.Child)
	for rows.Next() {
		var (
			owner, gender string
			c             attendee.Child
			verifiedAt    sql.NullTime
		)
		if err := rows.Scan(&owner, &c.ID, &c.Name, &c.Age, &gender, &c.Verified, &verifiedAt); err != nil {
			return nil, dbErr("scan child", err)
		}
		c.Gender = attendee.Gender(gender)
		c.VerifiedAt = timePtr(verifiedAt)
		out[owner] = append(out[owner], c)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("list children", err)
	}
	return out, nil
}

func (t *sqlTx) Attendee(id string) (attendee.Attendee, error) {
	a, err := scanAttendee(t.queryRow(`SELECT `+attendeeColumns+` FROM attendees WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return attendee.Attendee{}, fmt.Errorf("attendee %q: %w", id, attendee.ErrNotFound)
	}
	if err != nil {
		return attendee.Attendee{}, dbErr("get attendee", err)
	}
	children, err := t.children(`SELECT attendee_id, id, name, age, gender, verified, verified_at
		FROM children WHERE attendee_id = ? ORDER BY position`, id)
	if err != nil {
		return attendee.Attendee{}, err
	}
	if list := children[id]; list != nil {
		a.Children = list
	}
	return a, nil
}

func (t *sqlTx) PutAttendee(a attendee.Attendee) error {
	if t.readOnly {
		return errReadOnly
	}
	guests := a.GuestNames
	if guests == nil {
		guests = []string{}
	}
	guestJSON, err := json.Marshal(guests)
	if err != nil {
		return fmt.Errorf("encode guest names: %w", err)
	}

	found, err := t.exists(`SELECT 1 FROM attendees WHERE id = ?`, a.ID)
	if err != nil {
		return dbErr("look up attendee", err)
	}
	if found {
		err = t.exec(`UPDATE attendees SET first_name = ?, last_name = ?, email = ?, checked_in = ?,
			checked_in_at = ?, notes = ?, photography_time_slot = ?, photography_email = ?,
			photography_status = ?, photography_notes = ?, photography_completed_at = ?,
			guest_names = ?, last_updated = ?
			WHERE id = ?`,
			a.FirstName, a.LastName, a.Email, a.CheckedIn, nullTime(a.CheckedInAt), a.Notes,
			a.PhotographyTimeSlot, a.PhotographyEmail, string(a.PhotographyStatus), a.PhotographyNotes,
			nullTime(a.PhotographyCompletedAt), string(guestJSON), a.LastUpdated.UTC(), a.ID)
	} else {
		err = t.exec(`INSERT INTO attendees (`+attendeeColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.FirstName, a.LastName, a.Email, a.CheckedIn, nullTime(a.CheckedInAt), a.Notes,
			a.PhotographyTimeSlot, a.PhotographyEmail, string(a.PhotographyStatus), a.PhotographyNotes,
			nullTime(a.PhotographyCompletedAt), string(guestJSON), a.CreatedAt.UTC(), a.LastUpdated.UTC())
	}
	if err != nil {
		return dbErr("save attendee", err)
	}

	if err := t.exec(`DELETE FROM children WHERE attendee_id = ?`, a.ID); err != nil {
		return dbErr("replace children", err)
	}
	for i, c := range a.Children {
		err := t.exec(`INSERT INTO children (id, attendee_id, position, name, age, gender, verified, verified_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, a.ID, i, c.Name, c.Age, string(c.Gender), c.Verified, nullTime(c.VerifiedAt))
		if err != nil {
			return dbErr("insert child", err)
		}
	}
	return nil
}

func (t *sqlTx) DeleteAttendee(id string) error {
	for _, q := range []string{
		`DELETE FROM photo_sessions WHERE attendee_id = ?`,
		`DELETE FROM children WHERE attendee_id = ?`,
		`DELETE FROM attendees WHERE id = ?`,
	} {
		if err := t.exec(q, id); err != nil {
			return dbErr("delete attendee", err)
		}
	}
	return nil
}

func (t *sqlTx) EmailOwner(email string) (string, error) {
	email = attendee.NormalizeEmail(email)
	if email == "" {
		return "", nil
	}
	var id string
	err := t.queryRow(`SELECT id FROM attendees WHERE email = ? ORDER BY created_at LIMIT 1`, email).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", dbErr("email owner", err)
	}
	return id, nil
}

func (t *sqlTx) SlotCounts() (map[string]int, error) {
	rows, err := t.query(`SELECT photography_time_slot, COUNT(*) FROM attendees
		WHERE photography_time_slot <> '' GROUP BY photography_time_slot`)
	if err != nil {
		return nil, dbErr("slot counts", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			slot string
			n    int
		)
		if err := rows.Scan(&slot, &n); err != nil {
			return nil, dbErr("scan slot count", err)
		}
		counts[slot] = n
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("slot counts", err)
	}
	return counts, nil
}

const sessionColumns = `id, attendee_id, time_slot, email, status, total_participants, notes,
	completed_at, created_at, updated_at`

func scanSession(row rowScanner) (attendee.PhotoSession, error) {
	var (
		s         attendee.PhotoSession
		status    string
		completed sql.NullTime
	)
	err := row.Scan(&s.ID, &s.AttendeeID, &s.TimeSlot, &s.Email, &status, &s.TotalParticipants,
		&s.Notes, &completed, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return attendee.PhotoSession{}, err
	}
	s.Status = attendee.SessionStatus(status)
	s.CompletedAt = timePtr(completed)
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return s, nil
}

func (t *sqlTx) Sessions() ([]attendee.PhotoSession, error) {
	rows, err := t.query(`SELECT ` + sessionColumns + ` FROM photo_sessions ORDER BY time_slot, created_at`)
	if err != nil {
		return nil, dbErr("list sessions", err)
	}
	defer rows.Close()

	var out []attendee.PhotoSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, dbErr("scan session", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("list sessions", err)
	}
	return out, nil
}

func (t *sqlTx) Session(attendeeID string) (attendee.PhotoSession, bool, error) {
	s, err := scanSession(t.queryRow(`SELECT `+sessionColumns+` FROM photo_sessions WHERE attendee_id = ?`, attendeeID))
	if errors.Is(err, sql.ErrNoRows) {
		return attendee.PhotoSession{}, false, nil
	}
	if err != nil {
		return attendee.PhotoSession{}, false, dbErr("get session", err)
	}
	return s, true, nil
}

func (t *sqlTx) PutSession(s attendee.PhotoSession) error {
	if t.readOnly {
		return errReadOnly
	}
	found, err := t.exists(`SELECT 1 FROM photo_sessions WHERE attendee_id = ?`, s.AttendeeID)
	if err != nil {
		return dbErr("look up session", err)
	}
	if found {
		err = t.exec(`UPDATE photo_sessions SET time_slot = ?, email = ?, status = ?,
			total_participants = ?, notes = ?, completed_at = ?, updated_at = ?
			WHERE attendee_id = ?`,
			s.TimeSlot, s.Email, string(s.Status), s.TotalParticipants, s.Notes,
			nullTime(s.CompletedAt), s.UpdatedAt.UTC(), s.AttendeeID)
	} else {
		err = t.exec(`INSERT INTO photo_sessions (`+sessionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			s.ID, s.AttendeeID, s.TimeSlot, s.Email, string(s.Status), s.TotalParticipants, s.Notes,
			nullTime(s.CompletedAt), s.CreatedAt.UTC(), s.UpdatedAt.UTC())
	}
	if err != nil {
		return dbErr("save session", err)
	}
	return nil
}

func (t *sqlTx) DeleteSession(attendeeID string) error {
	if err := t.exec(`DELETE FROM photo_sessions WHERE attendee_id = ?`, attendeeID); err != nil {
		return dbErr("delete session", err)
	}
	return nil
}
