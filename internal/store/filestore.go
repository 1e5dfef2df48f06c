package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"eventcheckin/internal/attendee"
	"eventcheckin/internal/metrics"
)

var errReadOnly = errors.New("store: write inside a read-only view")

// FileStore keeps every attendee and photo session in one JSON document.
// A sibling "<name>.lock" file is flocked for the duration of each call, so
// several processes can share the data file.
type FileStore struct {
	path     string
	lockPath string
	timeout  time.Duration
	log      *zap.Logger
}

// document is the on-disk layout.
type document struct {
	Attendees     []fileAttendee          `json:"attendees"`
	PhotoSessions []attendee.PhotoSession `json:"photoSessions"`
}

// fileAttendee also carries the photoTime/isPhotoTaken pair older tools wrote
// and still read.
type fileAttendee struct {
	attendee.Attendee
	PhotoTime    *string `json:"photoTime,omitempty"`
	IsPhotoTaken *bool   `json:"isPhotoTaken,omitempty"`
}

// NewFileStore prepares a store at path. lockTimeout bounds how long a call
// waits for the lock before failing with ErrLockTimeout.
func NewFileStore(path string, lockTimeout time.Duration, log *zap.Logger) (*FileStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	ext := filepath.Ext(path)
	return &FileStore{
		path:     path,
		lockPath: strings.TrimSuffix(path, ext) + ".lock",
		timeout:  lockTimeout,
		log:      log,
	}, nil
}

// Path returns the data file location.
func (s *FileStore) Path() string { return s.path }

// View runs fn under a shared lock. A corrupt data file reads as empty.
func (s *FileStore) View(ctx context.Context, fn func(attendee.Tx) error) error {
	unlock, err := s.lock(ctx, unix.LOCK_SH)
	if err != nil {
		return err
	}
	defer unlock()

	doc, err := s.load()
	if errors.Is(err, errCorrupt) {
		s.log.Warn("data file is corrupt, serving empty view", zap.String("path", s.path), zap.Error(err))
		doc, err = &document{}, nil
	}
	if err != nil {
		return err
	}
	return fn(&fileTx{doc: doc, readOnly: true})
}

// Update runs fn under an exclusive lock and writes the document back only
// when fn succeeds and changed something. A corrupt data file is never
// overwritten.
func (s *FileStore) Update(ctx context.Context, fn func(attendee.Tx) error) error {
	unlock, err := s.lock(ctx, unix.LOCK_EX)
	if err != nil {
		return err
	}
	defer unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	tx := &fileTx{doc: doc}
	if err := fn(tx); err != nil {
		return err
	}
	if !tx.dirty {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.save(doc)
}

// Ping checks that the data directory is usable.
func (s *FileStore) Ping(ctx context.Context) error {
	unlock, err := s.lock(ctx, unix.LOCK_SH)
	if err != nil {
		return err
	}
	unlock()
	return nil
}

// lock flocks the lock file, retrying non-blocking attempts until the
// timeout passes.
func (s *FileStore) lock(ctx context.Context, how int) (func(), error) {
	start := time.Now()
	f, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %v: %w", err, attendee.ErrTransaction)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 10 * time.Millisecond
	policy.MaxInterval = 250 * time.Millisecond
	policy.MaxElapsedTime = s.timeout

	attempt := func() error {
		err := unix.Flock(int(f.Fd()), how|unix.LOCK_NB)
		if err == nil || errors.Is(err, unix.EWOULDBLOCK) {
			return err
		}
		return backoff.Permanent(err)
	}
	if err := backoff.Retry(attempt, backoff.WithContext(policy, ctx)); err != nil {
		_ = f.Close()
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, unix.EWOULDBLOCK):
			return nil, fmt.Errorf("%s after %s: %w", s.lockPath, s.timeout, attendee.ErrLockTimeout)
		default:
			return nil, fmt.Errorf("flock %s: %v: %w", s.lockPath, err, attendee.ErrTransaction)
		}
	}

	mode := "read"
	if how == unix.LOCK_EX {
		mode = "write"
	}
	metrics.LockWait.WithLabelValues("file", mode).Observe(time.Since(start).Seconds())

	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
	}, nil
}

var errCorrupt = fmt.Errorf("data file is corrupt: %w", attendee.ErrTransaction)

func (s *FileStore) load() (*document, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return &document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %v: %w", s.path, err, attendee.ErrTransaction)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return &document{}, nil
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%s: %v: %w", s.path, err, errCorrupt)
	}
	for i := range doc.Attendees {
		upgradeLegacy(&doc.Attendees[i])
	}
	return &doc, nil
}

// upgradeLegacy maps photoTime/isPhotoTaken onto the photography fields for
// records that predate them.
func upgradeLegacy(fa *fileAttendee) {
	a := &fa.Attendee
	a.Normalize()
	if a.PhotographyStatus != attendee.StatusNone || a.PhotographyTimeSlot != "" {
		return
	}
	if fa.PhotoTime == nil || strings.TrimSpace(*fa.PhotoTime) == "" {
		return
	}
	a.PhotographyTimeSlot = strings.TrimSpace(*fa.PhotoTime)
	a.PhotographyStatus = attendee.StatusScheduled
	if fa.IsPhotoTaken != nil && *fa.IsPhotoTaken {
		a.PhotographyStatus = attendee.StatusCompleted
		if a.PhotographyCompletedAt == nil && !a.LastUpdated.IsZero() {
			at := a.LastUpdated
			a.PhotographyCompletedAt = &at
		}
	}
}

// save writes the document to a temp file in the same directory, syncs it and
// renames it over the data file.
func (s *FileStore) save(doc *document) error {
	for i := range doc.Attendees {
		a := doc.Attendees[i].Attendee
		slot, taken := a.PhotographyTimeSlot, a.PhotographyStatus.Taken()
		doc.Attendees[i].PhotoTime = &slot
		doc.Attendees[i].IsPhotoTaken = &taken
	}
	if doc.Attendees == nil {
		doc.Attendees = []fileAttendee{}
	}
	if doc.PhotoSessions == nil {
		doc.PhotoSessions = []attendee.PhotoSession{}
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode document: %v: %w", err, attendee.ErrTransaction)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %v: %w", err, attendee.ErrTransaction)
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %v: %w", err, attendee.ErrTransaction)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %v: %w", err, attendee.ErrTransaction)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %v: %w", err, attendee.ErrTransaction)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %v: %w", err, attendee.ErrTransaction)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		cleanup()
		return fmt.Errorf("replace data file: %v: %w", err, attendee.ErrTransaction)
	}
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// fileTx works on the loaded document in memory.
type fileTx struct {
	doc      *document
	readOnly bool
	dirty    bool
}

func copyAttendee(a attendee.Attendee) attendee.Attendee {
	a.Children = append([]attendee.Child{}, a.Children...)
	a.GuestNames = append([]string{}, a.GuestNames...)
	return a
}

func (t *fileTx) write() error {
	if t.readOnly {
		return errReadOnly
	}
	t.dirty = true
	return nil
}

func (t *fileTx) Attendees() ([]attendee.Attendee, error) {
	out := make([]attendee.Attendee, 0, len(t.doc.Attendees))
	for _, fa := range t.doc.Attendees {
		out = append(out, copyAttendee(fa.Attendee))
	}
	return out, nil
}

func (t *fileTx) find(id string) int {
	for i, fa := range t.doc.Attendees {
		if fa.ID == id {
			return i
		}
	}
	return -1
}

func (t *fileTx) Attendee(id string) (attendee.Attendee, error) {
	if i := t.find(id); i >= 0 {
		return copyAttendee(t.doc.Attendees[i].Attendee), nil
	}
	return attendee.Attendee{}, fmt.Errorf("attendee %q: %w", id, attendee.ErrNotFound)
}

func (t *fileTx) PutAttendee(a attendee.Attendee) error {
	if err := t.write(); err != nil {
		return err
	}
	a = copyAttendee(a)
	if i := t.find(a.ID); i >= 0 {
		t.doc.Attendees[i] = fileAttendee{Attendee: a}
		return nil
	}
	t.doc.Attendees = append(t.doc.Attendees, fileAttendee{Attendee: a})
	return nil
}

func (t *fileTx) DeleteAttendee(id string) error {
	if err := t.write(); err != nil {
		return err
	}
	if i := t.find(id); i >= 0 {
		t.doc.Attendees = append(t.doc.Attendees[:i], t.doc.Attendees[i+1:]...)
	}
	return nil
}

func (t *fileTx) EmailOwner(email string) (string, error) {
	email = attendee.NormalizeEmail(email)
	if email == "" {
		return "", nil
	}
	for _, fa := range t.doc.Attendees {
		if attendee.NormalizeEmail(fa.Email) == email {
			return fa.ID, nil
		}
	}
	return "", nil
}

func (t *fileTx) SlotCounts() (map[string]int, error) {
	counts := make(map[string]int)
	for _, fa := range t.doc.Attendees {
		if fa.PhotographyTimeSlot != "" {
			counts[fa.PhotographyTimeSlot]++
		}
	}
	return counts, nil
}

func (t *fileTx) Sessions() ([]attendee.PhotoSession, error) {
	return append([]attendee.PhotoSession{}, t.doc.PhotoSessions...), nil
}

func (t *fileTx) findSession(attendeeID string) int {
	for i, s := range t.doc.PhotoSessions {
		if s.AttendeeID == attendeeID {
			return i
		}
	}
	return -1
}

func (t *fileTx) Session(attendeeID string) (attendee.PhotoSession, bool, error) {
	if i := t.findSession(attendeeID); i >= 0 {
		return t.doc.PhotoSessions[i], true, nil
	}
	return attendee.PhotoSession{}, false, nil
}

func (t *fileTx) PutSession(s attendee.PhotoSession) error {
	if err := t.write(); err != nil {
		return err
	}
	if i := t.findSession(s.AttendeeID); i >= 0 {
		t.doc.PhotoSessions[i] = s
		return nil
	}
	t.doc.PhotoSessions = append(t.doc.PhotoSessions, s)
	return nil
}

func (t *fileTx) DeleteSession(attendeeID string) error {
	if err := t.write(); err != nil {
		return err
	}
	if i := t.findSession(attendeeID); i >= 0 {
		t.doc.PhotoSessions = append(t.doc.PhotoSessions[:i], t.doc.PhotoSessions[i+1:]...)
	}
	return nil
}
