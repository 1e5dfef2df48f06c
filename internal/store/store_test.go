package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"eventcheckin/internal/attendee"
)

func newFileStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(filepath.Join(t.TempDir(), "attendees.json"), time.Second, zap.NewNop())
	require.NoError(t, err)
	return s
}

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	ctx := context.Background()
	db, err := NewDB(ctx, "sqlite", filepath.Join(t.TempDir(), "checkin.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, Migrate(ctx, db))
	return NewSQLStore(db, time.Second, zap.NewNop())
}

func backends(t *testing.T) map[string]attendee.Store {
	return map[string]attendee.Store{
		"file":   newFileStore(t),
		"sqlite": newSQLiteStore(t),
	}
}

func sample(id, email, slot string) attendee.Attendee {
	created := time.Date(2026, 5, 1, 17, 0, 0, 0, time.UTC)
	verified := created.Add(time.Minute)
	return attendee.Attendee{
		ID:        id,
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     email,
		Children: []attendee.Child{
			{ID: id + "-c1", Name: "Byron", Age: 7, Gender: attendee.GenderMale, Verified: true, VerifiedAt: &verified},
			{ID: id + "-c2", Name: "Anne", Age: 4, Gender: attendee.GenderFemale},
		},
		PhotographyTimeSlot: slot,
		PhotographyStatus:   attendee.StatusScheduled,
		GuestNames:          []string{"Grandma"},
		CreatedAt:           created,
		LastUpdated:         created,
	}
}

func put(t *testing.T, s attendee.Store, a attendee.Attendee) {
	t.Helper()
	require.NoError(t, s.Update(context.Background(), func(tx attendee.Tx) error {
		return tx.PutAttendee(a)
	}))
}

func TestStoreAttendees(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			put(t, s, sample("a1", "ada@example.com", "18:00"))
			put(t, s, sample("a2", "", "18:00"))

			require.NoError(t, s.View(ctx, func(tx attendee.Tx) error {
				got, err := tx.Attendee("a1")
				require.NoError(t, err)
				assert.Equal(t, "Ada", got.FirstName)
				require.Len(t, got.Children, 2)
				assert.Equal(t, "Byron", got.Children[0].Name)
				assert.True(t, got.Children[0].Verified)
				require.NotNil(t, got.Children[0].VerifiedAt)
				assert.Equal(t, []string{"Grandma"}, got.GuestNames)
				assert.True(t, got.CreatedAt.Equal(time.Date(2026, 5, 1, 17, 0, 0, 0, time.UTC)))

				all, err := tx.Attendees()
				require.NoError(t, err)
				assert.Len(t, all, 2)

				owner, err := tx.EmailOwner("ADA@example.com ")
				require.NoError(t, err)
				assert.Equal(t, "a1", owner)
				owner, err = tx.EmailOwner("")
				require.NoError(t, err)
				assert.Empty(t, owner)

				counts, err := tx.SlotCounts()
				require.NoError(t, err)
				assert.Equal(t, map[string]int{"18:00": 2}, counts)

				_, err = tx.Attendee("missing")
				assert.ErrorIs(t, err, attendee.ErrNotFound)
				return nil
			}))

			updated := sample("a1", "ada@example.com", "")
			updated.Children = updated.Children[1:]
			updated.PhotographyStatus = attendee.StatusPending
			put(t, s, updated)

			require.NoError(t, s.View(ctx, func(tx attendee.Tx) error {
				got, err := tx.Attendee("a1")
				require.NoError(t, err)
				require.Len(t, got.Children, 1)
				assert.Equal(t, "Anne", got.Children[0].Name)
				assert.Equal(t, attendee.StatusPending, got.PhotographyStatus)

				counts, err := tx.SlotCounts()
				require.NoError(t, err)
				assert.Equal(t, 1, counts["18:00"])
				return nil
			}))
		})
	}
}

func TestStoreSessions(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := sample("a1", "ada@example.com", "18:15")
			now := time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)
			sess := attendee.PhotoSession{
				ID: "s1", AttendeeID: "a1", TimeSlot: "18:15", Email: "ada@example.com",
				Status: attendee.SessionScheduled, TotalParticipants: 4, CreatedAt: now, UpdatedAt: now,
			}
			require.NoError(t, s.Update(ctx, func(tx attendee.Tx) error {
				if err := tx.PutAttendee(a); err != nil {
					return err
				}
				return tx.PutSession(sess)
			}))

			sess.Status = attendee.SessionCompleted
			sess.CompletedAt = &now
			require.NoError(t, s.Update(ctx, func(tx attendee.Tx) error { return tx.PutSession(sess) }))

			require.NoError(t, s.View(ctx, func(tx attendee.Tx) error {
				got, ok, err := tx.Session("a1")
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, "s1", got.ID)
				assert.Equal(t, attendee.SessionCompleted, got.Status)
				require.NotNil(t, got.CompletedAt)
				assert.True(t, got.CompletedAt.Equal(now))

				all, err := tx.Sessions()
				require.NoError(t, err)
				assert.Len(t, all, 1)
				return nil
			}))

			require.NoError(t, s.Update(ctx, func(tx attendee.Tx) error { return tx.DeleteAttendee("a1") }))
			require.NoError(t, s.View(ctx, func(tx attendee.Tx) error {
				_, ok, err := tx.Session("a1")
				require.NoError(t, err)
				assert.False(t, ok)
				all, err := tx.Attendees()
				require.NoError(t, err)
				assert.Empty(t, all)
				return nil
			}))
		})
	}
}

func TestStoreUpdateRollsBack(t *testing.T) {
	boom := errors.New("boom")
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			err := s.Update(ctx, func(tx attendee.Tx) error {
				if err := tx.PutAttendee(sample("a1", "", "")); err != nil {
					return err
				}
				return boom
			})
			assert.ErrorIs(t, err, boom)

			require.NoError(t, s.View(ctx, func(tx attendee.Tx) error {
				all, err := tx.Attendees()
				require.NoError(t, err)
				assert.Empty(t, all)
				return nil
			}))
		})
	}
}

func TestStoreViewIsReadOnly(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			err := s.View(context.Background(), func(tx attendee.Tx) error {
				return tx.PutAttendee(sample("a1", "", ""))
			})
			assert.ErrorIs(t, err, errReadOnly)
		})
	}
}

func TestFileStoreLockTimeout(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "attendees.json"), 100*time.Millisecond, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(filepath.Dir(s.Path()), "attendees.lock"), s.lockPath)

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.Update(context.Background(), func(attendee.Tx) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	err = s.Update(context.Background(), func(attendee.Tx) error { return nil })
	assert.ErrorIs(t, err, attendee.ErrLockTimeout)

	close(release)
	require.NoError(t, <-done)
	assert.NoError(t, s.Update(context.Background(), func(attendee.Tx) error { return nil }))
}

func TestFileStoreCorruptFile(t *testing.T) {
	s := newFileStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0o644))

	err := s.View(context.Background(), func(tx attendee.Tx) error {
		all, err := tx.Attendees()
		require.NoError(t, err)
		assert.Empty(t, all)
		return nil
	})
	require.NoError(t, err)

	err = s.Update(context.Background(), func(tx attendee.Tx) error {
		return tx.PutAttendee(sample("a1", "", ""))
	})
	assert.ErrorIs(t, err, attendee.ErrTransaction)

	raw, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(raw))
}

func TestFileStoreUpgradesLegacyRecords(t *testing.T) {
	s := newFileStore(t)
	legacy := `{"attendees":[
		{"id":"1","firstName":"A","lastName":"B","email":"a@b.co","photoTime":"18:30","isPhotoTaken":true,"lastUpdated":"2025-05-01T19:00:00Z"},
		{"id":"2","firstName":"C","lastName":"D","photoTime":"19:00","isPhotoTaken":false},
		{"id":"3","firstName":"E","lastName":"F","photoTime":"","isPhotoTaken":false}
	]}`
	require.NoError(t, os.WriteFile(s.Path(), []byte(legacy), 0o644))

	require.NoError(t, s.View(context.Background(), func(tx attendee.Tx) error {
		a, err := tx.Attendee("1")
		require.NoError(t, err)
		assert.Equal(t, "18:30", a.PhotographyTimeSlot)
		assert.Equal(t, attendee.StatusCompleted, a.PhotographyStatus)
		require.NotNil(t, a.PhotographyCompletedAt)

		b, err := tx.Attendee("2")
		require.NoError(t, err)
		assert.Equal(t, attendee.StatusScheduled, b.PhotographyStatus)

		c, err := tx.Attendee("3")
		require.NoError(t, err)
		assert.Equal(t, attendee.StatusNone, c.PhotographyStatus)
		assert.NotNil(t, c.Children)
		return nil
	}))
}

func TestFileStoreWritesLegacyFields(t *testing.T) {
	s := newFileStore(t)
	a := sample("a1", "", "20:00")
	put(t, s, a)

	raw, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"photoTime": "20:00"`)
	assert.Contains(t, string(raw), `"isPhotoTaken": false`)
	assert.Contains(t, string(raw), `"photoSessions": []`)
}

func TestFileStoreCancelledContextDoesNotWrite(t *testing.T) {
	s := newFileStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	err := s.Update(ctx, func(tx attendee.Tx) error {
		cancel()
		return tx.PutAttendee(sample("a1", "", ""))
	})
	assert.ErrorIs(t, err, context.Canceled)
	_, statErr := os.Stat(s.Path())
	assert.True(t, os.IsNotExist(statErr))
}

func TestMigrationVersion(t *testing.T) {
	ctx := context.Background()
	db, err := NewDB(ctx, "sqlite", filepath.Join(t.TempDir(), "v.db"))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Migrate(ctx, db))
	v, err := MigrationVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestSQLiteReadsDoNotWaitForWriter(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	put(t, s, sample("a1", "ada@example.com", "18:00"))

	err := s.Update(ctx, func(tx attendee.Tx) error {
		if err := tx.PutAttendee(sample("a2", "bea@example.com", "")); err != nil {
			return err
		}
		readCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return s.View(readCtx, func(rtx attendee.Tx) error {
			all, err := rtx.Attendees()
			if err != nil {
				return err
			}
			assert.Len(t, all, 1, "readers see the last committed state")
			return nil
		})
	})
	require.NoError(t, err)

	require.NoError(t, s.View(ctx, func(tx attendee.Tx) error {
		all, err := tx.Attendees()
		require.NoError(t, err)
		assert.Len(t, all, 2)
		return nil
	}))
}

func TestDialects(t *testing.T) {
	pg, err := DialectFor("postgres")
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", pg.RewriteQuery("SELECT * FROM t WHERE a = ? AND b = ?"))
	assert.Equal(t, "pgx", pg.DriverName())

	my, err := DialectFor("mysql")
	require.NoError(t, err)
	assert.Equal(t, "u:p@tcp(db:3306)/checkin?parseTime=true", my.DSN("u:p@tcp(db:3306)/checkin"))
	assert.Equal(t, "u:p@tcp(db:3306)/checkin?tls=true&parseTime=true", my.DSN("u:p@tcp(db:3306)/checkin?tls=true"))
	assert.Equal(t, "x?parseTime=false", my.DSN("x?parseTime=false"))

	lite, err := DialectFor("sqlite")
	require.NoError(t, err)
	assert.Empty(t, lite.LockStatement())
	assert.Contains(t, lite.DSN("/tmp/x.db"), "_txlock=immediate")
	assert.Contains(t, lite.ReaderDSN("/tmp/x.db"), "_txlock=deferred")
	assert.Equal(t, "/tmp/x.db?mode=rwc&_txlock=deferred&_foreign_keys=on&_busy_timeout=5000", lite.ReaderDSN("/tmp/x.db?mode=rwc"))
	assert.Empty(t, pg.ReaderDSN("postgres://db/checkin"))
	assert.Empty(t, my.ReaderDSN("u:p@tcp(db:3306)/checkin"))

	_, err = DialectFor("oracle")
	assert.Error(t, err)
}
