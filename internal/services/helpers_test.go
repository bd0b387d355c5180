package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Wanchah/EcoEdu/internal/database"
	"github.com/Wanchah/EcoEdu/internal/models"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.NewDB("sqlite3", filepath.Join(t.TempDir(), "ecoedu.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// fixedClock returns a clock that can be moved forward from tests.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(t time.Time) *fixedClock { return &fixedClock{now: t} }

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

// recordingAwarder counts awards without touching storage.
type recordingAwarder struct {
	mu     sync.Mutex
	awards []int
	fail   bool
}

func (a *recordingAwarder) Award(_ context.Context, userID string, kind models.ActionKind, explicitAmount int) *models.LedgerEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail {
		return nil
	}
	a.awards = append(a.awards, RewardFor(kind, explicitAmount))
	return &models.LedgerEntry{UserID: userID}
}

func (a *recordingAwarder) total() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	sum := 0
	for _, n := range a.awards {
		sum += n
	}
	return sum
}
