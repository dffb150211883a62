package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/browserwing/testingdriver/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *BoltDB {
	t.Helper()
	db, err := NewBoltDB(filepath.Join(t.TempDir(), "nested", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSessionRoundTrip(t *testing.T) {
	db := openTestDB(t)
	rec := &models.SessionRecord{
		ID:      "s1",
		Browser: models.BrowserChrome,
		PID:     4242,
		State:   models.SessionReady,
		Transitions: []models.StateTransition{
			{From: models.SessionUnstarted, To: models.SessionInstantiating},
		},
	}

	require.NoError(t, db.SaveSession(rec))
	assert.False(t, rec.CreatedAt.IsZero())

	rec.State = models.SessionTerminated
	require.NoError(t, db.SaveSession(rec))

	got, err := db.GetSession("s1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionTerminated, got.State)
	assert.Equal(t, 4242, got.PID)
	assert.Len(t, got.Transitions, 1)

	_, err = db.GetSession("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListSessionsNewestFirst(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "new", "mid"} {
		offset := map[string]time.Duration{"old": 0, "mid": time.Hour, "new": 2 * time.Hour}[id]
		require.NoError(t, db.SaveSession(&models.SessionRecord{ID: id, CreatedAt: base.Add(offset), PID: i}))
	}

	sessions, err := db.ListSessions()
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	assert.Equal(t, "new", sessions[0].ID)
	assert.Equal(t, "mid", sessions[1].ID)
	assert.Equal(t, "old", sessions[2].ID)
}

func TestScreenshotsFilteredBySession(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.SaveScreenshot(&models.ScreenshotRecord{ID: "a", SessionID: "s1", Path: "a.png"}))
	require.NoError(t, db.SaveScreenshot(&models.ScreenshotRecord{ID: "b", SessionID: "s2", Path: "b.png"}))
	require.NoError(t, db.SaveScreenshot(&models.ScreenshotRecord{ID: "c", SessionID: "s1", Path: "c.png"}))

	all, err := db.ListScreenshots("")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	s1, err := db.ListScreenshots("s1")
	require.NoError(t, err)
	assert.Len(t, s1, 2)

	got, err := db.GetScreenshot("b")
	require.NoError(t, err)
	assert.Equal(t, "b.png", got.Path)
}

func TestDeleteSessionRemovesScreenshots(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.SaveSession(&models.SessionRecord{ID: "s1"}))
	require.NoError(t, db.SaveScreenshot(&models.ScreenshotRecord{ID: "a", SessionID: "s1"}))
	require.NoError(t, db.SaveScreenshot(&models.ScreenshotRecord{ID: "b", SessionID: "s2"}))

	require.NoError(t, db.DeleteSession("s1"))

	_, err := db.GetSession("s1")
	assert.ErrorIs(t, err, ErrNotFound)
	left, err := db.ListScreenshots("")
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "b", left[0].ID)
}
