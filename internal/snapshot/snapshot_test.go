package snapshot

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/trip-sync/internal/models"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "snap.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := openTemp(t)

	in := State{
		Status:    models.StatusAccepted,
		Trip:      &models.Trip{ID: "t1", Status: models.StatusAccepted, Version: 2, RequesterID: "r1"},
		ActorRole: models.RoleRequester,
		ActorID:   "r1",
		Version:   2,
		OfflineQueue: []models.OfflineQueueItem{
			{ID: "q1", Action: "update"},
		},
	}
	require.NoError(t, s.Save(in))

	out, ok, err := s.Load()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, SchemaVersion, out.SchemaVersion)
	require.Equal(t, "t1", out.Trip.ID)
	require.EqualValues(t, 2, out.Trip.Version)
	require.Equal(t, models.RoleRequester, out.ActorRole)
	require.Len(t, out.OfflineQueue, 1)
}

func TestSaveOverwritesPrevious(t *testing.T) {
	s := openTemp(t)

	require.NoError(t, s.Save(State{Trip: &models.Trip{ID: "a", Version: 1}, ActorID: "r1"}))
	require.NoError(t, s.Save(State{Trip: &models.Trip{ID: "a", Version: 3}, ActorID: "r1"}))

	out, ok, err := s.Load()
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 3, out.Trip.Version)
}

func TestLoadMissing(t *testing.T) {
	s := openTemp(t)
	_, ok, err := s.Load()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTerminalSnapshotDiscardedOnLoad(t *testing.T) {
	s := openTemp(t)
	require.NoError(t, s.Save(State{
		Status:  models.StatusCompleted,
		Trip:    &models.Trip{ID: "t1", Status: models.StatusCompleted, Version: 5},
		ActorID: "r1",
	}))

	_, ok, err := s.Load()
	require.NoError(t, err)
	require.False(t, ok)

	// the row is gone, not just skipped
	_, ok, err = s.Load()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMigratesLegacySnapshot(t *testing.T) {
	s := openTemp(t)

	// v1 documents carried no schema_version, used "trip_details" and
	// predate the offline queue
	legacy := `{"status":"ACCEPTED","trip_details":{"id":"t1","status":"ACCEPTED","version":2},"actor_role":"requester","actor_id":"r1","version":2}`
	_, err := s.db.Exec(`INSERT INTO snapshot(key, value) VALUES('state', $1)`, legacy)
	require.NoError(t, err)

	out, ok, err := s.Load()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, SchemaVersion, out.SchemaVersion)
	require.NotNil(t, out.Trip)
	require.Equal(t, "t1", out.Trip.ID)
	require.EqualValues(t, 2, out.Trip.Version)
	require.Empty(t, out.OfflineQueue)
}

func TestRejectsFutureSchema(t *testing.T) {
	s := openTemp(t)
	future := `{"schema_version":99,"actor_id":"r1"}`
	_, err := s.db.Exec(`INSERT INTO snapshot(key, value) VALUES('state', $1)`, future)
	require.NoError(t, err)

	_, _, err = s.Load()
	require.Error(t, err)
}
