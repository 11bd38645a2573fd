package snapshot

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/example/trip-sync/internal/models"
)

// SchemaVersion is the version written with every snapshot. Load migrates
// older snapshots forward before decoding.
const SchemaVersion = 2

// State is everything a client needs to resume after a restart.
type State struct {
	SchemaVersion int                       `json:"schema_version"`
	Status        models.TripStatus         `json:"status,omitempty"`
	Trip          *models.Trip              `json:"trip,omitempty"`
	ActorRole     models.Role               `json:"actor_role"`
	ActorID       string                    `json:"actor_id"`
	Version       int64                     `json:"version"`
	OfflineQueue  []models.OfflineQueueItem `json:"offline_queue,omitempty"`
}

// Store persists one State record in a local SQLite file so it survives
// process restarts.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS snapshot (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Save(st State) error {
	st.SchemaVersion = SchemaVersion
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO snapshot(key, value) VALUES('state', $1)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value`, string(b))
	return err
}

// Load returns the persisted state, migrated to the current schema.
// The second return is false when no snapshot exists. Snapshots left
// behind by a trip that already reached a terminal status are discarded.
func (s *Store) Load() (State, bool, error) {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM snapshot WHERE key='state'`).Scan(&raw)
	if err == sql.ErrNoRows {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, err
	}

	migrated, err := migrate([]byte(raw))
	if err != nil {
		return State{}, false, err
	}
	var st State
	if err := json.Unmarshal(migrated, &st); err != nil {
		return State{}, false, err
	}
	if st.Status.Terminal() {
		_ = s.Clear()
		return State{}, false, nil
	}
	return st, true, nil
}

func (s *Store) Clear() error {
	_, err := s.db.Exec(`DELETE FROM snapshot WHERE key='state'`)
	return err
}

// migrations maps a schema version to the function that lifts a raw
// snapshot document one version forward.
var migrations = map[int]func(doc map[string]any){
	1: func(doc map[string]any) {
		// v1 kept the trip under "trip_details" and had no offline queue.
		if td, ok := doc["trip_details"]; ok {
			doc["trip"] = td
			delete(doc, "trip_details")
		}
		if _, ok := doc["offline_queue"]; !ok {
			doc["offline_queue"] = []any{}
		}
	},
}

func migrate(raw []byte) ([]byte, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	ver := 1
	if v, ok := doc["schema_version"].(float64); ok {
		ver = int(v)
	}
	if ver > SchemaVersion {
		return nil, fmt.Errorf("snapshot schema %d newer than supported %d", ver, SchemaVersion)
	}
	for ; ver < SchemaVersion; ver++ {
		step, ok := migrations[ver]
		if !ok {
			return nil, fmt.Errorf("no migration from snapshot schema %d", ver)
		}
		step(doc)
	}
	doc["schema_version"] = SchemaVersion
	return json.Marshal(doc)
}
