// Package journal keeps a SQLite record of a starfield run: one row per
// session, periodic frame statistics, and the life of every constellation.
package journal

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/starfield/internal/monitoring"
	"github.com/banshee-data/starfield/internal/sky/feature"
	"github.com/banshee-data/starfield/internal/sky/heaven"
	"github.com/banshee-data/starfield/internal/timeutil"
	"github.com/banshee-data/starfield/internal/version"
)

// ErrNoSession is returned by writes made before StartSession.
var ErrNoSession = errors.New("journal: no session started")

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA foreign_keys=ON",
}

// FrameStats is one sampled frame.
type FrameStats struct {
	SessionID      string    `json:"session_id"`
	Index          int64     `json:"frame_index"`
	Active         int       `json:"active"`
	Stars          int       `json:"stars"`
	MeshEdges      int       `json:"mesh_edges"`
	Constellations int       `json:"constellations"`
	OffsetX        float64   `json:"offset_x"`
	OffsetY        float64   `json:"offset_y"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// ConstellationRecord is the journaled life of one constellation.
type ConstellationRecord struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"session_id"`
	Name        string          `json:"name"`
	StarCount   int             `json:"star_count"`
	EdgeCount   int             `json:"edge_count"`
	Edges       [][2]feature.ID `json:"edges"`
	FormedAt    time.Time       `json:"formed_at"`
	DissolvedAt *time.Time      `json:"dissolved_at,omitempty"`
	Reason      string          `json:"reason,omitempty"`
}

// Journal is safe for concurrent use.
type Journal struct {
	db    *sql.DB
	clock timeutil.Clock

	mu      sync.Mutex
	session string
}

// Open opens or creates the database at path and migrates it to the
// latest schema.
func Open(path string, clock timeutil.Clock) (*Journal, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("journal %q: %w", p, err)
		}
	}

	j := &Journal{db: db, clock: clock}
	if err := j.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// Close closes the database.
func (j *Journal) Close() error { return j.db.Close() }

// StartSession opens a new session and makes it current.
func (j *Journal) StartSession(notes string) (string, error) {
	id := uuid.New().String()
	err := retryOnBusy(func() error {
		_, err := j.db.Exec(`INSERT INTO sessions (session_id, started_at, notes, build) VALUES (?, ?, ?, ?)`,
			id, j.clock.Now().UnixNano(), notes, version.String())
		return err
	})
	if err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}
	j.mu.Lock()
	j.session = id
	j.mu.Unlock()
	monitoring.Logf("[Journal] session %s started", id)
	return id, nil
}

// Session returns the current session ID, or "" before StartSession.
func (j *Journal) Session() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.session
}

func (j *Journal) currentSession() (string, error) {
	s := j.Session()
	if s == "" {
		return "", ErrNoSession
	}
	return s, nil
}

// RecordFrame stores one frame sample in the current session. The
// session ID and time on stats are filled in.
func (j *Journal) RecordFrame(stats FrameStats) error {
	session, err := j.currentSession()
	if err != nil {
		return err
	}
	now := j.clock.Now()
	return retryOnBusy(func() error {
		_, err := j.db.Exec(`
			INSERT OR REPLACE INTO frames (
				session_id, frame_index, active, stars, mesh_edges,
				constellations, offset_x, offset_y, recorded_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			session, stats.Index, stats.Active, stats.Stars, stats.MeshEdges,
			stats.Constellations, stats.OffsetX, stats.OffsetY, now.UnixNano(),
		)
		return err
	})
}

// ConstellationFormed records c. Errors are logged, not returned.
func (j *Journal) ConstellationFormed(c *heaven.Constellation) {
	session, err := j.currentSession()
	if err != nil {
		monitoring.Logf("[Journal] dropping constellation %q: %v", c.Name, err)
		return
	}
	edges, err := json.Marshal(c.Edges())
	if err != nil {
		monitoring.Logf("[Journal] encode edges of %q: %v", c.Name, err)
		return
	}
	err = retryOnBusy(func() error {
		_, err := j.db.Exec(`
			INSERT INTO constellations (
				constellation_id, session_id, name, star_count, edge_count,
				edges_json, formed_at
			) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.ID.String(), session, c.Name, len(c.Stars()), c.EdgeCount(),
			string(edges), c.Created.UnixNano(),
		)
		return err
	})
	if err != nil {
		monitoring.Logf("[Journal] record constellation %q: %v", c.Name, err)
	}
}

// ConstellationDissolved stamps the end of c. Errors are logged.
func (j *Journal) ConstellationDissolved(c *heaven.Constellation, reason heaven.Reason) {
	err := retryOnBusy(func() error {
		_, err := j.db.Exec(`UPDATE constellations SET dissolved_at = ?, reason = ? WHERE constellation_id = ?`,
			j.clock.Now().UnixNano(), reason.String(), c.ID.String())
		return err
	})
	if err != nil {
		monitoring.Logf("[Journal] dissolve constellation %q: %v", c.Name, err)
	}
}

// Constellations returns up to limit records from the current session,
// newest first. A non-positive limit means 100.
func (j *Journal) Constellations(limit int) ([]ConstellationRecord, error) {
	session, err := j.currentSession()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := j.db.Query(`
		SELECT constellation_id, session_id, name, star_count, edge_count,
		       edges_json, formed_at, dissolved_at, reason
		FROM constellations
		WHERE session_id = ?
		ORDER BY formed_at DESC, rowid DESC
		LIMIT ?`, session, limit)
	if err != nil {
		return nil, fmt.Errorf("query constellations: %w", err)
	}
	defer rows.Close()

	var out []ConstellationRecord
	for rows.Next() {
		var (
			r         ConstellationRecord
			edges     string
			formed    int64
			dissolved sql.NullInt64
			reason    sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Name, &r.StarCount, &r.EdgeCount,
			&edges, &formed, &dissolved, &reason); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(edges), &r.Edges); err != nil {
			return nil, fmt.Errorf("decode edges of %q: %w", r.Name, err)
		}
		r.FormedAt = time.Unix(0, formed).UTC()
		if dissolved.Valid {
			t := time.Unix(0, dissolved.Int64).UTC()
			r.DissolvedAt = &t
		}
		r.Reason = reason.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// Frames returns up to limit frame samples from the current session,
// newest first. A non-positive limit means 100.
func (j *Journal) Frames(limit int) ([]FrameStats, error) {
	session, err := j.currentSession()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := j.db.Query(`
		SELECT session_id, frame_index, active, stars, mesh_edges,
		       constellations, offset_x, offset_y, recorded_at
		FROM frames
		WHERE session_id = ?
		ORDER BY frame_index DESC
		LIMIT ?`, session, limit)
	if err != nil {
		return nil, fmt.Errorf("query frames: %w", err)
	}
	defer rows.Close()

	var out []FrameStats
	for rows.Next() {
		var (
			s  FrameStats
			at int64
		)
		if err := rows.Scan(&s.SessionID, &s.Index, &s.Active, &s.Stars, &s.MeshEdges,
			&s.Constellations, &s.OffsetX, &s.OffsetY, &at); err != nil {
			return nil, err
		}
		s.RecordedAt = time.Unix(0, at).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

// retryOnBusy retries f while SQLite reports the database locked.
func retryOnBusy(f func() error) error {
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		err = f()
		if err == nil || !isBusy(err) {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 20 * time.Millisecond)
	}
	return err
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
