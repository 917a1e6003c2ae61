package trace

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	_ "modernc.org/sqlite"
)

// flushEvery is the number of buffered event records written per transaction.
const flushEvery = 512

// Store persists traces of many runs in one SQLite database in WAL mode.
type Store struct {
	db *sql.DB
}

// RunInfo describes a stored run.
type RunInfo struct {
	ID      string
	Name    string
	Seed    int64
	Started time.Time
}

// OpenStore opens (or creates) the trace database at path.
func OpenStore(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open trace db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate trace db: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func retryOnContention(fn func() error) error {
	return retryOp(defaultRetryConfig, fn)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		seed       INTEGER NOT NULL,
		started_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		run_id      TEXT NOT NULL REFERENCES runs(id),
		seq         INTEGER NOT NULL,
		time        REAL NOT NULL,
		prio        INTEGER NOT NULL,
		description TEXT NOT NULL,
		pos         INTEGER NOT NULL,
		PRIMARY KEY (run_id, pos)
	);

	CREATE TABLE IF NOT EXISTS processes (
		run_id     TEXT NOT NULL REFERENCES runs(id),
		id         INTEGER NOT NULL,
		name       TEXT NOT NULL,
		state      TEXT NOT NULL,
		activated  REAL,
		terminated REAL,
		failure    TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (run_id, id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// NewRun registers a run and returns a Recorder writing into it.
func (s *Store) NewRun(name string, seed int64) (*SQLiteRecorder, error) {
	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	err := retryOnContention(func() error {
		_, err := s.db.Exec(`INSERT INTO runs (id, name, seed, started_at) VALUES (?, ?, ?, ?)`,
			id, name, seed, now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("register run %s: %w", name, err)
	}
	logrus.Debugf("trace: run %s registered as %s", name, id)
	return &SQLiteRecorder{store: s, runID: id}, nil
}

// Runs lists stored runs, oldest first.
func (s *Store) Runs() ([]RunInfo, error) {
	rows, err := s.db.Query(`SELECT id, name, seed, started_at FROM runs ORDER BY started_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var runs []RunInfo
	for rows.Next() {
		var r RunInfo
		var started string
		if err := rows.Scan(&r.ID, &r.Name, &r.Seed, &started); err != nil {
			return nil, err
		}
		if r.Started, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("run %s: bad start time %q: %w", r.ID, started, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Load reads a stored run back into memory.
func (s *Store) Load(runID string) (*SimulationTrace, error) {
	st := NewSimulationTrace()

	rows, err := s.db.Query(
		`SELECT seq, time, prio, description FROM events WHERE run_id = ? ORDER BY pos`, runID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var e EventRecord
		if err := rows.Scan(&e.Seq, &e.Time, &e.Prio, &e.Description); err != nil {
			rows.Close()
			return nil, err
		}
		st.Events = append(st.Events, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.Query(
		`SELECT id, name, state, activated, terminated, failure FROM processes WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var p ProcessRecord
		var activated, terminated sql.NullFloat64
		if err := rows.Scan(&p.ID, &p.Name, &p.State, &activated, &terminated, &p.Failure); err != nil {
			return nil, err
		}
		p.Activated = fromNull(activated)
		p.Terminated = fromNull(terminated)
		st.Processes = append(st.Processes, p)
	}
	return st, rows.Err()
}

// SQLiteRecorder is a Recorder writing one run into a Store. Event records
// are buffered and written in batches; Flush must be called after the run.
type SQLiteRecorder struct {
	store   *Store
	runID   string
	pending []EventRecord
	written int
}

// RunID returns the identifier of the run being recorded.
func (r *SQLiteRecorder) RunID() string { return r.runID }

// RecordEvent buffers an event record.
func (r *SQLiteRecorder) RecordEvent(e EventRecord) error {
	r.pending = append(r.pending, e)
	if len(r.pending) >= flushEvery {
		return r.Flush()
	}
	return nil
}

// RecordProcess writes a process record immediately.
func (r *SQLiteRecorder) RecordProcess(p ProcessRecord) error {
	return retryOnContention(func() error {
		_, err := r.store.db.Exec(
			`INSERT INTO processes (run_id, id, name, state, activated, terminated, failure)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.runID, p.ID, p.Name, p.State, toNull(p.Activated), toNull(p.Terminated), p.Failure)
		return err
	})
}

// Flush writes buffered event records in one transaction.
func (r *SQLiteRecorder) Flush() error {
	if len(r.pending) == 0 {
		return nil
	}
	err := retryOnContention(func() error {
		tx, err := r.store.db.Begin()
		if err != nil {
			return err
		}
		stmt, err := tx.Prepare(
			`INSERT INTO events (run_id, seq, time, prio, description, pos) VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			tx.Rollback()
			return err
		}
		defer stmt.Close()
		for i, e := range r.pending {
			if _, err := stmt.Exec(r.runID, e.Seq, e.Time, e.Prio, e.Description, r.written+i); err != nil {
				tx.Rollback()
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("flush %d events of run %s: %w", len(r.pending), r.runID, err)
	}
	r.written += len(r.pending)
	r.pending = r.pending[:0]
	return nil
}

func toNull(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: !math.IsNaN(v)}
}

func fromNull(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
