// Package recorder stores per-cycle estimation results in a SQLite file for
// offline tuning.
package recorder

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// Record is the outcome of one estimation cycle.
type Record struct {
	Seq        uint64        `json:"seq"`
	Captured   time.Time     `json:"captured"`
	Angle      float64       `json:"angle"`
	AX         float32       `json:"a_x"`
	AY         float32       `json:"a_y"`
	AShapes    int           `json:"a_shapes"`
	AFallback  bool          `json:"a_fallback"`
	BX         float32       `json:"b_x"`
	BY         float32       `json:"b_y"`
	BShapes    int           `json:"b_shapes"`
	BFallback  bool          `json:"b_fallback"`
	MidX       float32       `json:"mid_x"`
	MidY       float32       `json:"mid_y"`
	Separation float32       `json:"separation"`
	Lateral    float64       `json:"lateral"`
	Duration   time.Duration `json:"duration_ns"`
}

// Run describes one recording session.
type Run struct {
	ID      string    `json:"id"`
	Started time.Time `json:"started"`
	Config  string    `json:"config"`
	Cycles  int       `json:"cycles"`
}

// Store is a SQLite-backed recorder. Each Open starts a new run.
type Store struct {
	*sql.DB
	runID string
}

// Open creates or opens the database at path and registers a new run.
//
// Arguments:
//   - path: SQLite file path.
//   - config: The effective configuration, stored with the run for reference.
//
// Returns:
//   - *Store: The open store.
//   - error: If the database cannot be opened or migrated.
func Open(path string, config []byte) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			started_ns BIGINT,
			config TEXT
		);
		CREATE TABLE IF NOT EXISTS cycles (
			run_id TEXT,
			seq BIGINT,
			captured_ns BIGINT,
			angle DOUBLE,
			a_x DOUBLE,
			a_y DOUBLE,
			a_shapes INTEGER,
			a_fallback BOOLEAN,
			b_x DOUBLE,
			b_y DOUBLE,
			b_shapes INTEGER,
			b_fallback BOOLEAN,
			mid_x DOUBLE,
			mid_y DOUBLE,
			separation DOUBLE,
			lateral DOUBLE,
			duration_ns BIGINT,
			FOREIGN KEY(run_id) REFERENCES runs(run_id)
		);
		CREATE INDEX IF NOT EXISTS cycles_run_seq ON cycles (run_id, seq);
	`)
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "migrate recorder schema")
	}

	s := &Store{DB: db, runID: uuid.New().String()}
	if _, err := db.Exec("INSERT INTO runs (run_id, started_ns, config) VALUES (?, ?, ?)",
		s.runID, time.Now().UnixNano(), string(config)); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "register run")
	}
	return s, nil
}

// RunID identifies the run cycles are recorded under.
func (s *Store) RunID() string {
	return s.runID
}

// Record appends one cycle to the current run.
func (s *Store) Record(ctx context.Context, r Record) error {
	_, err := s.ExecContext(ctx, `
		INSERT INTO cycles (run_id, seq, captured_ns, angle, a_x, a_y, a_shapes, a_fallback,
			b_x, b_y, b_shapes, b_fallback, mid_x, mid_y, separation, lateral, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.runID, int64(r.Seq), r.Captured.UnixNano(), r.Angle,
		float64(r.AX), float64(r.AY), r.AShapes, r.AFallback,
		float64(r.BX), float64(r.BY), r.BShapes, r.BFallback,
		float64(r.MidX), float64(r.MidY), float64(r.Separation), r.Lateral, int64(r.Duration),
	)
	return errors.Wrapf(err, "record cycle %d", r.Seq)
}

// Recent returns up to limit cycles of the current run, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT seq, captured_ns, angle, a_x, a_y, a_shapes, a_fallback,
			b_x, b_y, b_shapes, b_fallback, mid_x, mid_y, separation, lateral, duration_ns
		FROM cycles WHERE run_id = ? ORDER BY seq DESC LIMIT ?`, s.runID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query cycles")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r                                Record
			seq, captured, duration          int64
			ax, ay, bx, by, midX, midY, sep float64
		)
		if err := rows.Scan(&seq, &captured, &r.Angle, &ax, &ay, &r.AShapes, &r.AFallback,
			&bx, &by, &r.BShapes, &r.BFallback, &midX, &midY, &sep, &r.Lateral, &duration); err != nil {
			return nil, errors.Wrap(err, "scan cycle")
		}
		r.Seq = uint64(seq)
		r.Captured = time.Unix(0, captured)
		r.AX, r.AY = float32(ax), float32(ay)
		r.BX, r.BY = float32(bx), float32(by)
		r.MidX, r.MidY = float32(midX), float32(midY)
		r.Separation = float32(sep)
		r.Duration = time.Duration(duration)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate cycles")
	}
	return out, nil
}

// Runs lists every recorded run with its cycle count, oldest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT r.run_id, r.started_ns, r.config, COUNT(c.seq)
		FROM runs r LEFT JOIN cycles c ON c.run_id = r.run_id
		GROUP BY r.run_id ORDER BY r.started_ns, r.rowid`)
	if err != nil {
		return nil, errors.Wrap(err, "query runs")
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r       Run
			started int64
		)
		if err := rows.Scan(&r.ID, &started, &r.Config, &r.Cycles); err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		r.Started = time.Unix(0, started)
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "iterate runs")
}
