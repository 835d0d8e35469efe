// Package db stores runs and their events in sqlite.
package db

import (
	"compress/gzip"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/AaronTheNerd/csce274-project1/internal/eventlog"
)

// DefaultEventLimit caps Events when no limit is given.
const DefaultEventLimit = 500

// ErrUnknownRun is returned when a run ID does not exist.
var ErrUnknownRun = errors.New("unknown run")

// Applied to every pooled connection.
var pragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"temp_store(MEMORY)",
	"foreign_keys(1)",
}

type DB struct {
	*sql.DB
	path string
	now  func() time.Time
}

// NewDB opens (creating if needed) the database at path and migrates it to
// the latest schema.
func NewDB(path string) (*DB, error) {
	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	db, err := sql.Open("sqlite", path+"?"+q.Encode())
	if err != nil {
		return nil, err
	}

	d := &DB{DB: db, path: path, now: time.Now}
	if err := d.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// Run is one behaviour execution.
type Run struct {
	ID         string     `json:"run_id"`
	Behaviour  string     `json:"behaviour"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Outcome    string     `json:"outcome,omitempty"`
	Distance   int64      `json:"distance_mm"`
	Angle      int        `json:"angle_deg"`
}

// StartRun creates a run and returns its ID.
func (db *DB) StartRun(behaviour string) (string, error) {
	id := uuid.NewString()
	_, err := db.Exec(`INSERT INTO runs (run_id, behaviour, started_ns) VALUES (?, ?, ?)`,
		id, behaviour, db.now().UnixNano())
	if err != nil {
		return "", fmt.Errorf("failed to start run: %w", err)
	}
	return id, nil
}

// FinishRun stamps a run with its outcome and final odometry.
func (db *DB) FinishRun(id, outcome string, distance int64, angle int) error {
	res, err := db.Exec(`UPDATE runs SET finished_ns = ?, outcome = ?, distance_mm = ?, angle_deg = ? WHERE run_id = ?`,
		db.now().UnixNano(), outcome, distance, angle, id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownRun, id)
	}
	return nil
}

// Record implements eventlog.Sink.
func (db *DB) Record(e eventlog.Event) error {
	var runID any
	if e.RunID != "" {
		runID = e.RunID
	}
	t := e.Time
	if t.IsZero() {
		t = db.now()
	}
	_, err := db.Exec(`INSERT INTO events (run_id, time_ns, kind, detail, distance_mm, angle_deg) VALUES (?, ?, ?, ?, ?, ?)`,
		runID, t.UnixNano(), string(e.Kind), e.Detail, e.Distance, e.Angle)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

var _ eventlog.Sink = (*DB)(nil)

// Events returns the most recent events, newest first. An empty runID
// returns events from every run.
func (db *DB) Events(runID string, limit int) ([]eventlog.Event, error) {
	if limit <= 0 {
		limit = DefaultEventLimit
	}
	query := `SELECT COALESCE(run_id, ''), time_ns, kind, detail, distance_mm, angle_deg FROM events`
	args := []any{}
	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY time_ns DESC, event_id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []eventlog.Event{}
	for rows.Next() {
		var e eventlog.Event
		var ns int64
		var kind string
		if err := rows.Scan(&e.RunID, &ns, &kind, &e.Detail, &e.Distance, &e.Angle); err != nil {
			return nil, err
		}
		e.Time = time.Unix(0, ns).UTC()
		e.Kind = eventlog.Kind(kind)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// Runs returns the most recent runs, newest first.
func (db *DB) Runs(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultEventLimit
	}
	rows, err := db.Query(`SELECT run_id, behaviour, started_ns, finished_ns, COALESCE(outcome, ''), distance_mm, angle_deg
		FROM runs ORDER BY started_ns DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var r Run
		var started int64
		var finished sql.NullInt64
		if err := rows.Scan(&r.ID, &r.Behaviour, &started, &finished, &r.Outcome, &r.Distance, &r.Angle); err != nil {
			return nil, err
		}
		r.StartedAt = time.Unix(0, started).UTC()
		if finished.Valid {
			t := time.Unix(0, finished.Int64).UTC()
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	// create a tailSQL instance and point it to our DB
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(db.path), db.DB, &tailsql.DBOptions{
		Label: "Roomba runs",
	})

	// mount the tailSQL server on the debug /tailsql path
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := fmt.Sprintf("backup-%d.db", db.now().Unix())
		backupPath := filepath.Join(os.TempDir(), name)
		if _, err := db.DB.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}

		// close the backup file after sending it
		// and remove it from the filesystem
		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				log.Printf("Failed to remove backup file: %v", err)
			}
		}()

		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", name))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()
		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			log.Printf("Failed to write backup file: %v", err)
		}
	}))
}
