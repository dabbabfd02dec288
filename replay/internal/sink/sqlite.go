package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/domreplay/dbopen"
	"github.com/hazyhaar/domreplay/event"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	page_id    TEXT NOT NULL,
	page_url   TEXT NOT NULL,
	scripts    INTEGER NOT NULL,
	steps      INTEGER NOT NULL,
	node_count INTEGER NOT NULL,
	status     TEXT NOT NULL,
	error      TEXT NOT NULL DEFAULT '',
	started    INTEGER NOT NULL,
	finished   INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS steps (
	id           TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL,
	seq          INTEGER NOT NULL,
	script_type  TEXT NOT NULL,
	payload      TEXT NOT NULL,
	payload_hash TEXT NOT NULL,
	node_count   INTEGER NOT NULL,
	ts           INTEGER NOT NULL,
	UNIQUE (run_id, seq)
);
CREATE TABLE IF NOT EXISTS changes (
	step_id    TEXT NOT NULL REFERENCES steps(id) ON DELETE CASCADE,
	idx        INTEGER NOT NULL,
	type       TEXT NOT NULL,
	op         TEXT NOT NULL,
	path       TEXT NOT NULL,
	attributes TEXT NOT NULL DEFAULT '',
	delta      TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (step_id, idx)
);
CREATE INDEX IF NOT EXISTS idx_changes_path ON changes(path);
`

// SQLite stores runs, steps and their changes in a local database.
type SQLite struct {
	db    *sql.DB
	owned bool
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(schema))
	if err != nil {
		return nil, fmt.Errorf("sqlite sink: %w", err)
	}
	return &SQLite{db: db, owned: true}, nil
}

// NewSQLite writes into an already-open database. The caller keeps
// ownership of db.
func NewSQLite(db *sql.DB) (*SQLite, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("sqlite sink: schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) SendStep(ctx context.Context, step event.Step) error {
	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO steps
			(id, run_id, seq, script_type, payload, payload_hash, node_count, ts)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			step.ID, step.RunID, step.Seq, step.ScriptType, step.Payload,
			step.PayloadHash, step.NodeCount, step.Timestamp)
		if err != nil {
			return fmt.Errorf("sqlite sink: insert step: %w", err)
		}
		for i, c := range step.Changes {
			attrs, err := jsonColumn(c.Attributes, len(c.Attributes))
			if err != nil {
				return fmt.Errorf("sqlite sink: attributes: %w", err)
			}
			delta, err := jsonColumn(c.Delta, len(c.Delta))
			if err != nil {
				return fmt.Errorf("sqlite sink: delta: %w", err)
			}
			_, err = tx.ExecContext(ctx, `INSERT INTO changes
				(step_id, idx, type, op, path, attributes, delta) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				step.ID, i, c.Kind, c.Op, c.Path, attrs, delta)
			if err != nil {
				return fmt.Errorf("sqlite sink: insert change: %w", err)
			}
		}
		return nil
	})
}

// jsonColumn encodes v, or leaves the column empty when there is nothing.
func jsonColumn(v any, n int) (string, error) {
	if n == 0 {
		return "", nil
	}
	b, err := json.Marshal(v)
	return string(b), err
}

// SendRun upserts the run summary; the driver sends it once when the run
// starts and again when it ends.
func (s *SQLite) SendRun(ctx context.Context, run event.Run) error {
	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO runs
			(id, page_id, page_url, scripts, steps, node_count, status, error, started, finished)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				scripts = excluded.scripts,
				steps = excluded.steps,
				node_count = excluded.node_count,
				status = excluded.status,
				error = excluded.error,
				finished = excluded.finished`,
			run.ID, run.PageID, run.PageURL, run.Scripts, run.Steps, run.NodeCount,
			string(run.Status), run.Error, run.Started, run.Finished)
		if err != nil {
			return fmt.Errorf("sqlite sink: upsert run: %w", err)
		}
		return nil
	})
}

// Run loads one run summary.
func (s *SQLite) Run(ctx context.Context, id string) (*event.Run, error) {
	var r event.Run
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT id, page_id, page_url, scripts, steps,
		node_count, status, error, started, finished FROM runs WHERE id = ?`, id).
		Scan(&r.ID, &r.PageID, &r.PageURL, &r.Scripts, &r.Steps, &r.NodeCount,
			&status, &r.Error, &r.Started, &r.Finished)
	if err != nil {
		return nil, fmt.Errorf("sqlite sink: run %s: %w", id, err)
	}
	r.Status = event.Status(status)
	return &r, nil
}

// Steps loads the steps of a run in sequence order, changes included.
func (s *SQLite) Steps(ctx context.Context, runID string) ([]event.Step, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT s.id, s.seq, s.script_type, s.payload,
		s.payload_hash, s.node_count, s.ts, r.page_id, r.page_url
		FROM steps s LEFT JOIN runs r ON r.id = s.run_id
		WHERE s.run_id = ? ORDER BY s.seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("sqlite sink: steps: %w", err)
	}
	var steps []event.Step
	for rows.Next() {
		st := event.Step{RunID: runID}
		var pageID, pageURL sql.NullString
		if err := rows.Scan(&st.ID, &st.Seq, &st.ScriptType, &st.Payload,
			&st.PayloadHash, &st.NodeCount, &st.Timestamp, &pageID, &pageURL); err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlite sink: scan step: %w", err)
		}
		st.PageID, st.PageURL = pageID.String, pageURL.String
		steps = append(steps, st)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite sink: steps: %w", err)
	}

	for i := range steps {
		changes, err := s.changes(ctx, steps[i].ID)
		if err != nil {
			return nil, err
		}
		steps[i].Changes = changes
	}
	return steps, nil
}

func (s *SQLite) changes(ctx context.Context, stepID string) ([]event.Change, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT type, op, path, attributes, delta
		FROM changes WHERE step_id = ? ORDER BY idx`, stepID)
	if err != nil {
		return nil, fmt.Errorf("sqlite sink: changes: %w", err)
	}
	defer rows.Close()

	out := []event.Change{}
	for rows.Next() {
		var c event.Change
		var attrs, delta string
		if err := rows.Scan(&c.Kind, &c.Op, &c.Path, &attrs, &delta); err != nil {
			return nil, fmt.Errorf("sqlite sink: scan change: %w", err)
		}
		if attrs != "" {
			if err := json.Unmarshal([]byte(attrs), &c.Attributes); err != nil {
				return nil, fmt.Errorf("sqlite sink: attributes: %w", err)
			}
		}
		if delta != "" {
			if err := json.Unmarshal([]byte(delta), &c.Delta); err != nil {
				return nil, fmt.Errorf("sqlite sink: delta: %w", err)
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Close closes the database if the sink opened it.
func (s *SQLite) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}
