package db

import (
	"time"

	"github.com/loomci/loom/engine"
	"github.com/loomci/loom/notifier"
)

type RunStatus string

var (
	RunPending RunStatus = "pending"
	RunRunning RunStatus = "running"
	RunFailed  RunStatus = "failed"
	RunAborted RunStatus = "aborted"
	RunSuccess RunStatus = "success"
)

type Run struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Status   RunStatus `json:"status"`
	Created  string    `json:"created"`
	Finished string    `json:"finished"`
}

type InstanceRow struct {
	Instance   string `json:"instance"`
	Status     string `json:"status"`
	Cause      string `json:"cause"`
	Error      string `json:"error"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at"`
}

func (db *DB) CreateRun(id, name string, n *notifier.Notifier) error {
	_, err := db.Exec(`
		insert into runs (id, name, status)
		values (?, ?, ?)
	`, id, name, RunPending)
	if err != nil {
		return err
	}

	notify(n, id, RunPending)
	return nil
}

func (db *DB) MarkRunRunning(id string, n *notifier.Notifier) error {
	_, err := db.Exec(`
		update runs set status = ? where id = ?
	`, RunRunning, id)
	if err != nil {
		return err
	}

	notify(n, id, RunRunning)
	return nil
}

func (db *DB) FinishRun(id string, status RunStatus, n *notifier.Notifier) error {
	_, err := db.Exec(`
		update runs
		set status = ?, finished = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		where id = ?
	`, status, id)
	if err != nil {
		return err
	}

	notify(n, id, status)
	return nil
}

// RecordReport persists every instance and step result of a finished
// run in one transaction.
func (db *DB) RecordReport(runID string, report *engine.Report) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, res := range report.Results {
		var errMsg string
		if res.Err != nil {
			errMsg = res.Err.Error()
		}

		_, err := tx.Exec(`
			insert into job_instances (run_id, instance, status, cause, error, started_at, finished_at)
			values (?, ?, ?, ?, ?, ?, ?)
		`, runID, res.ID, res.State.String(), res.Cause, errMsg, timestamp(res.StartedAt), timestamp(res.FinishedAt))
		if err != nil {
			return err
		}

		for idx, step := range res.Steps {
			_, err := tx.Exec(`
				insert into step_results (run_id, instance, idx, name, exit_code, skipped, cache_hit, output)
				values (?, ?, ?, ?, ?, ?, ?, ?)
			`, runID, res.ID, idx, step.Name, step.ExitCode, step.Skipped, step.CacheHit, step.Output)
			if err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

func (db *DB) GetRun(id string) (Run, error) {
	var r Run
	var finished *string
	err := db.QueryRow(`
		select id, name, status, created, finished
		from runs
		where id = ?
	`, id).Scan(&r.ID, &r.Name, &r.Status, &r.Created, &finished)
	if finished != nil {
		r.Finished = *finished
	}
	return r, err
}

// RunSummary returns the per-instance terminal records of a run, in
// insertion (definition) order.
func (db *DB) RunSummary(runID string) ([]InstanceRow, error) {
	rows, err := db.Query(`
		select instance, status, cause, error, started_at, finished_at
		from job_instances
		where run_id = ?
		order by id asc
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summary []InstanceRow
	for rows.Next() {
		var row InstanceRow
		var cause, errMsg, started, finished *string
		if err := rows.Scan(&row.Instance, &row.Status, &cause, &errMsg, &started, &finished); err != nil {
			return nil, err
		}
		row.Cause = deref(cause)
		row.Error = deref(errMsg)
		row.StartedAt = deref(started)
		row.FinishedAt = deref(finished)
		summary = append(summary, row)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return summary, nil
}

func notify(n *notifier.Notifier, id string, status RunStatus) {
	if n != nil {
		n.Publish(notifier.Event{Kind: "run", ID: id, Status: string(status)})
	}
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
