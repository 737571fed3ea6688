package db

import (
	"database/sql"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	*sql.DB
}

func Make(dbPath string) (*DB, error) {
	// https://github.com/mattn/go-sqlite3#connection-string
	opts := []string{
		"_foreign_keys=1",
		"_journal_mode=WAL",
		"_synchronous=NORMAL",
		"_auto_vacuum=incremental",
	}

	db, err := sql.Open("sqlite3", dbPath+"?"+strings.Join(opts, "&"))
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		create table if not exists runs (
			id text primary key,
			name text not null,
			status text not null,
			created text not null default (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			finished text
		);

		-- terminal record for one expanded job instance
		create table if not exists job_instances (
			id integer primary key autoincrement,
			run_id text not null references runs(id),
			instance text not null,
			status text not null,
			cause text,
			error text,
			started_at text,
			finished_at text,

			unique (run_id, instance)
		);

		-- per-step exit codes and output references
		create table if not exists step_results (
			id integer primary key autoincrement,
			run_id text not null references runs(id),
			instance text not null,
			idx integer not null,
			name text not null,
			exit_code integer not null default 0,
			skipped integer not null default 0,
			cache_hit integer not null default 0,
			output text,

			unique (run_id, instance, idx)
		);
	`)
	if err != nil {
		return nil, err
	}

	return &DB{db}, nil
}
