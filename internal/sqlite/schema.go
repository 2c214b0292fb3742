package sqlite

// Schema DDL. The database is rebuilt from the JSONL files on every attach.
const (
	createRuns = `CREATE TABLE runs (
    run_id TEXT PRIMARY KEY,
    command TEXT NOT NULL,
    root TEXT NOT NULL,
    mode TEXT,
    status TEXT NOT NULL,
    error TEXT,
    started_at TEXT NOT NULL,
    finished_at TEXT NOT NULL,
    summary TEXT
);`

	createFindings = `CREATE TABLE findings (
    finding_id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    kind TEXT NOT NULL,
    severity TEXT NOT NULL,
    split TEXT,
    stem TEXT,
    path TEXT,
    detail TEXT NOT NULL,
    FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);`
)

// Index DDL for history queries.
const (
	idxRunsCommand  = `CREATE INDEX idx_runs_command ON runs(command);`
	idxFindingsRun  = `CREATE INDEX idx_findings_run ON findings(run_id, seq);`
	idxFindingsKind = `CREATE INDEX idx_findings_kind ON findings(kind);`
)

// schemaDDL lists all CREATE TABLE statements in dependency order.
var schemaDDL = []string{
	createRuns,
	createFindings,
}

// indexDDL lists all CREATE INDEX statements.
var indexDDL = []string{
	idxRunsCommand,
	idxFindingsRun,
	idxFindingsKind,
}
