package types

import (
	"errors"
	"time"

	"github.com/goccy/go-json"
)

// Run statuses.
const (
	RunStatusOK     = "ok"
	RunStatusFailed = "failed"
)

// Ledger errors.
var (
	ErrLedgerDetached  = errors.New("ledger is detached")
	ErrAlreadyAttached = errors.New("ledger is already attached")
	ErrRunNotFound     = errors.New("run not found")
	ErrAmbiguousRunID  = errors.New("run id prefix matches several runs")
)

// Run is one recorded labelkit invocation.
type Run struct {
	ID         string          `json:"run_id"`
	Command    string          `json:"command"`
	Root       string          `json:"root"`
	Mode       string          `json:"mode,omitempty"`
	Status     string          `json:"status"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Summary    json.RawMessage `json:"summary,omitempty"`
}

// Duration returns the wall time of the run.
func (r Run) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// RunFinding is an audit finding attached to a run.
type RunFinding struct {
	ID       string `json:"finding_id"`
	RunID    string `json:"run_id"`
	Seq      int    `json:"seq"`
	Kind     string `json:"kind"`
	Severity string `json:"severity"`
	Split    string `json:"split,omitempty"`
	Stem     string `json:"stem,omitempty"`
	Path     string `json:"path,omitempty"`
	Detail   string `json:"detail"`
}

// RunFilter selects runs for listing. Zero values match everything.
type RunFilter struct {
	Command string
	Limit   int
}
