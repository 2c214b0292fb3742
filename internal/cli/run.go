package cli

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/labelkit/internal/sqlite"
	"github.com/mesh-intelligence/labelkit/pkg/types"
)

// outcome is what a command reports to the run ledger.
type outcome struct {
	mode     string
	summary  any
	findings []types.RunFinding
}

type commandFunc func(cmd *cobra.Command, cfg types.Config) (*outcome, error)

// recorded wraps a dataset command: it validates the configuration, runs fn,
// then records the run in the ledger and the metrics textfile. Failing to
// record is logged and does not change the command's result.
func (a *app) recorded(name string, fn commandFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := a.config()
		if err != nil {
			return classify(err)
		}

		started := time.Now()
		out, runErr := fn(cmd, cfg)
		finished := time.Now()

		a.metrics.ObserveRun(name, finished.Sub(started), runErr)
		a.record(name, cfg, started, finished, out, runErr)
		a.writeMetrics()
		return classify(runErr)
	}
}

func (a *app) record(name string, cfg types.Config, started, finished time.Time, out *outcome, runErr error) {
	run := &types.Run{
		Command:    name,
		Root:       cfg.DatasetRoot,
		Status:     types.RunStatusOK,
		StartedAt:  started,
		FinishedAt: finished,
	}
	if runErr != nil {
		run.Status = types.RunStatusFailed
		run.Error = runErr.Error()
	}
	var findings []types.RunFinding
	if out != nil {
		run.Mode = out.mode
		findings = out.findings
		if out.summary != nil {
			data, err := json.Marshal(out.summary)
			if err != nil {
				a.log.Warn().Err(err).Msg("run summary not recorded")
			} else {
				run.Summary = data
			}
		}
	}

	backend, err := a.attachLedger()
	if err != nil {
		a.log.Warn().Err(err).Msg("run ledger unavailable")
		return
	}
	defer backend.Detach()
	if err := backend.RecordRun(run, findings); err != nil {
		a.log.Warn().Err(err).Msg("run not recorded")
		return
	}
	a.log.Debug().Str("run_id", run.ID).Msg("run recorded")
}

// attachLedger opens the run ledger. The caller must Detach it.
func (a *app) attachLedger() (*sqlite.Backend, error) {
	dir, err := a.dataDir()
	if err != nil {
		return nil, err
	}
	backend := sqlite.NewBackend()
	if err := backend.Attach(dir); err != nil {
		return nil, err
	}
	return backend, nil
}

func (a *app) writeMetrics() {
	if a.flags.metricsFile == "" {
		return
	}
	if err := a.metrics.WriteTextfile(a.flags.metricsFile); err != nil {
		a.log.Warn().Err(err).Str("path", a.flags.metricsFile).Msg("metrics not written")
	}
}
