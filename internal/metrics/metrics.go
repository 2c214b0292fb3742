// Package metrics records run results as Prometheus gauges and writes them
// in the text exposition format for node_exporter's textfile collector.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mesh-intelligence/labelkit/internal/audit"
	"github.com/mesh-intelligence/labelkit/internal/convert"
	"github.com/mesh-intelligence/labelkit/internal/split"
)

const namespace = "labelkit"

// RunMetrics holds the gauges of one labelkit invocation.
type RunMetrics struct {
	registry *prometheus.Registry

	runDuration    *prometheus.GaugeVec
	runSuccess     *prometheus.GaugeVec
	runTimestamp   *prometheus.GaugeVec
	labelsWritten  *prometheus.GaugeVec
	convertLines   prometheus.Gauge
	convertSkipped *prometheus.GaugeVec
	classObjects   *prometheus.GaugeVec
	auditFindings  *prometheus.GaugeVec
	splitMoves     *prometheus.GaugeVec
	splitUniverse  *prometheus.GaugeVec

	collectors []prometheus.Collector
}

// NewRunMetrics creates the gauges and registers them with registry.
func NewRunMetrics(registry *prometheus.Registry) (*RunMetrics, error) {
	m := &RunMetrics{registry: registry}
	m.initMetrics()
	for _, c := range m.collectors {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *RunMetrics) initMetrics() {
	m.runDuration = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Wall time of the last run per command",
	}, []string{"command"})
	m.runSuccess = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "run_success",
		Help:      "1 if the last run of a command succeeded, 0 otherwise",
	}, []string{"command"})
	m.runTimestamp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "run_timestamp_seconds",
		Help:      "Unix time the last run of a command finished",
	}, []string{"command"})
	m.labelsWritten = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "convert",
		Name:      "labels",
		Help:      "Label files written by the last conversion",
	}, []string{"kind"})
	m.convertLines = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "convert",
		Name:      "lines",
		Help:      "Label lines written by the last conversion",
	})
	m.convertSkipped = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "convert",
		Name:      "skipped",
		Help:      "Annotations skipped by the last conversion",
	}, []string{"reason"})
	m.classObjects = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "convert",
		Name:      "class_objects",
		Help:      "Objects written per class by the last conversion",
	}, []string{"class", "name"})
	m.auditFindings = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "audit",
		Name:      "findings",
		Help:      "Findings reported by the last audit",
	}, []string{"kind", "severity"})
	m.splitMoves = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "split",
		Name:      "moves",
		Help:      "Pair moves of the last split by status",
	}, []string{"status"})
	m.splitUniverse = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "split",
		Name:      "assigned",
		Help:      "Pairs assigned to each split by the last split",
	}, []string{"split"})

	m.collectors = []prometheus.Collector{
		m.runDuration, m.runSuccess, m.runTimestamp,
		m.labelsWritten, m.convertLines, m.convertSkipped, m.classObjects,
		m.auditFindings, m.splitMoves, m.splitUniverse,
	}
}

// ObserveRun records the outcome of a command.
func (m *RunMetrics) ObserveRun(command string, d time.Duration, err error) {
	m.runDuration.WithLabelValues(command).Set(d.Seconds())
	success := 1.0
	if err != nil {
		success = 0
	}
	m.runSuccess.WithLabelValues(command).Set(success)
	m.runTimestamp.WithLabelValues(command).SetToCurrentTime()
}

// ObserveConvert records a conversion summary.
func (m *RunMetrics) ObserveConvert(s *convert.Summary) {
	m.labelsWritten.WithLabelValues("annotated").Set(float64(s.LabelsWritten))
	m.labelsWritten.WithLabelValues("empty").Set(float64(s.EmptyLabels))
	m.convertLines.Set(float64(s.LinesWritten))
	for reason, n := range s.Skipped {
		m.convertSkipped.WithLabelValues(reason).Set(float64(n))
	}
	for idx, name := range s.ClassNames {
		m.classObjects.WithLabelValues(strconv.Itoa(idx), name).Set(float64(s.PerClass[idx]))
	}
}

// ObserveAudit records finding counts per kind.
func (m *RunMetrics) ObserveAudit(r *audit.Report) {
	for kind, n := range r.Counts() {
		m.auditFindings.WithLabelValues(string(kind), kind.Severity().String()).Set(float64(n))
	}
}

// ObserveSplit records a split result.
func (m *RunMetrics) ObserveSplit(r *split.Result, trainSplit, valSplit string) {
	byStatus := map[string]int{split.StatusPlanned: 0, split.StatusDone: 0, split.StatusSkipped: 0}
	for _, mv := range r.Moves {
		byStatus[mv.Status]++
	}
	for status, n := range byStatus {
		m.splitMoves.WithLabelValues(status).Set(float64(n))
	}
	m.splitUniverse.WithLabelValues(trainSplit).Set(float64(r.Train))
	m.splitUniverse.WithLabelValues(valSplit).Set(float64(r.Val))
}

// WriteTextfile writes every registered metric to path atomically.
func (m *RunMetrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
