package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"sliptacore/internal/core"
)

// Metrics backends.
const (
	MetricsNone       = "none"
	MetricsExpvar     = "expvar"
	MetricsPrometheus = "prometheus"
)

// Trace backends.
const (
	TraceNone = "none"
	TraceJSON = "json"
)

// Observability selects the metrics and tracing sinks of the service.
// MetricsFile, when set, receives the collected metrics on Close: Prometheus
// text format for the prometheus backend and a JSON snapshot for expvar.
// TraceFile receives JSON trace lines; when empty they go to the writer
// passed to Open.
type Observability struct {
	Metrics     string `mapstructure:"metrics"`
	Namespace   string `mapstructure:"namespace"`
	MetricsFile string `mapstructure:"metrics_file"`
	Trace       string `mapstructure:"trace"`
	TraceFile   string `mapstructure:"trace_file"`
}

// Validate rejects unknown backends.
func (o Observability) Validate() error {
	switch o.Metrics {
	case "", MetricsNone, MetricsExpvar, MetricsPrometheus:
	default:
		return fmt.Errorf("observability.metrics: unknown backend %q", o.Metrics)
	}
	switch o.Trace {
	case "", TraceNone, TraceJSON:
	default:
		return fmt.Errorf("observability.trace: unknown backend %q", o.Trace)
	}
	return nil
}

// Telemetry holds the sinks built from Observability.
type Telemetry struct {
	metrics     core.MetricsRecorder
	tracer      core.Tracer
	registry    *prometheus.Registry
	expvar      *core.ExpvarMetricsRecorder
	metricsFile string
	traceFile   *os.File
}

// Open builds the configured sinks. traceOut is used for JSON traces when no
// trace file is configured.
func (o Observability) Open(traceOut io.Writer) (*Telemetry, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	t := &Telemetry{metricsFile: o.MetricsFile}
	switch o.Metrics {
	case MetricsExpvar:
		t.expvar = core.NewExpvarMetricsRecorder("")
		t.metrics = t.expvar
	case MetricsPrometheus:
		t.registry = prometheus.NewRegistry()
		rec, err := core.NewPrometheusMetricsRecorder(t.registry, o.Namespace)
		if err != nil {
			return nil, fmt.Errorf("register prometheus collectors: %w", err)
		}
		t.metrics = rec
	}
	if o.Trace == TraceJSON {
		out := traceOut
		if o.TraceFile != "" {
			f, err := os.OpenFile(o.TraceFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
			if err != nil {
				return nil, fmt.Errorf("open trace file: %w", err)
			}
			t.traceFile = f
			out = f
		}
		t.tracer = core.NewJSONTracer(out)
	}
	return t, nil
}

// Options returns the service options installing the sinks.
func (t *Telemetry) Options() []core.ServiceOption {
	if t == nil {
		return nil
	}
	var opts []core.ServiceOption
	if t.metrics != nil {
		opts = append(opts, core.WithMetricsRecorder(t.metrics))
	}
	if t.tracer != nil {
		opts = append(opts, core.WithTracer(t.tracer))
	}
	return opts
}

// Close writes the metrics file, if any, and releases the trace file.
func (t *Telemetry) Close() error {
	if t == nil {
		return nil
	}
	var errs []error
	if t.metricsFile != "" {
		switch {
		case t.registry != nil:
			errs = append(errs, prometheus.WriteToTextfile(t.metricsFile, t.registry))
		case t.expvar != nil:
			errs = append(errs, writeJSON(t.metricsFile, t.expvar.Snapshot()))
		}
	}
	if t.traceFile != nil {
		errs = append(errs, t.traceFile.Close())
	}
	return errors.Join(errs...)
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}
