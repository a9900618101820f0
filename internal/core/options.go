package core

import (
	"context"
	"time"

	"sliptacore/internal/diagnostics"
	"sliptacore/internal/lifecycle"
	"sliptacore/pkg/domain"
)

// Logger is the structured logging surface used by the service. Arguments
// after the message are alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Clock supplies the current time to the service.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// AuditStatus records whether an operation succeeded.
type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditEntry is one record of the operation trail emitted by the service.
type AuditEntry struct {
	Operation string
	Entity    EntityType
	Action    Action
	EntityID  string
	AuditID   string
	Actor     string
	Status    AuditStatus
	Error     string
	Duration  time.Duration
	Timestamp time.Time
}

// AuditRecorder receives operation trail entries.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

type noopAuditRecorder struct{}

func (noopAuditRecorder) Record(context.Context, AuditEntry) {}

// MetricsRecorder observes operation latency and outcome.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}

// TraceSpan is an in-flight operation span.
type TraceSpan interface {
	End(err error)
}

// Tracer starts spans around service operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

type serviceOptions struct {
	logger     Logger
	clock      Clock
	audit      AuditRecorder
	metrics    MetricsRecorder
	tracer     Tracer
	authorizer domain.Authorizer
	evidence   diagnostics.EvidenceChecker
	events     domain.EventPublisher
	policy     lifecycle.CompletionPolicy
	dueDays    int
}

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		logger:  noopLogger{},
		clock:   ClockFunc(func() time.Time { return time.Now().UTC() }),
		audit:   noopAuditRecorder{},
		metrics: noopMetricsRecorder{},
		tracer:  noopTracer{},
		policy:  lifecycle.PolicyClosureGate,
	}
}

// ServiceOption customises a Service.
type ServiceOption func(*serviceOptions)

// WithLogger routes service logs to logger.
func WithLogger(logger Logger) ServiceOption {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides the service clock.
func WithClock(clock Clock) ServiceOption {
	return func(o *serviceOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithAuditRecorder installs an operation trail recorder.
func WithAuditRecorder(recorder AuditRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.audit = recorder
		}
	}
}

// WithMetricsRecorder installs a metrics sink.
func WithMetricsRecorder(recorder MetricsRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.metrics = recorder
		}
	}
}

// WithTracer installs a tracer.
func WithTracer(tracer Tracer) ServiceOption {
	return func(o *serviceOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithAuthorizer replaces the default scope-based authorizer.
func WithAuthorizer(authorizer domain.Authorizer) ServiceOption {
	return func(o *serviceOptions) {
		if authorizer != nil {
			o.authorizer = authorizer
		}
	}
}

// WithEvidence installs the evidence collaborator used by diagnostics.
// Without one the evidence scan is skipped.
func WithEvidence(checker diagnostics.EvidenceChecker) ServiceOption {
	return func(o *serviceOptions) {
		o.evidence = checker
	}
}

// WithEvents installs a lifecycle event publisher.
func WithEvents(publisher domain.EventPublisher) ServiceOption {
	return func(o *serviceOptions) {
		o.events = publisher
	}
}

// WithCompletionPolicy selects the precondition for completing an audit.
func WithCompletionPolicy(policy lifecycle.CompletionPolicy) ServiceOption {
	return func(o *serviceOptions) {
		if policy != "" {
			o.policy = policy
		}
	}
}

// WithDueDays overrides the due date offset of generated action plans.
func WithDueDays(days int) ServiceOption {
	return func(o *serviceOptions) {
		o.dueDays = days
	}
}
