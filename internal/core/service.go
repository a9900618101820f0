package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sliptacore/internal/catalog"
	"sliptacore/internal/diagnostics"
	"sliptacore/internal/findings"
	"sliptacore/internal/infra/persistence/memory"
	"sliptacore/internal/lifecycle"
	"sliptacore/pkg/domain"
)

// Service orchestrates audit operations over a persistent store. Every
// mutating call runs inside one store transaction: the response write, the
// derived finding and action plan changes and the audit timestamp commit
// together or not at all.
type Service struct {
	store      PersistentStore
	catalog    *catalog.Catalog
	sync       *findings.Synchronizer
	authorizer domain.Authorizer
	evidence   diagnostics.EvidenceChecker
	events     domain.EventPublisher
	policy     lifecycle.CompletionPolicy
	logger     Logger
	clock      Clock
	audit      AuditRecorder
	metrics    MetricsRecorder
	tracer     Tracer
}

// NewService constructs a service backed by the supplied store. The catalog is
// validated first; a catalog that fails the integrity checks aborts
// construction so that no score can ever be derived from it.
func NewService(store PersistentStore, reader catalog.Reader, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("core: store is required")
	}
	if reader == nil {
		return nil, errors.New("core: catalog is required")
	}
	if err := catalog.Validate(reader); err != nil {
		return nil, err
	}
	cfg := defaultServiceOptions()
	if clocked, ok := store.(interface{ NowFunc() func() time.Time }); ok {
		if fn := clocked.NowFunc(); fn != nil {
			cfg.clock = ClockFunc(fn)
		}
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	policy, err := lifecycle.ParseCompletionPolicy(string(cfg.policy))
	if err != nil {
		return nil, err
	}
	cfg.policy = policy
	if cfg.authorizer == nil {
		cfg.authorizer = NewScopeAuthorizer(store)
	}
	cat := catalog.FromReader(reader)
	var syncOpts []findings.Option
	if cfg.dueDays > 0 {
		syncOpts = append(syncOpts, findings.WithDueDays(cfg.dueDays))
	}
	return &Service{
		store:      store,
		catalog:    cat,
		sync:       findings.New(cat, syncOpts...),
		authorizer: cfg.authorizer,
		evidence:   cfg.evidence,
		events:     cfg.events,
		policy:     cfg.policy,
		logger:     cfg.logger,
		clock:      cfg.clock,
		audit:      cfg.audit,
		metrics:    cfg.metrics,
		tracer:     cfg.tracer,
	}, nil
}

// NewInMemoryService creates a service over a fresh in-memory store with the
// default rules engine.
func NewInMemoryService(reader catalog.Reader, opts ...ServiceOption) (*Service, error) {
	return NewService(memory.NewStore(NewDefaultRulesEngine()), reader, opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore {
	return s.store
}

// Catalog returns the validated checklist the service scores against.
func (s *Service) Catalog() *catalog.Catalog {
	return s.catalog
}

// CompletionPolicy returns the configured completion precondition.
func (s *Service) CompletionPolicy() lifecycle.CompletionPolicy {
	return s.policy
}

type operationMeta struct {
	entity EntityType
	action Action
}

var operations = map[string]operationMeta{
	"create_audit":           {entity: EntityAudit, action: ActionCreate},
	"transition_audit":       {entity: EntityAudit, action: ActionUpdate},
	"reopen_audit":           {entity: EntityAudit, action: ActionUpdate},
	"store_response":         {entity: EntityResponse, action: ActionUpdate},
	"store_sub_response":     {entity: EntitySubResponse, action: ActionUpdate},
	"reconcile_findings":     {entity: EntityFinding, action: ActionUpdate},
	"create_finding":         {entity: EntityFinding, action: ActionCreate},
	"delete_finding":         {entity: EntityFinding, action: ActionDelete},
	"create_action_plan":     {entity: EntityActionPlan, action: ActionCreate},
	"transition_action_plan": {entity: EntityActionPlan, action: ActionUpdate},
	"reopen_action_plan":     {entity: EntityActionPlan, action: ActionUpdate},
	"attach_evidence":        {entity: EntityEvidence, action: ActionCreate},
}

// run wraps an operation with tracing, metrics, logging and the audit trail.
// fn returns the id of the entity it touched.
func (s *Service) run(ctx context.Context, op string, actor Actor, auditID string, fn func(context.Context) (string, error)) error {
	started := s.clock.Now()
	ctx, span := s.tracer.Start(WithAuditID(ctx, auditID), op)
	entityID, err := fn(ctx)
	elapsed := s.clock.Now().Sub(started)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, elapsed)
	if err != nil {
		s.logger.Warn("operation failed", "operation", op, "audit_id", auditID, "actor", actor.ID, "error", err)
	} else {
		s.logger.Debug("operation completed", "operation", op, "audit_id", auditID, "actor", actor.ID, "duration", elapsed)
	}
	s.recordAudit(ctx, op, actor, auditID, entityID, elapsed, err)
	return err
}

func (s *Service) recordAudit(ctx context.Context, op string, actor Actor, auditID, entityID string, duration time.Duration, err error) {
	meta, ok := operations[op]
	if !ok {
		return
	}
	entry := AuditEntry{
		Operation: op,
		Entity:    meta.entity,
		Action:    meta.action,
		EntityID:  entityID,
		AuditID:   auditID,
		Actor:     actor.ID,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: s.clock.Now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
	}
	s.audit.Record(ctx, entry)
}

// transact runs fn in a store transaction. Blocking rule violations surface
// as ConflictError; warnings are logged.
func (s *Service) transact(ctx context.Context, fn func(Transaction) error) error {
	res, err := s.store.RunInTransaction(ctx, fn)
	var violation RuleViolationError
	if errors.As(err, &violation) {
		first, _ := violation.Result.FirstBlocking()
		return domain.ConflictError{Rule: first.Rule, Message: first.Message}
	}
	if err != nil {
		return err
	}
	for _, v := range res.Violations {
		if v.Severity == SeverityWarn {
			s.logger.Warn("rule warning", "rule", v.Rule, "entity", v.Entity, "entity_id", v.EntityID, "message", v.Message)
		}
	}
	return nil
}

func (s *Service) lookupAudit(ctx context.Context, id string) (Audit, error) {
	var (
		audit Audit
		found bool
	)
	if err := s.store.View(ctx, func(view TransactionView) error {
		audit, found = view.FindAudit(id)
		return nil
	}); err != nil {
		return Audit{}, err
	}
	if !found {
		return Audit{}, domain.NotFoundError{Entity: EntityAudit, ID: id}
	}
	return audit, nil
}

// authorize resolves the audit and asks the authorizer whether actor may read
// it, or edit it when edit is set. It runs before any transaction opens.
func (s *Service) authorize(ctx context.Context, actor Actor, auditID string, edit bool) (Audit, error) {
	audit, err := s.lookupAudit(ctx, auditID)
	if err != nil {
		return Audit{}, err
	}
	if edit {
		if !s.authorizer.CanEditAudit(ctx, actor, auditID) {
			return Audit{}, domain.AuthorizationError{ActorID: actor.ID, AuditID: auditID, Action: "edit"}
		}
		return audit, nil
	}
	if !s.authorizer.CanAccessAudit(ctx, actor, auditID) {
		return Audit{}, domain.AuthorizationError{ActorID: actor.ID, AuditID: auditID, Action: "access"}
	}
	return audit, nil
}

// requireEditable loads the audit inside a transaction and rejects changes to
// audits outside their edit window.
func requireEditable(tx Transaction, auditID string) (Audit, error) {
	audit, ok := tx.Snapshot().FindAudit(auditID)
	if !ok {
		return Audit{}, domain.NotFoundError{Entity: EntityAudit, ID: auditID}
	}
	if !audit.Status.Editable() {
		return Audit{}, domain.ConflictError{
			Rule:    "audit_edit_window",
			Message: fmt.Sprintf("audit %s is %s", audit.ID, audit.Status),
		}
	}
	return audit, nil
}

// publish delivers an event after commit. Failures are logged only.
func (s *Service) publish(ctx context.Context, event domain.Event) {
	if s.events == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.clock.Now()
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("event publish failed", "type", event.Type, "audit_id", event.AuditID, "error", err)
	}
}

func blank(v string) bool {
	return strings.TrimSpace(v) == ""
}

// startOfDay truncates t to midnight UTC of its calendar date.
func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
