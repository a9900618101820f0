// Package memory provides an in-memory implementation of the core persistence
// store used for tests and ephemeral environments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"sliptacore/pkg/domain"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Audit aliases domain.Audit for in-memory persistence operations.
	Audit = domain.Audit
	// Response aliases domain.Response.
	Response = domain.Response
	// SubQuestionResponse aliases domain.SubQuestionResponse.
	SubQuestionResponse = domain.SubQuestionResponse
	// Finding aliases domain.Finding.
	Finding = domain.Finding
	// ActionPlan aliases domain.ActionPlan.
	ActionPlan = domain.ActionPlan
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	audits       map[string]Audit
	responses    map[string]Response
	subResponses map[string]SubQuestionResponse
	findings     map[string]Finding
	actionPlans  map[string]ActionPlan
}

// Snapshot captures a point-in-time clone of the store state. Response maps
// are keyed by "<audit>/<question>" and "<audit>/<sub-question>".
type Snapshot struct {
	Audits       map[string]Audit               `json:"audits"`
	Responses    map[string]Response            `json:"responses"`
	SubResponses map[string]SubQuestionResponse `json:"sub_responses"`
	Findings     map[string]Finding             `json:"findings"`
	ActionPlans  map[string]ActionPlan          `json:"action_plans"`
}

func newMemoryState() memoryState {
	return memoryState{
		audits:       make(map[string]Audit),
		responses:    make(map[string]Response),
		subResponses: make(map[string]SubQuestionResponse),
		findings:     make(map[string]Finding),
		actionPlans:  make(map[string]ActionPlan),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	c := state.clone()
	return Snapshot{
		Audits:       c.audits,
		Responses:    c.responses,
		SubResponses: c.subResponses,
		Findings:     c.findings,
		ActionPlans:  c.actionPlans,
	}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := memoryState{
		audits:       s.Audits,
		responses:    s.Responses,
		subResponses: s.SubResponses,
		findings:     s.Findings,
		actionPlans:  s.ActionPlans,
	}
	return state.clone()
}

// migrateSnapshot fills missing buckets and drops records whose owner no
// longer exists, so an imported snapshot always satisfies the store's
// referential guarantees.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Audits == nil {
		snapshot.Audits = map[string]Audit{}
	}
	if snapshot.Responses == nil {
		snapshot.Responses = map[string]Response{}
	}
	if snapshot.SubResponses == nil {
		snapshot.SubResponses = map[string]SubQuestionResponse{}
	}
	if snapshot.Findings == nil {
		snapshot.Findings = map[string]Finding{}
	}
	if snapshot.ActionPlans == nil {
		snapshot.ActionPlans = map[string]ActionPlan{}
	}

	auditExists := func(id string) bool {
		_, ok := snapshot.Audits[id]
		return ok
	}
	for key, r := range snapshot.Responses {
		if !auditExists(r.AuditID) || key != responseKey(r.AuditID, r.QuestionID) {
			delete(snapshot.Responses, key)
		}
	}
	for key, sr := range snapshot.SubResponses {
		if !auditExists(sr.AuditID) || key != responseKey(sr.AuditID, sr.SubQuestionID) {
			delete(snapshot.SubResponses, key)
		}
	}
	for id, f := range snapshot.Findings {
		if !auditExists(f.AuditID) {
			delete(snapshot.Findings, id)
		}
	}
	for id, p := range snapshot.ActionPlans {
		f, ok := snapshot.Findings[p.FindingID]
		if !ok || f.AuditID != p.AuditID {
			delete(snapshot.ActionPlans, id)
		}
	}
	return snapshot
}

func (s memoryState) clone() memoryState {
	c := newMemoryState()
	for k, v := range s.audits {
		c.audits[k] = cloneAudit(v)
	}
	for k, v := range s.responses {
		c.responses[k] = v
	}
	for k, v := range s.subResponses {
		c.subResponses[k] = v
	}
	for k, v := range s.findings {
		c.findings[k] = cloneFinding(v)
	}
	for k, v := range s.actionPlans {
		c.actionPlans[k] = cloneActionPlan(v)
	}
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneAudit(a Audit) Audit {
	a.ClosedOn = cloneTime(a.ClosedOn)
	a.PreviousAuditID = cloneString(a.PreviousAuditID)
	a.ReopenedAt = cloneTime(a.ReopenedAt)
	return a
}

func cloneFinding(f Finding) Finding {
	f.SectionID = cloneString(f.SectionID)
	f.QuestionID = cloneString(f.QuestionID)
	return f
}

func cloneActionPlan(p ActionPlan) ActionPlan {
	p.ClosedAt = cloneTime(p.ClosedAt)
	return p
}

func responseKey(auditID, itemID string) string {
	return auditID + "/" + itemID
}

// Store provides an in-memory transactional store for the core domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
	commit func(context.Context, Snapshot) error
}

// Option customises a Store.
type Option func(*Store)

// WithNowFunc overrides the clock used to stamp records.
func WithNowFunc(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.nowFn = fn
		}
	}
}

// WithCommitHook installs fn to receive the next committed state before it
// becomes visible. An error from fn aborts the commit.
func WithCommitHook(fn func(context.Context, Snapshot) error) Option {
	return func(s *Store) {
		s.commit = fn
	}
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine, opts ...Option) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) newID() string {
	return uuid.New().String()
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// transaction represents a mutation set applied to a clone of the store state.
type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

// transactionView exposes a read-only view of a state to rules and callers.
type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// RunInTransaction executes fn within a transactional copy of the store state.
// The copy replaces the committed state only when fn succeeds, no rule
// reports a blocking violation and the commit hook, if any, accepts it.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	if s.commit != nil {
		if err := s.commit(ctx, snapshotFromMemoryState(tx.state)); err != nil {
			return result, err
		}
	}
	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

// View helpers ---------------------------------------------------------------

// ListAudits returns all audits ordered by creation time.
func (v transactionView) ListAudits() []Audit {
	out := make([]Audit, 0, len(v.state.audits))
	for _, a := range v.state.audits {
		out = append(out, cloneAudit(a))
	}
	sort.Slice(out, func(i, j int) bool { return lessBase(out[i].Base, out[j].Base) })
	return out
}

// FindAudit retrieves an audit by ID.
func (v transactionView) FindAudit(id string) (Audit, bool) {
	a, ok := v.state.audits[id]
	if !ok {
		return Audit{}, false
	}
	return cloneAudit(a), true
}

// FindResponse retrieves the response recorded for a question of an audit.
func (v transactionView) FindResponse(auditID, questionID string) (Response, bool) {
	r, ok := v.state.responses[responseKey(auditID, questionID)]
	return r, ok
}

// ListResponses returns the responses of an audit ordered by question id.
func (v transactionView) ListResponses(auditID string) []Response {
	var out []Response
	for _, r := range v.state.responses {
		if r.AuditID == auditID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID < out[j].QuestionID })
	return out
}

// FindSubResponse retrieves the response recorded for a sub-question of an audit.
func (v transactionView) FindSubResponse(auditID, subQuestionID string) (SubQuestionResponse, bool) {
	sr, ok := v.state.subResponses[responseKey(auditID, subQuestionID)]
	return sr, ok
}

// ListSubResponses returns the sub-question responses of an audit.
func (v transactionView) ListSubResponses(auditID string) []SubQuestionResponse {
	var out []SubQuestionResponse
	for _, sr := range v.state.subResponses {
		if sr.AuditID == auditID {
			out = append(out, sr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubQuestionID < out[j].SubQuestionID })
	return out
}

// FindFinding retrieves a finding by ID.
func (v transactionView) FindFinding(id string) (Finding, bool) {
	f, ok := v.state.findings[id]
	if !ok {
		return Finding{}, false
	}
	return cloneFinding(f), true
}

// ListFindings returns the findings of an audit ordered by creation time.
func (v transactionView) ListFindings(auditID string) []Finding {
	var out []Finding
	for _, f := range v.state.findings {
		if f.AuditID == auditID {
			out = append(out, cloneFinding(f))
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessBase(out[i].Base, out[j].Base) })
	return out
}

// FindActionPlan retrieves an action plan by ID.
func (v transactionView) FindActionPlan(id string) (ActionPlan, bool) {
	p, ok := v.state.actionPlans[id]
	if !ok {
		return ActionPlan{}, false
	}
	return cloneActionPlan(p), true
}

// ListActionPlans returns the action plans of an audit ordered by creation time.
func (v transactionView) ListActionPlans(auditID string) []ActionPlan {
	var out []ActionPlan
	for _, p := range v.state.actionPlans {
		if p.AuditID == auditID {
			out = append(out, cloneActionPlan(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessBase(out[i].Base, out[j].Base) })
	return out
}

func lessBase(a, b domain.Base) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Transaction operations -----------------------------------------------------

// helper to record and append change entries.
func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// Now returns the timestamp stamped on every record written by the transaction.
func (tx *transaction) Now() time.Time {
	return tx.now
}

func (tx *transaction) requireAudit(id string) error {
	if _, ok := tx.state.audits[id]; !ok {
		return domain.NotFoundError{Entity: domain.EntityAudit, ID: id}
	}
	return nil
}

// CreateAudit stores a new audit.
func (tx *transaction) CreateAudit(a Audit) (Audit, error) {
	if a.ID == "" {
		a.ID = tx.store.newID()
	}
	if _, exists := tx.state.audits[a.ID]; exists {
		return Audit{}, fmt.Errorf("audit %q already exists", a.ID)
	}
	if a.PreviousAuditID != nil {
		if err := tx.requireAudit(*a.PreviousAuditID); err != nil {
			return Audit{}, err
		}
	}
	a.CreatedAt = tx.now
	a.UpdatedAt = tx.now
	tx.state.audits[a.ID] = cloneAudit(a)
	tx.recordChange(Change{Entity: domain.EntityAudit, Action: domain.ActionCreate, After: cloneAudit(a)})
	return cloneAudit(a), nil
}

// UpdateAudit mutates an audit using the provided mutator function.
func (tx *transaction) UpdateAudit(id string, mutator func(*Audit) error) (Audit, error) {
	current, ok := tx.state.audits[id]
	if !ok {
		return Audit{}, domain.NotFoundError{Entity: domain.EntityAudit, ID: id}
	}
	before := cloneAudit(current)
	if err := mutator(&current); err != nil {
		return Audit{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.audits[id] = cloneAudit(current)
	tx.recordChange(Change{Entity: domain.EntityAudit, Action: domain.ActionUpdate, Before: before, After: cloneAudit(current)})
	return cloneAudit(current), nil
}

// UpsertResponse inserts or replaces the response keyed by (audit, question).
func (tx *transaction) UpsertResponse(r Response) (Response, error) {
	if err := tx.requireAudit(r.AuditID); err != nil {
		return Response{}, err
	}
	if r.QuestionID == "" {
		return Response{}, domain.ValidationError{Field: "question_id", Message: "required"}
	}
	key := responseKey(r.AuditID, r.QuestionID)
	current, exists := tx.state.responses[key]
	if exists {
		r.ID = current.ID
		r.CreatedAt = current.CreatedAt
	} else {
		r.ID = tx.store.newID()
		r.CreatedAt = tx.now
	}
	r.UpdatedAt = tx.now
	tx.state.responses[key] = r
	if exists {
		tx.recordChange(Change{Entity: domain.EntityResponse, Action: domain.ActionUpdate, Before: current, After: r})
	} else {
		tx.recordChange(Change{Entity: domain.EntityResponse, Action: domain.ActionCreate, After: r})
	}
	return r, nil
}

// UpsertSubResponse inserts or replaces the response keyed by (audit, sub-question).
func (tx *transaction) UpsertSubResponse(sr SubQuestionResponse) (SubQuestionResponse, error) {
	if err := tx.requireAudit(sr.AuditID); err != nil {
		return SubQuestionResponse{}, err
	}
	if sr.SubQuestionID == "" {
		return SubQuestionResponse{}, domain.ValidationError{Field: "sub_question_id", Message: "required"}
	}
	key := responseKey(sr.AuditID, sr.SubQuestionID)
	current, exists := tx.state.subResponses[key]
	if exists {
		sr.ID = current.ID
		sr.CreatedAt = current.CreatedAt
	} else {
		sr.ID = tx.store.newID()
		sr.CreatedAt = tx.now
	}
	sr.UpdatedAt = tx.now
	tx.state.subResponses[key] = sr
	if exists {
		tx.recordChange(Change{Entity: domain.EntitySubResponse, Action: domain.ActionUpdate, Before: current, After: sr})
	} else {
		tx.recordChange(Change{Entity: domain.EntitySubResponse, Action: domain.ActionCreate, After: sr})
	}
	return sr, nil
}

// CreateFinding stores a finding under an existing audit.
func (tx *transaction) CreateFinding(f Finding) (Finding, error) {
	if err := tx.requireAudit(f.AuditID); err != nil {
		return Finding{}, err
	}
	if f.ID == "" {
		f.ID = tx.store.newID()
	}
	if _, exists := tx.state.findings[f.ID]; exists {
		return Finding{}, fmt.Errorf("finding %q already exists", f.ID)
	}
	if f.Origin == "" {
		f.Origin = domain.OriginManual
	}
	f.CreatedAt = tx.now
	f.UpdatedAt = tx.now
	tx.state.findings[f.ID] = cloneFinding(f)
	tx.recordChange(Change{Entity: domain.EntityFinding, Action: domain.ActionCreate, After: cloneFinding(f)})
	return cloneFinding(f), nil
}

// UpdateFinding mutates an existing finding. The owning audit cannot change.
func (tx *transaction) UpdateFinding(id string, mutator func(*Finding) error) (Finding, error) {
	current, ok := tx.state.findings[id]
	if !ok {
		return Finding{}, domain.NotFoundError{Entity: domain.EntityFinding, ID: id}
	}
	before := cloneFinding(current)
	if err := mutator(&current); err != nil {
		return Finding{}, err
	}
	current.ID = id
	current.AuditID = before.AuditID
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.findings[id] = cloneFinding(current)
	tx.recordChange(Change{Entity: domain.EntityFinding, Action: domain.ActionUpdate, Before: before, After: cloneFinding(current)})
	return cloneFinding(current), nil
}

// DeleteFinding removes a finding. Plans still referencing it must be removed first.
func (tx *transaction) DeleteFinding(id string) error {
	current, ok := tx.state.findings[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityFinding, ID: id}
	}
	for _, p := range tx.state.actionPlans {
		if p.FindingID == id {
			return fmt.Errorf("finding %q still referenced by action plan %q", id, p.ID)
		}
	}
	delete(tx.state.findings, id)
	tx.recordChange(Change{Entity: domain.EntityFinding, Action: domain.ActionDelete, Before: cloneFinding(current)})
	return nil
}

// CreateActionPlan stores a plan for a finding of the same audit.
func (tx *transaction) CreateActionPlan(p ActionPlan) (ActionPlan, error) {
	f, ok := tx.state.findings[p.FindingID]
	if !ok {
		return ActionPlan{}, domain.NotFoundError{Entity: domain.EntityFinding, ID: p.FindingID}
	}
	if p.AuditID == "" {
		p.AuditID = f.AuditID
	}
	if p.AuditID != f.AuditID {
		return ActionPlan{}, fmt.Errorf("action plan audit %q does not match finding audit %q", p.AuditID, f.AuditID)
	}
	if p.ID == "" {
		p.ID = tx.store.newID()
	}
	if _, exists := tx.state.actionPlans[p.ID]; exists {
		return ActionPlan{}, fmt.Errorf("action plan %q already exists", p.ID)
	}
	if p.Status == "" {
		p.Status = domain.PlanOpen
	}
	p.CreatedAt = tx.now
	p.UpdatedAt = tx.now
	tx.state.actionPlans[p.ID] = cloneActionPlan(p)
	tx.recordChange(Change{Entity: domain.EntityActionPlan, Action: domain.ActionCreate, After: cloneActionPlan(p)})
	return cloneActionPlan(p), nil
}

// UpdateActionPlan mutates an existing plan. Its audit and finding cannot change.
func (tx *transaction) UpdateActionPlan(id string, mutator func(*ActionPlan) error) (ActionPlan, error) {
	current, ok := tx.state.actionPlans[id]
	if !ok {
		return ActionPlan{}, domain.NotFoundError{Entity: domain.EntityActionPlan, ID: id}
	}
	before := cloneActionPlan(current)
	if err := mutator(&current); err != nil {
		return ActionPlan{}, err
	}
	current.ID = id
	current.AuditID = before.AuditID
	current.FindingID = before.FindingID
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.actionPlans[id] = cloneActionPlan(current)
	tx.recordChange(Change{Entity: domain.EntityActionPlan, Action: domain.ActionUpdate, Before: before, After: cloneActionPlan(current)})
	return cloneActionPlan(current), nil
}

// DeleteActionPlan removes a plan.
func (tx *transaction) DeleteActionPlan(id string) error {
	current, ok := tx.state.actionPlans[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityActionPlan, ID: id}
	}
	delete(tx.state.actionPlans, id)
	tx.recordChange(Change{Entity: domain.EntityActionPlan, Action: domain.ActionDelete, Before: cloneActionPlan(current)})
	return nil
}

// Read helpers ---------------------------------------------------------------

// GetAudit retrieves an audit by ID from committed state.
func (s *Store) GetAudit(id string) (Audit, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.state.audits[id]
	if !ok {
		return Audit{}, false
	}
	return cloneAudit(a), true
}

// ListAudits returns all audits from committed state.
func (s *Store) ListAudits() []Audit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListAudits()
}

// ListResponses returns the committed responses of an audit.
func (s *Store) ListResponses(auditID string) []Response {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListResponses(auditID)
}

// ListFindings returns the committed findings of an audit.
func (s *Store) ListFindings(auditID string) []Finding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListFindings(auditID)
}

// ListActionPlans returns the committed action plans of an audit.
func (s *Store) ListActionPlans(auditID string) []ActionPlan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListActionPlans(auditID)
}
