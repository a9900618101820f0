package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sliptacore/internal/catalog"
	"sliptacore/internal/diagnostics"
	"sliptacore/internal/infra/persistence/memory"
	"sliptacore/internal/lifecycle"
	"sliptacore/pkg/domain"
)

var testNow = time.Date(2026, 5, 14, 16, 45, 0, 0, time.UTC)

var (
	auditor  = domain.Actor{ID: "auditor-1", Scope: domain.NewScope(true, "lab-1")}
	viewer   = domain.Actor{ID: "viewer-1", Scope: domain.NewScope(false, "lab-1")}
	outsider = domain.Actor{ID: "auditor-2", Scope: domain.NewScope(true, "lab-2")}
	lead     = privileged(auditor)
)

const justification = "Evidence for section 4 was re-reviewed by the lead"

func privileged(a domain.Actor) domain.Actor {
	a.Scope.Privileged = true
	return a
}

type captureLogger struct{ calls []string }

func (c *captureLogger) Debug(msg string, _ ...any) { c.calls = append(c.calls, "d:"+msg) }
func (c *captureLogger) Info(msg string, _ ...any)  { c.calls = append(c.calls, "i:"+msg) }
func (c *captureLogger) Warn(msg string, _ ...any)  { c.calls = append(c.calls, "w:"+msg) }
func (c *captureLogger) Error(msg string, _ ...any) { c.calls = append(c.calls, "e:"+msg) }

func (c *captureLogger) saw(call string) bool {
	for _, got := range c.calls {
		if got == call {
			return true
		}
	}
	return false
}

type capturePublisher struct {
	events []domain.Event
	err    error
}

func (c *capturePublisher) Publish(_ context.Context, e domain.Event) error {
	c.events = append(c.events, e)
	return c.err
}

func (c *capturePublisher) types() []domain.EventType {
	out := make([]domain.EventType, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Type)
	}
	return out
}

type evidenceSet map[string]bool

func (e evidenceSet) HasEvidence(_ context.Context, auditID, questionID string) (bool, error) {
	return e[auditID+"/"+questionID], nil
}

func newTestService(t *testing.T, opts ...ServiceOption) *Service {
	t.Helper()
	return newTestServiceWithEngine(t, NewDefaultRulesEngine(), opts...)
}

func newTestServiceWithEngine(t *testing.T, engine *RulesEngine, opts ...ServiceOption) *Service {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)
	store := memory.NewStore(engine, memory.WithNowFunc(func() time.Time { return testNow }))
	svc, err := NewService(store, cat, opts...)
	require.NoError(t, err)
	return svc
}

func newServiceOver(t *testing.T, store PersistentStore, opts ...ServiceOption) *Service {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)
	svc, err := NewService(store, cat, opts...)
	require.NoError(t, err)
	return svc
}

func newAudit(t *testing.T, svc *Service) Audit {
	t.Helper()
	a, err := svc.CreateAudit(context.Background(), auditor, CreateAuditInput{LaboratoryID: "lab-1"})
	require.NoError(t, err)
	return a
}

func answer(t *testing.T, svc *Service, auditID, questionID string, a domain.Answer, comment string) ResponseOutcome {
	t.Helper()
	in := StoreResponseInput{AuditID: auditID, QuestionID: questionID, Answer: a, Comment: comment}
	if a == domain.AnswerNotApplicable {
		in.NAJustification = "not offered by this laboratory"
	}
	out, err := svc.StoreResponse(context.Background(), auditor, in)
	require.NoError(t, err)
	return out
}

// answerAllYes answers every sub-question and question Y.
func answerAllYes(t *testing.T, svc *Service, auditID string) {
	t.Helper()
	ctx := context.Background()
	for _, q := range svc.Catalog().Questions() {
		for _, sq := range svc.Catalog().SubQuestionsOf(q.ID) {
			_, err := svc.StoreSubQuestionResponse(ctx, auditor, StoreSubResponseInput{AuditID: auditID, SubQuestionID: sq.ID, Answer: domain.AnswerYes})
			require.NoError(t, err)
		}
		answer(t, svc, auditID, q.ID, domain.AnswerYes, "")
	}
}

func requireConflict(t *testing.T, err error, rule string) {
	t.Helper()
	var conflict domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	if rule != "" {
		require.Equal(t, rule, conflict.Rule)
	}
}

func TestNewServiceRejectsDriftedCatalog(t *testing.T) {
	cat, err := catalog.Default()
	require.NoError(t, err)
	questions := cat.Questions()
	questions[0].Weight = 5
	drifted := catalog.New("drift", cat.Sections(), questions, cat.SubQuestions())

	_, err = NewService(memory.NewStore(nil), drifted)
	var integrity domain.IntegrityError
	require.ErrorAs(t, err, &integrity)
	require.Equal(t, 1, integrity.Section)

	_, err = NewService(memory.NewStore(nil), catalog.New("short", cat.Sections(), questions[1:], nil))
	require.ErrorAs(t, err, &integrity)

	_, err = NewService(nil, cat)
	require.Error(t, err)
}

func TestNewServiceRejectsUnknownPolicy(t *testing.T) {
	cat, err := catalog.Default()
	require.NoError(t, err)
	_, err = NewService(memory.NewStore(nil), cat, WithCompletionPolicy("majority_vote"))
	var validation domain.ValidationError
	require.ErrorAs(t, err, &validation)

	svc, err := NewInMemoryService(cat)
	require.NoError(t, err)
	require.Equal(t, lifecycle.PolicyClosureGate, svc.CompletionPolicy())
}

func TestCompletionPolicyNameIsNormalized(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, WithCompletionPolicy(" Any_Response "))
	require.Equal(t, lifecycle.PolicyAnyResponse, svc.CompletionPolicy())

	a := newAudit(t, svc)
	answer(t, svc, a.ID, "1.1", domain.AnswerYes, "")
	out, err := svc.TransitionAudit(ctx, auditor, TransitionAuditInput{AuditID: a.ID, To: domain.AuditCompleted})
	require.NoError(t, err)
	require.Equal(t, domain.AuditCompleted, out.Audit.Status)
}

func TestCreateAudit(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	a := newAudit(t, svc)
	require.Equal(t, domain.AuditDraft, a.Status)
	require.Equal(t, time.Date(2026, 5, 14, 0, 0, 0, 0, time.UTC), a.OpenedOn)

	_, err := svc.CreateAudit(ctx, outsider, CreateAuditInput{LaboratoryID: "lab-1"})
	var denied domain.AuthorizationError
	require.ErrorAs(t, err, &denied)

	_, err = svc.CreateAudit(ctx, auditor, CreateAuditInput{})
	var validation domain.ValidationError
	require.ErrorAs(t, err, &validation)

	other, err := svc.CreateAudit(ctx, outsider, CreateAuditInput{LaboratoryID: "lab-2"})
	require.NoError(t, err)
	_, err = svc.CreateAudit(ctx, auditor, CreateAuditInput{LaboratoryID: "lab-1", PreviousAuditID: other.ID})
	require.ErrorAs(t, err, &validation)

	followUp, err := svc.CreateAudit(ctx, auditor, CreateAuditInput{LaboratoryID: "lab-1", PreviousAuditID: a.ID})
	require.NoError(t, err)
	require.Equal(t, a.ID, *followUp.PreviousAuditID)

	visible, err := svc.ListAudits(ctx, viewer)
	require.NoError(t, err)
	require.Len(t, visible, 2)
	_, err = svc.GetAudit(ctx, outsider, a.ID)
	require.ErrorAs(t, err, &denied)
	_, err = svc.GetAudit(ctx, viewer, "missing")
	var notFound domain.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestStoreResponseValidationWritesNothing(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	a := newAudit(t, svc)

	cases := []StoreResponseInput{
		{AuditID: a.ID, QuestionID: "1.1", Answer: "MAYBE"},
		{AuditID: a.ID, QuestionID: "1.1", Answer: domain.AnswerPartial},
		{AuditID: a.ID, QuestionID: "1.1", Answer: domain.AnswerNo, Comment: "  "},
		{AuditID: a.ID, QuestionID: "1.1", Answer: domain.AnswerNotApplicable, Comment: "n/a"},
		{AuditID: a.ID, QuestionID: "99.1", Answer: domain.AnswerYes},
	}
	for _, in := range cases {
		_, err := svc.StoreResponse(ctx, auditor, in)
		var validation domain.ValidationError
		require.ErrorAs(t, err, &validation, "input %+v", in)
	}
	score, err := svc.Score(ctx, viewer, a.ID)
	require.NoError(t, err)
	require.Nil(t, score)
	got, err := svc.GetAudit(ctx, viewer, a.ID)
	require.NoError(t, err)
	require.Equal(t, domain.AuditDraft, got.Status)
}

func TestStoreResponseAuthorization(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	a := newAudit(t, svc)

	for _, actor := range []domain.Actor{viewer, outsider} {
		_, err := svc.StoreResponse(ctx, actor, StoreResponseInput{AuditID: a.ID, QuestionID: "1.1", Answer: domain.AnswerYes})
		var denied domain.AuthorizationError
		require.ErrorAs(t, err, &denied)
		require.Equal(t, actor.ID, denied.ActorID)
	}
	_, err := svc.StoreResponse(ctx, auditor, StoreResponseInput{AuditID: "missing", QuestionID: "1.1", Answer: domain.AnswerYes})
	var notFound domain.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestStoreResponseCreatesFindingAndScores(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	a := newAudit(t, svc)

	out := answer(t, svc, a.ID, "2.1", domain.AnswerNo, "no management review minutes")
	require.Equal(t, 1, out.Sync.FindingsCreated)
	require.Equal(t, 1, out.Sync.ActionPlansCreated)
	require.NotNil(t, out.Score)
	require.Equal(t, 0, out.Score.Earned)
	require.Equal(t, 1, out.Score.Answered)
	require.Equal(t, auditor.ID, out.Response.RespondedBy)
	require.True(t, out.Response.RespondedAt.Equal(testNow))

	got, err := svc.GetAudit(ctx, viewer, a.ID)
	require.NoError(t, err)
	require.Equal(t, domain.AuditInProgress, got.Status)

	list, err := svc.ListFindings(ctx, viewer, a.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, domain.FindingHigh, list[0].Severity)

	// Re-answering Y while the generated plan is open closes the plan and keeps the finding.
	out = answer(t, svc, a.ID, "2.1", domain.AnswerYes, "")
	require.Equal(t, 1, out.Sync.ActionPlansUpdated)
	plans, err := svc.ListActionPlans(ctx, viewer, a.ID)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	require.Equal(t, domain.PlanClosed, plans[0].Status)
}

func TestCompositeRequiresAllSubsForYes(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	a := newAudit(t, svc)

	_, err := svc.StoreResponse(ctx, auditor, StoreResponseInput{AuditID: a.ID, QuestionID: "1.2", Answer: domain.AnswerYes})
	requireConflict(t, err, "composite_requires_all_subs")
	require.Contains(t, err.Error(), "1.2a")

	for _, sub := range []string{"1.2a", "1.2b"} {
		_, err := svc.StoreSubQuestionResponse(ctx, auditor, StoreSubResponseInput{AuditID: a.ID, SubQuestionID: sub, Answer: domain.AnswerYes})
		require.NoError(t, err)
	}
	_, err = svc.StoreSubQuestionResponse(ctx, auditor, StoreSubResponseInput{AuditID: a.ID, SubQuestionID: "1.2c", Answer: domain.AnswerPartial})
	require.NoError(t, err)
	_, err = svc.StoreResponse(ctx, auditor, StoreResponseInput{AuditID: a.ID, QuestionID: "1.2", Answer: domain.AnswerYes})
	requireConflict(t, err, "composite_requires_all_subs")
	require.Contains(t, err.Error(), "1.2c=P")

	_, err = svc.StoreSubQuestionResponse(ctx, auditor, StoreSubResponseInput{AuditID: a.ID, SubQuestionID: "1.2c", Answer: domain.AnswerNotApplicable})
	require.NoError(t, err)
	answer(t, svc, a.ID, "1.2", domain.AnswerYes, "")
}

func TestSubResponseCascadeInvalidatesParent(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	a := newAudit(t, svc)
	for _, sub := range []string{"1.2a", "1.2b", "1.2c"} {
		_, err := svc.StoreSubQuestionResponse(ctx, auditor, StoreSubResponseInput{AuditID: a.ID, SubQuestionID: sub, QuestionID: "1.2", Answer: domain.AnswerYes})
		require.NoError(t, err)
	}
	answer(t, svc, a.ID, "1.2", domain.AnswerYes, "")

	out, err := svc.StoreSubQuestionResponse(ctx, auditor, StoreSubResponseInput{AuditID: a.ID, SubQuestionID: "1.2b", Answer: domain.AnswerNo})
	require.NoError(t, err)
	require.True(t, out.ParentInvalidated)
	require.NotNil(t, out.Parent)
	require.Equal(t, domain.AnswerPartial, out.Parent.Answer)
	require.Contains(t, out.Parent.Comment, "1.2b")
	require.Contains(t, out.Parent.Comment, "answered N")
	require.Equal(t, 1, out.Sync.FindingsCreated)

	list, err := svc.ListFindings(ctx, viewer, a.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "1.2", *list[0].QuestionID)

	// The parent is no longer Y, so a further failing sub answer does not cascade again.
	out, err = svc.StoreSubQuestionResponse(ctx, auditor, StoreSubResponseInput{AuditID: a.ID, SubQuestionID: "1.2c", Answer: domain.AnswerPartial})
	require.NoError(t, err)
	require.False(t, out.ParentInvalidated)
	require.Nil(t, out.Parent)
}

func TestSubResponseValidation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	a := newAudit(t, svc)
	var validation domain.ValidationError

	_, err := svc.StoreSubQuestionResponse(ctx, auditor, StoreSubResponseInput{AuditID: a.ID, SubQuestionID: "1.2a", QuestionID: "5.3", Answer: domain.AnswerYes})
	require.ErrorAs(t, err, &validation)
	_, err = svc.StoreSubQuestionResponse(ctx, auditor, StoreSubResponseInput{AuditID: a.ID, SubQuestionID: "1.9z", Answer: domain.AnswerYes})
	require.ErrorAs(t, err, &validation)
	_, err = svc.StoreSubQuestionResponse(ctx, auditor, StoreSubResponseInput{AuditID: a.ID, SubQuestionID: "1.2a", Answer: "X"})
	require.ErrorAs(t, err, &validation)
}

func TestReconcileFindingsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	a := newAudit(t, svc)
	answer(t, svc, a.ID, "3.1", domain.AnswerNo, "missing")
	answer(t, svc, a.ID, "3.2", domain.AnswerPartial, "partial")

	first, err := svc.ReconcileFindings(ctx, auditor, a.ID)
	require.NoError(t, err)
	require.True(t, first.Empty(), "per-response path already created findings: %+v", first)
	second, err := svc.ReconcileFindings(ctx, auditor, a.ID)
	require.NoError(t, err)
	require.True(t, second.Empty())
	list, err := svc.ListFindings(ctx, viewer, a.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
}

func TestCompletionUnderClosureGate(t *testing.T) {
	ctx := context.Background()
	log := &captureLogger{}
	svc := newTestService(t, WithLogger(log))
	a := newAudit(t, svc)

	_, err := svc.TransitionAudit(ctx, auditor, TransitionAuditInput{AuditID: a.ID, To: domain.AuditCompleted})
	requireConflict(t, err, "audit_transition")

	answer(t, svc, a.ID, "1.1", domain.AnswerYes, "")
	_, err = svc.TransitionAudit(ctx, auditor, TransitionAuditInput{AuditID: a.ID, To: domain.AuditCompleted})
	requireConflict(t, err, string(lifecycle.PolicyClosureGate))
	require.Contains(t, err.Error(), "have no response")

	decision, err := svc.ClosureCheck(ctx, viewer, a.ID)
	require.NoError(t, err)
	require.False(t, decision.CanClose)
	_, ok := decision.Find(diagnostics.CategoryUnanswered)
	require.True(t, ok)

	answerAllYes(t, svc, a.ID)
	out, err := svc.TransitionAudit(ctx, auditor, TransitionAuditInput{AuditID: a.ID, To: domain.AuditCompleted})
	require.NoError(t, err)
	require.Equal(t, domain.AuditInProgress, out.From)
	require.Equal(t, domain.AuditCompleted, out.Audit.Status)
	require.NotNil(t, out.Audit.ClosedOn)
	require.Equal(t, time.Date(2026, 5, 14, 0, 0, 0, 0, time.UTC), *out.Audit.ClosedOn)
	require.NotNil(t, out.Decision)
	require.True(t, out.Decision.CanClose)
	require.NotNil(t, out.Score)
	require.Equal(t, 367, out.Score.Earned)
	require.Equal(t, 5, out.Score.StarLevel)
	require.True(t, log.saw("i:audit completed"))

	// Completed audits are outside the edit window until reopened.
	_, err = svc.StoreResponse(ctx, auditor, StoreResponseInput{AuditID: a.ID, QuestionID: "1.1", Answer: domain.AnswerNo, Comment: "late"})
	requireConflict(t, err, "audit_edit_window")
	_, err = svc.TransitionAudit(ctx, auditor, TransitionAuditInput{AuditID: a.ID, To: domain.AuditCancelled})
	requireConflict(t, err, "audit_transition")
}

func TestCompletionUnderAnyResponsePolicy(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, WithCompletionPolicy(lifecycle.PolicyAnyResponse))
	a := newAudit(t, svc)
	_, err := svc.TransitionAudit(ctx, auditor, TransitionAuditInput{AuditID: a.ID, To: domain.AuditInProgress})
	require.NoError(t, err)

	_, err = svc.TransitionAudit(ctx, auditor, TransitionAuditInput{AuditID: a.ID, To: domain.AuditCompleted})
	requireConflict(t, err, string(lifecycle.PolicyAnyResponse))

	answer(t, svc, a.ID, "4.1", domain.AnswerNo, "no internal audit")
	closedOn := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	_, err = svc.TransitionAudit(ctx, auditor, TransitionAuditInput{AuditID: a.ID, To: domain.AuditCompleted, ClosedOn: &closedOn})
	var validation domain.ValidationError
	require.ErrorAs(t, err, &validation, "closed date before the opening date")

	out, err := svc.TransitionAudit(ctx, auditor, TransitionAuditInput{AuditID: a.ID, To: domain.AuditCompleted})
	require.NoError(t, err)
	require.Nil(t, out.Decision)
	require.Equal(t, 0, out.Score.Earned)
}

func TestReopenAudit(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, WithCompletionPolicy(lifecycle.PolicyAnyResponse))
	a := newAudit(t, svc)
	answer(t, svc, a.ID, "1.1", domain.AnswerYes, "")

	_, err := svc.ReopenAudit(ctx, lead, a.ID, justification)
	requireConflict(t, err, "reopen")

	_, err = svc.TransitionAudit(ctx, auditor, TransitionAuditInput{AuditID: a.ID, To: domain.AuditCompleted})
	require.NoError(t, err)

	_, err = svc.ReopenAudit(ctx, auditor, a.ID, justification)
	var denied domain.AuthorizationError
	require.ErrorAs(t, err, &denied)
	_, err = svc.ReopenAudit(ctx, lead, a.ID, "too short")
	var validation domain.ValidationError
	require.ErrorAs(t, err, &validation)

	reopened, err := svc.ReopenAudit(ctx, lead, a.ID, justification)
	require.NoError(t, err)
	require.Equal(t, domain.AuditInProgress, reopened.Status)
	require.Nil(t, reopened.ClosedOn)
	require.Equal(t, justification, reopened.ReopenJustification)
	require.NotNil(t, reopened.ReopenedAt)

	answer(t, svc, a.ID, "1.1", domain.AnswerNo, "editable again")
}

func TestActionPlanLifecycle(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	a := newAudit(t, svc)
	answer(t, svc, a.ID, "6.1", domain.AnswerNo, "no personnel files")
	plan := mustSinglePlan(t, svc, a.ID)

	_, err := svc.TransitionActionPlan(ctx, auditor, TransitionPlanInput{PlanID: plan.ID, To: domain.PlanClosed, ResolutionNotes: "done", EffectivenessEvaluation: "effective"})
	requireConflict(t, err, "action_plan_transition")

	_, err = svc.TransitionActionPlan(ctx, auditor, TransitionPlanInput{PlanID: plan.ID, To: domain.PlanInProgress})
	require.NoError(t, err)
	_, err = svc.TransitionActionPlan(ctx, auditor, TransitionPlanInput{PlanID: plan.ID, To: domain.PlanClosed, ResolutionNotes: "files created"})
	var validation domain.ValidationError
	require.ErrorAs(t, err, &validation)
	require.Equal(t, "effectiveness_evaluation", validation.Field)

	closed, err := svc.TransitionActionPlan(ctx, auditor, TransitionPlanInput{PlanID: plan.ID, To: domain.PlanClosed, ResolutionNotes: "files created", EffectivenessEvaluation: "effective"})
	require.NoError(t, err)
	require.Equal(t, domain.PlanClosed, closed.Status)
	require.NotNil(t, closed.ClosedAt)

	_, err = svc.ReopenActionPlan(ctx, auditor, plan.ID, justification)
	var denied domain.AuthorizationError
	require.ErrorAs(t, err, &denied)
	reopened, err := svc.ReopenActionPlan(ctx, lead, plan.ID, justification)
	require.NoError(t, err)
	require.Equal(t, domain.PlanOpen, reopened.Status)
	require.Nil(t, reopened.ClosedAt)
	require.Empty(t, reopened.ResolutionNotes)
	require.Equal(t, justification, reopened.ReopenJustification)

	_, err = svc.TransitionActionPlan(ctx, auditor, TransitionPlanInput{PlanID: "missing", To: domain.PlanDeferred})
	var notFound domain.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func mustSinglePlan(t *testing.T, svc *Service, auditID string) ActionPlan {
	t.Helper()
	plans, err := svc.ListActionPlans(context.Background(), viewer, auditID)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	return plans[0]
}

func TestManualFindingAndDeletion(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	a := newAudit(t, svc)

	_, err := svc.CreateFinding(ctx, auditor, CreateFindingInput{AuditID: a.ID})
	var validation domain.ValidationError
	require.ErrorAs(t, err, &validation)
	_, err = svc.CreateFinding(ctx, auditor, CreateFindingInput{AuditID: a.ID, Title: "x", Severity: "critical"})
	require.ErrorAs(t, err, &validation)

	f, err := svc.CreateFinding(ctx, auditor, CreateFindingInput{AuditID: a.ID, QuestionID: "7.3", Title: "Expired reagents on shelf"})
	require.NoError(t, err)
	require.Equal(t, domain.OriginManual, f.Origin)
	require.Equal(t, domain.FindingMedium, f.Severity)
	require.Equal(t, "S7", *f.SectionID)

	_, err = svc.CreateActionPlan(ctx, auditor, CreateActionPlanInput{FindingID: f.ID})
	require.ErrorAs(t, err, &validation)
	plan, err := svc.CreateActionPlan(ctx, auditor, CreateActionPlanInput{FindingID: f.ID, Recommendation: "Introduce a FEFO stock rotation"})
	require.NoError(t, err)
	require.Equal(t, "corrective", plan.Type)
	require.Equal(t, auditor.ID, plan.ResponsibleID)
	require.Equal(t, time.Date(2026, 6, 28, 0, 0, 0, 0, time.UTC), plan.DueDate)

	err = svc.DeleteFinding(ctx, auditor, f.ID)
	requireConflict(t, err, "finding_active_plan")

	_, err = svc.TransitionActionPlan(ctx, auditor, TransitionPlanInput{PlanID: plan.ID, To: domain.PlanDeferred})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteFinding(ctx, auditor, f.ID))

	list, err := svc.ListFindings(ctx, viewer, a.ID)
	require.NoError(t, err)
	require.Empty(t, list)
	plans, err := svc.ListActionPlans(ctx, viewer, a.ID)
	require.NoError(t, err)
	require.Empty(t, plans)

	err = svc.DeleteFinding(ctx, auditor, f.ID)
	var notFound domain.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestFindingEventsArePublished(t *testing.T) {
	ctx := context.Background()
	pub := &capturePublisher{}
	svc := newTestService(t, WithEvents(pub))
	a := newAudit(t, svc)

	f, err := svc.CreateFinding(ctx, auditor, CreateFindingInput{AuditID: a.ID, Title: "Unlabelled sample rack", Severity: domain.FindingLow})
	require.NoError(t, err)
	_, err = svc.CreateActionPlan(ctx, auditor, CreateActionPlanInput{FindingID: f.ID, Recommendation: "Label every rack"})
	require.NoError(t, err)
	requireConflict(t, svc.DeleteFinding(ctx, auditor, f.ID), "finding_active_plan")

	plan := mustSinglePlan(t, svc, a.ID)
	_, err = svc.TransitionActionPlan(ctx, auditor, TransitionPlanInput{PlanID: plan.ID, To: domain.PlanDeferred})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteFinding(ctx, auditor, f.ID))

	require.Equal(t, []domain.EventType{
		domain.EventAuditCreated,
		domain.EventFindingCreated,
		domain.EventActionPlanChanged,
		domain.EventActionPlanChanged,
		domain.EventFindingDeleted,
	}, pub.types())
	created, deleted := pub.events[1], pub.events[4]
	require.Equal(t, f.ID, created.EntityID)
	require.Equal(t, "low", created.Data["severity"])
	require.Equal(t, "manual", created.Data["origin"])
	require.Equal(t, f.ID, deleted.EntityID)
	require.Equal(t, a.ID, deleted.AuditID)
	require.Equal(t, 1, deleted.Data["action_plans_removed"])
}

type rejectResponsesRule struct{}

func (rejectResponsesRule) Name() string { return "frozen_checklist" }

func (rejectResponsesRule) Evaluate(_ context.Context, _ TransactionView, changes []Change) (Result, error) {
	res := Result{}
	for _, c := range changes {
		if c.Entity == EntityResponse {
			res.Violations = append(res.Violations, Violation{Rule: "frozen_checklist", Severity: SeverityBlock, Message: "responses are frozen"})
		}
	}
	return res, nil
}

func TestRuleViolationRollsBackAsConflict(t *testing.T) {
	ctx := context.Background()
	engine := NewDefaultRulesEngine()
	engine.Register(rejectResponsesRule{})
	svc := newTestServiceWithEngine(t, engine)
	a := newAudit(t, svc)

	_, err := svc.StoreResponse(ctx, auditor, StoreResponseInput{AuditID: a.ID, QuestionID: "5.1", Answer: domain.AnswerNo, Comment: "x"})
	requireConflict(t, err, "frozen_checklist")

	list, err := svc.ListFindings(ctx, viewer, a.ID)
	require.NoError(t, err)
	require.Empty(t, list, "finding created in the same transaction must roll back")
	got, err := svc.GetAudit(ctx, viewer, a.ID)
	require.NoError(t, err)
	require.Equal(t, domain.AuditDraft, got.Status)
}

func TestEventsArePublishedBestEffort(t *testing.T) {
	ctx := context.Background()
	pub := &capturePublisher{err: errors.New("broker down")}
	log := &captureLogger{}
	svc := newTestService(t, WithEvents(pub), WithLogger(log))
	a := newAudit(t, svc)

	_, err := svc.StoreResponse(ctx, auditor, StoreResponseInput{AuditID: a.ID, QuestionID: "8.1", Answer: domain.AnswerNo, Comment: "x"})
	require.NoError(t, err)
	require.Equal(t, []domain.EventType{domain.EventAuditCreated, domain.EventResponseStored}, pub.types())
	require.Equal(t, 1, pub.events[1].Data["findings_created"])
	require.True(t, pub.events[1].OccurredAt.Equal(testNow))
	require.True(t, log.saw("w:event publish failed"))
}

func TestDiagnoseUsesEvidence(t *testing.T) {
	ctx := context.Background()
	evidence := evidenceSet{}
	svc := newTestService(t, WithEvidence(evidence))
	a := newAudit(t, svc)
	answer(t, svc, a.ID, "9.1", domain.AnswerNo, "no records")
	answer(t, svc, a.ID, "9.2", domain.AnswerNo, "no records")
	evidence[a.ID+"/9.2"] = true

	report, err := svc.Diagnose(ctx, viewer, a.ID)
	require.NoError(t, err)
	require.Len(t, report.EvidenceMissing, 1)
	require.Equal(t, "9.1", report.EvidenceMissing[0].QuestionID)
	require.Empty(t, report.NCWithoutFinding)
	require.Len(t, report.Unanswered, 149)

	decision, err := svc.ClosureCheck(ctx, viewer, a.ID)
	require.NoError(t, err)
	require.Equal(t, 1, decision.EvidenceFlagCount)
}

func TestScoresAndTrend(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	first := newAudit(t, svc)
	answer(t, svc, first.ID, "2.1", domain.AnswerPartial, "partly")

	follow, err := svc.CreateAudit(ctx, auditor, CreateAuditInput{LaboratoryID: "lab-1", PreviousAuditID: first.ID})
	require.NoError(t, err)
	trend, err := svc.CompareWithPrevious(ctx, viewer, follow.ID)
	require.NoError(t, err)
	require.False(t, trend.Comparable)

	answer(t, svc, follow.ID, "2.1", domain.AnswerYes, "")
	trend, err = svc.CompareWithPrevious(ctx, viewer, follow.ID)
	require.NoError(t, err)
	require.True(t, trend.Comparable)
	require.Greater(t, trend.PercentageDelta, 0.0)

	sections, err := svc.SectionScores(ctx, viewer, follow.ID)
	require.NoError(t, err)
	require.Len(t, sections, 12)
	require.Nil(t, sections[0].Score)
	require.NotNil(t, sections[1].Score)
	require.Equal(t, 19, sections[1].Score.TotalPossible)

	_, err = svc.Score(ctx, outsider, follow.ID)
	var denied domain.AuthorizationError
	require.ErrorAs(t, err, &denied)
}

func TestStoreResponseTwiceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	a := newAudit(t, svc)

	first := answer(t, svc, a.ID, "2.1", domain.AnswerNo, "no management review minutes")
	findingsBefore, err := svc.ListFindings(ctx, viewer, a.ID)
	require.NoError(t, err)
	plansBefore, err := svc.ListActionPlans(ctx, viewer, a.ID)
	require.NoError(t, err)

	second := answer(t, svc, a.ID, "2.1", domain.AnswerNo, "no management review minutes")
	require.Equal(t, first.Response.ID, second.Response.ID)
	require.True(t, first.Response.CreatedAt.Equal(second.Response.CreatedAt))
	require.Equal(t, first.Response, second.Response)
	require.Zero(t, second.Sync)
	require.Equal(t, *first.Score, *second.Score)

	findingsAfter, err := svc.ListFindings(ctx, viewer, a.ID)
	require.NoError(t, err)
	plansAfter, err := svc.ListActionPlans(ctx, viewer, a.ID)
	require.NoError(t, err)
	require.Equal(t, findingsBefore, findingsAfter)
	require.Equal(t, plansBefore, plansAfter)

	score, err := svc.Score(ctx, viewer, a.ID)
	require.NoError(t, err)
	require.Equal(t, *second.Score, *score)
}

func TestFullChecklistScoreAndNotApplicableExclusion(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	a := newAudit(t, svc)
	answerAllYes(t, svc, a.ID)

	score, err := svc.Score(ctx, viewer, a.ID)
	require.NoError(t, err)
	require.Equal(t, 151, score.Answered)
	require.Equal(t, 367, score.TotalPossible)
	require.Equal(t, 367, score.Earned)
	require.Equal(t, 100.0, score.Percentage)
	require.Equal(t, 5, score.StarLevel)

	out := answer(t, svc, a.ID, "1.1", domain.AnswerNotApplicable, "no quality manual scope")
	require.Equal(t, 3, out.Score.NAPointsExcluded)
	require.Equal(t, 364, out.Score.AdjustedDenominator)

	score, err = svc.Score(ctx, viewer, a.ID)
	require.NoError(t, err)
	require.Equal(t, 3, score.NAPointsExcluded)
	require.Equal(t, 364, score.AdjustedDenominator)
	require.Equal(t, 364, score.Earned)
	require.Equal(t, 100.0, score.Percentage)
	require.Equal(t, 5, score.StarLevel)
}

func TestServiceOptionsCoverClockAndLogger(t *testing.T) {
	fixed := time.Unix(123, 0).UTC()
	log := &captureLogger{}
	cat, err := catalog.Default()
	require.NoError(t, err)
	svc, err := NewInMemoryService(cat, WithClock(ClockFunc(func() time.Time { return fixed })), WithLogger(log), WithDueDays(10))
	require.NoError(t, err)
	require.Equal(t, fixed, svc.clock.Now())
	require.Equal(t, 10, svc.sync.DueDays())

	_, err = svc.CreateAudit(context.Background(), auditor, CreateAuditInput{LaboratoryID: "lab-1"})
	require.NoError(t, err)
	require.NotEmpty(t, log.calls)
	require.True(t, strings.HasPrefix(log.calls[0], "d:"))
}

func TestOperationsCoverEveryEntityType(t *testing.T) {
	seen := map[EntityType]bool{}
	for _, meta := range operations {
		seen[meta.entity] = true
	}
	want := []EntityType{EntityAudit, EntityResponse, EntitySubResponse, EntityFinding, EntityActionPlan, EntityEvidence}
	require.Len(t, seen, len(want))
	for _, e := range want {
		require.True(t, seen[e], "no operation records %s", e)
	}
}
