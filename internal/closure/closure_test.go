package closure_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"sliptacore/internal/catalog"
	"sliptacore/internal/closure"
	"sliptacore/internal/diagnostics"
	"sliptacore/pkg/domain"
)

type noEvidence struct{}

func (noEvidence) HasEvidence(context.Context, string, string) (bool, error) { return false, nil }

func TestEvaluateEmptyReportCanClose(t *testing.T) {
	d := closure.Evaluate(diagnostics.Report{})
	require.True(t, d.CanClose)
	require.Empty(t, d.Blockers)
	require.NotNil(t, d.Blockers)
	require.Zero(t, d.EvidenceFlagCount)
}

func TestEvaluateUnansweredBlocks(t *testing.T) {
	d := closure.Evaluate(diagnostics.Report{
		Unanswered: []diagnostics.Gap{{QuestionID: "7.3"}},
	})
	require.False(t, d.CanClose)
	require.Len(t, d.Blockers, 1)
	require.Equal(t, diagnostics.CategoryUnanswered, d.Blockers[0].Type)
	require.Equal(t, 1, d.Blockers[0].Count)
	require.Equal(t, closure.LevelBlock, d.Blockers[0].Severity)
	require.Contains(t, d.Blockers[0].Message, "1 question")
}

func TestEvaluateAdvisoryCategoriesNeverBlock(t *testing.T) {
	d := closure.Evaluate(diagnostics.Report{
		EvidenceMissing: []diagnostics.Gap{{QuestionID: "1.1"}, {QuestionID: "1.3"}},
		Contradictions:  []diagnostics.Gap{{QuestionID: "2.1"}},
	})
	require.True(t, d.CanClose)
	require.Equal(t, 2, d.EvidenceFlagCount)
	require.Len(t, d.Warnings, 2)
	w, ok := d.Find(diagnostics.CategoryContradictions)
	require.True(t, ok)
	require.Equal(t, closure.LevelWarn, w.Severity)
}

func TestEvaluateBlockingCategories(t *testing.T) {
	gap := []diagnostics.Gap{{QuestionID: "x"}}
	rep := diagnostics.Report{
		Unanswered:             gap,
		NCWithoutFinding:       gap,
		NAWithoutJustification: gap,
		MissingComments:        gap,
		CompositeViolations:    gap,
	}
	d := closure.Evaluate(rep)
	require.False(t, d.CanClose)
	require.Len(t, d.Blockers, 5)
	for _, c := range diagnostics.Categories() {
		_, found := d.Find(c)
		require.Equal(t, closure.Blocking(c), found, "category %s", c)
	}
}

func TestCompleteAuditMissingOnlyEvidenceCanClose(t *testing.T) {
	cat, err := catalog.Default()
	require.NoError(t, err)

	in := diagnostics.Input{AuditID: "a1"}
	for _, q := range cat.Questions() {
		in.Responses = append(in.Responses, domain.Response{QuestionID: q.ID, Answer: domain.AnswerYes})
	}
	for _, sq := range cat.SubQuestions() {
		in.SubResponses = append(in.SubResponses, domain.SubQuestionResponse{SubQuestionID: sq.ID, QuestionID: sq.QuestionID, Answer: domain.AnswerYes})
	}
	in.Responses[10].Answer = domain.AnswerNo
	in.Responses[10].Comment = "expired reagents"
	qid := in.Responses[10].QuestionID
	in.Findings = []domain.Finding{{Base: domain.Base{ID: "f1"}, QuestionID: &qid}}

	rep, err := diagnostics.Run(context.Background(), cat, in, noEvidence{})
	require.NoError(t, err)
	d := closure.Evaluate(rep)
	require.True(t, d.CanClose)
	require.Equal(t, 1, d.EvidenceFlagCount)

	in.Responses = in.Responses[1:]
	rep, err = diagnostics.Run(context.Background(), cat, in, noEvidence{})
	require.NoError(t, err)
	d = closure.Evaluate(rep)
	require.False(t, d.CanClose)
	b, ok := d.Find(diagnostics.CategoryUnanswered)
	require.True(t, ok)
	require.Equal(t, 1, b.Count)
}
