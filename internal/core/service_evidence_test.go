package core

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"sliptacore/internal/blob"
	"sliptacore/internal/diagnostics"
	"sliptacore/internal/evidence"
	"sliptacore/pkg/domain"
)

func TestAttachEvidenceFeedsDiagnostics(t *testing.T) {
	ctx := context.Background()
	store := evidence.New(blob.NewMemory())
	svc := newTestService(t, WithEvidence(store))
	a := newAudit(t, svc)

	answer(t, svc, a.ID, "1.1", domain.AnswerPartial, "quality manual not signed")
	report, err := svc.Diagnose(ctx, auditor, a.ID)
	require.NoError(t, err)
	require.Len(t, report.Gaps(diagnostics.CategoryEvidenceMissing), 1)

	item, err := svc.AttachEvidence(ctx, auditor, AttachEvidenceInput{
		AuditID:     a.ID,
		QuestionID:  "1.1",
		Name:        "quality-manual.pdf",
		ContentType: "application/pdf",
		Body:        strings.NewReader("%PDF"),
	})
	require.NoError(t, err)
	require.Equal(t, evidence.Key(a.ID, "1.1", "quality-manual.pdf"), item.Key)
	require.Equal(t, auditor.ID, item.UploadedBy)

	report, err = svc.Diagnose(ctx, auditor, a.ID)
	require.NoError(t, err)
	require.Empty(t, report.Gaps(diagnostics.CategoryEvidenceMissing))

	items, err := svc.ListEvidence(ctx, viewer, a.ID, "")
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestAttachEvidenceGuards(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, WithEvidence(evidence.New(blob.NewMemory())))
	a := newAudit(t, svc)
	in := AttachEvidenceInput{AuditID: a.ID, QuestionID: "1.1", Name: "f.txt", Body: strings.NewReader("x")}

	_, err := svc.AttachEvidence(ctx, viewer, in)
	var authErr domain.AuthorizationError
	require.ErrorAs(t, err, &authErr)

	bad := in
	bad.QuestionID = "13.1"
	_, err = svc.AttachEvidence(ctx, auditor, bad)
	var verr domain.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "question_id", verr.Field)

	_, err = svc.TransitionAudit(ctx, auditor, TransitionAuditInput{AuditID: a.ID, To: domain.AuditCancelled})
	require.NoError(t, err)
	_, err = svc.AttachEvidence(ctx, auditor, in)
	requireConflict(t, err, "audit_edit_window")
}

func TestAttachEvidenceWithoutStore(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, WithEvidence(evidenceSet{}))
	a := newAudit(t, svc)
	_, err := svc.AttachEvidence(ctx, auditor, AttachEvidenceInput{AuditID: a.ID, QuestionID: "1.1", Name: "f", Body: strings.NewReader("x")})
	requireConflict(t, err, "evidence_store")
	_, err = svc.ListEvidence(ctx, auditor, a.ID, "1.1")
	requireConflict(t, err, "evidence_store")
}
