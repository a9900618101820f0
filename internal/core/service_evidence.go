package core

import (
	"context"
	"fmt"
	"io"

	"sliptacore/internal/evidence"
	"sliptacore/pkg/domain"
)

// EvidenceStore is an evidence collaborator that also accepts uploads.
type EvidenceStore interface {
	HasEvidence(ctx context.Context, auditID, questionID string) (bool, error)
	Attach(ctx context.Context, a evidence.Attachment) (evidence.Item, error)
	List(ctx context.Context, auditID, questionID string) ([]evidence.Item, error)
}

// AttachEvidenceInput names the question a file is attached to.
type AttachEvidenceInput struct {
	AuditID     string
	QuestionID  string
	Name        string
	ContentType string
	Body        io.Reader
}

func (s *Service) evidenceStore() (EvidenceStore, error) {
	store, ok := s.evidence.(EvidenceStore)
	if !ok {
		return nil, domain.ConflictError{Rule: "evidence_store", Message: "no evidence store configured"}
	}
	return store, nil
}

// AttachEvidence uploads a file for a question of an editable audit.
func (s *Service) AttachEvidence(ctx context.Context, actor Actor, in AttachEvidenceInput) (evidence.Item, error) {
	var item evidence.Item
	err := s.run(ctx, "attach_evidence", actor, in.AuditID, func(ctx context.Context) (string, error) {
		audit, err := s.authorize(ctx, actor, in.AuditID, true)
		if err != nil {
			return "", err
		}
		if !audit.Status.Editable() {
			return "", domain.ConflictError{
				Rule:    "audit_edit_window",
				Message: fmt.Sprintf("audit %s is %s", audit.ID, audit.Status),
			}
		}
		if _, ok := s.catalog.Question(in.QuestionID); !ok {
			return "", domain.ValidationError{Field: "question_id", Message: fmt.Sprintf("unknown question %q", in.QuestionID)}
		}
		store, err := s.evidenceStore()
		if err != nil {
			return "", err
		}
		item, err = store.Attach(ctx, evidence.Attachment{
			AuditID:     in.AuditID,
			QuestionID:  in.QuestionID,
			Name:        in.Name,
			ContentType: in.ContentType,
			UploadedBy:  actor.ID,
			Body:        in.Body,
		})
		return item.Key, err
	})
	if err != nil {
		return evidence.Item{}, err
	}
	return item, nil
}

// ListEvidence returns the files attached to an audit, or to one question
// when questionID is set.
func (s *Service) ListEvidence(ctx context.Context, actor Actor, auditID, questionID string) ([]evidence.Item, error) {
	if _, err := s.authorize(ctx, actor, auditID, false); err != nil {
		return nil, err
	}
	store, err := s.evidenceStore()
	if err != nil {
		return nil, err
	}
	return store.List(ctx, auditID, questionID)
}
