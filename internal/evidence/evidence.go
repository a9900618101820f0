// Package evidence keeps files attached to audit questions in a blob store.
// A question has evidence when at least one blob exists under
// evidence/<audit>/<question>/.
package evidence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"sliptacore/internal/blob"
	"sliptacore/pkg/domain"
)

// Root is the key prefix every evidence blob lives under.
const Root = "evidence"

const (
	metaAuditID    = "audit_id"
	metaQuestionID = "question_id"
	metaUploadedBy = "uploaded_by"
)

// Attachment is a file to attach to a question.
type Attachment struct {
	AuditID     string
	QuestionID  string
	Name        string
	ContentType string
	UploadedBy  string
	Body        io.Reader
}

// Item describes an attached file.
type Item struct {
	Key         string    `json:"key"`
	AuditID     string    `json:"audit_id"`
	QuestionID  string    `json:"question_id"`
	Name        string    `json:"name"`
	Size        int64     `json:"size_bytes"`
	ContentType string    `json:"content_type,omitempty"`
	ETag        string    `json:"etag,omitempty"`
	UploadedBy  string    `json:"uploaded_by,omitempty"`
	AttachedAt  time.Time `json:"attached_at"`
}

// Store implements diagnostics.EvidenceChecker over a blob.Store.
type Store struct {
	blobs blob.Store
}

// New wraps a blob store.
func New(blobs blob.Store) *Store {
	return &Store{blobs: blobs}
}

// Blobs exposes the underlying blob store.
func (s *Store) Blobs() blob.Store { return s.blobs }

// Prefix returns the key prefix for an audit, or for one of its questions
// when questionID is set. The result always ends in "/".
func Prefix(auditID, questionID string) string {
	if questionID == "" {
		return path.Join(Root, auditID) + "/"
	}
	return path.Join(Root, auditID, questionID) + "/"
}

// Key returns the blob key of a named attachment.
func Key(auditID, questionID, name string) string {
	return Prefix(auditID, questionID) + name
}

func validSegment(field, v string) error {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return domain.ValidationError{Field: field, Message: "required"}
	case strings.ContainsAny(v, `/\`) || v == "." || v == "..":
		return domain.ValidationError{Field: field, Message: fmt.Sprintf("invalid value %q", v)}
	}
	return nil
}

// HasEvidence reports whether any blob exists under the question prefix.
func (s *Store) HasEvidence(ctx context.Context, auditID, questionID string) (bool, error) {
	infos, err := s.blobs.List(ctx, Prefix(auditID, questionID))
	if err != nil {
		return false, fmt.Errorf("list evidence %s/%s: %w", auditID, questionID, err)
	}
	return len(infos) > 0, nil
}

// Attach stores a new file. Names are unique per question; attaching the
// same name twice is a conflict.
func (s *Store) Attach(ctx context.Context, a Attachment) (Item, error) {
	if err := validSegment("audit_id", a.AuditID); err != nil {
		return Item{}, err
	}
	if err := validSegment("question_id", a.QuestionID); err != nil {
		return Item{}, err
	}
	if err := validSegment("name", a.Name); err != nil {
		return Item{}, err
	}
	if a.Body == nil {
		return Item{}, domain.ValidationError{Field: "body", Message: "required"}
	}
	name := strings.TrimSpace(a.Name)
	key := Key(a.AuditID, a.QuestionID, name)
	info, err := s.blobs.Put(ctx, key, a.Body, blob.PutOptions{
		ContentType: a.ContentType,
		Metadata: map[string]string{
			metaAuditID:    a.AuditID,
			metaQuestionID: a.QuestionID,
			metaUploadedBy: a.UploadedBy,
		},
	})
	if errors.Is(err, blob.ErrExists) {
		return Item{}, domain.ConflictError{Rule: "evidence_unique_name", Message: fmt.Sprintf("%s already attached to question %s", name, a.QuestionID)}
	}
	if err != nil {
		return Item{}, fmt.Errorf("attach %s: %w", key, err)
	}
	item := itemFrom(info)
	if item.UploadedBy == "" {
		item.UploadedBy = a.UploadedBy
	}
	return item, nil
}

// List returns the files attached to an audit, or to one question when
// questionID is set, ordered by key.
func (s *Store) List(ctx context.Context, auditID, questionID string) ([]Item, error) {
	infos, err := s.blobs.List(ctx, Prefix(auditID, questionID))
	if err != nil {
		return nil, fmt.Errorf("list evidence %s: %w", auditID, err)
	}
	items := make([]Item, 0, len(infos))
	for _, info := range infos {
		items = append(items, itemFrom(info))
	}
	return items, nil
}

// Remove deletes a named attachment, reporting whether it existed.
func (s *Store) Remove(ctx context.Context, auditID, questionID, name string) (bool, error) {
	return s.blobs.Delete(ctx, Key(auditID, questionID, name))
}

// URL returns a download link for an attachment when the backend can sign one.
func (s *Store) URL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return s.blobs.PresignURL(ctx, key, blob.SignedURLOptions{Expiry: expiry})
}

// itemFrom derives the item from its key; listing backends do not return
// user metadata.
func itemFrom(info blob.Info) Item {
	item := Item{
		Key:         info.Key,
		Size:        info.Size,
		ContentType: info.ContentType,
		ETag:        info.ETag,
		AttachedAt:  info.LastModified,
		UploadedBy:  info.Metadata[metaUploadedBy],
	}
	parts := strings.SplitN(strings.TrimPrefix(info.Key, Root+"/"), "/", 3)
	if len(parts) == 3 {
		item.AuditID, item.QuestionID, item.Name = parts[0], parts[1], parts[2]
	}
	return item
}
