package memory

import (
	"encoding/json"
	"fmt"
)

// Bucket names used by the snapshotting SQL stores.
const (
	BucketAudits       = "audits"
	BucketResponses    = "responses"
	BucketSubResponses = "sub_responses"
	BucketFindings     = "findings"
	BucketActionPlans  = "action_plans"
)

// Buckets lists every snapshot bucket in persistence order.
var Buckets = []string{BucketAudits, BucketResponses, BucketSubResponses, BucketFindings, BucketActionPlans}

func (s *Snapshot) target(bucket string) (any, bool) {
	switch bucket {
	case BucketAudits:
		return &s.Audits, true
	case BucketResponses:
		return &s.Responses, true
	case BucketSubResponses:
		return &s.SubResponses, true
	case BucketFindings:
		return &s.Findings, true
	case BucketActionPlans:
		return &s.ActionPlans, true
	}
	return nil, false
}

// EncodeBucket marshals one bucket of the snapshot as JSON.
func (s Snapshot) EncodeBucket(bucket string) ([]byte, error) {
	target, ok := s.target(bucket)
	if !ok {
		return nil, fmt.Errorf("unknown bucket %q", bucket)
	}
	data, err := json.Marshal(target)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", bucket, err)
	}
	return data, nil
}

// DecodeBucket unmarshals a JSON payload into the named bucket. Unknown
// buckets and empty payloads are ignored so that older databases still load.
func (s *Snapshot) DecodeBucket(bucket string, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	target, ok := s.target(bucket)
	if !ok {
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("decode %s: %w", bucket, err)
	}
	return nil
}
