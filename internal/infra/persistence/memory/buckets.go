package memory

import (
	"encoding/json"
	"fmt"
)

// Bucket names used by the durable stores, one row per bucket.
const (
	BucketChildren     = "children"
	BucketCentres      = "centres"
	BucketUsers        = "users"
	BucketVisits       = "visits"
	BucketAssignments  = "assignments"
	BucketCaseNotes    = "case_notes"
	BucketProgressions = "progressions"
	BucketAuditLog     = "audit_log"
)

// Buckets lists every bucket in persistence order.
var Buckets = []string{
	BucketChildren,
	BucketCentres,
	BucketUsers,
	BucketVisits,
	BucketAssignments,
	BucketCaseNotes,
	BucketProgressions,
	BucketAuditLog,
}

// PersonalDataBuckets are encrypted at rest. The audit log copies field values
// and labels out of the other personal buckets, so it is sealed too.
var PersonalDataBuckets = map[string]bool{
	BucketChildren:  true,
	BucketCentres:   true,
	BucketCaseNotes: true,
	BucketAuditLog:  true,
}

func (s *Snapshot) bucketTarget(name string) (any, error) {
	switch name {
	case BucketChildren:
		return &s.Children, nil
	case BucketCentres:
		return &s.Centres, nil
	case BucketUsers:
		return &s.Users, nil
	case BucketVisits:
		return &s.Visits, nil
	case BucketAssignments:
		return &s.Assignments, nil
	case BucketCaseNotes:
		return &s.CaseNotes, nil
	case BucketProgressions:
		return &s.Progressions, nil
	case BucketAuditLog:
		return &s.AuditLog, nil
	default:
		return nil, fmt.Errorf("unknown bucket %q", name)
	}
}

// EncodeBucket marshals one bucket of the snapshot to JSON.
func (s Snapshot) EncodeBucket(name string) ([]byte, error) {
	target, err := s.bucketTarget(name)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(target)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}
	return data, nil
}

// DecodeBucket unmarshals a JSON payload into the named bucket. Unknown
// buckets are ignored so older databases keep loading.
func (s *Snapshot) DecodeBucket(name string, payload []byte) error {
	target, err := s.bucketTarget(name)
	if err != nil {
		return nil
	}
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}
