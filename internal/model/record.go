package model

import "time"

// Record is an open field-to-value mapping identified by a string key.
// Field values are restricted to what the canonical codec can represent:
// strings, bools, numbers, nested maps and slices thereof.
type Record map[string]any

// Clone returns a shallow copy of the record. Field values are shared;
// callers that mutate nested values must deep-copy themselves.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Operation defines the kind of a mutating storage operation
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// AuditEntry is one immutable entry in a key's audit trail
type AuditEntry struct {
	ID        string
	Key       string
	Operation Operation
	Identity  string
	Timestamp time.Time
	Snapshot  Record // nil when snapshot retention is disabled
}

// RelationshipEdge is a directed, labeled link between two record keys
type RelationshipEdge struct {
	Subject   string
	Predicate string
	Object    string
}

// PolicyDecision is an externally-computed authorization verdict with expiry
type PolicyDecision struct {
	Identity  string
	Action    string
	Resource  string
	Allowed   bool
	Reason    string
	CachedAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the decision must be treated as a cache miss
func (d PolicyDecision) Expired(now time.Time) bool {
	return !now.Before(d.ExpiresAt)
}

// VersionInfo describes one stored version of a record
type VersionInfo struct {
	Label     string
	Timestamp time.Time
}
