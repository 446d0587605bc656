// Package backend defines the uniform adapter interface implemented once per
// physical store. Adapters map the generic key/record model onto their native
// representation and never panic on transient failure: they return typed
// errors distinguishing connection failures (retryable, trigger failover)
// from rejected operations (not retried).
package backend

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/devrev/omnistore/internal/errors"
	"github.com/devrev/omnistore/internal/model"
)

// Backend is the adapter contract consumed by the orchestrator
type Backend interface {
	// Name identifies the adapter in health reports and logs
	Name() string

	// Store persists a record under key, replacing any previous value
	Store(ctx context.Context, key string, rec model.Record) error

	// Load returns the record for key, or a KeyNotFound error
	Load(ctx context.Context, key string) (model.Record, error)

	// Delete removes the record for key. Deleting an absent key is not
	// an error.
	Delete(ctx context.Context, key string) error

	// ListKeys returns the stored keys matching prefix
	ListKeys(ctx context.Context, prefix string) ([]string, error)

	// StoreVersion persists a labeled snapshot independent of the live
	// record
	StoreVersion(ctx context.Context, key, label string, rec model.Record) error

	// LoadVersion returns a labeled snapshot; an empty label means the
	// most recent one
	LoadVersion(ctx context.Context, key, label string) (model.Record, error)

	// ListVersions returns version metadata for key, newest first
	ListVersions(ctx context.Context, key string) ([]model.VersionInfo, error)

	// HealthCheck probes the backing store
	HealthCheck(ctx context.Context) error

	// Close releases the adapter's connection pool
	Close() error
}

// EdgeStore is an optional interface for backends that can persist
// relationship edges natively. The key-value adapter implements it with one
// sorted set per subject so relationship queries stay ordered and paginable.
type EdgeStore interface {
	StoreEdge(ctx context.Context, subject, predicate, object string) error
	DeleteEdge(ctx context.Context, subject, predicate, object string) error
	Edges(ctx context.Context, subject string) ([]model.RelationshipEdge, error)
	PurgeEdges(ctx context.Context, key string) error
}

// Descriptor binds an adapter into the failover chain
type Descriptor struct {
	Name     string
	Backend  Backend
	Priority int           // lower is consulted first; ties break by registration order
	Timeout  time.Duration // per-call bound; timeouts count as connection failures
}

// DefaultTimeout bounds backend calls when a descriptor does not set one
const DefaultTimeout = 5 * time.Second

// CallTimeout returns the effective per-call timeout for the descriptor
func (d Descriptor) CallTimeout() time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return DefaultTimeout
}

// Classify normalizes an adapter-level error into the storage error
// taxonomy. Context deadline and cancellation are connection-class: the
// backend did not acknowledge the operation in time.
func Classify(name string, err error) error {
	if err == nil {
		return nil
	}
	var se *errors.StorageError
	if stderrors.As(err, &se) {
		if se.Backend == "" {
			se.Backend = name
		}
		return se
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Timeout(name, err)
	}
	if stderrors.Is(err, context.Canceled) {
		return errors.ConnectionFailed(name, "backend call canceled", err)
	}
	return errors.ConnectionFailed(name, "backend call failed", err)
}
