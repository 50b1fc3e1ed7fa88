package backed

import (
	"context"

	"github.com/holdfast-db/holdfast/pkg/flush"
	"github.com/holdfast-db/holdfast/pkg/storage"
)

// StateManager manages the lifecycle state of one owning entity. The
// collection uses it to mark the owner dirty and to reach the surrounding
// execution context.
type StateManager interface {
	storage.Owner

	// MakeDirty signals that the named field's persistent state has changed
	// and needs flushing.
	MakeDirty(field string)

	// IsFieldLoaded reports whether the named field currently holds a loaded
	// value.
	IsFieldLoaded(field string) bool

	// StoreFieldValue records a value for the named field, marking it loaded.
	StoreFieldValue(field string, value any)

	// IsNew reports whether the entity has never been persisted.
	IsNew() bool

	// FlushedToStore reports whether the entity's pending state has reached
	// the store at least once.
	FlushedToStore() bool

	// ExecutionContext returns the surrounding unit-of-work context.
	ExecutionContext() ExecutionContext
}

// ExecutionContext is the surrounding persistence context for a unit of work.
type ExecutionContext interface {
	// TransactionActive reports whether a transaction is currently open.
	TransactionActive() bool

	// QueuedOperations reports whether store writes are deferred to flush
	// time instead of being applied immediately.
	QueuedOperations() bool

	// AddOperationToQueue appends a deferred operation to the context's
	// ordered operation log.
	AddOperationToQueue(op flush.Operation)

	// ManagesRelationships reports whether bidirectional relations are kept
	// consistent by a relationship manager.
	ManagesRelationships() bool

	// RelationshipManager returns the relationship manager for the given
	// owner.
	RelationshipManager(sm StateManager) RelationshipManager

	// FindStateManager returns the state manager for a managed element, or
	// nil when the element is not managed by this context.
	FindStateManager(element any) StateManager

	// NewEmbeddedStateManager creates and registers a state manager for an
	// element embedded in the given owner field.
	NewEmbeddedStateManager(owner StateManager, field string, element any) StateManager

	// CollectionCachingEnabled reports the context-level default for
	// collection caching.
	CollectionCachingEnabled() bool

	// ProcessNontransactionalUpdate makes a mutation performed outside a
	// transaction durable immediately.
	ProcessNontransactionalUpdate(ctx context.Context) error
}

// RelationshipManager keeps both sides of a bidirectional association
// consistent.
type RelationshipManager interface {
	RelationAdd(field string, element any)
	RelationRemove(field string, element any)
}
