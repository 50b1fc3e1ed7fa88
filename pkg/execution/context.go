// Package execution provides a reference persistence context for backed
// collections: transaction bookkeeping, an ordered deferred-operation log
// replayed at flush time, and registries for state and relationship managers.
//
// A Context represents one logical unit of work and is not safe for
// concurrent use.
package execution

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/holdfast-db/holdfast/pkg/backed"
	"github.com/holdfast-db/holdfast/pkg/flush"
	"github.com/holdfast-db/holdfast/pkg/logger"
)

// Option configures a Context.
type Option func(*Context)

// WithQueuedOperations defers store writes to flush time instead of applying
// them immediately.
func WithQueuedOperations(queued bool) Option {
	return func(c *Context) {
		c.queued = queued
	}
}

// WithManagedRelationships enables relationship management: collections
// notify a relationship manager of added and removed associations.
func WithManagedRelationships(managed bool) Option {
	return func(c *Context) {
		c.manageRelationships = managed
	}
}

// WithCollectionCaching sets the context-level default for collection
// caching.
func WithCollectionCaching(caching bool) Option {
	return func(c *Context) {
		c.collectionCaching = caching
	}
}

// WithLogger sets the logger used by the context.
func WithLogger(l logger.Logger) Option {
	return func(c *Context) {
		c.logger = l
	}
}

// Context is a unit-of-work persistence context.
type Context struct {
	queued              bool
	manageRelationships bool
	collectionCaching   bool
	txActive            bool

	operations    []flush.Operation
	relationships map[string]*TrackingRelationshipManager
	elementStates map[any]*EntityState

	logger logger.Logger
}

var _ backed.ExecutionContext = (*Context)(nil)

// NewContext creates a context. Collection caching defaults to on.
func NewContext(opts ...Option) *Context {
	c := &Context{
		collectionCaching: true,
		relationships:     make(map[string]*TrackingRelationshipManager),
		elementStates:     make(map[any]*EntityState),
		logger:            logger.NewNoopLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// TransactionActive see backed.ExecutionContext.
func (c *Context) TransactionActive() bool {
	return c.txActive
}

// BeginTransaction opens a transaction; mutations stop being made durable
// immediately and wait for Commit.
func (c *Context) BeginTransaction() {
	c.txActive = true
}

// Commit flushes all deferred operations in enqueue order and closes the
// transaction.
func (c *Context) Commit(ctx context.Context) error {
	if err := c.Flush(ctx); err != nil {
		return err
	}

	c.txActive = false
	return nil
}

// Rollback discards all deferred operations and closes the transaction. The
// adapter holds no undo log; rolling back already-applied immediate writes is
// the store's concern, not this context's.
func (c *Context) Rollback() {
	c.operations = nil
	c.txActive = false
}

// QueuedOperations see backed.ExecutionContext.
func (c *Context) QueuedOperations() bool {
	return c.queued
}

// AddOperationToQueue see backed.ExecutionContext.
func (c *Context) AddOperationToQueue(op flush.Operation) {
	c.logger.Debug("queueing operation", zap.Stringer("op", op))
	c.operations = append(c.operations, op)
}

// Operations returns a copy of the pending operation log, in enqueue order.
func (c *Context) Operations() []flush.Operation {
	out := make([]flush.Operation, len(c.operations))
	copy(out, c.operations)
	return out
}

// Flush replays the deferred operation log in enqueue order. On failure the
// failed operation and everything after it remain queued.
func (c *Context) Flush(ctx context.Context) error {
	for i, op := range c.operations {
		if err := op.Perform(ctx); err != nil {
			c.operations = c.operations[i:]
			return fmt.Errorf("flush %q: %w", op, err)
		}
	}

	c.operations = nil
	return nil
}

// ManagesRelationships see backed.ExecutionContext.
func (c *Context) ManagesRelationships() bool {
	return c.manageRelationships
}

// RelationshipManager see backed.ExecutionContext. One tracking manager is
// kept per owner.
func (c *Context) RelationshipManager(sm backed.StateManager) backed.RelationshipManager {
	if mgr, ok := c.relationships[sm.ObjectID()]; ok {
		return mgr
	}

	mgr := &TrackingRelationshipManager{owner: sm}
	c.relationships[sm.ObjectID()] = mgr
	return mgr
}

// RelationshipChanges returns the changes recorded for the given owner, in
// order.
func (c *Context) RelationshipChanges(ownerID string) []RelationshipChange {
	mgr, ok := c.relationships[ownerID]
	if !ok {
		return nil
	}
	return mgr.Changes()
}

// FindStateManager see backed.ExecutionContext.
func (c *Context) FindStateManager(element any) backed.StateManager {
	if state, ok := c.elementStates[element]; ok {
		return state
	}
	return nil
}

// Manage registers a state manager for an element value, making it known to
// FindStateManager. Returns the new state.
func (c *Context) Manage(element any, id string) *EntityState {
	state := c.NewEntityState(id)
	c.elementStates[element] = state
	return state
}

// NewEmbeddedStateManager see backed.ExecutionContext.
func (c *Context) NewEmbeddedStateManager(owner backed.StateManager, field string, element any) backed.StateManager {
	state := c.NewEntityState(fmt.Sprintf("%s/%s#embedded", owner.ObjectID(), field))
	state.embedded = true
	c.elementStates[element] = state
	return state
}

// CollectionCachingEnabled see backed.ExecutionContext.
func (c *Context) CollectionCachingEnabled() bool {
	return c.collectionCaching
}

// ProcessNontransactionalUpdate see backed.ExecutionContext. Outside a
// transaction any pending operations are made durable immediately.
func (c *Context) ProcessNontransactionalUpdate(ctx context.Context) error {
	if c.txActive {
		return nil
	}
	return c.Flush(ctx)
}
