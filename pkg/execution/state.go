package execution

import (
	"github.com/holdfast-db/holdfast/pkg/backed"
)

// EntityState is the state manager for one entity within a Context. It tracks
// dirty fields, loaded field values, and coarse lifecycle bits.
type EntityState struct {
	ec *Context
	id string

	isNew    bool
	flushed  bool
	embedded bool

	dirtyFields  map[string]struct{}
	loadedFields map[string]struct{}
	fieldValues  map[string]any
}

var _ backed.StateManager = (*EntityState)(nil)

// NewEntityState creates a state manager for a freshly persisted entity: new,
// not yet flushed.
func (c *Context) NewEntityState(id string) *EntityState {
	return &EntityState{
		ec:           c,
		id:           id,
		isNew:        true,
		dirtyFields:  make(map[string]struct{}),
		loadedFields: make(map[string]struct{}),
		fieldValues:  make(map[string]any),
	}
}

// ObjectID see storage.Owner.
func (s *EntityState) ObjectID() string {
	return s.id
}

// MakeDirty see backed.StateManager.
func (s *EntityState) MakeDirty(field string) {
	s.dirtyFields[field] = struct{}{}
}

// IsDirty reports whether the named field has been marked dirty.
func (s *EntityState) IsDirty(field string) bool {
	_, ok := s.dirtyFields[field]
	return ok
}

// ClearDirty resets all dirty marks, as a completed flush would.
func (s *EntityState) ClearDirty() {
	s.dirtyFields = make(map[string]struct{})
}

// IsFieldLoaded see backed.StateManager.
func (s *EntityState) IsFieldLoaded(field string) bool {
	_, ok := s.loadedFields[field]
	return ok
}

// StoreFieldValue see backed.StateManager.
func (s *EntityState) StoreFieldValue(field string, value any) {
	s.fieldValues[field] = value
	s.loadedFields[field] = struct{}{}
}

// FieldValue returns the recorded value for a field, if loaded.
func (s *EntityState) FieldValue(field string) (any, bool) {
	v, ok := s.fieldValues[field]
	return v, ok
}

// IsNew see backed.StateManager.
func (s *EntityState) IsNew() bool {
	return s.isNew
}

// FlushedToStore see backed.StateManager.
func (s *EntityState) FlushedToStore() bool {
	return s.flushed
}

// MarkFlushed records that the entity's state has reached the store.
func (s *EntityState) MarkFlushed() {
	s.flushed = true
}

// MarkPersistent records that the entity exists in the store independently of
// this unit of work.
func (s *EntityState) MarkPersistent() {
	s.isNew = false
}

// IsEmbedded reports whether this state manages an embedded element rather
// than a first-class entity.
func (s *EntityState) IsEmbedded() bool {
	return s.embedded
}

// ExecutionContext see backed.StateManager.
func (s *EntityState) ExecutionContext() backed.ExecutionContext {
	return s.ec
}
