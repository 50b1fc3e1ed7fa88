package execution

import (
	"github.com/holdfast-db/holdfast/pkg/backed"
)

// ChangeKind classifies a recorded relationship change.
type ChangeKind int

const (
	RelationAdded ChangeKind = iota
	RelationRemoved
)

// RelationshipChange is one recorded association change on an owner field.
type RelationshipChange struct {
	Kind    ChangeKind
	Field   string
	Element any
}

// TrackingRelationshipManager records association changes per owner so both
// sides of a bidirectional relation can be reconciled at flush time.
type TrackingRelationshipManager struct {
	owner   backed.StateManager
	changes []RelationshipChange
}

var _ backed.RelationshipManager = (*TrackingRelationshipManager)(nil)

// RelationAdd see backed.RelationshipManager.
func (m *TrackingRelationshipManager) RelationAdd(field string, element any) {
	m.changes = append(m.changes, RelationshipChange{Kind: RelationAdded, Field: field, Element: element})
}

// RelationRemove see backed.RelationshipManager.
func (m *TrackingRelationshipManager) RelationRemove(field string, element any) {
	m.changes = append(m.changes, RelationshipChange{Kind: RelationRemoved, Field: field, Element: element})
}

// Changes returns the recorded changes in occurrence order.
func (m *TrackingRelationshipManager) Changes() []RelationshipChange {
	out := make([]RelationshipChange, len(m.changes))
	copy(out, m.changes)
	return out
}

// Clear discards the recorded changes, as a completed reconciliation would.
func (m *TrackingRelationshipManager) Clear() {
	m.changes = nil
}
