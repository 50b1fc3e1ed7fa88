package backed

// RelationType classifies how a collection field relates its owner to its
// elements.
type RelationType int

const (
	// RelationNone is a plain element collection with no reverse reference.
	RelationNone RelationType = iota

	// RelationOneToManyBi is a bidirectional one-to-many relation; each
	// element carries a reverse reference to the owner in RelatedField.
	RelationOneToManyBi
)

// Field is the metadata for the collection-valued member being wrapped. It is
// read once, at collection construction, and never re-evaluated.
type Field struct {
	// Name of the member on the owning entity.
	Name string

	// Persistent is false for transient fields, which never get a backing
	// store.
	Persistent bool

	// SerializedElements marks fields persisted as a single opaque blob.
	// Such fields bypass the backing store.
	SerializedElements bool

	// PersistentElements marks element types that are themselves persistable
	// entities (relevant for serialized embedded elements).
	PersistentElements bool

	// AllowNulls admits nil elements into the collection.
	AllowNulls bool

	// DisableCache opts this field out of delegate caching even when the
	// context enables it.
	DisableCache bool

	// Relation and RelatedField describe the reverse side of a bidirectional
	// relation. RelatedField is the member on the element holding the owner
	// reference.
	Relation     RelationType
	RelatedField string
}

// usesBackingStore reports whether this field is eligible for a backing store
// at all.
func (f *Field) usesBackingStore() bool {
	return f.Persistent && !f.SerializedElements
}
