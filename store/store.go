package store

import (
	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/snomed-tools/terminology/snomed"
)

// Batch is a group of components to be applied to the Store atomically, with
// effective-time reconciliation applied per id within the batch and against
// whatever is already retained.
type Batch struct {
	Concepts      []*snomed.Concept
	Descriptions  []*snomed.Description
	Relationships []*snomed.Relationship
	RefsetItems   []*snomed.RefsetItem
}

// Empty reports whether the batch has no components of any kind.
func (b *Batch) Empty() bool {
	return len(b.Concepts) == 0 && len(b.Descriptions) == 0 && len(b.Relationships) == 0 && len(b.RefsetItems) == 0
}

// Statistics reports counts of each primary table and index, per the
// Facade's status() operation.
type Statistics struct {
	Concepts              int
	Descriptions          int
	Relationships         int
	RefsetItems           int
	InstalledRefsets      int
	DescendantClosurePairs int
}

// Store is the persistent ordered key-value container described in §4.3. A
// single instance corresponds to one on-disk path; opening the same path
// twice must fail with a StoreError.
type Store interface {
	// Put applies a batch atomically, performing effective-time
	// reconciliation for each retained id as in the Import Pipeline.
	Put(batch *Batch) error

	GetConcept(id int64) (*snomed.Concept, bool, error)
	GetConcepts(ids ...int64) ([]*snomed.Concept, error)
	GetDescription(id int64) (*snomed.Description, bool, error)
	GetRelationship(id int64) (*snomed.Relationship, bool, error)
	GetRefsetItem(uuid string) (*snomed.RefsetItem, bool, error)

	// DescriptionsOfConcept iterates the conceptDescriptions index.
	DescriptionsOfConcept(conceptID int64) ([]*snomed.Description, error)

	// ParentRelationships/ChildRelationships are prefix scans over the
	// forward/reverse relationship indices. typeID of zero means "any type".
	ParentRelationships(conceptID int64, typeID int64) ([]*snomed.Relationship, error)
	ChildRelationships(conceptID int64, typeID int64) ([]*snomed.Relationship, error)

	// IterateRelationships/IterateRefsetItems stream every retained record of
	// their kind to fn; used by the Index Builder's two scan phases.
	IterateRelationships(fn func(*snomed.Relationship) error) error
	IterateRefsetItems(fn func(*snomed.RefsetItem) error) error

	// IterateDescriptions streams every retained description to fn; used by
	// the Import Pipeline's search-reindex pass.
	IterateDescriptions(fn func(*snomed.Description) error) error

	// PutRelationshipIndex records one active relationship's forward and
	// reverse edges in conceptParentRelationships/conceptChildRelationships;
	// used only by the Index Builder's relationship-index phase.
	PutRelationshipIndex(rel *snomed.Relationship) error

	// PutClosure overwrites the descendantRelationships entries for
	// ancestorID with the given bitmap of descendant concept ids; used only
	// by the Index Builder.
	PutClosure(ancestorID int64, descendants *roaring64.Bitmap) error
	Descendants(conceptID int64) (*roaring64.Bitmap, error)
	Ancestors(conceptID int64) (*roaring64.Bitmap, error)

	// PutRefsetMembership overwrites componentRefsets/installedRefsets/
	// refsetFieldNames from a fully-built membership index; used only by
	// the Index Builder.
	PutRefsetMembership(componentRefsets map[int64]*roaring64.Bitmap, refsetMembers map[int64]*roaring64.Bitmap, fieldNames map[int64][]string) error
	RefsetsFor(componentID int64) (*roaring64.Bitmap, error)

	// RefsetItemsForComponent returns the retained items referencing
	// componentID within refsetID; used by the Facade's language matching to
	// read each candidate description's acceptability within a language refset.
	RefsetItemsForComponent(componentID int64, refsetID int64) ([]*snomed.RefsetItem, error)
	MembersOf(refsetID int64) (*roaring64.Bitmap, error)
	InstalledRefsets() (map[int64]bool, error)
	RefsetFieldNames(refsetID int64) ([]string, error)

	// ClearPrecomputations removes the derived indices (descendantRelationships,
	// componentRefsets, installedRefsets, refsetFieldNames) so a shared store
	// file can be redistributed without a stale closure, then rebuilt locally.
	ClearPrecomputations() error

	// IterateConcepts streams every retained concept to fn; fn returning an
	// error stops iteration early and is returned to the caller.
	IterateConcepts(fn func(*snomed.Concept) error) error

	Statistics() (Statistics, error)

	// Compact rewrites the store file to reclaim space left by deleted keys,
	// preserving logical contents.
	Compact() error

	Close() error
}
