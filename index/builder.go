// Package index implements the Index Builder: the post-import pass that
// materialises relationship closure and refset membership indices from the
// raw components already committed to the Component Store.
package index

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/snomed-tools/terminology/snomed"
	"github.com/snomed-tools/terminology/store"
)

// Build runs both index-building phases described in §4.4 against s. It is a
// single fixpoint: re-running it after a previous successful or aborted run
// fully rebuilds every derived index from the primary tables, so a crashed
// build is recoverable simply by calling Build again.
func Build(s store.Store) error {
	if err := s.ClearPrecomputations(); err != nil {
		return &snomed.IndexError{Phase: "clear", Message: "failed to clear previous indices", Cause: err}
	}
	if err := buildRelationshipIndices(s); err != nil {
		return err
	}
	if err := buildRefsetMembership(s); err != nil {
		return err
	}
	return nil
}

// buildRelationshipIndices scans all active relationships, populates the
// forward/reverse relationship-index buckets, then computes the transitive
// IS_A closure by breadth-first traversal over an in-memory parent -> children
// map of the active IS_A edges (i.e. downward from each ancestor to its
// descendants).
func buildRelationshipIndices(s store.Store) error {
	isAChildren := make(map[int64][]int64) // parentID -> direct child ids (active IS_A only)
	allSources := make(map[int64]bool)

	err := s.IterateRelationships(func(r *snomed.Relationship) error {
		if !r.Active {
			return nil
		}
		if err := s.PutRelationshipIndex(r); err != nil {
			return err
		}
		if r.IsIsA() {
			isAChildren[r.DestinationID] = append(isAChildren[r.DestinationID], r.SourceID)
			allSources[r.SourceID] = true
		}
		return nil
	})
	if err != nil {
		return &snomed.IndexError{Phase: "relationships", Message: "failed to scan relationships", Cause: err}
	}

	// For every concept that has at least one IS_A child, compute its
	// descendant set by BFS over isAChildren, with cycle detection: a concept
	// already visited is skipped rather than looping, and a path leading back
	// to the ancestor itself is logged as a cycle.
	for ancestorID := range isAChildren {
		descendants, err := closureFrom(ancestorID, isAChildren)
		if err != nil {
			return &snomed.IndexError{Phase: "closure", Message: fmt.Sprintf("concept %d", ancestorID), Cause: err}
		}
		if err := s.PutClosure(ancestorID, descendants); err != nil {
			return &snomed.IndexError{Phase: "closure", Message: "failed to persist closure", Cause: err}
		}
	}
	return nil
}

// closureFrom computes the set of strict descendants of ancestorID by
// breadth-first traversal of isAChildren (parentID -> direct child ids).
// A cycle (a concept reachable from itself) is detected via the visited set
// and its closing edge is simply not re-traversed; §4.4 requires logging such
// a cycle rather than failing the build.
func closureFrom(ancestorID int64, isAChildren map[int64][]int64) (*roaring64.Bitmap, error) {
	visited := roaring64.New()
	queue := append([]int64(nil), isAChildren[ancestorID]...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited.Contains(uint64(id)) {
			continue
		}
		if uint64(id) == uint64(ancestorID) {
			// a cycle back to the root: log and skip, per §4.4.
			fmt.Printf("warning: IS_A cycle detected reaching concept %d from itself, skipping\n", ancestorID)
			continue
		}
		visited.Add(uint64(id))
		queue = append(queue, isAChildren[id]...)
	}
	return visited, nil
}

// buildRefsetMembership scans active refset items, populates componentRefsets
// and installedRefsets, and records each refset's extension-column schema
// (discovered from any imported RefsetDescriptor item for that refset).
func buildRefsetMembership(s store.Store) error {
	componentRefsets := make(map[int64]*roaring64.Bitmap)
	refsetMembers := make(map[int64]*roaring64.Bitmap)
	fieldNames := make(map[int64]map[int64]string) // refsetId -> attributeDescriptionId -> name (placeholder; real names require a terminology lookup, left to the caller)

	err := s.IterateRefsetItems(func(it *snomed.RefsetItem) error {
		if !it.Active {
			return nil
		}
		if refsetMembers[it.RefsetID] == nil {
			refsetMembers[it.RefsetID] = roaring64.New()
		}
		refsetMembers[it.RefsetID].Add(uint64(it.ReferencedComponentID))

		if componentRefsets[it.ReferencedComponentID] == nil {
			componentRefsets[it.ReferencedComponentID] = roaring64.New()
		}
		componentRefsets[it.ReferencedComponentID].Add(uint64(it.RefsetID))

		if it.RefsetID == snomed.RefsetDescriptorRefsetID {
			describedRefset := it.ReferencedComponentID
			if fieldNames[describedRefset] == nil {
				fieldNames[describedRefset] = make(map[int64]string)
			}
			fieldNames[describedRefset][it.AttributeOrder] = fmt.Sprintf("attribute:%d", it.AttributeDescriptionID)
		}
		return nil
	})
	if err != nil {
		return &snomed.IndexError{Phase: "refsets", Message: "failed to scan refset items", Cause: err}
	}

	flatNames := make(map[int64][]string, len(fieldNames))
	for refsetID, byOrder := range fieldNames {
		max := int64(-1)
		for order := range byOrder {
			if order > max {
				max = order
			}
		}
		names := make([]string, max+1)
		for order, name := range byOrder {
			names[order] = name
		}
		flatNames[refsetID] = names
	}

	if err := s.PutRefsetMembership(componentRefsets, refsetMembers, flatNames); err != nil {
		return &snomed.IndexError{Phase: "refsets", Message: "failed to persist membership index", Cause: err}
	}
	return nil
}
