// Package store implements the Component Store: a persistent ordered
// key-value container (backed by go.etcd.io/bbolt, a memory-mapped,
// single-writer B+tree file) holding the primary SNOMED component tables
// plus the secondary indices used for parent/child and refset-membership
// lookups.
package store

import "encoding/binary"

// Composite secondary-index keys are big-endian int64 tuples concatenated in
// field order, which makes byte-lexicographic order match numeric order for
// non-negative ids and lets a cursor prefix-scan any leading subset of a
// tuple's fields.

func encodeInt64(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func decodeInt64(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

// compoundKey concatenates a sequence of int64 fields into one lexically
// ordered key.
func compoundKey(fields ...int64) []byte {
	b := make([]byte, 0, 8*len(fields))
	for _, f := range fields {
		b = append(b, encodeInt64(f)...)
	}
	return b
}

// conceptDescriptionKey: (conceptId, descriptionId)
func conceptDescriptionKey(conceptID, descriptionID int64) []byte {
	return compoundKey(conceptID, descriptionID)
}

// parentRelationshipKey: (sourceId, typeId, group, destinationId, relationshipId)
func parentRelationshipKey(sourceID, typeID int64, group int, destinationID, relationshipID int64) []byte {
	return compoundKey(sourceID, typeID, int64(group), destinationID, relationshipID)
}

// childRelationshipKey: (destinationId, typeId, group, sourceId, relationshipId)
func childRelationshipKey(destinationID, typeID int64, group int, sourceID, relationshipID int64) []byte {
	return compoundKey(destinationID, typeID, int64(group), sourceID, relationshipID)
}

// componentRefsetKey: (componentId, refsetId, itemUUID)
func componentRefsetKey(componentID, refsetID int64, itemUUID string) []byte {
	b := compoundKey(componentID, refsetID)
	return append(b, []byte(itemUUID)...)
}
