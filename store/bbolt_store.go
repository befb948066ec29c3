// Copyright 2018 Mark Wardle / Eldrix Ltd
//
//    Licensed under the Apache License, Version 2.0 (the "License");
//    you may not use this file except in compliance with the License.
//    You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS,
//    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//    See the License for the specific language governing permissions and
//    limitations under the License.
//

package store

import (
	"bytes"
	"encoding/gob"
	"os"
	"time"

	"github.com/RoaringBitmap/roaring/roaring64"
	bolt "go.etcd.io/bbolt"

	"github.com/snomed-tools/terminology/snomed"
)

// Bucket names for the primary tables and secondary indices of §4.3. Kept as
// package-level []byte rather than a bucket enum + bucketNames table: there
// is exactly one backend now, so the extra indirection this codebase's own
// design used to support multiple backends no longer earns its keep.
var (
	bucketConcepts              = []byte("concepts")
	bucketDescriptions          = []byte("descriptions")
	bucketRelationships         = []byte("relationships")
	bucketRefsetItems           = []byte("refsetItems")
	bucketConceptDescriptions   = []byte("conceptDescriptions")
	bucketParentRelationships   = []byte("conceptParentRelationships")
	bucketChildRelationships    = []byte("conceptChildRelationships")
	bucketDescendantClosure     = []byte("descendantRelationships")
	bucketAncestorClosure       = []byte("ancestorsOf")
	bucketInstalledRefsets      = []byte("installedRefsets")
	bucketComponentRefsets      = []byte("componentRefsets")
	bucketRefsetMembers         = []byte("refsetMembers")
	bucketRefsetFieldNames      = []byte("refsetFieldNames")
	bucketComponentRefsetItems  = []byte("componentRefsetItems")

	allBuckets = [][]byte{
		bucketConcepts, bucketDescriptions, bucketRelationships, bucketRefsetItems,
		bucketConceptDescriptions, bucketParentRelationships, bucketChildRelationships,
		bucketDescendantClosure, bucketAncestorClosure, bucketInstalledRefsets,
		bucketComponentRefsets, bucketRefsetMembers, bucketRefsetFieldNames,
		bucketComponentRefsetItems,
	}

	// precomputedBuckets are the ones ClearPrecomputations empties and the
	// Index Builder alone repopulates; everything else is primary data
	// written only by the Import Pipeline.
	precomputedBuckets = [][]byte{
		bucketParentRelationships, bucketChildRelationships,
		bucketDescendantClosure, bucketAncestorClosure,
		bucketInstalledRefsets, bucketComponentRefsets, bucketRefsetMembers, bucketRefsetFieldNames,
	}
)

// BoltStore is the Component Store of §4.3, backed by a single memory-mapped
// go.etcd.io/bbolt file. bbolt itself enforces the single-writer/single-opener
// requirement of §5 via an advisory flock on the file.
type BoltStore struct {
	db   *bolt.DB
	path string
}

// Open creates or opens the store container at path. readOnly mirrors the
// Facade's open(path, readOnly) contract of §4.7; a second writer attempting
// to open an already-open path fails with a StoreError wrapping bbolt's own
// lock-timeout error.
func Open(path string, readOnly bool) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{ReadOnly: readOnly, Timeout: 1 * time.Second})
	if err != nil {
		return nil, &snomed.StoreError{Op: "open", Message: "failed to open store at " + path, Cause: err}
	}
	if !readOnly {
		err = db.Update(func(tx *bolt.Tx) error {
			for _, b := range allBuckets {
				if _, err := tx.CreateBucketIfNotExists(b); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			db.Close()
			return nil, &snomed.StoreError{Op: "open", Message: "failed to initialise buckets", Cause: err}
		}
	}
	return &BoltStore{db: db, path: path}, nil
}

// Close releases the file and its memory mapping.
func (s *BoltStore) Close() error {
	if err := s.db.Close(); err != nil {
		return &snomed.StoreError{Op: "close", Message: "failed to close store", Cause: err}
	}
	return nil
}

// Compact rewrites the store file into a freshly-allocated one using bbolt's
// own page-copying bolt.Compact, then swaps it into place, reclaiming space
// left by deleted/overwritten keys without changing logical contents (§8.8).
func (s *BoltStore) Compact() error {
	tmpPath := s.path + ".compact.tmp"
	os.Remove(tmpPath)
	dst, err := bolt.Open(tmpPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return &snomed.StoreError{Op: "compact", Message: "failed to open compaction target", Cause: err}
	}
	if err := bolt.Compact(dst, s.db, 0); err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return &snomed.StoreError{Op: "compact", Message: "failed to copy pages into compaction target", Cause: err}
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return &snomed.StoreError{Op: "compact", Message: "failed to close compaction target", Cause: err}
	}
	if err := s.db.Close(); err != nil {
		os.Remove(tmpPath)
		return &snomed.StoreError{Op: "compact", Message: "failed to close store ahead of swap", Cause: err}
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return &snomed.StoreError{Op: "compact", Message: "failed to swap compacted store into place", Cause: err}
	}
	db, err := bolt.Open(s.path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return &snomed.StoreError{Op: "compact", Message: "failed to reopen store after compaction", Cause: err}
	}
	s.db = db
	return nil
}

func encodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, &snomed.StoreError{Op: "encode", Message: "failed to encode record", Cause: err}
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(v); err != nil {
		return &snomed.StoreError{Op: "decode", Message: "failed to decode record", Cause: err}
	}
	return nil
}

// reconcile keeps newRecord over existing iff newRecord's effectiveTime is
// greater, or equal with newRecord active and existing inactive (§3, §4.2).
func reconcile(existingTime time.Time, existingActive bool, newTime time.Time, newActive bool) bool {
	if newTime.After(existingTime) {
		return true
	}
	if newTime.Equal(existingTime) && newActive && !existingActive {
		return true
	}
	return false
}

// Put applies a batch atomically with effective-time reconciliation.
func (s *BoltStore) Put(batch *Batch) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := putConcepts(tx, batch.Concepts); err != nil {
			return err
		}
		if err := putDescriptions(tx, batch.Descriptions); err != nil {
			return err
		}
		if err := putRelationships(tx, batch.Relationships); err != nil {
			return err
		}
		if err := putRefsetItems(tx, batch.RefsetItems); err != nil {
			return err
		}
		return nil
	})
}

func putConcepts(tx *bolt.Tx, concepts []*snomed.Concept) error {
	if len(concepts) == 0 {
		return nil
	}
	b := tx.Bucket(bucketConcepts)
	for _, c := range concepts {
		key := encodeInt64(c.ID)
		var existing snomed.Concept
		if cur := b.Get(key); cur != nil {
			if err := decodeGob(cur, &existing); err != nil {
				return err
			}
			if !reconcile(existing.EffectiveTime, existing.Active, c.EffectiveTime, c.Active) {
				continue
			}
		}
		enc, err := encodeGob(c)
		if err != nil {
			return err
		}
		if err := b.Put(key, enc); err != nil {
			return &snomed.StoreError{Op: "put", Message: "concept", Cause: err}
		}
	}
	return nil
}

func putDescriptions(tx *bolt.Tx, descriptions []*snomed.Description) error {
	if len(descriptions) == 0 {
		return nil
	}
	b := tx.Bucket(bucketDescriptions)
	cd := tx.Bucket(bucketConceptDescriptions)
	for _, d := range descriptions {
		key := encodeInt64(d.ID)
		var existing snomed.Description
		if cur := b.Get(key); cur != nil {
			if err := decodeGob(cur, &existing); err != nil {
				return err
			}
			if !reconcile(existing.EffectiveTime, existing.Active, d.EffectiveTime, d.Active) {
				continue
			}
		}
		enc, err := encodeGob(d)
		if err != nil {
			return err
		}
		if err := b.Put(key, enc); err != nil {
			return &snomed.StoreError{Op: "put", Message: "description", Cause: err}
		}
		if err := cd.Put(conceptDescriptionKey(d.ConceptID, d.ID), nil); err != nil {
			return &snomed.StoreError{Op: "put", Message: "conceptDescriptions index", Cause: err}
		}
	}
	return nil
}

func putRelationships(tx *bolt.Tx, relationships []*snomed.Relationship) error {
	if len(relationships) == 0 {
		return nil
	}
	b := tx.Bucket(bucketRelationships)
	for _, r := range relationships {
		key := encodeInt64(r.ID)
		var existing snomed.Relationship
		if cur := b.Get(key); cur != nil {
			if err := decodeGob(cur, &existing); err != nil {
				return err
			}
			if !reconcile(existing.EffectiveTime, existing.Active, r.EffectiveTime, r.Active) {
				continue
			}
		}
		enc, err := encodeGob(r)
		if err != nil {
			return err
		}
		if err := b.Put(key, enc); err != nil {
			return &snomed.StoreError{Op: "put", Message: "relationship", Cause: err}
		}
	}
	return nil
}

func putRefsetItems(tx *bolt.Tx, items []*snomed.RefsetItem) error {
	if len(items) == 0 {
		return nil
	}
	b := tx.Bucket(bucketRefsetItems)
	cri := tx.Bucket(bucketComponentRefsetItems)
	for _, it := range items {
		key := []byte(it.ID)
		var existing snomed.RefsetItem
		if cur := b.Get(key); cur != nil {
			if err := decodeGob(cur, &existing); err != nil {
				return err
			}
			if !reconcile(existing.EffectiveTime, existing.Active, it.EffectiveTime, it.Active) {
				continue
			}
		}
		enc, err := encodeGob(it)
		if err != nil {
			return err
		}
		if err := b.Put(key, enc); err != nil {
			return &snomed.StoreError{Op: "put", Message: "refsetItem", Cause: err}
		}
		if err := cri.Put(componentRefsetKey(it.ReferencedComponentID, it.RefsetID, it.ID), nil); err != nil {
			return &snomed.StoreError{Op: "put", Message: "componentRefsetItems index", Cause: err}
		}
	}
	return nil
}

// GetConcept returns the retained concept for id, if any.
func (s *BoltStore) GetConcept(id int64) (*snomed.Concept, bool, error) {
	var c snomed.Concept
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketConcepts).Get(encodeInt64(id))
		if v == nil {
			return nil
		}
		found = true
		return decodeGob(v, &c)
	})
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	return &c, true, nil
}

// GetConcepts returns the retained concepts for the given ids, in order,
// skipping any id that has no retained record.
func (s *BoltStore) GetConcepts(ids ...int64) ([]*snomed.Concept, error) {
	result := make([]*snomed.Concept, 0, len(ids))
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConcepts)
		for _, id := range ids {
			v := b.Get(encodeInt64(id))
			if v == nil {
				continue
			}
			var c snomed.Concept
			if err := decodeGob(v, &c); err != nil {
				return err
			}
			result = append(result, &c)
		}
		return nil
	})
	return result, err
}

// GetDescription returns the retained description for id, if any.
func (s *BoltStore) GetDescription(id int64) (*snomed.Description, bool, error) {
	var d snomed.Description
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketDescriptions).Get(encodeInt64(id))
		if v == nil {
			return nil
		}
		found = true
		return decodeGob(v, &d)
	})
	if err != nil || !found {
		return nil, found, err
	}
	return &d, true, nil
}

// GetRelationship returns the retained relationship for id, if any.
func (s *BoltStore) GetRelationship(id int64) (*snomed.Relationship, bool, error) {
	var r snomed.Relationship
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketRelationships).Get(encodeInt64(id))
		if v == nil {
			return nil
		}
		found = true
		return decodeGob(v, &r)
	})
	if err != nil || !found {
		return nil, found, err
	}
	return &r, true, nil
}

// GetRefsetItem returns the retained refset item for uuid, if any.
func (s *BoltStore) GetRefsetItem(uuid string) (*snomed.RefsetItem, bool, error) {
	var it snomed.RefsetItem
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketRefsetItems).Get([]byte(uuid))
		if v == nil {
			return nil
		}
		found = true
		return decodeGob(v, &it)
	})
	if err != nil || !found {
		return nil, found, err
	}
	return &it, true, nil
}

// DescriptionsOfConcept returns every retained description whose conceptId is
// conceptID, via a prefix scan of conceptDescriptions.
func (s *BoltStore) DescriptionsOfConcept(conceptID int64) ([]*snomed.Description, error) {
	var result []*snomed.Description
	err := s.db.View(func(tx *bolt.Tx) error {
		cur := tx.Bucket(bucketConceptDescriptions).Cursor()
		prefix := encodeInt64(conceptID)
		descBucket := tx.Bucket(bucketDescriptions)
		for k, _ := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = cur.Next() {
			descID := decodeInt64(k[8:16])
			v := descBucket.Get(encodeInt64(descID))
			if v == nil {
				continue
			}
			var d snomed.Description
			if err := decodeGob(v, &d); err != nil {
				return err
			}
			result = append(result, &d)
		}
		return nil
	})
	return result, err
}

// ParentRelationships returns the forward edges sourced at conceptID,
// optionally restricted to typeID (0 meaning any type).
func (s *BoltStore) ParentRelationships(conceptID int64, typeID int64) ([]*snomed.Relationship, error) {
	return s.scanRelationshipIndex(bucketParentRelationships, conceptID, typeID)
}

// ChildRelationships returns the reverse edges destined at conceptID,
// optionally restricted to typeID (0 meaning any type).
func (s *BoltStore) ChildRelationships(conceptID int64, typeID int64) ([]*snomed.Relationship, error) {
	return s.scanRelationshipIndex(bucketChildRelationships, conceptID, typeID)
}

func (s *BoltStore) scanRelationshipIndex(bucket []byte, conceptID int64, typeID int64) ([]*snomed.Relationship, error) {
	var result []*snomed.Relationship
	err := s.db.View(func(tx *bolt.Tx) error {
		cur := tx.Bucket(bucket).Cursor()
		var prefix []byte
		if typeID != 0 {
			prefix = compoundKey(conceptID, typeID)
		} else {
			prefix = encodeInt64(conceptID)
		}
		relBucket := tx.Bucket(bucketRelationships)
		for k, _ := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = cur.Next() {
			// key layout: concept(8) type(8) group(8) other(8) relId(8)
			relID := decodeInt64(k[32:40])
			v := relBucket.Get(encodeInt64(relID))
			if v == nil {
				continue
			}
			var r snomed.Relationship
			if err := decodeGob(v, &r); err != nil {
				return err
			}
			result = append(result, &r)
		}
		return nil
	})
	return result, err
}

// PutRelationshipIndex records rel's forward and reverse edges. Only active
// relationships should be passed; callers filter during the Index Builder scan.
func (s *BoltStore) PutRelationshipIndex(rel *snomed.Relationship) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		pk := parentRelationshipKey(rel.SourceID, rel.TypeID, rel.RelationshipGroup, rel.DestinationID, rel.ID)
		if err := tx.Bucket(bucketParentRelationships).Put(pk, nil); err != nil {
			return err
		}
		ck := childRelationshipKey(rel.DestinationID, rel.TypeID, rel.RelationshipGroup, rel.SourceID, rel.ID)
		return tx.Bucket(bucketChildRelationships).Put(ck, nil)
	})
}

// IterateRelationships streams every retained relationship to fn.
func (s *BoltStore) IterateRelationships(fn func(*snomed.Relationship) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRelationships).ForEach(func(_, v []byte) error {
			var r snomed.Relationship
			if err := decodeGob(v, &r); err != nil {
				return err
			}
			return fn(&r)
		})
	})
}

// IterateConcepts streams every retained concept to fn.
func (s *BoltStore) IterateConcepts(fn func(*snomed.Concept) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConcepts).ForEach(func(_, v []byte) error {
			var c snomed.Concept
			if err := decodeGob(v, &c); err != nil {
				return err
			}
			return fn(&c)
		})
	})
}

// IterateDescriptions streams every retained description to fn; used by the
// Import Pipeline's search-reindex pass.
func (s *BoltStore) IterateDescriptions(fn func(*snomed.Description) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDescriptions).ForEach(func(_, v []byte) error {
			var d snomed.Description
			if err := decodeGob(v, &d); err != nil {
				return err
			}
			return fn(&d)
		})
	})
}

// IterateRefsetItems streams every retained refset item to fn.
func (s *BoltStore) IterateRefsetItems(fn func(*snomed.RefsetItem) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRefsetItems).ForEach(func(_, v []byte) error {
			var it snomed.RefsetItem
			if err := decodeGob(v, &it); err != nil {
				return err
			}
			return fn(&it)
		})
	})
}

func bitmapBytes(bm *roaring64.Bitmap) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := bm.WriteTo(&buf); err != nil {
		return nil, &snomed.StoreError{Op: "encode", Message: "failed to serialise bitmap", Cause: err}
	}
	return buf.Bytes(), nil
}

func bitmapFromBytes(b []byte) (*roaring64.Bitmap, error) {
	bm := roaring64.New()
	if len(b) == 0 {
		return bm, nil
	}
	if _, err := bm.ReadFrom(bytes.NewReader(b)); err != nil {
		return nil, &snomed.StoreError{Op: "decode", Message: "failed to deserialise bitmap", Cause: err}
	}
	return bm, nil
}

// PutClosure overwrites the descendant (and reciprocal ancestor) bitmap
// entries for ancestorID; used only by the Index Builder.
func (s *BoltStore) PutClosure(ancestorID int64, descendants *roaring64.Bitmap) error {
	enc, err := bitmapBytes(descendants)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketDescendantClosure).Put(encodeInt64(ancestorID), enc); err != nil {
			return err
		}
		// maintain the reciprocal ancestorsOf entry for each descendant.
		ancestorBucket := tx.Bucket(bucketAncestorClosure)
		it := descendants.Iterator()
		for it.HasNext() {
			descendantID := int64(it.Next())
			key := encodeInt64(descendantID)
			existing, err := bitmapFromBytes(ancestorBucket.Get(key))
			if err != nil {
				return err
			}
			existing.Add(uint64(ancestorID))
			eb, err := bitmapBytes(existing)
			if err != nil {
				return err
			}
			if err := ancestorBucket.Put(key, eb); err != nil {
				return err
			}
		}
		return nil
	})
}

// Descendants returns the transitive-closure descendant set of conceptID.
func (s *BoltStore) Descendants(conceptID int64) (*roaring64.Bitmap, error) {
	var bm *roaring64.Bitmap
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketDescendantClosure).Get(encodeInt64(conceptID))
		var err error
		bm, err = bitmapFromBytes(v)
		return err
	})
	return bm, err
}

// Ancestors returns the transitive-closure ancestor set of conceptID.
func (s *BoltStore) Ancestors(conceptID int64) (*roaring64.Bitmap, error) {
	var bm *roaring64.Bitmap
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketAncestorClosure).Get(encodeInt64(conceptID))
		var err error
		bm, err = bitmapFromBytes(v)
		return err
	})
	return bm, err
}

// PutRefsetMembership overwrites componentRefsets/refsetMembers/
// installedRefsets/refsetFieldNames from a fully rebuilt membership index.
func (s *BoltStore) PutRefsetMembership(componentRefsets map[int64]*roaring64.Bitmap, refsetMembers map[int64]*roaring64.Bitmap, fieldNames map[int64][]string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		cr := tx.Bucket(bucketComponentRefsets)
		for componentID, bm := range componentRefsets {
			enc, err := bitmapBytes(bm)
			if err != nil {
				return err
			}
			if err := cr.Put(encodeInt64(componentID), enc); err != nil {
				return err
			}
		}
		rm := tx.Bucket(bucketRefsetMembers)
		installed := tx.Bucket(bucketInstalledRefsets)
		for refsetID, bm := range refsetMembers {
			enc, err := bitmapBytes(bm)
			if err != nil {
				return err
			}
			if err := rm.Put(encodeInt64(refsetID), enc); err != nil {
				return err
			}
			if err := installed.Put(encodeInt64(refsetID), nil); err != nil {
				return err
			}
		}
		names := tx.Bucket(bucketRefsetFieldNames)
		for refsetID, cols := range fieldNames {
			enc, err := encodeGob(cols)
			if err != nil {
				return err
			}
			if err := names.Put(encodeInt64(refsetID), enc); err != nil {
				return err
			}
		}
		return nil
	})
}

// RefsetsFor returns the set of active refset ids containing componentID.
func (s *BoltStore) RefsetsFor(componentID int64) (*roaring64.Bitmap, error) {
	var bm *roaring64.Bitmap
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketComponentRefsets).Get(encodeInt64(componentID))
		var err error
		bm, err = bitmapFromBytes(v)
		return err
	})
	return bm, err
}

// RefsetItemsForComponent returns every retained refset item referencing
// componentID within refsetID, via a prefix scan of componentRefsetItems.
// Unlike RefsetsFor (membership only), this returns the items themselves so
// callers can inspect per-item payload fields such as AcceptabilityID.
func (s *BoltStore) RefsetItemsForComponent(componentID int64, refsetID int64) ([]*snomed.RefsetItem, error) {
	var result []*snomed.RefsetItem
	err := s.db.View(func(tx *bolt.Tx) error {
		cur := tx.Bucket(bucketComponentRefsetItems).Cursor()
		prefix := compoundKey(componentID, refsetID)
		itemBucket := tx.Bucket(bucketRefsetItems)
		for k, _ := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = cur.Next() {
			uuid := string(k[16:])
			v := itemBucket.Get([]byte(uuid))
			if v == nil {
				continue
			}
			var it snomed.RefsetItem
			if err := decodeGob(v, &it); err != nil {
				return err
			}
			result = append(result, &it)
		}
		return nil
	})
	return result, err
}

// MembersOf returns the set of active component ids in refsetID.
func (s *BoltStore) MembersOf(refsetID int64) (*roaring64.Bitmap, error) {
	var bm *roaring64.Bitmap
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketRefsetMembers).Get(encodeInt64(refsetID))
		var err error
		bm, err = bitmapFromBytes(v)
		return err
	})
	return bm, err
}

// InstalledRefsets returns the set of refset ids with at least one active member.
func (s *BoltStore) InstalledRefsets() (map[int64]bool, error) {
	result := make(map[int64]bool)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketInstalledRefsets).ForEach(func(k, _ []byte) error {
			result[decodeInt64(k)] = true
			return nil
		})
	})
	return result, err
}

// RefsetFieldNames returns the recorded extension-column names for refsetID.
func (s *BoltStore) RefsetFieldNames(refsetID int64) ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketRefsetFieldNames).Get(encodeInt64(refsetID))
		if v == nil {
			return nil
		}
		return decodeGob(v, &names)
	})
	return names, err
}

// ClearPrecomputations empties every derived-index bucket so a shared store
// file can be redistributed and reindexed by its recipient (§9 "Global store
// handle" / teacher's own ClearPrecomputations intent, never quite finished
// there for the closure table).
func (s *BoltStore) ClearPrecomputations() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, b := range precomputedBuckets {
			if err := tx.DeleteBucket(b); err != nil && err != bolt.ErrBucketNotFound {
				return err
			}
			if _, err := tx.CreateBucket(b); err != nil {
				return err
			}
		}
		return nil
	})
}

// Statistics reports key counts of the four primary tables plus the
// installed-refsets and descendant-closure indices, using bbolt's per-bucket
// Stats().KeyN, which walks each bucket's pages.
func (s *BoltStore) Statistics() (Statistics, error) {
	var stats Statistics
	err := s.db.View(func(tx *bolt.Tx) error {
		stats.Concepts = tx.Bucket(bucketConcepts).Stats().KeyN
		stats.Descriptions = tx.Bucket(bucketDescriptions).Stats().KeyN
		stats.Relationships = tx.Bucket(bucketRelationships).Stats().KeyN
		stats.RefsetItems = tx.Bucket(bucketRefsetItems).Stats().KeyN
		stats.InstalledRefsets = tx.Bucket(bucketInstalledRefsets).Stats().KeyN
		stats.DescendantClosurePairs = tx.Bucket(bucketDescendantClosure).Stats().KeyN
		return nil
	})
	return stats, err
}
