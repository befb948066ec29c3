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

package terminology

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/snomed-tools/terminology/snomed"
	"github.com/snomed-tools/terminology/store"
)

// buildExtendedConcept assembles the Extended-Concept projection for
// conceptID: the concept itself, its descriptions and preferred synonym, its
// reference-set memberships, and its direct and transitive parent
// relationships grouped by type. The six lookups it needs touch independent
// parts of the store, so they run concurrently rather than as a sequential
// chain, the way the teacher's own ExtendedConcept built its result from
// concurrent goroutines over a mutex-guarded accumulator -- errgroup replaces
// that hand-rolled WaitGroup/mutex here.
func buildExtendedConcept(s store.Store, conceptID int64, preferredSynonym func(int64) (*snomed.Description, error)) (*snomed.ExtendedConcept, error) {
	result := &snomed.ExtendedConcept{}
	var g errgroup.Group

	g.Go(func() error {
		c, found, err := s.GetConcept(conceptID)
		if err != nil {
			return err
		}
		if !found {
			return &snomed.QueryError{Position: -1, Message: fmt.Sprintf("unknown concept %d", conceptID)}
		}
		result.Concept = c
		return nil
	})
	g.Go(func() error {
		descs, err := s.DescriptionsOfConcept(conceptID)
		if err != nil {
			return err
		}
		result.Descriptions = descs
		return nil
	})
	g.Go(func() error {
		d, err := preferredSynonym(conceptID)
		if err != nil {
			return err
		}
		result.PreferredDescription = d
		return nil
	})
	g.Go(func() error {
		refsets, err := s.RefsetsFor(conceptID)
		if err != nil {
			return err
		}
		result.ConceptRefsets = int64Slice(refsets.ToArray())
		return nil
	})
	g.Go(func() error {
		direct, err := directParentRelationships(s, conceptID)
		if err != nil {
			return err
		}
		result.DirectParentRelationships = direct
		return nil
	})
	g.Go(func() error {
		all, err := transitiveParentRelationships(s, conceptID)
		if err != nil {
			return err
		}
		result.ParentRelationships = all
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// directParentRelationships groups conceptID's own active relationships by
// type, per ExtendedConcept.DirectParentRelationships.
func directParentRelationships(s store.Store, conceptID int64) (map[int64][]int64, error) {
	rels, err := s.ParentRelationships(conceptID, 0)
	if err != nil {
		return nil, err
	}
	out := make(map[int64][]int64)
	mergeRelationshipsByType(out, rels)
	return out, nil
}

// transitiveParentRelationships groups by type every active relationship
// sourced at conceptID or at any of its IS_A ancestors, per
// ExtendedConcept.ParentRelationships -- the "inherited defining
// characteristics" projection a client needs to reason about a concept
// without walking the hierarchy itself.
func transitiveParentRelationships(s store.Store, conceptID int64) (map[int64][]int64, error) {
	out := make(map[int64][]int64)
	selfRels, err := s.ParentRelationships(conceptID, 0)
	if err != nil {
		return nil, err
	}
	mergeRelationshipsByType(out, selfRels)

	ancestors, err := s.Ancestors(conceptID)
	if err != nil {
		return nil, err
	}
	it := ancestors.Iterator()
	for it.HasNext() {
		rels, err := s.ParentRelationships(int64(it.Next()), 0)
		if err != nil {
			return nil, err
		}
		mergeRelationshipsByType(out, rels)
	}
	return out, nil
}

func mergeRelationshipsByType(out map[int64][]int64, rels []*snomed.Relationship) {
	for _, r := range rels {
		out[r.TypeID] = appendUniqueInt64(out[r.TypeID], r.DestinationID)
	}
}

func appendUniqueInt64(s []int64, v int64) []int64 {
	for _, x := range s {
		if x == v {
			return s
		}
	}
	return append(s, v)
}

func int64Slice(ids []uint64) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}
