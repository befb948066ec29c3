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
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync/atomic"
	"time"

	"github.com/cznic/b"
	"golang.org/x/sync/errgroup"

	"github.com/snomed-tools/terminology/rf2"
	"github.com/snomed-tools/terminology/search"
	"github.com/snomed-tools/terminology/snomed"
	"github.com/snomed-tools/terminology/store"
)

// defaultImportBatchSize is the batch size rows are grouped into before a
// single write to the Store, per §4.2.
const defaultImportBatchSize = 5000

// ImportStats tallies what an Import run applied to the Store.
type ImportStats struct {
	Concepts      int
	Descriptions  int
	Relationships int
	RefsetItems   int
	FilesImported int
	FilesSkipped  int
}

// Import walks root for RF2 distribution files and applies them to the
// Store, per §4.2: files are classified by rf2.Classify, grouped by
// rf2.ImportOrder rank so concepts commit before descriptions/relationships
// before refsets, and within a rank processed concurrently across a worker
// pool bounded by runtime.NumCPU. A parse or store failure in any worker
// cancels the remaining workers of that rank via the errgroup's shared
// context; files already committed in an earlier rank, or by a sibling
// worker of the failing rank, remain committed -- the caller must run
// Reindex before relying on derived indices or search.
func (svc *Svc) Import(ctx context.Context, root string) (ImportStats, error) {
	var stats ImportStats
	var counters importCounters
	byRank := map[int][]importFile{}
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		ft := rf2.Classify(info.Name())
		if ft.Kind == rf2.UnknownKind {
			stats.FilesSkipped++
			return nil
		}
		rank := rf2.ImportOrder(ft.Kind)
		byRank[rank] = append(byRank[rank], importFile{path: path, kind: ft.Kind})
		return nil
	})
	if err != nil {
		return stats, &snomed.InputError{File: root, Message: "failed to walk import directory: " + err.Error()}
	}

	ranks := make([]int, 0, len(byRank))
	for rank := range byRank {
		ranks = append(ranks, rank)
	}
	sort.Ints(ranks)

	threads := runtime.NumCPU()
	for _, rank := range ranks {
		files := byRank[rank]
		sem := make(chan struct{}, threads)
		g, gctx := errgroup.WithContext(ctx)
		for _, f := range files {
			f := f
			sem <- struct{}{}
			g.Go(func() error {
				defer func() { <-sem }()
				return svc.importFile(gctx, f, &counters)
			})
		}
		if err := g.Wait(); err != nil {
			counters.copyInto(&stats)
			return stats, err
		}
	}
	counters.copyInto(&stats)
	return stats, nil
}

type importFile struct {
	path string
	kind rf2.ComponentKind
}

// importCounters tallies Import's progress with atomic adds, since a single
// rank's worker pool runs importFile concurrently across many files -- a
// Snapshot distribution's many Refset_* files share one rank and genuinely
// race on these counts otherwise.
type importCounters struct {
	concepts      int64
	descriptions  int64
	relationships int64
	refsetItems   int64
	filesImported int64
}

func (c *importCounters) copyInto(stats *ImportStats) {
	stats.Concepts = int(atomic.LoadInt64(&c.concepts))
	stats.Descriptions = int(atomic.LoadInt64(&c.descriptions))
	stats.Relationships = int(atomic.LoadInt64(&c.relationships))
	stats.RefsetItems = int(atomic.LoadInt64(&c.refsetItems))
	stats.FilesImported = int(atomic.LoadInt64(&c.filesImported))
}

func int64Cmp(a, bb interface{}) int {
	x, y := a.(int64), bb.(int64)
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

func stringCmp(a, bb interface{}) int {
	x, y := a.(string), bb.(string)
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

// reconcileWinner reports whether newer should replace existing under the
// same tie-break store.Put itself applies: greatest effectiveTime wins,
// ties resolved toward active over inactive (§3, §4.2). Kept in sync with
// the bbolt store's unexported reconcile rule so that staging
// a batch can never produce a different winner than Put would have chosen
// had every row been applied one at a time.
func reconcileWinner(existingTime time.Time, existingActive bool, newTime time.Time, newActive bool) bool {
	if newTime.After(existingTime) {
		return true
	}
	if newTime.Equal(existingTime) && newActive && !existingActive {
		return true
	}
	return false
}

// stageBatch reorders each component slice of batch into ascending id order
// by staging it through an in-memory B-tree, so the single bbolt bucket Put
// pass per component type that store.Put performs writes its keys in
// ascending order -- the ordered-commit guarantee of §5. Staging also
// reconciles rows that share an id within the same batch (a Full-format
// file can legitimately carry a component's whole history), keeping only
// the winner by reconcileWinner so store.Put never receives more than one
// row per id and so never loses the max-effectiveTime row to a later,
// staler one inserted after it. RefsetItems are staged by their own UUID,
// the identity key store.Put reconciles against -- ReferencedComponentID is
// not unique and would silently merge distinct items that reference the
// same component.
func stageBatch(batch *store.Batch) {
	if len(batch.Concepts) > 1 {
		tree := b.TreeNew(int64Cmp)
		for _, c := range batch.Concepts {
			if cur, ok := tree.Get(c.ID); ok {
				existing := cur.(*snomed.Concept)
				if !reconcileWinner(existing.EffectiveTime, existing.Active, c.EffectiveTime, c.Active) {
					continue
				}
			}
			tree.Set(c.ID, c)
		}
		batch.Concepts = batch.Concepts[:0]
		en, err := tree.SeekFirst()
		if err == nil {
			for _, v, err := en.Next(); err == nil; _, v, err = en.Next() {
				batch.Concepts = append(batch.Concepts, v.(*snomed.Concept))
			}
		}
		tree.Close()
	}
	if len(batch.Descriptions) > 1 {
		tree := b.TreeNew(int64Cmp)
		for _, d := range batch.Descriptions {
			if cur, ok := tree.Get(d.ID); ok {
				existing := cur.(*snomed.Description)
				if !reconcileWinner(existing.EffectiveTime, existing.Active, d.EffectiveTime, d.Active) {
					continue
				}
			}
			tree.Set(d.ID, d)
		}
		batch.Descriptions = batch.Descriptions[:0]
		en, err := tree.SeekFirst()
		if err == nil {
			for _, v, err := en.Next(); err == nil; _, v, err = en.Next() {
				batch.Descriptions = append(batch.Descriptions, v.(*snomed.Description))
			}
		}
		tree.Close()
	}
	if len(batch.Relationships) > 1 {
		tree := b.TreeNew(int64Cmp)
		for _, r := range batch.Relationships {
			if cur, ok := tree.Get(r.ID); ok {
				existing := cur.(*snomed.Relationship)
				if !reconcileWinner(existing.EffectiveTime, existing.Active, r.EffectiveTime, r.Active) {
					continue
				}
			}
			tree.Set(r.ID, r)
		}
		batch.Relationships = batch.Relationships[:0]
		en, err := tree.SeekFirst()
		if err == nil {
			for _, v, err := en.Next(); err == nil; _, v, err = en.Next() {
				batch.Relationships = append(batch.Relationships, v.(*snomed.Relationship))
			}
		}
		tree.Close()
	}
	if len(batch.RefsetItems) > 1 {
		tree := b.TreeNew(stringCmp)
		for _, it := range batch.RefsetItems {
			if cur, ok := tree.Get(it.ID); ok {
				existing := cur.(*snomed.RefsetItem)
				if !reconcileWinner(existing.EffectiveTime, existing.Active, it.EffectiveTime, it.Active) {
					continue
				}
			}
			tree.Set(it.ID, it)
		}
		batch.RefsetItems = batch.RefsetItems[:0]
		en, err := tree.SeekFirst()
		if err == nil {
			for _, v, err := en.Next(); err == nil; _, v, err = en.Next() {
				batch.RefsetItems = append(batch.RefsetItems, v.(*snomed.RefsetItem))
			}
		}
		tree.Close()
	}
}

// importFile streams one RF2 file in defaultImportBatchSize-row batches,
// parsing each batch into typed records and applying it to the Store as one
// reconciled Batch.
func (svc *Svc) importFile(ctx context.Context, f importFile, counters *importCounters) error {
	fh, err := os.Open(f.path)
	if err != nil {
		return &snomed.InputError{File: f.path, Message: "failed to open import file: " + err.Error()}
	}
	defer fh.Close()

	name := filepath.Base(f.path)
	line := 1 // header row
	err = rf2.Scan(fh, name, f.kind, defaultImportBatchSize, func(rows [][]string) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		batch := &store.Batch{}
		for _, row := range rows {
			line++
			switch f.kind {
			case rf2.ConceptKind:
				c, err := rf2.ParseConceptRow(name, line, row)
				if err != nil {
					return err
				}
				batch.Concepts = append(batch.Concepts, c)
			case rf2.DescriptionKind:
				d, err := rf2.ParseDescriptionRow(name, line, row)
				if err != nil {
					return err
				}
				batch.Descriptions = append(batch.Descriptions, d)
			case rf2.RelationshipKind:
				r, err := rf2.ParseRelationshipRow(name, line, row)
				if err != nil {
					return err
				}
				batch.Relationships = append(batch.Relationships, r)
			default:
				it, err := rf2.ParseRefsetRow(name, line, f.kind, row)
				if err != nil {
					return err
				}
				batch.RefsetItems = append(batch.RefsetItems, it)
			}
		}
		if batch.Empty() {
			return nil
		}
		stageBatch(batch)
		if err := svc.store.Put(batch); err != nil {
			return err
		}
		atomic.AddInt64(&counters.concepts, int64(len(batch.Concepts)))
		atomic.AddInt64(&counters.descriptions, int64(len(batch.Descriptions)))
		atomic.AddInt64(&counters.relationships, int64(len(batch.Relationships)))
		atomic.AddInt64(&counters.refsetItems, int64(len(batch.RefsetItems)))
		return nil
	})
	if err != nil {
		return err
	}
	atomic.AddInt64(&counters.filesImported, 1)
	return nil
}

// reindexSearchBatchSize groups descriptions before each call to
// search.Index.Index, so a reindex of a full distribution doesn't hold every
// IndexedDescription in memory at once.
const reindexSearchBatchSize = 2000

// reindexSearch repopulates the Search Index from the Store's current
// primary descriptions and the refset membership index.Build just rebuilt:
// every active description, FSNs included, becomes one search document,
// classified as PreferredIn/AcceptableIn any language refset that marks it
// so (via RefsetItemsForComponent) and as a plain Refsets member of
// everything else. FSNs are indexed so Params.IncludeFsn has something to
// surface; Search itself excludes them by default. Called only by Reindex,
// after index.Build has repopulated componentRefsets.
func (svc *Svc) reindexSearch() error {
	batch := make([]search.IndexedDescription, 0, reindexSearchBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := svc.search.Index(batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	err := svc.store.IterateDescriptions(func(d *snomed.Description) error {
		if !d.Active {
			return nil
		}
		concept, found, err := svc.store.GetConcept(d.ConceptID)
		if err != nil {
			return err
		}
		conceptActive := found && concept.Active

		refsets, err := svc.store.RefsetsFor(d.ID)
		if err != nil {
			return err
		}
		indexed := search.IndexedDescription{
			DescriptionID: d.ID,
			ConceptID:     d.ConceptID,
			Term:          d.Term,
			TypeID:        d.TypeID,
			ConceptActive: conceptActive,
		}
		if refsets != nil {
			it := refsets.Iterator()
			for it.HasNext() {
				refsetID := int64(it.Next())
				items, err := svc.store.RefsetItemsForComponent(d.ID, refsetID)
				if err != nil {
					return err
				}
				classified := false
				for _, item := range items {
					if !item.Active {
						continue
					}
					switch {
					case item.IsPreferred():
						indexed.PreferredIn = append(indexed.PreferredIn, refsetID)
						classified = true
					case item.IsAcceptable():
						indexed.AcceptableIn = append(indexed.AcceptableIn, refsetID)
						classified = true
					}
				}
				if !classified {
					indexed.Refsets = append(indexed.Refsets, refsetID)
				}
			}
		}
		batch = append(batch, indexed)
		if len(batch) == reindexSearchBatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return err
	}
	return flush()
}
