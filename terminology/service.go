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

// Package terminology implements the Terminology Service Facade of §4.7: a
// single entry point unifying the Component Store, the Search Index and the
// ECL Engine, plus the Import Pipeline and Extended-Concept Builder that
// populate and project from it.
package terminology

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/RoaringBitmap/roaring/roaring64"
	"go.uber.org/zap"

	"github.com/snomed-tools/terminology/ecl"
	"github.com/snomed-tools/terminology/index"
	"github.com/snomed-tools/terminology/search"
	"github.com/snomed-tools/terminology/snomed"
	"github.com/snomed-tools/terminology/store"
)

// On-disk layout beneath the Facade's path, per §6.
const (
	storeFilename  = "store.db"
	searchDirname  = "search.db"
	descriptorName = "descriptor.json"

	currentVersion = 1
	storeKind      = "bbolt"
	searchKind     = "bleve"
)

// descriptor versions the on-disk layout, the way the teacher's own
// file-backed Descriptor did, so an incompatible store/search backend or
// schema revision is rejected at open time rather than corrupted at use time.
type descriptor struct {
	Version    int
	StoreKind  string
	SearchKind string
}

// Svc is the Terminology Service Facade: the unified read/write surface the
// out-of-scope CLI and HTTP wrappers are built against.
type Svc struct {
	path   string
	store  store.Store
	search *search.Index
	log    *zap.SugaredLogger

	// availableLanguages lists every installed reference set id, in no defined
	// order; GetExtendedConcept passes it to GetPreferredSynonym as the refset
	// preference list. It is cached at open time.
	availableLanguages []int64
}

// Open creates or opens a Facade at path, per §4.7's `open(path, readOnly)`
// lifecycle operation.
func Open(path string, readOnly bool) (*Svc, error) {
	logger, _ := zap.NewProduction()
	log := logger.Sugar()

	if !readOnly {
		if err := os.MkdirAll(path, 0771); err != nil {
			return nil, &snomed.StoreError{Op: "open", Message: "failed to create database directory", Cause: err}
		}
	}
	desc, err := createOrOpenDescriptor(path, readOnly)
	if err != nil {
		return nil, err
	}
	if desc.Version != currentVersion {
		return nil, &snomed.UsageError{Message: fmt.Sprintf("incompatible database format v%d, need v%d", desc.Version, currentVersion)}
	}
	if desc.StoreKind != storeKind || desc.SearchKind != searchKind {
		return nil, &snomed.UsageError{Message: fmt.Sprintf("incompatible database backend %s/%s, need %s/%s", desc.StoreKind, desc.SearchKind, storeKind, searchKind)}
	}

	st, err := store.Open(filepath.Join(path, storeFilename), readOnly)
	if err != nil {
		return nil, err
	}
	idx, err := search.Open(filepath.Join(path, searchDirname), readOnly)
	if err != nil {
		st.Close()
		return nil, err
	}

	svc := &Svc{path: path, store: st, search: idx, log: log}
	installed, err := st.InstalledRefsets()
	if err != nil {
		svc.Close()
		return nil, err
	}
	for refsetID := range installed {
		svc.availableLanguages = append(svc.availableLanguages, refsetID)
	}
	log.Infow("opened terminology service", "path", path, "readOnly", readOnly)
	return svc, nil
}

func createOrOpenDescriptor(path string, readOnly bool) (*descriptor, error) {
	name := filepath.Join(path, descriptorName)
	data, err := ioutil.ReadFile(name)
	if os.IsNotExist(err) {
		if readOnly {
			return nil, &snomed.StoreError{Op: "open", Message: "cannot open a database that does not exist in read-only mode: " + path}
		}
		desc := &descriptor{Version: currentVersion, StoreKind: storeKind, SearchKind: searchKind}
		encoded, err := json.Marshal(desc)
		if err != nil {
			return nil, &snomed.StoreError{Op: "open", Message: "failed to encode descriptor", Cause: err}
		}
		if err := ioutil.WriteFile(name, encoded, 0644); err != nil {
			return nil, &snomed.StoreError{Op: "open", Message: "failed to write descriptor", Cause: err}
		}
		return desc, nil
	}
	if err != nil {
		return nil, &snomed.StoreError{Op: "open", Message: "failed to read descriptor", Cause: err}
	}
	var desc descriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, &snomed.StoreError{Op: "open", Message: "corrupt descriptor", Cause: err}
	}
	return &desc, nil
}

// Close releases both backing stores, per §4.7's `close()`.
func (svc *Svc) Close() error {
	defer svc.log.Sync()
	if err := svc.search.Close(); err != nil {
		return err
	}
	return svc.store.Close()
}

// Compact rewrites the store to reclaim space, per §4.7's `compact()`.
func (svc *Svc) Compact() error {
	start := time.Now()
	err := svc.store.Compact()
	svc.log.Infow("compacted store", "elapsed", time.Since(start), "error", err)
	return err
}

// GetConcept returns the concept for id.
func (svc *Svc) GetConcept(id int64) (*snomed.Concept, error) {
	c, found, err := svc.store.GetConcept(id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &snomed.QueryError{Position: -1, Message: fmt.Sprintf("unknown concept %d", id)}
	}
	return c, nil
}

// GetConcepts returns the concepts for ids, in order, skipping any unknown id.
func (svc *Svc) GetConcepts(ids ...int64) ([]*snomed.Concept, error) {
	return svc.store.GetConcepts(ids...)
}

// GetDescriptions returns every retained description of conceptID.
func (svc *Svc) GetDescriptions(conceptID int64) ([]*snomed.Description, error) {
	return svc.store.DescriptionsOfConcept(conceptID)
}

// GetExtendedConcept builds the Extended-Concept projection of §4.8 for
// conceptID, using the reference sets installed when the Facade was opened
// (tried in no defined order) to pick its preferred synonym. A concept with
// no active synonym gets a nil preferred description rather than an error.
func (svc *Svc) GetExtendedConcept(conceptID int64) (*snomed.ExtendedConcept, error) {
	return buildExtendedConcept(svc.store, conceptID, func(id int64) (*snomed.Description, error) {
		d, err := svc.GetPreferredSynonym(id, svc.availableLanguages)
		if _, ok := err.(*snomed.QueryError); ok {
			return nil, nil
		}
		return d, err
	})
}

// Subsumes reports whether childID is parentID itself or a descendant of it,
// per §4.7's `subsumes?(parentId, childId)`.
func (svc *Svc) Subsumes(parentID, childID int64) (bool, error) {
	if parentID == childID {
		return true, nil
	}
	descendants, err := svc.store.Descendants(parentID)
	if err != nil {
		return false, err
	}
	return descendants.Contains(uint64(childID)), nil
}

// Search runs a free-text search, per §4.7's `search(params)`.
func (svc *Svc) Search(p search.Params) ([]search.Hit, error) {
	hits, err := svc.search.Search(p)
	if err != nil {
		return nil, err
	}
	return svc.populatePreferredTerms(hits), nil
}

// populatePreferredTerms fills in each hit's PreferredTerm via
// GetPreferredSynonym, per §4.5's `{conceptId, descriptionId, term,
// preferredTerm}` result shape; a concept with no resolvable preferred
// synonym is left with an empty PreferredTerm rather than failing the
// whole search.
func (svc *Svc) populatePreferredTerms(hits []search.Hit) []search.Hit {
	resolved := make(map[int64]string, len(hits))
	for i := range hits {
		term, ok := resolved[hits[i].ConceptID]
		if !ok {
			if d, err := svc.GetPreferredSynonym(hits[i].ConceptID, svc.availableLanguages); err == nil && d != nil {
				term = d.Term
			}
			resolved[hits[i].ConceptID] = term
		}
		hits[i].PreferredTerm = term
	}
	return hits
}

// ExpandECL parses and evaluates an ECL expression against the store, per
// §4.7's `expandEcl(expression)`.
func (svc *Svc) ExpandECL(expression string) (*roaring64.Bitmap, error) {
	return ecl.Expand(expression, svc.store)
}

// SearchWithECL intersects free-text search hits with an ECL-constrained
// concept set, per §4.7's `searchWithEcl(text, expression, params)`. The
// free-text search still carries every other filter in params; only the
// additional ECL intersection is applied on top.
func (svc *Svc) SearchWithECL(text string, expression string, p search.Params) ([]search.Hit, error) {
	allowed, err := svc.ExpandECL(expression)
	if err != nil {
		return nil, err
	}
	p.Text = text
	hits, err := svc.search.Search(p)
	if err != nil {
		return nil, err
	}
	filtered := hits[:0]
	for _, h := range hits {
		if allowed.Contains(uint64(h.ConceptID)) {
			filtered = append(filtered, h)
		}
	}
	return svc.populatePreferredTerms(filtered), nil
}

// Status reports counts of each primary table and index, per §4.7's
// `status()`.
type Status struct {
	store.Statistics
	SearchDocuments uint64
}

// Status computes the current Status snapshot.
func (svc *Svc) Status() (Status, error) {
	stats, err := svc.store.Statistics()
	if err != nil {
		return Status{}, err
	}
	docs, err := svc.search.DocCount()
	if err != nil {
		return Status{}, err
	}
	return Status{Statistics: stats, SearchDocuments: docs}, nil
}

// InstalledReferenceSets returns the set of refset ids with at least one
// active member, read on each call from the store's installed-refsets index,
// which Reindex rebuilds.
func (svc *Svc) InstalledReferenceSets() (map[int64]bool, error) {
	return svc.store.InstalledRefsets()
}

// Reindex runs the Index Builder's two phases and then repopulates the
// search index from the resulting refset membership, per §6's `index`
// command: "build relationship closure, refset membership, and search
// index" in one fixpoint pass.
func (svc *Svc) Reindex() error {
	start := time.Now()
	if err := index.Build(svc.store); err != nil {
		return err
	}
	installed, err := svc.store.InstalledRefsets()
	if err != nil {
		return err
	}
	svc.availableLanguages = svc.availableLanguages[:0]
	for refsetID := range installed {
		svc.availableLanguages = append(svc.availableLanguages, refsetID)
	}
	if err := svc.reindexSearch(); err != nil {
		return err
	}
	svc.log.Infow("reindex complete", "elapsed", time.Since(start))
	return nil
}
