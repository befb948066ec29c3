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

// Package search implements the Search Index of §4.5: an inverted text index
// over descriptions, backed by github.com/blevesearch/bleve, producing ranked
// concept-id hits constrained by language/refset/type filters.
package search

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve"
	"github.com/blevesearch/bleve/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/index/scorch"
	"github.com/blevesearch/bleve/search/query"

	"github.com/snomed-tools/terminology/snomed"
)

// Document is the unit indexed by bleve for one active description, shaped
// per §4.5: the term itself (tokenised, lowercased, stop-word filtered and
// stemmed by bleve's "en" analyzer; diacritics are not folded, so "e" and "é"
// index as different terms), plus keyword-analyzed facets for everything the search
// query's filters need to constrain without a join back to the Store.
type Document struct {
	ConceptID  string
	Term       string
	TypeID     string
	Active     bool
	Refsets    []string // "r<refsetId>" tokens
	Preferred  []string // "p<languageRefsetId>" tokens: preferred in that language
	Acceptable []string // "a<languageRefsetId>" tokens: acceptable in that language
}

// Index wraps a bleve.Index at a fixed on-disk path.
type Index struct {
	bleve bleve.Index
}

// Open creates or opens the search index directory at path (search.db/ per
// §6's on-disk layout).
func Open(path string, readOnly bool) (*Index, error) {
	config := map[string]interface{}{"read_only": readOnly}
	idx, err := bleve.OpenUsing(path, config)
	if err == nil {
		return &Index{bleve: idx}, nil
	}
	if err != bleve.ErrorIndexPathDoesNotExist {
		return nil, &snomed.StoreError{Op: "open", Message: "failed to open search index at " + path, Cause: err}
	}
	if readOnly {
		return nil, &snomed.StoreError{Op: "open", Message: "cannot open search index in read-only mode: it does not exist at " + path}
	}
	mapping := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()
	mapping.AddDocumentMapping("document", doc)
	mapping.DefaultType = "document"

	term := bleve.NewTextFieldMapping()
	term.Analyzer = "en"
	term.Store = true
	doc.AddFieldMappingsAt("Term", term)

	storedKeyword := bleve.NewTextFieldMapping()
	storedKeyword.Analyzer = keyword.Name
	storedKeyword.Store = true
	storedKeyword.IncludeInAll = false
	doc.AddFieldMappingsAt("ConceptID", storedKeyword)

	kw := bleve.NewTextFieldMapping()
	kw.Analyzer = keyword.Name
	kw.Store = false
	kw.IncludeInAll = false
	for _, field := range []string{"TypeID", "Refsets", "Preferred", "Acceptable"} {
		doc.AddFieldMappingsAt(field, kw)
	}

	idx, err = bleve.NewUsing(path, mapping, scorch.Name, scorch.Name, nil)
	if err != nil {
		return nil, &snomed.StoreError{Op: "open", Message: "failed to create search index at " + path, Cause: err}
	}
	return &Index{bleve: idx}, nil
}

// Close releases the index.
func (i *Index) Close() error {
	return i.bleve.Close()
}

// DocCount reports the number of documents currently indexed, per the
// Facade's status() operation.
func (i *Index) DocCount() (uint64, error) {
	n, err := i.bleve.DocCount()
	if err != nil {
		return 0, &snomed.StoreError{Op: "docCount", Message: "failed to count search documents", Cause: err}
	}
	return n, nil
}

// IndexedDescription is what the Index Builder's search pass feeds per
// active description, FSNs included.
type IndexedDescription struct {
	DescriptionID int64
	ConceptID     int64
	Term          string
	TypeID        int64
	ConceptActive bool
	Refsets       []int64
	PreferredIn   []int64 // language refset ids for which this is the preferred synonym
	AcceptableIn  []int64 // language refset ids for which this is acceptable
}

// Index writes a batch of descriptions into the search index, per §4.5.
// FSN descriptions are indexed like any other so the IncludeFsn query
// parameter is honourable, but Search excludes them by default and only
// returns an FSN hit when a caller explicitly asks for one.
func (i *Index) Index(descriptions []IndexedDescription) error {
	batch := i.bleve.NewBatch()
	for _, d := range descriptions {
		doc := Document{
			ConceptID: strconv.FormatInt(d.ConceptID, 10),
			Term:      d.Term,
			TypeID:    strconv.FormatInt(d.TypeID, 10),
			Active:    d.ConceptActive,
		}
		for _, r := range d.Refsets {
			doc.Refsets = append(doc.Refsets, "r"+strconv.FormatInt(r, 10))
		}
		for _, l := range d.PreferredIn {
			doc.Preferred = append(doc.Preferred, "p"+strconv.FormatInt(l, 10))
		}
		for _, l := range d.AcceptableIn {
			doc.Acceptable = append(doc.Acceptable, "a"+strconv.FormatInt(l, 10))
		}
		if !d.ConceptActive {
			doc.Refsets = append(doc.Refsets, "inactive")
		}
		if err := batch.Index(strconv.FormatInt(d.DescriptionID, 10), &doc); err != nil {
			return &snomed.IndexError{Phase: "search", Message: "failed to add document to batch", Cause: err}
		}
	}
	if err := i.bleve.Batch(batch); err != nil {
		return &snomed.IndexError{Phase: "search", Message: "failed to commit search batch", Cause: err}
	}
	return nil
}

// Fuzziness levels, per §4.5's parameter set.
const (
	NoFuzzy = iota
	FallbackFuzzy
	AlwaysFuzzy
)

// Params is the search query parameter set of §4.5.
type Params struct {
	Text            string
	MaxHits         int
	Fuzziness       int
	AcceptableIn    []int64
	PreferredIn     []int64
	ConceptIDFilter []int64
	RefsetFilter    []int64
	TypeFilter      []int64
	ActiveOnly      bool
	IncludeFsn      bool
}

// Hit is one ranked result: the description matched plus its concept id, per
// §4.5's `{conceptId, descriptionId, term, preferredTerm}` result shape.
// PreferredTerm is left blank by Index.Search itself -- the search index has
// no notion of language preference, so the Facade fills it in after the fact
// via its own GetPreferredSynonym.
type Hit struct {
	ConceptID     int64
	DescriptionID int64
	Term          string
	PreferredTerm string
}

// Search runs params against the index and returns hits truncated to
// MaxHits, in the order of bleve's own TF-IDF score over the "en" analyzer
// plus a prefix sub-query, which favours shorter exact matches. PreferredIn
// and AcceptableIn only filter: a hit preferred in a requested language is
// not ranked above one that is merely acceptable.
func (i *Index) Search(p Params) ([]Hit, error) {
	if p.Text == "" {
		return nil, &snomed.QueryError{Position: -1, Message: "no search text supplied"}
	}
	maxHits := p.MaxHits
	if maxHits == 0 {
		maxHits = 100
	}

	conj := bleve.NewConjunctionQuery()
	for _, token := range strings.Fields(p.Text) {
		alt := bleve.NewDisjunctionQuery()
		match := bleve.NewMatchQuery(token)
		match.SetField("Term")
		alt.AddQuery(match)
		if len(token) >= 3 {
			prefix := bleve.NewPrefixQuery(strings.ToLower(token))
			prefix.SetField("Term")
			alt.AddQuery(prefix)
		}
		if p.Fuzziness == AlwaysFuzzy && len(token) >= 3 {
			fuzzy := bleve.NewFuzzyQuery(token)
			fuzzy.SetField("Term")
			fuzzy.SetFuzziness(2)
			alt.AddQuery(fuzzy)
		}
		conj.AddQuery(alt)
	}

	if p.ActiveOnly {
		inactive := bleve.NewTermQuery("inactive")
		inactive.SetField("Refsets")
		conj.AddQuery(bleve.NewBooleanQuery(nil, nil, []query.Query{inactive}))
	}
	if !p.IncludeFsn {
		fsn := bleve.NewTermQuery(strconv.FormatInt(snomed.FullySpecifiedNameTypeID, 10))
		fsn.SetField("TypeID")
		conj.AddQuery(bleve.NewBooleanQuery(nil, nil, []query.Query{fsn}))
	}
	addTermQueries(conj, "ConceptID", int64Strings(p.ConceptIDFilter))
	addTermQueries(conj, "Refsets", prefixedStrings("r", p.RefsetFilter))
	addTermQueries(conj, "TypeID", int64Strings(p.TypeFilter))
	if len(p.PreferredIn) > 0 || len(p.AcceptableIn) > 0 {
		langQuery := bleve.NewDisjunctionQuery()
		for _, l := range p.PreferredIn {
			q := bleve.NewTermQuery("p" + strconv.FormatInt(l, 10))
			q.SetField("Preferred")
			langQuery.AddQuery(q)
		}
		for _, l := range p.AcceptableIn {
			q := bleve.NewTermQuery("a" + strconv.FormatInt(l, 10))
			q.SetField("Acceptable")
			langQuery.AddQuery(q)
		}
		conj.AddQuery(langQuery)
	}

	req := bleve.NewSearchRequest(conj)
	req.Size = maxHits
	req.Fields = []string{"ConceptID", "Term"}
	result, err := i.bleve.Search(req)
	if err != nil {
		return nil, &snomed.QueryError{Position: -1, Message: "search engine failure", Cause: err}
	}

	hits := make([]Hit, 0, len(result.Hits))
	for _, h := range result.Hits {
		descID, err := strconv.ParseInt(h.ID, 10, 64)
		if err != nil {
			continue
		}
		hit := Hit{DescriptionID: descID}
		if v, ok := h.Fields["ConceptID"].(string); ok {
			if cid, err := strconv.ParseInt(v, 10, 64); err == nil {
				hit.ConceptID = cid
			}
		}
		if v, ok := h.Fields["Term"].(string); ok {
			hit.Term = v
		}
		hits = append(hits, hit)
	}
	if len(hits) == 0 && p.Fuzziness == FallbackFuzzy {
		p.Fuzziness = AlwaysFuzzy
		return i.Search(p)
	}
	return hits, nil
}

func addTermQueries(conj *query.ConjunctionQuery, field string, values []string) {
	if len(values) == 0 {
		return
	}
	disj := bleve.NewDisjunctionQuery()
	for _, v := range values {
		q := bleve.NewTermQuery(v)
		q.SetField(field)
		disj.AddQuery(q)
	}
	conj.AddQuery(disj)
}

func int64Strings(ids []int64) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = strconv.FormatInt(id, 10)
	}
	return out
}

func prefixedStrings(prefix string, ids []int64) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = fmt.Sprintf("%s%d", prefix, id)
	}
	return out
}
