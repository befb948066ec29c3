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

// Package rf2 recognises and streams SNOMED CT Release Format 2 distribution
// files: tab-separated, UTF-8, header-named columns, filenames that encode
// component/format/subtype/language/date.
package rf2

import (
	"regexp"
)

// ComponentKind identifies which primary table a file's rows belong to.
type ComponentKind int

// Recognised component kinds, ordered so Concept files rank before
// Description/Relationship files before Refset files: importing in this
// order satisfies every foreign-key invariant in §3 of the specification.
const (
	ConceptKind ComponentKind = iota
	DescriptionKind
	RelationshipKind
	LanguageRefsetKind
	SimpleRefsetKind
	SimpleMapRefsetKind
	ComplexMapRefsetKind
	ExtendedMapRefsetKind
	AttributeValueRefsetKind
	AssociationRefsetKind
	RefsetDescriptorRefsetKind
	GenericRefsetKind
	UnknownKind
)

// ReleaseType is the RF2 publication style encoded in a filename.
type ReleaseType int

// Recognised release types.
const (
	Full ReleaseType = iota
	Snapshot
	Delta
)

// FileType is the result of classifying an RF2 filename.
type FileType struct {
	Kind     ComponentKind
	Release  ReleaseType
	Language string // ISO language code for description/language-refset files, else ""
}

var releasePatterns = map[string]ReleaseType{
	"Full":     Full,
	"Snapshot": Snapshot,
	"Delta":    Delta,
}

// filenamePatterns is checked in order; the first match wins. Each pattern's
// first capture group is the release type, matching the real distribution's
// own naming scheme: an arbitrary namespace prefix, then the component name,
// then the release type (optionally suffixed with a hyphenated language
// code for descriptions and language refsets), then a namespace/date tail.
var filenamePatterns = []struct {
	kind ComponentKind
	re   *regexp.Regexp
}{
	{ConceptKind, regexp.MustCompile(`^.*?Concept_(Full|Snapshot|Delta)_.*?(\d{8})\.txt$`)},
	{DescriptionKind, regexp.MustCompile(`^.*?Description_(Full|Snapshot|Delta)-?([a-zA-Z]*)_.*?(\d{8})\.txt$`)},
	{RelationshipKind, regexp.MustCompile(`^.*?(?:Stated)?Relationship_(Full|Snapshot|Delta)_.*?(\d{8})\.txt$`)},
	{RefsetDescriptorRefsetKind, regexp.MustCompile(`^.*?Refset_RefsetDescriptor(Full|Snapshot|Delta)_.*?(\d{8})\.txt$`)},
	{LanguageRefsetKind, regexp.MustCompile(`^.*?Refset_Language(Full|Snapshot|Delta)-?([a-zA-Z]*)_.*?(\d{8})\.txt$`)},
	{ExtendedMapRefsetKind, regexp.MustCompile(`^.*?Refset_ExtendedMap(Full|Snapshot|Delta)_.*?(\d{8})\.txt$`)},
	{ComplexMapRefsetKind, regexp.MustCompile(`^.*?Refset_ComplexMap(Full|Snapshot|Delta)_.*?(\d{8})\.txt$`)},
	{SimpleMapRefsetKind, regexp.MustCompile(`^.*?Refset_SimpleMap(Full|Snapshot|Delta)_.*?(\d{8})\.txt$`)},
	{AttributeValueRefsetKind, regexp.MustCompile(`^.*?Refset_AttributeValue(Full|Snapshot|Delta)_.*?(\d{8})\.txt$`)},
	{AssociationRefsetKind, regexp.MustCompile(`^.*?Refset_Association(Full|Snapshot|Delta)_.*?(\d{8})\.txt$`)},
	{SimpleRefsetKind, regexp.MustCompile(`^.*?Refset_Simple(Full|Snapshot|Delta)_.*?(\d{8})\.txt$`)},
	{GenericRefsetKind, regexp.MustCompile(`^.*?Refset_(Full|Snapshot|Delta)_.*?(\d{8})\.txt$`)},
}

// Classify determines the FileType for an RF2 distribution filename, or
// reports UnknownKind if no pattern matches.
func Classify(filename string) FileType {
	for _, p := range filenamePatterns {
		m := p.re.FindStringSubmatch(filename)
		if m == nil {
			continue
		}
		ft := FileType{Kind: p.kind, Release: releasePatterns[m[1]]}
		if p.kind == DescriptionKind || p.kind == LanguageRefsetKind {
			if len(m) > 3 {
				ft.Language = m[2]
			}
		}
		return ft
	}
	return FileType{Kind: UnknownKind}
}

// ImportOrder is the rank of kind within a single import pass: concepts
// before descriptions/relationships before refsets, so every referenced id
// already exists in the store by the time a referencing row is processed.
func ImportOrder(kind ComponentKind) int {
	switch kind {
	case ConceptKind:
		return 0
	case DescriptionKind, RelationshipKind:
		return 1
	default:
		return 2
	}
}
