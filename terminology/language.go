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
	"sort"

	"golang.org/x/text/language"

	"github.com/snomed-tools/terminology/snomed"
)

// Language maps a standard BCP-47 tag to the SNOMED-CT language reference set
// that carries its acceptability judgements -- the fallback path used when a
// caller names no language refset explicitly, or none of the ones it named
// are installed.
type Language int

// Supported fallback languages.
const (
	BritishEnglish Language = iota
	AmericanEnglish
	French
	Spanish
	Danish
)

var languageTags = map[Language]language.Tag{
	BritishEnglish:  language.BritishEnglish,
	AmericanEnglish: language.AmericanEnglish,
	French:          language.French,
	Spanish:         language.Spanish,
	Danish:          language.Danish,
}

var languageRefsetIdentifiers = map[Language]int64{
	BritishEnglish:  999001261000000100,
	AmericanEnglish: 900000000000508004,
	French:          722131000,
	Danish:          554831000005107,
}

// Tag returns the BCP-47 tag for this language.
func (l Language) Tag() language.Tag { return languageTags[l] }

// LanguageReferenceSetIdentifier returns the SNOMED-CT identifier for this
// language's language reference set, or zero if none is known.
func (l Language) LanguageReferenceSetIdentifier() int64 { return languageRefsetIdentifiers[l] }

// GetPreferredSynonym returns the preferred synonym for conceptID, per §4.7's
// `getPreferredSynonym(conceptId, languageRefsetIds)`: languageRefsetIDs are
// tried in priority order, and a description is returned as soon as one of
// them marks it preferred. If none of the requested refsets are installed or
// none mark any synonym preferred, this falls back to a plain BCP-47 match
// over the descriptions' own language codes, as the teacher's
// languageMatch/simpleLanguageMatch fallback chain did.
func (svc *Svc) GetPreferredSynonym(conceptID int64, languageRefsetIDs []int64) (*snomed.Description, error) {
	return svc.languageMatch(conceptID, snomed.SynonymTypeID, languageRefsetIDs)
}

// GetFullySpecifiedName returns the FSN for conceptID using the same
// refset-then-BCP47 fallback chain as GetPreferredSynonym.
func (svc *Svc) GetFullySpecifiedName(conceptID int64, languageRefsetIDs []int64) (*snomed.Description, error) {
	return svc.languageMatch(conceptID, snomed.FullySpecifiedNameTypeID, languageRefsetIDs)
}

func (svc *Svc) languageMatch(conceptID int64, typeID int64, languageRefsetIDs []int64) (*snomed.Description, error) {
	descs, err := svc.GetDescriptions(conceptID)
	if err != nil {
		return nil, err
	}
	d, err := svc.refsetLanguageMatch(descs, typeID, languageRefsetIDs)
	if err != nil {
		return nil, err
	}
	if d != nil {
		return d, nil
	}
	d, err = simpleLanguageMatch(descs, typeID, []language.Tag{BritishEnglish.Tag(), AmericanEnglish.Tag()})
	if err != nil {
		return nil, &snomed.QueryError{Position: -1, Message: fmt.Sprintf("no description of type %d found for concept %d", typeID, conceptID), Cause: err}
	}
	return d, nil
}

// refsetLanguageMatch looks, in order, for a description of typeID that a
// requested language reference set marks preferred. It returns (nil, nil)
// rather than an error when no refset matches anything, so callers can fall
// through to simpleLanguageMatch -- an unrecognised or uninstalled refset id
// is not itself an error, per the ECL Engine's own "unknown id means empty
// result" convention applied here to language preference.
func (svc *Svc) refsetLanguageMatch(descs []*snomed.Description, typeID int64, languageRefsetIDs []int64) (*snomed.Description, error) {
	for _, refsetID := range languageRefsetIDs {
		for _, d := range descs {
			if d.TypeID != typeID || !d.Active {
				continue
			}
			items, err := svc.store.RefsetItemsForComponent(d.ID, refsetID)
			if err != nil {
				return nil, err
			}
			for _, it := range items {
				if it.Active && it.IsPreferred() {
					return d, nil
				}
			}
		}
	}
	return nil, nil
}

// simpleLanguageMatch matches a requested language using only the language
// codes carried by each description, without recourse to any language
// refset -- the fallback used for concepts outside any installed language
// refset, or when no refset was requested.
func simpleLanguageMatch(descs []*snomed.Description, typeID int64, preferred []language.Tag) (*snomed.Description, error) {
	var candidates []*snomed.Description
	var tags []language.Tag
	sort.Slice(descs, func(i, j int) bool { return descs[i].LanguageCode < descs[j].LanguageCode })
	for _, d := range descs {
		if d.TypeID != typeID || !d.Active {
			continue
		}
		candidates = append(candidates, d)
		tag, err := language.Parse(d.LanguageCode)
		if err != nil {
			tag = language.Und
		}
		tags = append(tags, tag)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no active description of type %d", typeID)
	}
	matcher := language.NewMatcher(tags)
	_, i, _ := matcher.Match(preferred...)
	return candidates[i], nil
}
