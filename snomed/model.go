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

// Package snomed defines the primary SNOMED CT component types and the
// constants needed to interpret them. Identifiers are plain int64s; callers
// that need to validate a Verhoeff check digit use the snomed.Identifier type.
package snomed

import "time"

// Well-known metadata concept identifiers.
const (
	IsA                          int64 = 116680003
	FullySpecifiedNameTypeID     int64 = 900000000000003001
	SynonymTypeID                int64 = 900000000000013009
	DefinitionTypeID             int64 = 900000000000550004
	PreferredAcceptabilityID     int64 = 900000000000548007
	AcceptableAcceptabilityID    int64 = 900000000000549004
	PrimitiveDefinitionStatusID  int64 = 900000000000074008
	DefinedDefinitionStatusID    int64 = 900000000000073014
	CaseInsensitiveID            int64 = 900000000000448009
	EntireTermCaseSensitiveID    int64 = 900000000000017005
	AdditionalRelationshipID     int64 = 900000000000227009
	DefiningRelationshipID       int64 = 900000000000006009
	QualifyingRelationshipID     int64 = 900000000000225001
	RefsetDescriptorRefsetID     int64 = 900000000000456007
	SimpleMapRefsetID            int64 = 900000000000496009
	ComplexMapRefsetID           int64 = 447250001
	ExtendedMapRefsetID          int64 = 609331003
	AttributeValueRefsetID       int64 = 900000000000480006
	AssociationRefsetID          int64 = 900000000000522004
)

// Concept identifies a meaning. Active status has already been resolved to the
// row with the greatest effectiveTime for this id; see the Import Pipeline.
type Concept struct {
	ID                 int64
	EffectiveTime      time.Time
	Active             bool
	ModuleID           int64
	DefinitionStatusID int64
}

// IsPrimitive reports whether the concept's definition status is "primitive"
// (its defining characteristics are necessary but not sufficient).
func (c *Concept) IsPrimitive() bool {
	return c.DefinitionStatusID == PrimitiveDefinitionStatusID
}

// Description is a lexical label bound to a concept.
type Description struct {
	ID                 int64
	EffectiveTime      time.Time
	Active             bool
	ModuleID           int64
	ConceptID          int64
	LanguageCode       string
	TypeID             int64
	Term               string
	CaseSignificanceID int64
}

// IsFullySpecifiedName returns true for the unambiguous canonical label.
func (d *Description) IsFullySpecifiedName() bool {
	return d.TypeID == FullySpecifiedNameTypeID
}

// IsSynonym returns true for a plain synonym (as opposed to FSN or definition).
func (d *Description) IsSynonym() bool {
	return d.TypeID == SynonymTypeID
}

// IsDefinition returns true for a textual definition.
func (d *Description) IsDefinition() bool {
	return d.TypeID == DefinitionTypeID
}

// Uncapitalized returns the term with its leading character lower-cased,
// unless the description is marked entire-term-case-sensitive.
func (d *Description) Uncapitalized() string {
	if d.CaseSignificanceID == EntireTermCaseSensitiveID || d.Term == "" {
		return d.Term
	}
	r := []rune(d.Term)
	r[0] = toLower(r[0])
	return string(r)
}

func toLower(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}

// Relationship is a directed, typed edge between two concepts.
type Relationship struct {
	ID                    int64
	EffectiveTime         time.Time
	Active                bool
	ModuleID              int64
	SourceID              int64
	DestinationID         int64
	RelationshipGroup     int
	TypeID                int64
	CharacteristicTypeID  int64
	ModifierID            int64
}

// IsIsA reports whether this edge is a subsumption (IS_A) relationship.
func (r *Relationship) IsIsA() bool {
	return r.TypeID == IsA
}

// IsDefiningRelationship reports whether this edge participates in the
// concept's defining characteristics (as opposed to a qualifying/additional one).
func (r *Relationship) IsDefiningRelationship() bool {
	return r.CharacteristicTypeID == DefiningRelationshipID || r.CharacteristicTypeID == 0
}

// RefsetItem is a polymorphic reference set member, discriminated at read time
// by RefsetID. Fields outside the base are populated according to the refset's
// recognised schema; Extra carries columns for schemas this package does not
// recognise, in file order, named via the refset's descriptor item if one has
// been imported.
type RefsetItem struct {
	ID                    string // UUID
	EffectiveTime         time.Time
	Active                bool
	ModuleID              int64
	RefsetID              int64
	ReferencedComponentID int64

	// Recognised schema payloads. At most one group is meaningful for any
	// given item; which one is determined by RefsetID's descriptor schema.
	AcceptabilityID int64  // language refset
	MapTarget       string // simple/complex/extended map refset
	MapGroup        int
	MapPriority     int
	MapRule         string
	MapAdvice       string
	CorrelationID   int64
	MapCategoryID   int64 // extended map only
	ValueID         int64 // attribute-value refset
	TargetComponentID int64 // association refset

	// Refset descriptor payload (items of RefsetDescriptorRefsetID itself).
	AttributeDescriptionID int64
	AttributeTypeID        int64
	AttributeOrder         int64

	// Extra carries the ordered trailing columns of a row whose refset schema
	// is not one of the above; column names, where a descriptor was imported,
	// are read through the store's RefsetFieldNames.
	Extra []string
}

// IsAcceptable reports whether a language-refset item marks its description
// as an acceptable (non-preferred) synonym.
func (r *RefsetItem) IsAcceptable() bool {
	return r.AcceptabilityID == AcceptableAcceptabilityID
}

// IsPreferred reports whether a language-refset item marks its description as
// the preferred synonym for its language.
func (r *RefsetItem) IsPreferred() bool {
	return r.AcceptabilityID == PreferredAcceptabilityID
}

// ConceptReference is a lightweight, denormalised pointer to a concept used in
// places that need an id plus a human-readable term without a full Concept.
type ConceptReference struct {
	ConceptID int64
	Term      string
}

// ExtendedConcept is the derived projection described in the Extended-Concept
// Builder: a concept plus its transitive ancestor relationships, its direct
// parent relationships, its preferred description, and its refset memberships.
type ExtendedConcept struct {
	Concept                   *Concept
	PreferredDescription      *Description
	Descriptions              []*Description
	ParentRelationships       map[int64][]int64 // typeId -> destination concept ids (any ancestor-or-self source)
	DirectParentRelationships map[int64][]int64 // typeId -> destination concept ids (direct parents only)
	ConceptRefsets            []int64
}
