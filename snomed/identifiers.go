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

package snomed

import (
	"strconv"

	"github.com/snomed-tools/terminology/verhoeff"
)

// Identifier (SCTID) is a checksummed (Verhoeff) globally unique persistent
// identifier. See https://confluence.ihtsdotools.org/display/DOCTIG/3.1.4.2.+Component+features+-+Identifiers
type Identifier int64

// ParseIdentifier converts a string into an identifier without validating it.
func ParseIdentifier(s string) (Identifier, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, &InputError{Message: "malformed identifier '" + s + "': " + err.Error()}
	}
	return Identifier(id), nil
}

// ParseAndValidate converts a string into an identifier and validates its
// Verhoeff check digit.
func ParseAndValidate(s string) (Identifier, error) {
	id, err := ParseIdentifier(s)
	if err != nil {
		return 0, err
	}
	if !id.IsValid() {
		return 0, &InputError{Message: "invalid identifier '" + s + "': failed check digit"}
	}
	return id, nil
}

// Integer is a convenience conversion to int64.
func (id Identifier) Integer() int64 { return int64(id) }

// String returns the decimal representation of this identifier.
func (id Identifier) String() string { return strconv.FormatInt(int64(id), 10) }

// IsConcept reports whether this identifier refers to a concept.
func (id Identifier) IsConcept() bool {
	pid := id.partitionIdentifier()
	return pid == "00" || pid == "10"
}

// IsDescription reports whether this identifier refers to a description.
func (id Identifier) IsDescription() bool {
	pid := id.partitionIdentifier()
	return pid == "01" || pid == "11"
}

// IsRelationship reports whether this identifier refers to a relationship.
func (id Identifier) IsRelationship() bool {
	pid := id.partitionIdentifier()
	return pid == "02" || pid == "12"
}

// IsValid reports whether this is a well-formed SNOMED CT identifier.
func (id Identifier) IsValid() bool {
	return verhoeff.Validate(int64(id))
}

// partitionIdentifier returns the penultimate two digits, which identify the
// component type and issuing namespace category.
// see https://confluence.ihtsdotools.org/display/DOCRELFMT/5.5.+Partition+Identifier
// 0123456789
// xxxxxxxppc
func (id Identifier) partitionIdentifier() string {
	s := strconv.FormatInt(int64(id), 10)
	l := len(s)
	if l < 3 {
		return ""
	}
	return s[l-3 : l-1]
}
