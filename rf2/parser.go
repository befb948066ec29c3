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

package rf2

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/snomed-tools/terminology/snomed"
)

// Standard RF2 column headers, per component kind. A file whose header row
// does not start with these columns (refset files may carry additional
// trailing columns) is rejected as an InputError.
var (
	conceptColumns      = []string{"id", "effectiveTime", "active", "moduleId", "definitionStatusId"}
	descriptionColumns  = []string{"id", "effectiveTime", "active", "moduleId", "conceptId", "languageCode", "typeId", "term", "caseSignificanceId"}
	relationshipColumns = []string{"id", "effectiveTime", "active", "moduleId", "sourceId", "destinationId", "relationshipGroup", "typeId", "characteristicTypeId", "modifierId"}
	refsetColumns       = []string{"id", "effectiveTime", "active", "moduleId", "refsetId", "referencedComponentId"}
)

const dateLayout = "20060102"

// Scan reads a tab-separated RF2 file and invokes fn once per batch of up to
// batchSize rows (header excluded). Returns an *snomed.InputError describing
// the offending line on a short row.
func Scan(r io.Reader, filename string, kind ComponentKind, batchSize int, fn func(batch [][]string) error) error {
	expected := expectedColumns(kind)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	if !scanner.Scan() {
		return &snomed.InputError{File: filename, Message: "empty file, missing header row"}
	}
	line++
	header := strings.Split(scanner.Text(), "\t")
	if len(header) < len(expected) {
		return &snomed.InputError{File: filename, Line: line, Message: "header has fewer columns than expected"}
	}
	for i, name := range expected {
		if header[i] != name {
			return &snomed.InputError{File: filename, Line: line, Message: "unexpected header column " + header[i] + ", want " + name}
		}
	}
	batch := make([][]string, 0, batchSize)
	for scanner.Scan() {
		line++
		row := strings.Split(scanner.Text(), "\t")
		if len(row) < len(expected) {
			return &snomed.InputError{File: filename, Line: line, Message: "row has fewer columns than expected"}
		}
		batch = append(batch, row)
		if len(batch) == batchSize {
			if err := fn(batch); err != nil {
				return err
			}
			batch = make([][]string, 0, batchSize)
		}
	}
	if err := scanner.Err(); err != nil {
		return &snomed.InputError{File: filename, Line: line, Message: "read failure: " + err.Error()}
	}
	if len(batch) > 0 {
		if err := fn(batch); err != nil {
			return err
		}
	}
	return nil
}

func expectedColumns(kind ComponentKind) []string {
	switch kind {
	case ConceptKind:
		return conceptColumns
	case DescriptionKind:
		return descriptionColumns
	case RelationshipKind:
		return relationshipColumns
	default:
		return refsetColumns
	}
}

func parseDate(filename string, line int, field, s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, &snomed.InputError{File: filename, Line: line, Message: "malformed " + field + " '" + s + "'"}
	}
	return t, nil
}

func parseBool(filename string, line int, field, s string) (bool, error) {
	switch s {
	case "1":
		return true, nil
	case "0":
		return false, nil
	default:
		return false, &snomed.InputError{File: filename, Line: line, Message: "malformed " + field + " '" + s + "', want 0 or 1"}
	}
}

func parseInt(filename string, line int, field, s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, &snomed.InputError{File: filename, Line: line, Message: "malformed " + field + " '" + s + "'"}
	}
	return v, nil
}

// ParseConceptRow decodes one RF2 Concept row into a snomed.Concept. line is
// used only for error reporting.
func ParseConceptRow(filename string, line int, row []string) (*snomed.Concept, error) {
	id, err := parseInt(filename, line, "id", row[0])
	if err != nil {
		return nil, err
	}
	et, err := parseDate(filename, line, "effectiveTime", row[1])
	if err != nil {
		return nil, err
	}
	active, err := parseBool(filename, line, "active", row[2])
	if err != nil {
		return nil, err
	}
	moduleID, err := parseInt(filename, line, "moduleId", row[3])
	if err != nil {
		return nil, err
	}
	defStatus, err := parseInt(filename, line, "definitionStatusId", row[4])
	if err != nil {
		return nil, err
	}
	return &snomed.Concept{ID: id, EffectiveTime: et, Active: active, ModuleID: moduleID, DefinitionStatusID: defStatus}, nil
}

// ParseDescriptionRow decodes one RF2 Description row into a snomed.Description.
func ParseDescriptionRow(filename string, line int, row []string) (*snomed.Description, error) {
	id, err := parseInt(filename, line, "id", row[0])
	if err != nil {
		return nil, err
	}
	et, err := parseDate(filename, line, "effectiveTime", row[1])
	if err != nil {
		return nil, err
	}
	active, err := parseBool(filename, line, "active", row[2])
	if err != nil {
		return nil, err
	}
	moduleID, err := parseInt(filename, line, "moduleId", row[3])
	if err != nil {
		return nil, err
	}
	conceptID, err := parseInt(filename, line, "conceptId", row[4])
	if err != nil {
		return nil, err
	}
	typeID, err := parseInt(filename, line, "typeId", row[6])
	if err != nil {
		return nil, err
	}
	caseSig, err := parseInt(filename, line, "caseSignificanceId", row[8])
	if err != nil {
		return nil, err
	}
	return &snomed.Description{
		ID: id, EffectiveTime: et, Active: active, ModuleID: moduleID, ConceptID: conceptID,
		LanguageCode: row[5], TypeID: typeID, Term: row[7], CaseSignificanceID: caseSig,
	}, nil
}

// ParseRelationshipRow decodes one RF2 Relationship (or StatedRelationship) row.
func ParseRelationshipRow(filename string, line int, row []string) (*snomed.Relationship, error) {
	id, err := parseInt(filename, line, "id", row[0])
	if err != nil {
		return nil, err
	}
	et, err := parseDate(filename, line, "effectiveTime", row[1])
	if err != nil {
		return nil, err
	}
	active, err := parseBool(filename, line, "active", row[2])
	if err != nil {
		return nil, err
	}
	moduleID, err := parseInt(filename, line, "moduleId", row[3])
	if err != nil {
		return nil, err
	}
	sourceID, err := parseInt(filename, line, "sourceId", row[4])
	if err != nil {
		return nil, err
	}
	destID, err := parseInt(filename, line, "destinationId", row[5])
	if err != nil {
		return nil, err
	}
	group, err := parseInt(filename, line, "relationshipGroup", row[6])
	if err != nil {
		return nil, err
	}
	typeID, err := parseInt(filename, line, "typeId", row[7])
	if err != nil {
		return nil, err
	}
	charType, err := parseInt(filename, line, "characteristicTypeId", row[8])
	if err != nil {
		return nil, err
	}
	modifier, err := parseInt(filename, line, "modifierId", row[9])
	if err != nil {
		return nil, err
	}
	return &snomed.Relationship{
		ID: id, EffectiveTime: et, Active: active, ModuleID: moduleID, SourceID: sourceID, DestinationID: destID,
		RelationshipGroup: int(group), TypeID: typeID, CharacteristicTypeID: charType, ModifierID: modifier,
	}, nil
}

// ParseRefsetRow decodes one RF2 reference set row into a snomed.RefsetItem,
// populating the typed fields appropriate to kind. Only rows of a kind with no
// typed schema (simple and other refsets) have their trailing columns
// captured into Extra; columns beyond a recognised schema's own are ignored.
func ParseRefsetRow(filename string, line int, kind ComponentKind, row []string) (*snomed.RefsetItem, error) {
	et, err := parseDate(filename, line, "effectiveTime", row[1])
	if err != nil {
		return nil, err
	}
	active, err := parseBool(filename, line, "active", row[2])
	if err != nil {
		return nil, err
	}
	moduleID, err := parseInt(filename, line, "moduleId", row[3])
	if err != nil {
		return nil, err
	}
	refsetID, err := parseInt(filename, line, "refsetId", row[4])
	if err != nil {
		return nil, err
	}
	refCompID, err := parseInt(filename, line, "referencedComponentId", row[5])
	if err != nil {
		return nil, err
	}
	item := &snomed.RefsetItem{
		ID: row[0], EffectiveTime: et, Active: active, ModuleID: moduleID,
		RefsetID: refsetID, ReferencedComponentID: refCompID,
	}
	extra := row[6:]
	switch kind {
	case LanguageRefsetKind:
		if len(extra) < 1 {
			return nil, &snomed.InputError{File: filename, Line: line, Message: "language refset row missing acceptabilityId"}
		}
		v, err := parseInt(filename, line, "acceptabilityId", extra[0])
		if err != nil {
			return nil, err
		}
		item.AcceptabilityID = v
	case SimpleMapRefsetKind:
		if len(extra) >= 1 {
			item.MapTarget = extra[0]
		}
	case ComplexMapRefsetKind, ExtendedMapRefsetKind:
		if len(extra) < 5 {
			return nil, &snomed.InputError{File: filename, Line: line, Message: "complex/extended map refset row missing columns"}
		}
		if v, err := parseInt(filename, line, "mapGroup", extra[0]); err == nil {
			item.MapGroup = int(v)
		} else {
			return nil, err
		}
		if v, err := parseInt(filename, line, "mapPriority", extra[1]); err == nil {
			item.MapPriority = int(v)
		} else {
			return nil, err
		}
		item.MapRule = extra[2]
		item.MapAdvice = extra[3]
		item.MapTarget = extra[4]
		if len(extra) >= 6 {
			if v, err := parseInt(filename, line, "correlationId", extra[5]); err == nil {
				item.CorrelationID = v
			}
		}
		if kind == ExtendedMapRefsetKind && len(extra) >= 7 {
			if v, err := parseInt(filename, line, "mapCategoryId", extra[6]); err == nil {
				item.MapCategoryID = v
			}
		}
	case AttributeValueRefsetKind:
		if len(extra) >= 1 {
			if v, err := parseInt(filename, line, "valueId", extra[0]); err == nil {
				item.ValueID = v
			} else {
				return nil, err
			}
		}
	case AssociationRefsetKind:
		if len(extra) >= 1 {
			if v, err := parseInt(filename, line, "targetComponentId", extra[0]); err == nil {
				item.TargetComponentID = v
			} else {
				return nil, err
			}
		}
	case RefsetDescriptorRefsetKind:
		if len(extra) < 3 {
			return nil, &snomed.InputError{File: filename, Line: line, Message: "refset descriptor row missing columns"}
		}
		if v, err := parseInt(filename, line, "attributeDescriptionId", extra[0]); err == nil {
			item.AttributeDescriptionID = v
		} else {
			return nil, err
		}
		if v, err := parseInt(filename, line, "attributeTypeId", extra[1]); err == nil {
			item.AttributeTypeID = v
		} else {
			return nil, err
		}
		if v, err := parseInt(filename, line, "attributeOrder", extra[2]); err == nil {
			item.AttributeOrder = v
		} else {
			return nil, err
		}
	default: // SimpleRefsetKind, GenericRefsetKind, or anything else: no typed payload
		item.Extra = extra
	}
	return item, nil
}
