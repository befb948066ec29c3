package ecl

import (
	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/snomed-tools/terminology/snomed"
)

// Evaluator supplies the store lookups an ECL AST evaluates against. The
// Store interface in package store satisfies this directly; it is declared
// narrowly here so this package does not import store (and could, in
// principle, evaluate against any other backing index).
type Evaluator interface {
	Descendants(conceptID int64) (*roaring64.Bitmap, error)
	Ancestors(conceptID int64) (*roaring64.Bitmap, error)
	MembersOf(refsetID int64) (*roaring64.Bitmap, error)
	ParentRelationships(conceptID int64, typeID int64) ([]*snomed.Relationship, error)
	ChildRelationships(conceptID int64, typeID int64) ([]*snomed.Relationship, error)
	IterateConcepts(fn func(*snomed.Concept) error) error
}

// Eval walks expr against e and returns the resulting concept-id set.
func Eval(expr Expr, e Evaluator) (*roaring64.Bitmap, error) {
	switch v := expr.(type) {
	case *SubExpression:
		return evalSubExpression(v, e)
	case *BinaryExpr:
		left, err := Eval(v.Left, e)
		if err != nil {
			return nil, err
		}
		right, err := Eval(v.Right, e)
		if err != nil {
			return nil, err
		}
		return combine(v.Op, left, right), nil
	default:
		return nil, &snomed.QueryError{Position: -1, Message: "internal error: unknown expression node"}
	}
}

// combine applies a set operator to two already-evaluated operands. For AND
// the operand with the smaller cardinality is passed first to the
// intersection; no operator skips evaluating either side.
func combine(op SetOp, left, right *roaring64.Bitmap) *roaring64.Bitmap {
	switch op {
	case OpAnd:
		if left.GetCardinality() > right.GetCardinality() {
			left, right = right, left
		}
		return roaring64.And(left, right)
	case OpOr:
		return roaring64.Or(left, right)
	case OpMinus:
		return roaring64.AndNot(left, right)
	default:
		return roaring64.New()
	}
}

func evalSubExpression(s *SubExpression, e Evaluator) (*roaring64.Bitmap, error) {
	base, err := evalBase(s, e)
	if err != nil {
		return nil, err
	}
	applied, err := applyOperator(s.Operator, base, e)
	if err != nil {
		return nil, err
	}
	if s.Refinement == nil {
		return applied, nil
	}
	matching, err := evalRefinement(s.Refinement, e)
	if err != nil {
		return nil, err
	}
	return roaring64.And(applied, matching), nil
}

// evalBase resolves the inner focus concept, parenthesised expression, or
// reference-set membership (memberOf) before any unary operator is applied.
func evalBase(s *SubExpression, e Evaluator) (*roaring64.Bitmap, error) {
	if s.Inner != nil {
		inner, err := Eval(s.Inner, e)
		if err != nil {
			return nil, err
		}
		if s.MemberOf {
			return membersOfEach(inner, e)
		}
		return inner, nil
	}
	if s.Focus.Wildcard {
		if s.MemberOf {
			return nil, &snomed.QueryError{Position: -1, Message: "memberOf wildcard ('^*') has no meaning: memberOf requires a single reference set concept"}
		}
		return allConcepts(e)
	}
	if s.MemberOf {
		return e.MembersOf(s.Focus.ConceptID)
	}
	result := roaring64.New()
	result.Add(uint64(s.Focus.ConceptID))
	return result, nil
}

// membersOfEach applies memberOf to every id in a set, unioning each
// refset's membership -- used only for the rare "^(...)" form where the
// inner expression yields a set of reference-set ids rather than one.
func membersOfEach(refsetIDs *roaring64.Bitmap, e Evaluator) (*roaring64.Bitmap, error) {
	result := roaring64.New()
	it := refsetIDs.Iterator()
	for it.HasNext() {
		members, err := e.MembersOf(int64(it.Next()))
		if err != nil {
			return nil, err
		}
		result.Or(members)
	}
	return result, nil
}

func allConcepts(e Evaluator) (*roaring64.Bitmap, error) {
	result := roaring64.New()
	err := e.IterateConcepts(func(c *snomed.Concept) error {
		if c.Active {
			result.Add(uint64(c.ID))
		}
		return nil
	})
	return result, err
}

// applyOperator maps base through a unary constraint operator, unioning the
// per-id results (e.g. "<<X" for a multi-concept base yields the union of
// each member's self-or-descendants).
func applyOperator(op Operator, base *roaring64.Bitmap, e Evaluator) (*roaring64.Bitmap, error) {
	if op == NoOperator {
		return base, nil
	}
	result := roaring64.New()
	it := base.Iterator()
	for it.HasNext() {
		id := int64(it.Next())
		switch op {
		case DescendantOf:
			set, err := e.Descendants(id)
			if err != nil {
				return nil, err
			}
			result.Or(set)
		case DescendantOrSelfOf:
			set, err := e.Descendants(id)
			if err != nil {
				return nil, err
			}
			result.Or(set)
			result.Add(uint64(id))
		case AncestorOf:
			set, err := e.Ancestors(id)
			if err != nil {
				return nil, err
			}
			result.Or(set)
		case AncestorOrSelfOf:
			set, err := e.Ancestors(id)
			if err != nil {
				return nil, err
			}
			result.Or(set)
			result.Add(uint64(id))
		case ChildOf:
			rels, err := e.ChildRelationships(id, snomed.IsA)
			if err != nil {
				return nil, err
			}
			for _, r := range rels {
				result.Add(uint64(r.SourceID))
			}
		case ParentOf:
			rels, err := e.ParentRelationships(id, snomed.IsA)
			if err != nil {
				return nil, err
			}
			for _, r := range rels {
				result.Add(uint64(r.DestinationID))
			}
		}
	}
	return result, nil
}

// evalRefinement resolves a refinement tree to the set of source concept
// ids satisfying it.
func evalRefinement(r RefinementExpr, e Evaluator) (*roaring64.Bitmap, error) {
	switch v := r.(type) {
	case *Attribute:
		return evalAttribute(v, e)
	case *AttributeGroup:
		return evalAttributeGroup(v, e)
	case *RefinementBinary:
		left, err := evalRefinement(v.Left, e)
		if err != nil {
			return nil, err
		}
		right, err := evalRefinement(v.Right, e)
		if err != nil {
			return nil, err
		}
		return combine(v.Op, left, right), nil
	default:
		return nil, &snomed.QueryError{Position: -1, Message: "internal error: unknown refinement node"}
	}
}

func evalAttribute(attr *Attribute, e Evaluator) (*roaring64.Bitmap, error) {
	matches, err := sourceGroupsForAttribute(attr, e)
	if err != nil {
		return nil, err
	}
	result := roaring64.New()
	for source := range matches {
		result.Add(uint64(source))
	}
	if !attr.Negated {
		return result, nil
	}
	all, err := allConcepts(e)
	if err != nil {
		return nil, err
	}
	return roaring64.AndNot(all, result), nil
}

// sourceGroupsForAttribute returns, for an attribute typeId = valueConstraint,
// every source concept id that holds a qualifying active relationship,
// mapped to the set of relationshipGroup ids in which it does so (0 meaning
// "not grouped"). Grouped refinements use this group information to ensure
// every attribute in a "{...}" is satisfied within one shared group.
func sourceGroupsForAttribute(attr *Attribute, e Evaluator) (map[int64]map[int64]bool, error) {
	valueSet, err := Eval(attr.Value, e)
	if err != nil {
		return nil, err
	}
	matches := make(map[int64]map[int64]bool)
	it := valueSet.Iterator()
	for it.HasNext() {
		destinationID := int64(it.Next())
		rels, err := e.ChildRelationships(destinationID, attr.TypeID)
		if err != nil {
			return nil, err
		}
		for _, r := range rels {
			if matches[r.SourceID] == nil {
				matches[r.SourceID] = make(map[int64]bool)
			}
			matches[r.SourceID][int64(r.RelationshipGroup)] = true
		}
	}
	return matches, nil
}

func evalAttributeGroup(group *AttributeGroup, e Evaluator) (*roaring64.Bitmap, error) {
	if len(group.Attributes) == 0 {
		return roaring64.New(), nil
	}
	// sharedGroups[source] is the set of relationshipGroup ids satisfying
	// every attribute processed so far, for that source.
	var sharedGroups map[int64]map[int64]bool
	for i, attr := range group.Attributes {
		matches, err := sourceGroupsForAttribute(attr, e)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			sharedGroups = matches
			continue
		}
		next := make(map[int64]map[int64]bool)
		for source, groups := range sharedGroups {
			other, ok := matches[source]
			if !ok {
				continue
			}
			var common map[int64]bool
			for g := range groups {
				if other[g] {
					if common == nil {
						common = make(map[int64]bool)
					}
					common[g] = true
				}
			}
			if len(common) > 0 {
				next[source] = common
			}
		}
		sharedGroups = next
	}
	result := roaring64.New()
	for source, groups := range sharedGroups {
		// group id 0 denotes "ungrouped"; a real attribute group constraint
		// requires its attributes to share one genuine (non-zero) group.
		for g := range groups {
			if g != 0 {
				result.Add(uint64(source))
				break
			}
		}
	}
	return result, nil
}
