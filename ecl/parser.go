package ecl

import (
	"fmt"
	"strconv"

	"github.com/snomed-tools/terminology/snomed"
)

// parser holds one token of lookahead over a lexer, per the usual
// recursive-descent shape.
type parser struct {
	lex *lexer
	tok token
}

// Parse compiles an ECL expression into an AST. Parse failures are reported
// as a *snomed.QueryError carrying the rune offset of the offending token.
func Parse(expression string) (Expr, error) {
	p := &parser{lex: newLexer(expression)}
	p.advance()
	expr, err := p.parseExpressionConstraint()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, &snomed.QueryError{Position: p.tok.pos, Message: "unexpected trailing input: " + p.tok.text}
	}
	return expr, nil
}

func (p *parser) advance() {
	p.tok = p.lex.next()
}

func (p *parser) errorf(format string, args ...interface{}) error {
	return &snomed.QueryError{Position: p.tok.pos, Message: fmt.Sprintf(format, args...)}
}

// expressionConstraint = refinedExpressionConstraint / compoundExpressionConstraint / subExpressionConstraint
// Disambiguated here by precedence: try compound (AND/OR/MINUS chains) first
// since it is the widest production, falling back through refined to a bare
// subexpression when no operator follows.
func (p *parser) parseExpressionConstraint() (Expr, error) {
	left, err := p.parseRefinedOrSubExpression()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case isKeyword(p.tok, "AND"):
			p.advance()
			right, err := p.parseRefinedOrSubExpression()
			if err != nil {
				return nil, err
			}
			left = &BinaryExpr{Op: OpAnd, Left: left, Right: right}
		case isKeyword(p.tok, "OR"):
			p.advance()
			right, err := p.parseRefinedOrSubExpression()
			if err != nil {
				return nil, err
			}
			left = &BinaryExpr{Op: OpOr, Left: left, Right: right}
		case isKeyword(p.tok, "MINUS"):
			p.advance()
			right, err := p.parseRefinedOrSubExpression()
			if err != nil {
				return nil, err
			}
			left = &BinaryExpr{Op: OpMinus, Left: left, Right: right}
		default:
			return left, nil
		}
	}
}

// parseRefinedOrSubExpression parses a subExpressionConstraint and, if a ":"
// follows, attaches a refinement to it (refinedExpressionConstraint).
func (p *parser) parseRefinedOrSubExpression() (Expr, error) {
	sub, err := p.parseSubExpressionConstraint()
	if err != nil {
		return nil, err
	}
	if p.tok.kind == tokColon {
		p.advance()
		refinement, err := p.parseEclRefinement()
		if err != nil {
			return nil, err
		}
		sub.Refinement = refinement
	}
	return sub, nil
}

// subExpressionConstraint = [constraintOperator] [memberOf] (eclFocusConcept / "(" expressionConstraint ")")
func (p *parser) parseSubExpressionConstraint() (*SubExpression, error) {
	sub := &SubExpression{}
	switch p.tok.kind {
	case tokLT:
		p.advance()
		sub.Operator = DescendantOf
	case tokLTLT:
		p.advance()
		sub.Operator = DescendantOrSelfOf
	case tokLTBang:
		p.advance()
		sub.Operator = ChildOf
	case tokGT:
		p.advance()
		sub.Operator = AncestorOf
	case tokGTGT:
		p.advance()
		sub.Operator = AncestorOrSelfOf
	case tokGTBang:
		p.advance()
		sub.Operator = ParentOf
	}
	if p.tok.kind == tokCaret {
		p.advance()
		sub.MemberOf = true
	}
	if p.tok.kind == tokLParen {
		p.advance()
		inner, err := p.parseExpressionConstraint()
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokRParen {
			return nil, p.errorf("expected ')', got %q", p.tok.text)
		}
		p.advance()
		sub.Inner = inner
		return sub, nil
	}
	focus, err := p.parseFocusConcept()
	if err != nil {
		return nil, err
	}
	sub.Focus = focus
	return sub, nil
}

// eclFocusConcept = eclConceptReference / wildCard
func (p *parser) parseFocusConcept() (*Focus, error) {
	if p.tok.kind == tokStar {
		p.advance()
		return &Focus{Wildcard: true}, nil
	}
	if p.tok.kind != tokNumber {
		return nil, p.errorf("expected a concept id or '*', got %q", p.tok.text)
	}
	id, err := strconv.ParseInt(p.tok.text, 10, 64)
	if err != nil {
		return nil, p.errorf("invalid concept id: %s", p.tok.text)
	}
	p.advance()
	f := &Focus{ConceptID: id}
	if p.tok.kind == tokPipe {
		// p.tok is the opening "|"; the lexer is positioned just past it.
		f.Term = p.lex.readPipeTerm()
		p.advance() // consumes the closing "|"
		p.advance() // lookahead past it
	}
	return f, nil
}

// eclRefinement = subRefinement / conjunctionRefinementSet / disjunctionRefinementSet
func (p *parser) parseEclRefinement() (RefinementExpr, error) {
	left, err := p.parseSubRefinement()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case isKeyword(p.tok, "AND"):
			p.advance()
			right, err := p.parseSubRefinement()
			if err != nil {
				return nil, err
			}
			left = &RefinementBinary{Op: OpAnd, Left: left, Right: right}
		case isKeyword(p.tok, "OR"):
			p.advance()
			right, err := p.parseSubRefinement()
			if err != nil {
				return nil, err
			}
			left = &RefinementBinary{Op: OpOr, Left: left, Right: right}
		default:
			return left, nil
		}
	}
}

// subRefinement = eclAttributeSet / eclAttributeGroup / "(" eclRefinement ")"
func (p *parser) parseSubRefinement() (RefinementExpr, error) {
	if p.tok.kind == tokLParen {
		p.advance()
		inner, err := p.parseEclRefinement()
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokRParen {
			return nil, p.errorf("expected ')' closing refinement, got %q", p.tok.text)
		}
		p.advance()
		return inner, nil
	}
	if p.tok.kind == tokLBrace {
		return p.parseAttributeGroup()
	}
	return p.parseAttributeSet()
}

// eclAttributeGroup = "{" eclAttributeSet "}"
// Cardinality prefixes ("[n..m]") are not supported: SNOMED CT relationship
// groups in this data model are unbounded sets, so a minimum/maximum count
// constraint has no natural evaluation target without a concrete instance
// expression to count against.
func (p *parser) parseAttributeGroup() (RefinementExpr, error) {
	p.advance() // consume "{"
	set, err := p.parseAttributeSet()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokRBrace {
		return nil, p.errorf("expected '}' closing attribute group, got %q", p.tok.text)
	}
	p.advance()
	group := &AttributeGroup{}
	flattenAttributes(set, group)
	return group, nil
}

// flattenAttributes collects every Attribute reachable from an
// eclAttributeSet tree (which may combine attributes with AND/OR) into a
// single group, since within "{...}" every attribute must share the same
// relationshipGroup regardless of how they are logically combined.
func flattenAttributes(e RefinementExpr, group *AttributeGroup) {
	switch v := e.(type) {
	case *Attribute:
		group.Attributes = append(group.Attributes, v)
	case *RefinementBinary:
		flattenAttributes(v.Left, group)
		flattenAttributes(v.Right, group)
	}
}

// eclAttributeSet = subAttributeSet [conjunctionAttributeSet / disjunctionAttributeSet]
func (p *parser) parseAttributeSet() (RefinementExpr, error) {
	left, err := p.parseSubAttributeSet()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case isKeyword(p.tok, "AND"):
			p.advance()
			right, err := p.parseSubAttributeSet()
			if err != nil {
				return nil, err
			}
			left = &RefinementBinary{Op: OpAnd, Left: left, Right: right}
		case isKeyword(p.tok, "OR"):
			p.advance()
			right, err := p.parseSubAttributeSet()
			if err != nil {
				return nil, err
			}
			left = &RefinementBinary{Op: OpOr, Left: left, Right: right}
		default:
			return left, nil
		}
	}
}

// subAttributeSet = eclAttribute / "(" eclAttributeSet ")"
func (p *parser) parseSubAttributeSet() (RefinementExpr, error) {
	if p.tok.kind == tokLParen {
		p.advance()
		inner, err := p.parseAttributeSet()
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokRParen {
			return nil, p.errorf("expected ')' closing attribute set, got %q", p.tok.text)
		}
		p.advance()
		return inner, nil
	}
	return p.parseAttribute()
}

// eclAttribute = eclAttributeName (expressionComparisonOperator subExpressionConstraint)
func (p *parser) parseAttribute() (*Attribute, error) {
	if p.tok.kind != tokNumber {
		return nil, p.errorf("expected an attribute type id, got %q", p.tok.text)
	}
	typeID, err := strconv.ParseInt(p.tok.text, 10, 64)
	if err != nil {
		return nil, p.errorf("invalid attribute type id: %s", p.tok.text)
	}
	p.advance()
	if p.tok.kind == tokPipe {
		p.lex.readPipeTerm()
		p.advance() // consumes the closing "|"
		p.advance() // lookahead past it
	}
	attr := &Attribute{TypeID: typeID}
	switch p.tok.kind {
	case tokEquals:
		p.advance()
	case tokBangEquals:
		attr.Negated = true
		p.advance()
	default:
		return nil, p.errorf("expected '=' or '!=' after attribute type, got %q", p.tok.text)
	}
	value, err := p.parseRefinedOrSubExpression()
	if err != nil {
		return nil, err
	}
	attr.Value = value
	return attr, nil
}
