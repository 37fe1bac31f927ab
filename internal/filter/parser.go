package filter

import (
	"fmt"

	"github.com/searchcore/searchcore/internal/geo"
)

// Parse compiles a filter expression into an Expr tree per spec §6:
//
//	expr   := or
//	or     := and ("OR" and)*
//	and    := not ("AND" not)*
//	not    := "NOT" not | atom
//	atom   := "(" expr ")"
//	        | field op value
//	        | field "IN" "[" value ("," value)* "]"
//	        | field value "TO" value
//	        | "_geoRadius" "(" number "," number "," number ")"
//	        | "_geoBoundingBox" "(" "(" number "," number ")" "," "(" number "," number ")" ")"
//	op     := "=" | "!=" | "<" | "<=" | ">" | ">="
func Parse(src string) (Expr, error) {
	p := &parser{lex: newLexer(src)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.cur.kind != tokEOF {
		return nil, fmt.Errorf("filter: unexpected trailing token %q", p.cur.text)
	}
	return expr, nil
}

type parser struct {
	lex *lexer
	cur token
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.cur = tok
	return nil
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tokOr {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &orExpr{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tokAnd {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &andExpr{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (Expr, error) {
	if p.cur.kind == tokNot {
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &notExpr{inner: inner}, nil
	}
	return p.parseAtom()
}

func (p *parser) parseAtom() (Expr, error) {
	switch p.cur.kind {
	case tokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.cur.kind != tokRParen {
			return nil, fmt.Errorf("filter: expected ')'")
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return inner, nil

	case tokIdent:
		name := p.cur.text
		switch name {
		case "_geoRadius":
			return p.parseGeoRadius()
		case "_geoBoundingBox":
			return p.parseGeoBoundingBox()
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return p.parseFieldTail(name)
	}
	return nil, fmt.Errorf("filter: unexpected token %q", p.cur.text)
}

// parseFieldTail parses the part of an atom after the field name: an
// operator comparison, an IN list, or a TO range.
func (p *parser) parseFieldTail(field string) (Expr, error) {
	switch p.cur.kind {
	case tokOp:
		op := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		return &compareExpr{field: field, op: op, val: v}, nil

	case tokIn:
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.cur.kind != tokLBracket {
			return nil, fmt.Errorf("filter: expected '[' after IN")
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		var values []value
		for {
			v, err := p.parseValue()
			if err != nil {
				return nil, err
			}
			values = append(values, v)
			if p.cur.kind == tokComma {
				if err := p.advance(); err != nil {
					return nil, err
				}
				continue
			}
			break
		}
		if p.cur.kind != tokRBracket {
			return nil, fmt.Errorf("filter: expected ']' to close IN list")
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &inExpr{field: field, values: values}, nil

	default:
		low, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		if p.cur.kind != tokTo {
			return nil, fmt.Errorf("filter: expected TO in range expression")
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		high, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		return &rangeExpr{field: field, low: low, high: high}, nil
	}
}

func (p *parser) parseValue() (value, error) {
	switch p.cur.kind {
	case tokNumber:
		v := value{num: p.cur.num}
		return v, p.advance()
	case tokString, tokIdent:
		v := value{isString: true, str: p.cur.text}
		return v, p.advance()
	}
	return value{}, fmt.Errorf("filter: expected a value, got %q", p.cur.text)
}

func (p *parser) parseNumber() (float64, error) {
	if p.cur.kind != tokNumber {
		return 0, fmt.Errorf("filter: expected a number, got %q", p.cur.text)
	}
	n := p.cur.num
	return n, p.advance()
}

func (p *parser) expect(k tokenKind, what string) error {
	if p.cur.kind != k {
		return fmt.Errorf("filter: expected %s, got %q", what, p.cur.text)
	}
	return p.advance()
}

func (p *parser) parseGeoRadius() (Expr, error) {
	if err := p.advance(); err != nil { // consume "_geoRadius"
		return nil, err
	}
	if err := p.expect(tokLParen, "'('"); err != nil {
		return nil, err
	}
	lat, err := p.parseNumber()
	if err != nil {
		return nil, err
	}
	if err := p.expect(tokComma, "','"); err != nil {
		return nil, err
	}
	lng, err := p.parseNumber()
	if err != nil {
		return nil, err
	}
	if err := p.expect(tokComma, "','"); err != nil {
		return nil, err
	}
	radius, err := p.parseNumber()
	if err != nil {
		return nil, err
	}
	if err := p.expect(tokRParen, "')'"); err != nil {
		return nil, err
	}
	return &geoRadiusExpr{center: geo.Point{Lat: lat, Lng: lng}, radiusMeters: radius}, nil
}

func (p *parser) parseGeoBoundingBox() (Expr, error) {
	if err := p.advance(); err != nil { // consume "_geoBoundingBox"
		return nil, err
	}
	if err := p.expect(tokLParen, "'('"); err != nil {
		return nil, err
	}
	topLeft, err := p.parsePointLiteral()
	if err != nil {
		return nil, err
	}
	if err := p.expect(tokComma, "','"); err != nil {
		return nil, err
	}
	bottomRight, err := p.parsePointLiteral()
	if err != nil {
		return nil, err
	}
	if err := p.expect(tokRParen, "')'"); err != nil {
		return nil, err
	}
	return &geoBoundingBoxExpr{box: geo.BoundingBox{TopLeft: topLeft, BottomRight: bottomRight}}, nil
}

func (p *parser) parsePointLiteral() (geo.Point, error) {
	if err := p.expect(tokLParen, "'('"); err != nil {
		return geo.Point{}, err
	}
	lat, err := p.parseNumber()
	if err != nil {
		return geo.Point{}, err
	}
	if err := p.expect(tokComma, "','"); err != nil {
		return geo.Point{}, err
	}
	lng, err := p.parseNumber()
	if err != nil {
		return geo.Point{}, err
	}
	if err := p.expect(tokRParen, "')'"); err != nil {
		return geo.Point{}, err
	}
	return geo.Point{Lat: lat, Lng: lng}, nil
}
