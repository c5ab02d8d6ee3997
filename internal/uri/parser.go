package uri

import "strings"

// Parser drives a Lexer over the grammar:
//
//	uri   := path ( '?' query )?
//	path  := ( path_token | encoded_char )*
//	query := item ( '&' item )*
//	item  := wordy '=' value
//	value := item_int | wordy
type Parser struct {
	current Token
}

// NewParser constructs an empty Parser.
func NewParser() *Parser {
	return &Parser{}
}

func (p *Parser) advance(src string, lex *Lexer) {
	p.current = lex.Next(src)
}

func (p *Parser) atEOS() bool {
	return p.current.Tag == TokEOS
}

// Parse consumes src fully via lex, producing a URI or a *ParseError.
func (p *Parser) Parse(src string, lex *Lexer) (URI, error) {
	p.advance(src, lex)
	return p.parseRelativeURI(src, lex)
}

func (p *Parser) parseRelativeURI(src string, lex *Lexer) (URI, error) {
	path, err := p.parsePath(src, lex)
	if err != nil {
		return URI{}, err
	}

	if p.current.Tag != TokQueryMark {
		if !p.atEOS() {
			return URI{}, &ParseError{Offset: p.current.Begin, Msg: "unexpected token in path"}
		}
		return URI{Path: path, Query: map[string]QueryValue{}}, nil
	}
	p.advance(src, lex) // consume '?'

	params, err := p.parseQuery(src, lex)
	if err != nil {
		return URI{}, err
	}

	return URI{Path: path, Query: params}, nil
}

func (p *Parser) parsePath(src string, lex *Lexer) (string, error) {
	var sb strings.Builder

	for !p.atEOS() {
		switch p.current.Tag {
		case TokPath:
			sb.WriteString(p.current.Lexeme(src))
			p.advance(src, lex)
		case TokEncodedChar:
			sb.WriteByte(p.current.Unescaped)
			p.advance(src, lex)
		default:
			return sb.String(), nil
		}
	}

	return sb.String(), nil
}

func (p *Parser) parseQuery(src string, lex *Lexer) (map[string]QueryValue, error) {
	params := make(map[string]QueryValue)

	for !p.atEOS() {
		name, val, err := p.parseQueryItem(src, lex)
		if err != nil {
			return nil, err
		}
		params[name] = val // last-writer-wins on duplicate names

		if p.current.Tag != TokQueryDelim {
			continue
		}
		p.advance(src, lex)
	}

	return params, nil
}

func (p *Parser) parseQueryItem(src string, lex *Lexer) (string, QueryValue, error) {
	if p.current.Tag != TokWordy {
		return "", QueryValue{}, &ParseError{Offset: p.current.Begin, Msg: "expected query parameter name"}
	}
	name := p.current.Lexeme(src)
	p.advance(src, lex)

	if p.current.Tag != TokQueryAssign {
		return "", QueryValue{}, &ParseError{Offset: p.current.Begin, Msg: "expected '=' in query item"}
	}
	p.advance(src, lex)

	val, err := p.parseQueryValue(src, lex)
	if err != nil {
		return "", QueryValue{}, err
	}

	return name, val, nil
}

func (p *Parser) parseQueryValue(src string, lex *Lexer) (QueryValue, error) {
	var val QueryValue

	switch p.current.Tag {
	case TokItemInt:
		n := 0
		for _, c := range p.current.Lexeme(src) {
			n = n*10 + int(c-'0')
		}
		val = QueryValue{IsInt: true, Int: n}
	case TokWordy:
		val = QueryValue{Str: p.current.Lexeme(src)}
	default:
		return QueryValue{}, &ParseError{Offset: p.current.Begin, Msg: "expected query parameter value"}
	}

	p.advance(src, lex)

	return val, nil
}
