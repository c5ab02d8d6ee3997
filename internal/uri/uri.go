// Package uri implements the two-stage lexer/parser for relative request
// URIs: a decoded path plus a mapping of typed query parameters. The
// mapping is a Go map, so it keeps neither insertion nor key order.
//
// Grounded in the original DerkHttpd::Uri lexer/parser (myuri/parse.cpp),
// adapted to Go's slice/rune idiom in place of std::string_view token
// spans.
package uri

import (
	"fmt"
	"strconv"
)

// QueryValue is the tagged union {string, integer} a query parameter value
// can hold.
type QueryValue struct {
	IsInt bool
	Str   string
	Int   int
}

// String returns the value as it would be re-serialized on the wire.
func (q QueryValue) String() string {
	if q.IsInt {
		return strconv.Itoa(q.Int)
	}
	return q.Str
}

// URI is the decoded result of parsing a relative request-target.
type URI struct {
	Path  string
	Query map[string]QueryValue
}

// ParseError carries the byte offset and message of a malformed URI, per
// spec.md §4.2.
type ParseError struct {
	Offset int
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("uri: syntax error at offset %d: %s", e.Offset, e.Msg)
}

// Parse decodes a relative-URI string (path plus optional query string)
// into a URI. Duplicate query parameter names are resolved last-writer-
// wins, matching insertion order semantics of the source grammar.
func Parse(raw string) (URI, error) {
	lex := NewLexer(raw)
	p := NewParser()
	return p.Parse(raw, lex)
}
