package httpx

import (
	"errors"
	"strconv"
	"strings"

	"github.com/derkhttpd/derkhttpd/internal/httpenum"
	"github.com/derkhttpd/derkhttpd/internal/netio"
)

// intakeState enumerates the request-parser state machine, mirroring
// DerkHttpd::Http::HttpIntake::State.
type intakeState int

const (
	stRequestLine intakeState = iota
	stHeader
	stChooseBodyMode
	stSimpleBody
	stChunk
	stDone
	stSyntaxError
	stConstraintError
)

// maxHeaderLineBytes is the per-header-line cap from spec.md §4.3; a line
// exceeding it (including its value) pushes the state machine into
// stConstraintError, as does a line too long for netio's line buffer.
const maxHeaderLineBytes = 480

// ErrSyntax is returned for any malformed request line, header, or chunk
// prefix. The caller MUST treat this as terminal for the connection.
var ErrSyntax = errors.New("httpx: invalid request syntax")

// ErrConstraint is returned when a header line or body exceeds its
// configured size limit.
var ErrConstraint = errors.New("httpx: invalid request header / body sizing")

// IntakeConfig controls request-parsing limits and leniency.
type IntakeConfig struct {
	// MaxBodySize caps both Content-Length-framed and chunked bodies
	// (chunked bodies are capped as a running total; see SPEC_FULL.md
	// §10).
	MaxBodySize int
	// StrictVerbs, when true, rejects unrecognized verbs instead of
	// defaulting to GET (the REDESIGN FLAG of spec.md §9, offered but not
	// the default).
	StrictVerbs bool
}

// DefaultMaxBodySize is the reference cap for request bodies.
const DefaultMaxBodySize = 1024

// Intake drives the request-parser state machine over a single
// connection's file descriptor. Each worker owns its own Intake instance;
// buffers are not shared across connections.
type Intake struct {
	cfg IntakeConfig
	req Request
}

// NewIntake constructs an Intake with the given limits.
func NewIntake(cfg IntakeConfig) *Intake {
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	return &Intake{cfg: cfg}
}

// Run parses one full request from fd. Any I/O failure or grammar
// mismatch collapses into a single error; the caller must treat it as
// terminal for the connection.
func (in *Intake) Run(fd int) (Request, error) {
	in.req = Request{Header: NewHeader()}

	state := stRequestLine

	for {
		switch state {
		case stRequestLine:
			state = in.handleRequestLine(fd)
		case stHeader:
			state = in.handleHeader(fd)
		case stChooseBodyMode:
			state = in.handleChooseBodyMode()
		case stSimpleBody:
			state = in.handleSimpleBody(fd)
		case stChunk:
			state = in.handleChunk(fd)
		case stSyntaxError:
			return Request{}, ErrSyntax
		case stConstraintError:
			return Request{}, ErrConstraint
		case stDone:
			return in.req, nil
		}
	}
}

func (in *Intake) handleRequestLine(fd int) intakeState {
	buf, n, err := netio.ReadLine(fd)
	if err != nil {
		return stSyntaxError
	}

	fields := strings.Fields(string(buf[:n]))
	if len(fields) != 3 {
		return stSyntaxError
	}

	verbLexeme, uriLexeme, schemaLexeme := fields[0], fields[1], fields[2]

	verb, ok := httpenum.ParseVerb(verbLexeme)
	if !ok {
		if in.cfg.StrictVerbs {
			return stSyntaxError
		}
		verb = httpenum.GET // lenient default, per spec.md §4.3
	}

	schema, ok := httpenum.ParseSchema(schemaLexeme)
	if !ok {
		schema = httpenum.HTTP11 // lenient default, per spec.md §4.3
	}

	in.req.Verb = verb
	in.req.Schema = schema
	in.req.RawURI = uriLexeme

	return stHeader
}

func (in *Intake) handleHeader(fd int) intakeState {
	buf, n, err := netio.ReadLine(fd)
	if errors.Is(err, netio.ErrLineTooLong) {
		return stConstraintError
	}
	if err != nil {
		return stSyntaxError
	}
	if n > maxHeaderLineBytes {
		return stConstraintError
	}

	line := string(buf[:n])

	key, value, isTerminator := parseHeaderLine(line)
	if isTerminator {
		return stChooseBodyMode
	}

	in.req.Header.Set(key, value)

	return stHeader
}

// parseHeaderLine splits "Key: Value" once on the first ':', trimming
// surrounding whitespace from the value. An empty key or empty trimmed
// value marks the header section terminator (the blank line), per
// spec.md §4.3.
func parseHeaderLine(line string) (key, value string, isTerminator bool) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return "", "", true
	}
	key = line[:idx]
	value = strings.TrimSpace(line[idx+1:])
	if key == "" || value == "" {
		return "", "", true
	}
	return key, value, false
}

func (in *Intake) handleChooseBodyMode() intakeState {
	if te, ok := in.req.Header.Get("Transfer-Encoding"); ok && te == "chunked" {
		return stChunk
	}
	return stSimpleBody
}

func (in *Intake) handleSimpleBody(fd int) intakeState {
	pending := 0
	if cl, ok := in.req.Header.Get("Content-Length"); ok {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 {
			return stSyntaxError
		}
		pending = n
	}

	if pending > in.cfg.MaxBodySize {
		return stConstraintError
	}

	body := make([]byte, 0, pending)
	for pending > 0 {
		buf, n, err := netio.ReadN(fd, pending)
		if err != nil {
			return stSyntaxError
		}
		if n == 0 {
			break
		}
		body = append(body, buf[:n]...)
		pending -= n
	}

	in.req.Body = body

	return stDone
}

func (in *Intake) handleChunk(fd int) intakeState {
	buf, n, err := netio.ReadLine(fd)
	if err != nil {
		return stSyntaxError
	}

	length, err := strconv.ParseInt(strings.TrimSpace(string(buf[:n])), 16, 64)
	if err != nil || length < 0 {
		return stSyntaxError
	}

	if length > 0 {
		if len(in.req.Body)+int(length) > in.cfg.MaxBodySize {
			return stConstraintError
		}

		pending := int(length)
		for pending > 0 {
			chunkBuf, rn, err := netio.ReadN(fd, pending)
			if err != nil {
				return stSyntaxError
			}
			if rn == 0 {
				return stSyntaxError
			}
			in.req.Body = append(in.req.Body, chunkBuf[:rn]...)
			pending -= rn
		}
	}

	// Consume and discard the trailing CRLF after the chunk data (or
	// after the zero-length terminator line); trailers are not parsed.
	if _, _, err := netio.ReadLine(fd); err != nil {
		return stSyntaxError
	}

	if length == 0 {
		return stDone
	}
	return stChunk
}
