// Package exchange implements the per-request message-exchange task:
// intake -> routing -> conditional-request handling -> outtake, grounded
// in DerkHttpd::App::MsgExchangeTask (myapp/msg_task.hpp).
package exchange

import (
	"strings"
	"time"

	"github.com/derkhttpd/derkhttpd/internal/httpenum"
	"github.com/derkhttpd/derkhttpd/internal/httpx"
	"github.com/derkhttpd/derkhttpd/internal/routes"
)

// ServerVersion is embedded in the Server response header.
const ServerVersion = "0.1.0"

// incomingDateLayout is the wire format for If-Modified-Since /
// If-Unmodified-Since, per spec.md §4.7: "%a, %e %b %Y %H:%M:%S GMT".
const incomingDateLayout = "Mon, _2 Jan 2006 15:04:05 GMT"

// outgoingDateLayout is the wire format for Date and Last-Modified, per
// spec.md §6: "%a, %e %b %Y %H:%M:%S UTC".
const outgoingDateLayout = "Mon, _2 Jan 2006 15:04:05 UTC"

// conditionalTag classifies which conditional-request precondition (if
// any) applies to this exchange.
type conditionalTag int

const (
	tagNone conditionalTag = iota
	tagMinimum                // If-Modified-Since: resource must be newer than bound to serve a body
	tagMaximum                // If-Unmodified-Since: resource must not be newer than bound to serve a body
)

type conditionalBound struct {
	t   time.Time
	tag conditionalTag
}

// Clock abstracts "now" for deterministic testing.
type Clock func() time.Time

// Task is a per-connection, per-request callable: one Task instance owns
// its own Intake/Outtake and is never shared across workers.
type Task struct {
	intake  *httpx.Intake
	outtake *httpx.Outtake
	now     Clock
}

// New constructs a Task with the given body-size configuration.
func New(cfg httpx.IntakeConfig, now Clock) *Task {
	if now == nil {
		now = time.Now
	}
	return &Task{
		intake:  httpx.NewIntake(cfg),
		outtake: httpx.NewOuttake(),
		now:     now,
	}
}

// Run drives one full request/response round-trip on fd, returning the
// keep-alive verdict the dispatcher uses to decide eviction.
func (t *Task) Run(fd int, rt *routes.Routes) bool {
	req, err := t.intake.Run(fd)
	if err != nil {
		return false
	}

	bound := t.conditionalBound(req)

	origVerb := req.Verb
	isHead := origVerb == httpenum.HEAD
	if isHead {
		req.Verb = httpenum.GET
	}

	resp := rt.Dispatch(req)

	if isHead {
		discardBody(&resp)
	}

	applyConditional(&resp, bound)

	finalize(&resp, req, t.now())

	if err := t.outtake.Write(fd, &resp); err != nil {
		return false
	}

	conn, _ := resp.Header.Get("Connection")
	return !strings.EqualFold(conn, "close")
}

// conditionalBound computes the conditional-request bound per spec.md
// §4.7 step 2: If-Modified-Since gates GET/HEAD against "not older than";
// If-Unmodified-Since gates other verbs against "not newer than".
func (t *Task) conditionalBound(req httpx.Request) conditionalBound {
	isReadVerb := req.Verb == httpenum.GET || req.Verb == httpenum.HEAD

	if ims, ok := req.Header.Get("If-Modified-Since"); ok && isReadVerb {
		if parsed, err := time.Parse(incomingDateLayout, ims); err == nil {
			return conditionalBound{t: parsed, tag: tagMinimum}
		}
	}

	if ius, ok := req.Header.Get("If-Unmodified-Since"); ok && !isReadVerb {
		if parsed, err := time.Parse(incomingDateLayout, ius); err == nil {
			return conditionalBound{t: parsed, tag: tagMaximum}
		}
	}

	return conditionalBound{t: t.now(), tag: tagNone}
}

// discardBody implements the HEAD rewrite's post-dispatch body discard: a
// chunk iterator is Clear()'d in place (releasing its resource without
// re-running the handler); a blob body is dropped. Content-Length /
// Transfer-Encoding headers the handler set are left untouched, matching
// the original's behavior of trimming only the body payload.
func discardBody(resp *httpx.Response) {
	if resp.Body.Chunk != nil {
		resp.Body.Chunk.Clear()
		resp.Body.Chunk = nil
		return
	}
	resp.Body.Blob = nil
}

// applyConditional substitutes a 304 or 412 response when the resource's
// modification timestamp and the conditional bound's tag demand it, per
// spec.md §4.7 step 5.
func applyConditional(resp *httpx.Response, bound conditionalBound) {
	if resp.ModifyTime == nil {
		return
	}

	switch bound.tag {
	case tagMinimum:
		if !resp.ModifyTime.After(bound.t) {
			substitute(resp, httpenum.StatusNotModified)
		}
	case tagMaximum:
		if resp.ModifyTime.After(bound.t) {
			substitute(resp, httpenum.StatusPreconditionFailed)
		}
	}
}

func substitute(resp *httpx.Response, status httpenum.Status) {
	lastModified, hadLastModified := resp.Header.Get("Last-Modified")

	resp.Status = status
	resp.Body = httpx.ResponseBody{}
	resp.Header.Clear()

	if hadLastModified {
		resp.Header.Set("Last-Modified", lastModified)
	} else if resp.ModifyTime != nil {
		resp.Header.Set("Last-Modified", resp.ModifyTime.UTC().Format(outgoingDateLayout))
	}
}

// finalize decorates resp with the mandatory Server, Connection, and Date
// headers per spec.md §4.7 step 6, and copies the request's Schema.
func finalize(resp *httpx.Response, req httpx.Request, now time.Time) {
	resp.Header.Set("Server", "derkhttpd/"+ServerVersion)

	if conn, ok := req.Header.Get("Connection"); ok &&
		req.Schema == httpenum.HTTP11 &&
		resp.Status != httpenum.StatusInternalServerError {
		resp.Header.Set("Connection", conn)
	} else {
		resp.Header.Set("Connection", "close")
	}

	resp.Header.Set("Date", now.UTC().Format(outgoingDateLayout))

	resp.Schema = req.Schema
}
