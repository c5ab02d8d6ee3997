package httpx

import (
	"time"

	"github.com/derkhttpd/derkhttpd/internal/httpenum"
	"github.com/derkhttpd/derkhttpd/internal/resource"
)

// Request is a fully-parsed HTTP/1.x request, as produced by Intake.Run.
type Request struct {
	Body   []byte
	Header Header
	RawURI string
	Verb   httpenum.Verb
	Schema httpenum.Schema
}

// ResponseBody is the tagged union a Response's body may hold: a
// fully-buffered blob, a lazy chunk iterator, or neither.
type ResponseBody struct {
	Blob  []byte
	Chunk resource.ChunkIterator
}

// IsEmpty reports whether the body carries neither a blob nor a chunk
// iterator.
func (b ResponseBody) IsEmpty() bool {
	return b.Blob == nil && b.Chunk == nil
}

// Response is constructed by a handler, mutated by the exchange task, and
// consumed by Outtake.Write.
type Response struct {
	Body       ResponseBody
	Header     Header
	ModifyTime *time.Time
	Status     httpenum.Status
	Schema     httpenum.Schema
}

// NewResponse returns a Response with an initialized, empty Header map.
func NewResponse(status httpenum.Status) Response {
	return Response{Header: NewHeader(), Status: status}
}
