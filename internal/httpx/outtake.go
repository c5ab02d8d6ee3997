package httpx

import (
	"errors"
	"strconv"

	"github.com/derkhttpd/derkhttpd/internal/netio"
)

// ErrHeaderEncode is returned when a single header's serialized form would
// overflow the outtake buffer.
var ErrHeaderEncode = errors.New("httpx: failed to encode a server-made header")

// ErrChunkIterator is returned when a ChunkIterator's Next call fails.
var ErrChunkIterator = errors.New("httpx: failed to produce next chunk")

// Outtake serializes a Response through a reusable netio.BufCap-sized
// buffer, grounded in DerkHttpd::Http::HttpOuttake (myhttp/outtake.cpp).
type Outtake struct {
	buf   []byte
	count int
}

// NewOuttake constructs an Outtake with a fresh buffer.
func NewOuttake() *Outtake {
	return &Outtake{buf: make([]byte, netio.BufCap)}
}

func (o *Outtake) reset() {
	o.count = 0
}

// serialize appends s to the buffer, reporting whether it fit.
func (o *Outtake) serialize(s string) bool {
	if len(o.buf)-o.count < len(s) {
		return false
	}
	copy(o.buf[o.count:], s)
	o.count += len(s)
	return true
}

func (o *Outtake) flush(fd int) error {
	_, err := netio.WriteN(fd, o.buf, o.count)
	return err
}

// Write serializes resp's status line, headers, and body to fd.
func (o *Outtake) Write(fd int, resp *Response) error {
	if err := o.writeStatusLine(fd, resp); err != nil {
		return err
	}
	if err := o.writeHeaders(fd, resp); err != nil {
		return err
	}
	return o.writeBody(fd, resp)
}

func (o *Outtake) writeStatusLine(fd int, resp *Response) error {
	o.reset()

	if !o.serialize(resp.Schema.String()) ||
		!o.serialize(" ") ||
		!o.serialize(resp.Status.Code()) ||
		!o.serialize(" ") ||
		!o.serialize(resp.Status.Reason()) ||
		!o.serialize("\r\n") {
		return ErrHeaderEncode
	}

	return o.flush(fd)
}

// writeHeaders serializes each header entry one at a time, flushing
// between entries since the buffer is small; after the last header it
// emits the terminating blank line. A header whose serialized form alone
// would overflow the buffer fails with ErrHeaderEncode.
func (o *Outtake) writeHeaders(fd int, resp *Response) error {
	keys := resp.Header.Keys()

	for _, k := range keys {
		o.reset()

		v, _ := resp.Header.Get(k)
		if !o.serialize(k) || !o.serialize(": ") || !o.serialize(v) || !o.serialize("\r\n") {
			return ErrHeaderEncode
		}
		if err := o.flush(fd); err != nil {
			return err
		}
	}

	o.reset()
	if !o.serialize("\r\n") {
		return ErrHeaderEncode
	}
	return o.flush(fd)
}

func (o *Outtake) writeBody(fd int, resp *Response) error {
	switch {
	case resp.Body.Chunk != nil:
		return o.writeChunkedBody(fd, resp.Body.Chunk)
	case resp.Body.Blob != nil:
		return o.writeBlobBody(fd, resp.Body.Blob)
	default:
		return nil
	}
}

func (o *Outtake) writeBlobBody(fd int, blob []byte) error {
	pending := len(blob)
	done := 0

	for pending > 0 {
		n := pending
		if n > len(o.buf) {
			n = len(o.buf)
		}

		o.reset()
		copy(o.buf, blob[done:done+n])
		o.count = n

		if err := o.flush(fd); err != nil {
			return err
		}

		done += n
		pending -= n
	}

	return nil
}

// writeChunkedBody drains chunkIter, writing each non-empty fragment as
// "<hex-length>\r\n<bytes>\r\n" and the terminator "0\r\n\r\n" exactly
// once, per spec.md's invariant.
func (o *Outtake) writeChunkedBody(fd int, chunkIter interface {
	Next() ([]byte, error)
}) error {
	for {
		chunk, err := chunkIter.Next()
		if err != nil {
			return ErrChunkIterator
		}

		if len(chunk) == 0 {
			_, err := netio.WriteN(fd, []byte("0\r\n\r\n"), len("0\r\n\r\n"))
			return err
		}

		prefix := strconv.FormatInt(int64(len(chunk)), 16)
		if err := o.writeChunkFrame(fd, prefix, chunk); err != nil {
			return err
		}
	}
}

func (o *Outtake) writeChunkFrame(fd int, hexLen string, chunk []byte) error {
	frame := make([]byte, 0, len(hexLen)+2+len(chunk)+2)
	frame = append(frame, hexLen...)
	frame = append(frame, '\r', '\n')
	frame = append(frame, chunk...)
	frame = append(frame, '\r', '\n')

	_, err := netio.WriteN(fd, frame, len(frame))
	return err
}
