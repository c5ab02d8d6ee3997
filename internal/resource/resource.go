// Package resource implements the polymorphic body sources a route handler
// can return: an in-memory blob, a lazy file chunk iterator, or an empty,
// status-only body. Grounded in the original DerkHttpd::App contents
// (myapp/contents.cpp, myapp/response_helpers.cpp).
package resource

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ChunkIterator is a polymorphic producer yielding successive body
// fragments. Next returns (nil, nil) to mark end-of-stream. Clear is
// idempotent and releases any underlying resource (e.g. an open file),
// making subsequent Next calls return end-of-stream; it is the mechanism
// by which HEAD responses discard a body without re-running the handler.
type ChunkIterator interface {
	Next() ([]byte, error)
	Clear()
}

// Resource is the capability set required of any response body source.
type Resource interface {
	// MIME returns a static MIME descriptor (a string literal; lifetime
	// unbounded).
	MIME() string
	// AsBlob reads the resource to completion as a single in-memory blob.
	AsBlob() ([]byte, error)
	// AsChunkIterator transfers ownership of any underlying handle into a
	// lazy chunk producer, or returns (nil, nil) if the resource has no
	// lazy mode.
	AsChunkIterator() (ChunkIterator, error)
}

// ErrAbsolutePath is returned by NewTextualFile for a path that is not
// relative, mirroring the original constructor's rejection of absolute
// filesystem paths.
var ErrAbsolutePath = errors.New("resource: path must be relative")

// ErrNoFilename is returned by NewTextualFile for a path with no filename
// component (e.g. a bare directory or "").
var ErrNoFilename = errors.New("resource: path must name a file")

// TextualFile is a Resource backed by a filesystem path, read either in
// full or in fixed-size chunks.
type TextualFile struct {
	path      string
	mime      string
	chunkSize int
}

// NewTextualFile constructs a TextualFile. Construction fails if path is
// absolute or has no filename component; it does not itself touch the
// filesystem (mirroring the original TextualFile::create, which validates
// only the path shape, not existence).
func NewTextualFile(path string, mime string, chunkSize int) (*TextualFile, error) {
	if filepath.IsAbs(path) {
		return nil, ErrAbsolutePath
	}
	if path == "" || strings.HasSuffix(path, "/") {
		return nil, ErrNoFilename
	}
	return &TextualFile{path: path, mime: mime, chunkSize: chunkSize}, nil
}

// MIME implements Resource.
func (t *TextualFile) MIME() string { return t.mime }

// AsBlob implements Resource, reading the whole file into memory.
func (t *TextualFile) AsBlob() ([]byte, error) {
	f, err := os.Open(t.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// AsChunkIterator implements Resource, transferring ownership of the open
// file handle into a fileChunkIterator that reads chunkSize bytes per
// Next call.
func (t *TextualFile) AsChunkIterator() (ChunkIterator, error) {
	f, err := os.Open(t.path)
	if err != nil {
		return nil, err
	}
	return &fileChunkIterator{file: f, chunkSize: t.chunkSize}, nil
}

// ModifyTime returns the file's last-modified timestamp, used by the
// exchange task's conditional-request logic.
func (t *TextualFile) ModifyTime() (time.Time, error) {
	st, err := os.Stat(t.path)
	if err != nil {
		return time.Time{}, err
	}
	return st.ModTime(), nil
}

type fileChunkIterator struct {
	file      *os.File
	chunkSize int
}

// Next reads up to chunkSize bytes, returning (nil, nil) at EOF or once
// chunkSize is 0 (mirroring TextIterator::next's eof()/chunk_len==0
// short-circuit).
func (c *fileChunkIterator) Next() ([]byte, error) {
	if c.file == nil || c.chunkSize == 0 {
		return nil, nil
	}

	buf := make([]byte, c.chunkSize)
	n, err := c.file.Read(buf)
	if n == 0 {
		if err == io.EOF || err == nil {
			return nil, nil
		}
		return nil, err
	}
	if err != nil && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}

// Clear closes the underlying file handle and makes Next return
// end-of-stream from then on. Idempotent.
func (c *fileChunkIterator) Clear() {
	if c.file != nil {
		c.file.Close()
		c.file = nil
	}
	c.chunkSize = 0
}

// StringReply is a Resource backed by an owned, in-memory byte sequence.
// It always produces a full blob; it has no chunk-iterator mode.
type StringReply struct {
	data []byte
	mime string
}

// NewStringReply wraps data (not copied) with a static MIME literal.
func NewStringReply(data []byte, mime string) *StringReply {
	return &StringReply{data: data, mime: mime}
}

// MIME implements Resource.
func (s *StringReply) MIME() string { return s.mime }

// AsBlob implements Resource.
func (s *StringReply) AsBlob() ([]byte, error) {
	out := make([]byte, len(s.data))
	copy(out, s.data)
	return out, nil
}

// AsChunkIterator implements Resource; StringReply has no lazy mode.
func (s *StringReply) AsChunkIterator() (ChunkIterator, error) {
	return nil, nil
}

// EmptyReply is a status-only Resource: empty body, MIME "*/*".
type EmptyReply struct{}

// NewEmptyReply constructs an EmptyReply.
func NewEmptyReply() *EmptyReply { return &EmptyReply{} }

// MIME implements Resource.
func (EmptyReply) MIME() string { return "*/*" }

// AsBlob implements Resource, always returning an empty blob.
func (EmptyReply) AsBlob() ([]byte, error) { return []byte{}, nil }

// AsChunkIterator implements Resource; EmptyReply has no lazy mode.
func (EmptyReply) AsChunkIterator() (ChunkIterator, error) { return nil, nil }
