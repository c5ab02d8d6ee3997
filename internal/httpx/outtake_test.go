package httpx

import (
	"syscall"
	"testing"

	"github.com/derkhttpd/derkhttpd/internal/httpenum"
	"github.com/stretchr/testify/require"
)

type fakeChunkIterator struct {
	chunks [][]byte
	i      int
}

func (f *fakeChunkIterator) Next() ([]byte, error) {
	if f.i >= len(f.chunks) {
		return nil, nil
	}
	c := f.chunks[f.i]
	f.i++
	return c, nil
}

func (f *fakeChunkIterator) Clear() {
	f.i = len(f.chunks)
}

func TestOuttakeBlobBody(t *testing.T) {
	client, server, closeFn := socketPair(t)
	defer closeFn()

	resp := NewResponse(httpenum.StatusOK)
	resp.Schema = httpenum.HTTP11
	resp.Header.Set("Content-Type", "text/plain")
	resp.Header.Set("Content-Length", "11")
	resp.Body.Blob = []byte("hello world")

	want := "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: 11\r\n\r\nhello world"

	done := make(chan error, 1)
	go func() {
		o := NewOuttake()
		done <- o.Write(server, &resp)
	}()

	got := readN(t, client, len(want))
	require.NoError(t, <-done)
	require.Equal(t, want, string(got))
}

func TestOuttakeChunkedBody(t *testing.T) {
	client, server, closeFn := socketPair(t)
	defer closeFn()

	resp := NewResponse(httpenum.StatusOK)
	resp.Schema = httpenum.HTTP11
	resp.Header.Set("Transfer-Encoding", "chunked")
	resp.Body.Chunk = &fakeChunkIterator{chunks: [][]byte{[]byte("Wiki"), []byte("pedia")}}

	want := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n4\r\nWiki\r\n5\r\npedia\r\n0\r\n\r\n"

	done := make(chan error, 1)
	go func() {
		o := NewOuttake()
		done <- o.Write(server, &resp)
	}()

	got := readN(t, client, len(want))
	require.NoError(t, <-done)
	require.Equal(t, want, string(got))
}

func TestOuttakeEmptyBody(t *testing.T) {
	client, server, closeFn := socketPair(t)
	defer closeFn()

	resp := NewResponse(httpenum.StatusNotModified)
	resp.Schema = httpenum.HTTP11
	resp.Header.Set("Last-Modified", "Wed, 01 Jan 2020 00:00:00 UTC")

	want := "HTTP/1.1 304 Not Modified\r\nLast-Modified: Wed, 01 Jan 2020 00:00:00 UTC\r\n\r\n"

	done := make(chan error, 1)
	go func() {
		o := NewOuttake()
		done <- o.Write(server, &resp)
	}()

	got := readN(t, client, len(want))
	require.NoError(t, <-done)
	require.Equal(t, want, string(got))
}

// readN reads exactly n bytes from fd (blocking), for deterministic test
// assertions against a fixed-size expected response.
func readN(t *testing.T, fd int, n int) []byte {
	t.Helper()
	out := make([]byte, 0, n)
	buf := make([]byte, 4096)
	for len(out) < n {
		rn, err := syscall.Read(fd, buf)
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, buf[:rn]...)
	}
	return out
}
