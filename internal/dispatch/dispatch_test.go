package dispatch

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/derkhttpd/derkhttpd/internal/exchange"
	"github.com/derkhttpd/derkhttpd/internal/httpenum"
	"github.com/derkhttpd/derkhttpd/internal/httpx"
	"github.com/derkhttpd/derkhttpd/internal/routes"
	"github.com/derkhttpd/derkhttpd/internal/uri"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestListenAndAccept(t *testing.T) {
	port := freePort(t)

	ln, err := Listen(port, 4)
	require.NoError(t, err)
	defer ln.Close()

	require.Greater(t, ln.FD(), 0)

	clientDone := make(chan error, 1)
	go func() {
		conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(port))
		if err == nil {
			conn.Close()
		}
		clientDone <- err
	}()

	fd, conn, err := ln.Accept()
	require.NoError(t, err)
	require.Greater(t, fd, 0)
	conn.Close()

	require.NoError(t, <-clientDone)
}

func TestListenAppliesBacklog(t *testing.T) {
	port := freePort(t)

	ln, err := Listen(port, 1)
	require.NoError(t, err)
	defer ln.Close()

	// Never call Accept: every dial below must be satisfied (or refused)
	// purely out of the kernel's listen backlog. With net.ListenConfig's
	// default backlog (which reads net.core.somaxconn, typically >=128 on
	// Linux) every one of these would succeed; with the configured
	// backlog of 1, at least one must fail or be left unacknowledged.
	const attempts = 8
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			conn, dialErr := net.DialTimeout("tcp", "127.0.0.1:"+strconv.Itoa(port), 300*time.Millisecond)
			if dialErr == nil {
				conn.Close()
			}
			results <- dialErr
		}()
	}

	unsatisfied := 0
	for i := 0; i < attempts; i++ {
		if err := <-results; err != nil {
			unsatisfied++
		}
	}

	require.Greater(t, unsatisfied, 0, "a backlog of 1 must not accommodate every simultaneous connection attempt when nothing ever calls Accept")
}

func TestDispatcherTickServesOneRequest(t *testing.T) {
	port := freePort(t)

	ln, err := Listen(port, 4)
	require.NoError(t, err)

	rt := routes.New("localhost", strconv.Itoa(port))
	require.True(t, rt.Register("/", func(_ httpx.Request, _ map[string]uri.QueryValue) httpx.Response {
		resp := httpx.NewResponse(httpenum.StatusOK)
		resp.Header.Set("Content-Type", "text/plain")
		resp.Header.Set("Content-Length", "11")
		resp.Body.Blob = []byte("hello world")
		return resp
	}))

	taskFactory := func() *exchange.Task {
		return exchange.New(httpx.IntakeConfig{MaxBodySize: httpx.DefaultMaxBodySize}, time.Now)
	}
	d := New(ln, rt, taskFactory, nil)
	defer d.Shutdown()

	clientResp := make(chan string, 1)
	go func() {
		conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(port))
		if err != nil {
			clientResp <- ""
			return
		}
		defer conn.Close()
		conn.Write([]byte("GET / HTTP/1.1\r\nHost: localhost:" + strconv.Itoa(port) + "\r\nConnection: close\r\n\r\n"))
		buf := make([]byte, 4096)
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, _ := conn.Read(buf)
		clientResp <- string(buf[:n])
	}()

	deadline := time.Now().Add(2 * time.Second)
	var resp string
	for time.Now().Before(deadline) {
		if _, err := d.Tick(); err != nil {
			t.Fatalf("tick failed: %v", err)
		}
		select {
		case resp = <-clientResp:
			deadline = time.Time{} // stop looping
		default:
		}
		if resp != "" {
			break
		}
	}

	require.Contains(t, resp, "HTTP/1.1 200 OK\r\n")
	require.Contains(t, resp, "hello world")
	require.Equal(t, 1, d.Len(), "the closed keep-alive=false connection must be evicted")
}
