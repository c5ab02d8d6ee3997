package httpx

import (
	"net"
	"syscall"
	"testing"
)

// socketPair returns two connected TCP sockets' raw file descriptors for
// use by Intake/Outtake, which operate on descriptors directly rather
// than net.Conn.
func socketPair(t *testing.T) (client int, server int, closeFn func()) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	clientConn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	serverConn, err := ln.Accept()
	if err != nil {
		t.Fatal(err)
	}

	return fdOf(t, clientConn), fdOf(t, serverConn), func() {
		clientConn.Close()
		serverConn.Close()
	}
}

func fdOf(t *testing.T, conn net.Conn) int {
	t.Helper()
	sc, ok := conn.(interface {
		SyscallConn() (syscall.RawConn, error)
	})
	if !ok {
		t.Fatal("conn does not expose raw fd")
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		t.Fatal(err)
	}
	var fd int
	if err := raw.Control(func(v uintptr) { fd = int(v) }); err != nil {
		t.Fatal(err)
	}
	// netio's primitives (and readN below) expect a blocking descriptor;
	// Go's net package hands out non-blocking ones.
	if err := syscall.SetNonblock(fd, false); err != nil {
		t.Fatal(err)
	}
	return fd
}
