package netio

import (
	"net"
	"syscall"
	"testing"
)

func socketPair(t *testing.T) (int, int, func()) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	clientConn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	serverConn, err := ln.Accept()
	if err != nil {
		t.Fatal(err)
	}
	ln.Close()

	clientFD := fdOf(t, clientConn)
	serverFD := fdOf(t, serverConn)

	return clientFD, serverFD, func() {
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
	err = raw.Control(func(v uintptr) { fd = int(v) })
	if err != nil {
		t.Fatal(err)
	}
	// The primitives under test expect a blocking descriptor; Go's net
	// package hands out non-blocking ones.
	if err := syscall.SetNonblock(fd, false); err != nil {
		t.Fatal(err)
	}
	return fd
}

func TestReadLineBasic(t *testing.T) {
	client, server, closeFn := socketPair(t)
	defer closeFn()

	go func() {
		WriteN(client, []byte("GET / HTTP/1.1\r\n"), len("GET / HTTP/1.1\r\n"))
	}()

	buf, n, err := ReadLine(server)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "GET / HTTP/1.1" {
		t.Fatalf("got %q", string(buf[:n]))
	}
}

func TestReadNExact(t *testing.T) {
	client, server, closeFn := socketPair(t)
	defer closeFn()

	payload := []byte("hello world")
	go func() {
		WriteN(client, payload, len(payload))
	}()

	buf, n, err := ReadN(server, len(payload))
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "hello world" {
		t.Fatalf("got %q", string(buf[:n]))
	}
}
