// Package dispatch implements the listener and poll-based connection
// dispatcher: address resolution, accept loop, poll fan-out onto
// short-lived worker goroutines, and eviction of broken or closed
// connections. Grounded in DerkHttpd::Net (mynet/make_srvsock.cpp,
// mynet/handles.cpp).
package dispatch

import (
	"errors"
	"net"
	"os"
	"syscall"
)

// ErrNoCandidate is returned when no address candidate for the configured
// port could be bound and listened on.
var ErrNoCandidate = errors.New("dispatch: no listenable address candidate")

// Listener wraps a bound, listening IPv4 stream socket and exposes its
// raw file descriptor for poll(2).
type Listener struct {
	ln   *net.TCPListener
	raw  syscall.RawConn
	fd   int
	port int
}

// Listen enumerates address candidates for port (IPv4, stream, passive),
// creating, binding, and listening on the first successful candidate with
// the given backlog. Only one candidate is tried in this implementation
// (0.0.0.0:port is the sole passive IPv4 candidate on a single-homed
// listener); a multi-homed implementation would loop here exactly as
// mynet/make_srvsock.cpp loops over getaddrinfo's results, falling
// through to the next entry on any step's failure.
//
// The socket is built with raw syscalls (socket/setsockopt/bind/listen)
// rather than net.ListenConfig, because net.ListenConfig has no backlog
// knob: mynet/make_srvsock.cpp calls listen(temp_fd, m_backlog_n)
// directly, and this mirrors that call exactly so the backlog argument
// parsed by internal/config actually reaches the kernel.
func Listen(port int, backlog int) (*Listener, error) {
	fd, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_STREAM, 0)
	if err != nil {
		return nil, ErrNoCandidate
	}

	if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
		syscall.Close(fd)
		return nil, ErrNoCandidate
	}

	sa := &syscall.SockaddrInet4{Port: port} // zero Addr == INADDR_ANY (0.0.0.0)
	if err := syscall.Bind(fd, sa); err != nil {
		syscall.Close(fd)
		return nil, ErrNoCandidate
	}

	if err := syscall.Listen(fd, backlog); err != nil {
		syscall.Close(fd)
		return nil, ErrNoCandidate
	}

	file := os.NewFile(uintptr(fd), "derkhttpd-listener")
	ln, err := net.FileListener(file)
	file.Close() // net.FileListener dups the descriptor; release our handle either way
	if err != nil {
		return nil, ErrNoCandidate
	}

	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		ln.Close()
		return nil, ErrNoCandidate
	}

	raw, err := tcpLn.SyscallConn()
	if err != nil {
		tcpLn.Close()
		return nil, ErrNoCandidate
	}

	var pollFd int
	if err := raw.Control(func(f uintptr) {
		pollFd = int(f)
	}); err != nil {
		tcpLn.Close()
		return nil, ErrNoCandidate
	}

	return &Listener{ln: tcpLn, raw: raw, fd: pollFd, port: port}, nil
}

// FD returns the listener's raw descriptor, for registration with poll.
func (l *Listener) FD() int { return l.fd }

// Accept accepts one pending connection, returning the accepted
// connection's raw descriptor.
func (l *Listener) Accept() (int, *net.TCPConn, error) {
	conn, err := l.ln.AcceptTCP()
	if err != nil {
		return -1, nil, err
	}
	fd, err := fdOf(conn)
	if err != nil {
		conn.Close()
		return -1, nil, err
	}
	return fd, conn, nil
}

// Close closes the listening descriptor exactly once.
func (l *Listener) Close() error {
	return l.ln.Close()
}

func fdOf(conn *net.TCPConn) (int, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return -1, err
	}
	var fd int
	err = raw.Control(func(f uintptr) {
		fd = int(f)
	})
	if err != nil {
		return -1, err
	}
	// Workers read and write this descriptor through internal/netio's
	// blocking primitives; Go's net package accepts it in non-blocking mode.
	return fd, syscall.SetNonblock(fd, false)
}
