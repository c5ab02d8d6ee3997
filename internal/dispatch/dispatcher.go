package dispatch

import (
	"net"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/derkhttpd/derkhttpd/internal/exchange"
	"github.com/derkhttpd/derkhttpd/internal/routes"
)

// pollTimeoutMillis is the fixed short poll timeout of spec.md §4.8.
const pollTimeoutMillis = 15

// client tracks one accepted connection alongside its raw descriptor, so
// it can be closed exactly once on eviction or teardown.
type client struct {
	fd   int
	conn *net.TCPConn
}

// Dispatcher maintains an ordered array of pollable descriptors, index 0
// always the listener, fanning each tick's ready clients onto short-lived
// worker goroutines and evicting any whose exchange task reports
// keep-alive=false. Grounded in DerkHttpd::Net::dispatch_active_fds
// (mynet/handles.cpp).
type Dispatcher struct {
	ln     *Listener
	routes *routes.Routes
	task   func() *exchange.Task
	log    *logrus.Logger

	fds     []unix.PollFd
	clients []*client // clients[0] is nil; aligned with fds[1:]
}

// New constructs a Dispatcher bound to ln and rt. taskFactory produces a
// fresh exchange.Task per worker invocation so each worker owns its own
// Intake/Outtake buffers, per spec.md §5.
func New(ln *Listener, rt *routes.Routes, taskFactory func() *exchange.Task, log *logrus.Logger) *Dispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{
		ln:      ln,
		routes:  rt,
		task:    taskFactory,
		log:     log,
		fds:     []unix.PollFd{{Fd: int32(ln.FD()), Events: unix.POLLIN}},
		clients: []*client{nil},
	}
}

// Len reports the number of descriptors currently tracked (listener
// included).
func (d *Dispatcher) Len() int { return len(d.fds) }

// Tick runs one poll/accept/fan-out/join/evict cycle, returning the
// number of descriptors that were ready (0 means the caller should apply
// its idle back-off).
func (d *Dispatcher) Tick() (int, error) {
	n, err := unix.Poll(d.fds, pollTimeoutMillis)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}

	if d.fds[0].Revents&(unix.POLLIN|unix.POLLHUP) != 0 {
		d.acceptOne()
	}

	evicted := d.fanOutAndJoin()
	d.evict(evicted)

	return n, nil
}

func (d *Dispatcher) acceptOne() {
	fd, conn, err := d.ln.Accept()
	if err != nil {
		d.log.WithError(err).Warn("dispatch: accept failed")
		return
	}
	d.fds = append(d.fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	d.clients = append(d.clients, &client{fd: fd, conn: conn})
	d.log.WithField("conn_id", uuid.NewString()).WithField("fd", fd).Debug("dispatch: accepted connection")
}

// fanOutAndJoin spawns one goroutine per ready client descriptor running
// the message-exchange task, joins all of them via sync.WaitGroup (the
// tick/join-barrier invariant of spec.md §5), and returns the index set
// of descriptors whose task reported keep-alive=false.
func (d *Dispatcher) fanOutAndJoin() map[int]bool {
	var wg sync.WaitGroup
	var mu sync.Mutex
	evicted := make(map[int]bool)

	for i := 1; i < len(d.fds); i++ {
		if d.fds[i].Revents&(unix.POLLIN|unix.POLLHUP) == 0 {
			continue
		}
		idx := i
		cl := d.clients[idx]

		wg.Add(1)
		go func() {
			defer wg.Done()

			t := d.task()
			keepAlive := t.Run(cl.fd, d.routes)
			if d.fds[idx].Revents&unix.POLLHUP != 0 {
				keepAlive = false
			}
			if !keepAlive {
				mu.Lock()
				evicted[idx] = true
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	return evicted
}

// evict removes evicted entries from the descriptor array, keeping the
// remaining entries in their order, and closes each evicted descriptor
// exactly once.
func (d *Dispatcher) evict(evicted map[int]bool) {
	if len(evicted) == 0 {
		return
	}

	keepFds := d.fds[:1]
	keepClients := d.clients[:1]

	for i := 1; i < len(d.fds); i++ {
		if evicted[i] {
			d.closeClient(d.clients[i])
			continue
		}
		keepFds = append(keepFds, d.fds[i])
		keepClients = append(keepClients, d.clients[i])
	}

	d.fds = keepFds
	d.clients = keepClients
}

func (d *Dispatcher) closeClient(cl *client) {
	if cl == nil || cl.conn == nil {
		return
	}
	if err := cl.conn.Close(); err != nil && err != syscall.EBADF {
		d.log.WithError(err).Debug("dispatch: close failed")
	}
}

// Shutdown closes every remaining client descriptor and the listener,
// each exactly once.
func (d *Dispatcher) Shutdown() {
	for i := 1; i < len(d.clients); i++ {
		d.closeClient(d.clients[i])
	}
	d.fds = d.fds[:1]
	d.clients = d.clients[:1]
	d.ln.Close()
}
