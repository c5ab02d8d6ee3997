// Command derkhttpd is the process entry point: argument parsing, signal
// installation, route registration, and the outer poll/back-off loop.
// Deliberately thin, per spec.md §1's "out of scope" collaborators.
package main

import (
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/derkhttpd/derkhttpd/internal/config"
	"github.com/derkhttpd/derkhttpd/internal/dispatch"
	"github.com/derkhttpd/derkhttpd/internal/exchange"
	"github.com/derkhttpd/derkhttpd/internal/httpenum"
	"github.com/derkhttpd/derkhttpd/internal/httpx"
	"github.com/derkhttpd/derkhttpd/internal/routes"
	"github.com/derkhttpd/derkhttpd/internal/uri"
)

const hostName = "localhost"
const hostPort = "8080"

func main() {
	log := logrus.StandardLogger()
	log.SetOutput(os.Stderr)

	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		log.WithError(err).Error("derkhttpd: bad arguments")
		os.Exit(1)
	}

	rt := registerDemoRoutes(routes.New(hostName, hostPort))

	ln, err := dispatch.Listen(cfg.Port, cfg.Backlog)
	if err != nil {
		log.WithError(err).Fatal("derkhttpd: listener setup failed")
	}

	var running atomic.Bool
	running.Store(true)
	installSignalHandler(&running)

	taskFactory := func() *exchange.Task {
		return exchange.New(httpx.IntakeConfig{MaxBodySize: httpx.DefaultMaxBodySize}, time.Now)
	}
	d := dispatch.New(ln, rt, taskFactory, log)

	log.WithField("port", cfg.Port).WithField("backlog", cfg.Backlog).Info("derkhttpd: listening")

	runOuterLoop(d, &running, log)

	d.Shutdown()
	log.Info("derkhttpd: shut down")
	os.Exit(0)
}

// installSignalHandler clears running on SIGINT. The handler itself only
// performs the atomic store the outer loop samples between ticks, per
// spec.md §9's async-signal-safety requirement.
func installSignalHandler(running *atomic.Bool) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT)
	go func() {
		<-sigCh
		running.Store(false)
	}()
}

// backoffMin and backoffMax bound the adaptive idle sleep of spec.md
// §4.8's outer loop, stepping in backoffStep increments.
const (
	backoffMin  = 10 * time.Millisecond
	backoffMax  = 50 * time.Millisecond
	backoffStep = 5 * time.Millisecond
)

func runOuterLoop(d *dispatch.Dispatcher, running *atomic.Bool, log *logrus.Logger) {
	backoff := backoffMin

	for running.Load() {
		n, err := d.Tick()
		if err != nil {
			log.WithError(err).Warn("derkhttpd: poll tick failed")
			continue
		}

		if n == 0 {
			time.Sleep(backoff)
			if backoff < backoffMax {
				backoff += backoffStep
			}
			continue
		}

		backoff = backoffMin
	}
}

// registerDemoRoutes wires the two handlers exercised by spec.md §8's
// testable scenarios: a static greeting at "/" and a chunked-body echo
// handler at "/echo". These are the external "concrete handler bodies"
// spec.md §1 calls out as collaborators outside the core.
func registerDemoRoutes(rt *routes.Routes) *routes.Routes {
	rt.Register("/", helloHandler)
	rt.Register("/echo", echoHandler)
	return rt
}

func helloHandler(_ httpx.Request, _ map[string]uri.QueryValue) httpx.Response {
	body := []byte("hello world")
	resp := httpx.NewResponse(httpenum.StatusOK)
	resp.Header.Set("Content-Type", "text/plain")
	resp.Header.Set("Content-Length", strconv.Itoa(len(body)))
	resp.Body.Blob = body
	return resp
}

func echoHandler(req httpx.Request, _ map[string]uri.QueryValue) httpx.Response {
	resp := httpx.NewResponse(httpenum.StatusOK)
	resp.Header.Set("Content-Type", "text/plain")
	resp.Header.Set("Content-Length", strconv.Itoa(len(req.Body)))
	resp.Body.Blob = req.Body
	return resp
}
