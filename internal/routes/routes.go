// Package routes implements the exact-path handler registry and its
// dispatch algorithm, grounded in DerkHttpd::App::Routes (myapp/routes.cpp).
package routes

import (
	"strconv"
	"strings"

	"github.com/derkhttpd/derkhttpd/internal/httpenum"
	"github.com/derkhttpd/derkhttpd/internal/httpx"
	"github.com/derkhttpd/derkhttpd/internal/uri"
)

// Handler is the contract external collaborators register routes with:
// a callable taking a Request and its decoded query parameters, returning
// a Response. Handlers MUST NOT set Server, Connection, or Date.
type Handler func(req httpx.Request, params map[string]uri.QueryValue) httpx.Response

// Routes is an exact-path handler registry with a single fallback,
// immutable after startup and shared read-only across workers.
type Routes struct {
	hostName string
	hostPort string
	handlers map[string]Handler
	fallback Handler
}

// New constructs a Routes table bound to the server's configured
// <name>[:<port>] Host value, using defaultFallbackHandler until
// SetFallback is called.
func New(hostName, hostPort string) *Routes {
	return &Routes{
		hostName: hostName,
		hostPort: hostPort,
		handlers: make(map[string]Handler),
		fallback: defaultFallbackHandler,
	}
}

// Register binds path to handler, refusing (returning false) without
// overwriting if path is already registered.
func (r *Routes) Register(path string, handler Handler) bool {
	if _, exists := r.handlers[path]; exists {
		return false
	}
	r.handlers[path] = handler
	return true
}

// SetFallback overrides the fallback handler invoked when no registered
// path matches. Host and URI validation failures do not reach the
// fallback; Dispatch answers them with a 400 directly.
func (r *Routes) SetFallback(handler Handler) {
	r.fallback = handler
}

// Dispatch implements the four-step algorithm of SPEC_FULL.md §6.7 /
// spec.md §4.6.
func (r *Routes) Dispatch(req httpx.Request) httpx.Response {
	host, hasHost := req.Header.Get("Host")

	if req.Schema == httpenum.HTTP11 && !hasHost {
		return badRequest()
	}

	if hasHost && !r.hostMatches(host) {
		return badRequest()
	}

	u, err := uri.Parse(req.RawURI)
	if err != nil {
		return badRequest()
	}

	if handler, ok := r.handlers[u.Path]; ok {
		return handler(req, u.Query)
	}

	return r.fallback(req, map[string]uri.QueryValue{
		"is_not_found": {IsInt: true, Int: 1},
	})
}

// hostMatches compares the incoming Host header to the configured
// <name>[:<port>]. A value with no ':' is compared name-only; otherwise
// it is split on the last ':' and both parts compared.
func (r *Routes) hostMatches(host string) bool {
	idx := strings.LastIndexByte(host, ':')
	if idx < 0 {
		return strings.EqualFold(host, r.hostName)
	}
	name, port := host[:idx], host[idx+1:]
	return strings.EqualFold(name, r.hostName) && port == r.hostPort
}

func badRequest() httpx.Response {
	resp := httpx.NewResponse(httpenum.StatusBadRequest)
	resp.Header.Set("Content-Length", "0")
	return resp
}

// defaultFallbackHandler mirrors DerkHttpd::App's dud_fallback_handler: it
// reports 404 (or 500 when is_not_found is absent/zero) and, if an
// err_msg parameter is present, echoes it as a text/plain body.
func defaultFallbackHandler(_ httpx.Request, params map[string]uri.QueryValue) httpx.Response {
	status := httpenum.StatusInternalServerError
	if v, ok := params["is_not_found"]; ok && v.IsInt && v.Int != 0 {
		status = httpenum.StatusNotFound
	}

	resp := httpx.NewResponse(status)

	if v, ok := params["err_msg"]; ok && !v.IsInt {
		resp.Header.Set("Content-Type", "text/plain")
		resp.Header.Set("Content-Length", strconv.Itoa(len(v.Str)))
		resp.Body.Blob = []byte(v.Str)
		return resp
	}

	resp.Header.Set("Content-Type", "*/*")
	resp.Header.Set("Content-Length", "0")
	return resp
}
