// Package httpx implements the HTTP/1.x intake (request parser) and
// outtake (response serializer) state machines described by
// SPEC_FULL.md §6.4/§6.5, generalizing the teacher repo's request/response
// handling into the reference implementation's state-machine shape
// (myhttp/intake.cpp, myhttp/outtake.cpp).
package httpx

import "strings"

// Header is a case-insensitive-keyed header mapping with insertion-ordered
// iteration. Unlike net/http's canonicalizing map, keys are stored exactly
// as first seen; lookups compare case-insensitively.
type Header struct {
	order []string
	data  map[string]string // lowercased key -> value
	exact map[string]string // lowercased key -> first-seen exact key
}

// NewHeader constructs an empty Header.
func NewHeader() Header {
	return Header{
		data:  make(map[string]string),
		exact: make(map[string]string),
	}
}

func lower(key string) string {
	return strings.ToLower(key)
}

// Set stores value for key, preserving the exact case of the first
// insertion and appending key to the iteration order if new.
func (h *Header) Set(key, value string) {
	if h.data == nil {
		*h = NewHeader()
	}
	lk := lower(key)
	if _, ok := h.data[lk]; !ok {
		h.order = append(h.order, lk)
		h.exact[lk] = key
	}
	h.data[lk] = value
}

// Get returns the value for key (case-insensitive), or "" with ok=false if
// absent.
func (h Header) Get(key string) (string, bool) {
	v, ok := h.data[lower(key)]
	return v, ok
}

// Has reports whether key is present.
func (h Header) Has(key string) bool {
	_, ok := h.data[lower(key)]
	return ok
}

// Del removes key.
func (h *Header) Del(key string) {
	lk := lower(key)
	if _, ok := h.data[lk]; !ok {
		return
	}
	delete(h.data, lk)
	delete(h.exact, lk)
	for i, k := range h.order {
		if k == lk {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

// Clear removes every header, keeping the map allocated.
func (h *Header) Clear() {
	h.order = h.order[:0]
	for k := range h.data {
		delete(h.data, k)
	}
	for k := range h.exact {
		delete(h.exact, k)
	}
}

// Keys returns the header names in insertion order, in their first-seen
// case.
func (h Header) Keys() []string {
	keys := make([]string, len(h.order))
	for i, lk := range h.order {
		keys[i] = h.exact[lk]
	}
	return keys
}

// Len returns the number of distinct header keys.
func (h Header) Len() int {
	return len(h.order)
}

// Clone returns an independent copy of h.
func (h Header) Clone() Header {
	c := NewHeader()
	for _, lk := range h.order {
		c.order = append(c.order, lk)
		c.exact[lk] = h.exact[lk]
		c.data[lk] = h.data[lk]
	}
	return c
}
