// Package router maps exchange channel identifiers to logical feed kinds.
package router

import "sync"

// FeedKind classifies an inbound channel.
type FeedKind int

const (
	FeedUnknown FeedKind = iota
	FeedTrade
	FeedTicker
	FeedBook
)

func (k FeedKind) String() string {
	switch k {
	case FeedTrade:
		return "trade"
	case FeedTicker:
		return "ticker"
	case FeedBook:
		return "book"
	default:
		return "unknown"
	}
}

// Router records channel id -> feed kind bindings as subscription
// acknowledgments arrive. K is int64 for numeric channel ids and string for
// topic names.
//
// The connector event loop is the only writer, but the mutex lets status
// readers call Len from other goroutines.
type Router[K comparable] struct {
	mu       sync.RWMutex
	channels map[K]FeedKind
}

// New creates an empty router.
func New[K comparable]() *Router[K] {
	return &Router[K]{channels: make(map[K]FeedKind)}
}

// Bind records the feed kind for a channel id. Binding FeedUnknown is ignored.
func (r *Router[K]) Bind(id K, kind FeedKind) {
	if kind == FeedUnknown {
		return
	}
	r.mu.Lock()
	r.channels[id] = kind
	r.mu.Unlock()
}

// Unbind forgets a channel id.
func (r *Router[K]) Unbind(id K) {
	r.mu.Lock()
	delete(r.channels, id)
	r.mu.Unlock()
}

// Lookup returns the feed kind for id, or FeedUnknown if it was never bound.
func (r *Router[K]) Lookup(id K) FeedKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channels[id]
}

// Len returns the number of bound channels.
func (r *Router[K]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// Reset drops every binding. Called whenever the transport is rebuilt since
// channel ids are only valid for one session.
func (r *Router[K]) Reset() {
	r.mu.Lock()
	clear(r.channels)
	r.mu.Unlock()
}

// IDs returns the bound channel ids in no particular order.
func (r *Router[K]) IDs() []K {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]K, 0, len(r.channels))
	for id := range r.channels {
		ids = append(ids, id)
	}
	return ids
}
