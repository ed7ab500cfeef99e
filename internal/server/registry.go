package server

import (
	"sync"
	"time"

	"rtmp-ingest-core/internal/session"
)

// connEntry is one tracked connection's registry record. lastActive is
// touched on every state change and received frame so the monitor loop can
// find connections that have gone quiet without relying solely on the
// socket's own read deadline.
type connEntry struct {
	id         string
	sess       *session.Session
	clientIP   string
	startedAt  time.Time
	lastActive time.Time
}

// Registry tracks every connection a Server currently has accepted, keyed by
// both connection id and published stream name. It does not fan media back
// out to any reader; it exists purely for lookup ("what is live on stream
// X?") and for the monitor sweep.
type Registry struct {
	mu       sync.RWMutex
	byID     map[string]*connEntry
	byStream map[string]*connEntry
}

func newRegistry() *Registry {
	return &Registry{
		byID:     make(map[string]*connEntry),
		byStream: make(map[string]*connEntry),
	}
}

// NewRegistry returns an empty Registry, for callers (such as httpserver's
// tests) that need one without constructing a full Server.
func NewRegistry() *Registry {
	return newRegistry()
}

func (r *Registry) add(id string, sess *session.Session, clientIP string) {
	e := &connEntry{id: id, sess: sess, clientIP: clientIP, startedAt: time.Now(), lastActive: time.Now()}
	r.mu.Lock()
	r.byID[id] = e
	r.mu.Unlock()
}

func (r *Registry) touch(id string) {
	r.mu.Lock()
	if e, ok := r.byID[id]; ok {
		e.lastActive = time.Now()
	}
	r.mu.Unlock()
}

// bindStream records which stream name a connection is now publishing under,
// so StreamInfo can answer lookups by name. A publisher that changes stream
// name mid-connection (not something any client does in practice) simply
// gets a second entry; the registry does not try to detect renames.
func (r *Registry) bindStream(id, streamName string) {
	r.mu.Lock()
	if e, ok := r.byID[id]; ok {
		r.byStream[streamName] = e
	}
	r.mu.Unlock()
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	if e, ok := r.byID[id]; ok {
		for name, candidate := range r.byStream {
			if candidate == e {
				delete(r.byStream, name)
			}
		}
		delete(r.byID, id)
	}
	r.mu.Unlock()
}

// Count returns the number of connections currently tracked.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// StreamInfo returns the metadata of whatever connection is currently bound
// to streamName, if any.
func (r *Registry) StreamInfo(streamName string) (*session.Metadata, bool) {
	r.mu.RLock()
	e, ok := r.byStream[streamName]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return e.sess.Metadata(), true
}

// Streams returns the metadata of every currently bound stream.
func (r *Registry) Streams() []*session.Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*session.Metadata, 0, len(r.byStream))
	for _, e := range r.byStream {
		out = append(out, e.sess.Metadata())
	}
	return out
}

// sweepStale force-closes connections that have not been touched within
// maxIdle. Returns the number of connections closed.
func (r *Registry) sweepStale(maxIdle time.Duration) int {
	var stale []*connEntry
	now := time.Now()

	r.mu.RLock()
	for _, e := range r.byID {
		if now.Sub(e.lastActive) > maxIdle {
			stale = append(stale, e)
		}
	}
	r.mu.RUnlock()

	for _, e := range stale {
		_ = e.sess.Close()
	}
	return len(stale)
}
