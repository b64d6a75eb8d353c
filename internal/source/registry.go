// Package source tracks discoverable video sources and the capture
// sessions feeding frames out of them, providing the discovery loop and
// start/stop/list operations used by the server layer.
package source

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/zsiec/mirage/capture"
)

// stopTimeout bounds how long StopCapture waits for a capture loop to
// acknowledge its quit signal.
const stopTimeout = 5 * time.Second

// Options configures a Registry.
type Options struct {
	// CaptureInterval is the minimum time between frame pulls per session
	// (the inverse of the capture rate ceiling).
	CaptureInterval time.Duration
	// DiscoveryInterval is the cadence of the background discovery loop.
	DiscoveryInterval time.Duration
}

// CaptureInfo is the JSON-serializable summary of one running capture
// session, returned by the captures API endpoint.
type CaptureInfo struct {
	SourceID       string `json:"sourceId"`
	UptimeMs       int64  `json:"uptimeMs"`
	FramesCaptured int64  `json:"framesCaptured"`
}

// Registry owns source discovery and the set of active capture sessions.
// The descriptor set and the session map are guarded by separate locks,
// never held together. Explicitly constructed and passed to the server
// layer; there is no package-level instance.
type Registry struct {
	log      *slog.Logger
	provider capture.Provider
	opts     Options

	mu      sync.RWMutex
	sources []capture.Source

	sessMu   sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates a Registry over the given provider. If log is nil,
// slog.Default() is used.
func NewRegistry(provider capture.Provider, opts Options, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	if opts.CaptureInterval <= 0 {
		opts.CaptureInterval = time.Second / 60
	}
	if opts.DiscoveryInterval <= 0 {
		opts.DiscoveryInterval = 5 * time.Second
	}
	return &Registry{
		log:      log.With("component", "source-registry"),
		provider: provider,
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// Run discovers once eagerly, then re-discovers on a fixed interval until
// ctx is cancelled, at which point every active capture session is
// stopped. Discovery failures are logged and retried next tick.
func (r *Registry) Run(ctx context.Context) error {
	r.discover()
	r.log.Info("discovery started", "interval", r.opts.DiscoveryInterval, "provider", r.provider.Kind())

	ticker := time.NewTicker(r.opts.DiscoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.StopAll()
			return nil
		case <-ticker.C:
			r.discover()
		}
	}
}

// Refresh runs one synchronous discovery pass. Run calls it on its own
// schedule; callers that need an up-to-date set before Run starts (or in
// tests) may call it directly.
func (r *Registry) Refresh() {
	r.discover()
}

// discover enumerates the provider and atomically replaces the descriptor
// set, logging only when the set of IDs changed.
func (r *Registry) discover() {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("discovery panic", "panic", rec)
		}
	}()

	found, err := r.provider.Sources()
	if err != nil {
		r.log.Warn("source enumeration failed", "error", err)
		return
	}

	newIDs := make(map[string]struct{}, len(found))
	ids := make([]string, 0, len(found))
	for _, s := range found {
		newIDs[s.ID] = struct{}{}
		ids = append(ids, s.ID)
	}

	r.mu.Lock()
	changed := len(r.sources) != len(found)
	if !changed {
		for _, s := range r.sources {
			if _, ok := newIDs[s.ID]; !ok {
				changed = true
				break
			}
		}
	}
	r.sources = found
	r.mu.Unlock()

	if changed {
		r.log.Info("source set changed", "count", len(found), "ids", ids)
	}
}

// List returns a snapshot of the discovered sources in discovery order.
func (r *Registry) List() []capture.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]capture.Source(nil), r.sources...)
}

func (r *Registry) lookup(id string) (capture.Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sources {
		if s.ID == id {
			return s, true
		}
	}
	return capture.Source{}, false
}

// StartCapture launches a capture session for the source, or reports
// success immediately if one is already running. Returns false when the
// source is unknown or the provider fails to open it. Safe to call
// concurrently for the same id; at most one session is created.
func (r *Registry) StartCapture(id string) bool {
	src, ok := r.lookup(id)
	if !ok {
		r.log.Warn("start requested for unknown source", "source", id)
		return false
	}

	r.sessMu.Lock()
	if _, running := r.sessions[id]; running {
		r.sessMu.Unlock()
		return true
	}
	// Reserve the slot before the provider open so a concurrent start for
	// the same id cannot create a second session.
	placeholder := &Session{sourceID: id}
	r.sessions[id] = placeholder
	r.sessMu.Unlock()

	client, err := r.provider.Open(src)
	if err != nil {
		r.log.Error("failed to open source", "source", id, "error", err)
		r.sessMu.Lock()
		if r.sessions[id] == placeholder {
			delete(r.sessions, id)
		}
		r.sessMu.Unlock()
		return false
	}

	sess := newSession(id, client, r.opts.CaptureInterval, r.log)
	r.sessMu.Lock()
	if r.sessions[id] != placeholder {
		// Stopped (or replaced) while the open was in flight.
		r.sessMu.Unlock()
		client.Close()
		return false
	}
	r.sessions[id] = sess
	r.sessMu.Unlock()

	go sess.run()
	r.log.Info("capture started", "source", id)
	return true
}

// StopCapture stops the session for the source if one exists. Idempotent;
// stopping a capture does not remove the source from discovery.
func (r *Registry) StopCapture(id string) {
	r.sessMu.Lock()
	sess, ok := r.sessions[id]
	delete(r.sessions, id)
	r.sessMu.Unlock()

	if !ok || sess.quit == nil {
		return
	}
	sess.stop(stopTimeout)
	r.log.Info("capture stopped", "source", id)
}

// Mailbox returns the frame read handle for a running capture session.
func (r *Registry) Mailbox(id string) (*Mailbox, bool) {
	r.sessMu.Lock()
	defer r.sessMu.Unlock()
	sess, ok := r.sessions[id]
	if !ok || sess.mailbox == nil {
		return nil, false
	}
	return sess.mailbox, true
}

// Snapshot returns summaries of all running capture sessions.
func (r *Registry) Snapshot() []CaptureInfo {
	r.sessMu.Lock()
	defer r.sessMu.Unlock()

	infos := make([]CaptureInfo, 0, len(r.sessions))
	for id, sess := range r.sessions {
		info := CaptureInfo{SourceID: id}
		if !sess.startedAt.IsZero() {
			info.UptimeMs = time.Since(sess.startedAt).Milliseconds()
			info.FramesCaptured = sess.FramesCaptured()
		}
		infos = append(infos, info)
	}
	return infos
}

// StopAll stops every active capture session.
func (r *Registry) StopAll() {
	r.sessMu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.sessMu.Unlock()

	for _, id := range ids {
		r.StopCapture(id)
	}
}
