// Package capture abstracts platform frame sources behind a small
// enumerate/open/poll/pull contract. The rest of the system never depends
// on which backend is active.
package capture

import (
	"errors"

	"github.com/zsiec/mirage/internal/media"
)

// ErrNoSources is returned by providers that currently expose nothing
// to capture.
var ErrNoSources = errors.New("capture: no sources available")

// Source describes one discoverable frame source. ID is derived from the
// owning application and the source name, so re-discovering the same
// physical source always yields the same ID even when Handle is a fresh
// object.
type Source struct {
	ID     string
	Name   string
	App    string
	Handle any
}

// SourceID builds the stable identifier for a source. Unnamed sources
// collapse to the bare application name.
func SourceID(app, name string) string {
	if name == "" {
		return app
	}
	return app + ":" + name
}

// Provider is a platform capture backend.
type Provider interface {
	// Kind names the backend ("display", "mock"), reported to API clients.
	Kind() string
	// Sources enumerates the currently available sources.
	Sources() ([]Source, error)
	// Open attaches to a source and returns a frame client. Open fails if
	// the source has disappeared since enumeration.
	Open(src Source) (Client, error)
}

// Client is an open connection to a single source. Clients are used by
// exactly one capture loop and are not safe for concurrent use.
type Client interface {
	// NextFrameReady reports whether a frame newer than the last ReadFrame
	// is available. Cheap, called once per loop iteration.
	NextFrameReady() bool
	// ReadFrame pulls the newest raw frame. Returns nil when no frame is
	// available despite NextFrameReady reporting true.
	ReadFrame() (*media.RawFrame, error)
	Close() error
}
