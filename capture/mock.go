package capture

import (
	"fmt"
	"sync"
	"time"

	"github.com/zsiec/mirage/internal/media"
)

// MockProvider is an in-process backend serving a synthetic test pattern.
// It stands in for native texture-sharing on platforms without one and
// backs the package tests. The source set can be swapped at any time to
// exercise discovery.
type MockProvider struct {
	mu      sync.Mutex
	sources []Source

	// FrameInterval gates NextFrameReady on mock clients; zero means a new
	// frame is always ready.
	FrameInterval time.Duration
	// Width and Height size generated frames; zero falls back to 640x360.
	Width  int
	Height int
}

// NewMockProvider creates a provider with a single default test source.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		sources: []Source{MockSource("mock", "Test Pattern")},
	}
}

// MockSource builds a Source for the mock backend.
func MockSource(app, name string) Source {
	return Source{ID: SourceID(app, name), Name: name, App: app}
}

// SetSources replaces the advertised source set.
func (p *MockProvider) SetSources(sources []Source) {
	p.mu.Lock()
	p.sources = append([]Source(nil), sources...)
	p.mu.Unlock()
}

// Kind implements Provider.
func (p *MockProvider) Kind() string { return "mock" }

// Sources implements Provider.
func (p *MockProvider) Sources() ([]Source, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Source(nil), p.sources...), nil
}

// Open implements Provider.
func (p *MockProvider) Open(src Source) (Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.sources {
		if s.ID == src.ID {
			w, h := p.Width, p.Height
			if w <= 0 || h <= 0 {
				w, h = 640, 360
			}
			return &mockClient{width: w, height: h, interval: p.FrameInterval}, nil
		}
	}
	return nil, fmt.Errorf("mock: source %q not available", src.ID)
}

type mockClient struct {
	width    int
	height   int
	interval time.Duration
	lastRead time.Time
	seq      int
	closed   bool
}

func (c *mockClient) NextFrameReady() bool {
	if c.closed {
		return false
	}
	return c.interval == 0 || time.Since(c.lastRead) >= c.interval
}

// ReadFrame generates a BGRA gradient that drifts one step per frame so
// consecutive frames differ.
func (c *mockClient) ReadFrame() (*media.RawFrame, error) {
	if c.closed {
		return nil, fmt.Errorf("mock: client closed")
	}
	c.lastRead = time.Now()
	c.seq++

	data := make([]byte, c.width*c.height*4)
	shift := c.seq % 256
	for y := 0; y < c.height; y++ {
		for x := 0; x < c.width; x++ {
			i := (y*c.width + x) * 4
			data[i] = byte((x + shift) % 256)   // B
			data[i+1] = byte((y + shift) % 256) // G
			data[i+2] = byte(shift)             // R
			data[i+3] = 0xFF                    // A
		}
	}
	return &media.RawFrame{Data: data, Width: c.width, Height: c.height, Format: media.FormatBGRA}, nil
}

func (c *mockClient) Close() error {
	c.closed = true
	return nil
}
