package capture

import (
	"fmt"
	"image"

	"github.com/kbinani/screenshot"

	"github.com/zsiec/mirage/internal/media"
)

// DisplayProvider exposes every attached display as a capture source,
// backed by the cross-platform screenshot library.
type DisplayProvider struct{}

// NewDisplayProvider creates a display-backed provider.
func NewDisplayProvider() *DisplayProvider {
	return &DisplayProvider{}
}

// Kind implements Provider.
func (p *DisplayProvider) Kind() string { return "display" }

// Sources implements Provider. One source per active display; the display
// index travels in Handle.
func (p *DisplayProvider) Sources() ([]Source, error) {
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return nil, ErrNoSources
	}
	sources := make([]Source, 0, n)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("Display %d", i)
		sources = append(sources, Source{
			ID:     SourceID("desktop", name),
			Name:   name,
			App:    "desktop",
			Handle: i,
		})
	}
	return sources, nil
}

// Open implements Provider.
func (p *DisplayProvider) Open(src Source) (Client, error) {
	idx, ok := src.Handle.(int)
	if !ok {
		return nil, fmt.Errorf("display: source %q has no display index", src.ID)
	}
	if idx < 0 || idx >= screenshot.NumActiveDisplays() {
		return nil, fmt.Errorf("display: index %d no longer attached", idx)
	}
	return &displayClient{bounds: screenshot.GetDisplayBounds(idx)}, nil
}

type displayClient struct {
	bounds image.Rectangle
}

// NextFrameReady implements Client. A display can be grabbed at any time;
// pacing is the capture loop's job.
func (c *displayClient) NextFrameReady() bool { return true }

// ReadFrame implements Client.
func (c *displayClient) ReadFrame() (*media.RawFrame, error) {
	img, err := screenshot.CaptureRect(c.bounds)
	if err != nil {
		return nil, fmt.Errorf("display: capture: %w", err)
	}

	w := img.Rect.Dx()
	h := img.Rect.Dy()
	frame := &media.RawFrame{Width: w, Height: h, Format: media.FormatRGBA}

	if img.Stride == 4*w {
		frame.Data = img.Pix
		return frame, nil
	}

	// Repack row-padded buffers so downstream code can assume tight packing.
	frame.Data = make([]byte, 4*w*h)
	for y := 0; y < h; y++ {
		copy(frame.Data[y*4*w:(y+1)*4*w], img.Pix[y*img.Stride:y*img.Stride+4*w])
	}
	return frame, nil
}

func (c *displayClient) Close() error { return nil }
