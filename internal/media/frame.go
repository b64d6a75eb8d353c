// Package media defines the raw frame type that flows from capture
// providers through the mailbox to the wire encoder.
package media

// PixelFormat identifies the channel layout of a raw frame buffer.
type PixelFormat int

// Pixel formats produced by capture providers. Texture-sharing backends
// typically hand out BGRA; the screenshot backend produces RGBA.
const (
	FormatBGRA PixelFormat = iota
	FormatRGBA
)

// Channels returns the number of interleaved channels per pixel.
func (f PixelFormat) Channels() int {
	switch f {
	case FormatBGRA, FormatRGBA:
		return 4
	default:
		return 0
	}
}

// String returns the format name for logging.
func (f PixelFormat) String() string {
	switch f {
	case FormatBGRA:
		return "BGRA"
	case FormatRGBA:
		return "RGBA"
	default:
		return "unknown"
	}
}

// RawFrame is a single uncompressed picture pulled from a capture client.
// Data is tightly packed (no row padding), Width*Height*Format.Channels()
// bytes, top-left origin.
type RawFrame struct {
	Data   []byte
	Width  int
	Height int
	Format PixelFormat
}

// Valid reports whether the frame is non-empty and its buffer length
// matches its declared dimensions.
func (f *RawFrame) Valid() bool {
	if f == nil || f.Width <= 0 || f.Height <= 0 {
		return false
	}
	return len(f.Data) == f.Width*f.Height*f.Format.Channels()
}

// Clone returns a deep copy of the frame.
func (f *RawFrame) Clone() *RawFrame {
	if f == nil {
		return nil
	}
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	return &RawFrame{Data: data, Width: f.Width, Height: f.Height, Format: f.Format}
}
