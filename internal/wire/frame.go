// Package wire implements the binary frame message sent to streaming
// clients: a fixed 21-byte little-endian header followed by a JPEG
// payload.
//
// Layout: type (1 byte), timestamp as float64 epoch seconds (8 bytes),
// width (uint32), height (uint32), payload length (uint32), payload.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"time"

	"github.com/zsiec/mirage/internal/media"
)

// FrameTypeJPEG identifies a compressed-image frame message.
const FrameTypeJPEG byte = 0x01

// HeaderSize is the fixed message header length in bytes.
const HeaderSize = 21

// DefaultQuality is the JPEG quality used when the caller passes one
// outside [1, 100].
const DefaultQuality = 80

// ErrEmptyFrame is returned when the input frame is nil, zero-sized, or
// its buffer does not match its declared dimensions.
var ErrEmptyFrame = errors.New("wire: empty or malformed frame")

// Header is the decoded fixed portion of a frame message.
type Header struct {
	Type       byte
	Timestamp  float64
	Width      uint32
	Height     uint32
	PayloadLen uint32
}

// Encode compresses a raw frame and wraps it in a frame message. A zero
// timestamp means "now". Pure: no shared state, safe to call from any
// number of stream sessions concurrently.
func Encode(frame *media.RawFrame, quality int, timestamp float64) ([]byte, error) {
	if !frame.Valid() {
		return nil, ErrEmptyFrame
	}
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	if timestamp == 0 {
		timestamp = float64(time.Now().UnixNano()) / 1e9
	}

	img, err := toRGBA(frame)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(HeaderSize + frame.Width*frame.Height/4)
	buf.Write(make([]byte, HeaderSize))
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("wire: jpeg encode: %w", err)
	}

	msg := buf.Bytes()
	payloadLen := len(msg) - HeaderSize
	msg[0] = FrameTypeJPEG
	binary.LittleEndian.PutUint64(msg[1:9], math.Float64bits(timestamp))
	binary.LittleEndian.PutUint32(msg[9:13], uint32(frame.Width))
	binary.LittleEndian.PutUint32(msg[13:17], uint32(frame.Height))
	binary.LittleEndian.PutUint32(msg[17:21], uint32(payloadLen))
	return msg, nil
}

// ParseHeader decodes the fixed header from the start of a frame message.
func ParseHeader(msg []byte) (Header, error) {
	if len(msg) < HeaderSize {
		return Header{}, fmt.Errorf("wire: message too short: %d bytes", len(msg))
	}
	return Header{
		Type:       msg[0],
		Timestamp:  math.Float64frombits(binary.LittleEndian.Uint64(msg[1:9])),
		Width:      binary.LittleEndian.Uint32(msg[9:13]),
		Height:     binary.LittleEndian.Uint32(msg[13:17]),
		PayloadLen: binary.LittleEndian.Uint32(msg[17:21]),
	}, nil
}

// toRGBA normalizes the raw buffer to an alpha-opaque RGBA image the JPEG
// encoder accepts, swapping channel order for BGRA input. The alpha
// channel is dropped either way; JPEG carries three channels.
func toRGBA(frame *media.RawFrame) (*image.RGBA, error) {
	img := image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	src := frame.Data

	switch frame.Format {
	case media.FormatRGBA:
		copy(img.Pix, src)
		for i := 3; i < len(img.Pix); i += 4 {
			img.Pix[i] = 0xFF
		}
	case media.FormatBGRA:
		for i := 0; i+3 < len(src); i += 4 {
			img.Pix[i] = src[i+2]
			img.Pix[i+1] = src[i+1]
			img.Pix[i+2] = src[i]
			img.Pix[i+3] = 0xFF
		}
	default:
		return nil, fmt.Errorf("wire: unsupported pixel format %v", frame.Format)
	}
	return img, nil
}
