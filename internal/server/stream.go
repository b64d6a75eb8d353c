package server

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zsiec/mirage/internal/source"
	"github.com/zsiec/mirage/internal/wire"
)

// missBackoff is how long a stream session waits before re-polling an
// empty mailbox.
const missBackoff = 10 * time.Millisecond

// handleStream upgrades the connection and relays frames for one source
// until the client disconnects. The server never closes a healthy stream
// on its own, and a disconnect never stops the underlying capture.
func (s *Server) handleStream(c *gin.Context) {
	sourceID := strings.TrimPrefix(c.Param("source"), "/")

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	log := s.log.With("session", uuid.NewString()[:8], "source", sourceID)
	log.Info("stream client connected")

	mailbox, ok := s.attachCapture(sourceID)
	if !ok {
		// One typed error object, then close.
		_ = conn.WriteJSON(gin.H{"error": fmt.Sprintf("Failed to start capture for %s", sourceID)})
		log.Warn("stream rejected, capture unavailable")
		return
	}

	s.addViewer(sourceID)
	defer s.removeViewer(sourceID)

	sess := &streamSession{
		log:         log,
		conn:        conn,
		mailbox:     mailbox,
		minInterval: s.cfg.StreamInterval,
		quality:     s.cfg.JPEGQuality,
	}
	sess.run()
}

// attachCapture ensures a capture session exists for the source and
// returns its mailbox read handle.
func (s *Server) attachCapture(sourceID string) (*source.Mailbox, bool) {
	if !s.registry.StartCapture(sourceID) {
		return nil, false
	}
	return s.registry.Mailbox(sourceID)
}

// streamSession relays one client's frames: read the mailbox at a bounded
// rate, encode, send. It paces itself independently of every other
// session and of the capture loop.
type streamSession struct {
	log         *slog.Logger
	conn        *websocket.Conn
	mailbox     *source.Mailbox
	minInterval time.Duration
	quality     int
}

func (s *streamSession) run() {
	// The read pump exists only to observe the client going away; stream
	// clients are not expected to send anything.
	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		for {
			if _, _, err := s.conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var (
		lastSent    time.Time
		framesSent  int
		misses      int
		encodeFails int
	)

	for {
		select {
		case <-disconnected:
			s.log.Info("stream client disconnected", "framesSent", framesSent)
			return
		default:
		}

		if wait := s.minInterval - time.Since(lastSent); wait > 0 {
			time.Sleep(wait)
			continue
		}

		frame, timestamp, ok := s.mailbox.Read()
		if !ok {
			misses++
			if misses == 100 {
				s.log.Warn("no frames available after 100 polls")
			} else if misses%1000 == 0 {
				s.log.Warn("still no frames", "polls", misses)
			}
			time.Sleep(missBackoff)
			continue
		}

		msg, err := wire.Encode(frame, s.quality, timestamp)
		if err != nil {
			// No frame this tick. Not fatal: the next mailbox write may
			// be well-formed again.
			encodeFails++
			if encodeFails == 1 || encodeFails%100 == 0 {
				s.log.Warn("frame encode failed",
					"error", err,
					"width", frame.Width,
					"height", frame.Height,
					"failures", encodeFails,
				)
			}
			time.Sleep(missBackoff)
			continue
		}

		if err := s.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			s.log.Info("stream write failed, ending session", "framesSent", framesSent, "error", err)
			return
		}

		lastSent = time.Now()
		framesSent++
		misses = 0

		if framesSent == 1 {
			s.log.Info("first frame sent",
				"width", frame.Width,
				"height", frame.Height,
				"bytes", len(msg),
			)
		} else if framesSent%300 == 0 {
			s.log.Debug("stream progress", "framesSent", framesSent)
		}
	}
}
