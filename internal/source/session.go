package source

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/zsiec/mirage/capture"
)

// Session owns the background capture loop for one source. It pulls
// frames from its capture client at a bounded rate and publishes them
// into its mailbox. Sessions are created and destroyed only by the
// Registry; stream sessions see nothing but the mailbox.
type Session struct {
	sourceID  string
	log       *slog.Logger
	client    capture.Client
	mailbox   *Mailbox
	interval  time.Duration
	startedAt time.Time
	frames    atomic.Int64

	quit chan struct{}
	done chan struct{}
}

func newSession(sourceID string, client capture.Client, interval time.Duration, log *slog.Logger) *Session {
	return &Session{
		sourceID:  sourceID,
		log:       log.With("source", sourceID),
		client:    client,
		mailbox:   NewMailbox(),
		interval:  interval,
		startedAt: time.Now(),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Mailbox returns the read handle for stream sessions.
func (s *Session) Mailbox() *Mailbox { return s.mailbox }

// FramesCaptured returns the number of frames published so far.
func (s *Session) FramesCaptured() int64 { return s.frames.Load() }

// run is the capture loop. Each iteration polls the client, publishes any
// new frame with the current wall-clock timestamp, and sleeps whatever
// remains of the capture interval. Transient client errors are logged and
// skipped; only the quit signal ends the loop.
func (s *Session) run() {
	defer close(s.done)
	defer s.client.Close()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("capture loop panic", "panic", r)
		}
	}()

	for {
		select {
		case <-s.quit:
			return
		default:
		}

		start := time.Now()

		if s.client.NextFrameReady() {
			frame, err := s.client.ReadFrame()
			switch {
			case err != nil:
				s.log.Warn("frame read failed", "error", err)
			case frame != nil:
				s.mailbox.Write(frame, float64(time.Now().UnixNano())/1e9)
				n := s.frames.Add(1)
				if n == 1 {
					s.log.Info("first frame captured",
						"width", frame.Width,
						"height", frame.Height,
						"format", frame.Format.String(),
					)
				} else if n%300 == 0 {
					s.log.Debug("capture progress", "frames", n)
				}
			}
		}

		if d := s.interval - time.Since(start); d > 0 {
			time.Sleep(d)
		}
	}
}

// stop signals the loop to exit and waits up to timeout for it to finish.
// Best effort: on timeout the session is abandoned and the loop releases
// its client whenever it next observes the signal.
func (s *Session) stop(timeout time.Duration) {
	close(s.quit)
	select {
	case <-s.done:
	case <-time.After(timeout):
		s.log.Warn("capture loop did not stop in time", "timeout", timeout)
	}
}
