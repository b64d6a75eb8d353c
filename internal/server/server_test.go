package server

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zsiec/mirage/capture"
	"github.com/zsiec/mirage/internal/source"
	"github.com/zsiec/mirage/internal/wire"
)

// newTestStack builds a registry over a two-source mock provider and an
// HTTP test server in front of it.
func newTestStack(t *testing.T, streamInterval time.Duration) (*httptest.Server, *source.Registry) {
	t.Helper()

	provider := capture.NewMockProvider()
	provider.SetSources([]capture.Source{
		capture.MockSource("A", "Main"),
		capture.MockSource("B", "Cam1"),
	})
	provider.Width = 64
	provider.Height = 48

	registry := source.NewRegistry(provider, source.Options{
		CaptureInterval:   2 * time.Millisecond,
		DiscoveryInterval: time.Hour,
	}, nil)
	registry.Refresh()

	srv := New(Config{
		Addr:           "127.0.0.1:0",
		ProviderKind:   provider.Kind(),
		StreamInterval: streamInterval,
		JPEGQuality:    80,
	}, registry, nil)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		registry.StopAll()
	})
	return ts, registry
}

func dialWS(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestListSourcesEndpoint(t *testing.T) {
	t.Parallel()
	ts, _ := newTestStack(t, time.Millisecond)

	resp, err := ts.Client().Get(ts.URL + "/api/sources")
	if err != nil {
		t.Fatalf("GET /api/sources: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Sources []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
			App  string `json:"app"`
			Type string `json:"type"`
		} `json:"sources"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Sources) != 2 {
		t.Fatalf("source count: got %d, want 2", len(body.Sources))
	}
	if body.Sources[0].ID != "A:Main" || body.Sources[1].ID != "B:Cam1" {
		t.Errorf("ids: got %q, %q", body.Sources[0].ID, body.Sources[1].ID)
	}
	if body.Sources[0].Type != "mock" {
		t.Errorf("type: got %q, want mock", body.Sources[0].Type)
	}
}

func TestControlChannelScenario(t *testing.T) {
	t.Parallel()
	ts, _ := newTestStack(t, time.Millisecond)
	conn := dialWS(t, ts, "/ws/control")

	send := func(action, sourceID string) map[string]any {
		t.Helper()
		req := map[string]string{"action": action}
		if sourceID != "" {
			req["source_id"] = sourceID
		}
		if err := conn.WriteJSON(req); err != nil {
			t.Fatalf("write %s: %v", action, err)
		}
		var resp map[string]any
		if err := conn.ReadJSON(&resp); err != nil {
			t.Fatalf("read %s response: %v", action, err)
		}
		return resp
	}

	resp := send("list_sources", "")
	if resp["type"] != "sources" {
		t.Fatalf("type: got %v, want sources", resp["type"])
	}
	if n := len(resp["sources"].([]any)); n != 2 {
		t.Errorf("sources: got %d, want 2", n)
	}

	resp = send("start_capture", "A:Main")
	if resp["type"] != "capture_started" || resp["ok"] != true {
		t.Errorf("start A:Main: got %v", resp)
	}

	resp = send("start_capture", "C:Ghost")
	if resp["type"] != "capture_started" || resp["ok"] != false {
		t.Errorf("start C:Ghost: got %v", resp)
	}

	resp = send("stop_capture", "A:Main")
	if resp["type"] != "capture_stopped" || resp["source_id"] != "A:Main" {
		t.Errorf("stop A:Main: got %v", resp)
	}

	// Stopping a capture does not remove the source from discovery.
	resp = send("list_sources", "")
	found := false
	for _, raw := range resp["sources"].([]any) {
		if raw.(map[string]any)["id"] == "A:Main" {
			found = true
		}
	}
	if !found {
		t.Error("A:Main missing from sources after stop_capture")
	}

	resp = send("dance", "")
	if resp["type"] != "error" || !strings.Contains(resp["message"].(string), "dance") {
		t.Errorf("unknown action: got %v", resp)
	}
}

func TestStreamFirstFrame(t *testing.T) {
	t.Parallel()
	ts, _ := newTestStack(t, time.Millisecond)
	conn := dialWS(t, ts, "/ws/stream/A:Main")

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	msgType, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read first frame: %v", err)
	}
	if msgType != websocket.BinaryMessage {
		t.Fatalf("message type: got %d, want binary", msgType)
	}

	hdr, err := wire.ParseHeader(msg)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if hdr.Type != wire.FrameTypeJPEG {
		t.Errorf("frame type: got 0x%02x, want 0x%02x", hdr.Type, wire.FrameTypeJPEG)
	}
	if int(hdr.PayloadLen) != len(msg)-wire.HeaderSize {
		t.Errorf("payload length: header %d, actual %d", hdr.PayloadLen, len(msg)-wire.HeaderSize)
	}
	if hdr.Width != 64 || hdr.Height != 48 {
		t.Errorf("dimensions: got %dx%d, want 64x48", hdr.Width, hdr.Height)
	}
}

func TestStreamUnknownSource(t *testing.T) {
	t.Parallel()
	ts, _ := newTestStack(t, time.Millisecond)
	conn := dialWS(t, ts, "/ws/stream/C:Ghost")

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	msgType, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read error message: %v", err)
	}
	if msgType != websocket.TextMessage {
		t.Errorf("message type: got %d, want text", msgType)
	}

	var payload map[string]string
	if err := json.Unmarshal(msg, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !strings.Contains(payload["error"], "C:Ghost") {
		t.Errorf("error payload: got %v", payload)
	}

	// The server closes after the error object.
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("connection still open after stream rejection")
	}
}

func TestStreamRateLimit(t *testing.T) {
	t.Parallel()
	ts, _ := newTestStack(t, 100*time.Millisecond) // 10 Hz ceiling

	conn := dialWS(t, ts, "/ws/stream/A:Main")

	frames := 0
	deadline := time.Now().Add(1050 * time.Millisecond)
	for {
		conn.SetReadDeadline(deadline.Add(500 * time.Millisecond))
		if _, _, err := conn.ReadMessage(); err != nil {
			t.Fatalf("read: %v", err)
		}
		// Only frames delivered inside the window count against the ceiling.
		if time.Now().After(deadline) {
			break
		}
		frames++
	}

	if frames > 11 {
		t.Errorf("frames in ~1s at 10 Hz: got %d, want at most 11", frames)
	}
	if frames < 2 {
		t.Errorf("frames in ~1s: got %d, expected a steady stream", frames)
	}
}

func TestTwoViewersIndependent(t *testing.T) {
	t.Parallel()
	ts, registry := newTestStack(t, time.Millisecond)

	first := dialWS(t, ts, "/ws/stream/B:Cam1")
	second := dialWS(t, ts, "/ws/stream/B:Cam1")

	for _, conn := range []*websocket.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if _, _, err := conn.ReadMessage(); err != nil {
			t.Fatalf("initial frame: %v", err)
		}
	}

	// Exactly one capture session feeds both viewers.
	if n := len(registry.Snapshot()); n != 1 {
		t.Errorf("capture sessions: got %d, want 1", n)
	}

	first.Close()

	// The surviving viewer keeps receiving frames.
	for i := 0; i < 3; i++ {
		second.SetReadDeadline(time.Now().Add(5 * time.Second))
		if _, _, err := second.ReadMessage(); err != nil {
			t.Fatalf("frame %d after peer disconnect: %v", i, err)
		}
	}
}
