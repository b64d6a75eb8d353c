package server

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// controlRequest is one command on the control channel.
type controlRequest struct {
	Action   string `json:"action"`
	SourceID string `json:"source_id"`
}

// Control channel responses, discriminated by Type.
type sourcesResponse struct {
	Type    string       `json:"type"`
	Sources []sourceInfo `json:"sources"`
}

type captureStartedResponse struct {
	Type     string `json:"type"`
	SourceID string `json:"source_id"`
	OK       bool   `json:"ok"`
}

type captureStoppedResponse struct {
	Type     string `json:"type"`
	SourceID string `json:"source_id"`
}

type errorResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// handleControl serves the JSON control channel. Requests on one
// connection are handled strictly in arrival order; the response is
// written before the next request is read.
func (s *Server) handleControl(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("control upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	log := s.log.With("control", uuid.NewString()[:8])
	log.Info("control client connected")

	for {
		var req controlRequest
		if err := conn.ReadJSON(&req); err != nil {
			log.Info("control client disconnected", "error", err)
			return
		}

		var resp any
		switch req.Action {
		case "list_sources":
			resp = sourcesResponse{Type: "sources", Sources: s.sourceInfos()}
		case "start_capture":
			ok := s.registry.StartCapture(req.SourceID)
			resp = captureStartedResponse{Type: "capture_started", SourceID: req.SourceID, OK: ok}
		case "stop_capture":
			s.registry.StopCapture(req.SourceID)
			resp = captureStoppedResponse{Type: "capture_stopped", SourceID: req.SourceID}
		default:
			resp = errorResponse{Type: "error", Message: fmt.Sprintf("Unknown action: %s", req.Action)}
		}

		if err := conn.WriteJSON(resp); err != nil {
			log.Info("control write failed", "error", err)
			return
		}
	}
}
