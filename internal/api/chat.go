package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"storechat/internal/usecase"
)

type chatRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
	Stream    *bool  `json:"stream"`
}

type chatResponse struct {
	Success    bool   `json:"success"`
	MessageID  string `json:"messageId"`
	Content    string `json:"content"`
	TokensUsed int    `json:"tokensUsed"`
}

type streamChunk struct {
	Chunk string `json:"chunk"`
}

type streamDone struct {
	Done      bool   `json:"done"`
	MessageID string `json:"messageId"`
}

type streamFailure struct {
	Error string `json:"error"`
}

// handleChat serves POST /api/chat. Streaming is the default; clients opt
// out with "stream": false.
func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request_body"})
		return
	}

	in := usecase.ChatInput{SessionID: req.SessionID, Message: req.Message}
	if req.Stream != nil && !*req.Stream {
		s.chatSync(c, in)
		return
	}
	s.chatStream(c, in)
}

func (s *Server) chatSync(c *gin.Context, in usecase.ChatInput) {
	out, err := s.chat.Chat(c.Request.Context(), in)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, chatResponse{
		Success:    true,
		MessageID:  out.MessageID,
		Content:    out.Content,
		TokensUsed: out.TokensUsed,
	})
}

func (s *Server) chatStream(c *gin.Context, in usecase.ChatInput) {
	events, err := s.chat.ChatStream(c.Request.Context(), in)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	// Once the client is gone we stop writing but keep draining, the
	// pipeline still has to persist the assistant turn.
	clientGone := c.Request.Context().Done()
	disconnected := false
	for ev := range events {
		if disconnected {
			continue
		}
		select {
		case <-clientGone:
			disconnected = true
			continue
		default:
		}
		s.writeSSE(c, ev)
	}
}

func (s *Server) writeSSE(c *gin.Context, ev usecase.StreamEvent) {
	var payload any
	switch {
	case ev.Err != nil:
		payload = streamFailure{Error: errorMessage(ev.Err)}
	case ev.Done:
		payload = streamDone{Done: true, MessageID: ev.MessageID}
	default:
		payload = streamChunk{Chunk: ev.Chunk}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("stream event encode failed", "op", "write_sse", "err", err)
		return
	}
	fmt.Fprintf(c.Writer, "data: %s\n\n", data)
	c.Writer.Flush()
}
