package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"storechat/internal/domain"
)

type saveMessageRequest struct {
	SessionID string         `json:"sessionId"`
	Message   domain.Message `json:"message"`
}

type updateMessageRequest struct {
	SessionID string         `json:"sessionId"`
	MessageID string         `json:"messageId"`
	Updates   map[string]any `json:"updates"`
}

// handleListMessages serves GET /api/messages?sessionId=&limit=.
func (s *Server) handleListMessages(c *gin.Context) {
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_session_id"})
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	msgs, err := s.chat.History(c.Request.Context(), sessionID, limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"messages": msgs,
		"count":    len(msgs),
	})
}

// handleSaveMessage serves POST /api/messages for client-authored messages
// of any kind (voice, file, image, product).
func (s *Server) handleSaveMessage(c *gin.Context) {
	var req saveMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request_body"})
		return
	}

	id, err := s.chat.SaveMessage(c.Request.Context(), req.SessionID, req.Message)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "messageId": id})
}

// handleUpdateMessage serves PATCH /api/messages.
func (s *Server) handleUpdateMessage(c *gin.Context) {
	var req updateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request_body"})
		return
	}

	if err := s.chat.UpdateMessage(c.Request.Context(), req.SessionID, req.MessageID, req.Updates); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "messageId": req.MessageID})
}

// handleDeleteMessage serves DELETE /api/messages?sessionId=&messageId=.
func (s *Server) handleDeleteMessage(c *gin.Context) {
	messageID := c.Query("messageId")
	if err := s.chat.DeleteMessage(c.Request.Context(), c.Query("sessionId"), messageID); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "messageId": messageID})
}
