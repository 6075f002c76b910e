package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type googleAuthRequest struct {
	Token string `json:"token"`
}

// handleGoogleAuth serves POST /api/auth/google: the Google access token is
// verified upstream before a session token is minted.
func (s *Server) handleGoogleAuth(c *gin.Context) {
	var req googleAuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request_body"})
		return
	}
	if req.Token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_token"})
		return
	}

	user, sessionToken, err := s.auth.Exchange(c.Request.Context(), req.Token)
	if err != nil {
		s.logger.Error("google token exchange failed", "op", "auth_google", "err", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token_verification_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"user":        user,
		"customToken": sessionToken,
	})
}
