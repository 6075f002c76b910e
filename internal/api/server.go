// Package api exposes the chat service over HTTP: synchronous and streamed
// chat, message CRUD, Google sign-in and a websocket message feed.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"storechat/internal/integrations/googleauth"
	"storechat/internal/usecase"
)

const defaultPollInterval = 2 * time.Second

// Server wires the chat service and auth verifier into a gin router.
type Server struct {
	chat         *usecase.ChatService
	auth         *googleauth.Verifier
	logger       *slog.Logger
	pollInterval time.Duration
	upgrader     websocket.Upgrader
}

type Option func(*Server)

// WithPollInterval overrides how often the realtime feed re-reads a
// conversation. Tests use short intervals.
func WithPollInterval(d time.Duration) Option {
	return func(s *Server) {
		s.pollInterval = d
	}
}

func NewServer(chat *usecase.ChatService, auth *googleauth.Verifier, logger *slog.Logger, opts ...Option) (*Server, error) {
	if chat == nil {
		return nil, errors.New("api: chat service must not be nil")
	}
	if auth == nil {
		return nil, errors.New("api: auth verifier must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		chat:         chat,
		auth:         auth,
		logger:       logger,
		pollInterval: defaultPollInterval,
		upgrader: websocket.Upgrader{
			// The widget is embedded on arbitrary storefront origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Router builds the HTTP route table.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), corsMiddleware())

	api := r.Group("/api")
	api.POST("/chat", s.handleChat)
	api.GET("/messages", s.handleListMessages)
	api.POST("/messages", s.handleSaveMessage)
	api.PATCH("/messages", s.handleUpdateMessage)
	api.DELETE("/messages", s.handleDeleteMessage)
	api.POST("/auth/google", s.handleGoogleAuth)
	api.GET("/realtime", s.handleRealtime)

	return r
}

// corsMiddleware allows the widget to call the API from any storefront
// origin.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// writeError maps the service error taxonomy onto HTTP statuses.
func (s *Server) writeError(c *gin.Context, err error) {
	c.JSON(errorStatus(err), gin.H{"error": errorMessage(err)})
}

func errorStatus(err error) int {
	var svcErr *usecase.Error
	if !errors.As(err, &svcErr) {
		return http.StatusInternalServerError
	}
	switch svcErr.Code {
	case usecase.ErrorInvalidRequest:
		return http.StatusBadRequest
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func errorMessage(err error) string {
	var svcErr *usecase.Error
	if errors.As(err, &svcErr) {
		return svcErr.Reason
	}
	return "internal_error"
}
