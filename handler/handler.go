// Package handler adapts the chat service to AWS API Gateway proxy events.
// The Lambda deployment serves the synchronous subset of the API; proxy
// framing cannot stream, so streamed chat is exclusive to the HTTP server.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"storechat/internal/domain"
	"storechat/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

// ChatUseCase is the subset of the chat service the Lambda transport needs.
type ChatUseCase interface {
	Chat(ctx context.Context, in usecase.ChatInput) (usecase.ChatOutput, error)
	History(ctx context.Context, sessionID string, limit int) ([]domain.Message, error)
}

type Handler struct {
	chat   ChatUseCase
	logger *slog.Logger
}

func NewHandler(chat ChatUseCase) (*Handler, error) {
	if chat == nil {
		return nil, errors.New("handler: chat use case must not be nil")
	}
	return &Handler{chat: chat, logger: slog.Default()}, nil
}

type chatRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

type chatResponse struct {
	Success    bool   `json:"success"`
	MessageID  string `json:"messageId"`
	Content    string `json:"content"`
	TokensUsed int    `json:"tokensUsed"`
}

type messagesResponse struct {
	Success  bool             `json:"success"`
	Messages []domain.Message `json:"messages"`
	Count    int              `json:"count"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(event.Headers)

	switch {
	case event.HTTPMethod == http.MethodPost && event.Path == "/api/chat":
		return h.handleChat(ctx, event, corrID), nil
	case event.HTTPMethod == http.MethodGet && event.Path == "/api/messages":
		return h.handleMessages(ctx, event, corrID), nil
	default:
		return respond(http.StatusNotFound, errorResponse{Error: "not_found"}, corrID), nil
	}
}

func (h *Handler) handleChat(ctx context.Context, event events.APIGatewayProxyRequest, corrID string) events.APIGatewayProxyResponse {
	var req chatRequest
	if err := json.Unmarshal([]byte(event.Body), &req); err != nil {
		return respond(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidRequest)}, corrID)
	}

	out, err := h.chat.Chat(ctx, usecase.ChatInput{SessionID: req.SessionID, Message: req.Message})
	if err != nil {
		h.logger.Error("chat failed", "correlationId", corrID, "sessionId", req.SessionID, "err", err)
		return errorFor(err, corrID)
	}

	return respond(http.StatusOK, chatResponse{
		Success:    true,
		MessageID:  out.MessageID,
		Content:    out.Content,
		TokensUsed: out.TokensUsed,
	}, corrID)
}

func (h *Handler) handleMessages(ctx context.Context, event events.APIGatewayProxyRequest, corrID string) events.APIGatewayProxyResponse {
	sessionID := event.QueryStringParameters["sessionId"]
	if sessionID == "" {
		return respond(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidRequest)}, corrID)
	}
	limit, _ := strconv.Atoi(event.QueryStringParameters["limit"])

	msgs, err := h.chat.History(ctx, sessionID, limit)
	if err != nil {
		h.logger.Error("history failed", "correlationId", corrID, "sessionId", sessionID, "err", err)
		return errorFor(err, corrID)
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return respond(http.StatusOK, messagesResponse{Success: true, Messages: msgs, Count: len(msgs)}, corrID)
}

func errorFor(err error, corrID string) events.APIGatewayProxyResponse {
	var svcErr *usecase.Error
	if !errors.As(err, &svcErr) {
		return respond(http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)}, corrID)
	}
	status := http.StatusInternalServerError
	switch svcErr.Code {
	case usecase.ErrorInvalidRequest:
		status = http.StatusBadRequest
	case usecase.ErrorRateLimited:
		status = http.StatusTooManyRequests
	}
	return respond(status, errorResponse{Error: string(svcErr.Code)}, corrID)
}

func respond(status int, body any, corrID string) events.APIGatewayProxyResponse {
	raw, err := json.Marshal(body)
	if err != nil {
		raw = []byte(`{"error":"INTERNAL_ERROR"}`)
		status = http.StatusInternalServerError
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: corrID,
		},
		Body: string(raw),
	}
}

// correlationID echoes the caller's id when present (header lookup is
// case-insensitive behind API Gateway) and mints one otherwise.
func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, correlationHeader) && v != "" {
			return v
		}
	}
	return uuid.NewString()
}
