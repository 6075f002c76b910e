package usecase

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"storechat/internal/domain"
)

const (
	defaultHistoryWindow = 10
	defaultFetchLimit    = 50
)

// ConversationStore is the persistence contract consumed by the orchestrator.
type ConversationStore interface {
	AppendMessage(ctx context.Context, sessionID string, msg domain.Message) (string, error)
	FetchRecent(ctx context.Context, sessionID string, limit int) ([]domain.Message, error)
	UpsertMeta(ctx context.Context, sessionID string, update domain.MetaUpdate) error
	UpdateMessage(ctx context.Context, sessionID, messageID string, updates map[string]any) error
	DeleteMessage(ctx context.Context, sessionID, messageID string) error
}

// CompletionClient is the LLM provider contract consumed by the orchestrator.
type CompletionClient interface {
	Complete(ctx context.Context, req domain.CompletionRequest) (domain.CompletionResult, error)
	CompleteStream(ctx context.Context, req domain.CompletionRequest, onChunk func(string)) (domain.CompletionResult, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// ChatService turns one inbound user message into persisted turns and an
// assistant reply. It holds no mutable state besides its immutable
// dependencies and is safe for concurrent use.
type ChatService struct {
	store         ConversationStore
	llm           CompletionClient
	storeInfo     domain.StoreInfo
	historyWindow int
	logger        *slog.Logger
}

type ChatInput struct {
	SessionID string
	Message   string
}

type ChatOutput struct {
	MessageID  string
	Content    string
	TokensUsed int
}

func NewChatService(store ConversationStore, llm CompletionClient, storeInfo domain.StoreInfo, historyWindow int, logger *slog.Logger) (*ChatService, error) {
	if store == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: completion client must not be nil")
	}
	if strings.TrimSpace(storeInfo.Name) == "" {
		return nil, errors.New("usecase: store context must have a name")
	}
	if historyWindow <= 0 {
		historyWindow = defaultHistoryWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{
		store:         store,
		llm:           llm,
		storeInfo:     storeInfo,
		historyWindow: historyWindow,
		logger:        logger,
	}, nil
}

// Chat runs the synchronous pipeline: persist the user turn, load bounded
// history, complete, persist the assistant turn. There is no retry and no
// rollback; a persisted user message stays persisted even when the
// completion later fails.
func (s *ChatService) Chat(ctx context.Context, in ChatInput) (ChatOutput, error) {
	if err := validateChatInput(in); err != nil {
		return ChatOutput{}, err
	}

	history, err := s.persistUserTurnAndLoadHistory(ctx, in)
	if err != nil {
		return ChatOutput{}, err
	}

	result, err := s.llm.Complete(ctx, domain.CompletionRequest{
		History:      history,
		StoreContext: s.storeInfo,
	})
	if err != nil {
		s.logger.Error("completion failed", "sessionId", in.SessionID, "op", "complete", "err", err)
		return ChatOutput{}, completionError(err)
	}

	msgID, err := s.persistAssistantTurn(ctx, in.SessionID, result.Content)
	if err != nil {
		return ChatOutput{}, err
	}

	return ChatOutput{
		MessageID:  msgID,
		Content:    result.Content,
		TokensUsed: result.TokensUsed,
	}, nil
}

// History returns the most recent messages for a session in ascending
// timestamp order. A non-positive limit falls back to the default.
func (s *ChatService) History(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, newError(ErrorInvalidRequest, "missing_session_id", nil)
	}
	if limit <= 0 {
		limit = defaultFetchLimit
	}
	msgs, err := s.store.FetchRecent(ctx, sessionID, limit)
	if err != nil {
		s.logger.Error("history fetch failed", "sessionId", sessionID, "op", "fetch_history", "err", err)
		return nil, newError(ErrorStoreUnavailable, "fetch_history", err)
	}
	return msgs, nil
}

// SaveMessage persists a client-authored message of any kind (voice, file,
// image and product messages included).
func (s *ChatService) SaveMessage(ctx context.Context, sessionID string, msg domain.Message) (string, error) {
	if strings.TrimSpace(sessionID) == "" {
		return "", newError(ErrorInvalidRequest, "missing_session_id", nil)
	}
	if err := validateMessage(msg); err != nil {
		return "", err
	}

	id, err := s.store.AppendMessage(ctx, sessionID, msg)
	if err != nil {
		s.logger.Error("message append failed", "sessionId", sessionID, "op", "append_message", "err", err)
		return "", newError(ErrorStoreUnavailable, "append_message", err)
	}
	s.updateMeta(ctx, sessionID, msg.Content)
	return id, nil
}

// UpdateMessage applies an administrative update to one message.
func (s *ChatService) UpdateMessage(ctx context.Context, sessionID, messageID string, updates map[string]any) error {
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(messageID) == "" {
		return newError(ErrorInvalidRequest, "missing_session_or_message_id", nil)
	}
	if len(updates) == 0 {
		return newError(ErrorInvalidRequest, "missing_updates", nil)
	}
	if err := s.store.UpdateMessage(ctx, sessionID, messageID, updates); err != nil {
		s.logger.Error("message update failed", "sessionId", sessionID, "messageId", messageID, "op", "update_message", "err", err)
		return newError(ErrorStoreUnavailable, "update_message", err)
	}
	return nil
}

// DeleteMessage removes one message from a conversation.
func (s *ChatService) DeleteMessage(ctx context.Context, sessionID, messageID string) error {
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(messageID) == "" {
		return newError(ErrorInvalidRequest, "missing_session_or_message_id", nil)
	}
	if err := s.store.DeleteMessage(ctx, sessionID, messageID); err != nil {
		s.logger.Error("message delete failed", "sessionId", sessionID, "messageId", messageID, "op", "delete_message", "err", err)
		return newError(ErrorStoreUnavailable, "delete_message", err)
	}
	return nil
}

// persistUserTurnAndLoadHistory appends the inbound user message and then
// fetches the bounded history. The append completes before the read so the
// just-written message is part of the returned window.
func (s *ChatService) persistUserTurnAndLoadHistory(ctx context.Context, in ChatInput) ([]domain.Message, error) {
	userMsg := domain.Message{
		Kind:    domain.KindText,
		Content: in.Message,
		Sender:  domain.SenderUser,
	}
	if _, err := s.store.AppendMessage(ctx, in.SessionID, userMsg); err != nil {
		s.logger.Error("user message append failed", "sessionId", in.SessionID, "op", "append_user_message", "err", err)
		return nil, newError(ErrorStoreUnavailable, "append_user_message", err)
	}
	s.updateMeta(ctx, in.SessionID, in.Message)

	history, err := s.store.FetchRecent(ctx, in.SessionID, s.historyWindow)
	if err != nil {
		s.logger.Error("history fetch failed", "sessionId", in.SessionID, "op", "fetch_history", "err", err)
		return nil, newError(ErrorStoreUnavailable, "fetch_history", err)
	}
	return history, nil
}

func (s *ChatService) persistAssistantTurn(ctx context.Context, sessionID, content string) (string, error) {
	msgID, err := s.store.AppendMessage(ctx, sessionID, domain.Message{
		Kind:    domain.KindText,
		Content: content,
		Sender:  domain.SenderAssistant,
	})
	if err != nil {
		s.logger.Error("assistant message append failed", "sessionId", sessionID, "op", "append_assistant_message", "err", err)
		return "", newError(ErrorStoreUnavailable, "append_assistant_message", err)
	}
	s.updateMeta(ctx, sessionID, content)
	return msgID, nil
}

// updateMeta merges the conversation preview fields after an append. The
// two writes are not transactional: a failure here leaves metadata stale
// but messages intact, which is acceptable, so the error is only logged.
func (s *ChatService) updateMeta(ctx context.Context, sessionID, lastMessage string) {
	now := time.Now().UTC()
	err := s.store.UpsertMeta(ctx, sessionID, domain.MetaUpdate{
		LastMessage:       &lastMessage,
		LastMessageTime:   &now,
		MessageCountDelta: 1,
	})
	if err != nil {
		s.logger.Error("metadata upsert failed", "sessionId", sessionID, "op", "upsert_meta", "err", err)
	}
}

func validateChatInput(in ChatInput) error {
	if strings.TrimSpace(in.SessionID) == "" {
		return newError(ErrorInvalidRequest, "missing_session_id", nil)
	}
	if strings.TrimSpace(in.Message) == "" {
		return newError(ErrorInvalidRequest, "missing_message", nil)
	}
	return nil
}

func validateMessage(msg domain.Message) error {
	switch msg.Kind {
	case domain.KindText, domain.KindVoice, domain.KindFile, domain.KindImage, domain.KindProduct:
	default:
		return newError(ErrorInvalidRequest, "invalid_message_type", nil)
	}
	if strings.TrimSpace(msg.Content) == "" {
		return newError(ErrorInvalidRequest, "missing_message_content", nil)
	}
	if msg.Sender != domain.SenderUser && msg.Sender != domain.SenderAssistant {
		return newError(ErrorInvalidRequest, "invalid_message_sender", nil)
	}
	return nil
}

// completionError maps a provider failure to the error taxonomy: HTTP 429
// becomes RATE_LIMITED, everything else COMPLETION_FAILED.
func completionError(err error) error {
	if status, ok := upstreamStatusCode(err); ok && status == http.StatusTooManyRequests {
		return newError(ErrorRateLimited, "provider_rate_limited", err)
	}
	return newError(ErrorCompletionFailed, "provider_error", err)
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
