package usecase

import (
	"context"

	"storechat/internal/domain"
)

// StreamEvent is one element of the streamed chat pipeline: zero or more
// chunk events followed by exactly one terminal event (Done or Err).
type StreamEvent struct {
	Chunk     string
	Done      bool
	MessageID string
	Err       error
}

// ChatStream runs the chat pipeline with streamed completion. Validation
// failures are returned synchronously so the transport can still answer
// with a plain 400; once the returned channel exists, the pipeline runs to
// completion regardless of whether the consumer keeps reading, so the
// consumer must read or drain every event. The channel is closed after the
// terminal event.
//
// The pipeline deliberately finishes the assistant persistence even when
// the client has disconnected: a completed turn in the store is preferred
// over a dangling partial record.
func (s *ChatService) ChatStream(ctx context.Context, in ChatInput) (<-chan StreamEvent, error) {
	if err := validateChatInput(in); err != nil {
		return nil, err
	}

	// Detach from the request context: a client disconnect must not cancel
	// the in-flight completion or the final persistence step.
	ctx = context.WithoutCancel(ctx)

	events := make(chan StreamEvent)
	go func() {
		defer close(events)

		history, err := s.persistUserTurnAndLoadHistory(ctx, in)
		if err != nil {
			events <- StreamEvent{Err: err}
			return
		}

		result, err := s.llm.CompleteStream(ctx, domain.CompletionRequest{
			History:      history,
			StoreContext: s.storeInfo,
		}, func(chunk string) {
			events <- StreamEvent{Chunk: chunk}
		})
		if err != nil {
			s.logger.Error("streamed completion failed", "sessionId", in.SessionID, "op", "complete_stream", "err", err)
			events <- StreamEvent{Err: completionError(err)}
			return
		}

		msgID, err := s.persistAssistantTurn(ctx, in.SessionID, result.Content)
		if err != nil {
			events <- StreamEvent{Err: err}
			return
		}

		events <- StreamEvent{Done: true, MessageID: msgID}
	}()

	return events, nil
}
