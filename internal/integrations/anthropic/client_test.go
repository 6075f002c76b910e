package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"storechat/internal/domain"
)

func testStore() domain.StoreInfo {
	return domain.StoreInfo{
		Name:        "WooCommerce TalkAI Store",
		Description: "Your friendly e-commerce shopping assistant",
		Hours:       "Monday-Friday: 9AM-6PM",
		Locations:   []string{"Online Store"},
		Policies: map[string]string{
			"returns":  "30-day return policy for unused items",
			"shipping": "Free shipping on orders over $50",
		},
	}
}

func textHistory(contents ...string) []domain.Message {
	msgs := make([]domain.Message, 0, len(contents))
	sender := domain.SenderUser
	for _, c := range contents {
		msgs = append(msgs, domain.Message{Kind: domain.KindText, Content: c, Sender: sender})
		if sender == domain.SenderUser {
			sender = domain.SenderAssistant
		} else {
			sender = domain.SenderUser
		}
	}
	return msgs
}

func TestNewClient_EmptyKey(t *testing.T) {
	_, err := NewClient("  ")
	require.Error(t, err)
}

func TestComplete_HappyPath(t *testing.T) {
	var gotReq messagesRequest
	var gotHeader http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotReq))
		_ = json.NewEncoder(w).Encode(messagesResponse{
			Model:   "claude-3-5-sonnet-20241022",
			Content: []contentBlock{{Type: "text", Text: "We're open "}, {Type: "text", Text: "9-6 weekdays."}},
			Usage:   usage{InputTokens: 40, OutputTokens: 12},
		})
	}))
	defer srv.Close()

	c, err := NewClient("sk-test", WithBaseURL(srv.URL))
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), domain.CompletionRequest{
		History:      textHistory("What are your store hours?"),
		StoreContext: testStore(),
	})
	require.NoError(t, err)
	require.Equal(t, "We're open 9-6 weekdays.", out.Content)
	require.Equal(t, "claude-3-5-sonnet-20241022", out.Model)
	require.Equal(t, 52, out.TokensUsed)

	require.Equal(t, "sk-test", gotHeader.Get("X-Api-Key"))
	require.Equal(t, DefaultAPIVersion, gotHeader.Get("anthropic-version"))
	require.Equal(t, DefaultModel, gotReq.Model)
	require.Equal(t, DefaultMaxTokens, gotReq.MaxTokens)
	require.False(t, gotReq.Stream)
	require.Contains(t, gotReq.System, "WooCommerce TalkAI Store")
	require.Len(t, gotReq.Messages, 1)
	require.Equal(t, "user", gotReq.Messages[0].Role)
}

func TestComplete_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"type":"rate_limit_error"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := NewClient("sk-test", WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), domain.CompletionRequest{
		History:      textHistory("hi"),
		StoreContext: testStore(),
	})
	require.Error(t, err)
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusTooManyRequests, statusErr.HTTPStatusCode())
}

func TestComplete_EmptyHistory(t *testing.T) {
	c, err := NewClient("sk-test")
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), domain.CompletionRequest{StoreContext: testStore()})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no text messages")
}

func sseBody(events ...string) string {
	var out string
	for _, e := range events {
		out += "data: " + e + "\n\n"
	}
	return out
}

func TestCompleteStream_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req messagesRequest
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &req))
		require.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, sseBody(
			`{"type":"message_start","message":{"model":"claude-3-5-sonnet-20241022","usage":{"input_tokens":40}}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"We're open "}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"9-6 "}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"weekdays."}}`,
			`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":12}}`,
			`{"type":"message_stop"}`,
		))
	}))
	defer srv.Close()

	c, err := NewClient("sk-test", WithBaseURL(srv.URL))
	require.NoError(t, err)

	var chunks []string
	out, err := c.CompleteStream(context.Background(), domain.CompletionRequest{
		History:      textHistory("What are your store hours?"),
		StoreContext: testStore(),
	}, func(chunk string) {
		chunks = append(chunks, chunk)
	})
	require.NoError(t, err)
	require.Equal(t, []string{"We're open ", "9-6 ", "weekdays."}, chunks)
	require.Equal(t, "We're open 9-6 weekdays.", out.Content)
	require.Equal(t, 52, out.TokensUsed)
	require.Equal(t, "claude-3-5-sonnet-20241022", out.Model)
}

func TestCompleteStream_ErrorEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, sseBody(
			`{"type":"message_start","message":{"usage":{"input_tokens":5}}}`,
			`{"type":"content_block_delta","delta":{"type":"text_delta","text":"partial"}}`,
			`{"type":"error","error":{"type":"overloaded_error","message":"overloaded"}}`,
		))
	}))
	defer srv.Close()

	c, err := NewClient("sk-test", WithBaseURL(srv.URL))
	require.NoError(t, err)

	var chunks []string
	_, err = c.CompleteStream(context.Background(), domain.CompletionRequest{
		History:      textHistory("hi"),
		StoreContext: testStore(),
	}, func(chunk string) { chunks = append(chunks, chunk) })
	require.Error(t, err)
	require.Contains(t, err.Error(), "overloaded")
	// Fragments already delivered are not retracted.
	require.Equal(t, []string{"partial"}, chunks)
}

func TestCompleteStream_TruncatedStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, sseBody(
			`{"type":"message_start","message":{"usage":{"input_tokens":5}}}`,
			`{"type":"content_block_delta","delta":{"type":"text_delta","text":"cut "}}`,
		))
	}))
	defer srv.Close()

	c, err := NewClient("sk-test", WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = c.CompleteStream(context.Background(), domain.CompletionRequest{
		History:      textHistory("hi"),
		StoreContext: testStore(),
	}, func(string) {})
	require.Error(t, err)
	require.Contains(t, err.Error(), "message_stop")
}

func TestCompleteStream_NilCallback(t *testing.T) {
	c, err := NewClient("sk-test")
	require.NoError(t, err)
	_, err = c.CompleteStream(context.Background(), domain.CompletionRequest{
		History:      textHistory("hi"),
		StoreContext: testStore(),
	}, nil)
	require.Error(t, err)
}

func TestCompleteStream_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	c, err := NewClient("sk-test", WithBaseURL(srv.URL), WithTimeout(50*time.Millisecond))
	require.NoError(t, err)

	_, err = c.CompleteStream(context.Background(), domain.CompletionRequest{
		History:      textHistory("hi"),
		StoreContext: testStore(),
	}, func(string) {})
	require.Error(t, err)
}

func TestBuildSystemPrompt_Sections(t *testing.T) {
	prompt := buildSystemPrompt(testStore(), []domain.Product{
		{Title: "Wireless Bluetooth Headphones", Price: "$89.99", Rating: 4.8, Reviews: 2156},
	})
	require.Contains(t, prompt, "shopping assistant")
	require.Contains(t, prompt, "## Store Information:")
	require.Contains(t, prompt, "Name: WooCommerce TalkAI Store")
	require.Contains(t, prompt, "Hours: Monday-Friday: 9AM-6PM")
	require.Contains(t, prompt, "## Store Policies:")
	require.Contains(t, prompt, "returns: 30-day return policy for unused items")
	require.Contains(t, prompt, "## Relevant Products for this conversation:")
	require.Contains(t, prompt, "- Wireless Bluetooth Headphones")
	require.Contains(t, prompt, "Rating: 4.8/5 (2156 reviews)")
}

func TestBuildSystemPrompt_NoProductsSection(t *testing.T) {
	prompt := buildSystemPrompt(testStore(), nil)
	require.NotContains(t, prompt, "Relevant Products")
}

func TestFormatMessages_FiltersAndMaps(t *testing.T) {
	history := []domain.Message{
		{Kind: domain.KindText, Content: "hello", Sender: domain.SenderUser},
		{Kind: domain.KindVoice, Content: "voice note", Sender: domain.SenderUser, Duration: 4},
		{Kind: domain.KindText, Content: "hi there", Sender: domain.SenderAssistant},
		{Kind: domain.KindText, Content: "failed turn", Sender: domain.SenderUser, Error: true},
		{Kind: domain.KindProduct, Content: "a product", Sender: domain.SenderAssistant},
		{Kind: domain.KindText, Content: "store hours?", Sender: domain.SenderUser},
	}

	out := formatMessages(history)
	require.Len(t, out, 3)
	require.Equal(t, domain.ChatMessage{Role: "user", Content: "hello"}, out[0])
	require.Equal(t, domain.ChatMessage{Role: "assistant", Content: "hi there"}, out[1])
	require.Equal(t, domain.ChatMessage{Role: "user", Content: "store hours?"}, out[2])
}

func TestFormatMessages_MergesConsecutiveRoles(t *testing.T) {
	history := []domain.Message{
		{Kind: domain.KindText, Content: "first", Sender: domain.SenderUser},
		{Kind: domain.KindText, Content: "second", Sender: domain.SenderUser},
	}
	out := formatMessages(history)
	require.Len(t, out, 1)
	require.Equal(t, "first\nsecond", out[0].Content)
}
