package domain

// ChatMessage is the provider-agnostic chat message shape used by the
// orchestrator and LLM integrations.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is one LLM invocation: the bounded conversation
// history plus the static store context and any relevant products.
type CompletionRequest struct {
	History      []Message
	StoreContext StoreInfo
	Products     []Product
}

// CompletionResult is the provider's full answer with usage accounting.
type CompletionResult struct {
	Content    string
	Model      string
	TokensUsed int
}
