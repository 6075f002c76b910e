package domain

import "time"

// MessageKind discriminates the payload carried by a Message.
type MessageKind string

const (
	KindText    MessageKind = "text"
	KindVoice   MessageKind = "voice"
	KindFile    MessageKind = "file"
	KindImage   MessageKind = "image"
	KindProduct MessageKind = "product"
)

// Sender roles.
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
)

// Product is a recommendation card attached to a product-kind message.
type Product struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Price   string  `json:"price"`
	Image   string  `json:"image"`
	Rating  float64 `json:"rating"`
	Reviews int     `json:"reviews"`
	URL     string  `json:"url"`
}

// Message is a single persisted conversation turn. ID and Timestamp are
// assigned by the store adapter on append; messages within a conversation
// are totally ordered by Timestamp.
type Message struct {
	ID        string      `json:"id"`
	SessionID string      `json:"sessionId,omitempty"`
	Kind      MessageKind `json:"type"`
	Content   string      `json:"content"`
	Sender    string      `json:"sender"`
	Timestamp time.Time   `json:"timestamp"`

	// Kind-specific optional fields.
	Duration int      `json:"duration,omitempty"` // voice, seconds
	FileURL  string   `json:"fileUrl,omitempty"`
	FileName string   `json:"fileName,omitempty"`
	FileSize int64    `json:"fileSize,omitempty"`
	Product  *Product `json:"product,omitempty"`

	// Error marks a turn the client rendered as failed; such turns are
	// excluded from LLM context.
	Error bool `json:"error,omitempty"`
}
