package domain

import "time"

// ConversationMeta stores aggregate conversation state alongside the
// message sub-collection. It is merge-updated after each append; append
// and metadata update are deliberately not transactional.
type ConversationMeta struct {
	SessionID       string            `json:"sessionId"`
	LastMessage     string            `json:"lastMessage"`
	LastMessageTime time.Time         `json:"lastMessageTime"`
	MessageCount    int               `json:"messageCount"`
	ClientContext   map[string]string `json:"clientContext,omitempty"`
}

// MetaUpdate carries the metadata fields to merge into a conversation
// document. Nil fields are left untouched; MessageCountDelta is applied
// as an increment rather than an overwrite.
type MetaUpdate struct {
	LastMessage       *string
	LastMessageTime   *time.Time
	MessageCountDelta int
	ClientContext     map[string]string
}
