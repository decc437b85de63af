// Package models defines data structures shared by the repochat client packages.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single entry in the conversation transcript.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Final     bool      `json:"final"`
}

// NewMessage creates a finalized message with a fresh ID.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
		Final:     true,
	}
}

// NewDraft creates an in-progress assistant message. Content grows as
// response chunks arrive; Final stays false until the stream completes.
func NewDraft() Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      RoleAssistant,
		CreatedAt: time.Now(),
	}
}
