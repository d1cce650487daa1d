// Package model defines data structures shared by the workspace client and backend.
package model

import (
	"time"
)

// DefaultConversationTitle is used when a conversation is created without a title.
const DefaultConversationTitle = "New chat"

// ConversationSummary is a row of the conversation directory.
type ConversationSummary struct {
	ID                 string     `json:"id"`
	Title              string     `json:"title"`
	Pinned             bool       `json:"pinned"`
	LastMessagePreview string     `json:"last_message_preview,omitempty"`
	LastMessageAt      *time.Time `json:"last_message_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// ActivityAt returns the timestamp the directory orders by:
// LastMessageAt, then UpdatedAt, then CreatedAt. Missing values yield the
// Unix epoch.
func (c ConversationSummary) ActivityAt() time.Time {
	switch {
	case c.LastMessageAt != nil && !c.LastMessageAt.IsZero():
		return *c.LastMessageAt
	case !c.UpdatedAt.IsZero():
		return c.UpdatedAt
	case !c.CreatedAt.IsZero():
		return c.CreatedAt
	default:
		return time.Unix(0, 0)
	}
}

// CreateConversationRequest is the request to create a new conversation.
type CreateConversationRequest struct {
	Title string `json:"title,omitempty"`
}

// RenameConversationRequest is the request to rename a conversation.
type RenameConversationRequest struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// PinConversationRequest is the request to pin or unpin a conversation.
type PinConversationRequest struct {
	ID     string `json:"id"`
	Pinned bool   `json:"pinned"`
}

// ConversationRef identifies a single conversation.
type ConversationRef struct {
	ID string `json:"id"`
}

// UpdateConversationRequest is the HTTP gateway's PUT body. Either field may be
// omitted.
type UpdateConversationRequest struct {
	Title  *string `json:"title,omitempty"`
	Pinned *bool   `json:"pinned,omitempty"`
}
