package middleware

import (
	"errors"
	"strings"
	"unicode/utf8"

	natsclient "github.com/capitalize-ai/chat-workspace/internal/nats"
)

// Length limits for client supplied text.
const (
	MaxPromptBytes = 100000
	MaxTitleBytes  = 256
)

// ValidatePrompt validates chat prompt content.
func ValidatePrompt(content string) error {
	if strings.TrimSpace(content) == "" {
		return errors.New("content cannot be empty")
	}
	if len(content) > MaxPromptBytes {
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateConversationID validates a conversation ID. IDs become NATS subject
// tokens and KV keys, so only the characters both accept are allowed.
func ValidateConversationID(id string) error {
	if !natsclient.ValidID(id) {
		return errors.New("invalid conversation ID format")
	}
	return nil
}

// ValidateTitle validates a conversation title.
func ValidateTitle(title string) error {
	if len(title) > MaxTitleBytes {
		return errors.New("title exceeds maximum length")
	}
	if !utf8.ValidString(title) {
		return errors.New("title must be valid UTF-8")
	}
	return nil
}
