package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/chat-workspace/internal/backend"
	"github.com/capitalize-ai/chat-workspace/internal/model"
)

const (
	// ConversationsBucket holds one ConversationSummary per conversation ID.
	ConversationsBucket = "conversations"

	// PreferencesBucket holds the user's preference record.
	PreferencesBucket = "preferences"

	preferencesKey = "user"
)

// EnsureBucket returns the named KV bucket, creating it when missing.
func EnsureBucket(ctx context.Context, js jetstream.JetStream, bucket, description string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, bucket)
	if err == nil {
		return kv, nil
	}
	if !errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, fmt.Errorf("failed to look up bucket %s: %w", bucket, err)
	}

	kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: description,
		History:     1,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}
	return kv, nil
}

// ConversationStore keeps conversation summaries in a KV bucket.
type ConversationStore struct {
	kv jetstream.KeyValue
}

// NewConversationStore opens the conversations bucket.
func NewConversationStore(ctx context.Context, client *Client) (*ConversationStore, error) {
	kv, err := EnsureBucket(ctx, client.JetStream(), ConversationsBucket, "Conversation summaries")
	if err != nil {
		return nil, err
	}
	return &ConversationStore{kv: kv}, nil
}

// Get returns the conversation stored under id.
func (s *ConversationStore) Get(ctx context.Context, id string) (*model.ConversationSummary, error) {
	if !ValidID(id) {
		return nil, backend.ErrNotFound
	}
	entry, err := s.kv.Get(ctx, id)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, backend.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	var conv model.ConversationSummary
	if err := json.Unmarshal(entry.Value(), &conv); err != nil {
		return nil, fmt.Errorf("failed to decode conversation: %w", err)
	}
	return &conv, nil
}

// Put writes conv, replacing any previous value.
func (s *ConversationStore) Put(ctx context.Context, conv *model.ConversationSummary) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}
	if _, err := s.kv.Put(ctx, conv.ID, data); err != nil {
		return fmt.Errorf("failed to store conversation: %w", err)
	}
	return nil
}

// Delete removes the conversation stored under id.
func (s *ConversationStore) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.kv.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

// List returns every stored conversation in no particular order.
func (s *ConversationStore) List(ctx context.Context) ([]model.ConversationSummary, error) {
	keys, err := s.kv.Keys(ctx)
	if errors.Is(err, jetstream.ErrNoKeysFound) {
		return []model.ConversationSummary{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list conversation keys: %w", err)
	}

	convs := make([]model.ConversationSummary, 0, len(keys))
	for _, key := range keys {
		conv, err := s.Get(ctx, key)
		if errors.Is(err, backend.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		convs = append(convs, *conv)
	}
	return convs, nil
}

// PreferenceStore keeps the preference record in a KV bucket.
type PreferenceStore struct {
	kv jetstream.KeyValue
}

// NewPreferenceStore opens the preferences bucket.
func NewPreferenceStore(ctx context.Context, client *Client) (*PreferenceStore, error) {
	kv, err := EnsureBucket(ctx, client.JetStream(), PreferencesBucket, "User preferences")
	if err != nil {
		return nil, err
	}
	return &PreferenceStore{kv: kv}, nil
}

// Get returns the stored preferences, or the zero record when none were saved.
func (s *PreferenceStore) Get(ctx context.Context) (*model.Preferences, error) {
	entry, err := s.kv.Get(ctx, preferencesKey)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return &model.Preferences{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get preferences: %w", err)
	}

	var prefs model.Preferences
	if err := json.Unmarshal(entry.Value(), &prefs); err != nil {
		return nil, fmt.Errorf("failed to decode preferences: %w", err)
	}
	return &prefs, nil
}

// Put replaces the stored preferences.
func (s *PreferenceStore) Put(ctx context.Context, prefs *model.Preferences) error {
	data, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("failed to marshal preferences: %w", err)
	}
	if _, err := s.kv.Put(ctx, preferencesKey, data); err != nil {
		return fmt.Errorf("failed to store preferences: %w", err)
	}
	return nil
}
