package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-workspace/internal/model"
	natsclient "github.com/capitalize-ai/chat-workspace/internal/nats"
	"github.com/capitalize-ai/chat-workspace/pkg/logger"
)

// PreferencesService stores the user's preference record.
type PreferencesService struct {
	store  *natsclient.PreferenceStore
	logger *logger.Logger
}

// NewPreferencesService creates a new preferences service.
func NewPreferencesService(store *natsclient.PreferenceStore, log *logger.Logger) *PreferencesService {
	return &PreferencesService{store: store, logger: logger.OrGlobal(log).Named("preferences")}
}

// Get returns the stored preferences.
func (s *PreferencesService) Get(ctx context.Context) (*model.Preferences, error) {
	return s.store.Get(ctx)
}

// Save replaces the stored preferences.
func (s *PreferencesService) Save(ctx context.Context, prefs *model.Preferences) error {
	saved := *prefs
	saved.SystemPrompt = strings.TrimSpace(saved.SystemPrompt)
	if err := s.store.Put(ctx, &saved); err != nil {
		return err
	}
	s.logger.Debug("preferences saved", zap.String("language", saved.Language))
	return nil
}
