// Package preferences holds the client-side copy of the user's preference
// record. The session coordinator reads the system prompt from it.
package preferences

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-workspace/internal/backend"
	"github.com/capitalize-ai/chat-workspace/internal/model"
	"github.com/capitalize-ai/chat-workspace/internal/state"
	"github.com/capitalize-ai/chat-workspace/pkg/logger"
)

// State is the store's observable state.
type State struct {
	Preferences model.Preferences
	Loaded      bool
	Error       string
}

// Store fetches and saves preferences through the backend.
type Store struct {
	commands backend.Commands
	logger   *logger.Logger
	store    *state.Store[State]
}

// New creates a preferences store.
func New(commands backend.Commands, log *logger.Logger) *Store {
	return &Store{
		commands: commands,
		logger:   logger.OrGlobal(log).Named("preferences"),
		store:    state.New(State{}),
	}
}

// Snapshot returns the current state.
func (s *Store) Snapshot() State {
	return s.store.Get()
}

// Subscribe registers fn for state changes.
func (s *Store) Subscribe(fn func(State)) (unsubscribe func()) {
	return s.store.Subscribe(fn)
}

// SystemPrompt returns the active system prompt, or "" when none is set.
func (s *Store) SystemPrompt() string {
	return s.store.Get().Preferences.SystemPrompt
}

// Fetch loads preferences from the backend.
func (s *Store) Fetch(ctx context.Context) error {
	prefs, err := s.commands.GetPreferences(ctx)
	if err != nil {
		return s.fail("fetch", err)
	}
	s.store.Set(State{Preferences: *prefs, Loaded: true})
	return nil
}

// Save persists prefs. The system prompt is trimmed and an empty one clears it.
func (s *Store) Save(ctx context.Context, prefs model.Preferences) error {
	prefs.SystemPrompt = strings.TrimSpace(prefs.SystemPrompt)
	if err := s.commands.SavePreferences(ctx, &prefs); err != nil {
		return s.fail("save", err)
	}
	s.logger.Debug("preferences saved", zap.Bool("system_prompt", prefs.SystemPrompt != ""))
	s.store.Set(State{Preferences: prefs, Loaded: true})
	return nil
}

func (s *Store) fail(op string, err error) error {
	s.logger.Warn("preferences request failed", zap.String("operation", op), zap.Error(err))
	s.store.Update(func(st State) State {
		st.Error = err.Error()
		return st
	})
	return fmt.Errorf("failed to %s preferences: %w", op, err)
}
