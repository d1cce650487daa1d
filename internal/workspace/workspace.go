// Package workspace wires the client-side units against one backend.
package workspace

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-workspace/internal/backend"
	"github.com/capitalize-ai/chat-workspace/internal/directory"
	"github.com/capitalize-ai/chat-workspace/internal/preferences"
	"github.com/capitalize-ai/chat-workspace/internal/session"
	"github.com/capitalize-ai/chat-workspace/internal/switcher"
	"github.com/capitalize-ai/chat-workspace/pkg/logger"
)

// Options configures a Workspace.
type Options struct {
	HistoryLimit int
	Now          func() time.Time
}

// Workspace owns one instance of each client-side unit.
type Workspace struct {
	Backend     backend.Backend
	Preferences *preferences.Store
	Directory   *directory.Directory
	Session     *session.Coordinator
	Switcher    *switcher.Switcher

	logger *logger.Logger
}

// New builds a workspace on b.
func New(b backend.Backend, log *logger.Logger, opts Options) *Workspace {
	log = logger.OrGlobal(log)

	prefs := preferences.New(b, log)
	dir := directory.New(b, log)
	if opts.Now != nil {
		dir.SetClock(opts.Now)
	}
	coord := session.New(b, dir, prefs, log, session.Options{
		HistoryLimit: opts.HistoryLimit,
		Now:          opts.Now,
	})

	return &Workspace{
		Backend:     b,
		Preferences: prefs,
		Directory:   dir,
		Session:     coord,
		Switcher:    switcher.New(dir, coord, log),
		logger:      log.Named("workspace"),
	}
}

// Start fetches preferences, loads the directory and selects its head.
// A preferences failure is logged and does not abort startup.
func (w *Workspace) Start(ctx context.Context) error {
	if err := w.Preferences.Fetch(ctx); err != nil {
		w.logger.Warn("continuing without preferences", zap.Error(err))
	}
	if err := w.Directory.Load(ctx); err != nil {
		return err
	}
	return w.Switcher.SelectDefault(ctx)
}
