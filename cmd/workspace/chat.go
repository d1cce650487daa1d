package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/capitalize-ai/chat-workspace/internal/model"
	"github.com/capitalize-ai/chat-workspace/internal/session"
)

var chatOpts struct {
	conversationID string
	newChat        bool
	title          string
}

var chatCmd = &cobra.Command{
	Use:   "chat <prompt...>",
	Short: "Send a prompt and stream the reply",
	Long: `chat sends a prompt to a conversation and prints the reply as it streams.
Without --conversation or --new the most recent conversation is used.`,
	Args: cobra.MinimumNArgs(1),
	RunE: withSession(func(cmd *cobra.Command, args []string, s *conn) error {
		ctx := cmd.Context()
		if err := s.ws.Start(ctx); err != nil {
			return err
		}

		switch {
		case chatOpts.newChat:
			if _, err := s.ws.Switcher.NewChat(ctx, chatOpts.title); err != nil {
				return err
			}
		case chatOpts.conversationID != "":
			if err := s.ws.Switcher.Select(ctx, chatOpts.conversationID); err != nil {
				return err
			}
		case s.ws.Session.ActiveConversationID() == "":
			if _, err := s.ws.Switcher.NewChat(ctx, ""); err != nil {
				return err
			}
		}

		out := cmd.OutOrStdout()
		stop := streamReply(s.ws.Session, out)
		defer stop()

		if err := s.ws.Session.Submit(ctx, strings.Join(args, " ")); err != nil {
			return err
		}
		if err := s.ws.Session.WaitIdle(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out)

		if msg := s.ws.Session.Snapshot().Error; msg != "" {
			return errors.New(msg)
		}
		return nil
	}),
}

// streamReply prints the growing content of the next assistant message in
// coord's log. The returned func stops printing.
func streamReply(coord *session.Coordinator, out io.Writer) (stop func()) {
	start := len(coord.Snapshot().Messages)
	printed := 0
	return coord.Subscribe(func(s session.Session) {
		for i := start; i < len(s.Messages); i++ {
			m := s.Messages[i]
			if m.Role != model.RoleAssistant {
				continue
			}
			if len(m.Content) > printed {
				fmt.Fprint(out, m.Content[printed:])
				printed = len(m.Content)
			}
			return
		}
	})
}

var askOpts struct {
	model string
}

var askCmd = &cobra.Command{
	Use:   "ask <prompt...>",
	Short: "One-off question without a conversation (non-streaming)",
	Args:  cobra.MinimumNArgs(1),
	RunE: withSession(func(cmd *cobra.Command, args []string, s *conn) error {
		ctx := cmd.Context()
		if err := s.ws.Preferences.Fetch(ctx); err != nil {
			s.log.Warn("continuing without preferences")
		}

		resp, err := s.ws.Backend.InvokeChat(ctx, &model.InvokeChatRequest{
			Prompt:       strings.Join(args, " "),
			Model:        askOpts.model,
			SystemPrompt: s.ws.Preferences.SystemPrompt(),
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), resp.Reply)
		return nil
	}),
}

func init() {
	chatCmd.Flags().StringVarP(&chatOpts.conversationID, "conversation", "c", "", "conversation ID to chat in")
	chatCmd.Flags().BoolVar(&chatOpts.newChat, "new", false, "start a new conversation")
	chatCmd.Flags().StringVar(&chatOpts.title, "title", "", "title for --new")
	chatCmd.MarkFlagsMutuallyExclusive("conversation", "new")

	askCmd.Flags().StringVarP(&askOpts.model, "model", "m", "", "model to use")

	rootCmd.AddCommand(chatCmd, askCmd)
}
