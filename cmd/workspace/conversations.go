package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/capitalize-ai/chat-workspace/internal/model"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List conversations, pinned first then most recent",
	Args:    cobra.NoArgs,
	RunE: withSession(func(cmd *cobra.Command, args []string, s *conn) error {
		if err := s.ws.Directory.Load(cmd.Context()); err != nil {
			return err
		}

		items := s.ws.Directory.Conversations()
		if len(items) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No conversations yet. Start one with: workspace new")
			return nil
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tPIN\tTITLE\tACTIVITY\tPREVIEW")
		for _, c := range items {
			pin := ""
			if c.Pinned {
				pin = "*"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.ID, pin, c.Title, c.ActivityAt().Local().Format(time.DateTime), oneLine(c.LastMessagePreview, 48))
		}
		return tw.Flush()
	}),
}

var newCmd = &cobra.Command{
	Use:   "new [title]",
	Short: "Create a conversation",
	Args:  cobra.MaximumNArgs(1),
	RunE: withSession(func(cmd *cobra.Command, args []string, s *conn) error {
		title := ""
		if len(args) == 1 {
			title = args[0]
		}
		conv, err := s.ws.Switcher.NewChat(cmd.Context(), title)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), conv.ID)
		return nil
	}),
}

var renameCmd = &cobra.Command{
	Use:   "rename <id> <title>",
	Short: "Rename a conversation",
	Args:  cobra.ExactArgs(2),
	RunE: withSession(func(cmd *cobra.Command, args []string, s *conn) error {
		conv, err := s.ws.Directory.Rename(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s renamed to %q\n", conv.ID, conv.Title)
		return nil
	}),
}

func pinCommand(use, short string, pinned bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: withSession(func(cmd *cobra.Command, args []string, s *conn) error {
			_, err := s.ws.Directory.SetPinned(cmd.Context(), args[0], pinned)
			return err
		}),
	}
}

var removeCmd = &cobra.Command{
	Use:     "rm <id>",
	Aliases: []string{"delete"},
	Short:   "Delete a conversation and its messages",
	Args:    cobra.ExactArgs(1),
	RunE: withSession(func(cmd *cobra.Command, args []string, s *conn) error {
		return s.ws.Directory.Remove(cmd.Context(), args[0])
	}),
}

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history <id>",
	Short: "Print a conversation's messages",
	Args:  cobra.ExactArgs(1),
	RunE: withSession(func(cmd *cobra.Command, args []string, s *conn) error {
		msgs, err := s.ws.Backend.GetConversationMessages(cmd.Context(), args[0], historyLimit)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			printMessage(cmd, m)
		}
		return nil
	}),
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "print only the first n messages")

	rootCmd.AddCommand(
		listCmd,
		newCmd,
		renameCmd,
		pinCommand("pin", "Pin a conversation to the top of the list", true),
		pinCommand("unpin", "Unpin a conversation", false),
		removeCmd,
		historyCmd,
	)
}

func printMessage(cmd *cobra.Command, m model.Message) {
	fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n\n", m.Role, m.Content)
}

func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > max {
		return string(r[:max-1]) + "…"
	}
	return s
}
