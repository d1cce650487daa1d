package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Show or change preferences",
}

var prefsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the preference record as JSON",
	Args:  cobra.NoArgs,
	RunE: withSession(func(cmd *cobra.Command, args []string, s *conn) error {
		if err := s.ws.Preferences.Fetch(cmd.Context()); err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(s.ws.Preferences.Snapshot().Preferences)
	}),
}

var prefsSetOpts struct {
	systemPrompt string
	language     string
	themeMode    string
}

var prefsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update preference fields; unset flags keep their value",
	Args:  cobra.NoArgs,
	RunE: withSession(func(cmd *cobra.Command, args []string, s *conn) error {
		ctx := cmd.Context()
		if err := s.ws.Preferences.Fetch(ctx); err != nil {
			return err
		}

		prefs := s.ws.Preferences.Snapshot().Preferences
		if cmd.Flags().Changed("system-prompt") {
			prefs.SystemPrompt = prefsSetOpts.systemPrompt
		}
		if cmd.Flags().Changed("language") {
			prefs.Language = prefsSetOpts.language
		}
		if cmd.Flags().Changed("theme") {
			prefs.ThemeMode = prefsSetOpts.themeMode
		}
		return s.ws.Preferences.Save(ctx, prefs)
	}),
}

func init() {
	prefsSetCmd.Flags().StringVar(&prefsSetOpts.systemPrompt, "system-prompt", "", "system prompt sent with every chat")
	prefsSetCmd.Flags().StringVar(&prefsSetOpts.language, "language", "", "UI language")
	prefsSetCmd.Flags().StringVar(&prefsSetOpts.themeMode, "theme", "", "theme mode (light, dark, system)")

	prefsCmd.AddCommand(prefsGetCmd, prefsSetCmd)
	rootCmd.AddCommand(prefsCmd)
}
