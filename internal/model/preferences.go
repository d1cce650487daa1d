package model

// Preferences is the user's preference record. Only SystemPrompt is
// interpreted by the workspace; the rest is carried opaquely for the UI.
type Preferences struct {
	Language     string `json:"language,omitempty"`
	ThemeMode    string `json:"theme_mode,omitempty"`
	ThemePreset  string `json:"theme_preset,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
}
