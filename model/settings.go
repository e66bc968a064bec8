package model

import (
	"errors"
	"fmt"
)

// ErrInvalidSettings is wrapped by every settings validation failure.
var ErrInvalidSettings = errors.New("invalid settings")

// Known model identifiers for the default Model API.
const (
	ModelClaudeSonnet = "claude-3-5-sonnet-20241022"
	ModelClaudeOpus   = "claude-3-opus-20240229"
	ModelClaudeHaiku  = "claude-3-haiku-20240307"
)

// Theme values accepted by Settings.Theme.
const (
	ThemeLight = "light"
	ThemeDark  = "dark"
	ThemeAuto  = "auto"
)

// Settings control how a session talks to the model.
type Settings struct {
	Model         string  `json:"model" yaml:"model" toml:"model"`
	Temperature   float64 `json:"temperature" yaml:"temperature" toml:"temperature"`
	MaxTokens     int     `json:"maxTokens" yaml:"maxTokens" toml:"max_tokens"`
	SystemPrompt  string  `json:"systemPrompt" yaml:"systemPrompt" toml:"system_prompt"`
	Language      string  `json:"language" yaml:"language" toml:"language"`
	Theme         string  `json:"theme" yaml:"theme" toml:"theme"`
	TypingSpeed   int     `json:"typingSpeed" yaml:"typingSpeed" toml:"typing_speed"`
	AutoSave      bool    `json:"autoSave" yaml:"autoSave" toml:"auto_save"`
	ContextWindow int     `json:"contextWindow" yaml:"contextWindow" toml:"context_window"`
}

// DefaultSettings returns the settings a fresh session starts with.
func DefaultSettings() Settings {
	return Settings{
		Model:         ModelClaudeSonnet,
		Temperature:   0.7,
		MaxTokens:     4000,
		SystemPrompt:  "You are a helpful AI assistant.",
		Language:      "en",
		Theme:         ThemeAuto,
		TypingSpeed:   50,
		AutoSave:      true,
		ContextWindow: 20,
	}
}

// Validate enforces the documented ranges.
func (s Settings) Validate() error {
	switch {
	case s.Model == "":
		return fmt.Errorf("%w: model is required", ErrInvalidSettings)
	case s.Temperature < 0 || s.Temperature > 1:
		return fmt.Errorf("%w: temperature %v outside [0,1]", ErrInvalidSettings, s.Temperature)
	case s.MaxTokens <= 0:
		return fmt.Errorf("%w: maxTokens must be positive, got %d", ErrInvalidSettings, s.MaxTokens)
	case s.ContextWindow < 1:
		return fmt.Errorf("%w: contextWindow must be at least 1, got %d", ErrInvalidSettings, s.ContextWindow)
	case s.TypingSpeed < 0:
		return fmt.Errorf("%w: typingSpeed must not be negative", ErrInvalidSettings)
	}
	switch s.Theme {
	case ThemeLight, ThemeDark, ThemeAuto:
	default:
		return fmt.Errorf("%w: unknown theme %q", ErrInvalidSettings, s.Theme)
	}
	return nil
}

// SettingsPatch is a partial update; nil fields are left untouched.
type SettingsPatch struct {
	Model         *string  `json:"model,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	MaxTokens     *int     `json:"maxTokens,omitempty"`
	SystemPrompt  *string  `json:"systemPrompt,omitempty"`
	Language      *string  `json:"language,omitempty"`
	Theme         *string  `json:"theme,omitempty"`
	TypingSpeed   *int     `json:"typingSpeed,omitempty"`
	AutoSave      *bool    `json:"autoSave,omitempty"`
	ContextWindow *int     `json:"contextWindow,omitempty"`
}

// Apply returns s with the patch merged in. The result is not validated.
func (p SettingsPatch) Apply(s Settings) Settings {
	if p.Model != nil {
		s.Model = *p.Model
	}
	if p.Temperature != nil {
		s.Temperature = *p.Temperature
	}
	if p.MaxTokens != nil {
		s.MaxTokens = *p.MaxTokens
	}
	if p.SystemPrompt != nil {
		s.SystemPrompt = *p.SystemPrompt
	}
	if p.Language != nil {
		s.Language = *p.Language
	}
	if p.Theme != nil {
		s.Theme = *p.Theme
	}
	if p.TypingSpeed != nil {
		s.TypingSpeed = *p.TypingSpeed
	}
	if p.AutoSave != nil {
		s.AutoSave = *p.AutoSave
	}
	if p.ContextWindow != nil {
		s.ContextWindow = *p.ContextWindow
	}
	return s
}

// IsEmpty reports whether the patch changes nothing.
func (p SettingsPatch) IsEmpty() bool {
	return p == SettingsPatch{}
}

// SendOptions override session settings for a single send.
type SendOptions struct {
	ParentID     string
	Temperature  *float64
	MaxTokens    *int
	SystemPrompt *string
}

// Validate checks the overrides that are set against the Settings ranges.
func (o SendOptions) Validate() error {
	if o.Temperature != nil && (*o.Temperature < 0 || *o.Temperature > 1) {
		return fmt.Errorf("%w: temperature %v outside [0,1]", ErrInvalidSettings, *o.Temperature)
	}
	if o.MaxTokens != nil && *o.MaxTokens <= 0 {
		return fmt.Errorf("%w: maxTokens must be positive, got %d", ErrInvalidSettings, *o.MaxTokens)
	}
	return nil
}

// Effective merges per-call overrides over the session settings.
func (o SendOptions) Effective(s Settings) Settings {
	if o.Temperature != nil {
		s.Temperature = *o.Temperature
	}
	if o.MaxTokens != nil {
		s.MaxTokens = *o.MaxTokens
	}
	if o.SystemPrompt != nil {
		s.SystemPrompt = *o.SystemPrompt
	}
	return s
}
