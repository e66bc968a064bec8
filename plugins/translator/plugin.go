// Package translator is the automatic translation plugin. It detects the
// language of outgoing and incoming messages and rewrites them into the
// configured target language.
package translator

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"chatwrap/model"
	"chatwrap/plugin"
)

const PluginID = "auto-translator"

// Metadata keys attached to translated assistant messages.
const (
	MetaOriginalContent    = "originalContent"
	MetaOriginalLanguage   = "originalLanguage"
	MetaTranslatedLanguage = "translatedLanguage"
)

// Plugin implements the before-send and after-receive hooks.
type Plugin struct {
	translator Translator
	log        zerolog.Logger

	mu       sync.RWMutex
	settings plugin.Settings
}

func New(t Translator, log zerolog.Logger) *Plugin {
	p := &Plugin{translator: t, log: log.With().Str("plugin", PluginID).Logger()}
	p.settings = p.Manifest().Defaults()
	return p
}

func (p *Plugin) Manifest() plugin.Manifest {
	options := make([]plugin.Option, 0, len(SupportedLanguages))
	for _, l := range Languages() {
		options = append(options, plugin.Option{Label: l.Name, Value: l.Code})
	}
	return plugin.Manifest{
		ID:          PluginID,
		Name:        "Auto Translator",
		Version:     "1.0.0",
		Description: "Automatically translate messages between languages",
		Author:      "chatwrap",
		Permissions: []plugin.Permission{plugin.PermReadMessages, plugin.PermModifyMessages, plugin.PermNetworkAccess},
		Settings: []plugin.SettingSpec{
			{Key: "autoDetect", Name: "Auto Detect Language", Type: plugin.SettingBoolean, Default: true,
				Description: "Automatically detect message language"},
			{Key: "targetLanguage", Name: "Target Language", Type: plugin.SettingSelect, Default: "ko", Options: options,
				Description: "Language to translate to"},
			{Key: "translateUserMessages", Name: "Translate User Messages", Type: plugin.SettingBoolean, Default: false,
				Description: "Translate user messages to target language"},
			{Key: "translateAssistantMessages", Name: "Translate Assistant Messages", Type: plugin.SettingBoolean, Default: true,
				Description: "Translate assistant messages to target language"},
			{Key: "showOriginal", Name: "Show Original Text", Type: plugin.SettingBoolean, Default: true,
				Description: "Show original text alongside translation"},
		},
	}
}

func (p *Plugin) Configure(s plugin.Settings) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settings = s
}

func (p *Plugin) snapshot() plugin.Settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settings
}

// sourceLanguage is the detected language, or the session language when
// detection is off.
func sourceLanguage(s plugin.Settings, text string, pc plugin.Context) string {
	if s.Bool("autoDetect", true) {
		return DetectLanguage(text)
	}
	if pc.Settings.Language != "" {
		return pc.Settings.Language
	}
	return "en"
}

func formatWithOriginal(translation, from, original string) string {
	return fmt.Sprintf("%s\n\n---\n*Original (%s):* %s", translation, from, original)
}

func (p *Plugin) BeforeSendMessage(ctx context.Context, content string, pc plugin.Context) (string, bool, error) {
	s := p.snapshot()
	if !s.Bool("translateUserMessages", false) {
		return "", false, nil
	}

	target := s.String("targetLanguage", "ko")
	from := sourceLanguage(s, content, pc)
	if from == target {
		return "", false, nil
	}

	translation, err := p.translator.Translate(ctx, content, from, target)
	if err != nil {
		p.log.Warn().Err(err).Str("from", from).Str("to", target).Msg("Translation failed")
		return "", false, nil
	}
	if s.Bool("showOriginal", true) {
		return formatWithOriginal(translation, from, content), true, nil
	}
	return translation, true, nil
}

func (p *Plugin) AfterReceiveMessage(ctx context.Context, msg model.Message, pc plugin.Context) (model.Message, error) {
	if msg.Role != model.RoleAssistant {
		return msg, nil
	}
	s := p.snapshot()
	if !s.Bool("translateAssistantMessages", true) {
		return msg, nil
	}

	target := s.String("targetLanguage", "ko")
	from := sourceLanguage(s, msg.Content, pc)
	if from == target {
		return msg, nil
	}

	translation, err := p.translator.Translate(ctx, msg.Content, from, target)
	if err != nil {
		p.log.Warn().Err(err).Str("from", from).Str("to", target).Msg("Translation failed")
		return msg, nil
	}

	original := msg.Content
	msg.Content = translation
	if s.Bool("showOriginal", true) {
		msg.Content = formatWithOriginal(translation, from, original)
	}
	msg.SetExtra(MetaOriginalContent, original)
	msg.SetExtra(MetaOriginalLanguage, from)
	msg.SetExtra(MetaTranslatedLanguage, target)
	return msg, nil
}

// TranslateText translates text into target on demand, detecting the
// source language.
func (p *Plugin) TranslateText(ctx context.Context, text, target string) (string, error) {
	from := DetectLanguage(text)
	if from == target {
		return text, nil
	}
	return p.translator.Translate(ctx, text, from, target)
}
