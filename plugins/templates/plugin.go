// Package templates is the prompt template plugin. It expands
// "/template <id> key=value ..." commands into full prompts before they
// are sent.
package templates

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"chatwrap/plugin"
)

const PluginID = "prompt-templates"

// Plugin implements plugin.BeforeSendHook over a Catalog.
type Plugin struct {
	catalog *Catalog
	log     zerolog.Logger

	mu       sync.RWMutex
	settings plugin.Settings
}

// New creates the plugin. Custom templates are read from the catalog's
// store when the plugin is enabled.
func New(catalog *Catalog, log zerolog.Logger) *Plugin {
	p := &Plugin{catalog: catalog, log: log.With().Str("plugin", PluginID).Logger()}
	p.settings = p.Manifest().Defaults()
	return p
}

func (p *Plugin) Catalog() *Catalog {
	return p.catalog
}

func (p *Plugin) Manifest() plugin.Manifest {
	return plugin.Manifest{
		ID:          PluginID,
		Name:        "Prompt Templates",
		Version:     "1.0.0",
		Description: "Provides customizable prompt templates for common tasks",
		Author:      "chatwrap",
		Permissions: []plugin.Permission{plugin.PermReadMessages, plugin.PermModifyMessages},
		Settings: []plugin.SettingSpec{
			{
				Key:         "defaultLanguage",
				Name:        "Default Language",
				Description: "Templates in this language are suggested first",
				Type:        plugin.SettingSelect,
				Default:     "en",
				Options: []plugin.Option{
					{Label: "English", Value: "en"},
					{Label: "Korean", Value: "ko"},
					{Label: "Japanese", Value: "ja"},
					{Label: "Chinese", Value: "zh"},
				},
			},
			{
				Key:         "autoSuggest",
				Name:        "Auto Suggest Templates",
				Description: "Automatically suggest relevant templates",
				Type:        plugin.SettingBoolean,
				Default:     true,
			},
		},
	}
}

func (p *Plugin) Configure(s plugin.Settings) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settings = s
}

func (p *Plugin) Enable(ctx context.Context) error {
	return p.catalog.Load(ctx)
}

// BeforeSendMessage replaces a template command with the rendered prompt.
// Anything else, including unknown template ids, is left unchanged.
func (p *Plugin) BeforeSendMessage(_ context.Context, content string, _ plugin.Context) (string, bool, error) {
	id, params, ok := ParseCommand(content)
	if !ok {
		return "", false, nil
	}
	t, found := p.catalog.Get(id)
	if !found {
		p.log.Debug().Str("template", id).Msg("Unknown template")
		return "", false, nil
	}
	return t.Render(params), true, nil
}

// Suggest returns up to limit templates matching query. Templates in the
// configured default language come first. It returns nil when
// autoSuggest is off.
func (p *Plugin) Suggest(query string, limit int) []Template {
	p.mu.RLock()
	enabled := p.settings.Bool("autoSuggest", true)
	lang := p.settings.String("defaultLanguage", "en")
	p.mu.RUnlock()

	if !enabled || limit <= 0 {
		return nil
	}

	matches := p.catalog.Search(query)
	preferred := make([]Template, 0, len(matches))
	var rest []Template
	for _, t := range matches {
		if t.Language == lang {
			preferred = append(preferred, t)
		} else {
			rest = append(rest, t)
		}
	}
	out := append(preferred, rest...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
