package templates

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatwrap/plugin"
	"chatwrap/storage"
)

func TestBeforeSendMessage(t *testing.T) {
	p := New(NewCatalog(nil), zerolog.Nop())
	ctx := context.Background()

	tests := []struct {
		name        string
		content     string
		wantChanged bool
		contains    []string
	}{
		{name: "ordinary message", content: "What is Go?", wantChanged: false},
		{name: "unknown template", content: "/template nope a=b", wantChanged: false},
		{
			name:        "code review",
			content:     "/template code-review language=go code=fmt.Println(1) includeRefactoring=false",
			wantChanged: true,
			contains:    []string{"```go\nfmt.Println(1)\n```", "Security vulnerabilities"},
		},
		{
			name:        "explain with default level",
			content:     "/template explain-concept concept=closures",
			wantChanged: true,
			contains:    []string{"Explain closures at a intermediate level.", "Use real-world examples."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, changed, err := p.BeforeSendMessage(ctx, tt.content, plugin.Context{})
			require.NoError(t, err)
			assert.Equal(t, tt.wantChanged, changed)
			for _, s := range tt.contains {
				assert.Contains(t, out, s)
			}
			if tt.name == "code review" {
				assert.NotContains(t, out, "Refactoring suggestions")
			}
		})
	}
}

func TestPluginThroughManager(t *testing.T) {
	ctx := context.Background()
	m := plugin.NewManager(nil)
	p := New(NewCatalog(nil), zerolog.Nop())
	require.NoError(t, m.Register(ctx, p))
	require.NoError(t, m.Enable(ctx, PluginID))

	out := m.ExecuteBeforeSendMessage(ctx, "/template creative-writing type=poem topic=rain", plugin.Context{})
	assert.Contains(t, out, "Write a poem.")
	assert.Contains(t, out, "Topic: rain")
	assert.Contains(t, out, "Length: medium")

	assert.Equal(t, "plain", m.ExecuteBeforeSendMessage(ctx, "plain", plugin.Context{}))
}

func TestCatalogQueries(t *testing.T) {
	c := NewCatalog(nil)

	assert.Len(t, c.All(), 3)
	assert.Len(t, c.ByCategory("development"), 1)
	assert.Len(t, c.ByTag("learning"), 1)
	assert.Empty(t, c.ByTag("missing"))

	got, ok := c.Get("explain-concept")
	require.True(t, ok)
	assert.True(t, got.Builtin)

	results := c.Search("review")
	require.NotEmpty(t, results)
	assert.Equal(t, "code-review", results[0].ID)
	assert.Len(t, c.Search(""), 3)
}

func TestCustomTemplates(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryKV()
	c := NewCatalog(kv)

	custom := Template{ID: "standup", Name: "Standup", Category: "Work", Body: "Yesterday: {{done}}", Variables: []Variable{{Name: "done"}}}
	require.NoError(t, c.AddCustom(ctx, custom))
	assert.Len(t, c.All(), 4)

	assert.ErrorIs(t, c.AddCustom(ctx, Template{ID: "code-review", Body: "x"}), ErrBuiltinTemplate)
	assert.ErrorIs(t, c.RemoveCustom(ctx, "code-review"), ErrBuiltinTemplate)
	assert.ErrorIs(t, c.RemoveCustom(ctx, "nope"), ErrTemplateNotFound)

	original, _ := c.Get("code-review")
	assert.True(t, original.Builtin)

	reloaded := NewCatalog(kv)
	require.NoError(t, reloaded.Load(ctx))
	got, ok := reloaded.Get("standup")
	require.True(t, ok)
	assert.False(t, got.Builtin)
	assert.Equal(t, "Yesterday: shipped", got.Render(map[string]string{"done": "shipped"}))

	require.NoError(t, c.RemoveCustom(ctx, "standup"))
	require.NoError(t, reloaded.Load(ctx))
	assert.Len(t, reloaded.All(), 3)
}

func TestEnableLoadsCustomTemplates(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryKV()
	require.NoError(t, NewCatalog(kv).AddCustom(ctx, Template{ID: "greet", Body: "Hello {{who}}", Variables: []Variable{{Name: "who"}}}))

	m := plugin.NewManager(nil)
	p := New(NewCatalog(kv), zerolog.Nop())
	require.NoError(t, m.Register(ctx, p))
	require.NoError(t, m.Enable(ctx, PluginID))

	assert.Equal(t, "Hello world", m.ExecuteBeforeSendMessage(ctx, "/template greet who=world", plugin.Context{}))
}

func TestSuggest(t *testing.T) {
	p := New(NewCatalog(nil), zerolog.Nop())

	assert.Len(t, p.Suggest("", 2), 2)

	p.Configure(plugin.Settings{"autoSuggest": false, "defaultLanguage": "en"})
	assert.Nil(t, p.Suggest("code", 5))
}
