package cmd

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatwrap/chat"
	"chatwrap/config"
	"chatwrap/model"
	ptest "chatwrap/provider/testutil"
	"chatwrap/storage"
)

// testApp wires an app against memory storage and a mock provider.
func testApp(t *testing.T, mock *ptest.MockProvider) *app {
	t.Helper()
	ctx := context.Background()
	kv := storage.NewMemoryKV()
	a := &app{cfg: config.DefaultConfig(), log: zerolog.Nop(), kv: kv, provider: mock}
	require.NoError(t, a.loadPlugins(ctx))

	a.store = chat.NewStore(mock, kv, chat.WithHooks(a.plugins))
	_, err := a.store.Init(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { a.store.Close(ctx) })
	return a
}

func runScript(t *testing.T, r *repl, lines ...string) string {
	t.Helper()
	var out bytes.Buffer
	r.out = &out
	require.NoError(t, r.run(context.Background(), strings.NewReader(strings.Join(lines, "\n")+"\n")))
	return out.String()
}

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		input    string
		wantName string
		wantArg  string
		wantOK   bool
	}{
		{"/help", "help", "", true},
		{"/SET temperature 0.5", "set", "temperature 0.5", true},
		{"/new   My thread ", "new", "My thread", true},
		{"hello /help", "", "", false},
		{"/", "", "", false},
		{"plain text", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			name, arg, ok := splitCommand(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantArg, arg)
		})
	}
}

func TestParseSetting(t *testing.T) {
	tests := []struct {
		name    string
		arg     string
		check   func(t *testing.T, p model.SettingsPatch)
		wantErr bool
	}{
		{
			name: "temperature",
			arg:  "temperature 0",
			check: func(t *testing.T, p model.SettingsPatch) {
				require.NotNil(t, p.Temperature)
				assert.Equal(t, 0.0, *p.Temperature)
			},
		},
		{
			name: "system prompt keeps spaces",
			arg:  "system_prompt Be brief and kind.",
			check: func(t *testing.T, p model.SettingsPatch) {
				require.NotNil(t, p.SystemPrompt)
				assert.Equal(t, "Be brief and kind.", *p.SystemPrompt)
			},
		},
		{
			name: "hyphenated key",
			arg:  "context-window 5",
			check: func(t *testing.T, p model.SettingsPatch) {
				require.NotNil(t, p.ContextWindow)
				assert.Equal(t, 5, *p.ContextWindow)
			},
		},
		{
			name: "auto save",
			arg:  "autosave false",
			check: func(t *testing.T, p model.SettingsPatch) {
				require.NotNil(t, p.AutoSave)
				assert.False(t, *p.AutoSave)
			},
		},
		{name: "missing value", arg: "temperature", wantErr: true},
		{name: "bad number", arg: "max_tokens lots", wantErr: true},
		{name: "unknown key", arg: "volume 11", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := parseSetting(tt.arg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, p)
		})
	}
}

func TestREPLConversation(t *testing.T) {
	mock := ptest.NewMockProvider("Hello back")
	a := testApp(t, mock)
	r := newREPL(a, nil)
	r.stream = false
	var copied string
	r.copy = func(s string) error {
		copied = s
		return nil
	}

	out := runScript(t, r,
		"Hello",
		"/copy",
		"/threads",
		"/new Side",
		"/switch 1",
		"/history",
		"/set temperature 0.2",
		"/quit",
		"never sent",
	)

	assert.Contains(t, out, "Hello back")
	assert.Equal(t, "Hello back", copied)
	assert.Contains(t, out, `Started thread "Side"`)
	assert.Contains(t, out, `Switched to "Hello"`)
	assert.Contains(t, out, "Settings updated")

	require.Len(t, mock.Requests(), 1, "lines after /quit are not read")
	assert.Equal(t, 0.2, a.store.Session().Settings.Temperature)
	thread, _ := a.store.ActiveThread()
	assert.Equal(t, "Hello", thread.Title)
}

func TestREPLStreamsAndContinuesLines(t *testing.T) {
	mock := ptest.NewMockProvider("")
	mock.StreamFunc = func(_ context.Context, req model.ChatRequest, h model.StreamHandler) {
		h.OnChunk("one ")
		h.OnChunk("two")
		h.OnComplete("one two")
	}
	a := testApp(t, mock)
	r := newREPL(a, nil)

	out := runScript(t, r, `first line\`, "second line")

	assert.Contains(t, out, "one two")
	sent := mock.LastRequest().Messages
	require.Len(t, sent, 1)
	assert.Equal(t, "first line\nsecond line", sent[0].Content)
}

func TestREPLTemplateExpansion(t *testing.T) {
	mock := ptest.NewMockProvider("Recursion is...")
	a := testApp(t, mock)
	require.NoError(t, a.plugins.Enable(context.Background(), "prompt-templates"))
	r := newREPL(a, nil)
	r.stream = false

	out := runScript(t, r, "/templates explain", "/template explain-concept concept=recursion level=beginner")

	assert.Contains(t, out, "explain-concept")
	sent := mock.LastRequest().Messages
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Content, "Explain recursion at a beginner level.")
}

func TestREPLReportsErrorsAndContinues(t *testing.T) {
	mock := ptest.NewMockProvider("")
	mock.SendFunc = func(context.Context, model.ChatRequest) (*model.ChatResponse, error) {
		return nil, errors.New("service unavailable")
	}
	a := testApp(t, mock)
	r := newREPL(a, nil)
	r.stream = false

	out := runScript(t, r, "Hello", "/switch 9", "/set temperature 3", "/edit 1 Hi again", "/history")

	assert.Contains(t, out, "service unavailable")
	assert.Contains(t, out, "no thread 9")
	assert.Contains(t, out, "invalid settings")
	assert.Contains(t, out, "Hi again")
	thread, _ := a.store.ActiveThread()
	require.Len(t, thread.Messages, 1)
	assert.Equal(t, "Hi again", thread.Messages[0].Content)
}

func TestREPLRegenerate(t *testing.T) {
	mock := ptest.NewMockProvider("first")
	a := testApp(t, mock)
	r := newREPL(a, nil)
	r.stream = false

	out := runScript(t, r, "/regen", "Question")
	assert.Contains(t, out, "Nothing to regenerate")

	mock.SendFunc = func(context.Context, model.ChatRequest) (*model.ChatResponse, error) {
		return &model.ChatResponse{Content: "second"}, nil
	}
	out = runScript(t, r, "/regen")
	assert.Contains(t, out, "second")

	thread, _ := a.store.ActiveThread()
	require.Len(t, thread.Messages, 2)
	assert.Equal(t, "second", thread.Messages[1].Content)
}

func TestREPLPluginCommands(t *testing.T) {
	a := testApp(t, ptest.NewMockProvider("ok"))
	r := newREPL(a, nil)

	out := runScript(t, r,
		"/plugin enable auto-translator",
		"/plugin set auto-translator targetLanguage ja",
		"/plugins",
		"/plugin disable auto-translator",
		"/plugin enable nope",
	)

	assert.Contains(t, out, "Enabled auto-translator")
	assert.Contains(t, out, "Updated auto-translator.targetLanguage")
	assert.Contains(t, out, "prompt-templates")
	assert.Contains(t, out, "Disabled auto-translator")
	assert.Contains(t, out, "Error:")
	assert.False(t, a.plugins.IsEnabled("auto-translator"))
	assert.Equal(t, "ja", a.plugins.Settings("auto-translator")["targetLanguage"])
}

func TestRenderMarkdown(t *testing.T) {
	out := renderMarkdown("# Title\n\nSome **bold** text and `code`.", 60)
	assert.Contains(t, out, "Title")
	assert.Contains(t, out, "bold")
	assert.Contains(t, out, "code")
	assert.NotContains(t, out, "**")
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "a b c", preview("a\n b\t c", 20))
	assert.Equal(t, "abcd...", preview("abcdefghij", 7))
}
