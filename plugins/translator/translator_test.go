package translator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatwrap/model"
	"chatwrap/plugin"
	ptest "chatwrap/provider/testutil"
)

type fakeTranslator struct {
	out   string
	err   error
	calls []string
}

func (f *fakeTranslator) Translate(_ context.Context, text, from, to string) (string, error) {
	f.calls = append(f.calls, from+">"+to+":"+text)
	return f.out, f.err
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{text: "Hello, world", want: "en"},
		{text: "", want: "en"},
		{text: "안녕하세요", want: "ko"},
		{text: "こんにちは", want: "ja"},
		{text: "カタカナ", want: "ja"},
		{text: "日本語を話します", want: "ja"},
		{text: "你好世界", want: "zh"},
		{text: "Bonjour à tous", want: "en"},
		{text: "mixed 한국어 and 中文", want: "ko"},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectLanguage(tt.text))
		})
	}
}

func TestLanguageNames(t *testing.T) {
	assert.Equal(t, "English", LanguageName("en"))
	assert.Equal(t, "한국어", LanguageName("ko"))
	assert.Equal(t, "not a tag!", LanguageName("not a tag!"))
	assert.Len(t, Languages(), len(SupportedLanguages))
}

func TestAfterReceiveMessage(t *testing.T) {
	tests := []struct {
		name        string
		settings    plugin.Settings
		msg         model.Message
		translation string
		err         error
		wantContent string
		wantMeta    bool
	}{
		{
			name:        "translates with original",
			msg:         model.Message{Role: model.RoleAssistant, Content: "Hello"},
			translation: "안녕하세요",
			wantContent: "안녕하세요\n\n---\n*Original (en):* Hello",
			wantMeta:    true,
		},
		{
			name:        "without original",
			settings:    plugin.Settings{"showOriginal": false},
			msg:         model.Message{Role: model.RoleAssistant, Content: "Hello"},
			translation: "안녕하세요",
			wantContent: "안녕하세요",
			wantMeta:    true,
		},
		{
			name:        "already in target language",
			msg:         model.Message{Role: model.RoleAssistant, Content: "이미 한국어"},
			wantContent: "이미 한국어",
		},
		{
			name:        "user messages ignored",
			msg:         model.Message{Role: model.RoleUser, Content: "Hello"},
			wantContent: "Hello",
		},
		{
			name:        "disabled",
			settings:    plugin.Settings{"translateAssistantMessages": false},
			msg:         model.Message{Role: model.RoleAssistant, Content: "Hello"},
			wantContent: "Hello",
		},
		{
			name:        "failure leaves message unchanged",
			msg:         model.Message{Role: model.RoleAssistant, Content: "Hello"},
			err:         errors.New("offline"),
			wantContent: "Hello",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := &fakeTranslator{out: tt.translation, err: tt.err}
			p := New(ft, zerolog.Nop())
			settings := p.Manifest().Defaults()
			for k, v := range tt.settings {
				settings[k] = v
			}
			p.Configure(settings)

			out, err := p.AfterReceiveMessage(context.Background(), tt.msg, plugin.Context{})
			require.NoError(t, err)
			assert.Equal(t, tt.wantContent, out.Content)
			if tt.wantMeta {
				assert.Equal(t, "Hello", out.Extra(MetaOriginalContent))
				assert.Equal(t, "en", out.Extra(MetaOriginalLanguage))
				assert.Equal(t, "ko", out.Extra(MetaTranslatedLanguage))
			} else {
				assert.Empty(t, out.Extra(MetaOriginalContent))
			}
		})
	}
}

func TestBeforeSendMessage(t *testing.T) {
	ctx := context.Background()
	ft := &fakeTranslator{out: "Hola"}
	p := New(ft, zerolog.Nop())

	_, changed, err := p.BeforeSendMessage(ctx, "Hello", plugin.Context{})
	require.NoError(t, err)
	assert.False(t, changed, "user translation is off by default")

	p.Configure(plugin.Settings{"translateUserMessages": true, "targetLanguage": "es", "showOriginal": false, "autoDetect": false})
	out, changed, err := p.BeforeSendMessage(ctx, "안녕", plugin.Context{Settings: model.Settings{Language: "ko"}})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "Hola", out)
	assert.Equal(t, []string{"ko>es:안녕"}, ft.calls, "session language is used when detection is off")

	ft.err = errors.New("down")
	_, changed, err = p.BeforeSendMessage(ctx, "Hello", plugin.Context{})
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestPluginThroughManager(t *testing.T) {
	ctx := context.Background()
	m := plugin.NewManager(nil)
	p := New(&fakeTranslator{out: "번역"}, zerolog.Nop())
	require.NoError(t, m.Register(ctx, p))
	require.NoError(t, m.Enable(ctx, PluginID))
	assert.Equal(t, "ko", m.Settings(PluginID)["targetLanguage"], "default target")
	require.NoError(t, m.UpdateSettings(ctx, PluginID, map[string]any{"showOriginal": false}))

	msg := model.Message{ID: "a1", Role: model.RoleAssistant, Content: "translated", ThreadID: "t"}
	out := m.ExecuteAfterReceiveMessage(ctx, msg, plugin.Context{})
	assert.Equal(t, "번역", out.Content)
	assert.Equal(t, "a1", out.ID)
	assert.Equal(t, "translated", out.Extra(MetaOriginalContent))
	assert.Nil(t, msg.Metadata)

	assert.ErrorIs(t, m.UpdateSettings(ctx, PluginID, map[string]any{"targetLanguage": "xx"}), plugin.ErrInvalidSetting)
}

func TestModelTranslator(t *testing.T) {
	mock := ptest.NewMockProvider("  Bonjour  ")
	tr := NewModelTranslator(mock)

	out, err := tr.Translate(context.Background(), "Hello", "en", "fr")
	require.NoError(t, err)
	assert.Equal(t, "Bonjour", out)

	req := mock.LastRequest()
	assert.Equal(t, model.ModelClaudeHaiku, req.Model)
	assert.Equal(t, 2000, req.MaxTokens)
	require.NotNil(t, req.Temperature)
	assert.Equal(t, 0.3, *req.Temperature)
	require.Len(t, req.Messages, 1)
	assert.Contains(t, req.Messages[0].Content, "from English to français")
	assert.Contains(t, req.Messages[0].Content, "\n\nHello")

	empty := NewModelTranslator(ptest.NewMockProvider(" "))
	_, err = empty.Translate(context.Background(), "Hello", "en", "fr")
	assert.ErrorIs(t, err, ErrEmptyTranslation)
}

func TestOpenAITranslator(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &body)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"m",
			"choices":[{"index":0,"message":{"role":"assistant","content":"Hallo"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	tr := NewOpenAITranslator(srv.URL, "k", "")
	out, err := tr.Translate(context.Background(), "Hello", "en", "de")
	require.NoError(t, err)
	assert.Equal(t, "Hallo", out)
	assert.Equal(t, defaultServiceModel, body["model"])
}

func TestChainFallsBack(t *testing.T) {
	ctx := context.Background()
	first := &fakeTranslator{err: errors.New("service down")}
	second := &fakeTranslator{out: "ok"}

	out, err := Chain{first, second}.Translate(ctx, "x", "en", "ko")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Len(t, first.calls, 1)

	_, err = Chain{first}.Translate(ctx, "x", "en", "ko")
	assert.Error(t, err)
	_, err = Chain{}.Translate(ctx, "x", "en", "ko")
	assert.Error(t, err)
}
