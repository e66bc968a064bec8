package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatwrap/model"
	"chatwrap/provider"
	ptest "chatwrap/provider/testutil"
	"chatwrap/storage"
)

// flakyKV fails writes while failing is set.
type flakyKV struct {
	*storage.MemoryKV
	failing atomic.Bool
}

func (f *flakyKV) Set(ctx context.Context, key string, value []byte) error {
	if f.failing.Load() {
		return errors.New("disk full")
	}
	return f.MemoryKV.Set(ctx, key, value)
}

func newTestStore(t *testing.T, p model.Provider, kv storage.KV, opts ...Option) *Store {
	t.Helper()
	if kv == nil {
		kv = storage.NewMemoryKV()
	}
	s := NewStore(p, kv, opts...)
	_, err := s.Init(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func activeMessages(t *testing.T, s *Store) []model.Message {
	t.Helper()
	thread, ok := s.ActiveThread()
	require.True(t, ok)
	return thread.Messages
}

func TestSendMessageEndToEnd(t *testing.T) {
	mock := ptest.NewMockProvider("Hi there!")
	s := newTestStore(t, mock, nil)

	reply, err := s.SendMessage(context.Background(), "Hello", model.SendOptions{})
	require.NoError(t, err)

	msgs := activeMessages(t, s)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "Hello", msgs[0].Content)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Hi there!", msgs[1].Content)
	assert.Equal(t, msgs[0].ID, msgs[1].ParentID)
	assert.Equal(t, msgs[1].ID, reply.ID)
	require.NotNil(t, msgs[1].Metadata)
	assert.Equal(t, model.ModelClaudeSonnet, msgs[1].Metadata.Model)

	thread, _ := s.ActiveThread()
	assert.Equal(t, "Hello", thread.Title)
	assert.NoError(t, s.LastError())

	req := mock.LastRequest()
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "Hello", req.Messages[0].Content)
	assert.Equal(t, model.DefaultSettings().SystemPrompt, req.SystemPrompt)
}

func TestTitleOnlyOnFirstExchange(t *testing.T) {
	s := newTestStore(t, ptest.NewMockProvider("ok"), nil)
	ctx := context.Background()

	_, err := s.SendMessage(ctx, "Tell me about Go channels please", model.SendOptions{})
	require.NoError(t, err)
	_, err = s.SendMessage(ctx, "Something else entirely", model.SendOptions{})
	require.NoError(t, err)

	thread, _ := s.ActiveThread()
	assert.Equal(t, "Tell me about Go...", thread.Title)
}

func TestContextWindow(t *testing.T) {
	mock := ptest.NewMockProvider("reply")
	s := newTestStore(t, mock, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.SendMessage(ctx, fmt.Sprintf("question %d", i), model.SendOptions{})
		require.NoError(t, err)
	}
	require.Len(t, activeMessages(t, s), 10)

	window := 3
	require.NoError(t, s.UpdateSettings(ctx, model.SettingsPatch{ContextWindow: &window}))

	_, err := s.SendMessage(ctx, "final", model.SendOptions{})
	require.NoError(t, err)

	sent := mock.LastRequest().Messages
	require.Len(t, sent, 4)
	assert.Equal(t, "reply", sent[0].Content)
	assert.Equal(t, "question 4", sent[1].Content)
	assert.Equal(t, "reply", sent[2].Content)
	assert.Equal(t, "final", sent[3].Content)
	assert.Len(t, s.ContextMessages(0), 3)
	assert.Len(t, s.ContextMessages(5), 5)
}

func TestSendOptionsOverrideSettings(t *testing.T) {
	mock := ptest.NewMockProvider("ok")
	s := newTestStore(t, mock, nil)

	zero := 0.0
	tokens := 100
	prompt := "Be brief."
	_, err := s.SendMessage(context.Background(), "hi", model.SendOptions{Temperature: &zero, MaxTokens: &tokens, SystemPrompt: &prompt})
	require.NoError(t, err)

	req := mock.LastRequest()
	require.NotNil(t, req.Temperature)
	assert.Equal(t, 0.0, *req.Temperature)
	assert.Equal(t, 100, req.MaxTokens)
	assert.Equal(t, "Be brief.", req.SystemPrompt)
	assert.Equal(t, 0.7, s.Session().Settings.Temperature, "session settings are untouched")
}

func TestSendRejectsInvalidOverrides(t *testing.T) {
	mock := ptest.NewMockProvider("ok")
	s := newTestStore(t, mock, nil)

	hot := 5.0
	negative := -1
	for _, opts := range []model.SendOptions{{Temperature: &hot}, {MaxTokens: &negative}} {
		_, err := s.SendMessage(context.Background(), "hi", opts)
		assert.ErrorIs(t, err, model.ErrInvalidSettings)
		var serr *StateError
		require.True(t, errors.As(err, &serr))
		assert.Equal(t, "sendMessage", serr.Op)
	}
	assert.Empty(t, mock.Requests(), "nothing reaches the API")
	assert.Empty(t, activeMessages(t, s), "no user message is recorded")
}

func TestSendFailureKeepsUserMessage(t *testing.T) {
	mock := ptest.NewMockProvider("")
	mock.SendFunc = func(context.Context, model.ChatRequest) (*model.ChatResponse, error) {
		return nil, &provider.APIError{Message: "overloaded", StatusCode: 529}
	}
	s := newTestStore(t, mock, nil)

	_, err := s.SendMessage(context.Background(), "Hello", model.SendOptions{})
	require.Error(t, err)

	var apiErr *provider.APIError
	assert.True(t, errors.As(err, &apiErr))
	assert.Equal(t, err, s.LastError())

	msgs := activeMessages(t, s)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hello", msgs[0].Content)
}

func TestSendValidation(t *testing.T) {
	s := newTestStore(t, ptest.NewMockProvider("ok"), nil)
	ctx := context.Background()

	_, err := s.SendMessage(ctx, "   ", model.SendOptions{})
	assert.ErrorIs(t, err, ErrEmptyMessage)
	var stErr *StateError
	assert.True(t, errors.As(err, &stErr))

	thread, _ := s.ActiveThread()
	require.NoError(t, s.DeleteThread(ctx, thread.ID))
	_, err = s.SendMessage(ctx, "hi", model.SendOptions{})
	assert.ErrorIs(t, err, ErrNoActiveThread)
}

func TestUserMessagePersistedBeforeRequest(t *testing.T) {
	kv := storage.NewMemoryKV()
	repo := storage.NewSessionRepository(kv)
	mock := ptest.NewMockProvider("")

	var s *Store
	var persisted []model.Message
	mock.SendFunc = func(ctx context.Context, req model.ChatRequest) (*model.ChatResponse, error) {
		stored, err := repo.Load(ctx, s.Session().ID)
		if err == nil {
			persisted = stored.ActiveThread().Messages
		}
		return &model.ChatResponse{Content: "ok"}, nil
	}
	s = newTestStore(t, mock, kv)

	_, err := s.SendMessage(context.Background(), "remember me", model.SendOptions{})
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, "remember me", persisted[0].Content)
}

func TestRegenerateMessage(t *testing.T) {
	mock := ptest.NewMockProvider("A")
	s := newTestStore(t, mock, nil)
	ctx := context.Background()

	_, err := s.SendMessage(ctx, "U1", model.SendOptions{})
	require.NoError(t, err)
	_, err = s.SendMessage(ctx, "U2", model.SendOptions{})
	require.NoError(t, err)

	before := activeMessages(t, s)
	require.Len(t, before, 4)
	u1, a1, u2, a2 := before[0], before[1], before[2], before[3]

	mock.SendFunc = func(context.Context, model.ChatRequest) (*model.ChatResponse, error) {
		return &model.ChatResponse{Content: "A2 again"}, nil
	}
	regenerated, err := s.RegenerateMessage(ctx, a2.ID)
	require.NoError(t, err)
	require.NotNil(t, regenerated)

	after := activeMessages(t, s)
	require.Len(t, after, 4)
	assert.Equal(t, u1, after[0])
	assert.Equal(t, a1, after[1])
	assert.Equal(t, u2, after[2])
	assert.Equal(t, "A2 again", after[3].Content)
	assert.Equal(t, u2.ID, after[3].ParentID)
	assert.NotEqual(t, a2.ID, after[3].ID)

	sent := mock.LastRequest().Messages
	require.Len(t, sent, 3)
	assert.Equal(t, "U2", sent[2].Content)

	// Non-assistant targets and unknown ids are ignored.
	got, err := s.RegenerateMessage(ctx, u1.ID)
	assert.NoError(t, err)
	assert.Nil(t, got)
	got, err = s.RegenerateMessage(ctx, "missing")
	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.Len(t, activeMessages(t, s), 4)
}

func TestRegenerateWithDeletedParentIsIgnored(t *testing.T) {
	s := newTestStore(t, ptest.NewMockProvider("A"), nil)
	ctx := context.Background()

	_, err := s.SendMessage(ctx, "U1", model.SendOptions{})
	require.NoError(t, err)
	msgs := activeMessages(t, s)
	require.NoError(t, s.DeleteMessage(ctx, msgs[0].ID))

	got, err := s.RegenerateMessage(ctx, msgs[1].ID)
	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.Len(t, activeMessages(t, s), 1)
}

func TestSendMessageStream(t *testing.T) {
	mock := ptest.NewMockProvider("")
	mock.StreamFunc = func(_ context.Context, _ model.ChatRequest, h model.StreamHandler) {
		for _, c := range []string{"Hel", "lo", " world"} {
			h.OnChunk(c)
		}
		h.OnComplete("Hello world")
	}
	s := newTestStore(t, mock, nil)

	var chunks []string
	reply, err := s.SendMessageStream(context.Background(), "Hi", model.SendOptions{}, func(c string) {
		chunks = append(chunks, c)
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello world", strings.Join(chunks, ""))
	assert.Equal(t, "Hello world", reply.Content)

	msgs := activeMessages(t, s)
	require.Len(t, msgs, 2)
	assert.Equal(t, msgs[0].ID, msgs[1].ParentID)
}

func TestSendMessageStreamFailure(t *testing.T) {
	mock := ptest.NewMockProvider("")
	mock.StreamFunc = func(_ context.Context, _ model.ChatRequest, h model.StreamHandler) {
		h.OnChunk("partial")
		h.OnError(&provider.StreamError{Partial: "partial", Err: errors.New("reset")})
	}
	s := newTestStore(t, mock, nil)

	_, err := s.SendMessageStream(context.Background(), "Hi", model.SendOptions{}, func(string) {})
	require.Error(t, err)
	var streamErr *provider.StreamError
	assert.True(t, errors.As(err, &streamErr))

	msgs := activeMessages(t, s)
	require.Len(t, msgs, 1, "partial replies are not stored")
	assert.Equal(t, model.RoleUser, msgs[0].Role)
}

func TestConcurrentSendsAreSerialized(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	mock := ptest.NewMockProvider("")
	mock.SendFunc = func(_ context.Context, req model.ChatRequest) (*model.ChatResponse, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return &model.ChatResponse{Content: "re: " + req.Messages[len(req.Messages)-1].Content}, nil
	}
	s := newTestStore(t, mock, nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.SendMessage(context.Background(), fmt.Sprintf("m%d", i), model.SendOptions{})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load())
	msgs := activeMessages(t, s)
	require.Len(t, msgs, 8)
	for i := 0; i < len(msgs); i += 2 {
		assert.Equal(t, model.RoleUser, msgs[i].Role)
		assert.Equal(t, "re: "+msgs[i].Content, msgs[i+1].Content, "each reply follows its own question")
		assert.Equal(t, msgs[i].ID, msgs[i+1].ParentID)
	}
}

func TestReadersSeeConsistentSnapshots(t *testing.T) {
	s := newTestStore(t, ptest.NewMockProvider("ok"), nil)
	ctx := context.Background()

	snapshot := s.Session()
	_, err := s.SendMessage(ctx, "hi", model.SendOptions{})
	require.NoError(t, err)

	assert.Empty(t, snapshot.ActiveThread().Messages, "earlier snapshot is not mutated")
	snapshot.ActiveThread().Messages = append(snapshot.ActiveThread().Messages, model.Message{ID: "x"})
	assert.Len(t, activeMessages(t, s), 2, "callers cannot reach into store state")
}
