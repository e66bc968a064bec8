package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateTitle(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "single word", content: "Hello", want: "Hello"},
		{name: "exactly four words", content: "how do I cook", want: "how do I cook"},
		{name: "more than four words", content: "how do I cook rice well", want: "how do I cook..."},
		{name: "collapses whitespace", content: "  spaced \n out\twords ", want: "spaced out words"},
		{name: "empty falls back", content: "   ", want: DefaultThreadTitle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GenerateTitle(tt.content))
		})
	}
}

func TestThreadLastMessages(t *testing.T) {
	th := Thread{ID: "t"}
	for i := 0; i < 5; i++ {
		th.Messages = append(th.Messages, Message{ID: string(rune('a' + i))})
	}

	got := th.LastMessages(3)
	require.Len(t, got, 3)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "e", got[2].ID)

	assert.Len(t, th.LastMessages(10), 5)
	assert.Nil(t, th.LastMessages(0))

	got[0].ID = "mutated"
	assert.Equal(t, "c", th.Messages[2].ID, "window must not alias thread storage")
}

func TestSessionCloneIsDeep(t *testing.T) {
	s := &Session{
		ID: "s",
		Threads: []Thread{{
			ID:       "t",
			Messages: []Message{{ID: "m", Content: "hi", Metadata: &Metadata{Extra: map[string]string{"k": "v"}}}},
			Tags:     []string{"a"},
		}},
	}

	c := s.Clone()
	c.Threads[0].Messages[0].Content = "changed"
	c.Threads[0].Messages[0].Metadata.Extra["k"] = "changed"
	c.Threads[0].Tags[0] = "changed"

	assert.Equal(t, "hi", s.Threads[0].Messages[0].Content)
	assert.Equal(t, "v", s.Threads[0].Messages[0].Metadata.Extra["k"])
	assert.Equal(t, "a", s.Threads[0].Tags[0])
}

func TestSessionNormalize(t *testing.T) {
	created := time.Now()
	s := &Session{
		ID:             "s",
		ActiveThreadID: "missing",
		Threads: []Thread{
			{ID: "t1", CreatedAt: created, UpdatedAt: created.Add(-time.Hour), Messages: []Message{{ID: "m", Role: RoleUser, ThreadID: "other"}}},
			{ID: "t2"},
		},
		Settings: DefaultSettings(),
	}

	s.Normalize()

	assert.Equal(t, "t1", s.ActiveThreadID)
	assert.Equal(t, "t1", s.Threads[0].Messages[0].ThreadID)
	assert.False(t, s.Threads[0].UpdatedAt.Before(s.Threads[0].CreatedAt))
	assert.NotNil(t, s.Threads[1].Messages)
	require.NoError(t, s.Validate())

	empty := &Session{ID: "e", ActiveThreadID: "gone", Settings: DefaultSettings()}
	empty.Normalize()
	assert.Empty(t, empty.ActiveThreadID)
}

func TestSessionValidate(t *testing.T) {
	base := func() *Session {
		return &Session{ID: "s", Threads: []Thread{{ID: "t"}}, ActiveThreadID: "t", Settings: DefaultSettings()}
	}

	tests := []struct {
		name    string
		mutate  func(s *Session)
		wantErr bool
	}{
		{name: "valid", mutate: func(s *Session) {}},
		{name: "missing id", mutate: func(s *Session) { s.ID = "" }, wantErr: true},
		{name: "duplicate thread", mutate: func(s *Session) { s.Threads = append(s.Threads, Thread{ID: "t"}) }, wantErr: true},
		{name: "dangling active thread", mutate: func(s *Session) { s.ActiveThreadID = "x" }, wantErr: true},
		{name: "bad role", mutate: func(s *Session) { s.Threads[0].Messages = []Message{{ID: "m", Role: "tool"}} }, wantErr: true},
		{name: "bad settings", mutate: func(s *Session) { s.Settings.ContextWindow = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base()
			tt.mutate(s)
			err := s.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
