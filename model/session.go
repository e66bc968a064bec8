package model

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// DefaultThreadTitle is used for threads created without an explicit title.
const DefaultThreadTitle = "New Chat"

// Thread is one conversation inside a session. Messages are kept in
// insertion order, which is also the canonical display order.
type Thread struct {
	ID         string    `json:"id" yaml:"id"`
	Title      string    `json:"title" yaml:"title"`
	Messages   []Message `json:"messages" yaml:"messages"`
	CreatedAt  time.Time `json:"createdAt" yaml:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt" yaml:"updatedAt"`
	IsArchived bool      `json:"isArchived" yaml:"isArchived"`
	Tags       []string  `json:"tags" yaml:"tags"`
	Summary    string    `json:"summary,omitempty" yaml:"summary,omitempty"`
}

// Clone returns a deep copy of the thread.
func (t Thread) Clone() Thread {
	out := t
	out.Messages = make([]Message, len(t.Messages))
	for i, m := range t.Messages {
		out.Messages[i] = m.Clone()
	}
	out.Tags = slices.Clone(t.Tags)
	if out.Tags == nil {
		out.Tags = []string{}
	}
	return out
}

// MessageIndex returns the position of the message with the given id, or -1.
func (t *Thread) MessageIndex(id string) int {
	for i := range t.Messages {
		if t.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

// Message returns the message with the given id.
func (t *Thread) Message(id string) (Message, bool) {
	if i := t.MessageIndex(id); i >= 0 {
		return t.Messages[i], true
	}
	return Message{}, false
}

// LastMessages returns up to n trailing messages, oldest first.
func (t *Thread) LastMessages(n int) []Message {
	if n <= 0 {
		return nil
	}
	start := max(len(t.Messages)-n, 0)
	return slices.Clone(t.Messages[start:])
}

// HasTag reports whether the tag set contains tag.
func (t *Thread) HasTag(tag string) bool {
	return slices.Contains(t.Tags, tag)
}

// Touch advances UpdatedAt, never moving it before CreatedAt.
func (t *Thread) Touch(now time.Time) {
	if now.Before(t.CreatedAt) {
		now = t.CreatedAt
	}
	t.UpdatedAt = now
}

// Session owns a set of threads and the settings used when talking to the model.
type Session struct {
	ID             string    `json:"id" yaml:"id"`
	Threads        []Thread  `json:"threads" yaml:"threads"`
	ActiveThreadID string    `json:"activeThreadId,omitempty" yaml:"activeThreadId,omitempty"`
	Settings       Settings  `json:"settings" yaml:"settings"`
	CreatedAt      time.Time `json:"createdAt" yaml:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt" yaml:"updatedAt"`
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Threads = make([]Thread, len(s.Threads))
	for i, t := range s.Threads {
		out.Threads[i] = t.Clone()
	}
	return &out
}

// ThreadIndex returns the position of the thread with the given id, or -1.
func (s *Session) ThreadIndex(id string) int {
	if id == "" {
		return -1
	}
	for i := range s.Threads {
		if s.Threads[i].ID == id {
			return i
		}
	}
	return -1
}

// Thread returns a pointer into s.Threads for the given id, or nil.
func (s *Session) Thread(id string) *Thread {
	if i := s.ThreadIndex(id); i >= 0 {
		return &s.Threads[i]
	}
	return nil
}

// ActiveThread returns the active thread, or nil when none is selected.
func (s *Session) ActiveThread() *Thread {
	return s.Thread(s.ActiveThreadID)
}

// Normalize repairs invariants on a session read from storage: a dangling
// active thread id falls back to the first thread, messages are re-bound to
// their owning thread and timestamps are kept ordered.
func (s *Session) Normalize() {
	if s.Threads == nil {
		s.Threads = []Thread{}
	}
	for i := range s.Threads {
		t := &s.Threads[i]
		if t.Messages == nil {
			t.Messages = []Message{}
		}
		if t.Tags == nil {
			t.Tags = []string{}
		}
		for j := range t.Messages {
			t.Messages[j].ThreadID = t.ID
		}
		if t.UpdatedAt.Before(t.CreatedAt) {
			t.UpdatedAt = t.CreatedAt
		}
	}
	if s.ThreadIndex(s.ActiveThreadID) < 0 {
		s.ActiveThreadID = ""
		if len(s.Threads) > 0 {
			s.ActiveThreadID = s.Threads[0].ID
		}
	}
	if s.UpdatedAt.Before(s.CreatedAt) {
		s.UpdatedAt = s.CreatedAt
	}
}

// Validate checks the structural invariants of a session.
func (s *Session) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("session id is required")
	}
	seen := make(map[string]bool, len(s.Threads))
	for _, t := range s.Threads {
		if t.ID == "" {
			return fmt.Errorf("thread id is required")
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate thread id %q", t.ID)
		}
		seen[t.ID] = true
		for _, m := range t.Messages {
			if !m.Role.Valid() {
				return fmt.Errorf("thread %s: message %s has invalid role %q", t.ID, m.ID, m.Role)
			}
		}
	}
	if s.ActiveThreadID != "" && !seen[s.ActiveThreadID] {
		return fmt.Errorf("active thread %q does not exist", s.ActiveThreadID)
	}
	return s.Settings.Validate()
}

// MessageCount returns the number of messages across all threads.
func (s *Session) MessageCount() int {
	n := 0
	for _, t := range s.Threads {
		n += len(t.Messages)
	}
	return n
}

const titleWords = 4

// GenerateTitle derives a short thread title from the first words of the
// user's opening message. An ellipsis is appended only when words were cut.
func GenerateTitle(content string) string {
	words := strings.Fields(content)
	if len(words) == 0 {
		return DefaultThreadTitle
	}
	if len(words) <= titleWords {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:titleWords], " ") + "..."
}
