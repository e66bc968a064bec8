package model

import "time"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Metadata describes how an assistant reply was produced. Extra carries
// plugin-attached annotations (for example the untranslated original text).
type Metadata struct {
	Model       string            `json:"model,omitempty" yaml:"model,omitempty"`
	Tokens      int               `json:"tokens,omitempty" yaml:"tokens,omitempty"`
	DurationMs  int64             `json:"durationMs,omitempty" yaml:"durationMs,omitempty"`
	Temperature float64           `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	Extra       map[string]string `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// Clone returns a deep copy of the metadata.
func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return nil
	}
	out := *m
	if m.Extra != nil {
		out.Extra = make(map[string]string, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	return &out
}

// Message is a single chat message owned by exactly one thread.
// ParentID is empty when the message is a direct child of thread order.
type Message struct {
	ID        string     `json:"id" yaml:"id"`
	Role      Role       `json:"role" yaml:"role"`
	Content   string     `json:"content" yaml:"content"`
	Timestamp time.Time  `json:"timestamp" yaml:"timestamp"`
	ThreadID  string     `json:"threadId" yaml:"threadId"`
	ParentID  string     `json:"parentId,omitempty" yaml:"parentId,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty" yaml:"updatedAt,omitempty"`
	Metadata  *Metadata  `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Clone returns a copy that shares no mutable state with m.
func (m Message) Clone() Message {
	out := m
	out.Metadata = m.Metadata.Clone()
	if m.UpdatedAt != nil {
		t := *m.UpdatedAt
		out.UpdatedAt = &t
	}
	return out
}

// SetExtra records a plugin annotation on the message metadata.
func (m *Message) SetExtra(key, value string) {
	if m.Metadata == nil {
		m.Metadata = &Metadata{}
	}
	if m.Metadata.Extra == nil {
		m.Metadata.Extra = make(map[string]string)
	}
	m.Metadata.Extra[key] = value
}

// Extra returns a plugin annotation, or "" if unset.
func (m Message) Extra(key string) string {
	if m.Metadata == nil {
		return ""
	}
	return m.Metadata.Extra[key]
}
