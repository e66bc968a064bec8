package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"chatwrap/model"
)

const (
	sessionPrefix    = "sessions/"
	activeSessionKey = "active-session-id"
)

// Format selects the export encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts "json", "yaml" or "yml".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json", "":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported export format: %s", s)
	}
}

// SessionMetadata is a lightweight version of Session for listing
type SessionMetadata struct {
	ID           string    `json:"id"`
	ThreadCount  int       `json:"threadCount"`
	MessageCount int       `json:"messageCount"`
	Model        string    `json:"model"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// SessionRepository persists whole sessions, one key per session.
type SessionRepository struct {
	kv KV
}

func NewSessionRepository(kv KV) *SessionRepository {
	return &SessionRepository{kv: kv}
}

func sessionKey(id string) string {
	return sessionPrefix + id
}

// Save writes the full session.
func (r *SessionRepository) Save(ctx context.Context, session *model.Session) error {
	if session.ID == "" {
		return &PersistenceError{Op: "save", Key: sessionPrefix, Err: errors.New("session id is required")}
	}

	data, err := json.Marshal(session)
	if err != nil {
		return &PersistenceError{Op: "encode", Key: sessionKey(session.ID), Err: err}
	}
	if err := r.kv.Set(ctx, sessionKey(session.ID), data); err != nil {
		return &PersistenceError{Op: "save", Key: sessionKey(session.ID), Err: err}
	}
	return nil
}

// Load reads a session and repairs invariants that may have drifted on disk.
func (r *SessionRepository) Load(ctx context.Context, id string) (*model.Session, error) {
	var session model.Session
	if err := GetJSON(ctx, r.kv, sessionKey(id), &session); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &PersistenceError{Op: "load", Key: sessionKey(id), Err: err}
		}
		return nil, err
	}
	session.Normalize()
	return &session, nil
}

// ActiveID returns the persisted active session id, or "" when none.
func (r *SessionRepository) ActiveID(ctx context.Context) (string, error) {
	data, err := r.kv.Get(ctx, activeSessionKey)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", &PersistenceError{Op: "load", Key: activeSessionKey, Err: err}
	}
	return strings.TrimSpace(string(data)), nil
}

func (r *SessionRepository) SetActiveID(ctx context.Context, id string) error {
	if err := r.kv.Set(ctx, activeSessionKey, []byte(id)); err != nil {
		return &PersistenceError{Op: "save", Key: activeSessionKey, Err: err}
	}
	return nil
}

// Delete removes a session, clearing the active id if it pointed there.
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	if err := r.kv.Delete(ctx, sessionKey(id)); err != nil {
		return &PersistenceError{Op: "delete", Key: sessionKey(id), Err: err}
	}

	active, err := r.ActiveID(ctx)
	if err != nil {
		return err
	}
	if active == id {
		if err := r.kv.Delete(ctx, activeSessionKey); err != nil {
			return &PersistenceError{Op: "delete", Key: activeSessionKey, Err: err}
		}
	}
	return nil
}

// List returns metadata for all sessions, sorted by update time (newest first).
// Unreadable sessions are skipped.
func (r *SessionRepository) List(ctx context.Context) ([]SessionMetadata, error) {
	lister, ok := r.kv.(Lister)
	if !ok {
		return nil, fmt.Errorf("storage backend cannot list sessions")
	}

	keys, err := lister.Keys(ctx, sessionPrefix)
	if err != nil {
		return nil, &PersistenceError{Op: "list", Key: sessionPrefix, Err: err}
	}

	sessions := make([]SessionMetadata, 0, len(keys))
	for _, key := range keys {
		session, err := r.Load(ctx, strings.TrimPrefix(key, sessionPrefix))
		if err != nil {
			continue
		}
		sessions = append(sessions, SessionMetadata{
			ID:           session.ID,
			ThreadCount:  len(session.Threads),
			MessageCount: session.MessageCount(),
			Model:        session.Settings.Model,
			CreatedAt:    session.CreatedAt,
			UpdatedAt:    session.UpdatedAt,
		})
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})

	return sessions, nil
}

// Export encodes a stored session.
func (r *SessionRepository) Export(ctx context.Context, id string, format Format) ([]byte, error) {
	session, err := r.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return EncodeSession(session, format)
}

// EncodeSession renders a session for export.
func EncodeSession(session *model.Session, format Format) ([]byte, error) {
	switch format {
	case FormatJSON, "":
		data, err := json.MarshalIndent(session, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal session: %w", err)
		}
		return data, nil
	case FormatYAML:
		data, err := yaml.Marshal(session)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal session: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

// DecodeSession parses an exported session.
func DecodeSession(data []byte, format Format) (*model.Session, error) {
	var session model.Session
	var err error
	switch format {
	case FormatJSON, "":
		err = json.Unmarshal(data, &session)
	case FormatYAML:
		err = yaml.Unmarshal(data, &session)
	default:
		return nil, fmt.Errorf("unsupported import format: %s", format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse session: %w", err)
	}
	return &session, nil
}

// Import stores an exported session under a fresh id so it never clobbers
// an existing one. Thread and message ids are kept.
func (r *SessionRepository) Import(ctx context.Context, data []byte, format Format) (*model.Session, error) {
	session, err := DecodeSession(data, format)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	session.ID = uuid.New().String()
	session.CreatedAt = now
	session.UpdatedAt = now
	session.Normalize()

	if err := session.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session data: %w", err)
	}

	if err := r.Save(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Clear removes every stored session and the active id.
func (r *SessionRepository) Clear(ctx context.Context) error {
	lister, ok := r.kv.(Lister)
	if !ok {
		return fmt.Errorf("storage backend cannot list sessions")
	}

	keys, err := lister.Keys(ctx, sessionPrefix)
	if err != nil {
		return &PersistenceError{Op: "list", Key: sessionPrefix, Err: err}
	}
	for _, key := range keys {
		if err := r.kv.Delete(ctx, key); err != nil {
			return &PersistenceError{Op: "delete", Key: key, Err: err}
		}
	}
	if err := r.kv.Delete(ctx, activeSessionKey); err != nil {
		return &PersistenceError{Op: "delete", Key: activeSessionKey, Err: err}
	}
	return nil
}
