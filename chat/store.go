// Package chat is the conversation store: the single owner of session,
// thread and message state. Every command produces a new session snapshot
// that is published atomically; readers never observe a half-applied
// change.
//
// Commands against one session are serialized by that session's command
// lock, which is held across Model API calls. Different sessions proceed
// independently.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chatwrap/metrics"
	"chatwrap/model"
	"chatwrap/plugin"
	"chatwrap/storage"
)

// Hooks is the plugin dispatch surface the store calls into.
// *plugin.Manager implements it.
type Hooks interface {
	ExecuteBeforeSendMessage(ctx context.Context, content string, pc plugin.Context) string
	ExecuteAfterReceiveMessage(ctx context.Context, msg model.Message, pc plugin.Context) model.Message
	ExecuteOnMessageEdit(ctx context.Context, messageID, newContent string, pc plugin.Context)
	ExecuteOnThreadCreate(ctx context.Context, threadID string, pc plugin.Context)
	ExecuteOnSettingsChange(ctx context.Context, patch model.SettingsPatch, pc plugin.Context)
}

type noHooks struct{}

func (noHooks) ExecuteBeforeSendMessage(_ context.Context, content string, _ plugin.Context) string {
	return content
}

func (noHooks) ExecuteAfterReceiveMessage(_ context.Context, msg model.Message, _ plugin.Context) model.Message {
	return msg
}

func (noHooks) ExecuteOnMessageEdit(context.Context, string, string, plugin.Context) {}

func (noHooks) ExecuteOnThreadCreate(context.Context, string, plugin.Context) {}

func (noHooks) ExecuteOnSettingsChange(context.Context, model.SettingsPatch, plugin.Context) {}

// sessionState is one open session.
type sessionState struct {
	cmd     sync.Mutex // serializes commands
	snap    atomic.Pointer[model.Session]
	deleted atomic.Bool
}

// Store owns every open session and the active-session selection.
type Store struct {
	provider model.Provider
	hooks    Hooks
	repo     *storage.SessionRepository
	index    *storage.SearchIndex
	defaults model.Settings
	log      zerolog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu     sync.Mutex
	open   map[string]*sessionState
	active string

	errMu   sync.Mutex
	lastErr error

	saver  *autosaver
	closed atomic.Bool
}

// Option configures a Store.
type Option func(*Store)

func WithHooks(h Hooks) Option {
	return func(s *Store) {
		if h != nil {
			s.hooks = h
		}
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) { s.log = log.With().Str("component", "chat").Logger() }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithDefaults sets the settings new sessions start with.
func WithDefaults(settings model.Settings) Option {
	return func(s *Store) { s.defaults = settings }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a store. The autosave worker starts immediately; call
// Close to flush pending saves and stop it.
func NewStore(provider model.Provider, kv storage.KV, opts ...Option) *Store {
	repo := storage.NewSessionRepository(kv)
	s := &Store{
		provider: provider,
		hooks:    noHooks{},
		repo:     repo,
		index:    storage.NewSearchIndex(repo),
		defaults: model.DefaultSettings(),
		log:      zerolog.Nop(),
		now:      time.Now,
		open:     make(map[string]*sessionState),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.saver = newAutosaver(s)
	return s
}

// Init restores the persisted active session, or creates a fresh one when
// none is stored or it cannot be read.
func (s *Store) Init(ctx context.Context) (*model.Session, error) {
	id, err := s.repo.ActiveID(ctx)
	if err != nil {
		s.reportPersistence("load", err)
	}
	if id != "" {
		session, err := s.LoadSession(ctx, id)
		if err == nil {
			return session, nil
		}
		s.log.Warn().Err(err).Str("session", id).Msg("Failed to restore active session")
	}
	return s.CreateSession(ctx)
}

// Session returns a copy of the active session, or nil before Init.
func (s *Store) Session() *model.Session {
	st := s.activeState()
	if st == nil {
		return nil
	}
	return st.snap.Load().Clone()
}

// ActiveThread returns a copy of the active thread.
func (s *Store) ActiveThread() (model.Thread, bool) {
	st := s.activeState()
	if st == nil {
		return model.Thread{}, false
	}
	t := st.snap.Load().ActiveThread()
	if t == nil {
		return model.Thread{}, false
	}
	return t.Clone(), true
}

// LastError is the error of the most recent failed command, or nil. A
// failed save is kept until a later save succeeds, even when the commands
// in between succeed.
func (s *Store) LastError() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.lastErr
}

func (s *Store) ClearError() {
	s.setError(nil)
}

func (s *Store) setError(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	s.lastErr = err
}

// succeed clears a command error after a successful command. Persistence
// errors stay visible until a save succeeds.
func (s *Store) succeed() {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	var perr *storage.PersistenceError
	if !errors.As(s.lastErr, &perr) {
		s.lastErr = nil
	}
}

// saved clears a persistence error once a save succeeds.
func (s *Store) saved() {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	var perr *storage.PersistenceError
	if errors.As(s.lastErr, &perr) {
		s.lastErr = nil
	}
}

// fail records err as the visible error state and returns it.
func (s *Store) fail(err error) error {
	s.setError(err)
	return err
}

func (s *Store) activeState() *sessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open[s.active]
}

func (s *Store) state(id string) *sessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open[id]
}

// acquire locks the active session for one command.
func (s *Store) acquire() (*sessionState, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	st := s.activeState()
	if st == nil {
		return nil, stateErr("session", ErrNoActiveThread)
	}
	st.cmd.Lock()
	if s.closed.Load() {
		st.cmd.Unlock()
		return nil, ErrClosed
	}
	if st.deleted.Load() {
		st.cmd.Unlock()
		return nil, stateErr("session", ErrNoActiveThread)
	}
	return st, nil
}

// apply runs fn on a copy of the current snapshot and publishes the result.
// The caller must hold st.cmd. Nothing is published if fn fails.
func (s *Store) apply(st *sessionState, fn func(session *model.Session, now time.Time) error) (*model.Session, error) {
	next := st.snap.Load().Clone()
	now := s.now()
	if err := fn(next, now); err != nil {
		return nil, err
	}
	if now.After(next.UpdatedAt) {
		next.UpdatedAt = now
	}
	st.snap.Store(next)
	if next.Settings.AutoSave {
		s.saver.mark(next.ID)
	}
	return next, nil
}

func (s *Store) newSession(now time.Time) *model.Session {
	session := &model.Session{
		ID:        uuid.New().String(),
		Settings:  s.defaults,
		CreatedAt: now,
		UpdatedAt: now,
	}
	ensureThread(session, now)
	return session
}

// ensureThread gives a session without threads a default one, and selects
// a thread when none is active.
func ensureThread(session *model.Session, now time.Time) {
	session.Normalize()
	if len(session.Threads) == 0 {
		session.Threads = append(session.Threads, newThread("", now))
	}
	if session.ActiveThread() == nil {
		session.ActiveThreadID = session.Threads[0].ID
	}
}

func newThread(title string, now time.Time) model.Thread {
	if title == "" {
		title = model.DefaultThreadTitle
	}
	return model.Thread{
		ID:        uuid.New().String(),
		Title:     title,
		Messages:  []model.Message{},
		CreatedAt: now,
		UpdatedAt: now,
		Tags:      []string{},
	}
}

// activate opens session and makes it active.
func (s *Store) activate(ctx context.Context, session *model.Session) {
	st := &sessionState{}
	st.snap.Store(session)

	s.mu.Lock()
	if existing, ok := s.open[session.ID]; ok {
		st = existing
	} else {
		s.open[session.ID] = st
	}
	s.active = session.ID
	s.mu.Unlock()

	if err := s.repo.SetActiveID(ctx, session.ID); err != nil {
		s.reportPersistence("save", err)
	}
}

// CreateSession starts a new session with one empty thread and makes it
// active.
func (s *Store) CreateSession(ctx context.Context) (*model.Session, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	session := s.newSession(s.now())
	s.activate(ctx, session)
	if session.Settings.AutoSave {
		s.saver.mark(session.ID)
	}
	s.log.Info().Str("session", session.ID).Msg("Session created")
	return session.Clone(), nil
}

// LoadSession makes a stored session active. A session that is already
// open keeps its in-memory state.
func (s *Store) LoadSession(ctx context.Context, id string) (*model.Session, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if st := s.state(id); st != nil {
		s.activate(ctx, st.snap.Load())
		return st.snap.Load().Clone(), nil
	}

	session, err := s.repo.Load(ctx, id)
	if err != nil {
		s.reportPersistence("load", err)
		return nil, s.fail(fmt.Errorf("failed to load session %s: %w", id, err))
	}
	ensureThread(session, s.now())
	s.activate(ctx, session)
	s.log.Info().Str("session", id).Msg("Session loaded")
	return session.Clone(), nil
}

// SaveSession writes the active session now, regardless of autoSave.
func (s *Store) SaveSession(ctx context.Context) error {
	st := s.activeState()
	if st == nil {
		return stateErr("saveSession", ErrNoActiveThread)
	}
	return s.saver.saveNow(ctx, st.snap.Load().ID)
}

// DeleteSession removes a session from storage and memory. Deleting the
// active session starts a fresh one.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if st := s.state(id); st != nil {
		// Wait for any in-flight command on it.
		st.cmd.Lock()
		defer st.cmd.Unlock()
	}
	var wasActive bool
	err := s.saver.exclusive(func() error {
		s.saver.forget(id)
		if err := s.repo.Delete(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if st, ok := s.open[id]; ok {
			st.deleted.Store(true)
		}
		delete(s.open, id)
		wasActive = s.active == id
		if wasActive {
			s.active = ""
		}
		return nil
	})
	if err != nil {
		s.reportPersistence("delete", err)
		return s.fail(err)
	}

	s.log.Info().Str("session", id).Msg("Session deleted")
	if wasActive {
		_, err := s.CreateSession(ctx)
		return err
	}
	return nil
}

// ListSessions returns stored session metadata, newest first. Pending
// autosaves are flushed first so the listing reflects memory.
func (s *Store) ListSessions(ctx context.Context) ([]storage.SessionMetadata, error) {
	if err := s.Flush(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Flush before listing failed")
	}
	return s.repo.List(ctx)
}

// ExportSession encodes a session. Open sessions are exported from memory.
func (s *Store) ExportSession(ctx context.Context, id string, format storage.Format) ([]byte, error) {
	if st := s.state(id); st != nil {
		return storage.EncodeSession(st.snap.Load(), format)
	}
	return s.repo.Export(ctx, id, format)
}

// ImportSession stores exported data as a new session without activating
// it.
func (s *Store) ImportSession(ctx context.Context, data []byte, format storage.Format) (*model.Session, error) {
	session, err := s.repo.Import(ctx, data, format)
	if err != nil {
		return nil, s.fail(err)
	}
	s.log.Info().Str("session", session.ID).Int("threads", len(session.Threads)).Msg("Session imported")
	return session, nil
}

// Flush writes every pending autosave.
func (s *Store) Flush(ctx context.Context) error {
	return s.saver.flush(ctx)
}

// Close waits for in-flight commands, then stops the autosave worker after
// flushing pending saves. Commands started after Close fail with ErrClosed.
func (s *Store) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.drain()
	s.saver.stop()
	return s.saver.flush(ctx)
}

// drain takes and releases every open session's command lock.
func (s *Store) drain() {
	s.mu.Lock()
	states := make([]*sessionState, 0, len(s.open))
	for _, st := range s.open {
		states = append(states, st)
	}
	s.mu.Unlock()

	for _, st := range states {
		st.cmd.Lock()
		st.cmd.Unlock()
	}
}

func (s *Store) reportPersistence(op string, err error) {
	s.metrics.RecordPersistenceFailure(op)
	s.log.Warn().Err(err).Str("op", op).Msg("Persistence failed")
}

func pluginContext(session *model.Session) plugin.Context {
	pc := plugin.Context{
		Settings:       session.Settings,
		ActiveThreadID: session.ActiveThreadID,
		SessionID:      session.ID,
	}
	if t := session.ActiveThread(); t != nil {
		pc.Messages = t.Clone().Messages
	}
	return pc
}
