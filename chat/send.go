package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"chatwrap/model"
)

// errSkip aborts a transition that turned out to be a no-op.
var errSkip = errors.New("no change")

// exchange is one outbound turn: the user message the reply attaches to and
// the window sent with it.
type exchange struct {
	threadID  string
	user      model.Message
	window    []model.Message
	settings  model.Settings
	titleFrom string // non-empty only on a thread's first exchange
}

// SendMessage runs content through the before-send hooks, appends it to the
// active thread and asks the model for a reply. The user message is kept
// even when the request fails.
func (s *Store) SendMessage(ctx context.Context, content string, opts model.SendOptions) (*model.Message, error) {
	st, ex, err := s.beginSend(ctx, "sendMessage", content, opts)
	if err != nil {
		return nil, err
	}
	defer st.cmd.Unlock()

	resp, err := s.provider.SendMessage(ctx, model.NewChatRequest(ex.window, ex.settings))
	if err != nil {
		s.log.Error().Err(err).Str("thread", ex.threadID).Msg("Model request failed")
		return nil, s.fail(fmt.Errorf("send message: %w", err))
	}
	return s.finishSend(ctx, st, ex, resp.Content, resp.Model, resp.OutputTokens, resp.Duration)
}

// SendMessageStream is SendMessage with the reply streamed to onChunk in
// arrival order. The assistant message is appended only once the stream
// completes; a failed stream discards any partial text.
func (s *Store) SendMessageStream(ctx context.Context, content string, opts model.SendOptions, onChunk func(string)) (*model.Message, error) {
	st, ex, err := s.beginSend(ctx, "sendMessageStream", content, opts)
	if err != nil {
		return nil, err
	}
	defer st.cmd.Unlock()

	return s.streamReply(ctx, st, ex, onChunk)
}

func (s *Store) streamReply(ctx context.Context, st *sessionState, ex exchange, onChunk func(string)) (*model.Message, error) {
	start := time.Now()
	var full string
	var streamErr error
	s.provider.SendMessageStream(ctx, model.NewChatRequest(ex.window, ex.settings), model.StreamHandler{
		OnChunk:    onChunk,
		OnComplete: func(text string) { full = text },
		OnError:    func(err error) { streamErr = err },
	})
	if streamErr != nil {
		s.log.Error().Err(streamErr).Str("thread", ex.threadID).Msg("Model stream failed")
		return nil, s.fail(fmt.Errorf("stream message: %w", streamErr))
	}
	return s.finishSend(ctx, st, ex, full, ex.settings.Model, 0, time.Since(start))
}

// beginSend validates and records the user message. On success the
// session's command lock is held and must be released by the caller.
func (s *Store) beginSend(ctx context.Context, op, content string, opts model.SendOptions) (*sessionState, exchange, error) {
	if strings.TrimSpace(content) == "" {
		return nil, exchange{}, s.fail(stateErr(op, ErrEmptyMessage))
	}
	if err := opts.Validate(); err != nil {
		return nil, exchange{}, s.fail(stateErr(op, err))
	}
	st, err := s.acquire()
	if err != nil {
		return nil, exchange{}, s.fail(err)
	}

	current := st.snap.Load()
	if current.ActiveThread() == nil {
		st.cmd.Unlock()
		return nil, exchange{}, s.fail(stateErr(op, ErrNoActiveThread))
	}
	content = s.hooks.ExecuteBeforeSendMessage(ctx, content, pluginContext(current))

	var ex exchange
	next, err := s.apply(st, func(session *model.Session, now time.Time) error {
		t := session.ActiveThread()
		if t == nil {
			return stateErr(op, ErrNoActiveThread)
		}
		user := model.Message{
			ID:        uuid.New().String(),
			Role:      model.RoleUser,
			Content:   content,
			Timestamp: now,
			ThreadID:  t.ID,
			ParentID:  opts.ParentID,
		}
		ex = exchange{
			threadID: t.ID,
			user:     user,
			window:   append(t.LastMessages(session.Settings.ContextWindow), user),
			settings: opts.Effective(session.Settings),
		}
		if len(t.Messages) == 0 {
			ex.titleFrom = content
		}
		t.Messages = append(t.Messages, user)
		t.Touch(now)
		return nil
	})
	if err != nil {
		st.cmd.Unlock()
		return nil, exchange{}, s.fail(err)
	}

	// The user message must be durable before the request goes out.
	if next.Settings.AutoSave {
		s.saver.saveNow(ctx, next.ID)
	}
	return st, ex, nil
}

// finishSend runs the after-receive hooks and appends the assistant reply.
func (s *Store) finishSend(ctx context.Context, st *sessionState, ex exchange, content, modelID string, tokens int, took time.Duration) (*model.Message, error) {
	assistant := model.Message{
		ID:       uuid.New().String(),
		Role:     model.RoleAssistant,
		Content:  content,
		ThreadID: ex.threadID,
		ParentID: ex.user.ID,
		Metadata: &model.Metadata{
			Model:       modelID,
			Tokens:      tokens,
			DurationMs:  took.Milliseconds(),
			Temperature: ex.settings.Temperature,
		},
	}

	current := st.snap.Load()
	pc := pluginContext(current)
	if t := current.Thread(ex.threadID); t != nil {
		pc.ActiveThreadID = t.ID
		pc.Messages = t.Clone().Messages
	}
	assistant.Timestamp = s.now()
	result := s.hooks.ExecuteAfterReceiveMessage(ctx, assistant, pc)

	_, err := s.apply(st, func(session *model.Session, now time.Time) error {
		t := session.Thread(ex.threadID)
		if t == nil {
			return stateErr("receiveMessage", ErrThreadNotFound)
		}
		t.Messages = append(t.Messages, result)
		if ex.titleFrom != "" && t.Title == model.DefaultThreadTitle {
			t.Title = model.GenerateTitle(ex.titleFrom)
		}
		t.Touch(now)
		return nil
	})
	if err != nil {
		return nil, s.fail(err)
	}
	s.succeed()
	return &result, nil
}

// RegenerateMessage replaces an assistant reply. The thread is cut back to
// just before the target and its parent user message is sent again; no
// duplicate user message is added. Targets that are not assistant messages
// or whose parent is gone are ignored and (nil, nil) is returned.
func (s *Store) RegenerateMessage(ctx context.Context, id string) (*model.Message, error) {
	return s.regenerate(ctx, id, nil)
}

// RegenerateMessageStream is RegenerateMessage with a streamed reply.
func (s *Store) RegenerateMessageStream(ctx context.Context, id string, onChunk func(string)) (*model.Message, error) {
	if onChunk == nil {
		onChunk = func(string) {}
	}
	return s.regenerate(ctx, id, onChunk)
}

func (s *Store) regenerate(ctx context.Context, id string, onChunk func(string)) (*model.Message, error) {
	st, err := s.acquire()
	if err != nil {
		return nil, s.fail(err)
	}
	defer st.cmd.Unlock()

	var ex exchange
	found := false
	_, err = s.apply(st, func(session *model.Session, now time.Time) error {
		t := session.ActiveThread()
		if t == nil {
			return stateErr("regenerateMessage", ErrNoActiveThread)
		}
		idx := t.MessageIndex(id)
		if idx < 0 || t.Messages[idx].Role != model.RoleAssistant || t.Messages[idx].ParentID == "" {
			return errSkip
		}
		parentIdx := t.MessageIndex(t.Messages[idx].ParentID)
		if parentIdx < 0 || parentIdx > idx {
			return errSkip
		}
		parent := t.Messages[parentIdx]

		t.Messages = t.Messages[:idx]
		prior := t.Messages[:parentIdx]
		window := prior[max(len(prior)-session.Settings.ContextWindow, 0):]
		ex = exchange{
			threadID: t.ID,
			user:     parent,
			window:   append(append([]model.Message(nil), window...), parent),
			settings: session.Settings,
		}
		t.Touch(now)
		found = true
		return nil
	})
	if !found {
		if errors.Is(err, errSkip) {
			return nil, nil
		}
		return nil, s.fail(err)
	}

	if onChunk != nil {
		return s.streamReply(ctx, st, ex, onChunk)
	}
	resp, err := s.provider.SendMessage(ctx, model.NewChatRequest(ex.window, ex.settings))
	if err != nil {
		s.log.Error().Err(err).Str("thread", ex.threadID).Msg("Regenerate request failed")
		return nil, s.fail(fmt.Errorf("regenerate message: %w", err))
	}
	return s.finishSend(ctx, st, ex, resp.Content, resp.Model, resp.OutputTokens, resp.Duration)
}

// ContextMessages returns the last n messages of the active thread. n <= 0
// uses the session's context window.
func (s *Store) ContextMessages(n int) []model.Message {
	st := s.activeState()
	if st == nil {
		return nil
	}
	session := st.snap.Load()
	t := session.ActiveThread()
	if t == nil {
		return nil
	}
	if n <= 0 {
		n = session.Settings.ContextWindow
	}
	msgs := t.LastMessages(n)
	for i := range msgs {
		msgs[i] = msgs[i].Clone()
	}
	return msgs
}
