package chat

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"chatwrap/model"
	"chatwrap/storage"
)

// mutate runs one synchronous command against the active session.
func (s *Store) mutate(op string, fn func(session *model.Session, now time.Time) error) (*model.Session, error) {
	st, err := s.acquire()
	if err != nil {
		return nil, s.fail(err)
	}
	defer st.cmd.Unlock()

	next, err := s.apply(st, fn)
	if err != nil {
		s.log.Debug().Err(err).Str("op", op).Msg("Command rejected")
		return nil, s.fail(err)
	}
	return next, nil
}

func activeThread(op string, session *model.Session) (*model.Thread, error) {
	t := session.ActiveThread()
	if t == nil {
		return nil, stateErr(op, ErrNoActiveThread)
	}
	return t, nil
}

func findThread(op string, session *model.Session, id string) (*model.Thread, error) {
	t := session.Thread(id)
	if t == nil {
		return nil, stateErr(op, fmt.Errorf("%w: %s", ErrThreadNotFound, id))
	}
	return t, nil
}

// EditMessage replaces the content of a message in the active thread.
// Replies to it are left as they are.
func (s *Store) EditMessage(ctx context.Context, id, content string) error {
	const op = "editMessage"
	if strings.TrimSpace(content) == "" {
		return s.fail(stateErr(op, ErrEmptyMessage))
	}
	next, err := s.mutate(op, func(session *model.Session, now time.Time) error {
		t, err := activeThread(op, session)
		if err != nil {
			return err
		}
		i := t.MessageIndex(id)
		if i < 0 {
			return stateErr(op, fmt.Errorf("%w: %s", ErrMessageNotFound, id))
		}
		edited := now
		t.Messages[i].Content = content
		t.Messages[i].UpdatedAt = &edited
		t.Touch(now)
		return nil
	})
	if err != nil {
		return err
	}
	s.hooks.ExecuteOnMessageEdit(ctx, id, content, pluginContext(next))
	return nil
}

// DeleteMessage removes one message from the active thread. Messages whose
// ParentID points at it keep the dangling reference.
func (s *Store) DeleteMessage(_ context.Context, id string) error {
	const op = "deleteMessage"
	_, err := s.mutate(op, func(session *model.Session, now time.Time) error {
		t, err := activeThread(op, session)
		if err != nil {
			return err
		}
		i := t.MessageIndex(id)
		if i < 0 {
			return stateErr(op, fmt.Errorf("%w: %s", ErrMessageNotFound, id))
		}
		t.Messages = slices.Delete(t.Messages, i, i+1)
		t.Touch(now)
		return nil
	})
	return err
}

// ClearContext empties the active thread but keeps the thread.
func (s *Store) ClearContext(_ context.Context) error {
	const op = "clearContext"
	_, err := s.mutate(op, func(session *model.Session, now time.Time) error {
		t, err := activeThread(op, session)
		if err != nil {
			return err
		}
		t.Messages = []model.Message{}
		t.Touch(now)
		return nil
	})
	return err
}

// CreateThread adds a thread and makes it active. An empty title uses the
// default.
func (s *Store) CreateThread(ctx context.Context, title string) (model.Thread, error) {
	var created model.Thread
	next, err := s.mutate("createThread", func(session *model.Session, now time.Time) error {
		created = newThread(strings.TrimSpace(title), now)
		session.Threads = append(session.Threads, created)
		session.ActiveThreadID = created.ID
		return nil
	})
	if err != nil {
		return model.Thread{}, err
	}
	s.hooks.ExecuteOnThreadCreate(ctx, created.ID, pluginContext(next))
	return created, nil
}

func (s *Store) SwitchThread(_ context.Context, id string) error {
	const op = "switchThread"
	_, err := s.mutate(op, func(session *model.Session, _ time.Time) error {
		if _, err := findThread(op, session, id); err != nil {
			return err
		}
		session.ActiveThreadID = id
		return nil
	})
	return err
}

// DeleteThread removes a thread. When it was active the first remaining
// thread becomes active, or none when the session is left empty.
func (s *Store) DeleteThread(_ context.Context, id string) error {
	const op = "deleteThread"
	_, err := s.mutate(op, func(session *model.Session, _ time.Time) error {
		i := session.ThreadIndex(id)
		if i < 0 {
			return stateErr(op, fmt.Errorf("%w: %s", ErrThreadNotFound, id))
		}
		session.Threads = slices.Delete(session.Threads, i, i+1)
		if session.ActiveThreadID == id {
			session.ActiveThreadID = ""
			if len(session.Threads) > 0 {
				session.ActiveThreadID = session.Threads[0].ID
			}
		}
		return nil
	})
	return err
}

func (s *Store) ArchiveThread(_ context.Context, id string) error {
	return s.updateThread("archiveThread", id, func(t *model.Thread) { t.IsArchived = true })
}

func (s *Store) UnarchiveThread(_ context.Context, id string) error {
	return s.updateThread("unarchiveThread", id, func(t *model.Thread) { t.IsArchived = false })
}

// UpdateThreadTitle renames a thread. A blank title resets it to the
// default.
func (s *Store) UpdateThreadTitle(_ context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		title = model.DefaultThreadTitle
	}
	return s.updateThread("updateThreadTitle", id, func(t *model.Thread) { t.Title = title })
}

// AddTag adds tag to a thread; existing tags are not duplicated.
func (s *Store) AddTag(_ context.Context, threadID, tag string) error {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return nil
	}
	return s.updateThread("addTag", threadID, func(t *model.Thread) {
		if !t.HasTag(tag) {
			t.Tags = append(t.Tags, tag)
		}
	})
}

func (s *Store) RemoveTag(_ context.Context, threadID, tag string) error {
	return s.updateThread("removeTag", threadID, func(t *model.Thread) {
		t.Tags = slices.DeleteFunc(t.Tags, func(have string) bool { return have == tag })
	})
}

func (s *Store) updateThread(op, id string, fn func(t *model.Thread)) error {
	_, err := s.mutate(op, func(session *model.Session, now time.Time) error {
		t, err := findThread(op, session, id)
		if err != nil {
			return err
		}
		fn(t)
		t.Touch(now)
		return nil
	})
	return err
}

// UpdateSettings merges patch into the session settings. The merged result
// must validate; nothing changes otherwise.
func (s *Store) UpdateSettings(ctx context.Context, patch model.SettingsPatch) error {
	const op = "updateSettings"
	if patch.IsEmpty() {
		return nil
	}
	next, err := s.mutate(op, func(session *model.Session, _ time.Time) error {
		merged := patch.Apply(session.Settings)
		if err := merged.Validate(); err != nil {
			return stateErr(op, err)
		}
		session.Settings = merged
		return nil
	})
	if err != nil {
		return err
	}
	s.hooks.ExecuteOnSettingsChange(ctx, patch, pluginContext(next))
	return nil
}

// SearchMessages finds messages in the active session containing query.
func (s *Store) SearchMessages(query string) []storage.MessageMatch {
	st := s.activeState()
	if st == nil {
		return []storage.MessageMatch{}
	}
	return storage.SearchSession(st.snap.Load(), query)
}

// SearchThreads fuzzy-matches thread titles in the active session.
func (s *Store) SearchThreads(query string) []storage.ThreadMatch {
	st := s.activeState()
	if st == nil {
		return nil
	}
	return storage.SearchThreads(st.snap.Load(), query)
}

// SearchAllSessions searches every stored session after flushing pending
// saves.
func (s *Store) SearchAllSessions(ctx context.Context, query string) ([]storage.MessageMatch, error) {
	if err := s.Flush(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Flush before search failed")
	}
	return s.index.SearchAllSessions(ctx, query)
}
