package chat

import (
	"context"
	"errors"
	"sync"
	"time"
)

// saveTimeout bounds one background save.
const saveTimeout = 10 * time.Second

// autosaver writes dirty sessions in the background. Marks coalesce: a
// session marked many times before the worker runs is saved once, from its
// latest snapshot.
type autosaver struct {
	store *Store

	mu      sync.Mutex
	pending map[string]struct{}
	wake    chan struct{}

	saveMu sync.Mutex // one write at a time so an older snapshot never lands last

	done chan struct{}
	quit chan struct{}
	once sync.Once
}

func newAutosaver(s *Store) *autosaver {
	a := &autosaver{
		store:   s,
		pending: make(map[string]struct{}),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		quit:    make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *autosaver) mark(id string) {
	a.mu.Lock()
	a.pending[id] = struct{}{}
	a.mu.Unlock()

	select {
	case a.wake <- struct{}{}:
	default:
	}
}

func (a *autosaver) forget(id string) {
	a.mu.Lock()
	delete(a.pending, id)
	a.mu.Unlock()
}

func (a *autosaver) run() {
	defer close(a.done)
	for {
		select {
		case <-a.quit:
			return
		case <-a.wake:
			ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
			a.flush(ctx)
			cancel()
		}
	}
}

func (a *autosaver) take() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, 0, len(a.pending))
	for id := range a.pending {
		ids = append(ids, id)
	}
	clear(a.pending)
	return ids
}

// flush saves every pending session. Failures are reported and the
// session is marked again so the next flush retries it.
func (a *autosaver) flush(ctx context.Context) error {
	var errs []error
	for _, id := range a.take() {
		if err := a.saveNow(ctx, id); err != nil {
			errs = append(errs, err)
			a.mu.Lock()
			a.pending[id] = struct{}{}
			a.mu.Unlock()
		}
	}
	return errors.Join(errs...)
}

// saveNow writes the session's current snapshot. Sessions no longer open
// are skipped.
func (a *autosaver) saveNow(ctx context.Context, id string) error {
	a.saveMu.Lock()
	defer a.saveMu.Unlock()

	st := a.store.state(id)
	if st == nil {
		return nil
	}
	if err := a.store.repo.Save(ctx, st.snap.Load()); err != nil {
		a.store.reportPersistence("save", err)
		a.store.setError(err)
		return err
	}
	a.store.saved()
	return nil
}

// exclusive runs fn with no save in progress.
func (a *autosaver) exclusive(fn func() error) error {
	a.saveMu.Lock()
	defer a.saveMu.Unlock()
	return fn()
}

func (a *autosaver) stop() {
	a.once.Do(func() { close(a.quit) })
	<-a.done
}
