package session

import (
	"context"
	"sync"
	"time"
)

// BargeInWait bounds how long RequestNewTurn waits for a preempted turn to
// observe cancellation before admitting the new one.
const BargeInWait = 100 * time.Millisecond

// turnToken is the cancellation handle for one in-flight turn on a session,
// generalizing the teacher's signal-channel pause/resume into a plain
// context.CancelFunc pair plus a done channel the owning turn closes when
// it has observed cancellation and released its resources.
type turnToken struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// bargeInTable holds the current turn token per session, guarded by its own
// mutex so it never needs to reach into the Manager's lock.
type bargeInTable struct {
	mu     sync.Mutex
	tokens map[string]*turnToken
}

func newBargeInTable() *bargeInTable {
	return &bargeInTable{tokens: make(map[string]*turnToken)}
}

func (t *bargeInTable) drop(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tok, ok := t.tokens[sessionID]; ok {
		tok.cancel()
		delete(t.tokens, sessionID)
	}
}

// RequestNewTurn enforces "at most one in-flight turn per session": it
// cancels the session's current turn (if any) and waits, bounded by
// BargeInWait, for that turn to signal it observed cancellation, then
// installs and returns a fresh cancellation context for the new turn. The
// returned done func must be called by the new turn's owner when the turn
// finishes, successfully or not, so a subsequent barge-in doesn't wait on a
// token nobody will ever close.
func (m *Manager) RequestNewTurn(parent context.Context, sessionID string) (ctx context.Context, done func(), err error) {
	if _, getErr := m.Get(sessionID); getErr != nil {
		return nil, nil, getErr
	}

	m.barge.mu.Lock()
	prior, had := m.barge.tokens[sessionID]
	if had {
		prior.cancel()
	}
	m.barge.mu.Unlock()

	if had {
		select {
		case <-prior.done:
		case <-time.After(BargeInWait):
		}
	}

	turnCtx, cancel := context.WithCancel(parent)
	tok := &turnToken{cancel: cancel, done: make(chan struct{})}

	m.barge.mu.Lock()
	m.barge.tokens[sessionID] = tok
	m.barge.mu.Unlock()

	var once sync.Once
	done = func() {
		once.Do(func() {
			close(tok.done)
			m.barge.mu.Lock()
			if m.barge.tokens[sessionID] == tok {
				delete(m.barge.tokens, sessionID)
			}
			m.barge.mu.Unlock()
		})
	}
	return turnCtx, done, nil
}
