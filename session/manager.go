package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sonia-labs/turngate/store"
	"github.com/sonia-labs/turngate/telemetry"
)

// Limits bounds session admission.
type Limits struct {
	MaxConcurrentSessions int
	MaxSessionsPerUser    int
	DefaultTTL            time.Duration
	IdleSweepInterval     time.Duration
}

// DefaultLimits mirrors the conservative defaults named in the spec for a
// single-process deployment.
func DefaultLimits() Limits {
	return Limits{
		MaxConcurrentSessions: 10_000,
		MaxSessionsPerUser:    50,
		DefaultTTL:            30 * time.Minute,
		IdleSweepInterval:     30 * time.Second,
	}
}

// Manager owns the in-process Session table, guarded by a single private
// mutex per the gateway's locking discipline — no other component ever
// acquires it directly.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byUser   map[string]int

	store   *store.Store
	rec     *telemetry.Recorder
	limits  Limits
	barge   *bargeInTable
	stop    chan struct{}
	stopped chan struct{}
}

// New constructs a Manager. db may be nil for tests that don't need
// durability; production callers must supply a store so sessions survive
// restart.
func New(db *store.Store, rec *telemetry.Recorder, limits Limits) *Manager {
	if rec == nil {
		rec = telemetry.NewNoopRecorder()
	}
	m := &Manager{
		sessions: make(map[string]*Session),
		byUser:   make(map[string]int),
		store:    db,
		rec:      rec,
		limits:   limits,
		barge:    newBargeInTable(),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	return m
}

// Rehydrate loads active sessions from the durable store into the
// in-process table. Called once on process start.
func (m *Manager) Rehydrate(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	rows, err := m.store.LoadActiveSessions(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range rows {
		s := &Session{
			ID:             row.SessionID,
			UserID:         row.UserID,
			ConversationID: row.ConversationID,
			Profile:        Profile(row.Profile),
			Status:         Status(row.Status),
			CreatedAt:      row.CreatedAt,
			ExpiresAt:      row.ExpiresAt,
			LastActivity:   row.LastActivity,
		}
		m.sessions[s.ID] = s
		m.byUser[s.UserID]++
	}
	return nil
}

// Run starts the idle-expiry sweep goroutine. Call Shutdown to stop it.
func (m *Manager) Run() {
	interval := m.limits.IdleSweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		defer close(m.stopped)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-t.C:
				m.sweepExpired()
			}
		}
	}()
}

// Shutdown stops the idle-expiry sweep and waits for it to exit.
func (m *Manager) Shutdown() {
	close(m.stop)
	<-m.stopped
}

// Create admits a new session, failing with ErrQuotaExceeded when the
// global or per-user concurrency bound would be exceeded.
func (m *Manager) Create(ctx context.Context, userID, conversationID string, profile Profile) (*Session, error) {
	m.mu.Lock()
	if m.limits.MaxConcurrentSessions > 0 && len(m.sessions) >= m.limits.MaxConcurrentSessions {
		m.mu.Unlock()
		return nil, ErrQuotaExceeded
	}
	if m.limits.MaxSessionsPerUser > 0 && m.byUser[userID] >= m.limits.MaxSessionsPerUser {
		m.mu.Unlock()
		return nil, ErrQuotaExceeded
	}
	now := time.Now().UTC()
	ttl := m.limits.DefaultTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	s := &Session{
		ID:             "sess_" + uuid.NewString(),
		UserID:         userID,
		ConversationID: conversationID,
		Profile:        profile,
		Status:         StatusActive,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
		LastActivity:   now,
	}
	m.sessions[s.ID] = s
	m.byUser[userID]++
	m.mu.Unlock()

	if m.store != nil {
		row, err := toRow(s)
		if err == nil {
			_ = m.store.PersistSession(ctx, row)
		}
	}
	m.rec.Emit(ctx, telemetry.Event{
		SessionID: s.ID, Stage: "session", Name: "session_created",
		Timestamp: now, Fields: map[string]any{"user_id": userID},
	})
	return cloneSession(s), nil
}

// Get returns the current state of a session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(s), nil
}

// Close explicitly ends a session, freeing its admission quota and
// releasing its barge-in cancellation token.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	s.Status = StatusClosed
	m.byUser[s.UserID]--
	delete(m.sessions, id)
	m.mu.Unlock()

	m.barge.drop(id)
	if m.store != nil {
		row, err := toRow(s)
		if err == nil {
			_ = m.store.PersistSession(ctx, row)
		}
	}
	m.rec.Emit(ctx, telemetry.Event{
		SessionID: id, Stage: "session", Name: "session_closed", Timestamp: time.Now().UTC(),
	})
	return nil
}

// Touch updates last-activity, moves the in-memory expiry to last-activity
// plus the TTL, and increments the turn counter. The durable write is
// best-effort and async, persists last-activity only, and its failures are
// logged, never surfaced to the calling turn.
func (m *Manager) Touch(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	now := time.Now().UTC()
	ttl := m.limits.DefaultTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	s.LastActivity = now
	s.ExpiresAt = now.Add(ttl)
	s.TurnCount++
	snapshot := cloneSession(s)
	m.mu.Unlock()

	if m.store != nil {
		go func() {
			if err := m.store.TouchSession(context.Background(), snapshot.ID, now); err != nil {
				m.rec.Emit(ctx, telemetry.Event{
					SessionID: id, Stage: "session", Name: "touch_persist_failed",
					Timestamp: time.Now().UTC(), Fields: map[string]any{"error": err.Error()},
				})
			}
		}()
	}
	return nil
}

func (m *Manager) sweepExpired() {
	now := time.Now().UTC()
	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if s.ExpiresAt.Before(now) {
			s.Status = StatusExpired
			expired = append(expired, cloneSession(s))
			delete(m.sessions, id)
			m.byUser[s.UserID]--
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		m.barge.drop(s.ID)
		if m.store != nil {
			if row, err := toRow(s); err == nil {
				_ = m.store.PersistSession(context.Background(), row)
			}
		}
		m.rec.Emit(context.Background(), telemetry.Event{
			SessionID: s.ID, Stage: "session", Name: "session_expired", Timestamp: now,
		})
	}
}

func cloneSession(s *Session) *Session {
	cp := *s
	return &cp
}

func toRow(s *Session) (store.SessionRow, error) {
	meta, err := json.Marshal(map[string]any{
		"vision_enabled":   s.VisionEnabled,
		"rate_limit_class": s.RateLimitClass,
		"active_streams":   s.ActiveStreams,
	})
	if err != nil {
		return store.SessionRow{}, err
	}
	return store.SessionRow{
		SessionID:      s.ID,
		UserID:         s.UserID,
		ConversationID: s.ConversationID,
		Profile:        string(s.Profile),
		Status:         string(s.Status),
		CreatedAt:      s.CreatedAt,
		ExpiresAt:      s.ExpiresAt,
		LastActivity:   s.LastActivity,
		MetadataJSON:   string(meta),
	}, nil
}
