// Package dlq implements the Dead-Letter Queue: a bounded in-memory FIFO
// mirrored to the Durable Store, plus the Replay Policy engine gating
// dry-run and live replay of captured failures.
package dlq

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sonia-labs/turngate/retrytaxonomy"
	"github.com/sonia-labs/turngate/store"
	"github.com/sonia-labs/turngate/telemetry"
)

// MaxDeadLetters is the default FIFO capacity; exceeding it evicts the
// oldest entry.
const MaxDeadLetters = 1000

// Letter is one captured terminal failure, eligible for policy-gated
// replay.
type Letter struct {
	LetterID      string
	CorrelationID string
	ActionType    string
	PayloadHash   string
	FailureClass  retrytaxonomy.FailureClass
	RetryCount    int
	CreatedAt     time.Time
	Payload       map[string]any
	ReplayHistory []ReplayResult
}

// Fingerprint is a stable identity over the letter's classification fields,
// used to detect repeat replay of the same logical failure.
func (l Letter) Fingerprint() string {
	sum := sha256.Sum256([]byte(l.LetterID + "|" + l.ActionType + "|" + l.PayloadHash + "|" + string(l.FailureClass)))
	return hex.EncodeToString(sum[:])
}

// HashPayload canonicalizes payload to a stable redacted hash suitable for
// the durable letter_hash column.
func HashPayload(payload map[string]any) string {
	redacted := telemetry.RedactFields(payload)
	b, _ := json.Marshal(redacted)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Queue is the bounded in-memory FIFO dead-letter queue, durably mirrored.
type Queue struct {
	mu       sync.Mutex
	letters  []Letter // oldest first
	capacity int
	store    *store.Store
	rec      *telemetry.Recorder
}

// New constructs a Queue with the given capacity (0 selects
// MaxDeadLetters). db may be nil for tests; rec may be nil.
func New(capacity int, db *store.Store, rec *telemetry.Recorder) *Queue {
	if capacity <= 0 {
		capacity = MaxDeadLetters
	}
	if rec == nil {
		rec = telemetry.NewNoopRecorder()
	}
	return &Queue{capacity: capacity, store: db, rec: rec}
}

// Enqueue always succeeds and never blocks a live turn: if the queue is at
// capacity the oldest entry is evicted (FIFO) before the new one is
// appended.
func (q *Queue) Enqueue(ctx context.Context, letter Letter) Letter {
	if letter.LetterID == "" {
		letter.LetterID = "dl_" + uuid.NewString()
	}
	if letter.CreatedAt.IsZero() {
		letter.CreatedAt = time.Now().UTC()
	}

	q.mu.Lock()
	var evicted *Letter
	if len(q.letters) >= q.capacity {
		ev := q.letters[0]
		evicted = &ev
		q.letters = q.letters[1:]
	}
	q.letters = append(q.letters, letter)
	q.mu.Unlock()

	if q.store != nil {
		go func() {
			row, err := toRow(letter)
			if err == nil {
				_ = q.store.PersistDeadLetter(context.Background(), row)
			}
			if evicted != nil {
				_ = q.store.DeleteDeadLetter(context.Background(), evicted.LetterID)
			}
		}()
	}
	q.rec.Emit(ctx, telemetry.Event{
		CorrelationID: letter.CorrelationID, Stage: "dlq", Name: "enqueued",
		Timestamp: letter.CreatedAt,
		Fields:    map[string]any{"failure_class": string(letter.FailureClass)},
	})
	return letter
}

// List returns up to limit letters, newest-first, skipping offset entries.
func (q *Queue) List(offset, limit int) []Letter {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.letters)
	out := make([]Letter, 0, limit)
	for i := n - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, q.letters[i])
	}
	return out
}

// Get returns the letter with the given id, if still present.
func (q *Queue) Get(letterID string) (Letter, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, l := range q.letters {
		if l.LetterID == letterID {
			return l, true
		}
	}
	return Letter{}, false
}

// recordReplay appends a replay result to the letter's history in place,
// used by the Replay Policy engine after a LIVE (or accepted DRY_RUN)
// evaluation.
func (q *Queue) recordReplay(letterID string, result ReplayResult) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.letters {
		if q.letters[i].LetterID == letterID {
			q.letters[i].ReplayHistory = append(q.letters[i].ReplayHistory, result)
			if q.store != nil {
				row, err := toRow(q.letters[i])
				if err == nil {
					go func() { _ = q.store.PersistDeadLetter(context.Background(), row) }()
				}
			}
			return
		}
	}
}

func toRow(l Letter) (store.DeadLetterRow, error) {
	history, err := json.Marshal(l.ReplayHistory)
	if err != nil {
		return store.DeadLetterRow{}, err
	}
	return store.DeadLetterRow{
		LetterID:          l.LetterID,
		CorrelationID:     l.CorrelationID,
		PayloadHash:       l.PayloadHash,
		FailureClass:      string(l.FailureClass),
		RetryCount:        l.RetryCount,
		CreatedAt:         l.CreatedAt,
		ReplayHistoryJSON: string(history),
	}, nil
}
