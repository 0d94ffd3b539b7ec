package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sonia-labs/turngate/breaker"
	"github.com/sonia-labs/turngate/budget"
	"github.com/sonia-labs/turngate/clients"
	"github.com/sonia-labs/turngate/dlq"
	"github.com/sonia-labs/turngate/queue"
	"github.com/sonia-labs/turngate/ratelimit"
	"github.com/sonia-labs/turngate/session"
	"github.com/sonia-labs/turngate/toolpolicy"
	"github.com/sonia-labs/turngate/turn"
)

func newTestServer(t *testing.T, modelURL string) (http.Handler, *session.Manager) {
	t.Helper()
	ctx := context.Background()

	sessions := session.New(nil, nil, session.Limits{MaxConcurrentSessions: 100, DefaultTTL: time.Hour})
	limiter := ratelimit.New(ratelimit.Config{RatePerSecond: 1000, Burst: 1000}, nil)
	breakers := breaker.NewRegistry(nil, breaker.DefaultConfig())
	classifier, err := toolpolicy.NewClassifier(ctx, toolpolicy.AllowLists{})
	require.NoError(t, err)
	gate := toolpolicy.NewGate(nil, nil, 0)
	gov := budget.New(nil, 0)
	letters := dlq.New(0, nil, nil)
	q := queue.New(16)

	deps := turn.Deps{
		Sessions: sessions, Limiter: limiter, Breakers: breakers,
		Classifier: classifier, Gate: gate, Budget: gov,
		DLQ: letters, Queue: q,
	}
	if modelURL != "" {
		deps.Model = clients.NewModelRouter(clients.Config{BaseURL: modelURL})
	}
	pipeline := turn.New(turn.DefaultConfig(), deps)

	router := NewRouter(Deps{
		Pipeline: pipeline, Sessions: sessions, Gate: gate, Breakers: breakers,
		DLQ: letters, Queue: q, Auth: AuthConfig{Bypass: true},
	})
	return router, sessions
}

func TestHealthz_ReturnsOK(t *testing.T) {
	t.Parallel()
	router, _ := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
}

func TestCreateAndFetchSession(t *testing.T) {
	t.Parallel()
	router, _ := newTestServer(t, "")

	createReq := httptest.NewRequest(http.MethodPost, "/v1/sessions", bytes.NewBufferString(`{"user_id":"u1","conversation_id":"c1"}`))
	createRec := httptest.NewRecorder()
	router.ServeHTTP(createRec, createReq)
	require.Equal(t, http.StatusCreated, createRec.Code)

	var created session.Session
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	getReq := httptest.NewRequest(http.MethodGet, "/v1/sessions/"+created.ID, nil)
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)
}

func TestGetSession_UnknownIDReturns404(t *testing.T) {
	t.Parallel()
	router, _ := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/does_not_exist", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPostTurn_HappyPath(t *testing.T) {
	t.Parallel()
	modelServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"hello there"}`))
	}))
	defer modelServer.Close()

	router, sessions := newTestServer(t, modelServer.URL)
	sess, err := sessions.Create(context.Background(), "u1", "c1", session.ProfileLowLatencyChat)
	require.NoError(t, err)

	body, _ := json.Marshal(turnRequest{SessionID: sess.ID, ClientID: "u1", Text: "hi"})
	req := httptest.NewRequest(http.MethodPost, "/v1/turn", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp turnResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.OK)
	require.Equal(t, "hello there", resp.AssistantText)
}

func TestPostTurn_UnknownSessionReturnsSessionNotFound(t *testing.T) {
	t.Parallel()
	router, _ := newTestServer(t, "")

	body, _ := json.Marshal(turnRequest{SessionID: "sess_missing", ClientID: "u1", Text: "hi"})
	req := httptest.NewRequest(http.MethodPost, "/v1/turn", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	var resp turnResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.OK)
	require.Equal(t, turn.CodeSessionNotFound, resp.Error.Code)
}

func TestPostTurn_MissingSessionIDIsInvalidArgument(t *testing.T) {
	t.Parallel()
	router, _ := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodPost, "/v1/turn", bytes.NewBufferString(`{"client_id":"u1","text":"hi"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthenticate_RejectsMissingBearerTokenWhenNotBypassed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	sessions := session.New(nil, nil, session.Limits{MaxConcurrentSessions: 10, DefaultTTL: time.Hour})
	classifier, err := toolpolicy.NewClassifier(ctx, toolpolicy.AllowLists{})
	require.NoError(t, err)
	pipeline := turn.New(turn.DefaultConfig(), turn.Deps{
		Sessions: sessions, Limiter: ratelimit.New(ratelimit.Config{RatePerSecond: 10, Burst: 10}, nil),
		Breakers: breaker.NewRegistry(nil, breaker.DefaultConfig()), Classifier: classifier,
		Gate: toolpolicy.NewGate(nil, nil, 0), Budget: budget.New(nil, 0),
		DLQ: dlq.New(0, nil, nil), Queue: queue.New(16),
	})
	router := NewRouter(Deps{
		Pipeline: pipeline, Sessions: sessions, Gate: toolpolicy.NewGate(nil, nil, 0),
		Breakers: breaker.NewRegistry(nil, breaker.DefaultConfig()), DLQ: dlq.New(0, nil, nil),
		Queue: queue.New(16), Auth: AuthConfig{Bypass: false, KeyProvider: StaticKeyProvider{Key: []byte("secret")}},
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListPendingConfirmations_EmptyBySessionID(t *testing.T) {
	t.Parallel()
	router, _ := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodGet, "/v1/confirmations/pending?session_id=none", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Nil(t, body["pending"])
}

func TestApproveConfirmation_UnknownIDReturnsNotFound(t *testing.T) {
	t.Parallel()
	router, _ := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodPost, "/v1/confirmations/conf_missing/approve", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "not_found", body["status"])
}

func TestDiagnosticsSnapshot_ReturnsBreakersAndQueue(t *testing.T) {
	t.Parallel()
	router, _ := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodGet, "/diagnostics/snapshot", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body, "breakers")
	require.Contains(t, body, "queue")
	require.Contains(t, body, "correlation_id")
}
