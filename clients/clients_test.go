package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sonia-labs/turngate/retrytaxonomy"
)

func TestModelRouter_ChatRoundTrip(t *testing.T) {
	t.Parallel()

	var captured ModelRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		require.NoError(t, json.NewEncoder(w).Encode(ModelResponse{Response: "hello"}))
	}))
	defer server.Close()

	c := NewModelRouter(Config{BaseURL: server.URL})
	resp, err := c.Chat(context.Background(), ModelRequest{
		Messages:      []Message{{Role: "user", Content: "hi"}},
		TaskType:      "chat",
		CorrelationID: "corr_abcd1234",
	})
	require.NoError(t, err)
	require.Equal(t, "hello", resp.Response)
	require.Equal(t, "chat", captured.TaskType)
}

func TestModelRouter_NonOKStatusReturnsStatusError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("backend down"))
	}))
	defer server.Close()

	c := NewModelRouter(Config{BaseURL: server.URL})
	_, err := c.Chat(context.Background(), ModelRequest{})
	require.Error(t, err)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
}

func TestBearerToken_AttachedToOutboundRequest(t *testing.T) {
	t.Parallel()

	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"stored":true}`))
	}))
	defer server.Close()

	c := NewMemoryEngine(Config{BaseURL: server.URL, BearerToken: "svc-token"})
	_, err := c.Store(context.Background(), MemoryStoreRequest{SessionID: "s1", Content: "x"})
	require.NoError(t, err)
	require.Equal(t, "Bearer svc-token", gotAuth)
}

func TestToolExecutor_ExecuteRoundTrip(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/execute", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"ok","result":{"n":1}}`))
	}))
	defer server.Close()

	c := NewToolExecutor(Config{BaseURL: server.URL})
	resp, err := c.Execute(context.Background(), ToolExecuteRequest{ToolName: "file.read"})
	require.NoError(t, err)
	require.Equal(t, "ok", resp.Status)
}

func TestPerception_AnalyzeRoundTrip(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/analyze", r.URL.Path)
		_, _ = w.Write([]byte(`{"response":"a cat"}`))
	}))
	defer server.Close()

	c := NewPerception(Config{BaseURL: server.URL})
	resp, err := c.Analyze(context.Background(), PerceptionRequest{TaskType: "vision"})
	require.NoError(t, err)
	require.Equal(t, "a cat", resp.Response)
}

// TestTransportError_ClassifiesAsConnectionBootstrapWhenUnreachable ensures a
// backend client's transport-level error (server never started) feeds
// retrytaxonomy.Classify a signal it recognizes.
func TestTransportError_ClassifiesAsConnectionBootstrapWhenUnreachable(t *testing.T) {
	t.Parallel()

	c := NewModelRouter(Config{BaseURL: "http://127.0.0.1:1"})
	_, err := c.Chat(context.Background(), ModelRequest{})
	require.Error(t, err)

	fc := retrytaxonomy.Classify(retrytaxonomy.Input{Err: err})
	require.Equal(t, retrytaxonomy.ConnectionBootstrap, fc)
}
