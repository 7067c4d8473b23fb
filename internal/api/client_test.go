package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingmanhq/offline-sync/internal/action"
)

func TestRegister_PostsActionBody(t *testing.T) {
	var got registerBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/pwa/queue", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	err := c.Register(context.Background(), action.Queued{
		ID:       "a-1",
		Action:   "like_post",
		Endpoint: "/api/public/forum-posts/42/like",
		Method:   "POST",
		Payload:  json.RawMessage(`{"userId":"u1"}`),
		UserID:   "u1",
	})
	require.NoError(t, err)

	assert.Equal(t, "like_post", got.Action)
	assert.Equal(t, "/api/public/forum-posts/42/like", got.Endpoint)
	assert.Equal(t, "POST", got.Method)
	assert.Equal(t, "u1", got.UserID)
}

func TestRegister_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := New(srv.URL, nil).Register(context.Background(), action.Queued{Method: "POST"})
	assert.Error(t, err)
}

func TestProcessAll_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/pwa/queue/process", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, true, body["processAll"])

		_ = json.NewEncoder(w).Encode(ProcessResult{Success: true, Processed: 3, Failed: 1})
	}))
	defer srv.Close()

	result, err := New(srv.URL, nil).ProcessAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 1, result.Failed)
}

func TestProcessAll_ServerReportsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ProcessResult{Success: false})
	}))
	defer srv.Close()

	_, err := New(srv.URL, nil).ProcessAll(context.Background())
	assert.Error(t, err)
}

func TestStatus_ReturnsCounts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/pwa/queue/status", r.URL.Path)
		_ = json.NewEncoder(w).Encode(StatusResult{Success: true, Total: 5, Pending: 3, Processing: 2})
	}))
	defer srv.Close()

	result, err := New(srv.URL, nil).Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Pending)
	assert.Equal(t, 2, result.Processing)
}

func TestStatus_TimesOutOnHungServer(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	_, err := New(srv.URL, nil).Status(context.Background())
	assert.Error(t, err)
	assert.Less(t, time.Since(start), StatusTimeout+time.Second)
}

func TestStatus_HonorsConfiguredTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	client := New(srv.URL, nil, WithStatusTimeout(100*time.Millisecond))

	start := time.Now()
	_, err := client.Status(context.Background())
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestReplay_RelativeEndpointResolvesAgainstBase(t *testing.T) {
	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		buf := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(buf)
		gotBody = string(buf)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	status, err := New(srv.URL, nil).Replay(context.Background(), action.Queued{
		ID:       "a-1",
		Endpoint: "/api/public/forum-posts",
		Method:   "POST",
		Payload:  json.RawMessage(`{"title":"t"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "/api/public/forum-posts", gotPath)
	assert.JSONEq(t, `{"title":"t"}`, gotBody)
}

func TestReplay_Non2xxIsNotTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	status, err := New(srv.URL, nil).Replay(context.Background(), action.Queued{
		ID: "a-1", Endpoint: "/api/x", Method: "POST",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestReplay_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	_, err := New(srv.URL, nil).Replay(context.Background(), action.Queued{
		ID: "a-1", Endpoint: "/api/x", Method: "POST",
	})
	assert.Error(t, err)
}
