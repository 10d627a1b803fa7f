package waha

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/leadpilot/internal/config"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(config.GatewayConfig{
		BaseURL:           srv.URL,
		APIKey:            "secret",
		Session:           "default",
		Timeout:           time.Second,
		RequestsPerSecond: 1000,
		Burst:             10,
		MaxRetries:        2,
		RetryDelay:        time.Millisecond,
	}, "TR", nil)
}

func TestSendText(t *testing.T) {
	var got sendTextRequest
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/sendText", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))

	require.NoError(t, c.SendText(context.Background(), "0555 111 22 33", "Merhaba"))
	assert.Equal(t, sendTextRequest{Session: "default", ChatID: "905551112233@c.us", Text: "Merhaba"}, got)
}

func TestSendTextIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "engine crashed", http.StatusInternalServerError)
	}))

	err := c.SendText(context.Background(), "905551112233@c.us", "Merhaba")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.Code)
	assert.EqualValues(t, 1, calls.Load())

	assert.Error(t, c.SendText(context.Background(), "905551112233@c.us", "  "))
	assert.EqualValues(t, 1, calls.Load(), "empty text never reaches the gateway")
}

func TestGetMessagesRetriesAndSorts(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		assert.Equal(t, "905551112233@c.us", r.URL.Query().Get("chatId"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`[
			{"id": "m3", "body": "third", "timestamp": 30},
			{"id": {"_serialized": "m2"}, "body": "second", "timestamp": 20, "fromMe": true},
			{"id": "m1", "body": "first", "timestamp": 10}
		]`))
	}))

	msgs, err := c.GetMessages(context.Background(), "905551112233@c.us", 5)
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())
	require.Len(t, msgs, 3)
	assert.Equal(t, FlexID("m1"), msgs[0].ID)
	assert.Equal(t, FlexID("m2"), msgs[1].ID)
	assert.True(t, msgs[1].FromMe)
	assert.Equal(t, "third", msgs[2].Body)
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := c.GetMessages(context.Background(), "905551112233@c.us", 5)
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestGetChatsFallsBackToSessionPath(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/chats":
			http.NotFound(w, r)
		case "/api/default/chats":
			_, _ = w.Write([]byte(`[{"id": "905551112233@c.us", "name": "Cafe"}, {"id": "123@g.us"}]`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	chats, err := c.GetChats(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, "905551112233@c.us", chats[0].ID.String())
}

func TestIsAvailableStartsStoppedSession(t *testing.T) {
	var started atomic.Bool
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/sessions/default":
			_, _ = w.Write([]byte(`{"name": "default", "status": "STOPPED"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/api/sessions/default/start":
			started.Store(true)
			w.WriteHeader(http.StatusCreated)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	}))

	assert.True(t, c.IsAvailable(context.Background()))
	assert.True(t, started.Load())
}

func TestIsAvailableWorking(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		_, _ = w.Write([]byte(`{"name": "default", "status": "WORKING"}`))
	}))
	assert.True(t, c.IsAvailable(context.Background()))
}

func TestIsAvailableDown(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	assert.False(t, c.IsAvailable(context.Background()))
}

func TestMarkSeenFallsBack(t *testing.T) {
	var paths []string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/api/sendSeen" {
			http.NotFound(w, r)
			return
		}
		var body chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "905551112233@c.us", body.ChatID)
	}))

	require.NoError(t, c.MarkSeen(context.Background(), "905551112233"))
	assert.Equal(t, []string{"/api/sendSeen", "/api/seen"}, paths)
}
