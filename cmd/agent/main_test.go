package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookingagent/internal/booking"
	"bookingagent/internal/config"
	"bookingagent/internal/session"
)

func TestAdminClientSendsKey(t *testing.T) {
	var gotKey, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode(map[string]int{"removed": 3})
	}))
	defer srv.Close()

	c := &adminClient{baseURL: srv.URL, apiKey: "k", http: srv.Client()}
	var resp struct {
		Removed int `json:"removed"`
	}
	require.NoError(t, c.do(context.Background(), http.MethodPost, "/api/agent/sessions/sweep", &resp))
	assert.Equal(t, "k", gotKey)
	assert.Equal(t, "/api/agent/sessions/sweep", gotPath)
	assert.Equal(t, 3, resp.Removed)
}

func TestAdminClientReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := &adminClient{baseURL: srv.URL, apiKey: "k", http: srv.Client()}
	err := c.do(context.Background(), http.MethodDelete, "/api/agent/sessions/x", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "session not found")
}

func TestPrintSessions(t *testing.T) {
	var buf bytes.Buffer
	updated := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, printSessions(&buf, []session.Summary{{
		ID: "abc", State: booking.StateCollectingDetails, Language: booking.LangEnglish, Collected: 4, UpdatedAt: updated,
	}}))
	out := buf.String()
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "abc")
	assert.Contains(t, out, "collecting_details")
	assert.Contains(t, out, "2024-06-01T12:00:00Z")
}

func TestNewSessionStore(t *testing.T) {
	logger := zerolog.Nop()
	cfg := &config.Config{}

	store, locker := newSessionStore(cfg, nil, &logger)
	assert.IsType(t, &session.MemoryStore{}, store)
	assert.IsType(t, &session.KeyedMutex{}, locker)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	cfg.Session.Store = "redis"
	store, locker = newSessionStore(cfg, rdb, &logger)
	assert.IsType(t, &session.FailoverStore{}, store)
	assert.IsType(t, &session.RedisLocker{}, locker)
	assert.NoError(t, store.Ping(context.Background()))
}

func TestNewLoggerLevel(t *testing.T) {
	cfg := &config.Config{}
	cfg.App.LogLevel = "warn"
	assert.Equal(t, zerolog.WarnLevel, newLogger(cfg).GetLevel())

	cfg.App.LogLevel = "bogus"
	assert.Equal(t, zerolog.InfoLevel, newLogger(cfg).GetLevel())
}
