package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/dotsetgreg/trackersync/pkg/backend"
	"github.com/dotsetgreg/trackersync/pkg/config"
	"github.com/dotsetgreg/trackersync/pkg/tracker"
	"github.com/dotsetgreg/trackersync/pkg/trackerstore"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, tweaks ...func(*config.Config)) *trackerstore.Store {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := backend.NewSQLiteStore(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	srv := httptest.NewServer(backend.NewServer(db).Routes())
	t.Cleanup(srv.Close)

	cfg := config.DefaultConfig()
	cfg.Store.URL = srv.URL
	cfg.Domain.Slots = []tracker.SlotSpec{{Name: "city", InitialValue: "unknown"}}
	for _, tweak := range tweaks {
		tweak(cfg)
	}
	engine, err := newEngine(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	return engine
}

func TestShellTurns(t *testing.T) {
	engine := newTestEngine(t)
	clock := time.Unix(1_700_000_000, 0)
	sh := &shell{store: engine, sessionID: "alice", now: func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}}
	ctx := context.Background()

	res, err := sh.turn(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, "you said: hello", res.Reply)
	assert.Equal(t, 4, res.Events)

	res, err = sh.turn(ctx, "/slot city=oslo")
	require.NoError(t, err)
	assert.Equal(t, 5, res.Events)

	res, err = sh.turn(ctx, "bye")
	require.NoError(t, err)
	assert.Equal(t, 9, res.Events)

	tr, ok := engine.Retrieve(ctx, "alice")
	require.True(t, ok)
	assert.Equal(t, "oslo", tr.Slots["city"])
	assert.Equal(t, "bye", tr.LatestMessage)
	assert.Equal(t, listenAction, tr.LatestActionName)

	st := engine.Stats()
	assert.Equal(t, uint64(1), st.Inserts)
	assert.Equal(t, uint64(2), st.Updates)
}

func TestShellTurnsAreReportedWhenEnabled(t *testing.T) {
	engine := newTestEngine(t, func(cfg *config.Config) { cfg.Turns.Log = true })
	sh := &shell{store: engine, sessionID: "carol", now: time.Now}
	ctx := context.Background()

	_, err := sh.turn(ctx, "hello")
	require.NoError(t, err)
	_, err = sh.turn(ctx, "/slot city=oslo")
	require.NoError(t, err)

	assert.Equal(t, uint64(1), engine.Stats().Turns, "a slot line does not end a turn")
}

func TestShellRejectsBadSlotCommand(t *testing.T) {
	sh := &shell{now: time.Now}
	_, _, err := sh.eventsFor("/slot =x", 1)
	assert.Error(t, err)
}

func TestStatusAPI(t *testing.T) {
	engine := newTestEngine(t)
	sh := &shell{store: engine, sessionID: "bob", now: time.Now}
	_, err := sh.turn(context.Background(), "hi")
	require.NoError(t, err)

	h := newStatusAPI(engine).Routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/bob", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var tr tracker.Tracker
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tr))
	assert.Equal(t, "bob", tr.SenderID)
	assert.Len(t, tr.Events, 4)
	assert.Equal(t, "unknown", tr.Slots["city"])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/nobody", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var st trackerstore.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 1, st.Cached)
	assert.Equal(t, uint64(2), st.NotFound, "the first shell turn and the unknown session")
}
