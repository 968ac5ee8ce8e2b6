package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dotsetgreg/trackersync/pkg/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClient_FetchDeltaBuildsURLAndDecodes(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotQuery = r.URL.RawQuery
		_, _ = io.WriteString(w, `{"tracker":{"sender_id":"a b","events":[{"event":"user","timestamp":3,"text":"hi"}],"latest_event_time":3,"paused":false},"lastIndex":7,"lastTimestamp":3}`)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/", time.Second)
	delta, err := c.FetchDelta(context.Background(), FetchRequest{SessionID: "a b", StoreKey: "proj", After: tracker.NoSync, MaxEvents: 100})
	require.NoError(t, err)

	assert.Equal(t, "/project/proj/conversations/a%20b/-1", gotPath)
	assert.Equal(t, "maxEvents=100", gotQuery)
	require.NotNil(t, delta.Snapshot)
	assert.Len(t, delta.Snapshot.Events, 1)
	assert.Equal(t, tracker.SyncMetadata{LastIndex: 7, LastTimestamp: 3}, delta.Meta)
}

func TestHTTPClient_FetchDeltaNullTracker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"tracker":null,"lastIndex":4,"lastTimestamp":9}`)
	}))
	defer srv.Close()

	delta, err := NewHTTPClient(srv.URL, 0).FetchDelta(context.Background(), FetchRequest{SessionID: "s", StoreKey: "p", After: 4})
	require.NoError(t, err)
	assert.Nil(t, delta.Snapshot)
	assert.Equal(t, int64(4), delta.Meta.LastIndex)
}

func TestHTTPClient_PostSendsSnapshot(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody tracker.Snapshot
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = io.WriteString(w, `{"tracker":null,"lastIndex":2,"lastTimestamp":2}`)
	}))
	defer srv.Close()

	ev, err := tracker.NewEvent(tracker.KindUser, 2, map[string]interface{}{"text": "x"})
	require.NoError(t, err)
	snap := tracker.Snapshot{SenderID: "s", Events: []tracker.Event{ev}}

	meta, err := NewHTTPClient(srv.URL, time.Second).UpdateDelta(context.Background(), WriteRequest{SessionID: "s", StoreKey: "p", Snapshot: snap})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/project/p/conversations/s/update", gotPath)
	assert.Len(t, gotBody.Events, 1)
	assert.Equal(t, tracker.SyncMetadata{LastIndex: 2, LastTimestamp: 2}, meta)
}

func TestHTTPClient_StatusErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{name: "bad-request-uses-body", status: http.StatusBadRequest, body: `{"message":"events must be sorted"}`, wantMsg: "events must be sorted"},
		{name: "server-error-uses-reason", status: http.StatusInternalServerError, body: `boom`, wantMsg: "Internal Server Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := NewHTTPClient(srv.URL, time.Second).InsertFull(context.Background(), WriteRequest{SessionID: "s", StoreKey: "p"})
			var statusErr *StatusError
			require.True(t, errors.As(err, &statusErr))
			assert.Equal(t, tt.status, statusErr.Status)
			assert.Equal(t, tt.wantMsg, statusErr.Message)
		})
	}
}

func TestHTTPClient_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `not json`)
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL, time.Second).FetchDelta(context.Background(), FetchRequest{SessionID: "s", StoreKey: "p"})
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestHTTPClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL, 20*time.Millisecond).FetchDelta(context.Background(), FetchRequest{SessionID: "s", StoreKey: "p"})
	assert.Error(t, err)
}

func TestHTTPClient_NotConfigured(t *testing.T) {
	_, err := NewHTTPClient("", time.Second).FetchDelta(context.Background(), FetchRequest{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}
