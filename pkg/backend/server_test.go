package backend

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dotsetgreg/trackersync/pkg/remote"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(t *testing.T, h http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_InsertThenFetch(t *testing.T) {
	h := NewServer(newTestSQLiteStore(t)).Routes()

	body, err := json.Marshal(mkSnapshot(t, "s1", 1, 2, 3))
	require.NoError(t, err)
	rec := serve(t, h, http.MethodPost, "/project/p1/conversations/s1/insert", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var written remote.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &written))
	assert.Nil(t, written.Tracker)
	assert.Equal(t, int64(3), written.LastIndex)

	rec = serve(t, h, http.MethodGet, "/project/p1/conversations/s1/1?maxEvents=100", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var env remote.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NotNil(t, env.Tracker)
	assert.Equal(t, []float64{2, 3}, eventStamps(env.Tracker.Events))

	rec = serve(t, h, http.MethodGet, "/project/p1/conversations/s1/3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"tracker":null,"lastIndex":3,"lastTimestamp":3}`, rec.Body.String())
}

func TestServer_BadRequests(t *testing.T) {
	h := NewServer(newTestSQLiteStore(t)).Routes()

	tests := []struct {
		name   string
		method string
		path   string
		body   []byte
		want   string
	}{
		{"non numeric index", http.MethodGet, "/project/p1/conversations/s1/abc", nil, "after must be an integer event index"},
		{"negative max", http.MethodGet, "/project/p1/conversations/s1/0?maxEvents=-3", nil, "maxEvents must be a non-negative integer"},
		{"broken body", http.MethodPost, "/project/p1/conversations/s1/update", []byte(`{`), "tracker body is not valid json"},
		{"sender mismatch", http.MethodPost, "/project/p1/conversations/s1/insert", []byte(`{"sender_id":"s2","events":[]}`), "sender_id does not match the conversation path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var payload struct {
				Message string `json:"message"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
			assert.Equal(t, tt.want, payload.Message)
		})
	}
}

func TestServer_HealthAndStats(t *testing.T) {
	store := newTestSQLiteStore(t)
	h := NewServer(store).Routes()

	rec := serve(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	body, err := json.Marshal(mkSnapshot(t, "s1", 1, 2))
	require.NoError(t, err)
	serve(t, h, http.MethodPost, "/project/p1/conversations/s1/insert", body)

	rec = serve(t, h, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"conversations":1,"events":2}`, rec.Body.String())
}
