// TrackerSync - session tracker cache and synchronization engine
// License: MIT
//
// Copyright (c) 2026 TrackerSync contributors

package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dotsetgreg/trackersync/pkg/logger"
	"github.com/dotsetgreg/trackersync/pkg/tracker"
)

const defaultRequestTimeout = time.Second

type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) conversationURL(storeKey, sessionID, suffix string) string {
	return fmt.Sprintf("%s/project/%s/conversations/%s/%s",
		c.baseURL,
		url.PathEscape(storeKey),
		url.PathEscape(sessionID),
		suffix,
	)
}

func (c *HTTPClient) FetchDelta(ctx context.Context, req FetchRequest) (*Delta, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}

	u := c.conversationURL(req.StoreKey, req.SessionID, strconv.FormatInt(req.After, 10))
	if req.MaxEvents > 0 {
		u += "?maxEvents=" + strconv.Itoa(req.MaxEvents)
	}

	logger.DebugCF("remote", "GET request for tracker", map[string]interface{}{
		"session_id": req.SessionID,
		"after":      req.After,
	})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	env, err := c.do(httpReq, "get")
	if err != nil {
		return nil, err
	}
	return &Delta{Snapshot: env.Tracker, Meta: env.Meta()}, nil
}

func (c *HTTPClient) InsertFull(ctx context.Context, req WriteRequest) (tracker.SyncMetadata, error) {
	return c.post(ctx, req, "insert")
}

func (c *HTTPClient) UpdateDelta(ctx context.Context, req WriteRequest) (tracker.SyncMetadata, error) {
	return c.post(ctx, req, "update")
}

func (c *HTTPClient) post(ctx context.Context, req WriteRequest, method string) (tracker.SyncMetadata, error) {
	if c.baseURL == "" {
		return tracker.SyncMetadata{}, ErrNotConfigured
	}

	body, err := json.Marshal(req.Snapshot)
	if err != nil {
		return tracker.SyncMetadata{}, fmt.Errorf("failed to marshal tracker: %w", err)
	}

	logger.DebugCF("remote", "POST request for tracker", map[string]interface{}{
		"session_id": req.SessionID,
		"method":     method,
		"events":     len(req.Snapshot.Events),
	})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.conversationURL(req.StoreKey, req.SessionID, method), bytes.NewReader(body))
	if err != nil {
		return tracker.SyncMetadata{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	env, err := c.do(httpReq, "post")
	if err != nil {
		return tracker.SyncMetadata{}, err
	}
	return env.Meta(), nil
}

func (c *HTTPClient) do(req *http.Request, op string) (Envelope, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Envelope{}, fmt.Errorf("%s request to remote store failed: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Envelope{}, &StatusError{Op: op, Status: resp.StatusCode, Message: statusMessage(resp, body)}
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return env, nil
}

// statusMessage prefers the store's own explanation for bad requests and
// falls back to the HTTP reason phrase otherwise.
func statusMessage(resp *http.Response, body []byte) string {
	if resp.StatusCode == http.StatusBadRequest {
		var payload struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
			return payload.Message
		}
		if s := strings.TrimSpace(string(body)); s != "" {
			return s
		}
	}
	return http.StatusText(resp.StatusCode)
}
