// Package connectorsdk is the HTTP client a connector process links against
// to report progress back to the core over the /sdk/* routes: heartbeats,
// scan counts, normalized document events, content bytes, and terminal
// completion/failure/cancel callbacks. It is the connector-side counterpart
// to the core's runLookup/SDK handlers.
package connectorsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/meridian-search/meridian-core/internal/core/domain"
)

const defaultMaxRetries = 3

// Client calls a single sync run's SDK callback routes on the core.
type Client struct {
	baseURL    string
	syncRunID  string
	secret     string
	httpClient *http.Client
	maxRetries int
}

// New creates a Client scoped to one sync run. baseURL is the core's
// address (e.g. http://localhost:8080), secret is the shared secret the
// core registered for this connector's provider type.
func New(baseURL, syncRunID, secret string) *Client {
	return &Client{
		baseURL:    baseURL,
		syncRunID:  syncRunID,
		secret:     secret,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		maxRetries: defaultMaxRetries,
	}
}

// Heartbeat reports that the sync run is still alive.
func (c *Client) Heartbeat(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/sdk/sync/%s/heartbeat", c.syncRunID), nil)
	return err
}

// Scanned reports the number of source items enumerated so far.
func (c *Client) Scanned(ctx context.Context, count int) error {
	body, err := json.Marshal(struct {
		Count int `json:"count"`
	}{Count: count})
	if err != nil {
		return err
	}
	_, err = c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/sdk/sync/%s/scanned", c.syncRunID), body)
	return err
}

// CompleteParams mirrors driving.CompleteParams for the connector side.
type CompleteParams struct {
	DocumentsScanned int             `json:"documents_scanned"`
	DocumentsUpdated int             `json:"documents_updated"`
	NewState         json.RawMessage `json:"new_state,omitempty"`
}

// Complete reports a successful sync run and its new cursor/connector state.
func (c *Client) Complete(ctx context.Context, params CompleteParams) error {
	body, err := json.Marshal(params)
	if err != nil {
		return err
	}
	_, err = c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/sdk/sync/%s/complete", c.syncRunID), body)
	return err
}

// Fail reports that the sync run could not continue.
func (c *Client) Fail(ctx context.Context, reason string) error {
	body, err := json.Marshal(struct {
		Reason string `json:"reason"`
	}{Reason: reason})
	if err != nil {
		return err
	}
	_, err = c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/sdk/sync/%s/fail", c.syncRunID), body)
	return err
}

// Cancel confirms that a requested cancellation has taken effect.
func (c *Client) Cancel(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/sdk/sync/%s/cancel", c.syncRunID), nil)
	return err
}

// Event reports one normalized document mutation. sourceID is carried
// alongside the event so the core can attribute it without a round trip.
func (c *Client) Event(ctx context.Context, sourceID string, event domain.ConnectorEvent) error {
	event.SyncRunID = c.syncRunID
	event.SourceID = sourceID
	body, err := json.Marshal(struct {
		SyncRunID string                `json:"sync_run_id"`
		SourceID  string                `json:"source_id"`
		Event     domain.ConnectorEvent `json:"event"`
	}{SyncRunID: c.syncRunID, SourceID: sourceID, Event: event})
	if err != nil {
		return err
	}
	_, err = c.doRequest(ctx, http.MethodPost, "/sdk/events", body)
	return err
}

// StoreContent uploads raw bytes for a document and returns the resulting
// content blob id, for use as a ConnectorEvent's ContentID.
func (c *Client) StoreContent(ctx context.Context, content []byte, contentType string) (string, error) {
	body, err := json.Marshal(struct {
		SyncRunID   string `json:"sync_run_id"`
		Content     []byte `json:"content"`
		ContentType string `json:"content_type"`
	}{SyncRunID: c.syncRunID, Content: content, ContentType: contentType})
	if err != nil {
		return "", err
	}
	resp, err := c.doRequest(ctx, http.MethodPost, "/sdk/content", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var decoded struct {
		ContentID string `json:"content_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode store content response: %w", err)
	}
	return decoded.ContentID, nil
}

// doRequest performs an authenticated request, retrying 5xx responses with
// exponential backoff: 1 s, 2 s, 4 s and so on, capped at 32 s.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var resp *http.Response
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.secret != "" {
			req.Header.Set("X-Connector-Secret", c.secret)
		}

		resp, err = c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("do request: %w", err)
		}

		if resp.StatusCode < 500 {
			break
		}

		resp.Body.Close()
		backoff := 32 * time.Second
		if attempt < 5 {
			backoff = time.Duration(1<<attempt) * time.Second
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("sdk call %s returned status %d: %s", path, resp.StatusCode, string(respBody))
	}
	return resp, nil
}
