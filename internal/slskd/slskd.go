// package slskd implements an HTTP client for the slskd daemon API:
// search lifecycle, transfer enqueueing, and transfer polling.
package slskd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/MXC1/spotiseek/internal/shared"
)

const apiPrefix = "/api/v0"

// File is a single remote file offered in a search response or tracked as
// a transfer.
type File struct {
	ID        string `json:"id,omitempty"`
	Username  string `json:"username,omitempty"`
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	BitRate   int    `json:"bitRate,omitempty"`
	Extension string `json:"extension,omitempty"`
}

// Ext returns the file's extension, lowercase without the dot. When the
// daemon omits the metadata field it falls back to the filename suffix.
func (f *File) Ext() string {
	if f.Extension != "" {
		return strings.ToLower(strings.TrimPrefix(f.Extension, "."))
	}
	idx := strings.LastIndex(f.Filename, ".")
	if idx < 0 || idx == len(f.Filename)-1 {
		return ""
	}
	return strings.ToLower(f.Filename[idx+1:])
}

// RemoteID identifies the remote file for blacklisting. Transfers carry a
// daemon-assigned id; search results are identified by peer and path.
func (f *File) RemoteID() string {
	if f.ID != "" {
		return f.ID
	}
	return f.Username + "::" + f.Filename
}

// BaseName returns the path-less remote filename. Soulseek paths use
// backslashes regardless of the peer's platform.
func (f *File) BaseName() string {
	name := f.Filename
	if idx := strings.LastIndex(name, "\\"); idx >= 0 {
		name = name[idx+1:]
	}
	return path.Base(name)
}

// Search is the daemon's view of a search.
type Search struct {
	ID            string `json:"id"`
	State         string `json:"state"`
	ResponseCount int    `json:"responseCount"`
	FileCount     int    `json:"fileCount"`
}

// IsComplete reports whether the search has finished, regardless of how.
func (s *Search) IsComplete() bool {
	return strings.Contains(s.State, "Completed")
}

// SearchResponse is one peer's answer to a search.
type SearchResponse struct {
	Username string `json:"username"`
	Files    []File `json:"files"`
}

// Transfer is one tracked download.
type Transfer struct {
	ID               string `json:"id"`
	Username         string `json:"username"`
	Filename         string `json:"filename"`
	State            string `json:"state"`
	BytesTransferred int64  `json:"bytesTransferred"`
	Size             int64  `json:"size"`
}

// Terminal daemon transfer states.
const (
	TransferSucceeded = "Completed, Succeeded"
	TransferErrored   = "Completed, Errored"
	TransferCancelled = "Completed, Cancelled"
	TransferTimedOut  = "Completed, TimedOut"
	TransferRejected  = "Completed, Rejected"
)

// Client talks to a slskd daemon. All calls are rate limited and carry the
// configured per-request timeout.
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	limiter *rate.Limiter
	http    *http.Client
	logger  *log.Logger
}

// NewClient builds a [Client] from connection settings. A rateLimit of 0
// disables throttling.
func NewClient(baseURL, apiKey string, timeout time.Duration, rateLimit float64, logger *log.Logger, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	limit := rate.Inf
	if rateLimit > 0 {
		limit = rate.Limit(rateLimit)
	}

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		timeout: timeout,
		limiter: rate.NewLimiter(limit, 1),
		http:    httpClient,
		logger:  logger,
	}
}

// do performs one API call and decodes the response body into out when out
// is non-nil.
func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrDaemonRequest, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("X-API-Key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%w: %s %s", shared.ErrTimeout, method, endpoint)
		}
		return fmt.Errorf("%w: %v", shared.ErrDaemonUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s %s returned %d: %s", shared.ErrDaemonRequest, method, endpoint, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// WaitReady polls the daemon until it reports a connected server state or
// the context is cancelled.
func (c *Client) WaitReady(ctx context.Context, interval time.Duration) error {
	for {
		var state struct {
			State string `json:"state"`
		}
		err := c.do(ctx, http.MethodGet, "/server", nil, &state)
		if err == nil && strings.Contains(state.State, "Connected") {
			return nil
		}

		if err != nil {
			c.logger.Debug("daemon not ready", "error", err)
		} else {
			c.logger.Debug("daemon not connected to the network", "state", state.State)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", shared.ErrDaemonUnavailable, ctx.Err())
		case <-time.After(interval):
		}
	}
}

// CreateSearch starts a search for query under the caller-minted id. The
// daemon requires the client to supply the search UUID.
func (c *Client) CreateSearch(ctx context.Context, id, query string) error {
	body := map[string]string{"id": id, "searchText": query}
	return c.do(ctx, http.MethodPost, "/searches", body, nil)
}

// SearchState fetches the current state of a search.
func (c *Client) SearchState(ctx context.Context, id string) (*Search, error) {
	var search Search
	if err := c.do(ctx, http.MethodGet, "/searches/"+url.PathEscape(id), nil, &search); err != nil {
		return nil, err
	}
	return &search, nil
}

// SearchResponses fetches all peer responses for a search and flattens
// them into files with the username filled in.
func (c *Client) SearchResponses(ctx context.Context, id string) ([]File, error) {
	var responses []SearchResponse
	if err := c.do(ctx, http.MethodGet, "/searches/"+url.PathEscape(id)+"/responses", nil, &responses); err != nil {
		return nil, err
	}

	var files []File
	for _, response := range responses {
		for _, file := range response.Files {
			file.Username = response.Username
			files = append(files, file)
		}
	}

	return files, nil
}

// EnqueueDownload asks the peer to send the file. The daemon assigns the
// transfer id asynchronously; callers recover it via [Client.Downloads].
func (c *Client) EnqueueDownload(ctx context.Context, file *File) error {
	body := []map[string]any{{"filename": file.Filename, "size": file.Size}}
	return c.do(ctx, http.MethodPost, "/transfers/downloads/"+url.PathEscape(file.Username), body, nil)
}

// Downloads fetches every transfer the daemon is tracking, flattened
// across users and directories.
func (c *Client) Downloads(ctx context.Context) ([]Transfer, error) {
	var users []struct {
		Username    string `json:"username"`
		Directories []struct {
			Files []Transfer `json:"files"`
		} `json:"directories"`
	}
	if err := c.do(ctx, http.MethodGet, "/transfers/downloads", nil, &users); err != nil {
		return nil, err
	}

	var transfers []Transfer
	for _, user := range users {
		for _, dir := range user.Directories {
			for _, transfer := range dir.Files {
				if transfer.Username == "" {
					transfer.Username = user.Username
				}
				transfers = append(transfers, transfer)
			}
		}
	}

	return transfers, nil
}

// CancelDownload cancels a transfer and removes it from the daemon's
// tracking list.
func (c *Client) CancelDownload(ctx context.Context, username, transferID string) error {
	endpoint := "/transfers/downloads/" + url.PathEscape(username) + "/" + url.PathEscape(transferID) + "?remove=true"
	return c.do(ctx, http.MethodDelete, endpoint, nil, nil)
}
