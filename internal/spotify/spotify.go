// package spotify fetches playlist contents from the Spotify Web API
// using the client-credentials flow.
package spotify

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/MXC1/spotiseek/internal/models"
	"github.com/MXC1/spotiseek/internal/shared"
)

const (
	tokenURL = "https://accounts.spotify.com/api/token"
	apiBase  = "https://api.spotify.com/v1"
)

// Client fetches playlists from the Spotify API. Tokens are cached until
// shortly before expiry.
type Client struct {
	clientID     string
	clientSecret string
	http         *http.Client
	logger       *log.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewClient builds a Spotify API client. httpClient may be nil.
func NewClient(clientID, clientSecret string, logger *log.Logger, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		http:         httpClient,
		logger:       logger,
	}
}

// PlaylistID extracts the playlist id from an open.spotify.com URL.
func PlaylistID(playlistURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(playlistURL))
	if err != nil {
		return "", fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}

	parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	for i, part := range parts {
		if part == "playlist" && i+1 < len(parts) {
			return parts[i+1], nil
		}
	}
	return "", fmt.Errorf("%w: not a playlist URL: %s", shared.ErrInvalidInput, playlistURL)
}

// token returns a cached client-credentials token, refreshing when it is
// within a minute of expiry.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry.Add(-time.Minute)) {
		return c.accessToken, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", shared.ErrCatalogRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: token endpoint returned %d: %s", shared.ErrCatalogRequest, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var token struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}

	c.accessToken = token.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
	return c.accessToken, nil
}

type playlistPage struct {
	Name   string `json:"name"`
	Tracks struct {
		Items []playlistItem `json:"items"`
		Next  string         `json:"next"`
	} `json:"tracks"`
}

type tracksPage struct {
	Items []playlistItem `json:"items"`
	Next  string         `json:"next"`
}

type playlistItem struct {
	Track struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Artists []struct {
			Name string `json:"name"`
		} `json:"artists"`
	} `json:"track"`
}

// FetchPlaylist fetches a playlist's name and tracks, following
// pagination. Items with missing identity or metadata are logged and
// skipped rather than failing the whole playlist.
func (c *Client) FetchPlaylist(ctx context.Context, playlistURL string) (string, []models.ScrapedTrack, error) {
	id, err := PlaylistID(playlistURL)
	if err != nil {
		return "", nil, err
	}

	var page playlistPage
	endpoint := apiBase + "/playlists/" + url.PathEscape(id) + "?fields=name,tracks(next,items(track(id,name,artists(name))))"
	if err := c.get(ctx, endpoint, &page); err != nil {
		return "", nil, err
	}

	tracks := c.collect(nil, page.Tracks.Items)

	next := page.Tracks.Next
	for next != "" {
		var more tracksPage
		if err := c.get(ctx, next, &more); err != nil {
			return "", nil, err
		}
		tracks = c.collect(tracks, more.Items)
		next = more.Next
	}

	return page.Name, tracks, nil
}

// collect converts playlist items, skipping entries without a full
// identity (local files and removed tracks come back with null fields).
func (c *Client) collect(tracks []models.ScrapedTrack, items []playlistItem) []models.ScrapedTrack {
	for _, item := range items {
		if item.Track.ID == "" || item.Track.Name == "" || len(item.Track.Artists) == 0 {
			c.logger.Warn("skipping playlist item with partial metadata", "id", item.Track.ID, "name", item.Track.Name)
			continue
		}
		tracks = append(tracks, models.ScrapedTrack{
			ID:     item.Track.ID,
			Source: models.SourceSpotify,
			Title:  item.Track.Name,
			Artist: item.Track.Artists[0].Name,
		})
	}
	return tracks
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	accessToken, err := c.token(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrCatalogRequest, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s returned %d", shared.ErrPlaylistPrivate, endpoint, resp.StatusCode)
	default:
		return fmt.Errorf("%w: %s returned %d", shared.ErrCatalogRequest, endpoint, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// ReadPlaylistCSV reads the tracked playlist URLs from a CSV file. The
// URL is the first column; a header row and blank lines are skipped.
func ReadPlaylistCSV(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open playlist file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse playlist file: %w", err)
	}

	var urls []string
	for _, record := range records {
		if len(record) == 0 {
			continue
		}
		value := strings.TrimSpace(record[0])
		if value == "" || !strings.HasPrefix(value, "http") {
			continue
		}
		urls = append(urls, value)
	}
	return urls, nil
}
