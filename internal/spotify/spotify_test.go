package spotify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MXC1/spotiseek/internal/shared"
)

type mockTransport struct {
	responses map[string]string
	statuses  map[string]int
}

func (m *mockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	key := req.URL.Host + req.URL.Path
	status := m.statuses[key]
	if status == 0 {
		status = http.StatusOK
	}
	body, ok := m.responses[key]
	if !ok {
		status = http.StatusNotFound
		body = "{}"
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}, nil
}

const tokenBody = `{"access_token":"tok","expires_in":3600}`

func TestPlaylistID(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		id, err := PlaylistID("https://open.spotify.com/playlist/37i9dQZF1DXcBWIGoYBM5M?si=x")
		if err != nil {
			t.Fatal(err)
		}
		if id != "37i9dQZF1DXcBWIGoYBM5M" {
			t.Errorf("unexpected id %s", id)
		}
	})

	t.Run("NotAPlaylist", func(t *testing.T) {
		_, err := PlaylistID("https://open.spotify.com/album/xyz")
		if !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestFetchPlaylist(t *testing.T) {
	transport := &mockTransport{
		responses: map[string]string{
			"accounts.spotify.com/api/token": tokenBody,
			"api.spotify.com/v1/playlists/abc": `{
				"name": "Focus",
				"tracks": {
					"next": "",
					"items": [
						{"track": {"id": "t1", "name": "Strobe", "artists": [{"name": "deadmau5"}]}},
						{"track": {"id": "", "name": "Local File", "artists": []}},
						{"track": {"id": "t2", "name": "Opus 28", "artists": [{"name": "Dustin O'Halloran"}]}}
					]
				}
			}`,
		},
	}
	client := NewClient("id", "secret", shared.NewLogger(io.Discard), &http.Client{Transport: transport})

	name, tracks, err := client.FetchPlaylist(context.Background(), "https://open.spotify.com/playlist/abc")
	if err != nil {
		t.Fatal(err)
	}

	if name != "Focus" {
		t.Errorf("expected playlist name Focus, got %s", name)
	}
	if len(tracks) != 2 {
		t.Fatalf("expected partial-metadata item to be skipped, got %d tracks", len(tracks))
	}
	if tracks[0].ID != "t1" || tracks[0].Artist != "deadmau5" {
		t.Errorf("unexpected first track %+v", tracks[0])
	}
}

func TestFetchPlaylistPrivate(t *testing.T) {
	transport := &mockTransport{
		responses: map[string]string{
			"accounts.spotify.com/api/token":   tokenBody,
			"api.spotify.com/v1/playlists/abc": `{}`,
		},
		statuses: map[string]int{
			"api.spotify.com/v1/playlists/abc": http.StatusForbidden,
		},
	}
	client := NewClient("id", "secret", shared.NewLogger(io.Discard), &http.Client{Transport: transport})

	_, _, err := client.FetchPlaylist(context.Background(), "https://open.spotify.com/playlist/abc")
	if !errors.Is(err, shared.ErrPlaylistPrivate) {
		t.Errorf("expected ErrPlaylistPrivate, got %v", err)
	}
}

func TestFetchPlaylistServerError(t *testing.T) {
	transport := &mockTransport{
		responses: map[string]string{
			"accounts.spotify.com/api/token":   tokenBody,
			"api.spotify.com/v1/playlists/abc": `{}`,
		},
		statuses: map[string]int{
			"api.spotify.com/v1/playlists/abc": http.StatusInternalServerError,
		},
	}
	client := NewClient("id", "secret", shared.NewLogger(io.Discard), &http.Client{Transport: transport})

	_, _, err := client.FetchPlaylist(context.Background(), "https://open.spotify.com/playlist/abc")
	if !errors.Is(err, shared.ErrCatalogRequest) {
		t.Errorf("expected ErrCatalogRequest, got %v", err)
	}
}

func TestReadPlaylistCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "playlists.csv")
	content := "url,label\nhttps://open.spotify.com/playlist/a,focus\n\nhttps://open.spotify.com/playlist/b\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	urls, err := ReadPlaylistCSV(path)
	if err != nil {
		t.Fatal(err)
	}

	if len(urls) != 2 {
		t.Fatalf("expected 2 urls, got %d: %v", len(urls), urls)
	}
	if urls[0] != "https://open.spotify.com/playlist/a" {
		t.Errorf("unexpected first url %s", urls[0])
	}
}
