// package testing contains shared testing utilities
package testing

import (
	"context"
	"database/sql"
	"testing"

	"github.com/MXC1/spotiseek/internal/models"
	"github.com/MXC1/spotiseek/internal/remux"
	"github.com/MXC1/spotiseek/internal/shared"
	"github.com/MXC1/spotiseek/internal/slskd"
)

// SetupDB opens an in-memory database with the full schema applied.
func SetupDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := shared.RunMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	return db
}

// FakeDaemon is a scripted test double for the slskd client.
type FakeDaemon struct {
	Searches  map[string]*slskd.Search
	Responses map[string][]slskd.File
	Transfers []slskd.Transfer

	CreateSearchErr error
	EnqueueErr      error
	DownloadsErr    error

	CreatedSearches []string
	Enqueued        []slskd.File
	Cancelled       []string
}

func NewFakeDaemon() *FakeDaemon {
	return &FakeDaemon{
		Searches:  make(map[string]*slskd.Search),
		Responses: make(map[string][]slskd.File),
	}
}

func (f *FakeDaemon) CreateSearch(ctx context.Context, id, query string) error {
	if f.CreateSearchErr != nil {
		return f.CreateSearchErr
	}
	f.CreatedSearches = append(f.CreatedSearches, id)
	f.Searches[id] = &slskd.Search{ID: id, State: "InProgress"}
	return nil
}

func (f *FakeDaemon) SearchState(ctx context.Context, id string) (*slskd.Search, error) {
	if search, ok := f.Searches[id]; ok {
		return search, nil
	}
	return &slskd.Search{ID: id, State: "Completed, TimedOut"}, nil
}

func (f *FakeDaemon) SearchResponses(ctx context.Context, id string) ([]slskd.File, error) {
	return f.Responses[id], nil
}

func (f *FakeDaemon) EnqueueDownload(ctx context.Context, file *slskd.File) error {
	if f.EnqueueErr != nil {
		return f.EnqueueErr
	}
	f.Enqueued = append(f.Enqueued, *file)
	return nil
}

func (f *FakeDaemon) Downloads(ctx context.Context) ([]slskd.Transfer, error) {
	if f.DownloadsErr != nil {
		return nil, f.DownloadsErr
	}
	return f.Transfers, nil
}

func (f *FakeDaemon) CancelDownload(ctx context.Context, username, transferID string) error {
	f.Cancelled = append(f.Cancelled, transferID)
	return nil
}

// CompleteSearch marks a scripted search finished with the given results.
func (f *FakeDaemon) CompleteSearch(id string, results []slskd.File) {
	f.Searches[id] = &slskd.Search{ID: id, State: "Completed", ResponseCount: len(results)}
	f.Responses[id] = results
}

// FakeRemuxer is a [remux.Remuxer] that records calls without touching
// the filesystem.
type FakeRemuxer struct {
	CorruptPaths map[string]bool
	NormalizeErr error
	Normalized   []string
}

func NewFakeRemuxer() *FakeRemuxer {
	return &FakeRemuxer{CorruptPaths: make(map[string]bool)}
}

func (f *FakeRemuxer) Probe(ctx context.Context, path string) error {
	if f.CorruptPaths[path] {
		return remux.ErrCorruptFile
	}
	return nil
}

func (f *FakeRemuxer) Normalize(ctx context.Context, path string, target remux.Target) (string, error) {
	if f.NormalizeErr != nil {
		return "", f.NormalizeErr
	}
	f.Normalized = append(f.Normalized, path)
	ext := "." + string(target)
	if idx := len(path) - len(ext); idx > 0 && path[idx:] == ext {
		return path, nil
	}
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '.' {
			return path[:i] + ext, nil
		}
	}
	return path + ext, nil
}

// FakeCatalog returns a scripted playlist for any URL.
type FakeCatalog struct {
	Name   string
	Tracks []models.ScrapedTrack
	Err    error
}

func (f *FakeCatalog) FetchPlaylist(ctx context.Context, playlistURL string) (string, []models.ScrapedTrack, error) {
	if f.Err != nil {
		return "", nil, f.Err
	}
	return f.Name, f.Tracks, nil
}
