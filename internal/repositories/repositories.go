// package repositories provides database access for tracks, playlists,
// the blacklist, and scheduler bookkeeping.
package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/MXC1/spotiseek/internal/models"
	"github.com/MXC1/spotiseek/internal/shared"
)

// Repositories aggregates all repositories over a single database handle.
type Repositories struct {
	Tracks    *TrackRepository
	Playlists *PlaylistRepository
	Blacklist *BlacklistRepository
	Tasks     *TaskRepository
}

// New creates the full repository set over db.
func New(db *sql.DB) *Repositories {
	return &Repositories{
		Tracks:    NewTrackRepository(db),
		Playlists: NewPlaylistRepository(db),
		Blacklist: NewBlacklistRepository(db),
		Tasks:     NewTaskRepository(db),
	}
}

// PlaylistRepository persists playlists and their track membership.
type PlaylistRepository struct {
	db *sql.DB
}

func NewPlaylistRepository(db *sql.DB) *PlaylistRepository {
	return &PlaylistRepository{db: db}
}

// Upsert inserts a playlist or refreshes its name.
func (r *PlaylistRepository) Upsert(ctx context.Context, url, name string) error {
	query := `
		INSERT INTO playlists (url, name) VALUES (?, ?)
		ON CONFLICT (url) DO UPDATE SET name = excluded.name, updated_at = CURRENT_TIMESTAMP
	`
	if _, err := r.db.ExecContext(ctx, query, url, name); err != nil {
		return fmt.Errorf("failed to upsert playlist: %w", err)
	}
	return nil
}

// SetM3U8Path records where the playlist's export file lives.
func (r *PlaylistRepository) SetM3U8Path(ctx context.Context, url, path string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE playlists SET m3u8_path = ?, updated_at = CURRENT_TIMESTAMP WHERE url = ?",
		path, url)
	if err != nil {
		return fmt.Errorf("failed to set m3u8 path: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: playlist %s", shared.ErrPlaylistNotFound, url)
	}
	return nil
}

// Get fetches a playlist by URL.
func (r *PlaylistRepository) Get(ctx context.Context, url string) (*models.Playlist, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT url, name, m3u8_path, added_at, updated_at FROM playlists WHERE url = ?", url)

	var playlist models.Playlist
	err := row.Scan(&playlist.URL, &playlist.Name, &playlist.M3U8Path, &playlist.AddedAt, &playlist.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: playlist %s", shared.ErrPlaylistNotFound, url)
	} else if err != nil {
		return nil, fmt.Errorf("failed to get playlist: %w", err)
	}
	return &playlist, nil
}

// List returns all playlists.
func (r *PlaylistRepository) List(ctx context.Context) ([]models.Playlist, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT url, name, m3u8_path, added_at, updated_at FROM playlists ORDER BY added_at")
	if err != nil {
		return nil, fmt.Errorf("failed to list playlists: %w", err)
	}
	defer rows.Close()

	var playlists []models.Playlist
	for rows.Next() {
		var playlist models.Playlist
		if err := rows.Scan(&playlist.URL, &playlist.Name, &playlist.M3U8Path, &playlist.AddedAt, &playlist.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan playlist: %w", err)
		}
		playlists = append(playlists, playlist)
	}
	return playlists, rows.Err()
}

// AddTrack links a track to a playlist at the given position.
func (r *PlaylistRepository) AddTrack(ctx context.Context, playlistURL, spotifyID string, source models.Source, position int) error {
	query := `
		INSERT INTO playlist_tracks (playlist_url, spotify_id, source, position) VALUES (?, ?, ?, ?)
		ON CONFLICT (playlist_url, spotify_id, source) DO UPDATE SET position = excluded.position
	`
	if _, err := r.db.ExecContext(ctx, query, playlistURL, spotifyID, string(source), position); err != nil {
		return fmt.Errorf("failed to add track to playlist: %w", err)
	}
	return nil
}

// ContainingTrack returns every playlist a track belongs to.
func (r *PlaylistRepository) ContainingTrack(ctx context.Context, spotifyID string, source models.Source) ([]models.Playlist, error) {
	query := `
		SELECT p.url, p.name, p.m3u8_path, p.added_at, p.updated_at
		FROM playlists p
		JOIN playlist_tracks pt ON pt.playlist_url = p.url
		WHERE pt.spotify_id = ? AND pt.source = ?
	`
	rows, err := r.db.QueryContext(ctx, query, spotifyID, string(source))
	if err != nil {
		return nil, fmt.Errorf("failed to find playlists for track: %w", err)
	}
	defer rows.Close()

	var playlists []models.Playlist
	for rows.Next() {
		var playlist models.Playlist
		if err := rows.Scan(&playlist.URL, &playlist.Name, &playlist.M3U8Path, &playlist.AddedAt, &playlist.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan playlist: %w", err)
		}
		playlists = append(playlists, playlist)
	}
	return playlists, rows.Err()
}

// Tracks returns the playlist's tracks in position order.
func (r *PlaylistRepository) Tracks(ctx context.Context, playlistURL string) ([]models.Track, error) {
	query := `
		SELECT t.spotify_id, t.source, t.track_name, t.artist, t.download_status,
		       t.failed_reason, t.search_id, t.transfer_id, t.remote_filename,
		       t.username, t.local_path, t.extension, t.bitrate, t.added_at, t.updated_at
		FROM tracks t
		JOIN playlist_tracks pt ON pt.spotify_id = t.spotify_id AND pt.source = t.source
		WHERE pt.playlist_url = ?
		ORDER BY pt.position
	`
	rows, err := r.db.QueryContext(ctx, query, playlistURL)
	if err != nil {
		return nil, fmt.Errorf("failed to list playlist tracks: %w", err)
	}
	defer rows.Close()

	return scanTracks(rows)
}

// BlacklistRepository persists remote ids that must never be selected
// again. The list is append-only.
type BlacklistRepository struct {
	db *sql.DB
}

func NewBlacklistRepository(db *sql.DB) *BlacklistRepository {
	return &BlacklistRepository{db: db}
}

// Add records a remote id. Re-adding an existing id is a no-op; the first
// recorded reason wins.
func (r *BlacklistRepository) Add(ctx context.Context, remoteID, reason string) error {
	query := "INSERT OR IGNORE INTO blacklist (remote_id, reason) VALUES (?, ?)"
	if _, err := r.db.ExecContext(ctx, query, remoteID, reason); err != nil {
		return fmt.Errorf("failed to add blacklist entry: %w", err)
	}
	return nil
}

// Contains reports whether a remote id is blacklisted.
func (r *BlacklistRepository) Contains(ctx context.Context, remoteID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM blacklist WHERE remote_id = ?)", remoteID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}
	return exists, nil
}

// Lookup loads the full blacklist into a membership predicate, suitable
// for the selector's pure pipeline.
func (r *BlacklistRepository) Lookup(ctx context.Context) (func(id string) bool, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT remote_id FROM blacklist")
	if err != nil {
		return nil, fmt.Errorf("failed to load blacklist: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan blacklist entry: %w", err)
		}
		ids[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return func(id string) bool { return ids[id] }, nil
}
