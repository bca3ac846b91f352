package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/MXC1/spotiseek/internal/models"
	"github.com/MXC1/spotiseek/internal/shared"
)

const trackColumns = `spotify_id, source, track_name, artist, download_status,
	failed_reason, search_id, transfer_id, remote_filename, username,
	local_path, extension, bitrate, added_at, updated_at`

// TrackRepository persists tracks. It is the only writer of
// download_status: every transition goes through [TrackRepository.SetStatus]
// so the failed_reason invariant holds everywhere.
type TrackRepository struct {
	db *sql.DB
}

func NewTrackRepository(db *sql.DB) *TrackRepository {
	return &TrackRepository{db: db}
}

func scanTrack(row interface{ Scan(...any) error }) (*models.Track, error) {
	var track models.Track
	err := row.Scan(
		&track.SpotifyID, &track.Source, &track.TrackName, &track.Artist,
		&track.DownloadStatus, &track.FailedReason, &track.SearchID,
		&track.TransferID, &track.RemoteFilename, &track.Username,
		&track.LocalPath, &track.Extension, &track.Bitrate,
		&track.AddedAt, &track.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &track, nil
}

func scanTracks(rows *sql.Rows) ([]models.Track, error) {
	var tracks []models.Track
	for rows.Next() {
		track, err := scanTrack(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan track: %w", err)
		}
		tracks = append(tracks, *track)
	}
	return tracks, rows.Err()
}

// Upsert inserts a scraped track as pending. An existing identity is left
// untouched; returns whether a new row was created.
func (r *TrackRepository) Upsert(ctx context.Context, scraped models.ScrapedTrack) (bool, error) {
	if scraped.ID == "" || !scraped.Source.Valid() {
		return false, fmt.Errorf("%w: track identity incomplete", shared.ErrInvalidInput)
	}

	query := `
		INSERT OR IGNORE INTO tracks (spotify_id, source, track_name, artist, download_status)
		VALUES (?, ?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		scraped.ID, string(scraped.Source), scraped.Title, scraped.Artist, string(models.StatusPending))
	if err != nil {
		return false, fmt.Errorf("failed to upsert track: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Get fetches a track by identity.
func (r *TrackRepository) Get(ctx context.Context, spotifyID string, source models.Source) (*models.Track, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+trackColumns+" FROM tracks WHERE spotify_id = ? AND source = ?",
		spotifyID, string(source))

	track, err := scanTrack(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s/%s", shared.ErrTrackNotFound, source, spotifyID)
	} else if err != nil {
		return nil, fmt.Errorf("failed to get track: %w", err)
	}
	return track, nil
}

// ListByStatus returns all tracks in any of the given statuses, oldest
// first.
func (r *TrackRepository) ListByStatus(ctx context.Context, statuses ...models.DownloadStatus) ([]models.Track, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := "?"
	args := []any{string(statuses[0])}
	for _, status := range statuses[1:] {
		placeholders += ", ?"
		args = append(args, string(status))
	}

	query := "SELECT " + trackColumns + " FROM tracks WHERE download_status IN (" + placeholders + ") ORDER BY added_at"
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracks by status: %w", err)
	}
	defer rows.Close()

	return scanTracks(rows)
}

// FindBySearchID fetches the track owning a search handle.
func (r *TrackRepository) FindBySearchID(ctx context.Context, searchID string) (*models.Track, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+trackColumns+" FROM tracks WHERE search_id = ?", searchID)

	track, err := scanTrack(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: search %s", shared.ErrTrackNotFound, searchID)
	} else if err != nil {
		return nil, fmt.Errorf("failed to find track by search: %w", err)
	}
	return track, nil
}

// FindByTransferID fetches the track owning a transfer handle.
func (r *TrackRepository) FindByTransferID(ctx context.Context, transferID string) (*models.Track, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+trackColumns+" FROM tracks WHERE transfer_id = ?", transferID)

	track, err := scanTrack(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: transfer %s", shared.ErrTrackNotFound, transferID)
	} else if err != nil {
		return nil, fmt.Errorf("failed to find track by transfer: %w", err)
	}
	return track, nil
}

// SetStatus transitions a track. A reason is required for StatusFailed and
// forbidden for every other status; any other combination is rejected
// before touching the row.
func (r *TrackRepository) SetStatus(ctx context.Context, spotifyID string, source models.Source, status models.DownloadStatus, reason *models.FailedReason) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", shared.ErrInvalidInput, status)
	}

	if status == models.StatusFailed {
		if reason == nil || !reason.Valid() {
			return fmt.Errorf("%w: failed status requires a valid reason", shared.ErrInvalidInput)
		}
	} else if reason != nil {
		return fmt.Errorf("%w: reason only allowed with failed status", shared.ErrInvalidInput)
	}

	var reasonValue any
	if reason != nil {
		reasonValue = string(*reason)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE tracks
		SET download_status = ?, failed_reason = ?, updated_at = CURRENT_TIMESTAMP
		WHERE spotify_id = ? AND source = ?
	`, string(status), reasonValue, spotifyID, string(source))
	if err != nil {
		return fmt.Errorf("failed to set status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s/%s", shared.ErrTrackNotFound, source, spotifyID)
	}
	return nil
}

// SetSearch records the client-minted search handle.
func (r *TrackRepository) SetSearch(ctx context.Context, spotifyID string, source models.Source, searchID string) error {
	return r.update(ctx, spotifyID, source,
		"UPDATE tracks SET search_id = ?, updated_at = CURRENT_TIMESTAMP WHERE spotify_id = ? AND source = ?",
		searchID)
}

// SetCandidate records the remote file chosen for a track before its
// transfer id is known.
func (r *TrackRepository) SetCandidate(ctx context.Context, spotifyID string, source models.Source, remoteFilename, username, extension string, bitrate int) error {
	return r.update(ctx, spotifyID, source, `
		UPDATE tracks
		SET remote_filename = ?, username = ?, extension = ?, bitrate = ?, updated_at = CURRENT_TIMESTAMP
		WHERE spotify_id = ? AND source = ?
	`, remoteFilename, username, extension, bitrate)
}

// SetTransfer records the daemon-assigned transfer handle.
func (r *TrackRepository) SetTransfer(ctx context.Context, spotifyID string, source models.Source, transferID string) error {
	return r.update(ctx, spotifyID, source,
		"UPDATE tracks SET transfer_id = ?, updated_at = CURRENT_TIMESTAMP WHERE spotify_id = ? AND source = ?",
		transferID)
}

// SetLocalFile records where the downloaded file landed.
func (r *TrackRepository) SetLocalFile(ctx context.Context, spotifyID string, source models.Source, localPath, extension string, bitrate int) error {
	return r.update(ctx, spotifyID, source, `
		UPDATE tracks
		SET local_path = ?, extension = ?, bitrate = ?, updated_at = CURRENT_TIMESTAMP
		WHERE spotify_id = ? AND source = ?
	`, localPath, extension, bitrate)
}

// ClearHandles drops the search, transfer, and candidate handles, used
// when a download cycle finishes or aborts. The local file columns are
// left alone.
func (r *TrackRepository) ClearHandles(ctx context.Context, spotifyID string, source models.Source) error {
	return r.update(ctx, spotifyID, source, `
		UPDATE tracks
		SET search_id = NULL, transfer_id = NULL, remote_filename = NULL, username = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE spotify_id = ? AND source = ?
	`)
}

func (r *TrackRepository) update(ctx context.Context, spotifyID string, source models.Source, query string, args ...any) error {
	args = append(args, spotifyID, string(source))
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update track: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s/%s", shared.ErrTrackNotFound, source, spotifyID)
	}
	return nil
}

// StatusCounts returns the number of tracks per status.
func (r *TrackRepository) StatusCounts(ctx context.Context) (map[models.DownloadStatus]int, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT download_status, COUNT(*) FROM tracks GROUP BY download_status")
	if err != nil {
		return nil, fmt.Errorf("failed to count statuses: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.DownloadStatus]int)
	for rows.Next() {
		var status models.DownloadStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// ListCompleted returns every completed track, for library exports.
func (r *TrackRepository) ListCompleted(ctx context.Context) ([]models.Track, error) {
	return r.ListByStatus(ctx, models.StatusCompleted)
}
