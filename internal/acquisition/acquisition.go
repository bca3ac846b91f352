// package acquisition implements the track acquisition state machine.
// The [Engine] is the single writer of download status: every task body
// that moves a track between states lives here.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/MXC1/spotiseek/internal/export"
	"github.com/MXC1/spotiseek/internal/models"
	"github.com/MXC1/spotiseek/internal/remux"
	"github.com/MXC1/spotiseek/internal/repositories"
	"github.com/MXC1/spotiseek/internal/selector"
	"github.com/MXC1/spotiseek/internal/shared"
	"github.com/MXC1/spotiseek/internal/slskd"
)

// DaemonClient is the slice of the slskd API the engine uses.
type DaemonClient interface {
	CreateSearch(ctx context.Context, id, query string) error
	SearchState(ctx context.Context, id string) (*slskd.Search, error)
	SearchResponses(ctx context.Context, id string) ([]slskd.File, error)
	EnqueueDownload(ctx context.Context, file *slskd.File) error
	Downloads(ctx context.Context) ([]slskd.Transfer, error)
	CancelDownload(ctx context.Context, username, transferID string) error
}

// Catalog fetches playlist contents from the streaming service.
type Catalog interface {
	FetchPlaylist(ctx context.Context, playlistURL string) (string, []models.ScrapedTrack, error)
}

// Config carries the engine's collaborators. Everything is explicit; the
// engine holds no global state.
type Config struct {
	Tracks    *repositories.TrackRepository
	Playlists *repositories.PlaylistRepository
	Blacklist *repositories.BlacklistRepository

	Daemon  DaemonClient
	Catalog Catalog
	Remuxer remux.Remuxer
	M3U8    *export.M3U8Writer
	XML     *export.XMLExporter

	// PlaylistURLs supplies the tracked playlist URLs, usually from the
	// configured CSV file.
	PlaylistURLs func() ([]string, error)

	Preference    models.QualityPreference
	DownloadsRoot string
	Logger        *log.Logger
}

// Engine drives tracks through the acquisition state machine.
type Engine struct {
	cfg    Config
	logger *log.Logger
}

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg, logger: cfg.Logger}
}

// ScrapePlaylists fetches every tracked playlist, upserts its tracks as
// pending, and regenerates the playlist's M3U8 file. One unreachable
// playlist does not stop the rest.
func (e *Engine) ScrapePlaylists(ctx context.Context) (int, error) {
	urls, err := e.cfg.PlaylistURLs()
	if err != nil {
		return 0, fmt.Errorf("failed to load playlist list: %w", err)
	}

	processed := 0
	var lastErr error
	for _, playlistURL := range urls {
		name, scraped, err := e.cfg.Catalog.FetchPlaylist(ctx, playlistURL)
		if err != nil {
			e.logger.Error("failed to fetch playlist", "url", playlistURL, "error", err)
			lastErr = err
			continue
		}

		if err := e.cfg.Playlists.Upsert(ctx, playlistURL, name); err != nil {
			return processed, err
		}

		for position, track := range scraped {
			created, err := e.cfg.Tracks.Upsert(ctx, track)
			if err != nil {
				e.logger.Error("failed to store track", "id", track.ID, "error", err)
				continue
			}
			if created {
				e.logger.Info("discovered new track", "artist", track.Artist, "title", track.Title)
				processed++
			}
			if err := e.cfg.Playlists.AddTrack(ctx, playlistURL, track.ID, track.Source, position); err != nil {
				e.logger.Error("failed to link track to playlist", "id", track.ID, "error", err)
			}
		}

		if err := e.regeneratePlaylist(ctx, playlistURL); err != nil {
			e.logger.Error("failed to write playlist file", "url", playlistURL, "error", err)
		}
	}

	if processed == 0 && lastErr != nil {
		return 0, lastErr
	}
	return processed, nil
}

func (e *Engine) regeneratePlaylist(ctx context.Context, playlistURL string) error {
	playlist, err := e.cfg.Playlists.Get(ctx, playlistURL)
	if err != nil {
		return err
	}
	tracks, err := e.cfg.Playlists.Tracks(ctx, playlistURL)
	if err != nil {
		return err
	}
	path, err := e.cfg.M3U8.WritePlaylist(playlist.Name, tracks)
	if err != nil {
		return err
	}
	return e.cfg.Playlists.SetM3U8Path(ctx, playlistURL, path)
}

// candidateRemoteID returns the id to blacklist for a failed track's last
// candidate, or "" when the track never had one. The peer and path pair
// is the identity search results carry, so it is what the selector's
// blacklist filter can actually match; the transfer handle is only a
// fallback for rows predating the candidate columns.
func candidateRemoteID(track *models.Track) string {
	if track.Username.Valid && track.RemoteFilename.Valid && track.RemoteFilename.String != "" {
		return track.Username.String + "::" + track.RemoteFilename.String
	}
	if track.TransferID.Valid && track.TransferID.String != "" {
		return track.TransferID.String
	}
	return ""
}

// InitiateSearches starts a slskd search for every pending or failed
// track. A failed track's previous candidate is blacklisted first,
// unconditionally, so retries cannot reselect the same copy.
func (e *Engine) InitiateSearches(ctx context.Context) (int, error) {
	tracks, err := e.cfg.Tracks.ListByStatus(ctx, models.StatusPending, models.StatusFailed)
	if err != nil {
		return 0, err
	}

	processed := 0
	for i := range tracks {
		track := &tracks[i]

		if track.DownloadStatus == models.StatusFailed {
			if remoteID := candidateRemoteID(track); remoteID != "" {
				reason := track.FailedReason.String
				if reason == "" {
					reason = string(models.ReasonDownloadFailed)
				}
				if err := e.cfg.Blacklist.Add(ctx, remoteID, reason); err != nil {
					return processed, err
				}
				e.logger.Info("blacklisted failed candidate", "remote_id", remoteID, "reason", reason)
			}
			if err := e.cfg.Tracks.ClearHandles(ctx, track.SpotifyID, track.Source); err != nil {
				return processed, err
			}
		}

		if err := e.startSearch(ctx, track); err != nil {
			return processed, err
		}
		processed++
	}

	return processed, nil
}

// startSearch mints a search id, registers it with the daemon, and moves
// the track to searching, or to requested when it already holds a file
// and the search is after a replacement. A daemon error marks the track
// failed so the next pass retries it.
func (e *Engine) startSearch(ctx context.Context, track *models.Track) error {
	searchID := shared.GenerateID()
	if err := e.cfg.Daemon.CreateSearch(ctx, searchID, track.Query()); err != nil {
		e.logger.Warn("failed to create search", "track", track.Query(), "error", err)
		reason := models.ReasonDownloadFailed
		return e.cfg.Tracks.SetStatus(ctx, track.SpotifyID, track.Source, models.StatusFailed, &reason)
	}

	if err := e.cfg.Tracks.SetSearch(ctx, track.SpotifyID, track.Source, searchID); err != nil {
		return err
	}
	next := models.StatusSearching
	if track.IsUpgrade() {
		next = models.StatusRequested
	}
	return e.cfg.Tracks.SetStatus(ctx, track.SpotifyID, track.Source, next, nil)
}

// PollSearchResults checks every active search once. Incomplete searches
// are left alone; completed ones either enqueue the selected candidate or
// resolve the track's fate.
func (e *Engine) PollSearchResults(ctx context.Context) (int, error) {
	tracks, err := e.cfg.Tracks.ListByStatus(ctx, models.StatusSearching, models.StatusRequested)
	if err != nil {
		return 0, err
	}

	blacklisted, err := e.cfg.Blacklist.Lookup(ctx)
	if err != nil {
		return 0, err
	}

	processed := 0
	for i := range tracks {
		track := &tracks[i]
		if track.RemoteFilename.Valid && track.RemoteFilename.String != "" {
			// Candidate already enqueued; the transfer sync owns it now.
			continue
		}
		if !track.SearchID.Valid || track.SearchID.String == "" {
			e.logger.Error("searching track without a search handle", "track", track.Query())
			continue
		}

		search, err := e.cfg.Daemon.SearchState(ctx, track.SearchID.String)
		if err != nil {
			e.logger.Warn("failed to poll search", "search_id", track.SearchID.String, "error", err)
			continue
		}
		if !search.IsComplete() {
			continue
		}

		results, err := e.cfg.Daemon.SearchResponses(ctx, track.SearchID.String)
		if err != nil {
			e.logger.Warn("failed to fetch search responses", "search_id", track.SearchID.String, "error", err)
			continue
		}

		if err := e.resolveSearch(ctx, track, results, blacklisted); err != nil {
			return processed, err
		}
		processed++
	}

	return processed, nil
}

// resolveSearch decides a finished search: enqueue the best candidate or
// fail the track. An upgrade search that finds nothing better fails too
// and re-enters the retry path; the held file is kept untouched.
func (e *Engine) resolveSearch(ctx context.Context, track *models.Track, results []slskd.File, blacklisted func(string) bool) error {
	upgrade := track.IsUpgrade()
	candidate := selector.Select(results, e.cfg.Preference, track.Query(), blacklisted)

	if candidate != nil && upgrade {
		held := track.Extension.String
		heldBitrate := int(track.Bitrate.Int64)
		if !selector.IsUpgrade(candidate, held, heldBitrate, e.cfg.Preference) {
			candidate = nil
		}
	}

	if candidate == nil {
		reason := models.ReasonNoSuitableFiles
		if len(results) == 0 {
			reason = models.ReasonNoResults
		}
		return e.cfg.Tracks.SetStatus(ctx, track.SpotifyID, track.Source, models.StatusFailed, &reason)
	}

	// Record the candidate first so a failed enqueue still leaves an
	// identity for the retry pass to blacklist.
	if err := e.cfg.Tracks.SetCandidate(ctx, track.SpotifyID, track.Source,
		candidate.Filename, candidate.Username, candidate.Ext(), candidate.BitRate); err != nil {
		return err
	}

	if err := e.cfg.Daemon.EnqueueDownload(ctx, candidate); err != nil {
		e.logger.Warn("failed to enqueue download", "track", track.Query(), "error", err)
		reason := models.ReasonDownloadFailed
		return e.cfg.Tracks.SetStatus(ctx, track.SpotifyID, track.Source, models.StatusFailed, &reason)
	}

	next := models.StatusQueued
	if upgrade {
		next = models.StatusRequested
	}
	e.logger.Info("enqueued download", "track", track.Query(), "file", candidate.BaseName(), "upgrade", upgrade)
	return e.cfg.Tracks.SetStatus(ctx, track.SpotifyID, track.Source, next, nil)
}

// SyncTransfers reconciles active tracks against the daemon's transfer
// list: records transfer handles, follows state changes, and finalizes
// finished downloads. Completing a track is idempotent; a transfer that
// lingers on the daemon after completion is ignored.
func (e *Engine) SyncTransfers(ctx context.Context) (int, error) {
	transfers, err := e.cfg.Daemon.Downloads(ctx)
	if err != nil {
		return 0, err
	}

	byID := make(map[string]*slskd.Transfer)
	byFile := make(map[string]*slskd.Transfer)
	for i := range transfers {
		transfer := &transfers[i]
		byID[transfer.ID] = transfer
		byFile[transfer.Username+"::"+transfer.Filename] = transfer
	}

	tracks, err := e.cfg.Tracks.ListByStatus(ctx,
		models.StatusQueued, models.StatusDownloading,
		models.StatusRequested, models.StatusInProgress)
	if err != nil {
		return 0, err
	}

	processed := 0
	for i := range tracks {
		track := &tracks[i]

		transfer := e.matchTransfer(track, byID, byFile)
		if transfer == nil {
			e.logger.Debug("no daemon transfer for track yet", "track", track.Query())
			continue
		}

		if !track.TransferID.Valid || track.TransferID.String == "" {
			if err := e.cfg.Tracks.SetTransfer(ctx, track.SpotifyID, track.Source, transfer.ID); err != nil {
				return processed, err
			}
		}

		if err := e.applyTransferState(ctx, track, transfer); err != nil {
			return processed, err
		}
		processed++
	}

	return processed, nil
}

func (e *Engine) matchTransfer(track *models.Track, byID, byFile map[string]*slskd.Transfer) *slskd.Transfer {
	if track.TransferID.Valid && track.TransferID.String != "" {
		return byID[track.TransferID.String]
	}
	if track.Username.Valid && track.RemoteFilename.Valid {
		return byFile[track.Username.String+"::"+track.RemoteFilename.String]
	}
	return nil
}

// applyTransferState maps a daemon transfer state onto the track's
// status. Unknown states are logged and skipped.
func (e *Engine) applyTransferState(ctx context.Context, track *models.Track, transfer *slskd.Transfer) error {
	upgrade := track.IsUpgrade()

	switch transfer.State {
	case slskd.TransferSucceeded:
		return e.completeDownload(ctx, track, transfer)

	case slskd.TransferErrored, slskd.TransferCancelled:
		return e.failTransfer(ctx, track, transfer, models.ReasonDownloadFailed)

	case slskd.TransferRejected:
		return e.failTransfer(ctx, track, transfer, models.ReasonFileNotFound)

	case slskd.TransferTimedOut:
		return e.failTransfer(ctx, track, transfer, models.ReasonPeerOffline)
	}

	if strings.Contains(transfer.State, "InProgress") {
		active := models.StatusDownloading
		if upgrade {
			active = models.StatusInProgress
		}
		if track.DownloadStatus == active {
			return nil
		}
		return e.cfg.Tracks.SetStatus(ctx, track.SpotifyID, track.Source, active, nil)
	}

	if strings.Contains(transfer.State, "Queued") || strings.Contains(transfer.State, "Requested") || strings.Contains(transfer.State, "Initializing") {
		return nil
	}

	e.logger.Warn("unknown transfer state", "state", transfer.State, "track", track.Query())
	return nil
}

// failTransfer removes the transfer from the daemon and marks the track
// failed so the retry path picks it up.
func (e *Engine) failTransfer(ctx context.Context, track *models.Track, transfer *slskd.Transfer, reason models.FailedReason) error {
	if err := e.cfg.Daemon.CancelDownload(ctx, transfer.Username, transfer.ID); err != nil {
		e.logger.Warn("failed to remove transfer from daemon", "transfer_id", transfer.ID, "error", err)
	}
	e.logger.Info("transfer failed", "track", track.Query(), "state", transfer.State, "reason", reason)
	return e.cfg.Tracks.SetStatus(ctx, track.SpotifyID, track.Source, models.StatusFailed, &reason)
}

// completeDownload locates the finished file, verifies and normalizes it,
// and marks the track completed. For upgrades the previous file is only
// removed by the remuxer after the replacement exists.
func (e *Engine) completeDownload(ctx context.Context, track *models.Track, transfer *slskd.Transfer) error {
	file := slskd.File{Filename: transfer.Filename, Username: transfer.Username}
	localPath := filepath.Join(e.cfg.DownloadsRoot, file.BaseName())

	if err := e.cfg.Remuxer.Probe(ctx, localPath); err != nil {
		if errors.Is(err, remux.ErrCorruptFile) {
			if blErr := e.cfg.Blacklist.Add(ctx, file.RemoteID(), "corrupt file"); blErr != nil {
				return blErr
			}
			if cancelErr := e.cfg.Daemon.CancelDownload(ctx, transfer.Username, transfer.ID); cancelErr != nil {
				e.logger.Warn("failed to remove corrupt transfer", "transfer_id", transfer.ID, "error", cancelErr)
			}
			e.logger.Error("downloaded file is corrupt", "path", localPath, "track", track.Query())
			reason := models.ReasonDownloadFailed
			return e.cfg.Tracks.SetStatus(ctx, track.SpotifyID, track.Source, models.StatusFailed, &reason)
		}
		return err
	}

	ext := models.NormalizeExtension(filepath.Ext(localPath))
	if newPath, err := e.cfg.Remuxer.Normalize(ctx, localPath, remux.TargetFor(ext)); err != nil {
		// The raw file is still usable; completion stands.
		e.logger.Warn("failed to normalize file", "path", localPath, "error", err)
	} else {
		localPath = newPath
		ext = models.NormalizeExtension(filepath.Ext(localPath))
	}

	if err := e.cfg.Tracks.SetLocalFile(ctx, track.SpotifyID, track.Source, localPath, ext, int(track.Bitrate.Int64)); err != nil {
		return err
	}
	if err := e.cfg.Tracks.ClearHandles(ctx, track.SpotifyID, track.Source); err != nil {
		return err
	}
	if err := e.cfg.Tracks.SetStatus(ctx, track.SpotifyID, track.Source, models.StatusCompleted, nil); err != nil {
		return err
	}

	e.logger.Info("download completed", "track", track.Query(), "path", localPath)
	e.resolvePlaylistEntries(ctx, track, localPath)
	return nil
}

// resolvePlaylistEntries rewrites the track's placeholder line in every
// playlist file that references it. Export failures never affect track
// state.
func (e *Engine) resolvePlaylistEntries(ctx context.Context, track *models.Track, localPath string) {
	playlists, err := e.cfg.Playlists.ContainingTrack(ctx, track.SpotifyID, track.Source)
	if err != nil {
		e.logger.Warn("failed to find playlists for track", "track", track.Query(), "error", err)
		return
	}

	resolved := *track
	resolved.LocalPath.String = localPath
	resolved.LocalPath.Valid = true

	for _, playlist := range playlists {
		if !playlist.M3U8Path.Valid || playlist.M3U8Path.String == "" {
			continue
		}
		if err := e.cfg.M3U8.ResolveTrack(playlist.M3U8Path.String, &resolved); err != nil {
			e.logger.Warn("failed to update playlist file", "path", playlist.M3U8Path.String, "error", err)
		}
	}
}

// MarkQualityUpgrades flags completed tracks whose held file is not yet
// the preference's terminal format.
func (e *Engine) MarkQualityUpgrades(ctx context.Context) (int, error) {
	tracks, err := e.cfg.Tracks.ListByStatus(ctx, models.StatusCompleted)
	if err != nil {
		return 0, err
	}

	processed := 0
	for i := range tracks {
		track := &tracks[i]
		if !track.IsUpgrade() {
			continue
		}
		if selector.IsTerminalFormat(track.Extension.String, int(track.Bitrate.Int64), e.cfg.Preference) {
			continue
		}

		if err := e.cfg.Tracks.SetStatus(ctx, track.SpotifyID, track.Source, models.StatusRedownloadPending, nil); err != nil {
			return processed, err
		}
		e.logger.Info("flagged track for quality upgrade", "track", track.Query(), "held", track.Extension.String)
		processed++
	}

	return processed, nil
}

// ProcessUpgrades starts upgrade searches for flagged tracks. The held
// file stays in place until a better one actually lands.
func (e *Engine) ProcessUpgrades(ctx context.Context) (int, error) {
	tracks, err := e.cfg.Tracks.ListByStatus(ctx, models.StatusRedownloadPending)
	if err != nil {
		return 0, err
	}

	processed := 0
	for i := range tracks {
		track := &tracks[i]
		if err := e.startSearch(ctx, track); err != nil {
			return processed, err
		}
		processed++
	}

	return processed, nil
}

// ExportLibrary writes the XML library file and regenerates every
// playlist's M3U8 file.
func (e *Engine) ExportLibrary(ctx context.Context) (int, error) {
	completed, err := e.cfg.Tracks.ListCompleted(ctx)
	if err != nil {
		return 0, err
	}
	if err := e.cfg.XML.Export(completed); err != nil {
		return 0, err
	}

	playlists, err := e.cfg.Playlists.List(ctx)
	if err != nil {
		return 0, err
	}
	for _, playlist := range playlists {
		if err := e.regeneratePlaylist(ctx, playlist.URL); err != nil {
			e.logger.Error("failed to regenerate playlist", "url", playlist.URL, "error", err)
		}
	}

	return len(completed), nil
}

// RemuxExistingFiles converts completed tracks whose held file is not in
// its normalization target format yet.
func (e *Engine) RemuxExistingFiles(ctx context.Context) (int, error) {
	tracks, err := e.cfg.Tracks.ListCompleted(ctx)
	if err != nil {
		return 0, err
	}

	processed := 0
	for i := range tracks {
		track := &tracks[i]
		if !track.IsUpgrade() {
			continue
		}

		ext := track.Extension.String
		target := remux.TargetFor(ext)
		if models.NormalizeExtension(ext) == string(target) {
			continue
		}

		newPath, err := e.cfg.Remuxer.Normalize(ctx, track.LocalPath.String, target)
		if err != nil {
			e.logger.Warn("failed to remux file", "path", track.LocalPath.String, "error", err)
			continue
		}

		newExt := models.NormalizeExtension(filepath.Ext(newPath))
		if err := e.cfg.Tracks.SetLocalFile(ctx, track.SpotifyID, track.Source, newPath, newExt, int(track.Bitrate.Int64)); err != nil {
			return processed, err
		}
		processed++
	}

	return processed, nil
}
