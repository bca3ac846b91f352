// package models defines the domain types: tracks, playlists, blacklist
// entries, scheduler bookkeeping, and the closed status enums.
package models

import (
	"database/sql"
	"strings"
	"time"
)

// DownloadStatus is the acquisition state of a track. The set is closed:
// every transition site switches exhaustively over these values.
type DownloadStatus string

const (
	// StatusPending marks a scraped track that has never been searched.
	StatusPending DownloadStatus = "pending"
	// StatusSearching marks a track with an active slskd search.
	StatusSearching DownloadStatus = "searching"
	// StatusQueued marks a track whose download has been enqueued.
	StatusQueued DownloadStatus = "queued"
	// StatusDownloading marks an in-flight transfer.
	StatusDownloading DownloadStatus = "downloading"
	// StatusCompleted marks a track with a file on disk.
	StatusCompleted DownloadStatus = "completed"
	// StatusFailed marks a track that needs a retry; FailedReason says why.
	StatusFailed DownloadStatus = "failed"
	// StatusRedownloadPending marks a completed track flagged for a
	// quality upgrade.
	StatusRedownloadPending DownloadStatus = "redownload_pending"
	// StatusRequested marks an active upgrade attempt, from search
	// creation until the daemon starts the transfer.
	StatusRequested DownloadStatus = "requested"
	// StatusInProgress marks an in-flight upgrade transfer.
	StatusInProgress DownloadStatus = "inprogress"
)

// Valid reports whether s is a member of the closed status set.
func (s DownloadStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSearching, StatusQueued, StatusDownloading,
		StatusCompleted, StatusFailed, StatusRedownloadPending,
		StatusRequested, StatusInProgress:
		return true
	}
	return false
}

func (s DownloadStatus) String() string {
	return string(s)
}

// FailedReason explains a failed status. Only set when the status is
// StatusFailed.
type FailedReason string

const (
	ReasonNoResults       FailedReason = "no_results"
	ReasonNoSuitableFiles FailedReason = "no_suitable_files"
	ReasonDownloadFailed  FailedReason = "download_failed"
	ReasonPeerOffline     FailedReason = "peer_offline"
	ReasonFileNotFound    FailedReason = "file_not_found"
)

// Valid reports whether r is a member of the closed reason set.
func (r FailedReason) Valid() bool {
	switch r {
	case ReasonNoResults, ReasonNoSuitableFiles, ReasonDownloadFailed,
		ReasonPeerOffline, ReasonFileNotFound:
		return true
	}
	return false
}

func (r FailedReason) String() string {
	return string(r)
}

// Source identifies where a track identity came from.
type Source string

const (
	SourceSpotify    Source = "spotify"
	SourceSoundcloud Source = "soundcloud"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	return s == SourceSpotify || s == SourceSoundcloud
}

// QualityPreference picks which format the library converges on.
type QualityPreference string

const (
	// PreferLossless converges the library on WAV.
	PreferLossless QualityPreference = "prefer-lossless"
	// PreferCompressed converges the library on MP3 320.
	PreferCompressed QualityPreference = "prefer-compressed"
)

// Valid reports whether p is a known preference.
func (p QualityPreference) Valid() bool {
	return p == PreferLossless || p == PreferCompressed
}

// AudioExtensions is the set of file extensions accepted as audio,
// lowercase without the leading dot.
var AudioExtensions = map[string]bool{
	"wav": true, "flac": true, "mp3": true, "ogg": true, "m4a": true,
	"aac": true, "alac": true, "ape": true, "wma": true, "opus": true,
}

// losslessExtensions is the subset of AudioExtensions exempt from the
// bitrate floor.
var losslessExtensions = map[string]bool{
	"wav": true, "flac": true, "alac": true, "ape": true,
}

// IsLossless reports whether ext names a lossless audio format.
// The leading dot and case are ignored.
func IsLossless(ext string) bool {
	return losslessExtensions[NormalizeExtension(ext)]
}

// IsAudioExtension reports whether ext names a recognized audio format.
func IsAudioExtension(ext string) bool {
	return AudioExtensions[NormalizeExtension(ext)]
}

// NormalizeExtension lowercases ext and strips a leading dot.
func NormalizeExtension(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// Track represents a track discovered in a playlist and its acquisition
// state. Identity is (SpotifyID, Source).
type Track struct {
	SpotifyID      string
	Source         Source
	TrackName      string
	Artist         string
	DownloadStatus DownloadStatus
	FailedReason   sql.NullString
	SearchID       sql.NullString
	TransferID     sql.NullString
	RemoteFilename sql.NullString
	Username       sql.NullString
	LocalPath      sql.NullString
	Extension      sql.NullString
	Bitrate        sql.NullInt64
	AddedAt        time.Time
	UpdatedAt      time.Time
}

// Query returns the search string sent to the daemon for this track.
func (t *Track) Query() string {
	return t.Artist + " " + t.TrackName
}

// IsUpgrade reports whether the track already holds a file, which marks
// any active search or transfer on it as a quality upgrade.
func (t *Track) IsUpgrade() bool {
	return t.LocalPath.Valid && t.LocalPath.String != ""
}

// Playlist represents a scraped Spotify playlist.
type Playlist struct {
	URL       string
	Name      string
	M3U8Path  sql.NullString
	AddedAt   time.Time
	UpdatedAt time.Time
}

// ScrapedTrack is a track as it appears in a catalog page, before it is
// persisted.
type ScrapedTrack struct {
	ID     string
	Source Source
	Title  string
	Artist string
}

// BlacklistEntry records a remote file or transfer that must never be
// selected again.
type BlacklistEntry struct {
	RemoteID string
	Reason   string
	AddedAt  time.Time
}

// TaskState is the scheduler's per-task bookkeeping row.
type TaskState struct {
	TaskName      string
	LastRunAt     sql.NullTime
	LastSuccessAt sql.NullTime
	LastStatus    sql.NullString
	Running       bool
}

// TaskRun is one row of the append-only task execution history.
type TaskRun struct {
	ID              int64
	TaskName        string
	StartedAt       time.Time
	CompletedAt     sql.NullTime
	Status          string
	Error           sql.NullString
	TracksProcessed int
}
