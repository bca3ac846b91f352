package models

import (
	"database/sql"
	"testing"
)

func TestDownloadStatusValid(t *testing.T) {
	valid := []DownloadStatus{
		StatusPending, StatusSearching, StatusQueued, StatusDownloading,
		StatusCompleted, StatusFailed, StatusRedownloadPending,
		StatusRequested, StatusInProgress,
	}

	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("expected %s to be valid", s)
		}
	}

	if DownloadStatus("cancelled").Valid() {
		t.Error("expected unknown status to be invalid")
	}
}

func TestFailedReasonValid(t *testing.T) {
	valid := []FailedReason{
		ReasonNoResults, ReasonNoSuitableFiles, ReasonDownloadFailed,
		ReasonPeerOffline, ReasonFileNotFound,
	}

	for _, r := range valid {
		if !r.Valid() {
			t.Errorf("expected %s to be valid", r)
		}
	}

	if FailedReason("bored").Valid() {
		t.Error("expected unknown reason to be invalid")
	}
}

func TestQualityPreferenceValid(t *testing.T) {
	if !PreferLossless.Valid() || !PreferCompressed.Valid() {
		t.Error("expected known preferences to be valid")
	}
	if QualityPreference("prefer-cassette").Valid() {
		t.Error("expected unknown preference to be invalid")
	}
}

func TestIsLossless(t *testing.T) {
	cases := []struct {
		ext      string
		lossless bool
	}{
		{"flac", true},
		{".FLAC", true},
		{"wav", true},
		{"alac", true},
		{"ape", true},
		{"mp3", false},
		{".ogg", false},
		{"", false},
	}

	for _, tc := range cases {
		if got := IsLossless(tc.ext); got != tc.lossless {
			t.Errorf("IsLossless(%q) = %v, expected %v", tc.ext, got, tc.lossless)
		}
	}
}

func TestIsAudioExtension(t *testing.T) {
	if !IsAudioExtension(".Mp3") {
		t.Error("expected .Mp3 to be recognized")
	}
	if IsAudioExtension("exe") {
		t.Error("expected exe to be rejected")
	}
}

func TestTrackQuery(t *testing.T) {
	track := Track{TrackName: "Strobe", Artist: "deadmau5"}
	if got := track.Query(); got != "deadmau5 Strobe" {
		t.Errorf("expected query 'deadmau5 Strobe', got %q", got)
	}
}

func TestTrackIsUpgrade(t *testing.T) {
	track := Track{}
	if track.IsUpgrade() {
		t.Error("expected track without local path to not be an upgrade")
	}

	track.LocalPath = sql.NullString{String: "/music/strobe.mp3", Valid: true}
	if !track.IsUpgrade() {
		t.Error("expected track with local path to be an upgrade")
	}
}
