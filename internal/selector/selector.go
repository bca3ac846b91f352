// package selector picks the best remote file from a set of search
// results. The pipeline is pure and deterministic: identical inputs always
// yield the same choice.
package selector

import (
	"sort"
	"strings"

	"github.com/MXC1/spotiseek/internal/models"
	"github.com/MXC1/spotiseek/internal/slskd"
)

// minLossyBitrate is the floor for compressed formats. Lossless formats
// are exempt; a lossy file with unknown bitrate is rejected.
const minLossyBitrate = 320

// exclusionKeywords filter out alternate versions. A keyword is waived
// when the search query itself contains it, so a deliberate search for
// "song remix" still matches remixes.
var exclusionKeywords = []string{
	"remix", "edit", "bootleg", "mashup", "mix", "acapella",
	"instrumental", "sped up", "slowed", "cover", "karaoke", "tribute",
	"demo", "live", "acoustic", "version", "remaster", "flip",
	"extended", "rework", "re-edit", "dub", "radio",
}

// Select runs the full filter pipeline over results and returns the best
// candidate, or nil when nothing acceptable remains. blacklisted reports
// whether a remote id must never be chosen again.
func Select(results []slskd.File, pref models.QualityPreference, query string, blacklisted func(id string) bool) *slskd.File {
	var candidates []slskd.File
	for _, file := range results {
		if blacklisted != nil && blacklisted(file.RemoteID()) {
			continue
		}
		if !acceptableFormat(&file) {
			continue
		}
		if !meetsBitrateFloor(&file) {
			continue
		}
		if hasExcludedKeyword(&file, query) {
			continue
		}
		candidates = append(candidates, file)
	}

	if len(candidates) == 0 {
		return nil
	}

	// Stable sort: among equally ranked files the first seen wins.
	sort.SliceStable(candidates, func(i, j int) bool {
		return rank(&candidates[i], pref) > rank(&candidates[j], pref)
	})

	return &candidates[0]
}

// acceptableFormat keeps only recognized audio extensions.
func acceptableFormat(file *slskd.File) bool {
	return models.IsAudioExtension(file.Ext())
}

// meetsBitrateFloor enforces the lossy bitrate minimum. Lossless formats
// pass regardless of the reported bitrate.
func meetsBitrateFloor(file *slskd.File) bool {
	if models.IsLossless(file.Ext()) {
		return true
	}
	return file.BitRate >= minLossyBitrate
}

// hasExcludedKeyword reports whether the filename mentions an alternate
// version the query did not ask for.
func hasExcludedKeyword(file *slskd.File, query string) bool {
	name := strings.ToLower(file.BaseName())
	loweredQuery := strings.ToLower(query)

	for _, keyword := range exclusionKeywords {
		if !strings.Contains(name, keyword) {
			continue
		}
		if strings.Contains(loweredQuery, keyword) {
			continue
		}
		return true
	}

	return false
}

// rank scores a file under the quality preference. Higher is better. The
// score is a (tier, bitrate) pair packed so tier dominates.
func rank(file *slskd.File, pref models.QualityPreference) int64 {
	ext := file.Ext()

	var tier int64
	switch pref {
	case models.PreferCompressed:
		if ext == "mp3" {
			tier = 2
		} else {
			tier = 1
		}
	case models.PreferLossless:
		switch {
		case models.IsLossless(ext):
			tier = 3
		case ext == "mp3":
			tier = 2
		default:
			tier = 1
		}
	}

	return tier<<32 | int64(file.BitRate)
}

// IsTerminalFormat reports whether a held file already is the
// preference's end state: WAV under prefer-lossless, MP3 at or above the
// floor under prefer-compressed. Terminal files are never upgraded.
func IsTerminalFormat(extension string, bitrate int, pref models.QualityPreference) bool {
	ext := models.NormalizeExtension(extension)
	switch pref {
	case models.PreferLossless:
		return ext == "wav"
	case models.PreferCompressed:
		return ext == "mp3" && bitrate >= minLossyBitrate
	}
	return false
}

// IsUpgrade reports whether candidate outranks the file a track already
// holds. Used by the upgrade path so a redownload never replaces a file
// with an equal or worse one.
func IsUpgrade(candidate *slskd.File, heldExtension string, heldBitrate int, pref models.QualityPreference) bool {
	if IsTerminalFormat(heldExtension, heldBitrate, pref) {
		return false
	}
	held := slskd.File{Extension: heldExtension, BitRate: heldBitrate}
	return rank(candidate, pref) > rank(&held, pref)
}
