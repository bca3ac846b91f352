package acquisition

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/MXC1/spotiseek/internal/export"
	"github.com/MXC1/spotiseek/internal/models"
	"github.com/MXC1/spotiseek/internal/repositories"
	"github.com/MXC1/spotiseek/internal/shared"
	"github.com/MXC1/spotiseek/internal/slskd"
	tu "github.com/MXC1/spotiseek/internal/testing"
)

type testEnv struct {
	engine  *Engine
	repos   *repositories.Repositories
	daemon  *tu.FakeDaemon
	remuxer *tu.FakeRemuxer
	catalog *tu.FakeCatalog
}

func setupEngine(t *testing.T, pref models.QualityPreference) *testEnv {
	t.Helper()

	repos := repositories.New(tu.SetupDB(t))
	daemon := tu.NewFakeDaemon()
	remuxer := tu.NewFakeRemuxer()
	catalog := &tu.FakeCatalog{}
	logger := shared.NewLogger(io.Discard)
	dir := t.TempDir()

	engine := NewEngine(Config{
		Tracks:        repos.Tracks,
		Playlists:     repos.Playlists,
		Blacklist:     repos.Blacklist,
		Daemon:        daemon,
		Catalog:       catalog,
		Remuxer:       remuxer,
		M3U8:          export.NewM3U8Writer(filepath.Join(dir, "m3u8"), logger),
		XML:           export.NewXMLExporter(filepath.Join(dir, "library.xml"), logger),
		PlaylistURLs:  func() ([]string, error) { return []string{"https://open.spotify.com/playlist/p1"}, nil },
		Preference:    pref,
		DownloadsRoot: filepath.Join(dir, "downloads"),
		Logger:        logger,
	})

	return &testEnv{engine: engine, repos: repos, daemon: daemon, remuxer: remuxer, catalog: catalog}
}

func (env *testEnv) seed(t *testing.T, id string) {
	t.Helper()
	_, err := env.repos.Tracks.Upsert(context.Background(), models.ScrapedTrack{
		ID: id, Source: models.SourceSpotify, Title: "Strobe", Artist: "deadmau5",
	})
	if err != nil {
		t.Fatal(err)
	}
}

func (env *testEnv) track(t *testing.T, id string) *models.Track {
	t.Helper()
	track, err := env.repos.Tracks.Get(context.Background(), id, models.SourceSpotify)
	if err != nil {
		t.Fatal(err)
	}
	return track
}

func TestScrapePlaylists(t *testing.T) {
	env := setupEngine(t, models.PreferLossless)
	ctx := context.Background()

	env.catalog.Name = "Focus"
	env.catalog.Tracks = []models.ScrapedTrack{
		{ID: "sp1", Source: models.SourceSpotify, Title: "Strobe", Artist: "deadmau5"},
		{ID: "sp2", Source: models.SourceSpotify, Title: "Opus", Artist: "Eric Prydz"},
	}

	processed, err := env.engine.ScrapePlaylists(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if processed != 2 {
		t.Errorf("expected 2 new tracks, got %d", processed)
	}

	track := env.track(t, "sp1")
	if track.DownloadStatus != models.StatusPending {
		t.Errorf("expected pending, got %s", track.DownloadStatus)
	}

	playlist, err := env.repos.Playlists.Get(ctx, "https://open.spotify.com/playlist/p1")
	if err != nil {
		t.Fatal(err)
	}
	if !playlist.M3U8Path.Valid {
		t.Error("expected playlist file to be written")
	}

	// Re-scraping discovers nothing new and keeps existing rows.
	processed, err = env.engine.ScrapePlaylists(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if processed != 0 {
		t.Errorf("expected no new tracks on re-scrape, got %d", processed)
	}
}

func TestInitiateSearches(t *testing.T) {
	t.Run("PendingTrack", func(t *testing.T) {
		env := setupEngine(t, models.PreferLossless)
		ctx := context.Background()
		env.seed(t, "sp1")

		processed, err := env.engine.InitiateSearches(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if processed != 1 {
			t.Fatalf("expected 1 track processed, got %d", processed)
		}

		track := env.track(t, "sp1")
		if track.DownloadStatus != models.StatusSearching {
			t.Errorf("expected searching, got %s", track.DownloadStatus)
		}
		if !track.SearchID.Valid || track.SearchID.String == "" {
			t.Error("expected search handle to be recorded")
		}
		if len(env.daemon.CreatedSearches) != 1 {
			t.Errorf("expected 1 daemon search, got %d", len(env.daemon.CreatedSearches))
		}
	})

	t.Run("FailedTrackBlacklistsCandidate", func(t *testing.T) {
		env := setupEngine(t, models.PreferLossless)
		ctx := context.Background()
		env.seed(t, "sp1")

		if err := env.repos.Tracks.SetCandidate(ctx, "sp1", models.SourceSpotify, `@a\song.mp3`, "peer1", "mp3", 320); err != nil {
			t.Fatal(err)
		}
		if err := env.repos.Tracks.SetTransfer(ctx, "sp1", models.SourceSpotify, "t-1"); err != nil {
			t.Fatal(err)
		}
		reason := models.ReasonNoSuitableFiles
		if err := env.repos.Tracks.SetStatus(ctx, "sp1", models.SourceSpotify, models.StatusFailed, &reason); err != nil {
			t.Fatal(err)
		}

		if _, err := env.engine.InitiateSearches(ctx); err != nil {
			t.Fatal(err)
		}

		exists, err := env.repos.Blacklist.Contains(ctx, `peer1::@a\song.mp3`)
		if err != nil {
			t.Fatal(err)
		}
		if !exists {
			t.Error("expected previous candidate's peer and path to be blacklisted")
		}

		track := env.track(t, "sp1")
		if track.DownloadStatus != models.StatusSearching {
			t.Errorf("expected searching after retry, got %s", track.DownloadStatus)
		}
		if track.FailedReason.Valid {
			t.Error("expected failed reason to be cleared")
		}
		if track.TransferID.Valid {
			t.Error("expected stale transfer handle to be cleared")
		}

		// The retry search offering the identical file must not reselect it.
		env.daemon.CompleteSearch(track.SearchID.String, []slskd.File{
			{Username: "peer1", Filename: `@a\song.mp3`, BitRate: 320, Size: 100},
		})
		if _, err := env.engine.PollSearchResults(ctx); err != nil {
			t.Fatal(err)
		}
		track = env.track(t, "sp1")
		if track.DownloadStatus != models.StatusFailed {
			t.Errorf("expected failed, got %s", track.DownloadStatus)
		}
		if track.FailedReason.String != string(models.ReasonNoSuitableFiles) {
			t.Errorf("expected no_suitable_files, got %s", track.FailedReason.String)
		}
		if len(env.daemon.Enqueued) != 0 {
			t.Errorf("expected no enqueue of a blacklisted copy, got %d", len(env.daemon.Enqueued))
		}
	})

	t.Run("SearchCreationFails", func(t *testing.T) {
		env := setupEngine(t, models.PreferLossless)
		ctx := context.Background()
		env.seed(t, "sp1")
		env.daemon.CreateSearchErr = errors.New("daemon down")

		if _, err := env.engine.InitiateSearches(ctx); err != nil {
			t.Fatal(err)
		}

		track := env.track(t, "sp1")
		if track.DownloadStatus != models.StatusFailed {
			t.Errorf("expected failed, got %s", track.DownloadStatus)
		}
		if track.FailedReason.String != string(models.ReasonDownloadFailed) {
			t.Errorf("expected download_failed, got %s", track.FailedReason.String)
		}
	})
}

// searchFor moves a seeded track into searching and returns its search id.
func searchFor(t *testing.T, env *testEnv, id string) string {
	t.Helper()
	if _, err := env.engine.InitiateSearches(context.Background()); err != nil {
		t.Fatal(err)
	}
	track := env.track(t, id)
	if !track.SearchID.Valid {
		t.Fatal("expected search handle")
	}
	return track.SearchID.String
}

func TestPollSearchResults(t *testing.T) {
	t.Run("IncompleteSearchLeftAlone", func(t *testing.T) {
		env := setupEngine(t, models.PreferLossless)
		env.seed(t, "sp1")
		searchFor(t, env, "sp1")

		if _, err := env.engine.PollSearchResults(context.Background()); err != nil {
			t.Fatal(err)
		}

		if got := env.track(t, "sp1").DownloadStatus; got != models.StatusSearching {
			t.Errorf("expected searching, got %s", got)
		}
	})

	t.Run("NoResults", func(t *testing.T) {
		env := setupEngine(t, models.PreferLossless)
		env.seed(t, "sp1")
		searchID := searchFor(t, env, "sp1")
		env.daemon.CompleteSearch(searchID, nil)

		if _, err := env.engine.PollSearchResults(context.Background()); err != nil {
			t.Fatal(err)
		}

		track := env.track(t, "sp1")
		if track.DownloadStatus != models.StatusFailed {
			t.Fatalf("expected failed, got %s", track.DownloadStatus)
		}
		if track.FailedReason.String != string(models.ReasonNoResults) {
			t.Errorf("expected no_results, got %s", track.FailedReason.String)
		}
	})

	t.Run("NoSuitableFiles", func(t *testing.T) {
		env := setupEngine(t, models.PreferLossless)
		env.seed(t, "sp1")
		searchID := searchFor(t, env, "sp1")
		env.daemon.CompleteSearch(searchID, []slskd.File{
			{Username: "peer1", Filename: `@a\song.mp3`, BitRate: 128},
		})

		if _, err := env.engine.PollSearchResults(context.Background()); err != nil {
			t.Fatal(err)
		}

		track := env.track(t, "sp1")
		if track.FailedReason.String != string(models.ReasonNoSuitableFiles) {
			t.Errorf("expected no_suitable_files, got %s", track.FailedReason.String)
		}
	})

	t.Run("CandidateEnqueued", func(t *testing.T) {
		env := setupEngine(t, models.PreferLossless)
		env.seed(t, "sp1")
		searchID := searchFor(t, env, "sp1")
		env.daemon.CompleteSearch(searchID, []slskd.File{
			{Username: "peer1", Filename: `@a\deadmau5 - Strobe.flac`, BitRate: 900, Size: 100},
		})

		if _, err := env.engine.PollSearchResults(context.Background()); err != nil {
			t.Fatal(err)
		}

		track := env.track(t, "sp1")
		if track.DownloadStatus != models.StatusQueued {
			t.Fatalf("expected queued, got %s", track.DownloadStatus)
		}
		if track.Username.String != "peer1" || track.Extension.String != "flac" {
			t.Error("expected candidate metadata to be recorded")
		}
		if len(env.daemon.Enqueued) != 1 {
			t.Errorf("expected 1 enqueued download, got %d", len(env.daemon.Enqueued))
		}
	})

	t.Run("EnqueueFailureKeepsCandidateForBlacklist", func(t *testing.T) {
		env := setupEngine(t, models.PreferLossless)
		ctx := context.Background()
		env.seed(t, "sp1")
		searchID := searchFor(t, env, "sp1")
		env.daemon.CompleteSearch(searchID, []slskd.File{
			{Username: "peer1", Filename: `@a\song.flac`, BitRate: 900, Size: 100},
		})
		env.daemon.EnqueueErr = errors.New("daemon down")

		if _, err := env.engine.PollSearchResults(ctx); err != nil {
			t.Fatal(err)
		}

		track := env.track(t, "sp1")
		if track.DownloadStatus != models.StatusFailed {
			t.Fatalf("expected failed, got %s", track.DownloadStatus)
		}
		if track.RemoteFilename.String != `@a\song.flac` || track.Username.String != "peer1" {
			t.Error("expected the selected candidate to be recorded despite the enqueue failure")
		}

		env.daemon.EnqueueErr = nil
		if _, err := env.engine.InitiateSearches(ctx); err != nil {
			t.Fatal(err)
		}
		exists, err := env.repos.Blacklist.Contains(ctx, `peer1::@a\song.flac`)
		if err != nil {
			t.Fatal(err)
		}
		if !exists {
			t.Error("expected the failed candidate to be blacklisted on retry")
		}
	})

	t.Run("UpgradeNotBetterFailsKeepingFile", func(t *testing.T) {
		env := setupEngine(t, models.PreferLossless)
		ctx := context.Background()
		env.seed(t, "sp1")

		if err := env.repos.Tracks.SetLocalFile(ctx, "sp1", models.SourceSpotify, "/music/strobe.flac", "flac", 900); err != nil {
			t.Fatal(err)
		}
		if err := env.repos.Tracks.SetStatus(ctx, "sp1", models.SourceSpotify, models.StatusRedownloadPending, nil); err != nil {
			t.Fatal(err)
		}
		if _, err := env.engine.ProcessUpgrades(ctx); err != nil {
			t.Fatal(err)
		}

		searchID := env.track(t, "sp1").SearchID.String
		env.daemon.CompleteSearch(searchID, []slskd.File{
			{Username: "peer1", Filename: `@a\strobe.flac`, BitRate: 900},
		})

		if _, err := env.engine.PollSearchResults(ctx); err != nil {
			t.Fatal(err)
		}

		track := env.track(t, "sp1")
		if track.DownloadStatus != models.StatusFailed {
			t.Errorf("expected failed, got %s", track.DownloadStatus)
		}
		if track.FailedReason.String != string(models.ReasonNoSuitableFiles) {
			t.Errorf("expected no_suitable_files, got %s", track.FailedReason.String)
		}
		if track.LocalPath.String != "/music/strobe.flac" {
			t.Error("expected the held file to be preserved")
		}
		if len(env.daemon.Enqueued) != 0 {
			t.Error("expected no download for a non-upgrade candidate")
		}
	})
}

// enqueueTrack drives a seeded track to queued with a known candidate.
func enqueueTrack(t *testing.T, env *testEnv, id, filename string) {
	t.Helper()
	ctx := context.Background()
	searchID := searchFor(t, env, id)
	env.daemon.CompleteSearch(searchID, []slskd.File{
		{Username: "peer1", Filename: filename, BitRate: 900, Size: 100},
	})
	if _, err := env.engine.PollSearchResults(ctx); err != nil {
		t.Fatal(err)
	}
	if got := env.track(t, id).DownloadStatus; got != models.StatusQueued {
		t.Fatalf("expected queued, got %s", got)
	}
}

func TestSyncTransfers(t *testing.T) {
	t.Run("LifecycleToCompleted", func(t *testing.T) {
		env := setupEngine(t, models.PreferLossless)
		ctx := context.Background()
		env.seed(t, "sp1")
		enqueueTrack(t, env, "sp1", `@a\deadmau5 - Strobe.flac`)

		env.daemon.Transfers = []slskd.Transfer{
			{ID: "t-1", Username: "peer1", Filename: `@a\deadmau5 - Strobe.flac`, State: "InProgress"},
		}
		if _, err := env.engine.SyncTransfers(ctx); err != nil {
			t.Fatal(err)
		}

		track := env.track(t, "sp1")
		if track.DownloadStatus != models.StatusDownloading {
			t.Fatalf("expected downloading, got %s", track.DownloadStatus)
		}
		if track.TransferID.String != "t-1" {
			t.Error("expected transfer handle to be recovered from the daemon")
		}

		env.daemon.Transfers[0].State = slskd.TransferSucceeded
		if _, err := env.engine.SyncTransfers(ctx); err != nil {
			t.Fatal(err)
		}

		track = env.track(t, "sp1")
		if track.DownloadStatus != models.StatusCompleted {
			t.Fatalf("expected completed, got %s", track.DownloadStatus)
		}
		if !track.LocalPath.Valid || track.Extension.String != "wav" {
			t.Errorf("expected normalized local file, got %v (%s)", track.LocalPath, track.Extension.String)
		}
		if len(env.remuxer.Normalized) != 1 {
			t.Fatalf("expected 1 normalization, got %d", len(env.remuxer.Normalized))
		}

		// Re-polling a finished transfer must be a no-op.
		if _, err := env.engine.SyncTransfers(ctx); err != nil {
			t.Fatal(err)
		}
		if got := env.track(t, "sp1").DownloadStatus; got != models.StatusCompleted {
			t.Errorf("expected completed to stick, got %s", got)
		}
		if len(env.remuxer.Normalized) != 1 {
			t.Error("expected no duplicate normalization on re-poll")
		}
	})

	t.Run("UpgradeLifecycleToCompleted", func(t *testing.T) {
		env := setupEngine(t, models.PreferLossless)
		ctx := context.Background()
		env.seed(t, "sp1")

		if err := env.repos.Tracks.SetLocalFile(ctx, "sp1", models.SourceSpotify, "/music/strobe.mp3", "mp3", 320); err != nil {
			t.Fatal(err)
		}
		if err := env.repos.Tracks.SetStatus(ctx, "sp1", models.SourceSpotify, models.StatusRedownloadPending, nil); err != nil {
			t.Fatal(err)
		}
		if _, err := env.engine.ProcessUpgrades(ctx); err != nil {
			t.Fatal(err)
		}
		if got := env.track(t, "sp1").DownloadStatus; got != models.StatusRequested {
			t.Fatalf("expected requested, got %s", got)
		}

		searchID := env.track(t, "sp1").SearchID.String
		env.daemon.CompleteSearch(searchID, []slskd.File{
			{Username: "peer1", Filename: `@a\deadmau5 - Strobe.flac`, BitRate: 900, Size: 100},
		})
		if _, err := env.engine.PollSearchResults(ctx); err != nil {
			t.Fatal(err)
		}
		track := env.track(t, "sp1")
		if track.DownloadStatus != models.StatusRequested {
			t.Fatalf("expected requested after enqueue, got %s", track.DownloadStatus)
		}
		if len(env.daemon.Enqueued) != 1 {
			t.Fatalf("expected 1 enqueued download, got %d", len(env.daemon.Enqueued))
		}

		// A second poll before the transfer shows up must not re-enqueue.
		if _, err := env.engine.PollSearchResults(ctx); err != nil {
			t.Fatal(err)
		}
		if len(env.daemon.Enqueued) != 1 {
			t.Error("expected no duplicate enqueue on re-poll")
		}

		env.daemon.Transfers = []slskd.Transfer{
			{ID: "t-7", Username: "peer1", Filename: `@a\deadmau5 - Strobe.flac`, State: "InProgress"},
		}
		if _, err := env.engine.SyncTransfers(ctx); err != nil {
			t.Fatal(err)
		}
		if got := env.track(t, "sp1").DownloadStatus; got != models.StatusInProgress {
			t.Fatalf("expected inprogress, got %s", got)
		}

		env.daemon.Transfers[0].State = slskd.TransferSucceeded
		if _, err := env.engine.SyncTransfers(ctx); err != nil {
			t.Fatal(err)
		}
		track = env.track(t, "sp1")
		if track.DownloadStatus != models.StatusCompleted {
			t.Fatalf("expected completed, got %s", track.DownloadStatus)
		}
		if track.Extension.String != "wav" {
			t.Errorf("expected the replacement to be normalized, got %s", track.Extension.String)
		}
	})

	t.Run("ErroredTransferFails", func(t *testing.T) {
		env := setupEngine(t, models.PreferLossless)
		ctx := context.Background()
		env.seed(t, "sp1")
		enqueueTrack(t, env, "sp1", `@a\deadmau5 - Strobe.flac`)

		env.daemon.Transfers = []slskd.Transfer{
			{ID: "t-1", Username: "peer1", Filename: `@a\deadmau5 - Strobe.flac`, State: slskd.TransferErrored},
		}
		if _, err := env.engine.SyncTransfers(ctx); err != nil {
			t.Fatal(err)
		}

		track := env.track(t, "sp1")
		if track.DownloadStatus != models.StatusFailed {
			t.Fatalf("expected failed, got %s", track.DownloadStatus)
		}
		if track.FailedReason.String != string(models.ReasonDownloadFailed) {
			t.Errorf("expected download_failed, got %s", track.FailedReason.String)
		}
		if len(env.daemon.Cancelled) != 1 {
			t.Error("expected failed transfer to be removed from the daemon")
		}
	})

	t.Run("TimedOutMapsToPeerOffline", func(t *testing.T) {
		env := setupEngine(t, models.PreferLossless)
		ctx := context.Background()
		env.seed(t, "sp1")
		enqueueTrack(t, env, "sp1", `@a\deadmau5 - Strobe.flac`)

		env.daemon.Transfers = []slskd.Transfer{
			{ID: "t-1", Username: "peer1", Filename: `@a\deadmau5 - Strobe.flac`, State: slskd.TransferTimedOut},
		}
		if _, err := env.engine.SyncTransfers(ctx); err != nil {
			t.Fatal(err)
		}

		if got := env.track(t, "sp1").FailedReason.String; got != string(models.ReasonPeerOffline) {
			t.Errorf("expected peer_offline, got %s", got)
		}
	})

	t.Run("CorruptFileBlacklistsSource", func(t *testing.T) {
		env := setupEngine(t, models.PreferLossless)
		ctx := context.Background()
		env.seed(t, "sp1")
		enqueueTrack(t, env, "sp1", `@a\deadmau5 - Strobe.flac`)

		localPath := filepath.Join(env.engine.cfg.DownloadsRoot, "deadmau5 - Strobe.flac")
		env.remuxer.CorruptPaths[localPath] = true
		env.daemon.Transfers = []slskd.Transfer{
			{ID: "t-1", Username: "peer1", Filename: `@a\deadmau5 - Strobe.flac`, State: slskd.TransferSucceeded},
		}

		if _, err := env.engine.SyncTransfers(ctx); err != nil {
			t.Fatal(err)
		}

		exists, err := env.repos.Blacklist.Contains(ctx, `peer1::@a\deadmau5 - Strobe.flac`)
		if err != nil {
			t.Fatal(err)
		}
		if !exists {
			t.Error("expected corrupt file's source to be blacklisted")
		}
		if got := env.track(t, "sp1").DownloadStatus; got != models.StatusFailed {
			t.Errorf("expected failed, got %s", got)
		}
	})
}

func TestQualityUpgradeFlow(t *testing.T) {
	env := setupEngine(t, models.PreferLossless)
	ctx := context.Background()

	env.seed(t, "held-mp3")
	env.seed(t, "held-wav")
	if err := env.repos.Tracks.SetLocalFile(ctx, "held-mp3", models.SourceSpotify, "/music/a.mp3", "mp3", 320); err != nil {
		t.Fatal(err)
	}
	if err := env.repos.Tracks.SetLocalFile(ctx, "held-wav", models.SourceSpotify, "/music/b.wav", "wav", 0); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"held-mp3", "held-wav"} {
		if err := env.repos.Tracks.SetStatus(ctx, id, models.SourceSpotify, models.StatusCompleted, nil); err != nil {
			t.Fatal(err)
		}
	}

	processed, err := env.engine.MarkQualityUpgrades(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if processed != 1 {
		t.Fatalf("expected 1 flagged track, got %d", processed)
	}

	if got := env.track(t, "held-mp3").DownloadStatus; got != models.StatusRedownloadPending {
		t.Errorf("expected redownload_pending, got %s", got)
	}
	if got := env.track(t, "held-wav").DownloadStatus; got != models.StatusCompleted {
		t.Errorf("expected terminal-format track to stay completed, got %s", got)
	}

	if _, err := env.engine.ProcessUpgrades(ctx); err != nil {
		t.Fatal(err)
	}

	track := env.track(t, "held-mp3")
	if track.DownloadStatus != models.StatusRequested {
		t.Errorf("expected requested, got %s", track.DownloadStatus)
	}
	if !track.IsUpgrade() {
		t.Error("expected held file to remain recorded during the upgrade")
	}
}

func TestExportLibrary(t *testing.T) {
	env := setupEngine(t, models.PreferLossless)
	ctx := context.Background()

	env.seed(t, "sp1")
	if err := env.repos.Tracks.SetLocalFile(ctx, "sp1", models.SourceSpotify, "/music/a.wav", "wav", 0); err != nil {
		t.Fatal(err)
	}
	if err := env.repos.Tracks.SetStatus(ctx, "sp1", models.SourceSpotify, models.StatusCompleted, nil); err != nil {
		t.Fatal(err)
	}

	processed, err := env.engine.ExportLibrary(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if processed != 1 {
		t.Errorf("expected 1 exported track, got %d", processed)
	}
}

func TestRemuxExistingFiles(t *testing.T) {
	env := setupEngine(t, models.PreferCompressed)
	ctx := context.Background()

	env.seed(t, "sp1")
	if err := env.repos.Tracks.SetLocalFile(ctx, "sp1", models.SourceSpotify, "/music/a.ogg", "ogg", 500); err != nil {
		t.Fatal(err)
	}
	if err := env.repos.Tracks.SetStatus(ctx, "sp1", models.SourceSpotify, models.StatusCompleted, nil); err != nil {
		t.Fatal(err)
	}

	processed, err := env.engine.RemuxExistingFiles(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if processed != 1 {
		t.Fatalf("expected 1 remuxed track, got %d", processed)
	}

	track := env.track(t, "sp1")
	if track.Extension.String != "mp3" {
		t.Errorf("expected mp3 after remux, got %s", track.Extension.String)
	}
	if got := track.LocalPath.String; got != "/music/a.mp3" {
		t.Errorf("expected converted path, got %s", got)
	}
}
