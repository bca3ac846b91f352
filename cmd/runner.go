package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/MXC1/spotiseek/internal/acquisition"
	"github.com/MXC1/spotiseek/internal/export"
	"github.com/MXC1/spotiseek/internal/models"
	"github.com/MXC1/spotiseek/internal/remux"
	"github.com/MXC1/spotiseek/internal/repositories"
	"github.com/MXC1/spotiseek/internal/scheduler"
	"github.com/MXC1/spotiseek/internal/shared"
	"github.com/MXC1/spotiseek/internal/slskd"
	"github.com/MXC1/spotiseek/internal/spotify"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config  *shared.Config
	logger  *log.Logger
	output  io.Writer
	db      *sql.DB
	repos   *repositories.Repositories
	engine  *acquisition.Engine
	daemon  acquisition.DaemonClient
	slskd   *slskd.Client
	sched   *scheduler.Scheduler
	httpC   *http.Client
	catalog acquisition.Catalog
	remuxer remux.Remuxer
}

// RunnerOpts contains configuration options for creating a Runner. Nil
// fields are built from the loaded config during bootstrap; tests inject
// fakes here.
type RunnerOpts struct {
	Config     *shared.Config
	Logger     *log.Logger
	Output     io.Writer
	DB         *sql.DB
	Daemon     acquisition.DaemonClient
	Catalog    acquisition.Catalog
	Remuxer    remux.Remuxer
	HTTPClient *http.Client
}

// NewRunner creates a new Runner with the provided options.
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	return &Runner{
		config:  opts.Config,
		logger:  opts.Logger,
		output:  opts.Output,
		db:      opts.DB,
		daemon:  opts.Daemon,
		catalog: opts.Catalog,
		remuxer: opts.Remuxer,
		httpC:   opts.HTTPClient,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		tasksCommand, daemonCommand, setupCommand, tracksCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// loadConfig reads and validates the config file named by the command's
// --config flag, unless a config was injected.
func (r *Runner) loadConfig(cmd *cli.Command) error {
	if r.config == nil {
		config, err := shared.LoadConfig(cmd.String("config"))
		if err != nil {
			return err
		}
		r.config = config
	}
	return r.config.Validate()
}

// bootstrap prepares everything a task-running command needs: config,
// database with schema, daemon and catalog clients, the engine, and the
// scheduler with its task registry.
func (r *Runner) bootstrap(cmd *cli.Command) error {
	if err := r.loadConfig(cmd); err != nil {
		return err
	}
	conf := r.config

	if r.db == nil {
		db, err := shared.NewDatabase(shared.DatabasePath(conf.Database.Dir, conf.Environment))
		if err != nil {
			return err
		}
		shared.ConfigureDatabase(db, conf.Database.MaxOpenConns, conf.Database.MaxIdleConns)
		r.db = db
	}
	if err := shared.RunMigrations(r.db); err != nil {
		return err
	}
	r.repos = repositories.New(r.db)

	if r.daemon == nil {
		r.slskd = slskd.NewClient(conf.Slskd.BaseURL, conf.Slskd.APIKey,
			conf.SlskdTimeout(), conf.Slskd.RateLimit, r.logger, r.httpC)
		r.daemon = r.slskd
	}
	if r.catalog == nil {
		r.catalog = spotify.NewClient(conf.Spotify.ClientID, conf.Spotify.ClientSecret, r.logger, r.httpC)
	}
	if r.remuxer == nil {
		r.remuxer = remux.NewFFmpeg(r.logger)
	}

	r.engine = acquisition.NewEngine(acquisition.Config{
		Tracks:        r.repos.Tracks,
		Playlists:     r.repos.Playlists,
		Blacklist:     r.repos.Blacklist,
		Daemon:        r.daemon,
		Catalog:       r.catalog,
		Remuxer:       r.remuxer,
		M3U8:          export.NewM3U8Writer(conf.Library.M3U8Dir, r.logger),
		XML:           export.NewXMLExporter(conf.Library.XMLPath, r.logger),
		PlaylistURLs:  func() ([]string, error) { return spotify.ReadPlaylistCSV(conf.Spotify.PlaylistsCSV) },
		Preference:    models.QualityPreference(conf.Library.QualityPreference),
		DownloadsRoot: conf.Library.DownloadsRoot,
		Logger:        r.logger,
	})

	registry, err := r.buildRegistry()
	if err != nil {
		return err
	}

	r.sched = scheduler.New(registry, r.repos.Tasks, r.logger,
		time.Duration(conf.Scheduler.TickSeconds)*time.Second, conf.Scheduler.MaxWorkers)
	return nil
}

// taskTable is the full pipeline with default intervals. Config
// [tasks] entries override intervals; 0 disables a task.
func (r *Runner) taskTable() []scheduler.Definition {
	wrap := func(fn func(ctx context.Context) (int, error)) func(ctx context.Context) (scheduler.Result, error) {
		return func(ctx context.Context) (scheduler.Result, error) {
			processed, err := fn(ctx)
			return scheduler.Result{TracksProcessed: processed}, err
		}
	}

	return []scheduler.Definition{
		{Name: "scrape_playlists", Interval: 24 * time.Hour, Run: wrap(r.engine.ScrapePlaylists)},
		{Name: "initiate_searches", Interval: time.Hour, DependsOn: []string{"scrape_playlists"}, Run: wrap(r.engine.InitiateSearches)},
		{Name: "poll_search_results", Interval: 15 * time.Minute, Run: wrap(r.engine.PollSearchResults)},
		{Name: "sync_download_status", Interval: 5 * time.Minute, Run: wrap(r.engine.SyncTransfers)},
		{Name: "mark_quality_upgrades", Interval: 24 * time.Hour, DependsOn: []string{"sync_download_status"}, Run: wrap(r.engine.MarkQualityUpgrades)},
		{Name: "process_upgrades", Interval: time.Hour, DependsOn: []string{"mark_quality_upgrades"}, Run: wrap(r.engine.ProcessUpgrades)},
		{Name: "export_library", Interval: 24 * time.Hour, DependsOn: []string{"sync_download_status"}, Run: wrap(r.engine.ExportLibrary)},
		{Name: "remux_existing_files", Interval: 6 * time.Hour, DependsOn: []string{"sync_download_status"}, Run: wrap(r.engine.RemuxExistingFiles)},
	}
}

func (r *Runner) buildRegistry() (*scheduler.Registry, error) {
	registry := scheduler.NewRegistry()
	for _, def := range r.taskTable() {
		def.Interval = r.config.TaskInterval(def.Name, def.Interval)
		if err := registry.Register(def); err != nil {
			return nil, err
		}
	}
	if err := registry.Finalize(); err != nil {
		return nil, err
	}
	return registry, nil
}

// TasksList prints every registered task with its schedule and state.
func (r *Runner) TasksList(ctx context.Context, cmd *cli.Command) error {
	if err := r.bootstrap(cmd); err != nil {
		return err
	}

	states, err := r.repos.Tasks.ListStates(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(r.output, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tINTERVAL\tDEPENDS ON\tLAST STATUS\tLAST SUCCESS")
	for _, def := range r.taskTable() {
		interval := r.config.TaskInterval(def.Name, def.Interval)
		intervalText := interval.String()
		if interval == 0 {
			intervalText = "disabled"
		}

		deps := "-"
		if len(def.DependsOn) > 0 {
			deps = def.DependsOn[0]
			for _, dep := range def.DependsOn[1:] {
				deps += ", " + dep
			}
		}

		lastStatus, lastSuccess := "never run", "-"
		if state, ok := states[def.Name]; ok {
			if state.LastStatus.Valid {
				lastStatus = state.LastStatus.String
			}
			if state.LastSuccessAt.Valid {
				lastSuccess = state.LastSuccessAt.Time.Format(time.RFC3339)
			}
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", def.Name, intervalText, deps, lastStatus, lastSuccess)
	}
	return w.Flush()
}

// TasksRun runs one named task immediately.
func (r *Runner) TasksRun(ctx context.Context, cmd *cli.Command) error {
	name := cmd.Args().First()
	if name == "" {
		return fmt.Errorf("%w: task name argument is required", shared.ErrInvalidArgument)
	}

	if err := r.bootstrap(cmd); err != nil {
		return err
	}
	return r.sched.RunOne(ctx, name)
}

// TasksRunAll runs the full pipeline once in dependency order.
func (r *Runner) TasksRunAll(ctx context.Context, cmd *cli.Command) error {
	if err := r.bootstrap(cmd); err != nil {
		return err
	}
	return r.sched.RunAll(ctx)
}

// Daemon runs the continuous scheduler until interrupted.
func (r *Runner) Daemon(ctx context.Context, cmd *cli.Command) error {
	if err := r.bootstrap(cmd); err != nil {
		return err
	}

	if r.slskd != nil {
		r.logger.Info("waiting for slskd daemon", "url", r.config.Slskd.BaseURL)
		if err := r.slskd.WaitReady(ctx, 5*time.Second); err != nil {
			return err
		}
	}

	return r.sched.Daemon(ctx)
}

// SetupDatabase opens the environment's database and applies migrations.
func (r *Runner) SetupDatabase(ctx context.Context, cmd *cli.Command) error {
	if err := r.bootstrap(cmd); err != nil {
		return err
	}

	r.logger.Info("database ready",
		"path", shared.DatabasePath(r.config.Database.Dir, r.config.Environment))
	return nil
}

// SetupConfig writes the example configuration file.
func (r *Runner) SetupConfig(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("config")
	if err := shared.CreateConfigFile(path); err != nil {
		return err
	}
	r.logger.Info("wrote configuration file", "path", path)
	return nil
}

// SetupReset drops and recreates the environment's database. In prod it
// refuses to run without --yes.
func (r *Runner) SetupReset(ctx context.Context, cmd *cli.Command) error {
	if err := r.loadConfig(cmd); err != nil {
		return err
	}

	if r.config.Environment == "prod" && !cmd.Bool("yes") {
		return fmt.Errorf("%w: refusing to reset the prod database without --yes", shared.ErrInvalidArgument)
	}

	if r.db != nil {
		r.db.Close()
		r.db = nil
	}

	path := shared.DatabasePath(r.config.Database.Dir, r.config.Environment)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove database: %w", err)
	}

	db, err := shared.NewDatabase(path)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := shared.RunMigrations(db); err != nil {
		return err
	}

	r.logger.Info("database reset", "path", path, "environment", r.config.Environment)
	return nil
}

// TracksStatus prints the status breakdown of all tracked tracks.
func (r *Runner) TracksStatus(ctx context.Context, cmd *cli.Command) error {
	if err := r.bootstrap(cmd); err != nil {
		return err
	}

	counts, err := r.repos.Tracks.StatusCounts(ctx)
	if err != nil {
		return err
	}

	statuses := make([]string, 0, len(counts))
	total := 0
	for status, count := range counts {
		statuses = append(statuses, string(status))
		total += count
	}
	sort.Strings(statuses)

	w := tabwriter.NewWriter(r.output, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STATUS\tTRACKS")
	for _, status := range statuses {
		fmt.Fprintf(w, "%s\t%d\n", status, counts[models.DownloadStatus(status)])
	}
	fmt.Fprintf(w, "total\t%d\n", total)
	return w.Flush()
}
