// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to configuration file",
		Value:   "config.toml",
	}
}

// tasksCommand handles scheduler task operations
func tasksCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "tasks",
		Usage: "Inspect and run scheduled tasks",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List registered tasks, intervals, and last run state",
				Flags:  []cli.Flag{configFlag()},
				Action: r.TasksList,
			},
			{
				Name:      "run",
				Usage:     "Run a single task immediately",
				ArgsUsage: "<task-name>",
				Flags:     []cli.Flag{configFlag()},
				Action:    r.TasksRun,
			},
			{
				Name:   "run-all",
				Usage:  "Run the full pipeline once in dependency order",
				Flags:  []cli.Flag{configFlag()},
				Action: r.TasksRunAll,
			},
		},
	}
}

// daemonCommand runs the continuous scheduler
func daemonCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "daemon",
		Usage:  "Run the scheduler continuously, honoring task intervals",
		Flags:  []cli.Flag{configFlag()},
		Action: r.Daemon,
	}
}

// setupCommand handles first-run initialization
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Initialize configuration and database",
		Commands: []*cli.Command{
			{
				Name:   "database",
				Usage:  "Create the database and run migrations",
				Flags:  []cli.Flag{configFlag()},
				Action: r.SetupDatabase,
			},
			{
				Name:   "config",
				Usage:  "Write an example configuration file",
				Flags:  []cli.Flag{configFlag()},
				Action: r.SetupConfig,
			},
			{
				Name:  "reset",
				Usage: "Drop and recreate the environment's database",
				Flags: []cli.Flag{
					configFlag(),
					&cli.BoolFlag{
						Name:  "yes",
						Usage: "Confirm resetting a prod database",
					},
				},
				Action: r.SetupReset,
			},
		},
	}
}

// tracksCommand reports on tracked tracks
func tracksCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "tracks",
		Usage: "Inspect tracked tracks",
		Commands: []*cli.Command{
			{
				Name:   "status",
				Usage:  "Show the status breakdown of all tracks",
				Flags:  []cli.Flag{configFlag()},
				Action: r.TracksStatus,
			},
		},
	}
}
