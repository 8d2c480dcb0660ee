// submodule cmd contains command definitions
package main

import (
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/cowatch/internal/formatter"
	"github.com/desertthunder/cowatch/internal/server"
)

// App returns the root command.
func (r *Runner) App() *cli.Command {
	return &cli.Command{
		Name:    "cowatch",
		Usage:   "Browse, upload and manage videos on a cowatch server",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
			},
			&cli.StringFlag{
				Name:  "api",
				Usage: "Video service base URL, overrides api.base_url",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable debug logging",
			},
		},
		Before:   r.Before,
		After:    r.After,
		Commands: r.register(),
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		videosCommand, statusCommand, setupCommand, serveCommand, tuiCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// videosCommand handles catalog and upload operations
func videosCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "videos",
		Aliases: []string{"v"},
		Usage:   "List, upload, delete, play and export videos",
		Commands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List videos on the server",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
					&cli.BoolFlag{
						Name:  "cached",
						Usage: "Show the last fetched list without contacting the server",
					},
				},
				Action: r.ListVideos,
			},
			{
				Name:  "upload",
				Usage: "Upload a video file",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "path"},
				},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "title",
						Aliases: []string{"t"},
						Usage:   "Video title, defaults to the file name",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output the final job as JSON",
					},
				},
				Action: r.UploadVideo,
			},
			{
				Name:      "delete",
				Aliases:   []string{"rm"},
				Usage:     "Delete one or more videos",
				ArgsUsage: "<id> [id...]",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "yes",
						Aliases: []string{"y"},
						Usage:   "Skip the confirmation prompt",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Concurrent deletes when several ids are given",
						Value: 3,
					},
				},
				Action: r.DeleteVideo,
			},
			{
				Name:  "play",
				Usage: "Open a video in the browser",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "print",
						Usage: "Print the playable URL instead of opening it",
					},
				},
				Action: r.PlayVideo,
			},
			{
				Name:  "export",
				Usage: "Export the video list to a file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Export format (csv, md, txt, json)",
						Value:   string(formatter.FormatCSV),
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file path, defaults to videos.<format>",
					},
					&cli.BoolFlag{
						Name:  "cached",
						Usage: "Export the last fetched list without contacting the server",
					},
				},
				Action: r.ExportVideos,
			},
			{
				Name:  "history",
				Usage: "Show recent uploads made from this machine",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of records, 0 lists everything",
						Value: 20,
					},
					&cli.IntFlag{
						Name:  "keep",
						Usage: "Delete all but the newest N records first, 0 keeps everything",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.UploadHistory,
			},
		},
	}
}

// statusCommand checks the video service health
func statusCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Check that the video service is reachable",
		Action: r.Status,
	}
}

// setupCommand creates the config file and the local cache
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "setup",
		Usage:  "Create a config file and initialize the local cache",
		Action: r.Setup,
	}
}

// serveCommand runs the in-memory video service
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run a local video service for development",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address, defaults to server.host:server.port",
			},
			&cli.StringFlag{
				Name:  "data",
				Usage: "Directory for uploaded media, kept in memory when empty",
			},
			&cli.Int64Flag{
				Name:  "max-upload",
				Usage: "Maximum upload size in bytes",
				Value: server.DefaultMaxUploadSize,
			},
		},
		Action: r.Serve,
	}
}

// tuiCommand launches the interactive terminal UI
func tuiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "tui",
		Usage:  "Browse and upload videos interactively",
		Action: r.TUI,
	}
}
