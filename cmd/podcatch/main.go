package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/robertmeta/podcatch/bus"
	"github.com/robertmeta/podcatch/config"
	"github.com/robertmeta/podcatch/download"
	"github.com/robertmeta/podcatch/export"
	"github.com/robertmeta/podcatch/model"
	"github.com/robertmeta/podcatch/store"
	"github.com/robertmeta/podcatch/tagger"
	"github.com/urfave/cli/v2"
)

const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitUsageError   = 2
	ExitDataError    = 3
)

func main() {
	app := &cli.App{
		Name:    "podcatch",
		Usage:   "Catch podcast episodes while browsing and export them as a feed",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "db",
				Aliases: []string{"d"},
				Usage:   "Database file path (overrides store.path)",
				EnvVars: []string{"PODCATCH_DB"},
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Config file (default: ~/.config/podcatch/config.yaml)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Run the media detector proxy and the control API",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "proxy-addr",
						Usage: "Detector proxy listen address",
					},
					&cli.StringFlag{
						Name:  "control-addr",
						Usage: "Control API listen address",
					},
				},
				Action: serve,
			},
			{
				Name:  "list",
				Usage: "List curated episodes",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"l"},
						Usage:   "Maximum number of records to return (0 for all)",
					},
					&cli.IntFlag{
						Name:    "offset",
						Aliases: []string{"o"},
						Usage:   "Offset for pagination",
					},
					&cli.StringFlag{
						Name:  "contains",
						Usage: "Only records whose title or url contains this text",
					},
					&cli.BoolFlag{
						Name:    "fuzzy",
						Aliases: []string{"f"},
						Usage:   "Match --contains fuzzily against titles",
					},
					&cli.BoolFlag{
						Name:    "table",
						Aliases: []string{"t"},
						Usage:   "Print a table instead of JSON",
					},
				},
				Action: listRecords,
			},
			{
				Name:  "add",
				Usage: "Append an episode to the list",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "url",
						Usage:    "Media URL",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "title",
						Usage: "Episode title",
					},
					&cli.StringFlag{
						Name:  "duration",
						Usage: "Episode duration, free text (e.g. 45:00)",
					},
				},
				Action: addRecord,
			},
			{
				Name:      "remove",
				Usage:     "Remove every episode with the given url",
				ArgsUsage: "<url>",
				Action:    removeRecord,
			},
			{
				Name:  "export",
				Usage: "Download every episode and write the feed sample",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "dir",
						Usage: "Target directory under the download directory",
					},
					&cli.BoolFlag{
						Name:  "to-cut",
						Usage: "Export into the directory of podcasts to cut",
					},
				},
				Action: exportRecords,
			},
			{
				Name:  "config",
				Usage: "Configuration utilities",
				Subcommands: []*cli.Command{
					{
						Name:  "init",
						Usage: "Write a sample configuration file",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:    "path",
								Aliases: []string{"p"},
								Usage:   "Destination for the configuration file",
							},
							&cli.BoolFlag{
								Name:  "overwrite",
								Usage: "Overwrite an existing configuration file",
							},
						},
						Action: initConfig,
					},
					{
						Name:   "show",
						Usage:  "Print the effective configuration as TOML",
						Action: showConfig,
					},
				},
			},
			{
				Name:      "tag",
				Usage:     "Write feed sample titles into the ID3 tags of exported mp3s and their lengths back into the sample",
				ArgsUsage: "<dir>",
				Action:    tagDir,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitGeneralError)
	}
}

// loadConfig reads the config file and applies global flag overrides.
func loadConfig(c *cli.Context) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, err
	}
	if c.IsSet("db") {
		cfg.Store.Path = c.String("db")
	}
	if c.IsSet("log-level") {
		cfg.Logging.Level = c.String("log-level")
	}

	logger, err := config.SetupLogger(cfg.Logging, os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func getStore(cfg *config.Config) (store.Backend, error) {
	// Create directory if it doesn't exist
	dir := filepath.Dir(cfg.Store.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	s, err := store.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return s, nil
}

func outputJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// totalDuration sums the durations that read as a clock time. Free-text
// durations are skipped.
func totalDuration(list model.List) time.Duration {
	var total time.Duration
	for _, r := range list {
		if d, err := model.ParseClock(r.Duration); err == nil {
			total += d
		}
	}
	return total
}

func listRecords(c *cli.Context) error {
	cfg, _, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), ExitUsageError)
	}

	opts, err := store.BuildQueryOptions(c.Int("limit"), c.Int("offset"), c.String("contains"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Invalid query options: %v", err), ExitUsageError)
	}
	opts.Fuzzy = c.Bool("fuzzy")

	s, err := getStore(cfg)
	if err != nil {
		return cli.Exit(err.Error(), ExitDataError)
	}
	defer s.Close()

	list, err := s.Load(c.Context)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to load records: %v", err), ExitDataError)
	}
	records := store.Apply(list, opts)
	total := model.FormatClock(totalDuration(records))

	if c.Bool("table") {
		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.SetStyle(table.StyleRounded)
		tw.AppendHeader(table.Row{"#", "Title", "Duration", "URL"})
		for i, r := range records {
			tw.AppendRow(table.Row{opts.Offset + i + 1, r.Title, r.Duration, r.URL})
		}
		tw.AppendFooter(table.Row{"", fmt.Sprintf("%d of %d", len(records), len(list)), total, ""})
		tw.Render()
		return nil
	}

	return outputJSON(map[string]interface{}{
		"count":          len(records),
		"total":          len(list),
		"limit":          opts.Limit,
		"offset":         opts.Offset,
		"total_duration": total,
		"records":        records,
	})
}

func addRecord(c *cli.Context) error {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), ExitUsageError)
	}

	record := model.Record{
		URL:      strings.TrimSpace(c.String("url")),
		Title:    strings.TrimSpace(c.String("title")),
		Duration: strings.TrimSpace(c.String("duration")),
	}
	if err := record.Validate(); err != nil {
		return cli.Exit(err.Error(), ExitUsageError)
	}

	s, err := getStore(cfg)
	if err != nil {
		return cli.Exit(err.Error(), ExitDataError)
	}
	defer s.Close()

	list, err := s.Load(c.Context)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to load records: %v", err), ExitDataError)
	}
	list = list.Append(record)
	if err := s.Save(c.Context, list); err != nil {
		return cli.Exit(fmt.Sprintf("Failed to save records: %v", err), ExitDataError)
	}
	logger.Debug("record added", slog.String("url", record.URL))

	return outputJSON(map[string]interface{}{
		"success": true,
		"record":  record,
		"count":   len(list),
	})
}

func removeRecord(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("Usage: podcatch remove <url>", ExitUsageError)
	}
	recordURL := c.Args().Get(0)

	cfg, _, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), ExitUsageError)
	}

	s, err := getStore(cfg)
	if err != nil {
		return cli.Exit(err.Error(), ExitDataError)
	}
	defer s.Close()

	list, err := s.Load(c.Context)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to load records: %v", err), ExitDataError)
	}
	remaining := list.Without(recordURL)
	if err := s.Save(c.Context, remaining); err != nil {
		return cli.Exit(fmt.Sprintf("Failed to save records: %v", err), ExitDataError)
	}

	return outputJSON(map[string]interface{}{
		"success": true,
		"url":     recordURL,
		"removed": len(list) - len(remaining),
		"count":   len(remaining),
	})
}

func exportRecords(c *cli.Context) error {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), ExitUsageError)
	}

	dir := cfg.Export.CreatorDir
	switch {
	case c.IsSet("dir") && c.Bool("to-cut"):
		return cli.Exit("--dir and --to-cut are mutually exclusive", ExitUsageError)
	case c.IsSet("dir"):
		dir = c.String("dir")
	case c.Bool("to-cut"):
		dir = cfg.Export.CutDir
	}

	s, err := getStore(cfg)
	if err != nil {
		return cli.Exit(err.Error(), ExitDataError)
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	manager := download.NewManager(cfg.Download.Dir, cfg.Download.Workers, cfg.Download.QueueSize, nil, logger)
	manager.Start(ctx)

	// No overlay runs outside `serve`; toggles sent on this bus are dropped.
	// The one-shot export waits for queue room instead of dropping requests.
	exporter := export.New(s, manager.Blocking(ctx), bus.New(logger), cfg.SampleOptions(), logger)
	plan, err := exporter.ExportAll(ctx, dir)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to export: %v", err), ExitDataError)
	}
	manager.Wait()

	if plan.Dropped > 0 {
		return cli.Exit(fmt.Sprintf("Export incomplete: %d of %d requests were not queued", plan.Dropped, len(plan.Files)+1), ExitGeneralError)
	}

	return outputJSON(map[string]interface{}{
		"success":  true,
		"base_dir": cfg.Download.Dir,
		"plan":     plan,
	})
}

func tagDir(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("Usage: podcatch tag <dir>", ExitUsageError)
	}

	_, logger, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), ExitUsageError)
	}

	dir := c.Args().Get(0)
	result, err := tagger.ApplyTitles(dir, logger)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to tag files: %v", err), ExitDataError)
	}

	durations, err := tagger.FillDurations(dir, time.Now(), logger)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to fill durations: %v", err), ExitDataError)
	}

	return outputJSON(map[string]interface{}{
		"success":   true,
		"tagged":    result.Tagged,
		"skipped":   result.Skipped,
		"durations": durations,
	})
}

func initConfig(c *cli.Context) error {
	path := strings.TrimSpace(c.String("path"))
	if path == "" {
		path = config.DefaultConfigFile()
	}

	if err := config.WriteSample(path, c.Bool("overwrite")); err != nil {
		return cli.Exit(err.Error(), ExitDataError)
	}

	return outputJSON(map[string]interface{}{
		"success": true,
		"file":    path,
	})
}

func showConfig(c *cli.Context) error {
	cfg, _, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), ExitUsageError)
	}
	if err := config.Encode(os.Stdout, cfg); err != nil {
		return cli.Exit(err.Error(), ExitGeneralError)
	}
	return nil
}
