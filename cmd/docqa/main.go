// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/poiesic/docqa"
	"github.com/poiesic/docqa/config"
	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/reembed"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	sessionFlag := &cli.StringFlag{
		Name:     "session",
		Aliases:  []string{"s"},
		Usage:    "Session identifier",
		Required: true,
	}

	return &cli.App{
		Name:  "docqa",
		Usage: "Question answering over uploaded documents",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration file",
				Value:   "docqa.yaml",
				EnvVars: []string{"DOCQA_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Dotenv file loaded before the configuration",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:  "storage-backend",
				Usage: "Session storage backend (badger, sqlite)",
			},
			&cli.StringFlag{
				Name:  "storage-path",
				Usage: "Session storage location",
			},
		},
		Before: setup,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP server",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Usage: "Listen address (overrides the configuration)",
					},
				},
			},
			{
				Name:      "ingest",
				Usage:     "Index PDF or text files into a session",
				ArgsUsage: "FILE...",
				Action:    ingestCommand,
				Flags:     []cli.Flag{sessionFlag},
			},
			{
				Name:      "ask",
				Usage:     "Ask a question against a session's documents",
				ArgsUsage: "QUESTION",
				Action:    askCommand,
				Flags:     []cli.Flag{sessionFlag},
			},
			{
				Name:      "rewrite",
				Usage:     "Rewrite an answer in another style",
				ArgsUsage: "ANSWER",
				Action:    rewriteCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "style",
						Usage:    "Requested style, e.g. \"formal\" or \"explain like I'm five\"",
						Required: true,
					},
				},
			},
			{
				Name:   "sessions",
				Usage:  "List stored sessions",
				Action: sessionsCommand,
			},
			{
				Name:   "delete-session",
				Usage:  "Delete a session and its documents",
				Action: deleteSessionCommand,
				Flags:  []cli.Flag{sessionFlag},
			},
			{
				Name:   "reembed",
				Usage:  "Rebuild stored vectors with the configured embedding model",
				Action: reembedCommand,
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:    "session",
						Aliases: []string{"s"},
						Usage:   "Session to re-embed (repeatable, default all)",
					},
					&cli.StringFlag{
						Name:  "embedding-host",
						Usage: "Embedding service host URL (overrides the configuration)",
					},
					&cli.StringFlag{
						Name:  "embedding-model",
						Usage: "Embedding model name (overrides the configuration)",
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of chunks to embed in each request",
						Value: reembed.DefaultBatchSize,
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N chunks",
						Value: reembed.DefaultReportInterval,
					},
				},
			},
			{
				Name:      "init-config",
				Usage:     "Write the default configuration to a file",
				ArgsUsage: "[PATH]",
				Action:    initConfigCommand,
			},
		},
	}
}

func setup(c *cli.Context) error {
	if err := setupLogger(c); err != nil {
		return err
	}
	if path := c.String("env-file"); path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", path, err)
		}
	}
	return nil
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}

// loadConfig reads the configuration file, then applies the environment and
// the global flags, in that order.
func loadConfig(c *cli.Context) (*config.AppConfig, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	if backend := c.String("storage-backend"); backend != "" {
		cfg.Storage.Backend = backend
	}
	if path := c.String("storage-path"); path != "" {
		cfg.Storage.Path = path
	}
	return cfg, nil
}

func openApp(cfg *config.AppConfig) (*docqa.App, error) {
	app, err := docqa.New(cfg)
	if err != nil {
		if errors.Is(err, core.ErrConfiguration) {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return nil, fmt.Errorf("failed to start: %w", err)
	}
	return app, nil
}

func serveCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if addr := c.String("addr"); addr != "" {
		cfg.Server.Addr = addr
	}

	app, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	srv, err := app.NewServer()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Serve(ctx, cfg.Server.Addr)
}

func ingestCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("at least one file is required")
	}
	id := core.SessionID(c.String("session"))
	if err := core.ValidateSessionID(id); err != nil {
		return err
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	app, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx := c.Context
	for _, path := range c.Args().Slice() {
		source := filepath.Base(path)
		n, err := app.Ingestion().IngestFile(ctx, id, path, source)
		if err != nil {
			return fmt.Errorf("indexing %s: %w", path, err)
		}
		fmt.Fprintf(c.App.Writer, "%s: %d chunks indexed\n", source, n)
	}
	return nil
}

func askCommand(c *cli.Context) error {
	question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if question == "" {
		return errors.New("a question is required")
	}
	id := core.SessionID(c.String("session"))
	if err := core.ValidateSessionID(id); err != nil {
		return err
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	app, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	result, err := app.Query().Query(c.Context, id, question)
	if err != nil {
		return err
	}

	fmt.Fprintln(c.App.Writer, result.Answer)
	if len(result.Sources) > 0 {
		fmt.Fprintln(c.App.Writer)
		fmt.Fprintln(c.App.Writer, "Sources:")
		for _, src := range result.Sources {
			fmt.Fprintf(c.App.Writer, "  %s #%d (%.3f)\n", src.Filename, src.Ordinal, src.Score)
		}
	}
	return nil
}

func rewriteCommand(c *cli.Context) error {
	answer := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if answer == "" {
		return errors.New("an answer is required")
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	app, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	rewritten, err := app.Rewriter().Rewrite(c.Context, answer, c.String("style"))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, rewritten)
	return nil
}

func sessionsCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	app, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	ids, err := app.Sessions().Sessions(c.Context)
	if err != nil {
		return err
	}
	for _, id := range ids {
		handle, err := app.Sessions().GetOrCreate(c.Context, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "%s\t%d chunks\n", id, handle.Len())
	}
	return nil
}

func deleteSessionCommand(c *cli.Context) error {
	id := core.SessionID(c.String("session"))
	if err := core.ValidateSessionID(id); err != nil {
		return err
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	app, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Sessions().Delete(c.Context, id); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "deleted session %s\n", id)
	return nil
}

func reembedCommand(c *cli.Context) error {
	if c.Int("batch-size") <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}
	if c.Int("report-interval") <= 0 {
		return fmt.Errorf("report-interval must be greater than 0")
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if host := c.String("embedding-host"); host != "" {
		cfg.AI.EmbeddingHost = host
	}
	if model := c.String("embedding-model"); model != "" {
		cfg.AI.EmbeddingModel = model
	}

	app, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	reembedder, err := app.NewReembedder(
		reembed.WithBatchSize(c.Int("batch-size")),
		reembed.WithProgress(os.Stderr, c.Int("report-interval")),
	)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Storage: %s (%s)\n", cfg.Storage.Path, cfg.Storage.Backend)
	fmt.Fprintf(os.Stderr, "Embedding host: %s\n", cfg.AI.EmbeddingHost)
	fmt.Fprintf(os.Stderr, "Embedding model: %s\n", cfg.AI.EmbeddingModel)
	fmt.Fprintln(os.Stderr)

	var ids []core.SessionID
	for _, s := range c.StringSlice("session") {
		ids = append(ids, core.SessionID(s))
	}
	report, err := reembedder.Run(c.Context, ids...)
	if err != nil {
		return fmt.Errorf("reembedding failed: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "re-embedded %d chunks in %d sessions (%d skipped)\n",
		report.Chunks, report.Sessions, report.Skipped)
	return nil
}

func initConfigCommand(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		path = c.String("config")
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := config.Save(path, config.Default()); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	fmt.Fprintf(c.App.Writer, "wrote %s\n", path)
	return nil
}
