package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/lmarinho/kgraph"
	"github.com/lmarinho/kgraph/api"
	"github.com/lmarinho/kgraph/watch"
)

func loadConfig(cmd *cli.Command) (kgraph.Config, error) {
	cfg := kgraph.DefaultConfig()
	if path := cmd.String("config"); path != "" {
		var err error
		cfg, err = kgraph.LoadConfig(path)
		if err != nil {
			return kgraph.Config{}, err
		}
	}
	if db := cmd.String("db"); db != "" {
		cfg.DBPath = db
	}
	return cfg, nil
}

func newEngine(cmd *cli.Command) (kgraph.Engine, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return kgraph.New(cfg)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runExtract(ctx context.Context, cmd *cli.Command) error {
	eng, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	if text := cmd.String("text"); text != "" {
		run, err := eng.Extract(ctx, text)
		if err != nil {
			return err
		}
		return printJSON(run)
	}

	paths := cmd.Args().Slice()
	if len(paths) == 0 {
		return fmt.Errorf("no input: pass document files or --text")
	}
	if len(paths) == 1 {
		run, err := eng.ExtractFile(ctx, paths[0])
		if err != nil {
			return err
		}
		return printJSON(run)
	}

	results := eng.ExtractAll(ctx, paths, int(cmd.Int("concurrency")))
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			slog.Error("extraction failed", "path", r.Path, "error", r.Err)
		}
	}
	if err := printJSON(results); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(results))
	}
	return nil
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if addr := cmd.String("addr"); addr != "" {
		cfg.HTTPAddr = addr
	}

	eng, err := kgraph.New(cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	srv := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     api.NewRouter(eng),
		ReadTimeout: 30 * time.Second,
		// Extraction runs several LLM calls; leave writes unbounded.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-done:
	case <-ctx.Done():
	}
	slog.Info("shutting down server")

	shutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

func runWatch(ctx context.Context, cmd *cli.Command) error {
	dir := cmd.Args().First()
	if dir == "" {
		return fmt.Errorf("usage: kgraph watch <directory>")
	}

	eng, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return watch.Watch(ctx, eng, dir, cmd.Duration("debounce"))
}

func runList(ctx context.Context, cmd *cli.Command) error {
	eng, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	runs, err := eng.ListRuns(ctx)
	if err != nil {
		return err
	}
	return printJSON(runs)
}

func runShow(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return fmt.Errorf("usage: kgraph show <run-id>")
	}

	eng, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	run, err := eng.GetRun(ctx, id)
	if err != nil {
		return err
	}
	if cmd.Bool("elements") {
		elements, err := eng.GetElements(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(elements)
	}
	g, err := eng.GetGraph(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"run": run, "graph": g})
}

func runDelete(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return fmt.Errorf("usage: kgraph delete <run-id>")
	}

	eng, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()
	return eng.DeleteRun(ctx, id)
}

func runSearch(ctx context.Context, cmd *cli.Command) error {
	query := cmd.Args().First()
	if query == "" {
		return fmt.Errorf("usage: kgraph search <query>")
	}

	eng, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	matches, err := eng.SearchEntities(ctx, query, int(cmd.Int("k")))
	if err != nil {
		return err
	}
	return printJSON(matches)
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cmd := &cli.Command{
		Name:  "kgraph",
		Usage: "Extract knowledge graphs from documents with staged LLM analysis",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML config file",
				Sources: cli.EnvVars("KGRAPH_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "db",
				Usage:   "SQLite database path (overrides config)",
				Sources: cli.EnvVars("KGRAPH_DB_PATH"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "extract",
				Usage:     "Extract a knowledge graph from files or raw text",
				ArgsUsage: "[files...]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "text", Usage: "Extract from this text instead of files"},
					&cli.IntFlag{Name: "concurrency", Value: 4, Usage: "Parallel extractions for multiple files"},
				},
				Action: runExtract,
			},
			{
				Name:  "serve",
				Usage: "Run the HTTP API server",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "addr", Usage: "Listen address (overrides config)"},
				},
				Action: runServe,
			},
			{
				Name:      "watch",
				Usage:     "Watch a directory and extract new documents automatically",
				ArgsUsage: "<directory>",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "debounce", Value: watch.DefaultDebounce, Usage: "Quiet period before extracting a changed file"},
				},
				Action: runWatch,
			},
			{
				Name:   "runs",
				Usage:  "List stored extraction runs",
				Action: runList,
			},
			{
				Name:      "show",
				Usage:     "Show a stored run with its graph",
				ArgsUsage: "<run-id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "elements", Usage: "Print the graph in visualization element form"},
				},
				Action: runShow,
			},
			{
				Name:      "delete",
				Usage:     "Delete a stored run",
				ArgsUsage: "<run-id>",
				Action:    runDelete,
			},
			{
				Name:      "search",
				Usage:     "Find entities across runs by label similarity",
				ArgsUsage: "<query>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "k", Value: 10, Usage: "Number of results"},
				},
				Action: runSearch,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("kgraph", "error", err)
		os.Exit(1)
	}
}
