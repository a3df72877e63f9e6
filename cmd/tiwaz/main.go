package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/tiwaz/internal"
	"github.com/starford/tiwaz/internal/build"
	"github.com/starford/tiwaz/internal/links"
	"github.com/starford/tiwaz/internal/needservice"
	pkgconfig "github.com/starford/tiwaz/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.Load(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if src := cmd.String("source"); src != "" {
		cfg.Source.Path = src
	}
	return cfg, nil
}

// cliOptions sends logs to stderr so stdout carries only command output.
func cliOptions(cmd *cli.Command) ([]internal.Option, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return []internal.Option{
		internal.WithConfig(cfg),
		internal.WithLogger(internal.NewLogger(&cfg.App, os.Stderr)),
	}, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Bool("watch") {
		cfg.Source.Watch = true
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func runBuild(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if out := cmd.String("out"); out != "" {
		cfg.Output.NeedsJSON = out
	}
	opts := []internal.Option{
		internal.WithConfig(cfg),
		internal.WithLogger(internal.NewLogger(&cfg.App, os.Stderr)),
	}
	sess, err := internal.Build(ctx, opts...)
	if sess != nil {
		fmt.Printf("%d needs, %d warnings\n", sess.Store.Len(), sess.Reporter.Count())
		if sess.Reporter.Count() > 0 {
			fmt.Println(sess.Reporter.SummaryLine())
		}
	}
	if err != nil {
		return fmt.Errorf("build: %w", err)
	}
	return nil
}

func runFilter(ctx context.Context, cmd *cli.Command) error {
	opts, err := cliOptions(cmd)
	if err != nil {
		return err
	}
	svc, err := internal.Query(ctx, opts...)
	if err != nil {
		return err
	}
	needs, err := svc.Filter(ctx, strings.Join(cmd.Args().Slice(), " "), cmd.String("sort"))
	if err != nil {
		return err
	}
	if cmd.Bool("ids") {
		for _, n := range needs {
			fmt.Println(n["id"])
		}
		return nil
	}
	return printJSON(needs)
}

func runTree(ctx context.Context, cmd *cli.Command) error {
	root := cmd.Args().First()
	if root == "" {
		return errors.New("tree: need id required")
	}
	dir, err := links.ParseDirection(cmd.String("direction"))
	if err != nil {
		return err
	}
	q := needservice.TreeQuery{Direction: dir}
	if raw := cmd.String("depth"); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil || d < 0 {
			return fmt.Errorf("tree: depth must be a non-negative integer")
		}
		q.MaxDepth = &d
	}
	for _, c := range strings.Split(cmd.String("links"), ",") {
		if c = strings.TrimSpace(c); c != "" {
			q.Categories = append(q.Categories, c)
		}
	}
	opts, err := cliOptions(cmd)
	if err != nil {
		return err
	}
	svc, err := internal.Query(ctx, opts...)
	if err != nil {
		return err
	}
	entries, err := svc.Tree(ctx, root, q)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%s%s  %s\n", strings.Repeat("  ", e.Depth), e.ID, e.Title)
	}
	return nil
}

func runExport(ctx context.Context, cmd *cli.Command) error {
	opts, err := cliOptions(cmd)
	if err != nil {
		return err
	}
	svc, err := internal.Query(ctx, opts...)
	if err != nil {
		return err
	}
	if sel := cmd.String("select"); sel != "" {
		values, err := svc.Select(ctx, sel)
		if err != nil {
			return err
		}
		return printJSON(values)
	}
	raw, _, err := svc.Document(ctx)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(raw)
	return err
}

func runMCP(ctx context.Context, cmd *cli.Command) error {
	opts, err := cliOptions(cmd)
	if err != nil {
		return err
	}
	return internal.ServeMCP(ctx, opts...)
}

func main() {
	cmd := &cli.Command{
		Name:   "tiwaz",
		Usage:  "Requirements and traceability needs from Markdown documents",
		Action: serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file (.yaml or .toml)",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "source",
				Aliases: []string{"s"},
				Usage:   "Override the document source directory",
				Sources: cli.EnvVars("TIWAZ_SOURCE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Build and serve the HTTP API",
				Action: serve,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "watch", Aliases: []string{"w"}, Usage: "Rebuild when documents change"},
				},
			},
			{
				Name:   "build",
				Usage:  "Build once and write needs.json",
				Action: runBuild,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "needs.json output path"},
				},
			},
			{
				Name:      "filter",
				Usage:     "Print the needs matching a filter expression",
				ArgsUsage: "<expression>",
				Action:    runFilter,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "sort", Usage: "Field to sort by"},
					&cli.BoolFlag{Name: "ids", Usage: "Print ids only"},
				},
			},
			{
				Name:      "tree",
				Usage:     "Print the needs reachable from a need",
				ArgsUsage: "<id>",
				Action:    runTree,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "direction", Aliases: []string{"d"}, Usage: "outgoing, incoming or both"},
					&cli.StringFlag{Name: "depth", Usage: "Maximum depth"},
					&cli.StringFlag{Name: "links", Usage: "Comma separated link categories"},
				},
			},
			{
				Name:   "export",
				Usage:  "Print needs.json or a JSONPath selection of it",
				Action: runExport,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "select", Usage: "JSONPath selector, e.g. $.versions.*.needs.*.id"},
				},
			},
			{
				Name:   "mcp",
				Usage:  "Serve the MCP tools over stdio",
				Action: runMCP,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		if errors.Is(err, build.ErrWarnings) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
