// Package cli implements the pagegen command line tool.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/JonMunkholm/pagegen/internal/config"
	"github.com/JonMunkholm/pagegen/internal/content"
	"github.com/JonMunkholm/pagegen/internal/content/memstore"
	"github.com/JonMunkholm/pagegen/internal/content/pgstore"
	"github.com/JonMunkholm/pagegen/internal/core"
	"github.com/JonMunkholm/pagegen/internal/history"
	"github.com/JonMunkholm/pagegen/internal/logging"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// inlineTemplateID is the page ID an inline template gets in the dry-run
// store.
const inlineTemplateID content.PageID = 1

type rootOptions struct {
	logLevel string
	envFile  string
}

// NewRootCmd builds the pagegen command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "pagegen",
		Short: "Create pages in bulk from a template and a CSV file",
		Long: `pagegen renders a template page once per CSV row, replacing {{placeholder}}
tokens with the row's values, and creates one draft page per row.

A job file (YAML) names the template, the CSV and the placeholder mapping.
Commands that touch the database read DATABASE_URL from the environment or
a .env file.

Examples:
  pagegen parse cities.csv --delimiter ";"
  pagegen scan job.yaml
  pagegen preview job.yaml --row 3
  pagegen generate job.yaml --dry-run`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.envFile != "" {
				if err := godotenv.Load(opts.envFile); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("load %s: %w", opts.envFile, err)
				}
			}
			slog.SetDefault(logging.New(cmd.ErrOrStderr(), opts.logLevel, "text"))
			return nil
		},
	}

	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Environment file to load if present")

	root.AddCommand(newParseCmd())
	root.AddCommand(newScanCmd())
	root.AddCommand(newPreviewCmd())
	root.AddCommand(newGenerateCmd())
	return root
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, core.FormatUserError(err))
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// backend is the store and settings a command runs against.
type backend struct {
	store      content.Store
	history    history.Store
	templateID content.PageID
	cfg        *config.Config
	close      func()
}

// openBackend picks the store for job. Inline templates and dry runs use an
// in-memory store; everything else uses the database. A dry run against a
// stored template copies that one page into memory.
func openBackend(ctx context.Context, job *JobFile, dryRun bool) (*backend, error) {
	if job.Template.Inline() {
		if !dryRun {
			return nil, fmt.Errorf("inline templates only work with --dry-run; save the template as a page and set template.id")
		}
		return &backend{
			store:      memstore.New(job.TemplatePage(inlineTemplateID)),
			history:    history.NewMemStore(0),
			templateID: inlineTemplateID,
			cfg:        config.Defaults(),
			close:      func() {},
		}, nil
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	pool, err := pgstore.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	pg := pgstore.New(pool)

	if !dryRun {
		return &backend{store: pg, history: pg, templateID: job.Template.ID, cfg: cfg, close: pool.Close}, nil
	}

	page, err := pg.GetPage(ctx, job.Template.ID)
	pool.Close()
	if err != nil {
		return nil, fmt.Errorf("load template %d: %w", job.Template.ID, err)
	}
	return &backend{
		store:      memstore.New(page),
		history:    history.NewMemStore(0),
		templateID: page.ID,
		cfg:        cfg,
		close:      func() {},
	}, nil
}

func (b *backend) service(batchSize int) (*core.Service, error) {
	gen := b.cfg.Generate
	if batchSize > 0 {
		gen.BatchSize = batchSize
	}
	return core.NewService(core.Options{
		Store:   b.store,
		History: b.history,
		Config:  gen,
		Logger:  slog.Default(),
	})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
