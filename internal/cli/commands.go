package cli

import (
	"fmt"
	"log/slog"

	"github.com/JonMunkholm/pagegen/internal/config"
	"github.com/JonMunkholm/pagegen/internal/core"
	"github.com/JonMunkholm/pagegen/internal/csvtable"
	"github.com/spf13/cobra"
)

func newParseCmd() *cobra.Command {
	var delimiter string

	cmd := &cobra.Command{
		Use:   "parse <file.csv>",
		Short: "Parse a CSV file and print its headers and rows as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job := &JobFile{CSV: args[0], Delimiter: delimiter}
			if _, ok := csvtable.ParseDelimiter(delimiter); !ok {
				return fmt.Errorf("%w: unsupported delimiter %q", core.ErrInvalidRequest, delimiter)
			}

			table, err := job.ReadTable(config.Defaults().Generate.MaxFileSize)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"headers": table.Headers,
				"rows":    table.Rows,
			})
		},
	}

	cmd.Flags().StringVarP(&delimiter, "delimiter", "d", "", `Field delimiter (default ","; "tab" for tabs)`)
	return cmd
}

func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan <job.yaml>",
		Short: "List the placeholders in the job's template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := LoadJobFile(args[0])
			if err != nil {
				return err
			}

			b, err := openBackend(cmd.Context(), job, true)
			if err != nil {
				return err
			}
			defer b.close()

			svc, err := b.service(0)
			if err != nil {
				return err
			}
			res, err := svc.ScanTemplate(cmd.Context(), b.templateID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newPreviewCmd() *cobra.Command {
	var row int

	cmd := &cobra.Command{
		Use:   "preview <job.yaml>",
		Short: "Render one CSV row without creating anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := LoadJobFile(args[0])
			if err != nil {
				return err
			}

			b, err := openBackend(cmd.Context(), job, true)
			if err != nil {
				return err
			}
			defer b.close()

			table, err := job.ReadTable(b.cfg.Generate.MaxFileSize)
			if err != nil {
				return err
			}
			if row < 1 || row > table.Len() {
				return fmt.Errorf("%w: --row %d is outside 1-%d", core.ErrInvalidRequest, row, table.Len())
			}

			svc, err := b.service(0)
			if err != nil {
				return err
			}
			res, err := svc.Preview(cmd.Context(), core.PreviewRequest{
				TemplateID: b.templateID,
				Mapping:    job.RenderMapping(),
				Row:        table.Rows[row-1],
				Slug:       job.Slug,
				Meta:       job.Meta,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().IntVarP(&row, "row", "r", 1, "Data row to render (1-based)")
	return cmd
}

func newGenerateCmd() *cobra.Command {
	var (
		dryRun    bool
		batchSize int
	)

	cmd := &cobra.Command{
		Use:   "generate <job.yaml>",
		Short: "Create one page per CSV row",
		Long: `Create one draft page per CSV row.

Progress is written to stderr after every batch and the final result to
stdout as JSON. With --dry-run pages are created in memory only.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := LoadJobFile(args[0])
			if err != nil {
				return err
			}
			if batchSize <= 0 {
				batchSize = job.BatchSize
			}

			b, err := openBackend(cmd.Context(), job, dryRun)
			if err != nil {
				return err
			}
			defer b.close()

			table, err := job.ReadTable(b.cfg.Generate.MaxFileSize)
			if err != nil {
				return err
			}
			if missing := job.RenderMapping().Missing(table.Headers); len(missing) > 0 {
				slog.Warn("mapped columns not in CSV; their placeholders stay as-is", "columns", missing)
			}

			svc, err := b.service(batchSize)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			jobID, err := svc.StartGeneration(ctx, core.GenerateRequest{
				TemplateID: b.templateID,
				Mapping:    job.RenderMapping(),
				Rows:       table.Rows,
				Slug:       job.Slug,
				Meta:       job.Meta,
				Source:     job.CSV,
			})
			if err != nil {
				return err
			}

			progress, err := svc.SubscribeProgress(jobID)
			if err != nil {
				return err
			}
			stderr := cmd.ErrOrStderr()
			for p := range progress {
				if p.Phase == core.PhaseStarting {
					continue
				}
				fmt.Fprintf(stderr, "%s: %d/%d rows (%d%%), %d created, %d failed\n",
					p.Phase, p.Processed, p.Total, p.Percent(), p.Success, p.Failed)
			}

			res, err := svc.JobResult(ctx, jobID)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if res.Error != "" {
				return fmt.Errorf("generation %s: %s", res.Phase, res.Error)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Create pages in memory only")
	cmd.Flags().IntVarP(&batchSize, "batch-size", "b", 0, "Rows per progress report (default: job file or GENERATE_BATCH_SIZE)")
	return cmd
}
