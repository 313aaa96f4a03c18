package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kiranshivaraju/folio/pkg/models"
	"github.com/spf13/cobra"
)

func newReportCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate and follow portfolio reports",
	}
	cmd.AddCommand(newReportGenerateCmd(a))
	cmd.AddCommand(newReportWatchCmd(a))
	return cmd
}

type generateFlags struct {
	portfolio string
	entity    string
	kind      string
	currency  string
	watch     bool
	progress  bool
	json      bool
}

func newReportGenerateCmd(a *app) *cobra.Command {
	var f generateFlags

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Submit a report job",
		Long: `Submit a report job to the backend and print its id.

With --watch the command keeps polling until the report is completed or failed,
or until POLL_MAX_WAIT elapses.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(f.portfolio) == "" {
				return errors.New("--portfolio is required")
			}
			if strings.TrimSpace(f.kind) == "" {
				return errors.New("--kind is required")
			}

			client, cfg, err := a.client()
			if err != nil {
				return err
			}

			job, err := client.CreateReportJob(cmd.Context(), models.ReportRequest{
				Portfolio: strings.TrimSpace(f.portfolio),
				Entity:    strings.TrimSpace(f.entity),
				Kind:      strings.TrimSpace(f.kind),
				Currency:  strings.ToUpper(strings.TrimSpace(f.currency)),
			})
			if err != nil {
				return fmt.Errorf("submit report: %w", err)
			}

			if !f.watch {
				if f.json {
					return printJSON(a.out, job)
				}
				fmt.Fprintf(a.out, "submitted %s (%s)\n", job.ID, job.Status)
				return nil
			}

			if !f.json {
				fmt.Fprintf(a.out, "submitted %s, watching\n", job.ID)
			}
			return a.follow(cmd.Context(), client, cfg, job.ID, watchOptions{progress: f.progress, json: f.json})
		},
	}

	cmd.Flags().StringVar(&f.portfolio, "portfolio", "", "Portfolio to report on (required)")
	cmd.Flags().StringVar(&f.kind, "kind", "", "Report kind, e.g. quarterly or performance (required)")
	cmd.Flags().StringVar(&f.entity, "entity", "", "Restrict the report to one entity")
	cmd.Flags().StringVar(&f.currency, "currency", "", "Reporting currency")
	cmd.Flags().BoolVarP(&f.watch, "watch", "w", false, "Wait for the report to finish")
	cmd.Flags().BoolVar(&f.progress, "progress", false, "Show a live elapsed-time counter while watching")
	cmd.Flags().BoolVar(&f.json, "json", false, "Output as JSON")
	return cmd
}

func newReportWatchCmd(a *app) *cobra.Command {
	var opts watchOptions

	cmd := &cobra.Command{
		Use:   "watch <job_id>",
		Short: "Follow a report job until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := strings.TrimSpace(args[0])
			if jobID == "" {
				return errors.New("job id must not be empty")
			}
			client, cfg, err := a.client()
			if err != nil {
				return err
			}
			return a.follow(cmd.Context(), client, cfg, jobID, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.progress, "progress", false, "Show a live elapsed-time counter")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print the final job as JSON")
	return cmd
}
