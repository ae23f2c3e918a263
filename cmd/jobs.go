package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/k1p1l0/tendhunt-sub005/internal/jobstate"
	"github.com/k1p1l0/tendhunt-sub005/internal/model"
	"github.com/k1p1l0/tendhunt-sub005/internal/store"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and reset per-stage job state",
}

var (
	jobsStatusWorker string
	jobsResetWorker  string
	jobsResetStage   string
	jobsRescanWorker string
	jobsOlderThan    time.Duration
)

// openAdminStore opens and migrates the store for commands that do not run
// stages.
func openAdminStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func parseWorker(raw string) (model.Worker, error) {
	w := model.Worker(raw)
	if len(model.StageOrder(w)) == 0 {
		return "", eris.Errorf("unknown worker %q", raw)
	}
	return w, nil
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stage jobs for one worker, or all workers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		workers := []model.Worker{model.WorkerEnrichment, model.WorkerSpendIngest, model.WorkerDataSync}
		if jobsStatusWorker != "" {
			w, err := parseWorker(jobsStatusWorker)
			if err != nil {
				return err
			}
			workers = []model.Worker{w}
		}

		st, err := openAdminStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		m := jobstate.New(st, cfg.Pipeline.ErrorLogSize)
		var all []model.Job
		for _, w := range workers {
			jobs, err := m.Status(ctx, w)
			if err != nil {
				return eris.Wrapf(err, "jobs status: %s", w)
			}
			all = append(all, jobs...)
		}
		formatJobs(cmd.OutOrStdout(), all)
		return nil
	},
}

func formatJobs(w io.Writer, jobs []model.Job) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WORKER\tSTAGE\tSTATUS\tPROCESSED\tERRORS\tBATCH\tLAST RUN\tCURSOR")
	for _, j := range jobs {
		lastRun := "-"
		if j.LastRunAt != nil {
			lastRun = j.LastRunAt.Format(time.RFC3339)
		}
		cur := j.Cursor
		if cur == "" {
			cur = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			j.Worker, j.Stage, j.Status, j.TotalProcessed, j.TotalErrors, j.BatchSize, lastRun, cur)
	}
	_ = tw.Flush()
}

var jobsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset one stage, or every stage of a worker, to an empty cursor",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if (jobsResetStage == "") == (jobsResetWorker == "") {
			return eris.New("exactly one of --stage or --worker is required")
		}

		st, err := openAdminStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		m := jobstate.New(st, cfg.Pipeline.ErrorLogSize)
		if jobsResetStage != "" {
			if err := m.Reset(ctx, model.Stage(jobsResetStage)); err != nil {
				return eris.Wrapf(err, "reset stage %s", jobsResetStage)
			}
			zap.L().Info("stage reset", zap.String("stage", jobsResetStage))
			return nil
		}

		w, err := parseWorker(jobsResetWorker)
		if err != nil {
			return err
		}
		if err := m.ResetAll(ctx, w); err != nil {
			return eris.Wrapf(err, "reset worker %s", w)
		}
		zap.L().Info("worker reset", zap.String("worker", string(w)))
		return nil
	},
}

var jobsRescanCmd = &cobra.Command{
	Use:   "rescan",
	Short: "Reset stages completed longer ago than --older-than",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		w, err := parseWorker(jobsRescanWorker)
		if err != nil {
			return err
		}
		olderThan := jobsOlderThan
		if olderThan == 0 {
			olderThan = cfg.Pipeline.RescanAfter()
		}
		if olderThan <= 0 {
			return eris.New("--older-than is required when no rescan interval is configured")
		}

		st, err := openAdminStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := jobstate.New(st, cfg.Pipeline.ErrorLogSize).Rescan(ctx, w, olderThan)
		if err != nil {
			return eris.Wrapf(err, "rescan %s", w)
		}
		zap.L().Info("rescan complete", zap.String("worker", string(w)), zap.Int("stages_reset", n))
		return nil
	},
}

var jobsResetDiscoveryCmd = &cobra.Command{
	Use:   "reset-discovery",
	Short: "Clear failed website discovery markers and restart the website_discovery stage",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openAdminStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.ResetFailedDiscovery(ctx)
		if err != nil {
			return eris.Wrap(err, "reset failed discovery")
		}
		if err := jobstate.New(st, cfg.Pipeline.ErrorLogSize).Reset(ctx, model.StageWebsiteDiscovery); err != nil {
			return eris.Wrap(err, "reset website discovery stage")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "reset %d buyers\n", n)
		return nil
	},
}

func init() {
	jobsStatusCmd.Flags().StringVar(&jobsStatusWorker, "worker", "", "limit to one worker")
	jobsResetCmd.Flags().StringVar(&jobsResetWorker, "worker", "", "reset every stage of this worker")
	jobsResetCmd.Flags().StringVar(&jobsResetStage, "stage", "", "reset a single stage")
	jobsRescanCmd.Flags().StringVar(&jobsRescanWorker, "worker", string(model.WorkerEnrichment), "worker to rescan")
	jobsRescanCmd.Flags().DurationVar(&jobsOlderThan, "older-than", 0, "reset stages completed before this long ago (default from config)")

	jobsCmd.AddCommand(jobsStatusCmd, jobsResetCmd, jobsRescanCmd, jobsResetDiscoveryCmd)
	rootCmd.AddCommand(jobsCmd)
}
