package main

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/k1p1l0/tendhunt-sub005/internal/model"
)

var (
	runWorker string
	runMax    int
	runBuyer  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one bounded invocation of a worker",
	Long:  "Picks the worker's active stage, processes one budget-sized batch and persists the cursor. Prints the run summary as JSON.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		w := model.Worker(runWorker)
		if len(model.StageOrder(w)) == 0 {
			return eris.Errorf("unknown worker %q", runWorker)
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		sum, err := env.Runner.Run(ctx, w, runMax)
		if err != nil {
			return eris.Wrapf(err, "run %s", w)
		}
		return printJSON(cmd.OutOrStdout(), sum)
	},
}

var runBuyerCmd = &cobra.Command{
	Use:   "run-buyer",
	Short: "Run every enrichment stage and spend ingestion for one buyer",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		sum, err := env.Runner.RunBuyer(ctx, runBuyer)
		if err != nil {
			return eris.Wrapf(err, "run buyer %s", runBuyer)
		}
		return printJSON(cmd.OutOrStdout(), sum)
	},
}

func init() {
	runCmd.Flags().StringVar(&runWorker, "worker", string(model.WorkerEnrichment), "worker to run (enrichment, spend-ingest, data-sync)")
	runCmd.Flags().IntVar(&runMax, "max", 0, "max items this invocation (0 = worker budget)")
	rootCmd.AddCommand(runCmd)

	runBuyerCmd.Flags().StringVar(&runBuyer, "id", "", "buyer ID (required)")
	_ = runBuyerCmd.MarkFlagRequired("id")
	rootCmd.AddCommand(runBuyerCmd)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
