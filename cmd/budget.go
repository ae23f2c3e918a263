package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/k1p1l0/tendhunt-sub005/internal/budget"
	"github.com/k1p1l0/tendhunt-sub005/internal/model"
)

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Show or change per-worker item budgets",
}

var (
	budgetWorker  string
	budgetLimit   int
	budgetEnabled bool
)

var budgetGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show the effective budget of every worker",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openAdminStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		budgets, err := budget.New(st, budget.Defaults(cfg.Budgets), cfg.Pipeline.HardCap).Budgets(ctx)
		if err != nil {
			return eris.Wrap(err, "load budgets")
		}
		formatBudgets(cmd.OutOrStdout(), budgets)
		return nil
	},
}

func formatBudgets(w io.Writer, budgets model.WorkerBudgets) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WORKER\tENABLED\tLIMIT")
	for _, wk := range model.Workers {
		b, ok := budgets[wk]
		if !ok {
			continue
		}
		fmt.Fprintf(tw, "%s\t%t\t%d\n", wk, b.Enabled, b.Limit)
	}
	_ = tw.Flush()
}

var budgetSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Set one worker's budget",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		w := model.Worker(budgetWorker)
		if !w.Valid() {
			return eris.Errorf("unknown worker %q", budgetWorker)
		}

		st, err := openAdminStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		g := budget.New(st, budget.Defaults(cfg.Budgets), cfg.Pipeline.HardCap)
		if err := g.SetBudget(ctx, w, model.Budget{Enabled: budgetEnabled, Limit: budgetLimit}); err != nil {
			return eris.Wrapf(err, "set budget %s", w)
		}
		zap.L().Info("budget updated",
			zap.String("worker", string(w)),
			zap.Bool("enabled", budgetEnabled),
			zap.Int("limit", budgetLimit),
		)
		return nil
	},
}

func init() {
	budgetSetCmd.Flags().StringVar(&budgetWorker, "worker", "", "worker name (required)")
	budgetSetCmd.Flags().IntVar(&budgetLimit, "limit", 0, "max items per invocation (required)")
	budgetSetCmd.Flags().BoolVar(&budgetEnabled, "enabled", true, "enforce the limit; false means unlimited")
	_ = budgetSetCmd.MarkFlagRequired("worker")
	_ = budgetSetCmd.MarkFlagRequired("limit")

	budgetCmd.AddCommand(budgetGetCmd, budgetSetCmd)
	rootCmd.AddCommand(budgetCmd)
}
