package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/k1p1l0/tendhunt-sub005/internal/errlog"
	"github.com/k1p1l0/tendhunt-sub005/internal/model"
)

var errorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "List, count and resolve operator-visible pipeline errors",
}

var (
	errWorker     string
	errStage      string
	errType       string
	errUnresolved bool
	errLimit      int
	errOffset     int
	errIDs        []string
)

func errorFilter() model.ErrorFilter {
	f := model.ErrorFilter{
		Worker:    model.Worker(errWorker),
		Stage:     model.Stage(errStage),
		ErrorType: model.ErrorType(errType),
		Limit:     errLimit,
		Offset:    errOffset,
	}
	if errUnresolved {
		resolved := false
		f.Resolved = &resolved
	}
	return f
}

var errorsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pipeline errors, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openAdminStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		list, err := errlog.New(st).List(ctx, errorFilter())
		if err != nil {
			return eris.Wrap(err, "list errors")
		}
		formatErrors(cmd.OutOrStdout(), list)
		return nil
	},
}

func formatErrors(w io.Writer, list []model.PipelineError) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tWORKER\tSTAGE\tTYPE\tBUYER\tRESOLVED\tMESSAGE")
	for _, e := range list {
		resolved := "-"
		if e.ResolvedAt != nil {
			resolved = e.ResolvedAt.Format(time.RFC3339)
		}
		buyer := e.BuyerName
		if buyer == "" {
			buyer = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID, e.CreatedAt.Format(time.RFC3339), e.Worker, e.Stage, e.ErrorType, buyer, resolved, oneLine(e.Message, 80))
	}
	_ = tw.Flush()
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-3]) + "..."
	}
	return s
}

var errorsCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Count unresolved errors",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openAdminStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := errlog.New(st).UnresolvedCount(ctx, errorFilter())
		if err != nil {
			return eris.Wrap(err, "count errors")
		}
		fmt.Fprintln(cmd.OutOrStdout(), n)
		return nil
	},
}

var errorsResolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Mark errors resolved by id or by worker, stage and type",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if len(errIDs) == 0 && errWorker == "" && errStage == "" && errType == "" {
			return eris.New("--id or at least one of --worker, --stage, --type is required")
		}

		st, err := openAdminStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := errlog.New(st).Resolve(ctx, errIDs, errorFilter())
		if err != nil {
			return eris.Wrap(err, "resolve errors")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "resolved %d errors\n", n)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{errorsListCmd, errorsCountCmd, errorsResolveCmd} {
		c.Flags().StringVar(&errWorker, "worker", "", "filter by worker")
		c.Flags().StringVar(&errStage, "stage", "", "filter by stage")
		c.Flags().StringVar(&errType, "type", "", "filter by error type")
	}
	errorsListCmd.Flags().BoolVar(&errUnresolved, "unresolved", false, "only unresolved errors")
	errorsListCmd.Flags().IntVar(&errLimit, "limit", defaultErrorLimit, "max rows")
	errorsListCmd.Flags().IntVar(&errOffset, "offset", 0, "rows to skip")
	errorsResolveCmd.Flags().StringSliceVar(&errIDs, "id", nil, "error ids to resolve")

	errorsCmd.AddCommand(errorsListCmd, errorsCountCmd, errorsResolveCmd)
	rootCmd.AddCommand(errorsCmd)
}
