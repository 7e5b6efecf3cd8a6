package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/civicgraph/repsync/internal/model"
)

var statusRunID string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-source ingestion status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if statusRunID != "" {
			run, err := env.store.GetRun(ctx, statusRunID)
			if err != nil {
				return err
			}
			if run == nil {
				return fmt.Errorf("run not found: %s", statusRunID)
			}
			printRun(run)
			return nil
		}

		statuses, err := env.store.SourceStatuses(ctx)
		if err != nil {
			return err
		}
		pending, err := env.store.PendingReviewCount(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SOURCE\tLAST SUCCESS\tCURSOR")
		for _, st := range statuses {
			last := "never"
			if st.LastSuccessAt != nil {
				last = st.LastSuccessAt.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", st.SourceSystem, last, cursorSummary(st.Cursor))
		}
		w.Flush()
		fmt.Printf("\npending reviews: %d\n", pending)
		return nil
	},
}

func cursorSummary(c model.Cursor) string {
	switch {
	case c.IsZero():
		return "-"
	case c.Token != "":
		return "token=" + c.Token
	case c.Page > 0:
		return fmt.Sprintf("page=%d", c.Page)
	case c.Offset > 0:
		return fmt.Sprintf("offset=%d", c.Offset)
	case c.Since != nil:
		return "since=" + c.Since.Format("2006-01-02")
	default:
		return "-"
	}
}

func printRun(run *model.IngestRun) {
	fmt.Printf("run %s: %s (started %s)\n", run.RunID, run.Status, run.StartedAt.Format("2006-01-02 15:04:05"))
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tSTATE\tFETCHED\tMATCHED\tCREATED\tUPDATED\tSKIPPED\tAMBIGUOUS\tERROR")
	for _, st := range run.SourceStates {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			st.SourceSystem, st.State, st.Fetched, st.Matched, st.Created, st.Updated, st.Skipped, st.Ambiguous, st.Error)
	}
	w.Flush()
}

func init() {
	statusCmd.Flags().StringVar(&statusRunID, "run", "", "show a specific run by ID")
	rootCmd.AddCommand(statusCmd)
}
