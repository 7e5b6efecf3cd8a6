package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/civicgraph/repsync/internal/merge"
	"github.com/civicgraph/repsync/internal/model"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Work the manual review queue",
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending review items",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		items, err := env.store.ListReviews(ctx, model.ReviewPending, 100)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("review queue is empty")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSOURCE\tSOURCE ID\tNAME\tCANDIDATES\tQUEUED")
		for _, item := range items {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
				item.ID, item.Record.SourceSystem, item.Record.SourceID,
				item.Record.Field(model.FieldName), len(item.Candidates),
				item.CreatedAt.Format("2006-01-02 15:04"))
		}
		w.Flush()
		return nil
	},
}

var reviewAssignTo string

var reviewResolveCmd = &cobra.Command{
	Use:   "resolve <review-id>",
	Short: "Resolve a review item by assigning it to a canonical record, or minting a new one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		reviewID := args[0]

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		item, err := env.store.GetReview(ctx, reviewID)
		if err != nil {
			return err
		}
		if item == nil {
			return fmt.Errorf("review item not found: %s", reviewID)
		}
		if item.Status != model.ReviewPending {
			return fmt.Errorf("review item already resolved: %s", reviewID)
		}

		canonicalID := reviewAssignTo
		minted := canonicalID == ""
		if minted {
			canonicalID = uuid.New().String()
		}

		existing, err := env.store.GetCanonical(ctx, canonicalID)
		if err != nil {
			return err
		}
		if !minted && existing == nil {
			return fmt.Errorf("canonical record not found: %s", canonicalID)
		}

		corroboration := make(map[string]int, len(item.Record.RawFields))
		for name := range item.Record.RawFields {
			corroboration[name] = 1
		}

		mut, err := env.resolver.Resolve(merge.Input{
			Existing:        existing,
			CanonicalID:     canonicalID,
			Record:          &item.Record,
			MatchConfidence: 1.0,
			MatchMethod:     model.MatchManualOverride,
			Corroboration:   corroboration,
			RunID:           "manual-review",
			Now:             time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		if err := env.store.ApplyMerge(ctx, mut); err != nil {
			return err
		}
		if err := env.store.ResolveReview(ctx, reviewID, canonicalID); err != nil {
			return err
		}

		zap.L().Info("review resolved",
			zap.String("review_id", reviewID),
			zap.String("canonical_id", canonicalID),
			zap.Bool("minted", minted),
		)
		fmt.Printf("resolved %s -> %s\n", reviewID, canonicalID)
		return nil
	},
}

func init() {
	reviewResolveCmd.Flags().StringVar(&reviewAssignTo, "assign-to", "", "canonical ID to assign (omit to mint a new record)")
	reviewCmd.AddCommand(reviewListCmd, reviewResolveCmd)
	rootCmd.AddCommand(reviewCmd)
}
