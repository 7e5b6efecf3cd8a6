package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var revertProvenanceID int64

var revertCmd = &cobra.Command{
	Use:   "revert <canonical-id>",
	Short: "Revert a field to the value a provenance entry recorded",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		canonicalID := args[0]

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		target, err := env.store.GetProvenance(ctx, revertProvenanceID)
		if err != nil {
			return err
		}
		if target == nil {
			return fmt.Errorf("provenance entry not found: %d", revertProvenanceID)
		}

		existing, err := env.store.GetCanonical(ctx, canonicalID)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("representative not found: %s", canonicalID)
		}

		mut, err := env.resolver.Revert(existing, *target, time.Now().UTC())
		if err != nil {
			return err
		}
		if !mut.Changed() {
			fmt.Printf("field %s already carries the target value, nothing to do\n", target.FieldName)
			return nil
		}
		if err := env.store.ApplyMerge(ctx, mut); err != nil {
			return err
		}

		zap.L().Info("field reverted",
			zap.String("canonical_id", canonicalID),
			zap.String("field", target.FieldName),
			zap.Int64("provenance_id", revertProvenanceID),
		)
		fmt.Printf("reverted %s.%s to %q\n", canonicalID, target.FieldName, target.NewValue)
		return nil
	},
}

func init() {
	revertCmd.Flags().Int64Var(&revertProvenanceID, "provenance-id", 0, "provenance entry whose value to restore")
	revertCmd.MarkFlagRequired("provenance-id")
	rootCmd.AddCommand(revertCmd)
}
