// Package reaplocks provides a one-shot release of abandoned review locks
package reaplocks

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gaia-review/gaia/internal/app"
	"github.com/gaia-review/gaia/internal/conf"
)

// Command creates the reap-locks command.
func Command(settings *conf.Settings) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "reap-locks",
		Short: "Release review locks held longer than the lock timeout",
		RunE: func(cmd *cobra.Command, args []string) error {
			services, err := app.New(cmd.Context(), settings)
			if err != nil {
				return err
			}
			defer services.Close()

			released, err := services.Engine.ReleaseStaleLocks(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "released %d points of interest and %d cells\n", released.POIs, released.Cells)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Lock age to release (default review.lock_timeout)")

	return cmd
}
