package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GabrielNunesIT/logindex/internal/index"
)

// NewCountCmd creates the count command.
func NewCountCmd(cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "count",
		Short: "Print the number of indexed lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgFile)
			if err != nil {
				return err
			}
			path, err := indexPath(cmd, cfg)
			if err != nil {
				return err
			}

			ctx := context.Background()
			idx, err := index.Open(ctx, path)
			if err != nil {
				return err
			}
			defer idx.Close()

			sourceFile, _ := cmd.Flags().GetString("source-file")
			n, err := idx.Count(ctx, sourceFile)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}

	cmd.Flags().String("db", "", "SQLite index path (default: emitters.index.path)")
	cmd.Flags().String("source-file", "", "only count lines from this log (file name without extension)")

	return cmd
}
