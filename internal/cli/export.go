package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/GabrielNunesIT/logindex/internal/export"
)

// NewExportCmd creates the export command group.
func NewExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Work with search exports",
	}
	cmd.AddCommand(newExportCatCmd())
	return cmd
}

func newExportCatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <file...>",
		Short: "Print search exports as JSON lines, decompressing .zst files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				r, err := export.Open(path)
				if err != nil {
					return err
				}
				_, err = io.Copy(cmd.OutOrStdout(), r)
				r.Close()
				if err != nil {
					return fmt.Errorf("reading %s: %w", path, err)
				}
			}
			return nil
		},
	}
}
