package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GabrielNunesIT/logindex/internal/search"
)

// NewCompileCmd creates the compile command.
func NewCompileCmd(cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compile <query...>",
		Short: "Print the SQL WHERE clause a search query compiles to",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			timezone, _ := cmd.Flags().GetString("timezone")
			if timezone == "" {
				cfg, err := loadConfig(*cfgFile)
				if err != nil {
					return err
				}
				timezone = cfg.Search.Timezone
			}

			compiler, err := search.NewInZone(timezone)
			if err != nil {
				return err
			}

			query := strings.Join(args, " ")
			clause := compiler.Compile(query)
			if clause == "" {
				return fmt.Errorf("query %q has no searchable terms", query)
			}
			fmt.Fprintln(cmd.OutOrStdout(), clause)
			return nil
		},
	}

	cmd.Flags().String("timezone", "", "timezone for date terms (default: search.timezone)")

	return cmd
}
