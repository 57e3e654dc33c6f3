package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GabrielNunesIT/logindex/internal/export"
	"github.com/GabrielNunesIT/logindex/internal/index"
	"github.com/GabrielNunesIT/logindex/internal/search"
)

// searchResult is one exported row.
type searchResult struct {
	index.Row
	ReverseDomain string `json:"reverse_domain,omitempty"`
}

// NewSearchCmd creates the search command.
func NewSearchCmd(cfgFile, logLevel *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query...>",
		Short: "Search the index",
		Long: `Search compiles the query into a WHERE clause and prints the newest
matching rows as JSON lines. Queries are keyword value pairs, for example:

  status 404 500            status is 404 or 500
  status not 200            status is anything but 200
  ip 10.% date 2021-06      addresses starting with 10. during June 2021
  uri /admin% date today    paths under /admin requested today

Output paths ending in .zst are written zstd compressed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, args, cfgFile, logLevel)
		},
	}

	cmd.Flags().String("db", "", "SQLite index path (default: emitters.index.path)")
	cmd.Flags().Int("limit", 0, "maximum rows to return (default: search.limit, 0 in config means no limit)")
	cmd.Flags().String("timezone", "", "timezone for date terms (default: search.timezone)")
	cmd.Flags().StringP("output", "o", "-", "output file, - for stdout")
	cmd.Flags().Bool("reverse", false, "add the reverse domain of each address")
	cmd.Flags().Bool("explain", false, "print the SQL and query plan instead of rows")

	return cmd
}

func runSearch(cmd *cobra.Command, args []string, cfgFile, logLevel *string) error {
	cfg, err := loadConfig(*cfgFile)
	if err != nil {
		return err
	}
	log := commandLogger(cmd, *logLevel, cfg)

	timezone, _ := cmd.Flags().GetString("timezone")
	if timezone == "" {
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

	limit := cfg.Search.Limit
	if cmd.Flags().Changed("limit") {
		limit, _ = cmd.Flags().GetInt("limit")
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

	if explain, _ := cmd.Flags().GetBool("explain"); explain {
		plan, err := idx.Explain(ctx, clause, limit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, index.SearchSQL(clause, limit))
		for _, step := range plan {
			fmt.Fprintf(out, "-- %s\n", step)
		}
		return nil
	}

	rows, err := idx.Search(ctx, clause, limit)
	if err != nil {
		return err
	}

	var domains map[string]string
	if reverse, _ := cmd.Flags().GetBool("reverse"); reverse && len(rows) > 0 {
		ips := make([]string, 0, len(rows))
		for _, row := range rows {
			ips = append(ips, row.IP)
		}
		if domains, err = idx.ReverseDomains(ctx, ips); err != nil {
			return err
		}
	}

	output, _ := cmd.Flags().GetString("output")
	var w *export.Writer
	if output == "-" {
		w, err = export.NewWriter(cmd.OutOrStdout(), false)
	} else {
		w, err = export.Create(output)
	}
	if err != nil {
		return err
	}

	for _, row := range rows {
		if err := w.Write(searchResult{Row: row, ReverseDomain: domains[row.IP]}); err != nil {
			w.Close()
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}

	log.Debugf("search finished: clause=%s, rows=%d", clause, w.Count())
	return nil
}
