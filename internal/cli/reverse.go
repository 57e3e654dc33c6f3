package cli

import (
	"context"
	"fmt"
	"net"

	"github.com/spf13/cobra"

	"github.com/GabrielNunesIT/logindex/internal/index"
)

// NewReverseCmd creates the reverse command group. Reverse lookups are
// resolved elsewhere and stored here so "reverse_domain" queries match.
func NewReverseCmd(cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reverse",
		Short: "Manage reverse lookup results of client addresses",
	}
	cmd.AddCommand(newReverseSetCmd(cfgFile))
	return cmd
}

func newReverseSetCmd(cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <ip> <domain>",
		Short: "Store the reverse domain of an address",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ip, domain := args[0], args[1]
			if net.ParseIP(ip) == nil {
				return fmt.Errorf("invalid address: %q", ip)
			}

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

			host, _ := cmd.Flags().GetString("host")
			return idx.SetReverse(ctx, ip, host, domain)
		},
	}

	cmd.Flags().String("db", "", "SQLite index path (default: emitters.index.path)")
	cmd.Flags().String("host", "", "full reverse host name (default: none)")

	return cmd
}
