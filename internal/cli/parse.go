package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GabrielNunesIT/logindex/internal/config"
	"github.com/GabrielNunesIT/logindex/internal/model"
	"github.com/GabrielNunesIT/logindex/internal/processor"
)

// NewParseCmd creates the parse command.
func NewParseCmd(logLevel *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parse [line...]",
		Short: "Parse access log lines and print the fields as JSON",
		Long: `Parse prints the fields extracted from each line, one JSON document per
line. Lines are taken from the arguments, or from stdin when none are given.
Lines that are not access log lines are reported and skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := commandLogger(cmd, *logLevel, nil)

			unwrap, _ := cmd.Flags().GetBool("unwrap-json")
			chain := processor.NewChain(
				processor.NewLineParser(config.ParserConfig{Enabled: true, UnwrapJSON: unwrap}),
				processor.NewEnricher(config.EnricherConfig{Enabled: true, AgentDomain: true}),
			)

			var in io.Reader = cmd.InOrStdin()
			if len(args) > 0 {
				in = strings.NewReader(strings.Join(args, "\n"))
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetEscapeHTML(false)

			scanner := bufio.NewScanner(in)
			scanner.Buffer(make([]byte, 64*1024), 1024*1024)
			n := 0
			for scanner.Scan() {
				n++
				line := scanner.Text()
				if strings.TrimSpace(line) == "" {
					continue
				}

				entry := model.NewEntry("parse", []byte(line))
				if err := chain.Process(cmd.Context(), entry); err != nil {
					if errors.Is(err, processor.ErrUnparsed) {
						log.Warningf("line %d: not an access log line", n)
						continue
					}
					return err
				}
				if err := enc.Encode(entry.Record); err != nil {
					return fmt.Errorf("encoding line %d: %w", n, err)
				}
			}
			return scanner.Err()
		},
	}

	cmd.Flags().Bool("unwrap-json", false, "read the log line from a JSON message field")

	return cmd
}
