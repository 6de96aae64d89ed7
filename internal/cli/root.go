// Package cli implements rulectl, the operator tool for routing rules.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands
type RootOptions struct {
	Format string // "json" | "text"
}

// ValidFormats defines the allowed output formats
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the rulectl root command
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "rulectl",
		Short: "Manage chat routing rules",
		Long:  "Validate routing rule files, push them to the rule store, dry-run routing decisions and reset candidate state.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewPushCommand(opts))
	cmd.AddCommand(NewRouteCommand(opts))
	cmd.AddCommand(NewForgetCommand(opts))

	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
