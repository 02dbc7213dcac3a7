package cli

import (
	"os"

	"github.com/spf13/cobra"
)

// NewDiscoverCommand builds `dispatch discover`: runs the registry's
// discovery pipeline (spec §4.2) over --registry-root and reports how many
// modules were registered, in dependency order.
func NewDiscoverCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Scan --registry-root for *.module.yaml manifests and register modules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, _, err := buildPipeline(cmd.Context(), opts)
			if err != nil {
				return WrapExitError(ExitCommandError, "discovery failed", err)
			}

			formatter := &OutputFormatter{Format: opts.Format, Writer: os.Stdout, Verbose: opts.Verbose}
			return formatter.Success(map[string]any{
				"registered_count": reg.Count(),
				"module_ids":       reg.ModuleIDs(),
			})
		},
	}
}
