package cli

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/dispatchkit/core/internal/core"
	"github.com/dispatchkit/core/internal/core/errs"
)

// NewCallCommand builds `dispatch call <moduleId> --args '{...}'`: drives
// one call through the full pipeline (spec §4.1) and prints the result.
func NewCallCommand(opts *RootOptions) *cobra.Command {
	var argsJSON string

	cmd := &cobra.Command{
		Use:   "call <module-id>",
		Short: "Invoke a registered module through the full dispatch pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			moduleID := args[0]

			var inputs core.Record
			if err := json.Unmarshal([]byte(argsJSON), &inputs); err != nil {
				return WrapExitError(ExitCommandError, "invalid --args JSON", err)
			}

			_, ex, err := buildPipeline(cmd.Context(), opts)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to build dispatch pipeline", err)
			}

			formatter := &OutputFormatter{Format: opts.Format, Writer: os.Stdout, Verbose: opts.Verbose}

			out, callErr := ex.Call(cmd.Context(), moduleID, inputs, nil)
			if callErr != nil {
				code := string(errs.CodeOf(callErr))
				if code == "" {
					code = "UNKNOWN"
				}
				_ = formatter.Error(code, callErr.Error(), nil)
				return NewExitError(ExitFailure, callErr.Error())
			}

			return formatter.Success(out)
		},
	}

	cmd.Flags().StringVar(&argsJSON, "args", "{}", "module inputs as a JSON object")
	return cmd
}
