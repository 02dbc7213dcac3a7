package cli

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/dispatchkit/core/internal/core"
)

// NewValidateCommand builds `dispatch validate <moduleId> --args '{...}'`:
// runs only the schema-validation step (spec §4.1 "Validate-only
// variant"), with no execution, middleware or approval side effects.
func NewValidateCommand(opts *RootOptions) *cobra.Command {
	var argsJSON string

	cmd := &cobra.Command{
		Use:   "validate <module-id>",
		Short: "Check inputs against a module's input schema without executing it",
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

			res, valErr := ex.Validate(moduleID, inputs)
			if valErr != nil {
				return WrapExitError(ExitCommandError, "validation could not run", valErr)
			}

			formatter := &OutputFormatter{Format: opts.Format, Writer: os.Stdout, Verbose: opts.Verbose}
			if !res.Valid {
				_ = formatter.Error("SCHEMA_VALIDATION_ERROR", "inputs failed validation", res.Errors)
				return NewExitError(ExitFailure, "inputs failed validation")
			}
			return formatter.Success(map[string]any{"valid": true})
		},
	}

	cmd.Flags().StringVar(&argsJSON, "args", "{}", "module inputs as a JSON object")
	return cmd
}
