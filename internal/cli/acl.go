package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/dispatchkit/core/internal/acl"
)

// NewACLCommand builds the `dispatch acl` command group: currently just
// `acl reload`, which re-parses --acl from disk and reports the rule
// count, mirroring the live-reload path an operator would use after
// editing the ACL file in place (spec §4's "live YAML reload").
func NewACLCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "acl",
		Short: "Inspect or reload the access-control rule set",
	}
	cmd.AddCommand(newACLReloadCommand(opts))
	return cmd
}

func newACLReloadCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Re-parse --acl from disk and report the active rule count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.ACLPath == "" {
				return NewExitError(ExitCommandError, "--acl must be set to reload an ACL file")
			}

			a, err := acl.LoadFromYAML(opts.ACLPath)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load ACL file", err)
			}
			if err := a.Reload(); err != nil {
				return WrapExitError(ExitCommandError, "failed to reload ACL file", err)
			}

			formatter := &OutputFormatter{Format: opts.Format, Writer: os.Stdout, Verbose: opts.Verbose}
			return formatter.Success(map[string]any{
				"rule_count":     len(a.Rules()),
				"default_effect": string(a.DefaultEffect()),
			})
		},
	}
}
