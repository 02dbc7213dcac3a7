package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags shared by every subcommand.
type RootOptions struct {
	Verbose      bool
	Format       string // "json" | "text"
	RegistryRoot string // directory scanned for *.module.yaml binding manifests
	ACLPath      string // YAML access-control rule file
	ConfigPath   string // YAML file of executor.* config (spec §4.1 "Configuration")
	BindingsPath string // Binding YAML file (spec §6 "Binding YAML")
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the dispatch CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "dispatch - module-call orchestration core",
		Long:  "A schema-driven task dispatch framework: register modules, call them through a safety-checked, access-controlled, middleware-wrapped pipeline.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.RegistryRoot, "registry-root", ".", "directory to scan for *.module.yaml binding manifests")
	cmd.PersistentFlags().StringVar(&opts.ACLPath, "acl", "", "path to an ACL rule YAML file (optional)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to a YAML file of executor.* configuration (optional)")
	cmd.PersistentFlags().StringVar(&opts.BindingsPath, "bindings", "", "path to a Binding YAML file for zero-code module registration (optional)")

	cmd.AddCommand(NewCallCommand(opts))
	cmd.AddCommand(NewDiscoverCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewACLCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
