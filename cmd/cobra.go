package cmd

import (
	"github.com/pkg/errors"

	"github.com/spf13/cobra"
)

// DisallowArguments is a Cobra argument validator that disallows positional
// arguments. It's an alternative to cobra.NoArgs, which treats arguments as
// unknown subcommands.
func DisallowArguments(_ *cobra.Command, arguments []string) error {
	if len(arguments) > 0 {
		return errors.New("command does not accept arguments")
	}
	return nil
}

// ConfigureRoot applies the common settings used by root commands.
func ConfigureRoot(root *cobra.Command, versionTemplate string) {
	// Disable Cobra's command sorting behavior. By default, it sorts commands
	// alphabetically in the help output.
	cobra.EnableCommandSorting = false

	// Disable Cobra's use of mousetrap. The binaries are never launched from
	// Explorer.
	cobra.MousetrapHelpText = ""

	// Errors are printed by the entry point.
	root.SilenceErrors = true
	root.SilenceUsage = true

	// Set the template used by the version flag.
	root.SetVersionTemplate(versionTemplate)

	// Hide Cobra's completion command.
	root.CompletionOptions.HiddenDefaultCmd = true
}
