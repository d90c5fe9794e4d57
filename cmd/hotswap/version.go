package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hotswap-io/hotswap/cmd"
	"github.com/hotswap-io/hotswap/pkg/hotswap"
)

// versionMain is the entry point for the version command.
func versionMain(_ *cobra.Command, _ []string) error {
	// Print version information.
	fmt.Println(hotswap.Version)
	if versionConfiguration.protocol {
		fmt.Printf("Injection protocol %d (minimum %d)\n", hotswap.InjectionVersion, hotswap.MinimumInjectionVersion)
		fmt.Printf("Commands protocol %d (minimum %d)\n", hotswap.CommandsVersion, hotswap.MinimumCommandsVersion)
	}

	// Success.
	return nil
}

// versionCommand is the version command.
var versionCommand = &cobra.Command{
	Use:          "version",
	Short:        "Show version information",
	Args:         cmd.DisallowArguments,
	RunE:         versionMain,
	SilenceUsage: true,
}

// versionConfiguration stores configuration for the version command.
var versionConfiguration struct {
	// help indicates whether or not to show help information and exit.
	help bool
	// protocol indicates whether or not to show protocol versions.
	protocol bool
}

func init() {
	// Grab a handle for the command line flags.
	flags := versionCommand.Flags()

	// Disable alphabetical sorting of flags in help output.
	flags.SortFlags = false

	// Manually add a help flag to override the default message. Cobra will
	// still implement its logic automatically.
	flags.BoolVarP(&versionConfiguration.help, "help", "h", false, "Show help information")

	// Wire up version flags.
	flags.BoolVarP(&versionConfiguration.protocol, "protocol", "p", false, "Show wire protocol versions")
}
