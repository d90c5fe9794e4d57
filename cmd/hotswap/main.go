package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/hotswap-io/hotswap/cmd"
	"github.com/hotswap-io/hotswap/pkg/agent"
	"github.com/hotswap-io/hotswap/pkg/configuration"
	"github.com/hotswap-io/hotswap/pkg/hotswap"
)

// rootMain is the entry point for the root command.
func rootMain(command *cobra.Command, _ []string) error {
	// If no commands were given, then print help information and bail.
	command.Help()

	// Success.
	return nil
}

// rootCommand is the root command.
var rootCommand = &cobra.Command{
	Use:     "hotswap",
	Version: hotswap.Version,
	Short:   "Hotswap pushes freshly compiled code into running processes",
	RunE:    rootMain,
}

// rootConfiguration stores configuration for the root command.
var rootConfiguration struct {
	// help indicates whether or not to show help information and exit.
	help bool
	// configuration is the path of the configuration file.
	configuration string
}

// loadConfiguration loads the server configuration from the path specified
// on the command line or from the default path. A key set in the environment
// overrides the configured key.
func loadConfiguration() (*configuration.Configuration, string, error) {
	path := rootConfiguration.configuration
	if path == "" {
		var err error
		if path, err = configuration.DefaultPath(); err != nil {
			return nil, "", err
		}
	}
	result, err := configuration.Load(path)
	if err != nil {
		return nil, "", err
	}
	if key := os.Getenv(agent.EnvironmentKey); key != "" {
		result.Key = key
	}
	return result, path, nil
}

func init() {
	// Apply common root settings.
	cmd.ConfigureRoot(rootCommand, "Hotswap version {{ .Version }}\n")

	// Grab a handle for the command line flags.
	flags := rootCommand.PersistentFlags()

	// Disable alphabetical sorting of flags in help output.
	flags.SortFlags = false

	// Manually add a help flag to override the default message. Cobra will
	// still implement its logic automatically.
	rootCommand.Flags().BoolVarP(&rootConfiguration.help, "help", "h", false, "Show help information")

	// Wire up configuration flags.
	flags.StringVarP(&rootConfiguration.configuration, "config", "c", "", "Specify the configuration file path (defaults to ~/.hotswap.yml)")

	// Register commands. We do this here (rather than in individual init
	// functions) so that we can control the order.
	rootCommand.AddCommand(
		serveCommand,
		pushCommand,
		listCommand,
		configCommand,
		versionCommand,
	)
}

func main() {
	// Execute the root command.
	cmd.Execute(rootCommand.Execute)
}
