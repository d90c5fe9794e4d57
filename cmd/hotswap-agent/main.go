package main

import (
	"context"
	"log"
	"os"

	"github.com/pkg/errors"

	"github.com/spf13/cobra"

	"github.com/hotswap-io/hotswap/cmd"
	"github.com/hotswap-io/hotswap/pkg/agent"
	"github.com/hotswap-io/hotswap/pkg/hotswap"
	"github.com/hotswap-io/hotswap/pkg/logging"
)

// rootMain is the entry point for the root command.
func rootMain(_ *cobra.Command, _ []string) error {
	// Load the agent configuration from the environment.
	configuration, err := agent.LoadConfiguration()
	if err != nil {
		return errors.Wrap(err, "unable to load configuration")
	}

	// Apply command line overrides.
	if rootConfiguration.platform != "" {
		configuration.Platform = rootConfiguration.platform
	}

	// Create the logger.
	logger, err := rootConfiguration.logging.Logger("info", os.Stderr)
	if err != nil {
		return err
	}

	// Route standard library logging from loaded plugins through our logger.
	log.SetFlags(0)
	log.SetOutput(logger.Sublogger("plugin").Writer(logging.LevelInfo))

	// Create the agent.
	client, err := agent.New(configuration, newPluginHandler(logger.Sublogger("handler")), logger)
	if err != nil {
		return errors.Wrap(err, "unable to create agent")
	}

	// Create a context that's cancelled on termination signals. Cancellation
	// notifies connected servers of the exit.
	ctx, cancel := cmd.WithTermination(context.Background())
	defer cancel()

	// Run the agent.
	return client.Run(ctx)
}

// rootCommand is the root command.
var rootCommand = &cobra.Command{
	Use:     "hotswap-agent",
	Version: hotswap.Version,
	Short:   "Connect to hotswap servers and load pushed plugins into this process",
	Args:    cmd.DisallowArguments,
	RunE:    rootMain,
}

// rootConfiguration stores configuration for the root command.
var rootConfiguration struct {
	// help indicates whether or not to show help information and exit.
	help bool
	// platform overrides the reported platform.
	platform string
	// logging stores logging flags.
	logging cmd.LoggingFlags
}

func init() {
	// Apply common root settings.
	cmd.ConfigureRoot(rootCommand, "Hotswap agent version {{ .Version }}\n")

	// Grab a handle for the command line flags.
	flags := rootCommand.Flags()

	// Disable alphabetical sorting of flags in help output.
	flags.SortFlags = false

	// Manually add a help flag to override the default message. Cobra will
	// still implement its logic automatically.
	flags.BoolVarP(&rootConfiguration.help, "help", "h", false, "Show help information")

	// Wire up agent flags.
	flags.StringVarP(&rootConfiguration.platform, "platform", "p", "", "Override the reported platform")
	rootConfiguration.logging.Register(flags)
}

func main() {
	// Execute the root command.
	cmd.Execute(rootCommand.Execute)
}
