package main

import (
	"context"
	"os"

	"github.com/pkg/errors"

	"github.com/spf13/cobra"

	"github.com/hotswap-io/hotswap/cmd"
	"github.com/hotswap-io/hotswap/pkg/server"
)

// serveMain is the entry point for the serve command.
func serveMain(_ *cobra.Command, _ []string) error {
	// Load the configuration.
	configuration, _, err := loadConfiguration()
	if err != nil {
		return errors.Wrap(err, "unable to load configuration")
	}

	// Apply command line overrides.
	if serveConfiguration.key != "" {
		configuration.Key = serveConfiguration.key
	}
	if serveConfiguration.listen != "" {
		configuration.Listen.Command = serveConfiguration.listen
	}
	if serveConfiguration.control != "" {
		configuration.Listen.Control = serveConfiguration.control
	}
	if serveConfiguration.noControl {
		configuration.Listen.Control = ""
	}
	if serveConfiguration.noDiscovery {
		configuration.Discovery.Disabled = true
	}
	if serveConfiguration.localRoot != "" {
		configuration.Session.LocalRoot = serveConfiguration.localRoot
	}

	// Create the logger.
	logger, err := serveConfiguration.logging.Logger(configuration.Logging.Level, os.Stderr)
	if err != nil {
		return err
	}

	// Create the server.
	instance, err := server.New(configuration, logger)
	if err != nil {
		return errors.Wrap(err, "unable to create server")
	}

	// Create a context that's cancelled on termination signals. We do this
	// before listening so that things terminate smoothly, not
	// mid-initialization.
	ctx, cancel := cmd.WithTermination(context.Background())
	defer cancel()

	// Serve until terminated.
	if err := instance.Serve(ctx); err != nil {
		return errors.Wrap(err, "premature server termination")
	}

	// Success.
	return nil
}

// serveCommand is the serve command.
var serveCommand = &cobra.Command{
	Use:          "serve",
	Short:        "Accept injection sessions from running processes",
	Args:         cmd.DisallowArguments,
	RunE:         serveMain,
	SilenceUsage: true,
}

// serveConfiguration stores configuration for the serve command.
var serveConfiguration struct {
	// help indicates whether or not to show help information and exit.
	help bool
	// key overrides the configured key.
	key string
	// listen overrides the configured command address.
	listen string
	// control overrides the configured control address.
	control string
	// noControl disables the control listener.
	noControl bool
	// noDiscovery disables the rendezvous responder.
	noDiscovery bool
	// localRoot overrides the configured local project root.
	localRoot string
	// logging stores logging flags.
	logging cmd.LoggingFlags
}

func init() {
	// Grab a handle for the command line flags.
	flags := serveCommand.Flags()

	// Disable alphabetical sorting of flags in help output.
	flags.SortFlags = false

	// Manually add a help flag to override the default message. Cobra will
	// still implement its logic automatically.
	flags.BoolVarP(&serveConfiguration.help, "help", "h", false, "Show help information")

	// Wire up serving flags.
	flags.StringVarP(&serveConfiguration.key, "key", "k", "", "Override the shared key")
	flags.StringVarP(&serveConfiguration.listen, "listen", "l", "", "Override the session listening address")
	flags.StringVar(&serveConfiguration.control, "control", "", "Override the control listening address")
	flags.BoolVar(&serveConfiguration.noControl, "no-control", false, "Disable the control listener")
	flags.BoolVar(&serveConfiguration.noDiscovery, "no-discovery", false, "Disable rendezvous discovery")
	flags.StringVar(&serveConfiguration.localRoot, "local-root", "", "Override the local project root used for path translation")
	serveConfiguration.logging.Register(flags)
}
