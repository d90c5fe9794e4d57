package main

import (
	"os"

	"github.com/pkg/errors"

	"github.com/spf13/cobra"

	"github.com/hotswap-io/hotswap/cmd"
	"github.com/hotswap-io/hotswap/pkg/configuration"
	"github.com/hotswap-io/hotswap/pkg/encoding"
	"github.com/hotswap-io/hotswap/pkg/random"
)

// configMain is the entry point for the config command.
func configMain(_ *cobra.Command, _ []string) error {
	// Compute the configuration path.
	path := rootConfiguration.configuration
	if path == "" {
		var err error
		if path, err = configuration.DefaultPath(); err != nil {
			return err
		}
	}

	// Refuse to overwrite an existing file unless forced.
	if _, err := os.Stat(path); err == nil && !configConfiguration.force {
		return errors.Errorf("configuration already exists at %s (use --force to overwrite)", path)
	} else if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "unable to probe configuration path")
	}

	// Create the default configuration, optionally with a random key.
	result := configuration.Default()
	if configConfiguration.generateKey {
		key, err := random.New(24)
		if err != nil {
			return errors.Wrap(err, "unable to generate key")
		}
		result.Key = encoding.EncodeBase62(key)
	}

	// Save the configuration.
	if err := result.Save(path, nil); err != nil {
		return errors.Wrap(err, "unable to save configuration")
	}
	cmd.Printf("Wrote configuration to %s\n", path)

	// Success.
	return nil
}

// configCommand is the config command.
var configCommand = &cobra.Command{
	Use:          "config",
	Short:        "Write a default configuration file",
	Args:         cmd.DisallowArguments,
	RunE:         configMain,
	SilenceUsage: true,
}

// configConfiguration stores configuration for the config command.
var configConfiguration struct {
	// help indicates whether or not to show help information and exit.
	help bool
	// force indicates whether or not to overwrite an existing file.
	force bool
	// generateKey indicates whether or not to generate a random key.
	generateKey bool
}

func init() {
	// Grab a handle for the command line flags.
	flags := configCommand.Flags()

	// Disable alphabetical sorting of flags in help output.
	flags.SortFlags = false

	// Manually add a help flag to override the default message. Cobra will
	// still implement its logic automatically.
	flags.BoolVarP(&configConfiguration.help, "help", "h", false, "Show help information")

	// Wire up config flags.
	flags.BoolVarP(&configConfiguration.force, "force", "f", false, "Overwrite an existing configuration file")
	flags.BoolVarP(&configConfiguration.generateKey, "generate-key", "g", false, "Generate a random shared key")
}
