package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/spf13/cobra"

	"github.com/fatih/color"

	"github.com/hotswap-io/hotswap/cmd"
	"github.com/hotswap-io/hotswap/pkg/control"
)

// pushMain is the entry point for the push command.
func pushMain(_ *cobra.Command, arguments []string) error {
	// Compute the module path. Relative paths are resolved against the
	// working directory since the server won't share it.
	path, err := filepath.Abs(arguments[0])
	if err != nil {
		return errors.Wrap(err, "unable to resolve module path")
	}

	// Read the module if it's to be sent to clients.
	var data []byte
	if pushConfiguration.send {
		if data, err = os.ReadFile(path); err != nil {
			return errors.Wrap(err, "unable to read module")
		}
	}

	// Create a context that's cancelled on termination signals.
	ctx, cancel := cmd.WithTermination(context.Background())
	defer cancel()

	// Connect to the server and defer closure of the connection.
	client, err := pushConfiguration.control.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	// Perform the push.
	report, err := client.Push(ctx, &control.Push{
		Selector: pushConfiguration.platform,
		Path:     path,
		TypeName: pushConfiguration.typeName,
		Send:     pushConfiguration.send,
		Data:     data,
	})
	if err != nil {
		return errors.Wrap(err, "push failed")
	}

	// Print results.
	if len(report.Results) == 0 {
		cmd.Warning("No sessions matched")
		return nil
	}
	for _, result := range report.Results {
		if result.Error != "" {
			cmd.Printf("%s %s (%s): %s\n", color.RedString("✗"), result.Session, result.Platform, result.Error)
		} else if result.Detail != "" {
			cmd.Printf("%s %s (%s): %s\n", color.GreenString("✓"), result.Session, result.Platform, result.Detail)
		} else {
			cmd.Printf("%s %s (%s)\n", color.GreenString("✓"), result.Session, result.Platform)
		}
	}

	// Report failures.
	if failures := report.Failures(); failures > 0 {
		return errors.Errorf("%d of %d sessions failed", failures, len(report.Results))
	}

	// Success.
	return nil
}

// pushCommand is the push command.
var pushCommand = &cobra.Command{
	Use:          "push <module-path>",
	Short:        "Load a freshly compiled module into matching sessions",
	Args:         cobra.ExactArgs(1),
	RunE:         pushMain,
	SilenceUsage: true,
}

// pushConfiguration stores configuration for the push command.
var pushConfiguration struct {
	// help indicates whether or not to show help information and exit.
	help bool
	// platform is the platform selector.
	platform string
	// typeName is the type to inject, if any.
	typeName string
	// send indicates whether or not to send the module contents to clients.
	send bool
	// control stores control connection flags.
	control controlFlags
}

func init() {
	// Grab a handle for the command line flags.
	flags := pushCommand.Flags()

	// Disable alphabetical sorting of flags in help output.
	flags.SortFlags = false

	// Manually add a help flag to override the default message. Cobra will
	// still implement its logic automatically.
	flags.BoolVarP(&pushConfiguration.help, "help", "h", false, "Show help information")

	// Wire up push flags.
	flags.StringVarP(&pushConfiguration.platform, "platform", "p", "", "Only target sessions whose platform matches the pattern")
	flags.StringVarP(&pushConfiguration.typeName, "type", "t", "", "Inject the named type instead of loading the module")
	flags.BoolVarP(&pushConfiguration.send, "send", "s", false, "Send the module to each client's temporary directory before loading it")
	pushConfiguration.control.register(flags)
}
