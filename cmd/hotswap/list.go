package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/spf13/cobra"

	"github.com/fatih/color"

	"github.com/dustin/go-humanize"

	"github.com/hotswap-io/hotswap/cmd"
	"github.com/hotswap-io/hotswap/pkg/control"
)

// printSession prints a single session description.
func printSession(session control.SessionInfo) {
	// Print the identifier and state.
	state := session.State
	if session.CloseReason != "" {
		state = fmt.Sprintf("%s (%s)", state, session.CloseReason)
	}
	cmd.Printf("Session: %s\n", session.Identifier)
	cmd.Printf("\tState: %s\n", state)

	// Print client details.
	cmd.Printf("\tAddress: %s\n", session.Address)
	cmd.Printf("\tConnected: %s\n", humanize.Time(session.ConnectedAt))
	cmd.Printf("\tProtocol: %d\n", session.Version)
	if session.Platform != "" {
		cmd.Printf("\tPlatform: %s\n", session.Platform)
	}
	if session.ProjectRoot != "" {
		cmd.Printf("\tProject root: %s\n", session.ProjectRoot)
	}
	if session.TmpPath != "" {
		cmd.Printf("\tTemporary directory: %s\n", session.TmpPath)
	}
	if session.ToolchainPath != "" {
		cmd.Printf("\tToolchain: %s\n", session.ToolchainPath)
	}

	// Print command counters.
	failed := humanize.Comma(int64(session.Failed))
	if session.Failed > 0 {
		failed = color.RedString(failed)
	}
	cmd.Printf("\tCommands: %s sent, %s acknowledged, %s failed\n",
		humanize.Comma(int64(session.Sequence)),
		humanize.Comma(int64(session.Acknowledged)),
		failed,
	)
}

// computeMonitorStatusLine constructs a monitoring status line summarizing
// all sessions.
func computeMonitorStatusLine(listing *control.Listing) string {
	// Count sessions by state.
	var busy, failed uint64
	platforms := make(map[string]bool)
	for _, session := range listing.Sessions {
		if session.State == "awaiting_response" {
			busy++
		}
		failed += session.Failed
		if session.Platform != "" {
			platforms[session.Platform] = true
		}
	}

	// Build the status line.
	status := fmt.Sprintf("%d sessions", len(listing.Sessions))
	if len(platforms) > 0 {
		names := make([]string, 0, len(platforms))
		for platform := range platforms {
			names = append(names, platform)
		}
		status += " [" + strings.Join(names, ", ") + "]"
	}
	if busy > 0 {
		status += color.YellowString(" %d busy", busy)
	}
	if failed > 0 {
		status += color.RedString(" %s failures", humanize.Comma(int64(failed)))
	}

	// Done.
	return status
}

// listMain is the entry point for the list command.
func listMain(_ *cobra.Command, _ []string) error {
	// Create a context that's cancelled on termination signals.
	ctx, cancel := cmd.WithTermination(context.Background())
	defer cancel()

	// Connect to the server and defer closure of the connection.
	client, err := listConfiguration.control.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	// Handle the one-shot case.
	if !listConfiguration.monitor {
		listing, err := client.List(ctx, 0)
		if err != nil {
			return errors.Wrap(err, "list failed")
		}
		if len(listing.Sessions) == 0 {
			fmt.Println("No sessions")
		}
		for i, session := range listing.Sessions {
			if i > 0 {
				fmt.Println()
			}
			printSession(session)
		}
		return nil
	}

	// Create a status line printer and defer a line break operation.
	statusLinePrinter := &cmd.StatusLinePrinter{}
	defer statusLinePrinter.BreakIfNonEmpty()

	// Loop and print monitoring information until terminated.
	var previousIndex uint64
	for {
		listing, err := client.List(ctx, previousIndex)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "list failed")
		}
		previousIndex = listing.Index
		statusLinePrinter.Print(computeMonitorStatusLine(listing))
	}
}

// listCommand is the list command.
var listCommand = &cobra.Command{
	Use:          "list",
	Short:        "List connected sessions",
	Args:         cmd.DisallowArguments,
	RunE:         listMain,
	SilenceUsage: true,
}

// listConfiguration stores configuration for the list command.
var listConfiguration struct {
	// help indicates whether or not to show help information and exit.
	help bool
	// monitor indicates whether or not to continuously monitor sessions.
	monitor bool
	// control stores control connection flags.
	control controlFlags
}

func init() {
	// Grab a handle for the command line flags.
	flags := listCommand.Flags()

	// Disable alphabetical sorting of flags in help output.
	flags.SortFlags = false

	// Manually add a help flag to override the default message. Cobra will
	// still implement its logic automatically.
	flags.BoolVarP(&listConfiguration.help, "help", "h", false, "Show help information")

	// Wire up list flags.
	flags.BoolVarP(&listConfiguration.monitor, "monitor", "m", false, "Continuously display a session summary")
	listConfiguration.control.register(flags)
}
