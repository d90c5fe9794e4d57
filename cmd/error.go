package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

// Warning prints a warning message to standard error.
func Warning(message string) {
	color.New(color.FgYellow).Fprintln(color.Error, "Warning:", message)
}

// Error prints an error message to standard error.
func Error(err error) {
	color.New(color.FgRed).Fprintln(color.Error, "Error:", err)
}

// Fatal prints an error message to standard error and then terminates the
// process with an error exit code.
func Fatal(err error) {
	Error(err)
	os.Exit(1)
}

// Execute runs a root command and terminates the process if it fails.
func Execute(run func() error) {
	if err := run(); err != nil {
		Fatal(err)
	}
}

// Printf prints a formatted message to standard output through the color
// writer so that escape sequences are handled on every platform.
func Printf(format string, arguments ...interface{}) {
	fmt.Fprintf(color.Output, format, arguments...)
}
