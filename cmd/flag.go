package cmd

import (
	"io"
	"log"

	"github.com/pkg/errors"

	"github.com/spf13/pflag"

	"github.com/hotswap-io/hotswap/pkg/hotswap"
	"github.com/hotswap-io/hotswap/pkg/logging"
)

func init() {
	// Silence the standard library logger.
	log.SetOutput(io.Discard)
}

// LoggingFlags stores logging-related command line flags.
type LoggingFlags struct {
	// Level is the log level name. If empty, the fallback level is used.
	Level string
}

// Register registers the flags with a flag set.
func (f *LoggingFlags) Register(flags *pflag.FlagSet) {
	flags.StringVarP(&f.Level, "log-level", "L", "", "Set the log level (disabled|error|warn|info|debug|trace)")
}

// Logger creates a root logger writing to the specified destination. If no
// level was specified on the command line, then debug logging is used when
// HOTSWAP_DEBUG is set and the fallback level name is used otherwise.
func (f *LoggingFlags) Logger(fallback string, destination io.Writer) (*logging.Logger, error) {
	name := f.Level
	if name == "" {
		if hotswap.DebugEnabled {
			name = logging.LevelDebug.String()
		} else {
			name = fallback
		}
	}
	level, ok := logging.NameToLevel(name)
	if !ok {
		return nil, errors.Errorf("invalid log level: %s", name)
	}
	return logging.NewLogger(level, destination), nil
}
