package cmd

import (
	"io"
	"testing"

	"github.com/spf13/pflag"

	"github.com/hotswap-io/hotswap/pkg/hotswap"
	"github.com/hotswap-io/hotswap/pkg/logging"
)

func TestLoggingFlags(t *testing.T) {
	var flags LoggingFlags
	set := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Register(set)

	// The fallback is used without a flag.
	if hotswap.DebugEnabled {
		t.Skip("debug environment overrides fallback level")
	}
	logger, err := flags.Logger("warn", io.Discard)
	if err != nil {
		t.Fatal("unable to create logger:", err)
	} else if logger.Level() != logging.LevelWarn {
		t.Error("fallback level not used:", logger.Level())
	}

	// An explicit level overrides the fallback.
	if err := set.Parse([]string{"--log-level", "debug"}); err != nil {
		t.Fatal("unable to parse flags:", err)
	}
	if logger, err = flags.Logger("warn", io.Discard); err != nil {
		t.Fatal("unable to create logger:", err)
	} else if logger.Level() != logging.LevelDebug {
		t.Error("explicit level not used:", logger.Level())
	}

	// Invalid levels are rejected.
	if err := set.Parse([]string{"-L", "loud"}); err != nil {
		t.Fatal("unable to parse flags:", err)
	}
	if _, err := flags.Logger("warn", io.Discard); err == nil {
		t.Error("invalid level accepted")
	}
}

func TestDisallowArguments(t *testing.T) {
	if DisallowArguments(nil, nil) != nil {
		t.Error("empty arguments rejected")
	}
	if DisallowArguments(nil, []string{"extra"}) == nil {
		t.Error("extra arguments accepted")
	}
}
