package main

import (
	"context"

	"github.com/pkg/errors"

	"github.com/spf13/pflag"

	"github.com/hotswap-io/hotswap/pkg/control"
)

// controlFlags stores flags common to control protocol commands.
type controlFlags struct {
	// address overrides the configured control address.
	address string
	// key overrides the configured key.
	key string
}

// register registers the flags with a flag set.
func (f *controlFlags) register(flags *pflag.FlagSet) {
	flags.StringVarP(&f.address, "address", "a", "", "Override the server control address")
	flags.StringVarP(&f.key, "key", "k", "", "Override the shared key")
}

// connect connects to the server's control listener.
func (f *controlFlags) connect(ctx context.Context) (*control.Client, error) {
	// Load the configuration to determine defaults.
	configuration, _, err := loadConfiguration()
	if err != nil {
		return nil, errors.Wrap(err, "unable to load configuration")
	}

	// Apply command line overrides.
	address := configuration.Listen.Control
	if f.address != "" {
		address = f.address
	}
	key := configuration.Key
	if f.key != "" {
		key = f.key
	}
	if address == "" {
		return nil, errors.New("control listener disabled and no address specified")
	}

	// Connect.
	client, err := control.Dial(ctx, address, key)
	if err != nil {
		return nil, errors.Wrap(err, "unable to connect to server")
	}
	return client, nil
}
