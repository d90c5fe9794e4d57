package configuration

import (
	"net"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/hotswap-io/hotswap/pkg/discovery"
	"github.com/hotswap-io/hotswap/pkg/encoding"
	"github.com/hotswap-io/hotswap/pkg/hotswap"
	"github.com/hotswap-io/hotswap/pkg/logging"
)

// Configuration is the YAML server configuration object type.
type Configuration struct {
	// Key is the shared key that clients must present.
	Key string `yaml:"key"`
	// Listen specifies listening addresses.
	Listen struct {
		// Command is the injection session listening address.
		Command string `yaml:"command"`
		// Control is the control protocol listening address. An empty
		// address disables the control listener.
		Control string `yaml:"control"`
	} `yaml:"listen"`
	// Discovery specifies rendezvous behavior.
	Discovery struct {
		// Disabled disables the rendezvous responder.
		Disabled bool `yaml:"disabled"`
		// Group is the rendezvous address.
		Group string `yaml:"group"`
	} `yaml:"discovery"`
	// Session specifies session parameters.
	Session struct {
		// CommandTimeout is the time allowed for clients to answer commands.
		CommandTimeout time.Duration `yaml:"commandTimeout"`
		// NegotiationTimeout is the time allowed for version negotiation.
		NegotiationTimeout time.Duration `yaml:"negotiationTimeout"`
		// LocalRoot is the server-side project root used for path
		// translation.
		LocalRoot string `yaml:"localRoot"`
	} `yaml:"session"`
	// Logging specifies logging parameters.
	Logging struct {
		// Level is the log level name.
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// Default returns the default configuration.
func Default() *Configuration {
	result := &Configuration{Key: hotswap.DefaultKey}
	result.Listen.Command = net.JoinHostPort("", strconv.Itoa(hotswap.CommandPort))
	result.Listen.Control = net.JoinHostPort("127.0.0.1", strconv.Itoa(hotswap.ControlPort))
	result.Discovery.Group = discovery.DefaultGroup()
	result.Session.CommandTimeout = 30 * time.Second
	result.Session.NegotiationTimeout = 5 * time.Second
	result.Logging.Level = logging.LevelInfo.String()
	return result
}

// Load loads a YAML server configuration from the specified path on top of
// the default configuration. If the file doesn't exist, the default
// configuration is returned.
func Load(path string) (*Configuration, error) {
	// Start from the defaults. Fields absent from the file keep them.
	result := Default()

	// Attempt to load.
	if err := encoding.LoadAndUnmarshalYAML(path, result); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	// Validate.
	if err := result.EnsureValid(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	// Success.
	return result, nil
}

// Save saves the configuration to the specified path.
func (c *Configuration) Save(path string, logger *logging.Logger) error {
	return encoding.MarshalAndSaveYAML(path, c, logger)
}

// EnsureValid ensures that the configuration is valid.
func (c *Configuration) EnsureValid() error {
	// Verify that the configuration is non-nil.
	if c == nil {
		return errors.New("nil configuration")
	}

	// Verify the key.
	if c.Key == "" {
		return errors.New("empty key")
	}

	// Verify listening addresses.
	if _, _, err := net.SplitHostPort(c.Listen.Command); err != nil {
		return errors.Wrap(err, "invalid command address")
	}
	if c.Listen.Control != "" {
		if _, _, err := net.SplitHostPort(c.Listen.Control); err != nil {
			return errors.Wrap(err, "invalid control address")
		}
	}

	// Verify the rendezvous address.
	if !c.Discovery.Disabled {
		if _, _, err := net.SplitHostPort(c.Discovery.Group); err != nil {
			return errors.Wrap(err, "invalid rendezvous address")
		}
	}

	// Verify timeouts.
	if c.Session.CommandTimeout < 0 {
		return errors.New("negative command timeout")
	} else if c.Session.NegotiationTimeout <= 0 {
		return errors.New("non-positive negotiation timeout")
	}

	// Verify the log level.
	if _, ok := logging.NameToLevel(c.Logging.Level); !ok {
		return errors.Errorf("unknown log level: %s", c.Logging.Level)
	}

	// Success.
	return nil
}
