package agent

import (
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/hotswap-io/hotswap/pkg/discovery"
	"github.com/hotswap-io/hotswap/pkg/environment"
	"github.com/hotswap-io/hotswap/pkg/hotswap"
)

const (
	// EnvironmentHost names a server directly, bypassing discovery. It may
	// include a port.
	EnvironmentHost = "INJECTION_HOST"
	// EnvironmentDirectories lists watched source directories, separated by
	// commas.
	EnvironmentDirectories = "INJECTION_DIRECTORIES"
	// EnvironmentWorkspace overrides the project root.
	EnvironmentWorkspace = "BUILD_WORKSPACE_DIRECTORY"
	// EnvironmentStandaloneInhibit suppresses the unreachable-server error.
	EnvironmentStandaloneInhibit = "INJECTION_STANDALONE_INHIBIT"
	// EnvironmentKey sets the shared key.
	EnvironmentKey = "INJECTION_KEY"
	// EnvironmentFile names a dotenv file whose values apply beneath the
	// process environment.
	EnvironmentFile = "HOTSWAP_ENV_FILE"

	// defaultConnectTimeout is the default timeout for establishing a
	// connection to a located server.
	defaultConnectTimeout = 5 * time.Second
	// defaultNegotiationTimeout is the default timeout for negotiation.
	defaultNegotiationTimeout = 5 * time.Second
)

// Configuration encodes agent parameters.
type Configuration struct {
	// Discovery controls how servers are located.
	Discovery discovery.Configuration
	// Key is the shared key presented to servers.
	Key string
	// Platform is the platform identifier reported to servers.
	Platform string
	// TmpPath is the scratch directory reported to servers and used for
	// received files.
	TmpPath string
	// ProjectRoot is the project root reported to servers.
	ProjectRoot string
	// Directories are the watched directories reported to servers.
	Directories []string
	// StandaloneInhibit indicates that an unreachable server is not an error.
	StandaloneInhibit bool
	// ConnectTimeout bounds connection establishment.
	ConnectTimeout time.Duration
	// NegotiationTimeout bounds version negotiation.
	NegotiationTimeout time.Duration
}

// DefaultPlatform returns the platform identifier of the running process.
func DefaultPlatform() string {
	return runtime.GOOS + "-" + runtime.GOARCH
}

// LoadConfiguration loads a configuration from the process environment,
// layered over the dotenv file named by HOTSWAP_ENV_FILE (if any).
func LoadConfiguration() (*Configuration, error) {
	variables, err := environment.Load(os.Getenv(EnvironmentFile))
	if err != nil {
		return nil, errors.Wrap(err, "unable to load environment")
	}
	return NewConfiguration(variables)
}

// NewConfiguration creates a configuration from an environment map, filling in
// defaults for anything unset.
func NewConfiguration(variables map[string]string) (*Configuration, error) {
	// Generate an agent identity.
	identity, err := uuid.NewRandom()
	if err != nil {
		return nil, errors.Wrap(err, "unable to generate agent identity")
	}

	// Create the default configuration.
	configuration := &Configuration{
		Discovery: discovery.Configuration{
			Identity: identity.String(),
		},
		Key:                hotswap.DefaultKey,
		Platform:           DefaultPlatform(),
		TmpPath:            filepath.Join(os.TempDir(), "hotswap-"+identity.String()),
		ConnectTimeout:     defaultConnectTimeout,
		NegotiationTimeout: defaultNegotiationTimeout,
	}

	// Handle the host override.
	if host := variables[EnvironmentHost]; host != "" {
		if h, p, err := net.SplitHostPort(host); err == nil {
			port, err := strconv.Atoi(p)
			if err != nil || port <= 0 || port > 65535 {
				return nil, errors.Errorf("invalid port in %s (%s)", EnvironmentHost, host)
			}
			configuration.Discovery.Host = h
			configuration.Discovery.Port = port
		} else {
			configuration.Discovery.Host = host
		}
	}

	// Handle the key.
	if key := variables[EnvironmentKey]; key != "" {
		configuration.Key = key
	}
	configuration.Discovery.Key = configuration.Key

	// Handle the project root.
	if workspace := variables[EnvironmentWorkspace]; workspace != "" {
		configuration.ProjectRoot = workspace
	} else if workingDirectory, err := os.Getwd(); err == nil {
		configuration.ProjectRoot = workingDirectory
	}

	// Handle watched directories.
	for _, directory := range strings.Split(variables[EnvironmentDirectories], ",") {
		if directory = strings.TrimSpace(directory); directory != "" {
			configuration.Directories = append(configuration.Directories, directory)
		}
	}

	// Handle standalone inhibition.
	configuration.StandaloneInhibit = environment.LookupBool(variables, EnvironmentStandaloneInhibit)

	// Success.
	return configuration, nil
}
