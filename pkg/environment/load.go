package environment

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Load loads a "dotenv" environment variable file from disk and overlays the
// current process' environment on top of it (with the current process'
// environment taking precedence). If path is empty or the file doesn't exist,
// the result is the current process' environment.
func Load(path string) (map[string]string, error) {
	// Load the environment file, if any.
	var environment map[string]string
	if path != "" {
		var err error
		environment, err = godotenv.Read(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "unable to load environment file (%s)", path)
		}
	}

	// Grab the environment from the OS.
	current := ToMap(os.Environ())

	// If the environment wasn't allocated, then just use the OS environment.
	if environment == nil {
		return current, nil
	}

	// Add environment variables from the OS.
	for key, value := range current {
		environment[key] = value
	}

	// Success.
	return environment, nil
}

// LookupBool interprets an environment variable as a boolean flag. The values
// "1", "true", and "yes" (case-sensitive) are treated as set.
func LookupBool(environment map[string]string, key string) bool {
	switch environment[key] {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
