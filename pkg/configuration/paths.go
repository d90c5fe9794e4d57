package configuration

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const (
	// fileName is the name of the server configuration file within the
	// user's home directory.
	fileName = ".hotswap.yml"
)

// DefaultPath returns the path of the server configuration file. It does not
// verify that the file exists.
func DefaultPath() (string, error) {
	// Compute the path to the user's home directory.
	homeDirectoryPath, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "unable to compute path to home directory")
	}

	// Success.
	return filepath.Join(homeDirectoryPath, fileName), nil
}
