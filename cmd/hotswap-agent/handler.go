package main

import (
	"os/exec"
	"path/filepath"
	"plugin"
	"strings"

	"github.com/pkg/errors"

	"github.com/hotswap-io/hotswap/pkg/agent"
	"github.com/hotswap-io/hotswap/pkg/logging"
)

// pluginHandler is an agent handler that loads Go plugins into the agent
// process. Injecting a type invokes the plugin's exported Swap<TypeName>
// function.
type pluginHandler struct {
	// logger is the underlying logger.
	logger *logging.Logger
	// plugins are the loaded plugins, keyed by path.
	plugins map[string]*plugin.Plugin
}

// newPluginHandler creates a new plugin handler.
func newPluginHandler(logger *logging.Logger) *pluginHandler {
	return &pluginHandler{
		logger:  logger,
		plugins: make(map[string]*plugin.Plugin),
	}
}

// Log implements agent.Handler.Log.
func (h *pluginHandler) Log(message string) {
	h.logger.Info(strings.TrimRight(message, "\n"))
}

// open loads a plugin, reusing a previous load of the same path.
func (h *pluginHandler) open(path string) (*plugin.Plugin, error) {
	if loaded, ok := h.plugins[path]; ok {
		return loaded, nil
	}
	loaded, err := plugin.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open %s", filepath.Base(path))
	}
	h.plugins[path] = loaded
	return loaded, nil
}

// LoadDylib implements agent.Handler.LoadDylib.
func (h *pluginHandler) LoadDylib(path string) error {
	if _, err := h.open(path); err != nil {
		return err
	}
	h.logger.Infof("Loaded %s", filepath.Base(path))
	return nil
}

// Inject implements agent.Handler.Inject.
func (h *pluginHandler) Inject(typeName, path string) error {
	// Load the plugin.
	loaded, err := h.open(path)
	if err != nil {
		return err
	}

	// Look up the swap function. A missing symbol means the plugin was built
	// without exporting it.
	name := "Swap" + typeName
	symbol, err := loaded.Lookup(name)
	if err != nil {
		return errors.Wrapf(agent.ErrSymbolsHidden, "%s not exported", name)
	}
	swap, ok := symbol.(func() error)
	if !ok {
		return errors.Errorf("%s has unexpected signature %T", name, symbol)
	}

	// Perform the swap.
	if err := swap(); err != nil {
		return errors.Wrapf(err, "%s failed", name)
	}
	h.logger.Infof("Injected %s", typeName)
	return nil
}

// ToolchainPath implements agent.Handler.ToolchainPath.
func (h *pluginHandler) ToolchainPath() (string, error) {
	path, err := exec.LookPath("go")
	if err != nil {
		return "", errors.Wrap(err, "unable to locate toolchain")
	}
	return filepath.Dir(path), nil
}
