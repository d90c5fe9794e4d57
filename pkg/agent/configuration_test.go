package agent

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/hotswap-io/hotswap/pkg/hotswap"
)

func TestNewConfigurationDefaults(t *testing.T) {
	configuration, err := NewConfiguration(map[string]string{})
	if err != nil {
		t.Fatal("unable to create configuration:", err)
	}
	if configuration.Discovery.Host != "" {
		t.Error("host set without override")
	}
	if configuration.Key != hotswap.DefaultKey || configuration.Discovery.Key != hotswap.DefaultKey {
		t.Error("default key not used")
	}
	if configuration.Discovery.Identity == "" {
		t.Error("agent identity not generated")
	}
	if configuration.Platform != DefaultPlatform() {
		t.Error("unexpected default platform:", configuration.Platform)
	}
	if configuration.StandaloneInhibit {
		t.Error("standalone inhibited by default")
	}
	if len(configuration.Directories) != 0 {
		t.Error("unexpected directories:", configuration.Directories)
	}
}

func TestNewConfigurationOverrides(t *testing.T) {
	configuration, err := NewConfiguration(map[string]string{
		EnvironmentHost:              "192.168.1.10",
		EnvironmentKey:               "secret",
		EnvironmentWorkspace:         "/work",
		EnvironmentDirectories:       "a, b,,c ",
		EnvironmentStandaloneInhibit: "1",
	})
	if err != nil {
		t.Fatal("unable to create configuration:", err)
	}
	if configuration.Discovery.Host != "192.168.1.10" || configuration.Discovery.Port != 0 {
		t.Error("unexpected host override:", configuration.Discovery.Host, configuration.Discovery.Port)
	}
	if configuration.Key != "secret" || configuration.Discovery.Key != "secret" {
		t.Error("key override not applied")
	}
	if configuration.ProjectRoot != "/work" {
		t.Error("workspace override not applied:", configuration.ProjectRoot)
	}
	if !reflect.DeepEqual(configuration.Directories, []string{"a", "b", "c"}) {
		t.Error("unexpected directories:", configuration.Directories)
	}
	if !configuration.StandaloneInhibit {
		t.Error("standalone inhibit not applied")
	}
}

func TestNewConfigurationHostPort(t *testing.T) {
	configuration, err := NewConfiguration(map[string]string{EnvironmentHost: "example.com:9000"})
	if err != nil {
		t.Fatal("unable to create configuration:", err)
	}
	if configuration.Discovery.Host != "example.com" || configuration.Discovery.Port != 9000 {
		t.Error("unexpected host override:", configuration.Discovery.Host, configuration.Discovery.Port)
	}
	if _, err := NewConfiguration(map[string]string{EnvironmentHost: "example.com:http"}); err == nil {
		t.Error("invalid port accepted")
	}
}

func TestLoadConfigurationEnvironmentFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hotswap.env")
	contents := "INJECTION_KEY=from-file\nINJECTION_DIRECTORIES=Sources\n"
	if err := os.WriteFile(path, []byte(contents), 0600); err != nil {
		t.Fatal("unable to write environment file:", err)
	}
	t.Setenv(EnvironmentFile, path)
	t.Setenv(EnvironmentDirectories, "Override")

	configuration, err := LoadConfiguration()
	if err != nil {
		t.Fatal("unable to load configuration:", err)
	}
	if configuration.Key != "from-file" {
		t.Error("environment file not applied:", configuration.Key)
	}
	if !reflect.DeepEqual(configuration.Directories, []string{"Override"}) {
		t.Error("process environment did not take precedence:", configuration.Directories)
	}
}
