package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolvePathPrecedence(t *testing.T) {
	t.Setenv(EnvConfigPath, "/etc/voxrelay/config.yaml")
	explicit := "/tmp/custom.yaml"
	resolved, err := ResolvePath(explicit)
	require.NoError(t, err)
	require.Equal(t, explicit, resolved)

	resolved, err = ResolvePath("")
	require.NoError(t, err)
	require.Equal(t, "/etc/voxrelay/config.yaml", resolved)

	t.Setenv(EnvConfigPath, "")
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	resolved, err = ResolvePath("")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(xdg, "voxrelay", "config.yaml"), resolved)

	t.Setenv("XDG_CONFIG_HOME", "")
	home := t.TempDir()
	t.Setenv("HOME", home)
	resolved, err = ResolvePath("")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, ".config", "voxrelay", "config.yaml"), resolved)
}

// isolateEnv clears every variable Load reads and runs from an empty directory.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{"OPENAI_API_KEY", EnvRealtimeURL, EnvRealtimeModel, EnvBaseURL, EnvConfigPath} {
		t.Setenv(name, "")
	}
	t.Chdir(t.TempDir())
}

func TestLoadMissingConfigUsesDefaultsWithWarning(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), "missing.yaml")

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, path, loaded.Path)
	require.False(t, loaded.Exists)
	require.Equal(t, Default(), loaded.Config)
	require.NotEmpty(t, loaded.Warnings)
	require.Contains(t, loaded.Warnings[0].Message, "not found")
	require.Empty(t, loaded.EnvFile)
}

func TestLoadExistingYAMLParsesAndValidates(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	contents := `
relay:
  listen: "0.0.0.0:4000"
  allowed_origins: ["http://localhost:3000"]
client:
  pipeline: turn
audio:
  input: "Elgato"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.True(t, loaded.Exists)
	require.Equal(t, "0.0.0.0:4000", loaded.Config.Relay.Listen)
	require.Equal(t, []string{"http://localhost:3000"}, loaded.Config.Relay.AllowedOrigins)
	require.Equal(t, PipelineTurn, loaded.Config.Client.Pipeline)
	require.Equal(t, "Elgato", loaded.Config.Audio.Input)
	require.Equal(t, "/realtime-proxy", loaded.Config.Relay.Path, "unset keys keep defaults")
	require.Empty(t, loaded.Warnings)
}

func TestLoadReadsDotEnvWithoutOverridingEnvironment(t *testing.T) {
	isolateEnv(t)
	require.NoError(t, os.WriteFile(DotEnvFile, []byte("OPENAI_API_KEY=sk-from-file\nOPENAI_REALTIME_MODEL=file-model\n"), 0o600))
	// t.Setenv registers cleanup, so unset variables stay scoped to this test.
	t.Setenv("OPENAI_API_KEY", "sk-from-env")
	require.NoError(t, os.Unsetenv("OPENAI_REALTIME_MODEL"))

	loaded, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, DotEnvFile, loaded.EnvFile)
	require.Equal(t, "sk-from-env", loaded.Config.APIKey)
	require.Equal(t, "file-model", loaded.Config.Upstream.Model)
}

func TestLoadParseErrorIncludesPath(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("relay: [unterminated"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "parse config")
	require.Contains(t, err.Error(), path)
}
