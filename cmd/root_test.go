package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaia-review/gaia/internal/buildinfo"
	"github.com/gaia-review/gaia/internal/conf"
)

func execute(t *testing.T, settings *conf.Settings, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := RootCommand(settings, buildinfo.NewContext("v0.9.0", "", ""))
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionSkipsConfig(t *testing.T) {
	settings := &conf.Settings{}
	out, err := execute(t, settings, "version", "--config", "/does/not/exist.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "gaia v0.9.0")
	assert.Empty(t, settings.Database.Type, "config was not loaded")
}

func TestConfigFileIsLoaded(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := "main:\n  name: test-instance\ndatabase:\n  type: sqlite\n  sqlite:\n    path: " +
		filepath.Join(dir, "gaia.db") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	settings := &conf.Settings{}
	out, err := execute(t, settings, "config", "show", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "test-instance")
	assert.Equal(t, "test-instance", settings.Main.Name)
	assert.Equal(t, 3, settings.Review.Quorum)
}

func TestMissingConfigFileFails(t *testing.T) {
	_, err := execute(t, &conf.Settings{}, "config", "show", "--config", "/does/not/exist.yaml")
	require.Error(t, err)
}
