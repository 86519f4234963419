package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/gaia-review/gaia/internal/errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadEmbeddedDefaults(t *testing.T) {
	path := writeConfig(t, string(DefaultConfigYAML()))

	settings, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", settings.Database.Type)
	assert.Equal(t, 5*time.Second, settings.Database.SQLite.BusyTimeout)
	assert.Equal(t, DefaultQuorum, settings.Review.Quorum)
	assert.Equal(t, DefaultCellQuorum, settings.Review.CellQuorum)
	assert.Equal(t, 30*time.Minute, settings.Review.LockTimeout)
	assert.InDelta(t, DefaultCellWidth, settings.Fishnet.CellWidth, 0)
	assert.InDelta(t, DefaultCellHeight, settings.Fishnet.CellHeight, 0)
	assert.Equal(t, "rectangle", settings.Fishnet.Shape)
	assert.Equal(t, DefaultAssetPrefix, settings.Assets.Prefix)
	assert.Equal(t, DefaultAssetCacheTTL, settings.Assets.CacheTTL)
	assert.Equal(t, byte(1), settings.Events.MQTT.QoS)
	require.NotNil(t, settings.Logging.Console)
	assert.True(t, settings.Logging.Console.Enabled)
	assert.Same(t, settings, GetSettings())
}

func TestDefaultsFillMissingKeys(t *testing.T) {
	path := writeConfig(t, "fishnet:\n  shape: hexagon\n")

	settings, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "hexagon", settings.Fishnet.Shape)
	assert.InDelta(t, DefaultCellWidth, settings.Fishnet.CellWidth, 0)
	assert.Equal(t, DefaultCommentMaxLength, settings.Review.CommentMaxLength)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("GAIA_DB_TYPE", "mysql")
	t.Setenv("GAIA_MYSQL_PASSWORD", "s3cret")
	t.Setenv("GAIA_LOCK_TIMEOUT", "10m")
	t.Setenv("GAIA_FISHNET_CELL_WIDTH", "250")

	settings, err := Load(writeConfig(t, "debug: false\n"))
	require.NoError(t, err)

	assert.Equal(t, "mysql", settings.Database.Type)
	assert.Equal(t, "s3cret", settings.Database.MySQL.Password)
	assert.Equal(t, 10*time.Minute, settings.Review.LockTimeout)
	assert.InDelta(t, 250.0, settings.Fishnet.CellWidth, 0)
}

func TestInvalidEnvironmentValueFails(t *testing.T) {
	t.Setenv("GAIA_DB_TYPE", "oracle")

	_, err := Load(writeConfig(t, "debug: false\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GAIA_DB_TYPE")
}

func TestValidateSettingsCollectsAllErrors(t *testing.T) {
	t.Parallel()

	settings := &Settings{
		Database: DatabaseSettings{Type: "oracle"},
		Review:   ReviewSettings{Quorum: 0, CellQuorum: 2, CommentMaxLength: 500, CandidatePageSize: 100, LockTimeout: time.Minute},
		Fishnet:  FishnetSettings{CellWidth: 0, CellHeight: 600, Shape: "triangle", Concurrency: 1, Reader: "gdal"},
		Assets:   AssetSettings{Backend: "azure"},
		Events:   EventSettings{Backend: "none"},
	}

	err := ValidateSettings(settings)
	require.Error(t, err)

	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Errors, 5)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestRedactedMasksSecrets(t *testing.T) {
	t.Parallel()

	settings := &Settings{}
	settings.Database.MySQL.Password = "pw"
	settings.Assets.Azure.SASToken = "sv=2022&sig=x"

	redacted := settings.Redacted()
	assert.Equal(t, "********", redacted.Database.MySQL.Password)
	assert.Equal(t, "********", redacted.Assets.Azure.SASToken)
	assert.Equal(t, "pw", settings.Database.MySQL.Password)
	assert.Empty(t, redacted.Events.MQTT.Password)
}

func TestSaveYAMLConfigRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.yaml")
	settings := &Settings{Main: MainSettings{Name: "gaia-test"}}
	settings.Fishnet.Shape = "hexagon"

	require.NoError(t, SaveYAMLConfig(path, settings))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(data, &decoded))
	assert.Equal(t, "gaia-test", decoded["main"].(map[string]any)["name"])
}
