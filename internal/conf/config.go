// config.go: settings struct for the GAIA review service and functions to load and save it.
package conf

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/gaia-review/gaia/internal/logger"
)

//go:embed config.yaml
var defaultConfigYAML []byte

// MainSettings identifies the deployment.
type MainSettings struct {
	Name        string `yaml:"name" mapstructure:"name"`               // instance name used in logs and events
	Environment string `yaml:"environment" mapstructure:"environment"` // deployment environment tag
}

// SQLiteSettings configures the embedded database.
type SQLiteSettings struct {
	Path        string        `yaml:"path" mapstructure:"path"`                 // database file, ":memory:" for tests
	BusyTimeout time.Duration `yaml:"busy_timeout" mapstructure:"busy_timeout"` // wait for write lock before SQLITE_BUSY
}

// MySQLSettings configures a MySQL / MariaDB server.
type MySQLSettings struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
}

// PostgresSettings configures a PostgreSQL server.
type PostgresSettings struct {
	DSN string `yaml:"dsn" mapstructure:"dsn"` // libpq style connection string
}

// DatabaseSettings selects and configures the store backend.
type DatabaseSettings struct {
	Type               string           `yaml:"type" mapstructure:"type"` // sqlite, mysql or postgres
	SQLite             SQLiteSettings   `yaml:"sqlite" mapstructure:"sqlite"`
	MySQL              MySQLSettings    `yaml:"mysql" mapstructure:"mysql"`
	Postgres           PostgresSettings `yaml:"postgres" mapstructure:"postgres"`
	SlowQueryThreshold time.Duration    `yaml:"slow_query_threshold" mapstructure:"slow_query_threshold"` // 0 disables slow query warnings
	MaxOpenConns       int              `yaml:"max_open_conns" mapstructure:"max_open_conns"`
}

// ReviewSettings controls the assignment engine.
type ReviewSettings struct {
	Quorum               int           `yaml:"quorum" mapstructure:"quorum"`                                 // annotations needed before a POI can be finalised
	CellQuorum           int           `yaml:"cell_quorum" mapstructure:"cell_quorum"`                       // reviews needed before a fishnet cell is done
	CommentMaxLength     int           `yaml:"comment_max_length" mapstructure:"comment_max_length"`         // characters
	CandidatePageSize    int           `yaml:"candidate_page_size" mapstructure:"candidate_page_size"`       // rows fetched per selection round
	LockTimeout          time.Duration `yaml:"lock_timeout" mapstructure:"lock_timeout"`                     // locks older than this are reaped
	ReapInterval         time.Duration `yaml:"reap_interval" mapstructure:"reap_interval"`                   // how often serve runs the reaper
	RequireViewableAsset bool          `yaml:"require_viewable_asset" mapstructure:"require_viewable_asset"` // skip POIs without a COG
	BusyRetries          int           `yaml:"busy_retries" mapstructure:"busy_retries"`                     // retries on SQLITE_BUSY / lock wait timeout
}

// GDALSettings locates the GDAL command line tools.
type GDALSettings struct {
	InfoPath      string        `yaml:"info_path" mapstructure:"info_path"`
	FootprintPath string        `yaml:"footprint_path" mapstructure:"footprint_path"`
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// FishnetSettings holds tiling defaults.
type FishnetSettings struct {
	CellWidth   float64      `yaml:"cell_width" mapstructure:"cell_width"`   // CRS units, x pitch
	CellHeight  float64      `yaml:"cell_height" mapstructure:"cell_height"` // CRS units, y pitch
	Buffer      float64      `yaml:"buffer" mapstructure:"buffer"`           // bounding box expansion
	Shape       string       `yaml:"shape" mapstructure:"shape"`             // rectangle or hexagon
	Concurrency int          `yaml:"concurrency" mapstructure:"concurrency"` // rasters partitioned in parallel
	Reader      string       `yaml:"reader" mapstructure:"reader"`           // gdal or geojson
	OutputWGS84 bool         `yaml:"output_wgs84" mapstructure:"output_wgs84"`
	GDAL        GDALSettings `yaml:"gdal" mapstructure:"gdal"`
}

// LocalStoreSettings is a directory acting as the COG store.
type LocalStoreSettings struct {
	Root string `yaml:"root" mapstructure:"root"`
}

// SFTPStoreSettings is a remote SFTP COG store.
type SFTPStoreSettings struct {
	Host           string        `yaml:"host" mapstructure:"host"`
	Port           int           `yaml:"port" mapstructure:"port"`
	Username       string        `yaml:"username" mapstructure:"username"`
	Password       string        `yaml:"password" mapstructure:"password"`
	KeyFile        string        `yaml:"key_file" mapstructure:"key_file"`
	KnownHostsFile string        `yaml:"known_hosts_file" mapstructure:"known_hosts_file"`
	BasePath       string        `yaml:"base_path" mapstructure:"base_path"`
	Timeout        time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// FTPStoreSettings is a remote FTP COG store.
type FTPStoreSettings struct {
	Host     string        `yaml:"host" mapstructure:"host"`
	Port     int           `yaml:"port" mapstructure:"port"`
	Username string        `yaml:"username" mapstructure:"username"`
	Password string        `yaml:"password" mapstructure:"password"`
	BasePath string        `yaml:"base_path" mapstructure:"base_path"`
	Timeout  time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// AzureStoreSettings is an Azure Blob container listed with a SAS token.
type AzureStoreSettings struct {
	Account   string        `yaml:"account" mapstructure:"account"`
	Container string        `yaml:"container" mapstructure:"container"`
	SASToken  string        `yaml:"sas_token" mapstructure:"sas_token"`
	Endpoint  string        `yaml:"endpoint" mapstructure:"endpoint"` // overrides https://<account>.blob.core.windows.net
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// RedisSettings enables a shared existence cache.
type RedisSettings struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// AssetSettings configures the COG existence check.
type AssetSettings struct {
	Backend   string             `yaml:"backend" mapstructure:"backend"`       // none, local, sftp, ftp or azure
	Prefix    string             `yaml:"prefix" mapstructure:"prefix"`         // listing prefix, "cogs/"
	CacheTTL  time.Duration      `yaml:"cache_ttl" mapstructure:"cache_ttl"`   // existence results lifetime
	RateLimit float64            `yaml:"rate_limit" mapstructure:"rate_limit"` // list calls per second, 0 = unlimited
	Local     LocalStoreSettings `yaml:"local" mapstructure:"local"`
	SFTP      SFTPStoreSettings  `yaml:"sftp" mapstructure:"sftp"`
	FTP       FTPStoreSettings   `yaml:"ftp" mapstructure:"ftp"`
	Azure     AzureStoreSettings `yaml:"azure" mapstructure:"azure"`
	Redis     RedisSettings      `yaml:"redis" mapstructure:"redis"`
}

// MQTTSettings configures the MQTT event publisher.
type MQTTSettings struct {
	Broker   string `yaml:"broker" mapstructure:"broker"`
	ClientID string `yaml:"client_id" mapstructure:"client_id"`
	Topic    string `yaml:"topic" mapstructure:"topic"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	QoS      byte   `yaml:"qos" mapstructure:"qos"`
}

// KafkaSettings configures the Kafka event publisher.
type KafkaSettings struct {
	Brokers string `yaml:"brokers" mapstructure:"brokers"` // comma separated bootstrap servers
	Topic   string `yaml:"topic" mapstructure:"topic"`
}

// EventSettings selects where "source image registered" events go.
type EventSettings struct {
	Backend string        `yaml:"backend" mapstructure:"backend"` // none, mqtt or kafka
	MQTT    MQTTSettings  `yaml:"mqtt" mapstructure:"mqtt"`
	Kafka   KafkaSettings `yaml:"kafka" mapstructure:"kafka"`
}

// ServerSettings configures the metrics and health endpoint.
type ServerSettings struct {
	Listen string `yaml:"listen" mapstructure:"listen"`
}

// SentrySettings configures error telemetry.
type SentrySettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	DSN     string `yaml:"dsn" mapstructure:"dsn"`
}

// Settings contains all configuration options for the service.
type Settings struct {
	Debug    bool                 `yaml:"debug" mapstructure:"debug"`
	Main     MainSettings         `yaml:"main" mapstructure:"main"`
	Logging  logger.LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Database DatabaseSettings     `yaml:"database" mapstructure:"database"`
	Review   ReviewSettings       `yaml:"review" mapstructure:"review"`
	Fishnet  FishnetSettings      `yaml:"fishnet" mapstructure:"fishnet"`
	Assets   AssetSettings        `yaml:"assets" mapstructure:"assets"`
	Events   EventSettings        `yaml:"events" mapstructure:"events"`
	Server   ServerSettings       `yaml:"server" mapstructure:"server"`
	Sentry   SentrySettings       `yaml:"sentry" mapstructure:"sentry"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads configFile (or the first config.yaml on the search path, or the
// embedded defaults), applies environment overrides and validates the result.
func Load(configFile string) (*Settings, error) {
	v := viper.New()

	if err := initViper(v, configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsMutex.Lock()
	settingsInstance = settings
	settingsMutex.Unlock()

	return settings, nil
}

// initViper registers defaults and env bindings and reads the configuration.
func initViper(v *viper.Viper, configFile string) error {
	setDefaultConfig(v)

	if err := configureEnvironmentVariables(v); err != nil {
		return err
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("fatal error reading config file %s: %w", configFile, err)
		}
		return nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, path := range DefaultConfigPaths() {
		v.AddConfigPath(path)
	}

	err := v.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if !errors.As(err, &notFound) {
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	// No config on disk, fall back to the embedded defaults
	return v.ReadConfig(bytes.NewReader(defaultConfigYAML))
}

// DefaultConfigPaths lists the directories searched for config.yaml.
func DefaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "gaia"))
	}
	return append(paths, "/etc/gaia")
}

// DefaultConfigYAML returns the embedded default configuration.
func DefaultConfigYAML() []byte {
	return bytes.Clone(defaultConfigYAML)
}

// GetSettings returns the most recently loaded settings, or nil.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Redacted returns a copy of the settings with secrets masked.
func (s *Settings) Redacted() *Settings {
	c := *s
	mask := func(v *string) {
		if *v != "" {
			*v = "********"
		}
	}
	mask(&c.Database.MySQL.Password)
	mask(&c.Database.Postgres.DSN)
	mask(&c.Assets.SFTP.Password)
	mask(&c.Assets.FTP.Password)
	mask(&c.Assets.Azure.SASToken)
	mask(&c.Assets.Redis.Password)
	mask(&c.Events.MQTT.Password)
	mask(&c.Sentry.DSN)
	return &c
}

// SaveYAMLConfig writes settings to configPath atomically via a temp file.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		return fmt.Errorf("error replacing config file: %w", err)
	}
	return nil
}
