// env.go - environment variable configuration and validation
package conf

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "GAIA_DEBUG", validateEnvBool},
		{"logging.default_level", "GAIA_LOG_LEVEL", nil},

		// Database
		{"database.type", "GAIA_DB_TYPE", validateEnvOneOf("sqlite", "mysql", "postgres")},
		{"database.sqlite.path", "GAIA_SQLITE_PATH", nil},
		{"database.sqlite.busy_timeout", "GAIA_SQLITE_BUSY_TIMEOUT", validateEnvDuration},
		{"database.mysql.host", "GAIA_MYSQL_HOST", nil},
		{"database.mysql.port", "GAIA_MYSQL_PORT", validateEnvPort},
		{"database.mysql.username", "GAIA_MYSQL_USERNAME", nil},
		{"database.mysql.password", "GAIA_MYSQL_PASSWORD", nil},
		{"database.mysql.database", "GAIA_MYSQL_DATABASE", nil},
		{"database.postgres.dsn", "GAIA_POSTGRES_DSN", nil},

		// Review
		{"review.lock_timeout", "GAIA_LOCK_TIMEOUT", validateEnvDuration},

		// Assets
		{"assets.backend", "GAIA_ASSETS_BACKEND", validateEnvOneOf("none", "local", "sftp", "ftp", "azure")},
		{"assets.azure.account", "GAIA_AZURE_ACCOUNT", nil},
		{"assets.azure.container", "GAIA_AZURE_CONTAINER", nil},
		{"assets.azure.sas_token", "GAIA_AZURE_SAS_TOKEN", nil},
		{"assets.sftp.password", "GAIA_SFTP_PASSWORD", nil},
		{"assets.ftp.password", "GAIA_FTP_PASSWORD", nil},
		{"assets.redis.addr", "GAIA_REDIS_ADDR", nil},
		{"assets.redis.password", "GAIA_REDIS_PASSWORD", nil},

		// Events
		{"events.backend", "GAIA_EVENTS_BACKEND", validateEnvOneOf("none", "mqtt", "kafka")},
		{"events.mqtt.password", "GAIA_MQTT_PASSWORD", nil},
		{"events.kafka.brokers", "GAIA_KAFKA_BROKERS", nil},

		{"sentry.dsn", "GAIA_SENTRY_DSN", nil},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars(v *viper.Viper) error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := v.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate == nil {
			continue
		}
		if envValue := os.Getenv(binding.EnvVar); envValue != "" {
			if err := binding.Validate(envValue); err != nil {
				warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("invalid boolean value '%s': must be true/false, 1/0", value)
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	if d < 0 {
		return fmt.Errorf("duration must not be negative, got %s", d)
	}
	return nil
}

func validateEnvPort(value string) error {
	port, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid port: %w", err)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}

func validateEnvOneOf(allowed ...string) func(string) error {
	return func(value string) error {
		if slices.Contains(allowed, strings.ToLower(value)) {
			return nil
		}
		return fmt.Errorf("must be one of: %s", strings.Join(allowed, ", "))
	}
}

// configureEnvironmentVariables sets up environment variable support for Viper.
// Any key may also be set as GAIA_<SECTION>_<KEY>.
func configureEnvironmentVariables(v *viper.Viper) error {
	v.SetEnvPrefix("GAIA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return bindEnvVars(v)
}
