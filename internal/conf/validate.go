// conf/validate.go

package conf

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gaia-review/gaia/internal/errors"
	"github.com/gaia-review/gaia/internal/logger"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ErrorCategory lets the error builder classify configuration failures.
func (ve ValidationError) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryConfiguration
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	for _, check := range []func(*Settings) []string{
		validateLoggingSettings,
		validateDatabaseSettings,
		validateReviewSettings,
		validateFishnetSettings,
		validateAssetSettings,
		validateEventSettings,
	} {
		ve.Errors = append(ve.Errors, check(settings)...)
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateLoggingSettings(s *Settings) []string {
	var errs []string
	if s.Logging.DefaultLevel != "" && !logger.ValidLevel(s.Logging.DefaultLevel) {
		errs = append(errs, fmt.Sprintf("logging default level %q is not one of trace, debug, info, warn, error", s.Logging.DefaultLevel))
	}
	for module, level := range s.Logging.ModuleLevels {
		if !logger.ValidLevel(level) {
			errs = append(errs, fmt.Sprintf("logging level %q for module %s is invalid", level, module))
		}
	}
	return errs
}

func validateDatabaseSettings(s *Settings) []string {
	var errs []string
	db := &s.Database

	switch strings.ToLower(db.Type) {
	case "sqlite":
		if db.SQLite.Path == "" {
			errs = append(errs, "database.sqlite.path must not be empty")
		}
	case "mysql":
		if db.MySQL.Host == "" || db.MySQL.Database == "" || db.MySQL.Username == "" {
			errs = append(errs, "database.mysql requires host, username and database")
		}
		if db.MySQL.Port < 1 || db.MySQL.Port > 65535 {
			errs = append(errs, "database.mysql.port must be between 1 and 65535")
		}
	case "postgres":
		if db.Postgres.DSN == "" {
			errs = append(errs, "database.postgres.dsn must not be empty")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.type %q must be sqlite, mysql or postgres", db.Type))
	}

	if db.SlowQueryThreshold < 0 {
		errs = append(errs, "database.slow_query_threshold must not be negative")
	}
	return errs
}

func validateReviewSettings(s *Settings) []string {
	var errs []string
	r := &s.Review

	if r.Quorum < 1 {
		errs = append(errs, "review.quorum must be at least 1")
	}
	if r.CellQuorum < 1 {
		errs = append(errs, "review.cell_quorum must be at least 1")
	}
	if r.CommentMaxLength < 1 {
		errs = append(errs, "review.comment_max_length must be positive")
	}
	if r.CandidatePageSize < 1 {
		errs = append(errs, "review.candidate_page_size must be positive")
	}
	if r.LockTimeout <= 0 {
		errs = append(errs, "review.lock_timeout must be positive")
	}
	if r.BusyRetries < 0 {
		errs = append(errs, "review.busy_retries must not be negative")
	}
	return errs
}

func validateFishnetSettings(s *Settings) []string {
	var errs []string
	f := &s.Fishnet

	if f.CellWidth <= 0 || f.CellHeight <= 0 {
		errs = append(errs, "fishnet cell width and height must be positive")
	}
	if f.Buffer < 0 {
		errs = append(errs, "fishnet.buffer must not be negative")
	}
	if !slices.Contains([]string{"rectangle", "hexagon"}, strings.ToLower(f.Shape)) {
		errs = append(errs, fmt.Sprintf("fishnet.shape %q must be rectangle or hexagon", f.Shape))
	}
	if f.Concurrency < 1 {
		errs = append(errs, "fishnet.concurrency must be at least 1")
	}
	if !slices.Contains([]string{"gdal", "geojson"}, strings.ToLower(f.Reader)) {
		errs = append(errs, fmt.Sprintf("fishnet.reader %q must be gdal or geojson", f.Reader))
	}
	return errs
}

func validateAssetSettings(s *Settings) []string {
	var errs []string
	a := &s.Assets

	switch strings.ToLower(a.Backend) {
	case "none":
	case "local":
		if a.Local.Root == "" {
			errs = append(errs, "assets.local.root must be set for the local backend")
		}
	case "sftp":
		if a.SFTP.Host == "" || a.SFTP.Username == "" {
			errs = append(errs, "assets.sftp requires host and username")
		}
		if a.SFTP.Password == "" && a.SFTP.KeyFile == "" {
			errs = append(errs, "assets.sftp requires a password or key_file")
		}
	case "ftp":
		if a.FTP.Host == "" {
			errs = append(errs, "assets.ftp.host must be set")
		}
	case "azure":
		if a.Azure.Container == "" || (a.Azure.Account == "" && a.Azure.Endpoint == "") {
			errs = append(errs, "assets.azure requires container and account or endpoint")
		}
	default:
		errs = append(errs, fmt.Sprintf("assets.backend %q must be none, local, sftp, ftp or azure", a.Backend))
	}

	if a.CacheTTL < 0 {
		errs = append(errs, "assets.cache_ttl must not be negative")
	}
	if a.RateLimit < 0 {
		errs = append(errs, "assets.rate_limit must not be negative")
	}
	if a.Redis.Enabled && a.Redis.Addr == "" {
		errs = append(errs, "assets.redis.addr must be set when redis is enabled")
	}
	return errs
}

func validateEventSettings(s *Settings) []string {
	var errs []string
	e := &s.Events

	switch strings.ToLower(e.Backend) {
	case "none":
	case "mqtt":
		if e.MQTT.Broker == "" || e.MQTT.Topic == "" {
			errs = append(errs, "events.mqtt requires broker and topic")
		}
		if e.MQTT.QoS > 2 {
			errs = append(errs, "events.mqtt.qos must be 0, 1 or 2")
		}
	case "kafka":
		if e.Kafka.Brokers == "" || e.Kafka.Topic == "" {
			errs = append(errs, "events.kafka requires brokers and topic")
		}
	default:
		errs = append(errs, fmt.Sprintf("events.backend %q must be none, mqtt or kafka", e.Backend))
	}
	return errs
}
