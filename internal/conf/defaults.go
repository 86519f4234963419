// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Default review and tiling parameters.
const (
	DefaultQuorum           = 3
	DefaultCellQuorum       = 2
	DefaultCommentMaxLength = 500
	DefaultPageSize         = 100
	DefaultCellWidth        = 400.0
	DefaultCellHeight       = 600.0
	DefaultAssetPrefix      = "cogs/"
	DefaultAssetCacheTTL    = 300 * time.Second
)

// setDefaultConfig sets default values for the configuration.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("main.name", "gaia")
	v.SetDefault("main.environment", "development")

	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.path", "logs/gaia.log")
	v.SetDefault("logging.file_output.level", "info")

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.sqlite.path", "gaia.db")
	v.SetDefault("database.sqlite.busy_timeout", 5*time.Second)
	v.SetDefault("database.mysql.host", "localhost")
	v.SetDefault("database.mysql.port", 3306)
	v.SetDefault("database.mysql.username", "gaia")
	v.SetDefault("database.mysql.database", "gaia")
	v.SetDefault("database.slow_query_threshold", 200*time.Millisecond)
	v.SetDefault("database.max_open_conns", 10)

	v.SetDefault("review.quorum", DefaultQuorum)
	v.SetDefault("review.cell_quorum", DefaultCellQuorum)
	v.SetDefault("review.comment_max_length", DefaultCommentMaxLength)
	v.SetDefault("review.candidate_page_size", DefaultPageSize)
	v.SetDefault("review.lock_timeout", 30*time.Minute)
	v.SetDefault("review.reap_interval", 5*time.Minute)
	v.SetDefault("review.require_viewable_asset", true)
	v.SetDefault("review.busy_retries", 3)

	v.SetDefault("fishnet.cell_width", DefaultCellWidth)
	v.SetDefault("fishnet.cell_height", DefaultCellHeight)
	v.SetDefault("fishnet.buffer", 0.0)
	v.SetDefault("fishnet.shape", "rectangle")
	v.SetDefault("fishnet.concurrency", 4)
	v.SetDefault("fishnet.reader", "gdal")
	v.SetDefault("fishnet.output_wgs84", true)
	v.SetDefault("fishnet.gdal.info_path", "gdalinfo")
	v.SetDefault("fishnet.gdal.footprint_path", "gdal_footprint")
	v.SetDefault("fishnet.gdal.timeout", 2*time.Minute)

	v.SetDefault("assets.backend", "none")
	v.SetDefault("assets.prefix", DefaultAssetPrefix)
	v.SetDefault("assets.cache_ttl", DefaultAssetCacheTTL)
	v.SetDefault("assets.rate_limit", 0.0)
	v.SetDefault("assets.sftp.port", 22)
	v.SetDefault("assets.sftp.timeout", 30*time.Second)
	v.SetDefault("assets.ftp.port", 21)
	v.SetDefault("assets.ftp.timeout", 30*time.Second)
	v.SetDefault("assets.azure.timeout", 30*time.Second)
	v.SetDefault("assets.redis.enabled", false)
	v.SetDefault("assets.redis.addr", "localhost:6379")

	v.SetDefault("events.backend", "none")
	v.SetDefault("events.mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("events.mqtt.client_id", "gaia")
	v.SetDefault("events.mqtt.topic", "gaia/source-images")
	v.SetDefault("events.kafka.brokers", "localhost:9092")
	v.SetDefault("events.kafka.topic", "gaia.source-images")

	v.SetDefault("server.listen", ":9090")

	v.SetDefault("sentry.enabled", false)
}
