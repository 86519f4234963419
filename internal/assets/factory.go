package assets

import (
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"

	"github.com/gaia-review/gaia/internal/conf"
	"github.com/gaia-review/gaia/internal/errors"
)

// NewListerFromSettings builds the configured backend. It returns nil when
// the backend is "none" or empty.
func NewListerFromSettings(settings *conf.AssetSettings) (Lister, error) {
	var (
		l   Lister
		err error
	)
	switch strings.ToLower(settings.Backend) {
	case "", "none":
		return nil, nil
	case "local":
		l = NewLocalStore(afero.NewOsFs(), settings.Local.Root)
	case "sftp":
		l = NewSFTPStore(settings.SFTP)
	case "ftp":
		l = NewFTPStore(settings.FTP)
	case "azure":
		l, err = NewAzureStore(settings.Azure)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.Newf("unsupported asset backend %q", settings.Backend).
			Component("assets").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return RateLimited(l, settings.RateLimit), nil
}

// NewCacheFromSettings returns a redis cache when enabled, otherwise an
// in-memory one.
func NewCacheFromSettings(settings *conf.AssetSettings) Cache {
	if settings.Redis.Enabled && settings.Redis.Addr != "" {
		return NewRedisCache(redis.NewClient(&redis.Options{
			Addr:     settings.Redis.Addr,
			Password: settings.Redis.Password,
			DB:       settings.Redis.DB,
		}))
	}
	ttl := settings.CacheTTL
	if ttl <= 0 {
		ttl = conf.DefaultAssetCacheTTL
	}
	return NewMemoryCache(ttl)
}
