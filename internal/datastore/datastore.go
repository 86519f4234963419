// Package datastore persists points of interest, annotations and fishnet
// cells, and implements the compare-and-set locking the review engine relies
// on.
package datastore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gaia-review/gaia/internal/conf"
	"github.com/gaia-review/gaia/internal/datastore/entities"
	"github.com/gaia-review/gaia/internal/errors"
	"github.com/gaia-review/gaia/internal/logger"
	"github.com/gaia-review/gaia/internal/observability/metrics"
)

// Dialect names as reported by gorm dialectors.
const (
	DialectSQLite   = "sqlite"
	DialectMySQL    = "mysql"
	DialectPostgres = "postgres"
)

const defaultBusyRetries = 3

// Store owns the database handle and hands out repositories.
type Store struct {
	base
	pois  *POIRepository
	cells *CellRepository
}

// base carries what every repository needs. Repositories bound to a
// transaction get a copy with db replaced.
type base struct {
	db          *gorm.DB
	dialect     string
	log         logger.Logger
	metrics     *metrics.DatastoreMetrics
	busyRetries int
	now         func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the datastore logger.
func WithLogger(log logger.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetrics enables datastore metrics.
func WithMetrics(m *metrics.DatastoreMetrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// WithBusyRetries sets how often a busy or deadlocked statement is retried.
func WithBusyRetries(n int) Option {
	return func(s *Store) {
		if n >= 0 {
			s.busyRetries = n
		}
	}
}

// WithClock overrides the time source used for lock and review timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open connects to the configured backend. Schema migration is separate,
// see Migrate.
func Open(settings *conf.DatabaseSettings, opts ...Option) (*Store, error) {
	s := newStore(opts...)

	dialector, err := dialectorFor(settings)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.NewGormLoggerAdapter(s.log, settings.SlowQueryThreshold),
		TranslateError: true,
	})
	if err != nil {
		return nil, dbError(err, "open", errors.PriorityCritical, "type", settings.Type)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, dbError(err, "open", errors.PriorityCritical, "type", settings.Type)
	}

	// Configure connection pool
	switch db.Dialector.Name() {
	case DialectSQLite:
		// one writer connection; transactions queue in the pool instead of
		// failing with SQLITE_BUSY
		sqlDB.SetMaxOpenConns(1)
	default:
		maxOpen := settings.MaxOpenConns
		if maxOpen <= 0 {
			maxOpen = 10
		}
		sqlDB.SetMaxOpenConns(maxOpen)
		sqlDB.SetMaxIdleConns(maxOpen)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	s.bind(db)
	s.log.Info("database opened",
		logger.String("type", s.dialect),
		logger.String("location", location(settings)))
	return s, nil
}

// New wraps an existing gorm handle.
func New(db *gorm.DB, opts ...Option) *Store {
	s := newStore(opts...)
	s.bind(db)
	return s
}

func newStore(opts ...Option) *Store {
	s := &Store{
		base: base{
			log:         logger.Global().Module("datastore"),
			busyRetries: defaultBusyRetries,
			now:         time.Now,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) bind(db *gorm.DB) {
	s.db = db
	s.dialect = db.Dialector.Name()
	s.pois = &POIRepository{base: s.base}
	s.cells = &CellRepository{base: s.base}
}

func dialectorFor(settings *conf.DatabaseSettings) (gorm.Dialector, error) {
	switch strings.ToLower(settings.Type) {
	case "", DialectSQLite:
		return sqlite.Open(sqliteDSN(settings.SQLite)), nil

	case DialectMySQL:
		cfg := mysql.NewConfig()
		cfg.User = settings.MySQL.Username
		cfg.Passwd = settings.MySQL.Password
		cfg.Net = "tcp"
		cfg.Addr = fmt.Sprintf("%s:%d", settings.MySQL.Host, settings.MySQL.Port)
		cfg.DBName = settings.MySQL.Database
		cfg.ParseTime = true
		cfg.Loc = time.UTC
		cfg.Params = map[string]string{"charset": "utf8mb4"}
		return gormmysql.Open(cfg.FormatDSN()), nil

	case DialectPostgres:
		return postgres.Open(settings.Postgres.DSN), nil

	default:
		return nil, errors.Newf("unsupported database type %q", settings.Type).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// sqliteDSN builds a mattn/go-sqlite3 DSN. Transactions begin IMMEDIATE so a
// read-then-write transaction never has to upgrade its lock.
func sqliteDSN(settings conf.SQLiteSettings) string {
	path := settings.Path
	if path == "" {
		path = ":memory:"
	}
	busy := settings.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	return fmt.Sprintf("%s?_txlock=immediate&_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on",
		path, busy.Milliseconds())
}

func location(settings *conf.DatabaseSettings) string {
	switch strings.ToLower(settings.Type) {
	case DialectMySQL:
		return fmt.Sprintf("%s:%d/%s", settings.MySQL.Host, settings.MySQL.Port, settings.MySQL.Database)
	case DialectPostgres:
		return "postgres"
	default:
		return settings.SQLite.Path
	}
}

// Migrate creates or updates the schema.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(entities.All()...); err != nil {
		return dbError(err, "migrate", errors.PriorityCritical)
	}
	return nil
}

// DefaultTargets are the species offered for animal classifications.
var DefaultTargets = []entities.Target{
	{Code: "southern_right_whale", Label: "Southern right whale"},
	{Code: "north_atlantic_right_whale", Label: "North Atlantic right whale"},
	{Code: "humpback_whale", Label: "Humpback whale"},
	{Code: "fin_whale", Label: "Fin whale"},
	{Code: "gray_whale", Label: "Gray whale"},
	{Code: "sperm_whale", Label: "Sperm whale"},
	{Code: "unknown_whale", Label: "Unknown whale"},
}

// DefaultConfidences are the certainty levels a reviewer can choose.
var DefaultConfidences = []entities.Confidence{
	{Code: "low", Label: "Low", Rank: 1},
	{Code: "medium", Label: "Medium", Rank: 2},
	{Code: "high", Label: "High", Rank: 3},
}

// Seed inserts the default lookup rows, leaving existing rows untouched.
func (s *Store) Seed(ctx context.Context) error {
	insert := func(rows any) error {
		return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(rows).Error
	}

	targets := append([]entities.Target(nil), DefaultTargets...)
	if err := insert(&targets); err != nil {
		return dbError(err, "seed", errors.PriorityHigh, "table", "targets")
	}
	confidences := append([]entities.Confidence(nil), DefaultConfidences...)
	if err := insert(&confidences); err != nil {
		return dbError(err, "seed", errors.PriorityHigh, "table", "confidences")
	}
	return nil
}

// Targets lists the target species.
func (s *Store) Targets(ctx context.Context) ([]entities.Target, error) {
	var targets []entities.Target
	if err := s.db.WithContext(ctx).Order("id").Find(&targets).Error; err != nil {
		return nil, dbError(err, "list_targets", errors.PriorityLow)
	}
	return targets, nil
}

// Confidences lists the confidence levels ordered by rank.
func (s *Store) Confidences(ctx context.Context) ([]entities.Confidence, error) {
	var levels []entities.Confidence
	if err := s.db.WithContext(ctx).Order("sort_order").Find(&levels).Error; err != nil {
		return nil, dbError(err, "list_confidences", errors.PriorityLow)
	}
	return levels, nil
}

// Ping checks the connection and refreshes pool gauges.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return dbError(err, "ping", errors.PriorityHigh)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return dbError(err, "ping", errors.PriorityHigh)
	}
	if s.metrics != nil {
		stats := sqlDB.Stats()
		s.metrics.UpdateConnectionMetrics(stats.OpenConnections, stats.Idle)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DB returns the gorm handle.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Dialect returns the backend name.
func (s *Store) Dialect() string {
	return s.dialect
}

// POIs returns the point of interest repository.
func (s *Store) POIs() *POIRepository {
	return s.pois
}

// Cells returns the fishnet cell repository.
func (s *Store) Cells() *CellRepository {
	return s.cells
}

// serverLocks reports whether the backend supports row locks.
func (b *base) serverLocks() bool {
	return b.dialect == DialectMySQL || b.dialect == DialectPostgres
}

// observe records the outcome and latency of one repository operation.
func (b *base) observe(operation, table string, start time.Time, err error) {
	if b.metrics == nil {
		return
	}
	b.metrics.RecordDbOperationDuration(operation, table, time.Since(start).Seconds())
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		b.metrics.RecordDbOperation(operation, table, metrics.LabelError)
		b.metrics.RecordDbOperationError(operation, table, errorType(err))
		return
	}
	b.metrics.RecordDbOperation(operation, table, metrics.LabelSuccess)
}

// transaction runs fn in a database transaction, retrying the whole
// transaction on busy errors.
func (b *base) transaction(ctx context.Context, operation string, fn func(tx *gorm.DB) error) error {
	return b.withBusyRetry(ctx, operation, func() error {
		err := b.db.WithContext(ctx).Transaction(fn)
		if b.metrics != nil {
			if err != nil {
				b.metrics.RecordTransaction(metrics.LabelRollback)
			} else {
				b.metrics.RecordTransaction(metrics.LabelCommitted)
			}
		}
		return err
	})
}

// bound returns a copy of b using tx.
func (b base) bound(tx *gorm.DB) base {
	b.db = tx
	return b
}

// forUpdate adds a row lock on backends that have one.
func (b *base) forUpdate(db *gorm.DB) *gorm.DB {
	if !b.serverLocks() {
		return db
	}
	return db.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
}
