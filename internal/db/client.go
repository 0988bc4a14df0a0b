package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/michael-freling/file-drive/internal/config"
	slogGorm "github.com/orandin/slog-gorm"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite" // Sqlite driver based on CGO
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

type Client struct {
	connection *gorm.DB
	dialect    Dialect
}

type clientOptions struct {
	gormLogger   logger.Interface
	nowFunc      func() time.Time
	maxOpenConns int
	maxIdleConns int
}

type ClientOption func(*clientOptions)

func WithNopLogger() ClientOption {
	return func(c *clientOptions) {
		c.gormLogger = logger.New(nil, logger.Config{})
	}
}

func WithGormLogger(l *slog.Logger) ClientOption {
	return func(c *clientOptions) {
		c.gormLogger = slogGorm.New(
			slogGorm.WithHandler(l.Handler()),
			slogGorm.WithTraceAll(), // trace all messages
		)
	}
}

// WithNowFunc sets the clock used for created_at and updated_at.
func WithNowFunc(nowFunc func() time.Time) ClientOption {
	return func(c *clientOptions) {
		c.nowFunc = nowFunc
	}
}

// WithPool sizes the connection pool. It is ignored for sqlite, which always
// uses a single connection.
func WithPool(maxOpenConns, maxIdleConns int) ClientOption {
	return func(c *clientOptions) {
		c.maxOpenConns = maxOpenConns
		c.maxIdleConns = maxIdleConns
	}
}

type DSN string

// DSNFromFilePath returns a DSN for an sqlite database file.
func DSNFromFilePath(path string) DSN {
	return DSN(
		fmt.Sprintf("file:%s?cache=shared&_foreign_keys=1&_busy_timeout=5000&_journal_mode=WAL", path),
	)
}

// DSNMemory returns a DSN for a named in-memory sqlite database, so that
// every test can have its own database.
func DSNMemory(name string) DSN {
	return DSN(
		fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", name),
	)
}

func (dsn DSN) String() string {
	return string(dsn)
}

func FromConfig(conf config.Config, logger *slog.Logger) (*Client, error) {
	options := []ClientOption{WithNopLogger()}
	if conf.Environment == config.EnvironmentDevelopment {
		options = []ClientOption{WithGormLogger(logger)}
	}

	switch conf.Database.Type {
	case config.DatabaseTypePostgres:
		postgresConf := conf.Database.Postgres
		logger.Info("Connecting to a DB",
			"type", conf.Database.Type,
			"host", postgresConf.Host,
			"database", postgresConf.Database,
		)
		options = append(options, WithPool(postgresConf.MaxOpenConns, postgresConf.MaxIdleConns))
		return NewClient(DialectPostgres, DSN(postgresConf.DSN()), options...)
	default:
		dbFile := DSNFromFilePath(conf.Database.SQLite.Path)
		logger.Info("Connecting to a DB", "type", conf.Database.Type, "dbFile", dbFile)
		return NewClient(DialectSQLite, dbFile, options...)
	}
}

func NewClient(dialect Dialect, dsn DSN, options ...ClientOption) (*Client, error) {
	opts := clientOptions{
		nowFunc: func() time.Time {
			// postgres keeps microseconds
			return time.Now().UTC().Truncate(time.Microsecond)
		},
	}
	for _, option := range options {
		option(&opts)
	}

	var dialector gorm.Dialector
	switch dialect {
	case DialectSQLite:
		dialector = sqlite.Open(dsn.String())
	case DialectPostgres:
		dialector = postgres.Open(dsn.String())
	default:
		return nil, fmt.Errorf("unknown dialect %q", dialect)
	}

	connection, err := gorm.Open(dialector, &gorm.Config{
		Logger:         opts.gormLogger,
		NowFunc:        opts.nowFunc,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("gorm.Open: %w", err)
	}

	sqlDB, err := connection.DB()
	if err != nil {
		return nil, fmt.Errorf("connection.DB: %w", err)
	}
	if dialect == DialectSQLite {
		// Writers are serialized by the single connection, which is what
		// keeps overlapping tree operations from interleaving.
		sqlDB.SetMaxOpenConns(1)
	} else {
		if opts.maxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(opts.maxOpenConns)
		}
		if opts.maxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(opts.maxIdleConns)
		}
	}

	return &Client{
		connection: connection,
		dialect:    dialect,
	}, nil
}

func (client *Client) Dialect() Dialect {
	return client.dialect
}

func (client *Client) Close() error {
	sqlDB, err := client.connection.DB()
	if err != nil {
		return fmt.Errorf("connection.DB: %w", err)
	}
	return sqlDB.Close()
}

func (client *Client) Ping(ctx context.Context) error {
	sqlDB, err := client.connection.DB()
	if err != nil {
		return fmt.Errorf("connection.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

func (client *Client) Migrate() error {
	if err := client.connection.AutoMigrate(
		&Node{},
	); err != nil {
		return fmt.Errorf("AutoMigrate: %w", err)
	}
	return nil
}

func (client *Client) Node() *NodeClient {
	return &NodeClient{
		client: client,
	}
}

func GetAll[Model any](client *Client) ([]Model, error) {
	var values []Model
	err := client.connection.Find(&values).Error
	return values, err
}

func BatchCreate[Model any](client *Client, values []Model) error {
	return client.connection.Create(values).Error
}
