package config

import (
	"fmt"
	"time"

	"github.com/docker/go-units"
)

type Environment string

const (
	EnvironmentDevelopment Environment = "development"
	EnvironmentProduction  Environment = "production"
)

type Config struct {
	Environment   Environment `toml:"environment" validate:"required,oneof=development production"`
	LogDirectory  string      `toml:"log_directory" validate:"required"`
	DataDirectory string      `toml:"data_directory" validate:"required"`

	Database Database `toml:"database"`
	Storage  Storage  `toml:"storage"`
	Server   Server   `toml:"server"`
	Tree     Tree     `toml:"tree"`
	Sweep    Sweep    `toml:"sweep"`
	Metrics  Metrics  `toml:"metrics"`
}

type DatabaseType string

const (
	DatabaseTypeSQLite   DatabaseType = "sqlite"
	DatabaseTypePostgres DatabaseType = "postgres"
)

type Database struct {
	Type     DatabaseType `toml:"type" validate:"required,oneof=sqlite postgres"`
	SQLite   SQLite       `toml:"sqlite"`
	Postgres Postgres     `toml:"postgres"`
}

type SQLite struct {
	// Path defaults to <data_directory>/<environment>_v1.sqlite
	Path string `toml:"path"`
}

type Postgres struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port" validate:"omitempty,min=1,max=65535"`
	Database     string `toml:"database"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	SSLMode      string `toml:"ssl_mode" validate:"omitempty,oneof=disable require verify-ca verify-full"`
	MaxOpenConns int    `toml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns int    `toml:"max_idle_conns" validate:"gte=0"`
}

func (conf Postgres) DSN() string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
		conf.Host, conf.Port, conf.User, conf.Password, conf.Database)
	if conf.SSLMode != "" {
		dsn += " sslmode=" + conf.SSLMode
	}
	return dsn
}

type StorageType string

const (
	StorageTypeFilesystem StorageType = "filesystem"
	StorageTypeS3         StorageType = "s3"
)

type Storage struct {
	Type          StorageType `toml:"type" validate:"required,oneof=filesystem s3"`
	MaxObjectSize ByteSize    `toml:"max_object_size" validate:"gt=0"`
	Filesystem    Filesystem  `toml:"filesystem"`
	S3            S3          `toml:"s3"`
}

type Filesystem struct {
	// Root defaults to <data_directory>/blobs
	Root string `toml:"root"`
}

type S3 struct {
	Bucket          string `toml:"bucket"`
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint"`
	KeyPrefix       string `toml:"key_prefix"`
	ForcePathStyle  bool   `toml:"force_path_style"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
}

type Server struct {
	Address         string        `toml:"address" validate:"required"`
	OwnerHeader     string        `toml:"owner_header" validate:"required"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout" validate:"gt=0"`
}

type Tree struct {
	BlobRemovalConcurrency int `toml:"blob_removal_concurrency" validate:"min=1"`
}

type Sweep struct {
	Enabled     bool          `toml:"enabled"`
	Interval    time.Duration `toml:"interval" validate:"gt=0"`
	GracePeriod time.Duration `toml:"grace_period" validate:"min=1m"`
	BatchSize   int           `toml:"batch_size" validate:"min=1"`
	DryRun      bool          `toml:"dry_run"`
}

type Metrics struct {
	Enabled bool `toml:"enabled"`
}

// ByteSize is a size in bytes that decodes from strings such as "100MiB".
type ByteSize int64

func (size *ByteSize) UnmarshalText(text []byte) error {
	value, err := units.RAMInBytes(string(text))
	if err != nil {
		return fmt.Errorf("units.RAMInBytes: %w", err)
	}
	*size = ByteSize(value)
	return nil
}

func (size ByteSize) String() string {
	return units.BytesSize(float64(size))
}
