package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/docker/go-units"
	"github.com/go-playground/validator/v10"
)

const (
	applicationName = "file-drive"

	// EnvironmentVariable overrides the environment from the config file.
	EnvironmentVariable = "FILE_DRIVE_ENV"
)

// Default returns a configuration that keeps everything under baseDirectory.
func Default(baseDirectory string) Config {
	return Config{
		Environment:   EnvironmentDevelopment,
		LogDirectory:  filepath.Join(baseDirectory, "logs"),
		DataDirectory: filepath.Join(baseDirectory, "data"),
		Database: Database{
			Type: DatabaseTypeSQLite,
			Postgres: Postgres{
				Port:         5432,
				SSLMode:      "disable",
				MaxOpenConns: 25,
				MaxIdleConns: 5,
			},
		},
		Storage: Storage{
			Type:          StorageTypeFilesystem,
			MaxObjectSize: 100 * units.MiB,
		},
		Server: Server{
			Address:         ":8080",
			OwnerHeader:     "X-Owner-ID",
			ShutdownTimeout: 10 * time.Second,
		},
		Tree: Tree{
			BlobRemovalConcurrency: 8,
		},
		Sweep: Sweep{
			Enabled:     true,
			Interval:    time.Hour,
			GracePeriod: 24 * time.Hour,
			BatchSize:   500,
		},
		Metrics: Metrics{
			Enabled: true,
		},
	}
}

// ReadConfig reads a TOML file on top of the defaults. An empty configPath
// reads ~/.config/file-drive/default.toml, which may be absent.
func ReadConfig(configPath string) (Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf("os.UserHomeDir: %w", err)
	}
	configDir := filepath.Join(homeDir, ".config", applicationName)
	conf := Default(configDir)

	optional := configPath == ""
	if optional {
		configPath = filepath.Join(configDir, "default.toml")
	}

	file, err := os.Open(configPath)
	if errors.Is(err, fs.ErrNotExist) && optional {
		return finalize(conf)
	}
	if err != nil {
		return Config{}, fmt.Errorf("os.Open: %w", err)
	}
	defer file.Close()

	contents, err := io.ReadAll(file)
	if err != nil {
		return Config{}, fmt.Errorf("io.ReadAll: %w", err)
	}
	if _, err := toml.Decode(string(contents), &conf); err != nil {
		return Config{}, fmt.Errorf("toml.Decode: %w", err)
	}
	return finalize(conf)
}

func finalize(conf Config) (Config, error) {
	if env := os.Getenv(EnvironmentVariable); env != "" {
		conf.Environment = Environment(env)
	}
	conf.ApplyDefaults()
	if err := conf.Validate(); err != nil {
		return Config{}, fmt.Errorf("conf.Validate: %w", err)
	}
	return conf, nil
}

// ApplyDefaults fills paths that are derived from other settings.
func (conf *Config) ApplyDefaults() {
	if conf.Database.SQLite.Path == "" {
		conf.Database.SQLite.Path = filepath.Join(
			conf.DataDirectory,
			fmt.Sprintf("%s_v1.sqlite", conf.Environment),
		)
	}
	if conf.Storage.Filesystem.Root == "" {
		conf.Storage.Filesystem.Root = filepath.Join(conf.DataDirectory, "blobs")
	}
}

func (conf Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(conf); err != nil {
		return fmt.Errorf("validate.Struct: %w", err)
	}

	switch conf.Database.Type {
	case DatabaseTypeSQLite:
		if conf.Database.SQLite.Path == "" {
			return errors.New("database.sqlite.path is required")
		}
	case DatabaseTypePostgres:
		postgres := conf.Database.Postgres
		if postgres.Host == "" || postgres.Database == "" || postgres.User == "" {
			return errors.New("database.postgres requires host, database and user")
		}
	}

	switch conf.Storage.Type {
	case StorageTypeFilesystem:
		if conf.Storage.Filesystem.Root == "" {
			return errors.New("storage.filesystem.root is required")
		}
	case StorageTypeS3:
		if conf.Storage.S3.Bucket == "" {
			return errors.New("storage.s3.bucket is required")
		}
	}
	return nil
}
