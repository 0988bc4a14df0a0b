package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadConfig(t *testing.T) {
	testCases := []struct {
		name     string
		contents string
		env      string
		want     func(t *testing.T, conf Config)
		wantErr  bool
	}{
		{
			name: "override sections",
			contents: `
environment = "production"
log_directory = "/var/log/file-drive"
data_directory = "/var/lib/file-drive"

[storage]
type = "filesystem"
max_object_size = "10MiB"

[server]
address = "127.0.0.1:9000"
shutdown_timeout = "3s"

[sweep]
interval = "15m"
grace_period = "2h"
batch_size = 10
`,
			want: func(t *testing.T, conf Config) {
				assert.Equal(t, EnvironmentProduction, conf.Environment)
				assert.Equal(t, ByteSize(10*1024*1024), conf.Storage.MaxObjectSize)
				assert.Equal(t, "127.0.0.1:9000", conf.Server.Address)
				assert.Equal(t, "X-Owner-ID", conf.Server.OwnerHeader)
				assert.Equal(t, 3*time.Second, conf.Server.ShutdownTimeout)
				assert.Equal(t, 15*time.Minute, conf.Sweep.Interval)
				assert.Equal(t, 2*time.Hour, conf.Sweep.GracePeriod)
				assert.Equal(t, 10, conf.Sweep.BatchSize)
				assert.Equal(t, "/var/lib/file-drive/production_v1.sqlite", conf.Database.SQLite.Path)
				assert.Equal(t, "/var/lib/file-drive/blobs", conf.Storage.Filesystem.Root)
			},
		},
		{
			name: "environment variable wins",
			contents: `
environment = "production"
`,
			env: "development",
			want: func(t *testing.T, conf Config) {
				assert.Equal(t, EnvironmentDevelopment, conf.Environment)
			},
		},
		{
			name: "postgres without host",
			contents: `
[database]
type = "postgres"
`,
			wantErr: true,
		},
		{
			name: "s3 without bucket",
			contents: `
[storage]
type = "s3"
`,
			wantErr: true,
		},
		{
			name: "unknown environment",
			contents: `
environment = "staging"
`,
			wantErr: true,
		},
		{
			name: "shortest grace period",
			contents: `
[sweep]
grace_period = "1m"
`,
			want: func(t *testing.T, conf Config) {
				assert.Equal(t, time.Minute, conf.Sweep.GracePeriod)
			},
		},
		{
			// a blob can be listed before its node is inserted
			name: "zero grace period",
			contents: `
[sweep]
grace_period = "0s"
`,
			wantErr: true,
		},
		{
			name: "malformed size",
			contents: `
[storage]
max_object_size = "lots"
`,
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(EnvironmentVariable, tc.env)

			configPath := filepath.Join(t.TempDir(), "config.toml")
			require.NoError(t, os.WriteFile(configPath, []byte(tc.contents), 0644))

			got, gotErr := ReadConfig(configPath)
			if tc.wantErr {
				assert.Error(t, gotErr)
				return
			}
			require.NoError(t, gotErr)
			tc.want(t, got)
		})
	}
}

func TestReadConfig_missingExplicitFile(t *testing.T) {
	_, err := ReadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestEnsureDirectories(t *testing.T) {
	conf := Default(t.TempDir())
	conf.ApplyDefaults()

	require.NoError(t, EnsureDirectories(conf))
	for _, directory := range []string{conf.LogDirectory, conf.DataDirectory, conf.Storage.Filesystem.Root} {
		info, err := os.Stat(directory)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
