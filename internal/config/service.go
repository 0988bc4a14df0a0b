package config

import (
	"fmt"
	"os"
)

// EnsureDirectories creates the local directories the configuration points
// at. Remote storage and databases are left alone.
func EnsureDirectories(conf Config) error {
	directories := []string{conf.LogDirectory, conf.DataDirectory}
	if conf.Storage.Type == StorageTypeFilesystem {
		directories = append(directories, conf.Storage.Filesystem.Root)
	}
	for _, directory := range directories {
		if err := os.MkdirAll(directory, 0755); err != nil {
			return fmt.Errorf("os.MkdirAll: %w", err)
		}
	}
	return nil
}
