package blob

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/michael-freling/file-drive/internal/config"
	"github.com/spf13/afero"
)

func FromConfig(ctx context.Context, conf config.Config, logger *slog.Logger) (Store, error) {
	maxObjectSize := int64(conf.Storage.MaxObjectSize)

	switch conf.Storage.Type {
	case config.StorageTypeS3:
		s3Conf := conf.Storage.S3
		logger.Info("Using S3 blob store",
			"bucket", s3Conf.Bucket,
			"endpoint", s3Conf.Endpoint,
			"keyPrefix", s3Conf.KeyPrefix,
		)
		store, err := NewS3StoreFromConfig(ctx, S3Config{
			Bucket:          s3Conf.Bucket,
			Region:          s3Conf.Region,
			Endpoint:        s3Conf.Endpoint,
			KeyPrefix:       s3Conf.KeyPrefix,
			ForcePathStyle:  s3Conf.ForcePathStyle,
			AccessKeyID:     s3Conf.AccessKeyID,
			SecretAccessKey: s3Conf.SecretAccessKey,
			MaxObjectSize:   maxObjectSize,
		})
		if err != nil {
			return nil, fmt.Errorf("NewS3StoreFromConfig: %w", err)
		}
		return store, nil
	default:
		logger.Info("Using filesystem blob store", "root", conf.Storage.Filesystem.Root)
		store, err := NewFilesystemStore(afero.NewOsFs(), FilesystemConfig{
			Root:          conf.Storage.Filesystem.Root,
			MaxObjectSize: maxObjectSize,
		})
		if err != nil {
			return nil, fmt.Errorf("NewFilesystemStore: %w", err)
		}
		return store, nil
	}
}
