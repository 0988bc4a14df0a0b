package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
)

// S3API is the subset of *s3.Client used by S3Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	s3.ListObjectsV2APIClient
}

type S3Config struct {
	Bucket string
	Region string
	// Endpoint is set for S3 compatible services such as MinIO or Localstack.
	Endpoint string
	// KeyPrefix is prepended to every key, e.g. "blobs/".
	KeyPrefix       string
	ForcePathStyle  bool
	AccessKeyID     string
	SecretAccessKey string
	// MaxObjectSize is unlimited when zero.
	MaxObjectSize int64
}

type S3Store struct {
	client        S3API
	bucket        string
	keyPrefix     string
	maxObjectSize int64

	mu     sync.RWMutex
	closed bool
}

func NewS3Store(client S3API, conf S3Config) *S3Store {
	return &S3Store{
		client:        client,
		bucket:        conf.Bucket,
		keyPrefix:     conf.KeyPrefix,
		maxObjectSize: conf.MaxObjectSize,
	}
}

// NewS3StoreFromConfig creates the S3 client from the default AWS credential
// chain, unless static credentials are configured.
func NewS3StoreFromConfig(ctx context.Context, conf S3Config) (*S3Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if conf.Region != "" {
		opts = append(opts, awsconfig.WithRegion(conf.Region))
	}
	if conf.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(conf.AccessKeyID, conf.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("awsconfig.LoadDefaultConfig: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if conf.Endpoint != "" {
			o.BaseEndpoint = aws.String(conf.Endpoint)
		}
		o.UsePathStyle = conf.ForcePathStyle
	})
	return NewS3Store(client, conf), nil
}

func (store *S3Store) checkOpen() error {
	store.mu.RLock()
	defer store.mu.RUnlock()
	if store.closed {
		return ErrClosed
	}
	return nil
}

func (store *S3Store) objectKey(key string) (string, error) {
	if _, err := uuid.Parse(key); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return store.keyPrefix + key, nil
}

func (store *S3Store) Put(ctx context.Context, reader io.Reader) (string, error) {
	if err := store.checkOpen(); err != nil {
		return "", err
	}

	var buffer bytes.Buffer
	if _, err := io.Copy(&buffer, newLimitReader(reader, store.maxObjectSize)); err != nil {
		return "", fmt.Errorf("io.Copy: %w", err)
	}

	key := uuid.NewString()
	objectKey, err := store.objectKey(key)
	if err != nil {
		return "", err
	}
	_, err = store.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(store.bucket),
		Key:           aws.String(objectKey),
		Body:          bytes.NewReader(buffer.Bytes()),
		ContentLength: aws.Int64(int64(buffer.Len())),
		IfNoneMatch:   aws.String("*"),
	})
	if err != nil {
		return "", fmt.Errorf("s3.PutObject: %w", translateS3Error(err))
	}
	return key, nil
}

func (store *S3Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := store.checkOpen(); err != nil {
		return nil, err
	}
	objectKey, err := store.objectKey(key)
	if err != nil {
		return nil, err
	}

	output, err := store.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(store.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return nil, fmt.Errorf("s3.GetObject: %w", translateS3Error(err))
	}
	return output.Body, nil
}

func (store *S3Store) Remove(ctx context.Context, key string) error {
	if err := store.checkOpen(); err != nil {
		return err
	}
	objectKey, err := store.objectKey(key)
	if err != nil {
		return err
	}

	// DeleteObject succeeds for missing keys
	_, err = store.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(store.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		err = translateS3Error(err)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return fmt.Errorf("s3.DeleteObject: %w", err)
	}
	return nil
}

func (store *S3Store) List(ctx context.Context) ([]ObjectInfo, error) {
	if err := store.checkOpen(); err != nil {
		return nil, err
	}

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(store.bucket),
	}
	if store.keyPrefix != "" {
		input.Prefix = aws.String(store.keyPrefix)
	}

	objects := make([]ObjectInfo, 0)
	paginator := s3.NewListObjectsV2Paginator(store.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("paginator.NextPage: %w", translateS3Error(err))
		}
		for _, object := range page.Contents {
			key := strings.TrimPrefix(aws.ToString(object.Key), store.keyPrefix)
			if _, err := uuid.Parse(key); err != nil {
				continue
			}
			objects = append(objects, ObjectInfo{
				Key:     key,
				Size:    aws.ToInt64(object.Size),
				ModTime: aws.ToTime(object.LastModified),
			})
		}
	}
	return objects, nil
}

func (store *S3Store) Close() error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.closed = true
	return nil
}

func translateS3Error(err error) error {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		case "PreconditionFailed", "ConditionalRequestConflict":
			return fmt.Errorf("%w: %w", ErrKeyExists, err)
		case "EntityTooLarge", "QuotaExceeded":
			return fmt.Errorf("%w: %w", ErrStoreFull, err)
		}
	}
	return err
}
