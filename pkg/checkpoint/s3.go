package checkpoint

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"

	"github.com/charmbracelet/log"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/theapemachine/gridswarm/pkg/errors"
)

type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	Region    string `mapstructure:"region"`
	Secure    bool   `mapstructure:"secure"`
}

/*
S3Store keeps checkpoints in an S3 compatible bucket, optionally below a key
prefix. Any minio or AWS endpoint works.
*/
type S3Store struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewS3Store(cfg S3Config) (*S3Store, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.ErrInvalidConfig.WithMessagef("s3 checkpoint store needs an endpoint and a bucket")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: region,
	})

	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	return &S3Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (store *S3Store) EnsureBucket(ctx context.Context) error {
	exists, err := store.client.BucketExists(ctx, store.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", store.bucket, err)
	}

	if exists {
		return nil
	}

	if err := store.client.MakeBucket(ctx, store.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", store.bucket, err)
	}

	log.Info("checkpoint bucket created", "bucket", store.bucket)
	return nil
}

func (store *S3Store) key(name string) string {
	if store.prefix == "" {
		return name
	}
	return path.Join(store.prefix, name)
}

func (store *S3Store) Put(ctx context.Context, key string, data []byte) error {
	_, err := store.client.PutObject(
		ctx, store.bucket, store.key(key), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"},
	)

	if err != nil {
		log.Error("failed to store checkpoint", "key", key, "error", err)
		return fmt.Errorf("put %s: %w", key, err)
	}

	return nil
}

func (store *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := store.client.GetObject(ctx, store.bucket, store.key(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer obj.Close()

	buf, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, errors.ErrCheckpointNotFound.WithMessagef("checkpoint %s not found in bucket %s", key, store.bucket)
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}

	return buf, nil
}

/*
List walks every object under the prefix and keeps the keys matching
pattern. Keys are returned relative to the prefix, sorted.
*/
func (store *S3Store) List(ctx context.Context, pattern string) ([]string, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("list checkpoints %q: %w", pattern, err)
	}

	var keys []string

	objects := store.client.ListObjects(ctx, store.bucket, minio.ListObjectsOptions{
		Prefix:    store.prefix,
		Recursive: true,
	})

	for object := range objects {
		if object.Err != nil {
			return nil, fmt.Errorf("list bucket %s: %w", store.bucket, object.Err)
		}

		key := object.Key
		if store.prefix != "" {
			key = trimPrefix(key, store.prefix)
		}

		if ok, _ := path.Match(pattern, key); ok {
			keys = append(keys, key)
		}
	}

	sort.Strings(keys)
	return keys, nil
}

func trimPrefix(key, prefix string) string {
	rel := key[min(len(prefix), len(key)):]
	for len(rel) > 0 && rel[0] == '/' {
		rel = rel[1:]
	}
	return rel
}
