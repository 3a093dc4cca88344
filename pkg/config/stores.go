package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/nfs3gw/internal/logger"
	"github.com/marmos91/nfs3gw/pkg/store"
	contentfs "github.com/marmos91/nfs3gw/pkg/store/content/fs"
	contentmemory "github.com/marmos91/nfs3gw/pkg/store/content/memory"
	contents3 "github.com/marmos91/nfs3gw/pkg/store/content/s3"
	"github.com/marmos91/nfs3gw/pkg/store/metadata/badger"
	metadatamemory "github.com/marmos91/nfs3gw/pkg/store/metadata/memory"
	"github.com/mitchellh/mapstructure"
)

// s3Options is the s3 section of the content store configuration.
type s3Options struct {
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	KeyPrefix       string `mapstructure:"key_prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	MaxRetries      int    `mapstructure:"max_retries"`
}

// CreateFileSystem builds the backing store described by cfg. The caller
// owns the result and must Close it.
func CreateFileSystem(ctx context.Context, cfg *Config) (*store.FileSystem, error) {
	meta, err := CreateMetadataStore(ctx, &cfg.Store.Metadata)
	if err != nil {
		return nil, err
	}

	content, err := CreateContentStore(ctx, &cfg.Store.Content)
	if err != nil {
		_ = meta.Close()
		return nil, err
	}

	fs, err := store.New(ctx, meta, content, store.Config{
		Capacity:   cfg.Store.Capacity,
		MaxObjects: cfg.NFS.MaxObjects,
		ReadOnly:   cfg.Store.ReadOnly,
		RootOwner:  cfg.Store.Root.Owner,
		RootGroup:  cfg.Store.Root.Group,
		RootMode:   cfg.Store.Root.Mode,
	})
	if err != nil {
		_ = meta.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	logger.Info("Store ready: metadata=%s content=%s", cfg.Store.Metadata.Type, cfg.Store.Content.Type)
	return fs, nil
}

// CreateMetadataStore creates a metadata store based on configuration.
//
// Supported types:
//   - "memory": in-process, lost on restart
//   - "badger": BadgerDB on local disk
func CreateMetadataStore(ctx context.Context, cfg *MetadataConfig) (store.MetadataStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "memory":
		return metadatamemory.New(), nil
	case "badger":
		return createBadgerMetadataStore(ctx, cfg.Badger)
	default:
		return nil, fmt.Errorf("unknown metadata store type: %q (supported: memory, badger)", cfg.Type)
	}
}

// createBadgerMetadataStore creates a BadgerDB metadata store.
func createBadgerMetadataStore(ctx context.Context, options map[string]any) (store.MetadataStore, error) {
	var badgerCfg badger.Config
	if err := mapstructure.Decode(options, &badgerCfg); err != nil {
		return nil, fmt.Errorf("failed to decode badger metadata store config: %w", err)
	}

	if badgerCfg.DBPath == "" {
		return nil, fmt.Errorf("badger metadata store: db_path is required")
	}

	meta, err := badger.Open(ctx, badgerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	return meta, nil
}

// CreateContentStore creates a content store based on configuration.
//
// Supported types:
//   - "filesystem": one file per content id under a base directory
//   - "memory": in-process, optionally capped
//   - "s3": one object per content id in an S3 or compatible bucket
func CreateContentStore(ctx context.Context, cfg *ContentConfig) (store.ContentStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "filesystem":
		return createFilesystemContentStore(ctx, cfg.Filesystem)
	case "memory":
		return createMemoryContentStore(cfg.Memory)
	case "s3":
		return createS3ContentStore(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown content store type: %q", cfg.Type)
	}
}

// createFilesystemContentStore creates a filesystem-backed content store.
func createFilesystemContentStore(ctx context.Context, options map[string]any) (store.ContentStore, error) {
	var fsCfg struct {
		Path string `mapstructure:"path"`
	}
	if err := mapstructure.Decode(options, &fsCfg); err != nil {
		return nil, fmt.Errorf("failed to decode filesystem content store config: %w", err)
	}

	if fsCfg.Path == "" {
		return nil, fmt.Errorf("filesystem content store: path is required")
	}

	content, err := contentfs.New(ctx, fsCfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem content store: %w", err)
	}

	return content, nil
}

// createMemoryContentStore creates an in-memory content store.
func createMemoryContentStore(options map[string]any) (store.ContentStore, error) {
	var memCfg struct {
		MaxSizeBytes uint64 `mapstructure:"max_size_bytes"`
	}
	if err := mapstructure.Decode(options, &memCfg); err != nil {
		return nil, fmt.Errorf("failed to decode memory content store config: %w", err)
	}

	return contentmemory.New(memCfg.MaxSizeBytes), nil
}

// createS3ContentStore creates an S3-backed content store.
func createS3ContentStore(ctx context.Context, options map[string]any) (store.ContentStore, error) {
	var opts s3Options
	if err := mapstructure.Decode(options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode S3 content store config: %w", err)
	}

	if opts.Bucket == "" {
		return nil, fmt.Errorf("S3 content store: bucket is required")
	}
	if opts.Region == "" {
		return nil, fmt.Errorf("S3 content store: region is required")
	}

	client, err := newS3Client(ctx, opts)
	if err != nil {
		return nil, err
	}

	content, err := contents3.New(ctx, contents3.Config{
		Client:    client,
		Bucket:    opts.Bucket,
		KeyPrefix: opts.KeyPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 content store: %w", err)
	}

	logger.Info("S3 content store initialized: bucket=%s, region=%s, prefix=%s",
		opts.Bucket, opts.Region, opts.KeyPrefix)

	return content, nil
}

// newS3Client builds an S3 client from the default AWS credential chain,
// overridden by static keys and a custom endpoint when configured.
func newS3Client(ctx context.Context, opts s3Options) (*s3.Client, error) {
	configOptions := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(opts.Region),
	}

	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	// Transient 5xx and timeouts are common on S3-compatible backends.
	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			// MinIO and Localstack need path-style addressing
			o.UsePathStyle = true
		}
		if opts.ForcePathStyle {
			o.UsePathStyle = true
		}
	}), nil
}
