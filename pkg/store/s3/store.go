// Package s3 implements store.SettingsStore on Amazon S3 or an
// S3-compatible object store.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/ecquota/internal/logger"
	"github.com/marmos91/ecquota/internal/ratelimiter"
	"github.com/marmos91/ecquota/pkg/store"
)

// Client is the subset of the S3 API used by the store. *s3.Client
// implements it.
type Client interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	s3.ListObjectsV2APIClient
}

// S3SettingsStore keeps one JSON object per configured directory.
//
// Key Design:
//   - Directory "/a/b" is stored at "<prefix>dirs/a/b/settings.json"
//   - The root directory is stored at "<prefix>dirs/settings.json"
//   - The bucket mirrors the directory tree, so settings can be inspected
//     with any S3 browser
//
// The object body carries the path as well, and List sorts on it rather
// than on object keys, whose ordering differs from path ordering when
// names contain characters below '/'.
//
// Every S3 request first takes a token from the optional rate limiter, so
// a large List at startup or an audit cannot exceed the request rate the
// bucket is provisioned for.
//
// Thread Safety:
// Safe for concurrent use. Concurrent Puts to the same path are
// last-write-wins.
type S3SettingsStore struct {
	client    Client
	bucket    string
	keyPrefix string
	pageSize  int32
	limiter   *ratelimiter.RateLimiter
	metrics   S3Metrics
	closed    atomic.Bool
}

// S3SettingsStoreConfig contains configuration for the S3 settings store.
type S3SettingsStoreConfig struct {
	// Client is the configured S3 client
	Client Client

	// Bucket is the S3 bucket name. It must already exist.
	Bucket string

	// KeyPrefix is an optional prefix for all object keys
	// Example: "ecquota/" results in keys like "ecquota/dirs/data/settings.json"
	KeyPrefix string

	// ListPageSize is the number of keys requested per List page (default: 1000)
	ListPageSize int32

	// RequestsPerSecond caps the S3 request rate (0 = unlimited)
	RequestsPerSecond uint

	// Burst is the number of requests allowed at once (default: RequestsPerSecond)
	Burst uint

	// Metrics records request latency and outcomes (optional)
	Metrics S3Metrics
}

const (
	dirsPrefix   = "dirs"
	settingsFile = "settings.json"
)

// NewS3SettingsStore creates a store and verifies bucket access.
func NewS3SettingsStore(ctx context.Context, cfg S3SettingsStoreConfig) (*S3SettingsStore, error) {
	// ========================================================================
	// Step 1: Check context before S3 operations
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// ========================================================================
	// Step 2: Validate configuration
	// ========================================================================

	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	pageSize := cfg.ListPageSize
	if pageSize == 0 {
		pageSize = 1000
	}
	if pageSize < 0 || pageSize > 1000 {
		return nil, fmt.Errorf("list page size must be between 1 and 1000, got %d", pageSize)
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}

	s := &S3SettingsStore{
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		pageSize:  pageSize,
		limiter:   ratelimiter.New(cfg.RequestsPerSecond, cfg.Burst),
		metrics:   metrics,
	}

	// ========================================================================
	// Step 3: Verify bucket access
	// ========================================================================

	if err := s.throttle(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	_, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	})
	s.metrics.ObserveOperation("HeadBucket", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	return s, nil
}

// objectKey returns the S3 key holding the settings of a cleaned path.
func (s *S3SettingsStore) objectKey(path string) string {
	dir := dirsPrefix + path
	if path == "/" {
		dir = dirsPrefix
	}
	return s.keyPrefix + strings.TrimSuffix(dir, "/") + "/" + settingsFile
}

func (s *S3SettingsStore) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return store.ErrClosed
	}
	return nil
}

// throttle waits for a rate limiter token.
func (s *S3SettingsStore) throttle(ctx context.Context) error {
	if s.limiter == nil {
		return ctx.Err()
	}
	start := time.Now()
	err := s.limiter.Wait(ctx)
	s.metrics.ObserveThrottle(time.Since(start))
	return err
}

// Put implements store.SettingsStore.
func (s *S3SettingsStore) Put(ctx context.Context, settings store.DirectorySettings) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	settings.Path = store.CleanPath(settings.Path)
	body, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings for %s: %w", settings.Path, err)
	}

	if err := s.throttle(ctx); err != nil {
		return err
	}
	start := time.Now()
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(settings.Path)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	s.metrics.ObserveOperation("PutObject", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to put settings for %s: %w", settings.Path, err)
	}
	s.metrics.RecordBytes("write", int64(len(body)))
	return nil
}

// Get implements store.SettingsStore.
func (s *S3SettingsStore) Get(ctx context.Context, path string) (store.DirectorySettings, error) {
	if err := s.check(ctx); err != nil {
		return store.DirectorySettings{}, err
	}
	return s.read(ctx, s.objectKey(store.CleanPath(path)))
}

func (s *S3SettingsStore) read(ctx context.Context, key string) (store.DirectorySettings, error) {
	if err := s.throttle(ctx); err != nil {
		return store.DirectorySettings{}, err
	}
	start := time.Now()
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		s.metrics.ObserveOperation("GetObject", time.Since(start), err)
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return store.DirectorySettings{}, store.ErrNotFound
		}
		return store.DirectorySettings{}, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer result.Body.Close()

	body, err := io.ReadAll(result.Body)
	s.metrics.ObserveOperation("GetObject", time.Since(start), err)
	if err != nil {
		return store.DirectorySettings{}, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	s.metrics.RecordBytes("read", int64(len(body)))

	var settings store.DirectorySettings
	if err := json.Unmarshal(body, &settings); err != nil {
		return store.DirectorySettings{}, fmt.Errorf("failed to decode object %s: %w", key, err)
	}
	settings.Path = store.CleanPath(settings.Path)
	return settings, nil
}

// Delete implements store.SettingsStore. S3 deletes are idempotent.
func (s *S3SettingsStore) Delete(ctx context.Context, path string) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	key := s.objectKey(store.CleanPath(path))
	if err := s.throttle(ctx); err != nil {
		return err
	}
	start := time.Now()
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	s.metrics.ObserveOperation("DeleteObject", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

// List implements store.SettingsStore.
func (s *S3SettingsStore) List(ctx context.Context) ([]store.DirectorySettings, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(s.keyPrefix + dirsPrefix + "/"),
		MaxKeys: aws.Int32(s.pageSize),
	})

	var out []store.DirectorySettings
	for paginator.HasMorePages() {
		if err := s.throttle(ctx); err != nil {
			return nil, err
		}
		start := time.Now()
		page, err := paginator.NextPage(ctx)
		s.metrics.ObserveOperation("ListObjectsV2", time.Since(start), err)
		if err != nil {
			return nil, fmt.Errorf("failed to list settings: %w", err)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !strings.HasSuffix(key, "/"+settingsFile) {
				continue
			}

			settings, err := s.read(ctx, key)
			if errors.Is(err, store.ErrNotFound) {
				// Deleted between list and read
				continue
			}
			if err != nil {
				return nil, err
			}
			out = append(out, settings)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	logger.Debug("Listed %d directory settings from s3://%s/%s", len(out), s.bucket, s.keyPrefix)
	return out, nil
}

// Healthcheck implements store.SettingsStore.
func (s *S3SettingsStore) Healthcheck(ctx context.Context) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	if err := s.throttle(ctx); err != nil {
		return err
	}
	start := time.Now()
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	s.metrics.ObserveOperation("HeadBucket", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("healthcheck failed: %w", err)
	}
	return nil
}

// Close implements store.SettingsStore. The S3 client holds no resources
// that need releasing.
func (s *S3SettingsStore) Close() error {
	s.closed.Store(true)
	return nil
}
