// Package s3 implements a VisitStore on an S3-compatible object store (AWS S3
// or MinIO). Each identifier maps to a single JSON object under a key prefix.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"visitmap/pkg/domain"
)

var (
	_ domain.VisitStore   = (*Store)(nil)
	_ domain.VisitLister  = (*Store)(nil)
	_ domain.VisitDeleter = (*Store)(nil)
)

const (
	// DefaultPrefix is prepended to every object key unless overridden.
	DefaultPrefix = "visits/"
	defaultRegion = "us-east-1"
	objectSuffix  = ".json"
	// maxWriteAttempts bounds the optimistic read-modify-write loop in Update.
	maxWriteAttempts = 3
)

// ErrWriteConflict is returned when a conditional write keeps losing to
// concurrent writers.
var ErrWriteConflict = errors.New("s3: concurrent write conflict")

// Store persists visit records as S3 objects.
type Store struct {
	mu     sync.Mutex
	client *s3.Client
	bucket string
	prefix string
}

// Config holds explicit construction parameters (mostly for tests). For prod
// we rely primarily on environment variables.
type Config struct {
	Region          string
	Bucket          string
	Prefix          string
	Endpoint        string // optional; if set enables custom endpoint (e.g. MinIO)
	AccessKeyID     string // optional (falls back to default credentials chain)
	SecretAccessKey string
	SessionToken    string
	PathStyle       bool
	HTTPClient      *http.Client
}

// Environment variables:
//   VISITMAP_S3_BUCKET=<bucket> (required)
//   VISITMAP_S3_REGION=<region> (default us-east-1)
//   VISITMAP_S3_ENDPOINT=<url> (optional, for MinIO)
//   VISITMAP_S3_PATH_STYLE=true|false (default false)
//   VISITMAP_S3_PREFIX=<prefix> (default visits/)
//   AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY / AWS_SESSION_TOKEN (optional)

// New creates an S3-backed store from Config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.HTTPClient != nil {
			o.HTTPClient = cfg.HTTPClient
		}
	})
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, bucket: cfg.Bucket, prefix: prefix}, nil
}

// OpenFromEnv constructs an S3 store from process environment.
func OpenFromEnv(ctx context.Context) (*Store, error) {
	bucket := os.Getenv("VISITMAP_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("VISITMAP_S3_BUCKET required for s3 driver")
	}
	cfg := Config{
		Bucket:    bucket,
		Region:    os.Getenv("VISITMAP_S3_REGION"),
		Endpoint:  os.Getenv("VISITMAP_S3_ENDPOINT"),
		Prefix:    os.Getenv("VISITMAP_S3_PREFIX"),
		PathStyle: strings.EqualFold(os.Getenv("VISITMAP_S3_PATH_STYLE"), "true"),
	}
	return New(ctx, cfg)
}

// Driver returns the storage driver identifier.
func (s *Store) Driver() domain.StorageDriver { return domain.StorageS3 }

// Bucket reports the configured bucket.
func (s *Store) Bucket() string { return s.bucket }

// KeyFor returns the object key holding id's record.
func (s *Store) KeyFor(id string) (string, error) {
	if strings.TrimSpace(id) == "" {
		return "", fmt.Errorf("%w: empty id", domain.ErrInvalidInput)
	}
	return s.prefix + url.PathEscape(id) + objectSuffix, nil
}

// Get loads the record for id.
func (s *Store) Get(ctx context.Context, id string) (domain.VisitRecord, error) {
	key, err := s.KeyFor(id)
	if err != nil {
		return nil, err
	}
	rec, _, found, err := s.read(ctx, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domain.ErrNotFound{ID: id}
	}
	return rec, nil
}

func (s *Store) read(ctx context.Context, key string) (domain.VisitRecord, string, bool, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		if isNotFound(err) {
			return domain.NewVisitRecord(), "", false, nil
		}
		return nil, "", false, fmt.Errorf("get object %s: %w", key, err)
	}
	defer func() { _ = out.Body.Close() }()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", false, fmt.Errorf("read object %s: %w", key, err)
	}
	rec, _, err := domain.DecodeRecord(data)
	if err != nil {
		return nil, "", false, fmt.Errorf("decode object %s: %w", key, err)
	}
	return rec, aws.ToString(out.ETag), true, nil
}

// Update reads the current object, applies fn and writes the result with a
// conditional put. A lost race re-reads and retries a bounded number of times.
func (s *Store) Update(ctx context.Context, id string, fn domain.UpdateFunc) (domain.VisitRecord, error) {
	key, err := s.KeyFor(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		current, etag, exists, err := s.read(ctx, key)
		if err != nil {
			return nil, err
		}
		next, err := fn(current, exists)
		if err != nil {
			return nil, err
		}
		next = next.Compact()
		data, err := domain.EncodeRecord(next)
		if err != nil {
			return nil, err
		}
		input := &s3.PutObjectInput{
			Bucket:      &s.bucket,
			Key:         &key,
			Body:        bytes.NewReader(data),
			ContentType: aws.String("application/json"),
		}
		if exists && etag != "" {
			input.IfMatch = aws.String(etag)
		} else if !exists {
			input.IfNoneMatch = aws.String("*")
		}
		if _, err := s.client.PutObject(ctx, input); err != nil {
			if isConflict(err) {
				continue
			}
			return nil, fmt.Errorf("put object %s: %w", key, err)
		}
		return next, nil
	}
	return nil, fmt.Errorf("%w for %s", ErrWriteConflict, id)
}

// Delete removes the object for id. S3 deletes are idempotent, so a HEAD
// request first tells a missing object apart.
func (s *Store) Delete(ctx context.Context, id string) error {
	key, err := s.KeyFor(id)
	if err != nil {
		return err
	}
	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &key}); err != nil {
		if isNotFound(err) {
			return domain.ErrNotFound{ID: id}
		}
		return fmt.Errorf("head object %s: %w", key, err)
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &s.bucket, Key: &key}); err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

// List returns the identifiers stored under the key prefix in lexical order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	var ids []string
	pages := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{Bucket: &s.bucket, Prefix: &s.prefix})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects %s: %w", s.prefix, err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix)
			if strings.Contains(name, "/") || !strings.HasSuffix(name, objectSuffix) {
				continue
			}
			id, err := url.PathUnescape(strings.TrimSuffix(name, objectSuffix))
			if err != nil {
				continue
			}
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}

func isConflict(err error) bool {
	var re *awshttp.ResponseError
	if !errors.As(err, &re) {
		return false
	}
	code := re.HTTPStatusCode()
	return code == http.StatusPreconditionFailed || code == http.StatusConflict
}
