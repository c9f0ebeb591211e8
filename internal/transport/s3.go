// Package transport moves input and output artifacts between local disk
// and S3-compatible object storage. Inputs are fully downloaded before a
// run opens them; outputs are uploaded only after being fully
// materialized locally, so the remote destination never holds a partial
// document.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStore is the narrow storage surface the pipeline depends on.
type ObjectStore interface {
	GetObject(ctx context.Context, bucket, key string) ([]byte, error)
	PutObject(ctx context.Context, bucket, key string, data []byte) error
	ListPrefix(ctx context.Context, bucket, prefix string) ([]string, error)
}

// Config carries S3 connection settings, normally from environment.
type Config struct {
	EndpointURL     string
	Region          string
	UseSSL          bool
	AccessKeyID     string
	SecretAccessKey string
	MaxRetries      int
	RetryBackoff    time.Duration
}

// S3Client implements ObjectStore over the minio-go SDK.
type S3Client struct {
	client  *minio.Client
	retries int
	backoff time.Duration
}

// NewS3Client builds a client from config.
func NewS3Client(cfg Config) (*S3Client, error) {
	if cfg.EndpointURL == "" {
		return nil, wrapError(CodeEndpointUnreachable, false, fmt.Errorf("endpoint URL is required"))
	}
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, wrapError(CodeAuthInvalid, false, fmt.Errorf("credentials are required"))
	}

	u, err := url.Parse(cfg.EndpointURL)
	if err != nil {
		return nil, wrapError(CodeEndpointUnreachable, false, fmt.Errorf("invalid endpoint URL: %w", err))
	}
	endpoint := u.Host
	if endpoint == "" {
		endpoint = cfg.EndpointURL
	}
	useSSL := cfg.UseSSL || u.Scheme == "https"

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, wrapError(CodeEndpointUnreachable, false, err)
	}

	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	return &S3Client{client: client, retries: retries, backoff: backoff}, nil
}

func (s *S3Client) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	var data []byte
	err := s.withRetry(ctx, func() error {
		obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
		if err != nil {
			return classifyError(err)
		}
		defer obj.Close()
		b, err := io.ReadAll(obj)
		if err != nil {
			return classifyError(err)
		}
		data = b
		return nil
	})
	return data, err
}

func (s *S3Client) PutObject(ctx context.Context, bucket, key string, data []byte) error {
	return s.withRetry(ctx, func() error {
		r := strings.NewReader(string(data))
		_, err := s.client.PutObject(ctx, bucket, key, r, int64(len(data)), minio.PutObjectOptions{
			ContentType: "application/xml",
		})
		if err != nil {
			return classifyError(err)
		}
		return nil
	})
}

func (s *S3Client) ListPrefix(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	err := s.withRetry(ctx, func() error {
		keys = keys[:0]
		ch := s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
			Prefix:    prefix,
			Recursive: true,
		})
		for obj := range ch {
			if obj.Err != nil {
				return classifyError(obj.Err)
			}
			keys = append(keys, obj.Key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// withRetry retries retryable failures with flat backoff; context
// cancellation wins immediately.
func (s *S3Client) withRetry(ctx context.Context, op func() error) error {
	var last error
	for attempt := 0; attempt < s.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := op()
		if err == nil {
			return nil
		}
		last = err
		te, ok := err.(*Error)
		if !ok || !te.Retryable {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.backoff):
		}
	}
	return last
}

// ParseURI splits s3://bucket/prefix (minio:// accepted) into bucket and
// key prefix.
func ParseURI(raw string) (bucket, prefix string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid storage URI %q: %w", raw, err)
	}
	switch u.Scheme {
	case "s3", "minio":
	default:
		return "", "", fmt.Errorf("storage URI %q must use the s3:// or minio:// scheme", raw)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("storage URI %q has no bucket", raw)
	}
	return u.Host, strings.Trim(u.Path, "/"), nil
}

// DownloadPrefix mirrors every object under the prefix into destDir,
// preserving relative paths, and returns the local file paths in key
// order.
func DownloadPrefix(ctx context.Context, store ObjectStore, bucket, prefix, destDir string) ([]string, error) {
	keys, err := store.ListPrefix(ctx, bucket, prefix)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, wrapError(CodeObjectNotFound, false, fmt.Errorf("no objects under s3://%s/%s", bucket, prefix))
	}
	var files []string
	for _, key := range keys {
		data, err := store.GetObject(ctx, bucket, key)
		if err != nil {
			return nil, err
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(key, prefix), "/")
		if rel == "" {
			rel = path.Base(key)
		}
		local := filepath.Join(destDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(local, data, 0o644); err != nil {
			return nil, err
		}
		files = append(files, local)
	}
	return files, nil
}

// UploadFile puts one fully-written local file at the destination key.
func UploadFile(ctx context.Context, store ObjectStore, bucket, key, localPath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	return store.PutObject(ctx, bucket, key, data)
}

// classifyError converts minio-go errors into coded transport errors.
func classifyError(err error) *Error {
	if err == nil {
		return nil
	}
	if resp, ok := err.(minio.ErrorResponse); ok {
		switch resp.Code {
		case "NoSuchBucket":
			return wrapError(CodeBucketNotFound, false, err)
		case "NoSuchKey":
			return wrapError(CodeObjectNotFound, false, err)
		case "AccessDenied":
			return wrapError(CodePermissionDenied, false, err)
		case "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return wrapError(CodeAuthInvalid, false, err)
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no such bucket"):
		return wrapError(CodeBucketNotFound, false, err)
	case strings.Contains(msg, "not found"), strings.Contains(msg, "does not exist"):
		return wrapError(CodeObjectNotFound, false, err)
	case strings.Contains(msg, "access denied"), strings.Contains(msg, "permission"):
		return wrapError(CodePermissionDenied, false, err)
	case strings.Contains(msg, "signature"), strings.Contains(msg, "authentication"):
		return wrapError(CodeAuthInvalid, false, err)
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return wrapError(CodeTimeout, true, err)
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"), strings.Contains(msg, "unreachable"):
		return wrapError(CodeEndpointUnreachable, true, err)
	}
	return wrapError(CodeTransferFailed, true, err)
}
