package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/frostline/updated/internal/logger"
)

const (
	s3MaxRetries     = 3
	s3InitialBackoff = 200 * time.Millisecond
	s3MaxBackoff     = 5 * time.Second
)

// s3Store stores blobs in an S3 or S3-compatible bucket.
type s3Store struct {
	client  *s3.Client
	bucket  string
	subpath string
}

func newS3Store(ctx context.Context, opts Options) (*s3Store, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &s3Store{client: client, bucket: opts.Bucket, subpath: NormalizeKey(opts.Subpath)}, nil
}

func (s *s3Store) objectKey(key string) string {
	return JoinKey(s.subpath, key)
}

// isRetryableError returns true if the error is transient and the
// operation should be retried.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "Throttling", "ThrottlingException", "RequestThrottled", "SlowDown":
			return true
		case "InternalError", "ServiceUnavailable":
			return true
		case "NoSuchKey", "NotFound", "AccessDenied", "Forbidden", "InvalidRequest":
			return false
		}
	}

	errStr := err.Error()
	return strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "i/o timeout")
}

// isNotFoundError returns true if the error indicates the object doesn't exist.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}

	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound" || code == "404"
	}
	return false
}

func backoffFor(attempt int) time.Duration {
	backoff := s3InitialBackoff
	for i := 0; i < attempt; i++ {
		backoff *= 2
	}
	if backoff > s3MaxBackoff {
		backoff = s3MaxBackoff
	}
	return backoff
}

// withRetry runs op up to s3MaxRetries+1 times with exponential backoff
// on transient failures.
func withRetry(ctx context.Context, name, key string, op func() error) error {
	var lastErr error
	for attempt := 0; attempt <= s3MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := backoffFor(attempt - 1)
			logger.Debug("s3: retrying", "op", name, "key", key, "attempt", attempt, "backoff", backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isRetryableError(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", name, s3MaxRetries+1, lastErr)
}

func (s *s3Store) UploadFile(ctx context.Context, srcPath, dstKey string, progress ProgressFunc) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open source %s: %w", srcPath, err)
	}
	defer f.Close()

	key := s.objectKey(dstKey)
	err = withRetry(ctx, "PutObject", key, func() error {
		if _, err := f.Seek(0, 0); err != nil {
			return err
		}
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   f,
		})
		return err
	})
	if err != nil {
		return err
	}
	progress.report(1.0)
	return nil
}

func (s *s3Store) UploadBuffer(ctx context.Context, data []byte, dstKey string, progress ProgressFunc) error {
	key := s.objectKey(dstKey)
	err := withRetry(ctx, "PutObject", key, func() error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(data),
		})
		return err
	})
	if err != nil {
		return err
	}
	progress.report(1.0)
	return nil
}

func (s *s3Store) DownloadFile(ctx context.Context, srcKey, dstPath string, progress ProgressFunc) error {
	key := s.objectKey(srcKey)

	var out *s3.GetObjectOutput
	err := withRetry(ctx, "GetObject", key, func() error {
		var err error
		out, err = s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		return err
	})
	if err != nil {
		if isNotFoundError(err) {
			return fmt.Errorf("%s: %w", srcKey, ErrNotFound)
		}
		return err
	}
	defer out.Body.Close()

	if err := writeAtomic(dstPath, out.Body); err != nil {
		return err
	}
	progress.report(1.0)
	return nil
}

func (s *s3Store) Delete(ctx context.Context, key string) error {
	objKey := s.objectKey(key)
	return withRetry(ctx, "DeleteObject", objKey, func() error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(objKey),
		})
		return err
	})
}

func (s *s3Store) DeleteFolder(ctx context.Context, prefix string) error {
	keys, err := s.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (s *s3Store) List(ctx context.Context, prefix string) ([]string, error) {
	objPrefix := s.objectKey(prefix)
	if objPrefix != "" && !strings.HasSuffix(objPrefix, "/") {
		objPrefix += "/"
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(objPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects under %s: %w", objPrefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if s.subpath != "" {
				key = strings.TrimPrefix(strings.TrimPrefix(key, s.subpath), "/")
			}
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (s *s3Store) HealthCheck(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return fmt.Errorf("head bucket %s: %w", s.bucket, err)
	}
	return nil
}

func (s *s3Store) Close() error {
	return nil
}
