// Package s3 provides an S3-backed blob client.
//
// Targets map to buckets: the primary target is the main chunk bucket and
// the optional backup target is a second bucket chunks are copied into
// after each send. Blob IDs are "bucket/key" so the read path can stream
// a chunk without knowing which target it was sent to.
package s3

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/marmos91/nebulaftp/pkg/blob"
)

// Config holds configuration for the S3 blob client.
type Config struct {
	// Region is the AWS region (optional, uses SDK default if empty).
	Region string

	// Endpoint is the S3 endpoint URL (optional, for S3-compatible services).
	Endpoint string

	// AccessKey and SecretKey are static credentials. When empty the SDK
	// default credential chain is used.
	AccessKey string
	SecretKey string

	// KeyPrefix is prepended to all chunk keys (e.g., "chunks/").
	// Should end with "/" if non-empty.
	KeyPrefix string

	// ForcePathStyle forces path-style addressing (required for Localstack/MinIO).
	ForcePathStyle bool
}

// Client is an S3-backed implementation of blob.Client.
type Client struct {
	client    *awss3.Client
	keyPrefix string
	seq       atomic.Uint64
}

// New creates a blob client with an existing S3 client.
func New(client *awss3.Client, config Config) *Client {
	return &Client{
		client:    client,
		keyPrefix: config.KeyPrefix,
	}
}

// NewFromConfig creates a blob client by building an S3 client from config.
// This is the preferred constructor when you don't have an existing S3 client.
func NewFromConfig(ctx context.Context, config Config) (*Client, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if config.Region != "" {
		opts = append(opts, awsconfig.WithRegion(config.Region))
	}

	if config.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKey, config.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*awss3.Options)

	if config.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *awss3.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
		})
	}

	if config.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *awss3.Options) {
			o.UsePathStyle = true
		})
	}

	return New(awss3.NewFromConfig(awsCfg, s3Opts...), config), nil
}

// fullKey returns the full S3 key for a chunk name.
func (c *Client) fullKey(chunkName string) string {
	return c.keyPrefix + chunkName
}

// Send uploads one chunk to the target bucket.
func (c *Client) Send(ctx context.Context, target string, r io.Reader, chunkName string) (*blob.Message, error) {
	key := c.fullKey(chunkName)
	_, err := c.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket: aws.String(target),
		Key:    aws.String(key),
		Body:   r,
	})
	if err != nil {
		if isRateLimitError(err) {
			return nil, fmt.Errorf("s3 put object: %w", &blob.RateLimitError{RetryAfter: time.Second})
		}
		return nil, fmt.Errorf("s3 put object: %w", err)
	}

	resp, err := c.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(target),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 head object: %w", err)
	}

	return &blob.Message{
		BlobID: target + "/" + key,
		MsgID:  c.seq.Add(1),
		Size:   aws.ToInt64(resp.ContentLength),
	}, nil
}

// Stream returns the chunk's bytes starting at offset using a range request.
func (c *Client) Stream(ctx context.Context, blobID string, offset int64) (io.ReadCloser, error) {
	bucket, key, err := splitBlobID(blobID)
	if err != nil {
		return nil, err
	}

	input := &awss3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if offset > 0 {
		input.Range = aws.String(fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := c.client.GetObject(ctx, input)
	if err != nil {
		if isNotFoundError(err) {
			return nil, blob.ErrNotFound
		}
		return nil, fmt.Errorf("s3 get object: %w", err)
	}

	return resp.Body, nil
}

// Copy duplicates a stored chunk into the target bucket under the same key.
func (c *Client) Copy(ctx context.Context, blobID, target string) error {
	_, key, err := splitBlobID(blobID)
	if err != nil {
		return err
	}

	_, err = c.client.CopyObject(ctx, &awss3.CopyObjectInput{
		Bucket:     aws.String(target),
		CopySource: aws.String(blobID),
		Key:        aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("s3 copy object: %w", err)
	}

	return nil
}

// Ping verifies the target bucket is accessible.
func (c *Client) Ping(ctx context.Context, target string) error {
	_, err := c.client.HeadBucket(ctx, &awss3.HeadBucketInput{
		Bucket: aws.String(target),
	})
	if err != nil {
		return fmt.Errorf("s3 head bucket %q: %w", target, err)
	}
	return nil
}

func splitBlobID(blobID string) (bucket, key string, err error) {
	bucket, key, ok := strings.Cut(blobID, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("malformed blob ID %q", blobID)
	}
	return bucket, key, nil
}

// isNotFoundError checks if an error is an S3 not found error.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}

	errStr := err.Error()
	return strings.Contains(errStr, "NoSuchKey") ||
		strings.Contains(errStr, "NotFound") ||
		strings.Contains(errStr, "404")
}

// isRateLimitError checks if an error is an S3 throttling error.
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}

	errStr := err.Error()
	return strings.Contains(errStr, "SlowDown") ||
		strings.Contains(errStr, "Throttling") ||
		strings.Contains(errStr, "RequestLimitExceeded")
}

var _ blob.Client = (*Client)(nil)
