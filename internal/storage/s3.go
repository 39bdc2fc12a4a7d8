package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config holds the configuration for S3 staging.
type S3Config struct {
	Bucket          string
	Region          string
	Prefix          string // Optional: key prefix the worker writes under
	Endpoint        string // Optional: for custom S3-compatible endpoints
	AccessKeyID     string // Optional: AWS access key ID
	SecretAccessKey string // Optional: AWS secret access key
}

// Compile-time check that S3Staging implements Staging.
var _ Staging = (*S3Staging)(nil)

// S3Staging reads worker output from a bucket. Objects are copied into a
// local directory on Open, since uploads need a seekable file.
type S3Staging struct {
	local  *LocalStaging
	client *s3.Client
	bucket string
	prefix string

	mu     sync.Mutex
	copies map[string]string
}

// NewS3Staging creates a new S3Staging instance.
// The tempDir parameter specifies where local copies are kept.
func NewS3Staging(ctx context.Context, tempDir string, cfg S3Config) (*S3Staging, error) {
	local, err := NewLocalStaging(tempDir)
	if err != nil {
		return nil, err
	}

	var configOpts []func(*config.LoadOptions) error
	configOpts = append(configOpts, config.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Staging{
		local:  local,
		client: s3.NewFromConfig(awsCfg, clientOpts...),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		copies: make(map[string]string),
	}, nil
}

// Open downloads the object into a local file and returns it positioned at
// the start.
func (s *S3Staging) Open(ctx context.Context, name string) (*os.File, error) {
	if _, err := s.local.resolve(name); err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", ErrNotStaged, name)
		}
		return nil, fmt.Errorf("get staged object: %w", err)
	}
	defer func() { _ = out.Body.Close() }()

	f, err := os.CreateTemp(s.local.Dir(), "staged-*"+path.Ext(name))
	if err != nil {
		return nil, fmt.Errorf("create local copy: %w", err)
	}
	if _, err := io.Copy(f, out.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("copy staged object: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("rewind local copy: %w", err)
	}

	s.mu.Lock()
	if prev, ok := s.copies[name]; ok {
		_ = os.Remove(prev)
	}
	s.copies[name] = f.Name()
	s.mu.Unlock()
	return f, nil
}

// Remove deletes the object and its local copy.
func (s *S3Staging) Remove(ctx context.Context, name string) error {
	if _, err := s.local.resolve(name); err != nil {
		return err
	}

	s.mu.Lock()
	localCopy, ok := s.copies[name]
	delete(s.copies, name)
	s.mu.Unlock()
	if ok {
		_ = os.Remove(localCopy)
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		return fmt.Errorf("delete staged object: %w", err)
	}
	return nil
}

func (s *S3Staging) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}
