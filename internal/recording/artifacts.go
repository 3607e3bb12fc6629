package recording

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ArtifactStore persists finalized recording blobs.
type ArtifactStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// S3Config holds object storage settings. AccessKey and SecretKey are the
// MinIO-style static credentials; BaseEndpoint overrides the AWS endpoint
// for self-hosted storage.
type S3Config struct {
	Bucket       string
	Region       string
	BaseEndpoint string
	AccessKey    string
	SecretKey    string
}

// S3ArtifactStore uploads recordings to an S3-compatible bucket.
type S3ArtifactStore struct {
	client *s3.Client
	bucket string
}

func NewS3ArtifactStore(ctx context.Context, cfg S3Config) (*S3ArtifactStore, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey, cfg.SecretKey, "")))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.BaseEndpoint)
			o.UsePathStyle = true
		}
	})
	return &S3ArtifactStore{client: client, bucket: cfg.Bucket}, nil
}

func (s *S3ArtifactStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// InMemoryArtifactStore is the test implementation.
type InMemoryArtifactStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func NewInMemoryArtifactStore() *InMemoryArtifactStore {
	return &InMemoryArtifactStore{objects: make(map[string][]byte)}
}

func (s *InMemoryArtifactStore) Put(_ context.Context, key string, data []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make([]byte, len(data))
	copy(copied, data)
	s.objects[key] = copied
	return nil
}

// Get returns a stored object, for assertions.
func (s *InMemoryArtifactStore) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	return data, ok
}
