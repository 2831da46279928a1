package gcsusage

import (
	"context"

	"cloud.google.com/go/storage"
)

// ObjectSizer measures the total byte size of objects under a bucket prefix.
type ObjectSizer interface {
	PrefixBytes(ctx context.Context, bucketName, prefix string) (int64, error)
}

// Service is the concrete ObjectSizer backed by Cloud Storage. It holds a
// shared client to avoid creating a new connection for each prefix.
type Service struct {
	client *storage.Client
}

var _ ObjectSizer = (*Service)(nil)

// NewService creates a Service with a shared Cloud Storage client.
func NewService(ctx context.Context) (*Service, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &Service{client: client}, nil
}

// Close closes the Cloud Storage client connection.
func (s *Service) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// PrefixBytes delegates to PrefixBytesWithClient with the shared client.
func (s *Service) PrefixBytes(ctx context.Context, bucketName, prefix string) (int64, error) {
	return PrefixBytesWithClient(ctx, s.client, bucketName, prefix)
}
