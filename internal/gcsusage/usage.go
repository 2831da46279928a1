// Package gcsusage measures the byte footprint of object prefixes in a
// Cloud Storage bucket, one prefix per organizational unit.
package gcsusage

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// PrefixBytes sums the sizes of all objects under prefix in bucketName.
// It assumes Application Default Credentials are configured.
func PrefixBytes(ctx context.Context, bucketName, prefix string) (int64, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return 0, fmt.Errorf("PrefixBytes: creating storage client: %w", err)
	}
	defer client.Close()

	return PrefixBytesWithClient(ctx, client, bucketName, prefix)
}

// PrefixBytesWithClient sums the sizes of all objects under prefix in
// bucketName using the provided storage client.
func PrefixBytesWithClient(ctx context.Context, client *storage.Client, bucketName, prefix string) (int64, error) {
	it := client.Bucket(bucketName).Objects(ctx, &storage.Query{Prefix: prefix})

	var total int64
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("PrefixBytes: listing gs://%s/%s: %w", bucketName, prefix, err)
		}
		total += attrs.Size
	}

	return total, nil
}
