package uploads

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ArtifactFetcher relays a completed job's generated-text artifact out
// of the object store on demand. The core never persists artifact
// content itself (spec.md §1's Non-goal), only the object-store key --
// this type is the read side of that split, mirroring Minter as the
// write side.
type ArtifactFetcher struct {
	client *s3.Client
	bucket string
}

func NewArtifactFetcher(client *s3.Client, bucket string) *ArtifactFetcher {
	return &ArtifactFetcher{client: client, bucket: bucket}
}

// Fetch downloads the object at key and returns its body decoded as
// UTF-8 text, matching the plain-text artifact format the worker
// writes per spec.md §4.9.
func (f *ArtifactFetcher) Fetch(ctx context.Context, key string) (string, error) {
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("failed to fetch artifact %q: %w", key, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read artifact %q: %w", key, err)
	}
	return string(body), nil
}
