// Package uploads mints pre-signed object-store PUT URLs, per spec.md
// §4.6. The core never writes the artifact itself -- it only signs --
// so this package has no dependency on the object store's actual
// contents, only on its presigning API. Grounded on jordigilh-kubernaut's
// existing aws-sdk-go-v2 dependency family, extended here into
// service/s3 for the presign client the teacher repo has no equivalent
// of.
package uploads

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// PresignTTL is the pre-signed URL's validity window, per spec.md §4.6.
const PresignTTL = time.Hour

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeFilename strips anything but the object key's safe character
// set, preventing path traversal through a crafted filename.
func SanitizeFilename(name string) string {
	name = path.Base(name)
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		name = "upload"
	}
	return name
}

// Minter produces pre-signed PUT URLs keyed uploads/{subject}/{uuid}/{filename}.
type Minter struct {
	presign *s3.PresignClient
	bucket  string
}

func NewMinter(presign *s3.PresignClient, bucket string) *Minter {
	return &Minter{presign: presign, bucket: bucket}
}

// Result carries the signed URL and the eventual object key.
type Result struct {
	URL       string
	Key       string
	ExpiresAt time.Time
}

// Mint signs a PUT URL for subjectID to upload filename of contentType.
// Two calls for distinct filenames always yield distinct keys, since
// each mint draws a fresh random 128-bit segment.
func (m *Minter) Mint(ctx context.Context, subjectID, filename, contentType string) (*Result, error) {
	safeName := SanitizeFilename(filename)
	key := fmt.Sprintf("uploads/%s/%s/%s", subjectID, uuid.New().String(), safeName)

	req, err := m.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(PresignTTL))
	if err != nil {
		return nil, fmt.Errorf("failed to presign upload url: %w", err)
	}

	return &Result{
		URL:       req.URL,
		Key:       key,
		ExpiresAt: time.Now().UTC().Add(PresignTTL),
	}, nil
}
