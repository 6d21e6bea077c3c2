// Package blob archives generated export artifacts to S3-compatible
// object storage.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Archive stores export artifacts in a MinIO/S3 bucket so downloads can
// be re-served without re-rendering. Optional; the server runs without it.
type Archive struct {
	client *minio.Client
	bucket string
}

// NewArchive connects to object storage and ensures the bucket exists.
func NewArchive(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Archive, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object storage: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}

	return &Archive{client: client, bucket: bucket}, nil
}

// ArchiveExport uploads an export artifact. Failures are logged, not
// returned; the export already succeeded from the caller's view.
func (a *Archive) ArchiveExport(ctx context.Context, documentID, filename, mimeType string, data []byte) {
	key := path.Join("exports", documentID, time.Now().UTC().Format("20060102T150405Z")+"-"+filename)
	_, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: mimeType,
	})
	if err != nil {
		log.Printf("blob: archive export %s: %v", key, err)
		return
	}
	log.Printf("blob: archived export %s (%d bytes)", key, len(data))
}
