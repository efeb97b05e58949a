// Package archive stores immutable build snapshots in S3-compatible
// object storage for long-term retention, independent of the database.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"bagofwords/api/internal/store"
)

// Snapshot is the archived representation of one build.
type Snapshot struct {
	BuildID        string               `json:"buildId"`
	OrganizationID string               `json:"organizationId"`
	BuildNumber    int                  `json:"buildNumber"`
	Status         string               `json:"status"`
	ArchivedAt     time.Time            `json:"archivedAt"`
	Contents       []store.BuildContent `json:"contents"`
}

type Service struct {
	client *minio.Client
	bucket string
}

// New connects to the object store and ensures the bucket exists.
func New(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Service, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to object store: %w", err)
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

	return &Service{client: client, bucket: bucket}, nil
}

// UploadBuildArchive writes the build snapshot as a JSON object. Uploading
// the same build again overwrites the object with identical content, so
// the operation is safe to repeat.
func (s *Service) UploadBuildArchive(ctx context.Context, build store.Build, contents []store.BuildContent) (string, error) {
	snapshot := Snapshot{
		BuildID:        build.ID,
		OrganizationID: build.OrganizationID,
		BuildNumber:    build.BuildNumber,
		Status:         build.Status,
		ArchivedAt:     time.Now(),
		Contents:       contents,
	}
	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal build snapshot: %w", err)
	}

	key := objectKey(build)
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("upload build archive: %w", err)
	}
	return key, nil
}

func objectKey(build store.Build) string {
	return fmt.Sprintf("builds/%s/%d.json", build.OrganizationID, build.BuildNumber)
}
