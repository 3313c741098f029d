package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"inspo/inspo/config"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// TranscriptStore keeps plain-text exports of archived chat sessions.
type TranscriptStore struct {
	client *minio.Client
	bucket string
}

func NewTranscriptStore(ctx context.Context, cfg config.MinIOConfig) (*TranscriptStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("make bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &TranscriptStore{client: client, bucket: cfg.Bucket}, nil
}

// TranscriptKey is the object key a session's transcript is stored under.
func TranscriptKey(projectID int64, sessionID uuid.UUID, at time.Time) string {
	return path.Join("transcripts", fmt.Sprintf("project-%d", projectID),
		fmt.Sprintf("%s-%s.txt", sessionID, at.UTC().Format("20060102T150405Z")))
}

func (s *TranscriptStore) UploadTranscript(ctx context.Context, key, text string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, strings.NewReader(text), int64(len(text)),
		minio.PutObjectOptions{ContentType: "text/plain; charset=utf-8"})
	if err != nil {
		return fmt.Errorf("upload transcript %s: %w", key, err)
	}
	return nil
}

func (s *TranscriptStore) GetTranscript(ctx context.Context, key string) (string, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return "", err
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return "", fmt.Errorf("read transcript %s: %w", key, err)
	}
	return string(data), nil
}
