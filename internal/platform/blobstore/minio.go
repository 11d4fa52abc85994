package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig holds connection settings for an S3-compatible endpoint.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioBlobStore keeps each image as one object named by its blob ID. The
// descriptive metadata travels as object user metadata.
type MinioBlobStore struct {
	client *minio.Client
	bucket string
}

func NewMinioClient(cfg MinioConfig) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return client, nil
}

func NewMinioBlobStore(client *minio.Client, bucket string) *MinioBlobStore {
	return &MinioBlobStore{client: client, bucket: bucket}
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *MinioBlobStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Ping is used by the health endpoint.
func (s *MinioBlobStore) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}

func (s *MinioBlobStore) Upload(ctx context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	meta, data, err := prepare(meta, content)
	if err != nil {
		return nil, err
	}

	_, err = s.client.PutObject(ctx, s.bucket, meta.ID, bytes.NewReader(data), meta.Size, minio.PutObjectOptions{
		ContentType:  meta.ContentType,
		UserMetadata: toUserMetadata(meta),
	})
	if err != nil {
		return nil, fmt.Errorf("put object %s/%s: %w", s.bucket, meta.ID, err)
	}
	return &meta, nil
}

func (s *MinioBlobStore) Download(ctx context.Context, id string) (io.ReadCloser, *BlobMetadata, error) {
	meta, err := s.GetMetadata(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, id, minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, mapMinioError(err, id)
	}
	return obj, meta, nil
}

func (s *MinioBlobStore) Delete(ctx context.Context, id string) error {
	if _, err := s.GetMetadata(ctx, id); err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, id, minio.RemoveObjectOptions{}); err != nil {
		return mapMinioError(err, id)
	}
	return nil
}

func (s *MinioBlobStore) GetMetadata(ctx context.Context, id string) (*BlobMetadata, error) {
	info, err := s.client.StatObject(ctx, s.bucket, id, minio.StatObjectOptions{})
	if err != nil {
		return nil, mapMinioError(err, id)
	}
	meta := fromObjectInfo(info)
	return &meta, nil
}

const (
	metaFileName  = "File-Name"
	metaCategory  = "Category"
	metaHash      = "Sha256"
	metaCreatedBy = "Created-By"
)

func toUserMetadata(meta BlobMetadata) map[string]string {
	m := map[string]string{
		metaFileName: meta.FileName,
		metaCategory: meta.Category,
		metaHash:     meta.Hash,
	}
	if meta.CreatedBy != "" {
		m[metaCreatedBy] = meta.CreatedBy
	}
	return m
}

// fromObjectInfo rebuilds metadata from a stat result. MinIO returns user
// metadata without the X-Amz-Meta- prefix in UserMetadata.
func fromObjectInfo(info minio.ObjectInfo) BlobMetadata {
	meta := BlobMetadata{
		ID:          info.Key,
		ContentType: info.ContentType,
		Size:        info.Size,
		CreatedAt:   info.LastModified.UTC(),
	}
	meta.FileName = info.UserMetadata[metaFileName]
	meta.Category = info.UserMetadata[metaCategory]
	meta.Hash = info.UserMetadata[metaHash]
	meta.CreatedBy = info.UserMetadata[metaCreatedBy]
	if meta.FileName == "" {
		meta.FileName = info.Key
	}
	if meta.Category == "" {
		meta.Category = DefaultCategory
	}
	return meta
}

func mapMinioError(err error, id string) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrBlobNotFound, id)
	}
	return fmt.Errorf("object %s: %w", id, err)
}
