package main

import (
	"context"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Uploader stores a finished output under a key prefix
type Uploader interface {
	Upload(ctx context.Context, localPath string, prefix string) ([]string, error)
}

type Storage struct {
	client *miniogo.Client
	bucket string
}

func NewStorage(options StorageOptions) (*Storage, error) {
	client, err := miniogo.New(options.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(options.AccessKey, options.SecretKey, ""),
		Secure: options.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &Storage{
		client: client,
		bucket: options.Bucket,
	}, nil
}

func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}

	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, miniogo.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

// Upload sends a video file, or every file of a PNG directory, to
// <prefix>/<name> and returns the object keys
func (s *Storage) Upload(ctx context.Context, localPath string, prefix string) ([]string, error) {
	files, err := uploadList(localPath)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(files))
	for _, file := range files {
		key := path.Join(prefix, file.key)
		_, err := s.client.FPutObject(ctx, s.bucket, key, file.path, miniogo.PutObjectOptions{
			ContentType: contentType(file.path),
		})
		if err != nil {
			return keys, fmt.Errorf("upload %s: %w", file.path, err)
		}
		keys = append(keys, key)
	}

	return keys, nil
}

type uploadFile struct {
	path string
	key  string
}

func uploadList(localPath string) ([]uploadFile, error) {
	stat, err := os.Stat(localPath)
	if err != nil {
		return nil, err
	}

	if !stat.IsDir() {
		return []uploadFile{{path: localPath, key: filepath.Base(localPath)}}, nil
	}

	base := filepath.Base(localPath)
	files := []uploadFile{}
	err = filepath.WalkDir(localPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}

		rel, err := filepath.Rel(localPath, p)
		if err != nil {
			return err
		}

		files = append(files, uploadFile{path: p, key: path.Join(base, filepath.ToSlash(rel))})
		return nil
	})

	return files, err
}

func contentType(p string) string {
	if t := mime.TypeByExtension(filepath.Ext(p)); t != "" {
		return t
	}
	return "application/octet-stream"
}
