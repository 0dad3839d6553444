package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/spatialops/stac-fetcher/service"
)

// S3Storage implements Storage on an S3 bucket
type S3Storage struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewS3Storage(ctx context.Context, baseURI string) (*S3Storage, error) {
	trimmed := strings.TrimPrefix(baseURI, "s3://")
	splits := strings.SplitN(trimmed, "/", 2)
	if splits[0] == "" {
		return nil, fmt.Errorf("NewS3Storage: missing bucket in %s", baseURI)
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewS3Storage: %w", err)
	}
	s := &S3Storage{client: s3.NewFromConfig(cfg), bucket: splits[0]}
	if len(splits) == 2 {
		s.prefix = strings.Trim(splits[1], "/")
	}
	return s, nil
}

func (s *S3Storage) key(relPath string) string {
	if s.prefix == "" {
		return relPath
	}
	return s.prefix + "/" + relPath
}

func (s *S3Storage) Save(ctx context.Context, localFile, relPath string) (string, error) {
	f, err := os.Open(localFile)
	if err != nil {
		return "", fmt.Errorf("S3Storage.Open: %w", err)
	}
	defer f.Close()

	key := s.key(relPath)
	uploader := manager.NewUploader(s.client)
	if _, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   f,
	}); err != nil {
		return "", service.MakeTemporary(fmt.Errorf("S3Storage.Save[%s]: %w", relPath, err))
	}
	return "s3://" + s.bucket + "/" + key, nil
}

func (s *S3Storage) Import(ctx context.Context, relPath, localFile string) error {
	f, err := os.Create(localFile)
	if err != nil {
		return fmt.Errorf("S3Storage.Create: %w", err)
	}
	defer f.Close()

	downloader := manager.NewDownloader(s.client)
	if _, err := downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(relPath)),
	}); err != nil {
		os.Remove(localFile)
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return ErrFileNotFound
		}
		return service.MakeTemporary(fmt.Errorf("S3Storage.Import[%s]: %w", relPath, err))
	}
	return nil
}

func (s *S3Storage) Delete(ctx context.Context, relPath string) error {
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(relPath)),
	}); err != nil {
		return service.MakeTemporary(fmt.Errorf("S3Storage.Delete[%s]: %w", relPath, err))
	}
	return nil
}
