package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/spatialops/stac-fetcher/service"
)

// GSStorage implements Storage on a Google Storage bucket
type GSStorage struct {
	client *storage.Client
	bucket string
	prefix string
}

func NewGSStorage(ctx context.Context, baseURI string) (*GSStorage, error) {
	trimmed := strings.TrimPrefix(baseURI, "gs://")
	splits := strings.SplitN(trimmed, "/", 2)
	if splits[0] == "" {
		return nil, fmt.Errorf("NewGSStorage: missing bucket in %s", baseURI)
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewGSStorage: %w", err)
	}
	s := &GSStorage{client: client, bucket: splits[0]}
	if len(splits) == 2 {
		s.prefix = strings.Trim(splits[1], "/")
	}
	return s, nil
}

func (s *GSStorage) object(relPath string) string {
	if s.prefix == "" {
		return relPath
	}
	return s.prefix + "/" + relPath
}

func (s *GSStorage) Save(ctx context.Context, localFile, relPath string) (string, error) {
	f, err := os.Open(localFile)
	if err != nil {
		return "", fmt.Errorf("GSStorage.Open: %w", err)
	}
	defer f.Close()

	object := s.object(relPath)
	w := s.client.Bucket(s.bucket).Object(object).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return "", service.MakeTemporary(fmt.Errorf("GSStorage.Save[%s]: %w", relPath, err))
	}
	if err := w.Close(); err != nil {
		return "", service.MakeTemporary(fmt.Errorf("GSStorage.Save[%s]: %w", relPath, err))
	}
	return "gs://" + s.bucket + "/" + object, nil
}

func (s *GSStorage) Import(ctx context.Context, relPath, localFile string) error {
	r, err := s.client.Bucket(s.bucket).Object(s.object(relPath)).NewReader(ctx)
	if err != nil {
		if err == storage.ErrObjectNotExist {
			return ErrFileNotFound
		}
		return service.MakeTemporary(fmt.Errorf("GSStorage.Import[%s]: %w", relPath, err))
	}
	defer r.Close()

	f, err := os.Create(localFile)
	if err != nil {
		return fmt.Errorf("GSStorage.Create: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return service.MakeTemporary(fmt.Errorf("GSStorage.Import[%s]: %w", relPath, err))
	}
	return nil
}

func (s *GSStorage) Delete(ctx context.Context, relPath string) error {
	if err := s.client.Bucket(s.bucket).Object(s.object(relPath)).Delete(ctx); err != nil {
		if err == storage.ErrObjectNotExist {
			return ErrFileNotFound
		}
		return service.MakeTemporary(fmt.Errorf("GSStorage.Delete[%s]: %w", relPath, err))
	}
	return nil
}
