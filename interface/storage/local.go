package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalStorage implements Storage on a local directory
type LocalStorage struct {
	root string
}

func NewLocalStorage(root string) *LocalStorage {
	return &LocalStorage{root: root}
}

func (s *LocalStorage) Save(ctx context.Context, localFile, relPath string) (string, error) {
	dst := filepath.Join(s.root, relPath)
	if err := os.MkdirAll(filepath.Dir(dst), 0766); err != nil {
		return "", fmt.Errorf("LocalStorage.MkdirAll: %w", err)
	}
	if err := copyFile(localFile, dst); err != nil {
		return "", fmt.Errorf("LocalStorage.Save: %w", err)
	}
	return dst, nil
}

func (s *LocalStorage) Import(ctx context.Context, relPath, localFile string) error {
	src := filepath.Join(s.root, relPath)
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return ErrFileNotFound
	}
	if err := copyFile(src, localFile); err != nil {
		return fmt.Errorf("LocalStorage.Import: %w", err)
	}
	return nil
}

func (s *LocalStorage) Delete(ctx context.Context, relPath string) error {
	if err := os.Remove(filepath.Join(s.root, relPath)); err != nil {
		if os.IsNotExist(err) {
			return ErrFileNotFound
		}
		return fmt.Errorf("LocalStorage.Delete: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, in)
	// Close flushes the destination: its error is a failed copy
	if e := out.Close(); err == nil {
		err = e
	}
	return err
}
