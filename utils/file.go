package utils

import (
	"context"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore keeps uploads on disk under Dir and serves them from URLPrefix.
// Used when no R2 bucket is configured.
type LocalStore struct {
	Dir       string
	URLPrefix string
}

func NewLocalStore(dir, urlPrefix string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &LocalStore{Dir: dir, URLPrefix: strings.TrimRight(urlPrefix, "/")}, nil
}

func (l *LocalStore) UploadImage(_ context.Context, fh *multipart.FileHeader, prefix string) (string, error) {
	key, err := ImageKey(fh, prefix)
	if err != nil {
		return "", err
	}
	if err := saveFile(fh, filepath.Join(l.Dir, filepath.FromSlash(key))); err != nil {
		return "", err
	}
	return l.URLPrefix + "/" + key, nil
}

func saveFile(fh *multipart.FileHeader, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}

	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}
