package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/google/uuid"
	"golang.org/x/exp/slog"
)

// UploadURLPrefix is the route local uploads are served from.
const UploadURLPrefix = "/static/uploads/"

// MediaStore persists uploaded files and hands back the URL to reach them.
type MediaStore interface {
	Store(ctx context.Context, name string, r io.Reader) (string, error)
	// Remove deletes a previously stored file. URLs the store does not
	// manage are ignored.
	Remove(ctx context.Context, url string) error
}

// NewMediaStore picks the backend once, from the startup configuration.
func NewMediaStore(cfg Config) (MediaStore, error) {
	if cfg.Cloudinary.Enabled() {
		slog.Info("Uploads go to Cloudinary", "cloud_name", cfg.Cloudinary.CloudName)
		return NewCloudinaryStore(cfg.Cloudinary)
	}

	slog.Info("Uploads go to local disk", "upload_dir", cfg.UploadDir)

	return NewLocalStore(cfg.UploadDir)
}

type LocalStore struct {
	dir string
	now func() time.Time
}

func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o770); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	return &LocalStore{dir: dir, now: time.Now}, nil
}

func (s *LocalStore) Store(_ context.Context, name string, r io.Reader) (string, error) {
	ts := strings.Replace(s.now().Format("20060102150405.000000"), ".", "", 1)
	filename := uploadFilename(ts, name)

	f, err := s.create(filename)
	if errors.Is(err, os.ErrExist) {
		filename = uploadFilename(ts+"-"+uuid.NewString()[:8], name)
		f, err = s.create(filename)
	}
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return "", err
	}

	slog.Debug("Saved a file", "filename", filename)

	return UploadURLPrefix + filename, nil
}

// create never overwrites an existing upload.
func (s *LocalStore) create(filename string) (*os.File, error) {
	return os.OpenFile(filepath.Join(s.dir, filename), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o660)
}

func (s *LocalStore) Remove(_ context.Context, url string) error {
	if !strings.HasPrefix(url, UploadURLPrefix) {
		return nil
	}

	name := path.Base(url)
	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	return nil
}

type CloudinaryStore struct {
	cld *cloudinary.Cloudinary
}

func NewCloudinaryStore(cfg CloudinaryConfig) (*CloudinaryStore, error) {
	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("configure cloudinary: %w", err)
	}
	cld.Config.URL.Secure = true

	return &CloudinaryStore{cld: cld}, nil
}

func (s *CloudinaryStore) Store(ctx context.Context, name string, r io.Reader) (string, error) {
	res, err := s.cld.Upload.Upload(ctx, r, uploader.UploadParams{})
	if err != nil {
		return "", fmt.Errorf("cloudinary upload %q: %w", name, err)
	}

	if res.Error.Message != "" {
		return "", fmt.Errorf("cloudinary upload %q: %s", name, res.Error.Message)
	}

	return res.SecureURL, nil
}

// Remove is a no-op: only the delivery URL is persisted, not the public id.
func (s *CloudinaryStore) Remove(_ context.Context, url string) error {
	slog.Debug("Leaving hosted file in place", "url", url)
	return nil
}
