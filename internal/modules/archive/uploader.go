// Package archive uploads run artifacts to S3-compatible object storage.
package archive

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// objectUploader is the slice of the S3 transfer manager the archiver needs.
type objectUploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Config identifies the archive destination.
type Config struct {
	Bucket string
	Prefix string // key prefix, e.g. "backtests"
	Region string // optional; falls back to the SDK default chain
}

// Archiver copies a run's artifact directory into an S3 bucket.
type Archiver struct {
	cfg      Config
	uploader objectUploader
	log      zerolog.Logger
}

// New creates an archiver using the default AWS credential chain.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (*Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)
	return &Archiver{
		cfg:      cfg,
		uploader: manager.NewUploader(client),
		log:      log.With().Str("component", "archive").Logger(),
	}, nil
}

// newWithUploader wires a custom uploader; used by tests.
func newWithUploader(cfg Config, uploader objectUploader, log zerolog.Logger) *Archiver {
	return &Archiver{
		cfg:      cfg,
		uploader: uploader,
		log:      log.With().Str("component", "archive").Logger(),
	}
}

// UploadDir walks the run directory and uploads every regular file under
// <prefix>/<dir base>/<relative path>. Returns the number of objects uploaded.
func (a *Archiver) UploadDir(ctx context.Context, dir string) (int, error) {
	base := filepath.Base(filepath.Clean(dir))
	uploaded := 0

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		key := a.objectKey(base, rel)

		if err := a.uploadFile(ctx, path, key); err != nil {
			return fmt.Errorf("failed to upload %s: %w", rel, err)
		}
		uploaded++
		return nil
	})
	if err != nil {
		return uploaded, err
	}

	a.log.Info().
		Str("bucket", a.cfg.Bucket).
		Str("dir", dir).
		Int("objects", uploaded).
		Msg("Run artifacts archived")
	return uploaded, nil
}

func (a *Archiver) uploadFile(ctx context.Context, path, key string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType(path)),
	})
	return err
}

// objectKey joins prefix, run directory name and relative path with forward
// slashes regardless of the local separator.
func (a *Archiver) objectKey(base, rel string) string {
	parts := []string{base, filepath.ToSlash(rel)}
	if a.cfg.Prefix != "" {
		parts = append([]string{strings.Trim(a.cfg.Prefix, "/")}, parts...)
	}
	return strings.Join(parts, "/")
}

func contentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "application/json"
	case ".csv":
		return "text/csv"
	case ".md":
		return "text/markdown"
	case ".png":
		return "image/png"
	default:
		return "application/octet-stream"
	}
}
