// Package publish copies finished subtitle files to S3-compatible object
// storage.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Publisher uploads a local file and returns where it can be fetched.
type Publisher interface {
	Publish(ctx context.Context, jobID, localPath string) (string, error)
}

// Options configures a MinioPublisher.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
	Region    string
}

// MinioPublisher stores objects as <prefix>/<job id>/<file name>.
type MinioPublisher struct {
	client *minio.Client
	opts   Options
	log    *slog.Logger
}

// NewMinio connects to the endpoint and makes sure the bucket exists.
func NewMinio(ctx context.Context, opts Options, log *slog.Logger) (*MinioPublisher, error) {
	if log == nil {
		log = slog.Default()
	}
	if opts.Endpoint == "" || opts.Bucket == "" {
		return nil, errors.New("mirror endpoint and bucket are required")
	}
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	p := &MinioPublisher{client: client, opts: opts, log: log}
	if err := p.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *MinioPublisher) ensureBucket(ctx context.Context) error {
	err := p.client.MakeBucket(ctx, p.opts.Bucket, minio.MakeBucketOptions{Region: p.opts.Region})
	if err == nil {
		p.log.Info("created bucket", "bucket", p.opts.Bucket)
		return nil
	}
	exists, existsErr := p.client.BucketExists(ctx, p.opts.Bucket)
	if existsErr == nil && exists {
		return nil
	}
	return fmt.Errorf("create bucket %s: %w", p.opts.Bucket, err)
}

// Publish uploads localPath and returns its object URL.
func (p *MinioPublisher) Publish(ctx context.Context, jobID, localPath string) (string, error) {
	name := ObjectName(p.opts.Prefix, jobID, filepath.Base(localPath))
	info, err := p.client.FPutObject(ctx, p.opts.Bucket, name, localPath, minio.PutObjectOptions{
		ContentType: ContentType(localPath),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	p.log.Debug("mirrored subtitle", "job", jobID, "object", name, "size", info.Size)

	u := *p.client.EndpointURL()
	u.Path = path.Join("/", p.opts.Bucket, name)
	return u.String(), nil
}

// ObjectName joins the non-empty parts with slashes.
func ObjectName(prefix, jobID, file string) string {
	parts := make([]string, 0, 3)
	for _, s := range []string{strings.Trim(prefix, "/"), jobID, file} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "/")
}

// ContentType picks the MIME type for a subtitle file by extension.
func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".srt":
		return "application/x-subrip"
	case ".vtt":
		return "text/vtt"
	case ".txt":
		return "text/plain; charset=utf-8"
	}
	return "application/octet-stream"
}
