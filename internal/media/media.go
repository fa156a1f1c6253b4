// Package media stores uploaded note images in S3-compatible object storage
// and hands back the public URL the note persists. Boards without storage
// configured fall back to inline data URLs instead.
package media

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/corkboard-app/corkboard/internal/errs"
	"github.com/corkboard-app/corkboard/internal/obs"
)

// Config holds the object storage settings.
type Config struct {
	// Endpoint is the S3 endpoint URL. Leave empty for default AWS S3.
	Endpoint string
	// Region is the AWS region ("auto" for Tigris-style services).
	Region string
	// AccessKeyID and SecretAccessKey are static credentials; leave empty
	// to use the ambient credential chain.
	AccessKeyID     string
	SecretAccessKey string
	// Bucket is the bucket image objects land in.
	Bucket string
	// PublicURL is the base URL objects are reachable at.
	PublicURL string
	// UsePathStyle enables path-style addressing, needed by some
	// S3-compatible services and by gofakes3 in tests.
	UsePathStyle bool
}

// Uploader stores image bytes under media/<uuid>.<ext> and returns the
// public URL.
type Uploader struct {
	s3Client  *s3.Client
	bucket    string
	publicURL string
	log       *slog.Logger
}

// New builds an uploader from cfg.
func New(ctx context.Context, cfg Config) (*Uploader, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	sdkConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(sdkConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewFromS3Client(s3Client, cfg.Bucket, cfg.PublicURL), nil
}

// NewFromS3Client wraps an existing S3 client, which is how the gofakes3
// test helper builds uploaders.
func NewFromS3Client(s3Client *s3.Client, bucket, publicURL string) *Uploader {
	return &Uploader{
		s3Client:  s3Client,
		bucket:    bucket,
		publicURL: strings.TrimSuffix(publicURL, "/"),
		log:       obs.Pkg("media"),
	}
}

// Upload stores data and returns its public URL. The object key is random,
// so concurrent uploads never collide and nothing is ever overwritten.
func (u *Uploader) Upload(ctx context.Context, contentType string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", errs.New(errs.InvalidArgument, "empty image")
	}
	key := "media/" + uuid.NewString() + extensionFor(contentType)

	_, err := u.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		ACL:         types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return "", fmt.Errorf("put media object %q: %w", key, err)
	}

	u.log.Info("stored note image", "key", key, "bytes", len(data))
	return u.publicURL + "/" + key, nil
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	}
	return ""
}
