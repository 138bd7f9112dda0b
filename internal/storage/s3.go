package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

type S3Options struct {
	Region        string
	Bucket        string
	Endpoint      string // custom endpoint such as MinIO; empty for AWS
	PublicBaseURL string // where uploaded objects are served from, if not the bucket itself
	UploadTTL     time.Duration
}

// S3Store presigns direct PUT uploads so clients never stream media through
// the chat service.
type S3Store struct {
	presign *s3.PresignClient
	opts    S3Options
}

func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Store(client, opts), nil
}

func newS3Store(client *s3.Client, opts S3Options) *S3Store {
	if opts.UploadTTL <= 0 {
		opts.UploadTTL = 15 * time.Minute
	}
	return &S3Store{presign: s3.NewPresignClient(client), opts: opts}
}

// PresignUpload returns a presigned PUT URL for a new object and the URL the
// object will be readable at once uploaded.
func (s *S3Store) PresignUpload(ctx context.Context, fileName, contentType string) (string, string, error) {
	key := ObjectKey(fileName)
	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.opts.Bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(s.opts.UploadTTL))
	if err != nil {
		return "", "", fmt.Errorf("presign upload: %w", err)
	}
	return req.URL, s.objectURL(key), nil
}

func (s *S3Store) objectURL(key string) string {
	escaped := (&url.URL{Path: key}).EscapedPath()
	switch {
	case s.opts.PublicBaseURL != "":
		return strings.TrimRight(s.opts.PublicBaseURL, "/") + "/" + escaped
	case s.opts.Endpoint != "":
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.opts.Endpoint, "/"), s.opts.Bucket, escaped)
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.opts.Bucket, s.opts.Region, escaped)
	}
}

// ObjectKey places each upload under its own random prefix, keeping only the
// base name the client sent.
func ObjectKey(fileName string) string {
	name := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if name == "." || name == "/" || name == ".." {
		name = "file"
	}
	return "media/" + uuid.NewString() + "/" + name
}
