package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/whisperhub/whisperhub/config"
)

var allowedImageTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

// ErrNotImage is returned when an upload is not one of the accepted image types.
var ErrNotImage = errors.New("file is not a supported image")

// ValidateImage sniffs the upload content and enforces the size limit.
// It returns the detected MIME type and extension.
func ValidateImage(fh *multipart.FileHeader, maxBytes int64) (string, string, error) {
	if fh == nil {
		return "", "", errors.New("no file")
	}
	if maxBytes > 0 && fh.Size > maxBytes {
		return "", "", fmt.Errorf("file exceeds %d bytes", maxBytes)
	}
	f, err := fh.Open()
	if err != nil {
		return "", "", err
	}
	defer f.Close()

	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return "", "", err
	}
	if !mimetype.EqualsAny(mt.String(), allowedImageTypes...) {
		return "", "", ErrNotImage
	}
	return mt.String(), mt.Extension(), nil
}

// Upload is an image that passed ValidateImage. ContentType and Ext come from
// the sniffed content, never from the client's filename or headers.
type Upload struct {
	File        *multipart.FileHeader
	ContentType string
	Ext         string
}

// NewImageUpload validates fh and wraps it with its detected type.
func NewImageUpload(fh *multipart.FileHeader, maxBytes int64) (Upload, error) {
	mt, ext, err := ValidateImage(fh, maxBytes)
	if err != nil {
		return Upload{}, err
	}
	return Upload{File: fh, ContentType: mt, Ext: ext}, nil
}

func (u Upload) check() error {
	if u.File == nil || !mimetype.EqualsAny(u.ContentType, allowedImageTypes...) {
		return ErrNotImage
	}
	return nil
}

// MediaStore persists an uploaded image and returns its public URL.
type MediaStore interface {
	Save(ctx context.Context, up Upload, folder string) (string, error)
}

// NewMediaStore builds the store named by MediaDriver.
func NewMediaStore(ctx context.Context, cfg config.AppConfig) (MediaStore, error) {
	switch cfg.MediaDriver {
	case "s3":
		return NewS3MediaStore(ctx, cfg)
	case "", "local":
		return &LocalMediaStore{Dir: cfg.UploadDir, BaseURL: cfg.PublicBaseURL}, nil
	default:
		return nil, fmt.Errorf("unknown media driver %q", cfg.MediaDriver)
	}
}

// objectKey lays files out as folder/yyyy/mm/dd/<uuid><ext>.
func objectKey(folder, ext string, now time.Time) string {
	ext = strings.ToLower(ext)
	return path.Join(folder, now.Format("2006"), now.Format("01"), now.Format("02"), uuid.NewString()+ext)
}

// LocalMediaStore writes to a directory that the router serves statically.
type LocalMediaStore struct {
	Dir     string
	BaseURL string
}

func (s *LocalMediaStore) Save(_ context.Context, up Upload, folder string) (string, error) {
	if err := up.check(); err != nil {
		return "", err
	}
	key := objectKey(folder, up.Ext, time.Now())
	dstPath := filepath.Join(s.Dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return "", err
	}

	src, err := up.File.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	out, err := os.Create(dstPath)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		_ = os.Remove(dstPath)
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return strings.TrimRight(s.BaseURL, "/") + "/" + key, nil
}

// S3MediaStore uploads to an S3 compatible bucket (AWS, MinIO).
type S3MediaStore struct {
	client  *s3.Client
	bucket  string
	baseURL string
}

func NewS3MediaStore(ctx context.Context, c config.AppConfig) (*S3MediaStore, error) {
	if c.S3Bucket == "" {
		return nil, errors.New("S3_BUCKET must be set for the s3 media driver")
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(c.S3Region)}
	if c.S3AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.S3AccessKey, c.S3SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if c.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(c.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	baseURL := c.S3PublicBaseURL
	if baseURL == "" {
		if c.S3Endpoint != "" {
			baseURL = strings.TrimRight(c.S3Endpoint, "/") + "/" + c.S3Bucket
		} else {
			baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", c.S3Bucket, c.S3Region)
		}
	}
	return &S3MediaStore{client: client, bucket: c.S3Bucket, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *S3MediaStore) Save(ctx context.Context, up Upload, folder string) (string, error) {
	if err := up.check(); err != nil {
		return "", err
	}
	src, err := up.File.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	key := objectKey(folder, up.Ext, time.Now())
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          src,
		ContentLength: aws.Int64(up.File.Size),
		ContentType:   aws.String(up.ContentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return s.baseURL + "/" + key, nil
}
