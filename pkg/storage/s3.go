package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3Config selects the S3 endpoint. Zero values use the AWS SDK defaults.
type S3Config struct {
	Region string `mapstructure:"region" yaml:"region"`
	// Endpoint points at an S3-compatible service such as MinIO
	Endpoint     string `mapstructure:"endpoint" yaml:"endpoint"`
	UsePathStyle bool   `mapstructure:"use_path_style" yaml:"use_path_style"`
}

// S3Storage stages media through Amazon S3 or an S3-compatible store.
// Missing objects are reported as fs.ErrNotExist, like local files.
type S3Storage struct {
	client *s3.Client
}

// NewS3Storage builds a client from the default credential chain (env,
// shared config, instance role) and c
func NewS3Storage(ctx context.Context, c S3Config) (*S3Storage, error) {
	var loadOpts []func(*config.LoadOptions) error
	if c.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(c.Region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
		}
		o.UsePathStyle = c.UsePathStyle
	})
	return NewS3StorageWithClient(client), nil
}

// NewS3StorageWithClient wraps a configured client
func NewS3StorageWithClient(client *s3.Client) *S3Storage {
	return &S3Storage{client: client}
}

// s3Object addresses one object
type s3Object struct {
	bucket string
	key    string
}

func (o s3Object) String() string {
	return "s3://" + o.bucket + "/" + o.key
}

func parseS3Object(uri string) (s3Object, error) {
	scheme, p, err := ParseURI(uri)
	if err != nil {
		return s3Object{}, err
	}
	if scheme != "s3" {
		return s3Object{}, fmt.Errorf("not an s3 URI: %s", uri)
	}

	bucket, key, _ := strings.Cut(p, "/")
	switch {
	case bucket == "":
		return s3Object{}, fmt.Errorf("s3 URI %q has no bucket", uri)
	case key == "" || strings.HasSuffix(key, "/"):
		return s3Object{}, fmt.Errorf("s3 URI %q has no object key", uri)
	}
	return s3Object{bucket: bucket, key: key}, nil
}

// mediaTypes covers the containers the ffmpeg backend writes. The mime
// package only knows a handful of them.
var mediaTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".avi":  "video/x-msvideo",
	".ts":   "video/mp2t",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".wav":  "audio/wav",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".opus": "audio/opus",
}

// contentType guesses the Content-Type of an object from its key
func contentType(key string) string {
	ext := strings.ToLower(path.Ext(key))
	if t, ok := mediaTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

// isNotFound recognises the different shapes S3 uses for a missing object.
// HEAD responses carry no body, so only the status code is left.
func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchKey") {
		return true
	}
	var status interface{ HTTPStatusCode() int }
	return errors.As(err, &status) && status.HTTPStatusCode() == http.StatusNotFound
}

// Get opens an object for reading
func (s *S3Storage) Get(ctx context.Context, uri string) (io.ReadCloser, error) {
	obj, err := parseS3Object(uri)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(obj.bucket),
		Key:    aws.String(obj.key),
	})
	if isNotFound(err) {
		return nil, fmt.Errorf("%s: %w", obj, fs.ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", obj, err)
	}
	return out.Body, nil
}

// Put uploads data, tagging it with the media type of its extension
func (s *S3Storage) Put(ctx context.Context, uri string, data io.Reader) error {
	obj, err := parseS3Object(uri)
	if err != nil {
		return err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(obj.bucket),
		Key:         aws.String(obj.key),
		Body:        data,
		ContentType: aws.String(contentType(obj.key)),
	})
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", obj, err)
	}
	return nil
}

// Delete removes an object. Deleting a missing object is not an error.
func (s *S3Storage) Delete(ctx context.Context, uri string) error {
	obj, err := parseS3Object(uri)
	if err != nil {
		return err
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(obj.bucket),
		Key:    aws.String(obj.key),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete %s: %w", obj, err)
	}
	return nil
}

// Exists reports whether an object is present
func (s *S3Storage) Exists(ctx context.Context, uri string) (bool, error) {
	obj, err := parseS3Object(uri)
	if err != nil {
		return false, err
	}

	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(obj.bucket),
		Key:    aws.String(obj.key),
	})
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, fmt.Errorf("failed to stat %s: %w", obj, err)
	}
}
