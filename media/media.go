// Package media uploads chat attachments to S3-compatible storage.
package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// A putter stores one object.
type putter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config holds the storage settings.
type Config struct {
	Region string
	// Endpoint overrides the S3 endpoint, for S3-compatible storage. Empty
	// uses AWS.
	Endpoint string
	// PublicURL is the base URL objects are served from. The returned URL is
	// PublicURL/bucket/path.
	PublicURL string
}

// Store uploads files to S3.
type Store struct {
	s3        putter
	publicURL string
}

// New loads the AWS configuration from the environment and returns a Store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	cli := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &Store{
		s3:        cli,
		publicURL: strings.TrimSuffix(cfg.PublicURL, "/"),
	}, nil
}

// UploadFile stores the file at path in bucket and returns its public URL.
// The file is read in memory first; callers bound its size.
func (s *Store) UploadFile(ctx context.Context, bucket, path string, file io.Reader, contentType string) (string, error) {
	path = strings.TrimPrefix(path, "/")
	data, err := io.ReadAll(file)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	_, err = s.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(path),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("%s/%s/%s", s.publicURL, bucket, path), nil
}
