package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"mls_syncd/config"
	"mls_syncd/media"
)

// S3Store uploads processed media to S3-compatible blob storage and derives
// public (and optionally CDN-fronted) URLs for stored keys. It satisfies
// media.BlobStore.
type S3Store struct {
	client *s3.Client
	cfg    config.S3Config
}

func NewS3Store(ctx context.Context, cfg config.S3Config) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var client *s3.Client
	if cfg.Endpoint != "" {
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}

	return &S3Store{client: client, cfg: cfg}, nil
}

func (s *S3Store) Upload(ctx context.Context, key string, data []byte, contentType string) (*media.UploadedObject, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return nil, fmt.Errorf("put object %s: %w", key, err)
	}

	return &media.UploadedObject{
		Key:    key,
		URL:    s.PublicURL(key),
		CDNUrl: s.CDNUrl(key),
	}, nil
}

// PublicURL returns the direct public URL for a stored key.
func (s *S3Store) PublicURL(key string) string {
	if s.cfg.Endpoint != "" {
		host := strings.TrimPrefix(strings.TrimPrefix(s.cfg.Endpoint, "https://"), "http://")
		return fmt.Sprintf("https://%s.%s/%s", s.cfg.Bucket, host, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.Bucket, s.cfg.Region, key)
}

// CDNUrl returns the CDN-fronted URL, or empty when no CDN is configured.
func (s *S3Store) CDNUrl(key string) string {
	if s.cfg.CDNBaseURL == "" {
		return ""
	}
	return strings.TrimSuffix(s.cfg.CDNBaseURL, "/") + "/" + key
}
