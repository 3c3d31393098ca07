package backup

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// DirTarget writes runs below a local directory.
type DirTarget struct {
	Dir string
}

func (d DirTarget) Put(_ context.Context, name string, data []byte) error {
	p := filepath.Join(d.Dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}

func (d DirTarget) String() string { return "dir:" + d.Dir }

// S3Config selects a bucket on AWS S3 or an S3-compatible server.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // optional, e.g. MinIO
	Prefix          string
	PathStyle       bool
	AccessKeyID     string // optional; default credential chain otherwise
	SecretAccessKey string
}

// S3Target uploads runs as objects under an optional key prefix.
type S3Target struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewS3Target(ctx context.Context, cfg S3Config) (*S3Target, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewS3TargetWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

func NewS3TargetWithClient(client *s3.Client, bucket, prefix string) *S3Target {
	return &S3Target{client: client, bucket: bucket, prefix: prefix}
}

func (t *S3Target) Put(ctx context.Context, name string, data []byte) error {
	key := path.Join(t.prefix, name)
	_, err := t.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(t.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType(name)),
	})
	return err
}

func (t *S3Target) String() string { return "s3://" + path.Join(t.bucket, t.prefix) }

func contentType(name string) string {
	if path.Ext(name) == ".json" {
		return "application/json"
	}
	return "text/plain; charset=utf-8"
}
