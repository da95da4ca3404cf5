// Package storage writes recordings, transcripts and analysis documents to
// object storage under tenant-scoped keys.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API is the subset of the S3 client the uploader uses.
type S3API interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader puts pipeline artifacts into a bucket. Puts are plain overwrites,
// so re-running a job for the same call lands on the same keys.
type Uploader struct {
	client S3API
	bucket string
}

// Option configures an Uploader.
type Option func(*Uploader)

// WithClient sets a custom S3 client (useful for testing).
func WithClient(c S3API) Option {
	return func(u *Uploader) { u.client = c }
}

// NewUploader creates an uploader for bucket. region and endpoint configure
// the AWS client; endpoint is for S3-compatible stores and may be empty.
func NewUploader(ctx context.Context, bucket, region, endpoint string, opts ...Option) (*Uploader, error) {
	if bucket == "" {
		return nil, fmt.Errorf("storage bucket required")
	}
	u := &Uploader{bucket: bucket}
	for _, o := range opts {
		o(u)
	}
	if u.client == nil {
		cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		u.client = s3.NewFromConfig(cfg, func(o *s3.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
				o.UsePathStyle = true
			}
		})
	}
	return u, nil
}

// ObjectKey builds the canonical key for one artifact of one call:
// tenants/{tenant}/{yyyy}/{mm}/{dd}/{uniqueid}/{filename}. The date is the
// call's start time, so a call's artifacts always share a prefix.
func ObjectKey(tenantID string, startTime time.Time, uniqueID, filename string) string {
	d := startTime.UTC()
	return path.Join(
		"tenants", tenantID,
		fmt.Sprintf("%04d", d.Year()),
		fmt.Sprintf("%02d", int(d.Month())),
		fmt.Sprintf("%02d", d.Day()),
		uniqueID,
		filename,
	)
}

// Put uploads data under key and returns the key it was stored at.
func (u *Uploader) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", u.bucket, key, err)
	}
	return key, nil
}
