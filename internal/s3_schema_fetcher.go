package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awsCreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/lychee-technology/metaeditor"
)

// s3Downloader is the subset of manager.Downloader used to fetch schema objects.
type s3Downloader interface {
	Download(ctx context.Context, w io.WriterAt, input *s3.GetObjectInput, options ...func(*manager.Downloader)) (int64, error)
}

// S3SchemaFetcher reads schema documents from s3://bucket/key sources.
type S3SchemaFetcher struct {
	downloader s3Downloader
}

// NewS3SchemaFetcher builds an S3 client from the default AWS chain, with
// region, endpoint and static credentials overridden from cfg when set.
func NewS3SchemaFetcher(ctx context.Context, cfg metaeditor.S3Config) (*S3SchemaFetcher, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if cfg.Region != "" {
		awsCfg.Region = cfg.Region
	}
	if cfg.AccessKey != "" {
		awsCfg.Credentials = awsCreds.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return &S3SchemaFetcher{downloader: manager.NewDownloader(client)}, nil
}

func (f *S3SchemaFetcher) Fetch(ctx context.Context, source *url.URL) ([]byte, error) {
	bucket := source.Host
	key := strings.TrimPrefix(source.Path, "/")
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("s3 source %q must look like s3://bucket/key", source.String())
	}

	buf := manager.NewWriteAtBuffer(nil)
	n, err := f.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case "NoSuchKey", "NotFound", "NoSuchBucket":
				return nil, fmt.Errorf("s3://%s/%s does not exist (%s)", bucket, key, apiErr.ErrorCode())
			case "AccessDenied", "Forbidden":
				return nil, fmt.Errorf("access to s3://%s/%s denied: %w", bucket, key, err)
			}
		}
		return nil, fmt.Errorf("download s3://%s/%s: %w", bucket, key, err)
	}
	if n > maxSchemaBytes {
		return nil, fmt.Errorf("s3://%s/%s: schema larger than %d bytes", bucket, key, maxSchemaBytes)
	}
	return buf.Bytes(), nil
}
