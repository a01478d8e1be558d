package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/tripwell/notify/internal/domain"
)

const reportPrefix = "reports/"

// s3API is the S3 surface the archive uses; tests substitute a fake.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Archive stores report snapshots under reports/<id>.json in a bucket.
type S3Archive struct {
	client s3API
	bucket string
}

// NewS3Archive loads AWS configuration from the environment.
func NewS3Archive(ctx context.Context, bucket, region string) (*S3Archive, error) {
	if bucket == "" {
		return nil, fmt.Errorf("report archive bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return &S3Archive{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

func (a *S3Archive) SaveReport(ctx context.Context, report *domain.PerformanceReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report %s: %w", report.ID, err)
	}

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.key(report.ID)),
		Body:        strings.NewReader(string(data)),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("upload report %s: %w", report.ID, err)
	}
	return nil
}

func (a *S3Archive) LoadReport(ctx context.Context, id string) (*domain.PerformanceReport, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(id)),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch report %s: %w", id, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read report %s: %w", id, err)
	}
	var report domain.PerformanceReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", id, err)
	}
	return &report, nil
}

func (a *S3Archive) ListReports(ctx context.Context) ([]string, error) {
	var ids []string
	var token *string

	for {
		out, err := a.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(a.bucket),
			Prefix:            aws.String(reportPrefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list reports: %w", err)
		}
		for _, obj := range out.Contents {
			name := path.Base(aws.ToString(obj.Key))
			if strings.HasSuffix(name, ".json") {
				ids = append(ids, strings.TrimSuffix(name, ".json"))
			}
		}
		if out.NextContinuationToken == nil {
			break
		}
		token = out.NextContinuationToken
	}
	return ids, nil
}

func (a *S3Archive) key(id string) string {
	return reportPrefix + id + ".json"
}
