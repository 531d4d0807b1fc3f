package audit

import (
	"context"
	"fmt"
	"os"
)

// SinkType selects the evidence storage backend.
type SinkType string

const (
	SinkTypeFS  SinkType = "fs"
	SinkTypeS3  SinkType = "s3"
	SinkTypeGCS SinkType = "gcs"
)

// NewSinkFromEnv creates an evidence sink based on environment variables.
//
// Environment variables:
//   - EVIDENCE_SINK_TYPE: "fs" (default), "s3", or "gcs"
//   - EVIDENCE_DIR: Base directory for the filesystem sink (default: "evidence")
//
// For S3:
//   - EVIDENCE_S3_BUCKET (required)
//   - EVIDENCE_S3_REGION or AWS_REGION
//   - EVIDENCE_S3_ENDPOINT (optional, for MinIO/LocalStack)
//   - EVIDENCE_S3_PREFIX (optional)
//
// For GCS (requires -tags gcp):
//   - EVIDENCE_GCS_BUCKET (required)
//   - EVIDENCE_GCS_PREFIX (optional)
func NewSinkFromEnv(ctx context.Context) (Sink, error) {
	sinkType := SinkType(os.Getenv("EVIDENCE_SINK_TYPE"))
	if sinkType == "" {
		sinkType = SinkTypeFS
	}

	switch sinkType {
	case SinkTypeFS:
		dir := os.Getenv("EVIDENCE_DIR")
		if dir == "" {
			dir = "evidence"
		}
		return NewFSSink(dir)
	case SinkTypeS3:
		return newS3SinkFromEnv(ctx)
	case SinkTypeGCS:
		return newGCSSinkFromEnv(ctx)
	default:
		return nil, fmt.Errorf("audit: unsupported evidence sink type: %s", sinkType)
	}
}

func newS3SinkFromEnv(ctx context.Context) (Sink, error) {
	bucket := os.Getenv("EVIDENCE_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("audit: EVIDENCE_S3_BUCKET is required for S3 evidence storage")
	}
	region := os.Getenv("EVIDENCE_S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}
	return NewS3Sink(ctx, S3SinkConfig{
		Bucket:   bucket,
		Region:   region,
		Endpoint: os.Getenv("EVIDENCE_S3_ENDPOINT"),
		Prefix:   os.Getenv("EVIDENCE_S3_PREFIX"),
	})
}
