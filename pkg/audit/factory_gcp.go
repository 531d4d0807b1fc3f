//go:build gcp

package audit

import (
	"context"
	"fmt"
	"os"
)

func newGCSSinkFromEnv(ctx context.Context) (Sink, error) {
	bucket := os.Getenv("EVIDENCE_GCS_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("audit: EVIDENCE_GCS_BUCKET is required for GCS evidence storage")
	}
	return NewGCSSink(ctx, GCSSinkConfig{
		Bucket: bucket,
		Prefix: os.Getenv("EVIDENCE_GCS_PREFIX"),
	})
}
