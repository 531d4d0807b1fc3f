//go:build !gcp

package audit

import (
	"context"
	"fmt"
)

func newGCSSinkFromEnv(_ context.Context) (Sink, error) {
	return nil, fmt.Errorf("audit: GCS evidence storage is not enabled in this build (use -tags gcp)")
}
