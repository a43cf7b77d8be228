//go:build !gcp

package archive

import (
	"context"
	"fmt"
)

// newGCSSink without the gcp tag reports the backend as unavailable
// instead of linking the GCS client into every build.
func newGCSSink(_ context.Context, _ Config) (Sink, error) {
	return nil, fmt.Errorf("archive: gcs backend requires a build with the gcp tag")
}
