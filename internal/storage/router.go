package storage

import (
	"fmt"
	"strings"

	"github.com/jittakal/kafbridge/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.Router = (*DefaultRouter)(nil)

// DefaultRouter lays staged flat tables out per build job.
type DefaultRouter struct {
	protocol string
	bucket   string
	basePath string
}

// NewRouter creates a new storage router.
func NewRouter(protocol, bucket, basePath string) *DefaultRouter {
	return &DefaultRouter{
		protocol: protocol,
		bucket:   bucket,
		basePath: strings.Trim(basePath, "/"),
	}
}

// Route returns the staging directory of a segment's flat table.
// Format: protocol://bucket/basePath/jobID/flat_table_segmentID/
// Empty bucket or base path elements are omitted.
func (r *DefaultRouter) Route(jobID, table, segmentID string) string {
	parts := make([]string, 0, 4)
	for _, p := range []string{r.bucket, r.basePath, jobID} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	parts = append(parts, fmt.Sprintf("flat_%s_%s", table, segmentID))

	return fmt.Sprintf("%s://%s/", r.protocol, strings.Join(parts, "/"))
}

// Protocol returns the URI scheme of a storage backend.
func Protocol(backend string) string {
	switch backend {
	case "s3":
		return "s3"
	case "azure":
		return "wasbs"
	case "gcs":
		return "gs"
	default:
		return "file"
	}
}
