package job

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jittakal/kafbridge/internal/errors"
)

// Parameter keys understood by the steps.
const (
	ParamSegmentID  = "segment_id"
	ParamCube       = "cube"
	ParamTable      = "table"
	ParamJobID      = "job_id"
	ParamOutputPath = "output_path"
	ParamBuildType  = "build_type"
	// ParamMergedFrom is the comma separated list of segments to merge.
	ParamMergedFrom = "merged_from"
)

// Build types.
const (
	BuildTypeBuild = "BUILD"
	BuildTypeMerge = "MERGE"
)

// Params are the string parameters a scheduler hands to every step.
type Params map[string]string

// Get returns the value of key.
func (p Params) Get(key string) string {
	return p[key]
}

// Require fails with a ConfigurationError when a key is empty.
func (p Params) Require(keys ...string) error {
	var missing []string
	for _, k := range keys {
		if p[k] == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return &errors.ConfigurationError{
			Component: "job",
			Reason:    fmt.Sprintf("missing parameters: %s", strings.Join(missing, ", ")),
		}
	}
	return nil
}

// BuildType returns the build type, BUILD when unset.
func (p Params) BuildType() string {
	if t := strings.ToUpper(p[ParamBuildType]); t != "" {
		return t
	}
	return BuildTypeBuild
}

// MergedFrom returns the segments named by merged_from.
func (p Params) MergedFrom() []string {
	var ids []string
	for _, id := range strings.Split(p[ParamMergedFrom], ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// NewJobID returns a random job id.
func NewJobID() string {
	return uuid.NewString()
}

// NewSegmentID returns a random segment id.
func NewSegmentID() string {
	return uuid.NewString()
}
