package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/jittakal/kafbridge/internal/job"
	"github.com/jittakal/kafbridge/pkg/segment"
)

type stepView struct {
	Name       string `json:"name"`
	Attempts   int    `json:"attempts"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

type resultView struct {
	JobID     string     `json:"job_id"`
	SegmentID string     `json:"segment_id"`
	State     job.State  `json:"state"`
	Steps     []stepView `json:"steps"`
}

func newResultView(r *job.Result) resultView {
	view := resultView{JobID: r.JobID, SegmentID: r.SegmentID, State: r.State}
	for _, s := range r.Steps {
		sv := stepView{Name: s.Name, Attempts: s.Attempts, DurationMS: s.Duration.Milliseconds()}
		if s.Err != nil {
			sv.Error = s.Err.Error()
		}
		view.Steps = append(view.Steps, sv)
	}
	return view
}

// report prints the job result, if any, and passes err through.
func report(w io.Writer, result *job.Result, err error) error {
	if result != nil {
		if perr := printJSON(w, newResultView(result)); perr != nil && err == nil {
			err = perr
		}
	}
	return err
}

func newCommandFlags(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ContinueOnError)
}

// buildCommand runs a fresh build: seek, materialize, finalize.
func (a *app) buildCommand(ctx context.Context, args []string, stdout io.Writer) error {
	fs := newCommandFlags("build")
	tableName := fs.String("table", "", "table to build (default: first configured table)")
	segmentID := fs.String("segment", "", "segment id (default: generated)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	table, err := a.table(*tableName)
	if err != nil {
		return err
	}
	p, err := a.buildPipeline(ctx, table)
	if err != nil {
		return err
	}

	id := *segmentID
	if id == "" {
		id = job.NewSegmentID()
	}
	if _, err := a.ensureSegment(ctx, table, id, nil); err != nil {
		return err
	}

	jobID := job.NewJobID()
	params := job.Params{
		job.ParamSegmentID:  id,
		job.ParamCube:       table.CubeName(),
		job.ParamTable:      table.Name,
		job.ParamJobID:      jobID,
		job.ParamOutputPath: p.router.Route(jobID, table.Name, id),
		job.ParamBuildType:  job.BuildTypeBuild,
	}
	result, err := a.runner.Run(ctx, params, p.buildSteps()...)
	return report(stdout, result, err)
}

// mergeCommand combines contiguous READY segments into a new one.
func (a *app) mergeCommand(ctx context.Context, args []string, stdout io.Writer) error {
	fs := newCommandFlags("merge")
	tableName := fs.String("table", "", "table of the segments (default: first configured table)")
	sources := fs.String("segments", "", "comma separated source segment ids in chronological order")
	segmentID := fs.String("segment", "", "merged segment id (default: generated)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ids := splitList(*sources)
	if len(ids) < 2 {
		return errors.New("merge needs -segments with at least two segment ids")
	}
	table, err := a.table(*tableName)
	if err != nil {
		return err
	}

	id := *segmentID
	if id == "" {
		id = job.NewSegmentID()
	}
	if _, err := a.ensureSegment(ctx, table, id, ids); err != nil {
		return err
	}

	params := job.Params{
		job.ParamSegmentID:  id,
		job.ParamCube:       table.CubeName(),
		job.ParamTable:      table.Name,
		job.ParamBuildType:  job.BuildTypeMerge,
		job.ParamMergedFrom: strings.Join(ids, ","),
	}
	result, err := a.runner.Run(ctx, params, a.mergePipeline(table).mergeSteps()...)
	return report(stdout, result, err)
}

// stepCommand runs one step for an external scheduler. Every step of a
// build must be given the same -job so they agree on the staging path.
func (a *app) stepCommand(ctx context.Context, args []string, stdout io.Writer) error {
	fs := newCommandFlags("step")
	name := fs.String("name", "", "step to run: seek, materialize or finalize")
	segmentID := fs.String("segment", "", "segment id")
	jobID := fs.String("job", "", "build job id")
	tableName := fs.String("table", "", "table of the segment (default: first configured table)")
	buildType := fs.String("type", job.BuildTypeBuild, "build type: BUILD or MERGE")
	mergedFrom := fs.String("segments", "", "source segment ids of a MERGE seek")
	output := fs.String("output", "", "staging directory (default: routed from job, table and segment)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *segmentID == "" || *jobID == "" {
		return errors.New("step needs -segment and -job")
	}

	table, err := a.table(*tableName)
	if err != nil {
		return err
	}

	params := job.Params{
		job.ParamSegmentID: *segmentID,
		job.ParamCube:      table.CubeName(),
		job.ParamTable:     table.Name,
		job.ParamJobID:     *jobID,
		job.ParamBuildType: *buildType,
	}
	if *mergedFrom != "" {
		params[job.ParamMergedFrom] = *mergedFrom
	}

	var p *pipeline
	if params.BuildType() == job.BuildTypeMerge {
		p = a.mergePipeline(table)
	} else {
		if p, err = a.buildPipeline(ctx, table); err != nil {
			return err
		}
		params[job.ParamOutputPath] = *output
		if *output == "" {
			params[job.ParamOutputPath] = p.router.Route(*jobID, table.Name, *segmentID)
		}
	}

	var step job.Step
	switch *name {
	case "seek":
		if _, err := a.ensureSegment(ctx, table, *segmentID, nil); err != nil {
			return err
		}
		step = p.seek
	case "materialize":
		if p.mat == nil {
			return errors.New("merge builds have no materialize step")
		}
		step = p.mat
	case "finalize":
		step = p.finalize
	default:
		return fmt.Errorf("unknown step %q (supported: seek, materialize, finalize)", *name)
	}

	result, err := a.runner.RunStep(ctx, params, step)
	return report(stdout, result, err)
}

// showCommand prints one segment, or every segment of a table's cube.
func (a *app) showCommand(ctx context.Context, args []string, stdout io.Writer) error {
	fs := newCommandFlags("show")
	segmentID := fs.String("segment", "", "segment id")
	tableName := fs.String("table", "", "list the segments of this table's cube")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *segmentID != "" {
		seg, err := a.store.GetSegment(ctx, *segmentID)
		if err != nil {
			return err
		}
		return printJSON(stdout, seg)
	}

	table, err := a.table(*tableName)
	if err != nil {
		return err
	}
	segs, err := a.store.ListSegments(ctx, table.CubeName())
	if err != nil {
		return err
	}
	if segs == nil {
		segs = []*segment.Segment{}
	}
	return printJSON(stdout, segs)
}
