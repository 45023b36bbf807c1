package job

import (
	"fmt"
	"testing"
	"time"

	"github.com/jittakal/kafbridge/internal/errors"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StatePending, StateSeekOffsets, true},
		{StatePending, StateMaterialize, false},
		{StateSeekOffsets, StateMaterialize, true},
		{StateSeekOffsets, StateFinalizeTimeRange, true},
		{StateMaterialize, StateFinalizeTimeRange, true},
		{StateMaterialize, StateSeekOffsets, false},
		{StateFinalizeTimeRange, StateDone, true},
		{StatePending, StateFailed, true},
		{StateMaterialize, StateFailed, true},
		{StateDone, StateFailed, false},
		{StateFailed, StateSeekOffsets, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateSequence(t *testing.T) {
	step := func(s State) Step { return &fakeStep{name: string(s), state: s} }

	tests := []struct {
		name    string
		steps   []Step
		wantErr bool
	}{
		{"build", []Step{step(StateSeekOffsets), step(StateMaterialize), step(StateFinalizeTimeRange)}, false},
		{"merge", []Step{step(StateSeekOffsets), step(StateFinalizeTimeRange)}, false},
		{"empty", nil, true},
		{"stops early", []Step{step(StateSeekOffsets), step(StateMaterialize)}, true},
		{"skips seek", []Step{step(StateMaterialize), step(StateFinalizeTimeRange)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := validateSequence(tt.steps); (err != nil) != tt.wantErr {
				t.Errorf("validateSequence() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRetryConfig_Backoff(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, Multiplier: 2}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
	}
	for _, tt := range tests {
		if got := cfg.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}

	cfg.Jitter = true
	for i := 0; i < 20; i++ {
		if got := cfg.Backoff(2); got < 100*time.Millisecond || got > 200*time.Millisecond {
			t.Errorf("jittered Backoff(2) = %v, want within [100ms, 200ms]", got)
		}
	}

	if got := (RetryConfig{}).Backoff(3); got != 0 {
		t.Errorf("zero config Backoff() = %v, want 0", got)
	}
}

func TestParams(t *testing.T) {
	p := Params{ParamSegmentID: "s1", ParamMergedFrom: " a, b,,c "}

	if err := p.Require(ParamSegmentID); err != nil {
		t.Errorf("Require(segment_id) error = %v", err)
	}
	if err := p.Require(ParamSegmentID, ParamOutputPath, ParamCube); err == nil {
		t.Error("Require() should report missing keys")
	}
	if p.BuildType() != BuildTypeBuild {
		t.Errorf("BuildType() = %s, want BUILD", p.BuildType())
	}
	if (Params{ParamBuildType: "merge"}).BuildType() != BuildTypeMerge {
		t.Error("build type should be case-insensitive")
	}
	if got := p.MergedFrom(); len(got) != 3 || got[2] != "c" {
		t.Errorf("MergedFrom() = %v", got)
	}
	if NewJobID() == NewJobID() {
		t.Error("NewJobID() should be random")
	}
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"success", nil, "success"},
		{"transient source", &errors.TransientSourceError{Topic: "orders", Partition: 0, Err: errors.ErrConnectionLost}, "retryable"},
		{"configuration", &errors.ConfigurationError{Component: "job", Reason: "bad"}, "fatal"},
		{"consistency", fmt.Errorf("seek: %w", &errors.ConsistencyError{SegmentID: "s1", Partition: -1, Reason: "gap"}), "fatal"},
		{"rejection ceiling", errors.ErrRejectionCeiling, "failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := outcome(tt.err); got != tt.want {
				t.Errorf("outcome() = %q, want %q", got, tt.want)
			}
		})
	}
}
