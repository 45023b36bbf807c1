package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"ErrSegmentNotFound", ErrSegmentNotFound},
		{"ErrNoNewMessages", ErrNoNewMessages},
		{"ErrRejected", ErrRejected},
		{"ErrBuildInProgress", ErrBuildInProgress},
		{"ErrUnknownParser", ErrUnknownParser},
		{"ErrBufferFull", ErrBufferFull},
		{"ErrWriterClosed", ErrWriterClosed},
		{"ErrSourceClosed", ErrSourceClosed},
		{"ErrManifestNotFound", ErrManifestNotFound},
		{"ErrConnectionLost", ErrConnectionLost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err == nil {
				t.Fatalf("%s should not be nil", tt.name)
			}
			if tt.err.Error() == "" {
				t.Errorf("%s should have an error message", tt.name)
			}
		})
	}
}

func TestDataError_WrapsRejected(t *testing.T) {
	err := &DataError{Partition: 0, Offset: 17, Reason: "bad json"}
	if !errors.Is(err, ErrRejected) {
		t.Error("DataError should wrap ErrRejected")
	}
	if IsRetryable(err) {
		t.Error("DataError should not be retryable")
	}

	rejected := Reject("field count %d", 3)
	if rejected.Partition != -1 || rejected.Offset != -1 {
		t.Errorf("Reject() position = %d/%d, want -1/-1", rejected.Partition, rejected.Offset)
	}
}

func TestConfigurationError(t *testing.T) {
	err := &ConfigurationError{Component: "parser", Reason: "no such parser", Err: ErrUnknownParser}

	if !errors.Is(err, ErrUnknownParser) {
		t.Error("ConfigurationError should wrap its cause")
	}
	if IsRetryable(err) {
		t.Error("ConfigurationError should not be retryable")
	}
	if !IsFatal(fmt.Errorf("seek: %w", err)) {
		t.Error("wrapped ConfigurationError should be fatal")
	}
}

func TestConsistencyError(t *testing.T) {
	err := &ConsistencyError{SegmentID: "seg-1", Partition: 2, Reason: "gap"}

	if err.Error() == "" {
		t.Error("ConsistencyError should have an error message")
	}
	if IsRetryable(err) {
		t.Error("ConsistencyError should not be retryable")
	}
	if !IsFatal(err) {
		t.Error("ConsistencyError should be fatal")
	}
}

func TestTransientSourceError(t *testing.T) {
	err := &TransientSourceError{Topic: "t", Partition: 0, Operation: "read", Err: context.DeadlineExceeded}

	if !IsRetryable(fmt.Errorf("materialize: %w", err)) {
		t.Error("wrapped TransientSourceError should be retryable")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("TransientSourceError should unwrap")
	}
	if IsFatal(err) {
		t.Error("TransientSourceError should not be fatal")
	}
}

func TestStorageError_IsRetryable(t *testing.T) {
	tests := []struct {
		operation string
		want      bool
	}{
		{"write", true},
		{"upload", true},
		{"create", true},
		{"delete", true},
		{"read", true},
		{"encode", false},
		{"mkdir", false},
	}

	for _, tt := range tests {
		t.Run(tt.operation, func(t *testing.T) {
			err := &StorageError{Operation: tt.operation, Path: "/tmp/x", Err: errors.New("boom")}
			if got := err.IsRetryable(); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStepError(t *testing.T) {
	cause := &ConsistencyError{SegmentID: "s", Reason: "overlap"}
	err := &StepError{Step: "SEEK_OFFSETS", SegmentID: "s", Err: cause}

	var target *ConsistencyError
	if !errors.As(err, &target) {
		t.Error("StepError should unwrap to its cause")
	}
}

func TestIsRetryable_Defaults(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("nil should not be retryable")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("plain errors should not be retryable")
	}
	if !IsRetryable(fmt.Errorf("x: %w", ErrConnectionLost)) {
		t.Error("ErrConnectionLost should be retryable")
	}
}
