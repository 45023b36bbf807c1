package validator

import (
	"errors"
	"testing"

	apperrors "github.com/jittakal/kafbridge/internal/errors"
	"github.com/jittakal/kafbridge/pkg/segment"
)

func TestNewOffsetsValidator(t *testing.T) {
	validator := NewOffsetsValidator()
	if validator == nil {
		t.Fatal("expected non-nil validator")
	}
}

func TestOffsetsValidator_ValidateSuccess(t *testing.T) {
	validator := NewOffsetsValidator()

	tests := []struct {
		name    string
		offsets segment.Offsets
	}{
		{
			name:    "single partition",
			offsets: segment.Offsets{{Partition: 0, Start: 0, End: 500}},
		},
		{
			name: "empty range is allowed",
			offsets: segment.Offsets{
				{Partition: 0, Start: 10, End: 10},
				{Partition: 1, Start: 0, End: 3},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := validator.Validate("seg", tt.offsets); err != nil {
				t.Errorf("Validate() error = %v, want nil", err)
			}
		})
	}
}

func TestOffsetsValidator_ValidateErrors(t *testing.T) {
	validator := NewOffsetsValidator()

	tests := []struct {
		name      string
		offsets   segment.Offsets
		partition int32
	}{
		{
			name:      "empty offsets",
			offsets:   segment.Offsets{},
			partition: -1,
		},
		{
			name:      "start after end",
			offsets:   segment.Offsets{{Partition: 3, Start: 10, End: 5}},
			partition: 3,
		},
		{
			name:      "negative start",
			offsets:   segment.Offsets{{Partition: 0, Start: -1, End: 5}},
			partition: 0,
		},
		{
			name: "duplicate partition",
			offsets: segment.Offsets{
				{Partition: 1, Start: 0, End: 5},
				{Partition: 1, Start: 5, End: 9},
			},
			partition: 1,
		},
		{
			name:      "negative partition",
			offsets:   segment.Offsets{{Partition: -2, Start: 0, End: 1}},
			partition: -2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.Validate("seg", tt.offsets)
			if err == nil {
				t.Fatal("Validate() error = nil, want error")
			}

			var consErr *apperrors.ConsistencyError
			if !errors.As(err, &consErr) {
				t.Fatalf("expected ConsistencyError, got %T", err)
			}
			if consErr.Partition != tt.partition {
				t.Errorf("Partition = %d, want %d", consErr.Partition, tt.partition)
			}
		})
	}
}

func TestOffsetsValidator_ValidateContinuation(t *testing.T) {
	validator := NewOffsetsValidator()
	prior := segment.Offsets{{Partition: 0, Start: 0, End: 100}, {Partition: 1, Start: 0, End: 40}}

	next := segment.Offsets{{Partition: 0, Start: 100, End: 250}, {Partition: 1, Start: 40, End: 40}}
	if err := validator.ValidateContinuation("s2", prior, next); err != nil {
		t.Errorf("ValidateContinuation() error = %v", err)
	}

	gap := segment.Offsets{{Partition: 0, Start: 150, End: 250}, {Partition: 1, Start: 40, End: 41}}
	if err := validator.ValidateContinuation("s3", prior, gap); err == nil {
		t.Error("ValidateContinuation() should reject a gap")
	}
}
