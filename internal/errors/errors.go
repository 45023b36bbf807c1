// Package errors defines application-specific error types and sentinel errors.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	ErrSegmentNotFound   = errors.New("segment not found")
	ErrNoNewMessages     = errors.New("no new messages in seeked range")
	ErrRejected          = errors.New("payload rejected by parser")
	ErrBuildInProgress   = errors.New("another build holds the segment")
	ErrUnknownParser     = errors.New("unknown parser")
	ErrBufferFull        = errors.New("buffer is full")
	ErrWriterClosed      = errors.New("storage writer is closed")
	ErrSourceClosed      = errors.New("source client is closed")
	ErrManifestNotFound  = errors.New("staging manifest not found")
	ErrConnectionLost    = errors.New("connection lost")
	ErrRejectionCeiling  = errors.New("rejection ratio ceiling exceeded")
	ErrPartitionMismatch = errors.New("partition set mismatch")
)

// ConfigurationError is a fatal misconfiguration that needs an operator, such
// as a partition-set change or an unknown parser name.
type ConfigurationError struct {
	Component string
	Reason    string
	Err       error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: component=%s: %s: %v", e.Component, e.Reason, e.Err)
	}
	return fmt.Sprintf("configuration error: component=%s: %s", e.Component, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// IsRetryable always returns false: configuration does not fix itself.
func (e *ConfigurationError) IsRetryable() bool {
	return false
}

// ConsistencyError reports offset arithmetic that would lose or double-count
// messages, such as a merge gap or an inverted range.
type ConsistencyError struct {
	SegmentID string
	Partition int32
	Reason    string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency error: segment=%s partition=%d: %s",
		e.SegmentID, e.Partition, e.Reason)
}

// IsRetryable always returns false.
func (e *ConsistencyError) IsRetryable() bool {
	return false
}

// TransientSourceError wraps a source failure that may succeed on retry.
type TransientSourceError struct {
	Topic     string
	Partition int32
	Operation string
	Err       error
}

func (e *TransientSourceError) Error() string {
	return fmt.Sprintf("transient source error: topic=%s partition=%d operation=%s: %v",
		e.Topic, e.Partition, e.Operation, e.Err)
}

func (e *TransientSourceError) Unwrap() error {
	return e.Err
}

// IsRetryable always returns true.
func (e *TransientSourceError) IsRetryable() bool {
	return true
}

// DataError describes a single message the parser could not decode.
type DataError struct {
	Partition int32
	Offset    int64
	Reason    string
}

func (e *DataError) Error() string {
	return fmt.Sprintf("data error: partition=%d offset=%d: %s", e.Partition, e.Offset, e.Reason)
}

func (e *DataError) Unwrap() error {
	return ErrRejected
}

// Reject returns a DataError for a payload without position information.
// The materializer fills in partition and offset.
func Reject(format string, args ...any) *DataError {
	return &DataError{Partition: -1, Offset: -1, Reason: fmt.Sprintf(format, args...)}
}

// StorageError represents a storage operation failure.
type StorageError struct {
	Operation string
	Path      string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: operation=%s path=%s: %v",
		e.Operation, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsRetryable determines if a StorageError is retryable based on the operation type.
func (e *StorageError) IsRetryable() bool {
	switch e.Operation {
	case "write", "upload", "create", "delete", "read":
		return true
	}
	return false
}

// StepError is the failure reported for one job step.
type StepError struct {
	Step      string
	SegmentID string
	Err       error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed for segment %s: %v", e.Step, e.SegmentID, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Retryable defines an interface for errors that can indicate if they are retryable.
type Retryable interface {
	error
	IsRetryable() bool
}

// IsRetryable checks if an error is retryable.
// The first Retryable in the chain decides; otherwise only connection loss is retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var retryable Retryable
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}

	return errors.Is(err, ErrConnectionLost)
}

// IsFatal reports whether err must stop the build without a retry.
func IsFatal(err error) bool {
	var cfgErr *ConfigurationError
	var consErr *ConsistencyError
	return errors.As(err, &cfgErr) || errors.As(err, &consErr)
}

// Is and As re-export the standard helpers so callers need a single import.
var (
	Is  = errors.Is
	As  = errors.As
	New = errors.New
)
