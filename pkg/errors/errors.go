package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrorTypeTransient represents recoverable network or page-load errors
	ErrorTypeTransient ErrorType = "transient"
	// ErrorTypeFriction represents site obstacles (consent prompts, modals, bot challenges)
	ErrorTypeFriction ErrorType = "friction"
	// ErrorTypeStructural represents page markup that no longer matches the adapter
	ErrorTypeStructural ErrorType = "structural"
	// ErrorTypeRow represents a single listing row that failed to parse
	ErrorTypeRow ErrorType = "row"
	// ErrorTypeWrite represents sink append failures
	ErrorTypeWrite ErrorType = "write"
	// ErrorTypeRateLimit represents rate limiting or an active cooldown
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeCache represents cache-related errors
	ErrorTypeCache ErrorType = "cache"
	// ErrorTypePublisher represents publisher-related errors
	ErrorTypePublisher ErrorType = "publisher"
	// ErrorTypeUpload represents database upload errors
	ErrorTypeUpload ErrorType = "upload"
	// ErrorTypeConfiguration represents configuration errors
	ErrorTypeConfiguration ErrorType = "configuration"
)

// ScrapeError represents an acquisition-specific error
type ScrapeError struct {
	Type    ErrorType
	Source  string
	Message string
	Err     error
	Time    time.Time
}

// Error implements the error interface
func (e *ScrapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s - %v", e.Type, e.Source, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.Source, e.Message)
}

// Unwrap returns the underlying error
func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error is worth retrying within the same page step
func (e *ScrapeError) IsRetryable() bool {
	return e.Type == ErrorTypeTransient
}

// IsFatal returns true if the error ends the adapter's run
func (e *ScrapeError) IsFatal() bool {
	switch e.Type {
	case ErrorTypeStructural, ErrorTypeWrite, ErrorTypeConfiguration:
		return true
	default:
		return false
	}
}

// TypeOf classifies an arbitrary error, returning ErrorTypeTransient for
// anything that is not a ScrapeError.
func TypeOf(err error) ErrorType {
	var se *ScrapeError
	if errors.As(err, &se) {
		return se.Type
	}
	return ErrorTypeTransient
}

// New creates a new ScrapeError
func New(errType ErrorType, source, message string, err error) *ScrapeError {
	return &ScrapeError{
		Type:    errType,
		Source:  source,
		Message: message,
		Err:     err,
		Time:    time.Now(),
	}
}

// NewTransient creates a new transient error
func NewTransient(source, message string, err error) *ScrapeError {
	return New(ErrorTypeTransient, source, message, err)
}

// NewFriction creates a new friction error
func NewFriction(source, message string, err error) *ScrapeError {
	return New(ErrorTypeFriction, source, message, err)
}

// NewStructural creates a new structural error
func NewStructural(source, message string, err error) *ScrapeError {
	return New(ErrorTypeStructural, source, message, err)
}

// NewRow creates a new row-level error
func NewRow(source, message string, err error) *ScrapeError {
	return New(ErrorTypeRow, source, message, err)
}

// NewWrite creates a new sink write error
func NewWrite(source, message string, err error) *ScrapeError {
	return New(ErrorTypeWrite, source, message, err)
}

// NewRateLimit creates a new rate limit error
func NewRateLimit(source string, duration time.Duration) *ScrapeError {
	message := fmt.Sprintf("rate limited for %v", duration)
	return New(ErrorTypeRateLimit, source, message, nil)
}

// NewCache creates a new cache error
func NewCache(source, message string, err error) *ScrapeError {
	return New(ErrorTypeCache, source, message, err)
}

// NewPublisher creates a new publisher error
func NewPublisher(source, message string, err error) *ScrapeError {
	return New(ErrorTypePublisher, source, message, err)
}

// NewUpload creates a new upload error
func NewUpload(source, message string, err error) *ScrapeError {
	return New(ErrorTypeUpload, source, message, err)
}

// NewConfiguration creates a new configuration error
func NewConfiguration(message string, err error) *ScrapeError {
	return New(ErrorTypeConfiguration, "", message, err)
}
