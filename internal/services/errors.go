package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrTimeout       = errors.New("timeout")
	ErrCapacity      = errors.New("capacity exceeded")
)

// Wrap tags err with marker and prefixes it with stage and operation so the
// failure reads well in an error snapshot.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrExternalTool
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// FailureMessage is the short, observer-facing summary of a stage failure.
// The full error text goes into error_detail.
func FailureMessage(stage string, err error) string {
	stage = strings.TrimSpace(stage)
	if stage == "" {
		stage = "task"
	}
	switch {
	case err == nil:
		return stage + " failed"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return stage + " timed out"
	case errors.Is(err, context.Canceled):
		return stage + " cancelled"
	case errors.Is(err, ErrCapacity):
		return "rejected: " + stage + " capacity exceeded"
	case errors.Is(err, ErrValidation):
		return stage + " produced invalid output"
	case errors.Is(err, ErrConfiguration):
		return stage + " is misconfigured"
	default:
		return stage + " failed"
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	for _, part := range []string{stage, operation, message} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
