package permissions

import (
	"context"
	"errors"
	"log/slog"
	"runtime"

	"github.com/google/uuid"
)

// BatchFailure records one descriptor that could not be created.
type BatchFailure struct {
	Descriptor CreateGrant `json:"descriptor"`
	Error      string      `json:"error"`
}

// BatchWarning flags a created grant whose audit entry could not be written.
type BatchWarning struct {
	GrantID uuid.UUID `json:"grant_id"`
	Error   string    `json:"error"`
}

// BatchResult summarises a BatchCreate call.
// SuccessCount+FailureCount == Total and len(Created) == SuccessCount.
type BatchResult struct {
	Created      []Grant        `json:"created"`
	Failed       []BatchFailure `json:"failed"`
	Warnings     []BatchWarning `json:"warnings,omitempty"`
	Total        int            `json:"total"`
	SuccessCount int            `json:"success_count"`
	FailureCount int            `json:"failure_count"`
}

// BatchCreate creates each descriptor independently, in input order. A failing
// descriptor is reported in Failed and does not stop the ones after it; grants
// already created are kept. Only an invalid kind or batch size fails the call.
func (s *Service) BatchCreate(ctx context.Context, actor uuid.UUID, kind ResourceKind, items []CreateGrant) (BatchResult, error) {
	if !kind.Valid() {
		return BatchResult{}, ErrInvalidKind
	}
	if len(items) == 0 || len(items) > MaxBatchSize {
		return BatchResult{}, ErrBatchSize
	}
	result := BatchResult{
		Created: make([]Grant, 0, len(items)),
		Failed:  []BatchFailure{},
		Total:   len(items),
	}
	for _, item := range items {
		created, err := s.attempt(ctx, actor, kind, item)
		var auditErr auditError
		if errors.As(err, &auditErr) && created.ID != uuid.Nil {
			// Stored already; reporting it as failed would invite a duplicate on retry.
			s.logger.Warn("grant created without audit entry",
				slog.String("grant_id", created.ID.String()), slog.Any("error", err))
			result.Created = append(result.Created, created)
			result.Warnings = append(result.Warnings, BatchWarning{GrantID: created.ID, Error: err.Error()})
			continue
		}
		if err != nil {
			result.Failed = append(result.Failed, BatchFailure{Descriptor: item, Error: errorMessage(err)})
			continue
		}
		result.Created = append(result.Created, created)
	}
	result.SuccessCount = len(result.Created)
	result.FailureCount = len(result.Failed)
	if s.metrics != nil {
		s.metrics.ObserveBatch(string(kind), result.SuccessCount, result.FailureCount)
	}
	return result, nil
}

// attempt runs one descriptor, converting a panic into a failure.
func (s *Service) attempt(ctx context.Context, actor uuid.UUID, kind ResourceKind, item CreateGrant) (created Grant, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			created = Grant{}
			err = panicError{value: rec}
		}
	}()
	return s.createOne(ctx, actor, kind, item)
}

type panicError struct {
	value any
}

func (p panicError) Error() string {
	if _, ok := p.value.(*runtime.PanicNilError); ok {
		return UnknownErrorMessage
	}
	if err, ok := p.value.(error); ok {
		return err.Error()
	}
	return UnknownErrorMessage
}

// errorMessage extracts the text reported for a failed descriptor.
func errorMessage(err error) string {
	if err == nil {
		return UnknownErrorMessage
	}
	return err.Error()
}
