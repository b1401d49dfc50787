package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nurpe/fieldops/internal/model"
	"github.com/nurpe/fieldops/internal/repository"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrPermissionDenied      = errors.New("permission denied")
	ErrInvalidInput          = errors.New("invalid input")
	ErrInsufficientResources = errors.New("insufficient resources")
	ErrConflict              = errors.New("resource conflict")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrPersistence           = errors.New("persistence failure")
)

// InsufficientResourcesError reports fewer free resources than requested.
type InsufficientResourcesError struct {
	Kind      model.ResourceKind
	Date      time.Time
	Requested int
	Available int
}

func (e *InsufficientResourcesError) Error() string {
	return fmt.Sprintf("%s: %s requested %d, available %d on %s",
		ErrInsufficientResources, e.Kind, e.Requested, e.Available, e.Date.Format("2006-01-02"))
}

func (e *InsufficientResourcesError) Unwrap() error {
	return ErrInsufficientResources
}

// ConflictError reports a resource already committed on the date.
type ConflictError struct {
	Kind       model.ResourceKind
	ResourceID uuid.UUID
	Date       time.Time
	ServiceID  uuid.UUID
	Reason     string
}

func (e *ConflictError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s %s %s", ErrConflict, e.Kind, e.ResourceID, e.Reason)
	}
	return fmt.Sprintf("%s: %s %s already committed to service %s on %s",
		ErrConflict, e.Kind, e.ResourceID, e.ServiceID, e.Date.Format("2006-01-02"))
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// TransitionError reports a status change outside the transition table.
type TransitionError struct {
	From model.ServiceStatus
	To   model.ServiceStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", ErrInvalidTransition, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

func invalidInput(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func notFound(what string, id uuid.UUID) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, what, id)
}

// persistence wraps storage errors that are not already part of the
// taxonomy so callers can tell them apart from client errors.
func persistence(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		ErrNotFound, ErrPermissionDenied, ErrInvalidInput, ErrInsufficientResources,
		ErrConflict, ErrInvalidTransition, ErrPersistence,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}

// lookupErr maps a repository lookup failure onto the taxonomy.
func lookupErr(err error, what string, id uuid.UUID) error {
	if errors.Is(err, repository.ErrNotFound) {
		return notFound(what, id)
	}
	return persistence(err)
}
