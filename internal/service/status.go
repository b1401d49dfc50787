package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nurpe/fieldops/internal/metrics"
	"github.com/nurpe/fieldops/internal/model"
	"github.com/nurpe/fieldops/internal/repository"
)

// Notifier is told about every committed status change. Implementations
// should not block for long; errors are logged and dropped.
type Notifier interface {
	OnStatusChanged(ctx context.Context, svc model.Service, from, to model.ServiceStatus) error
}

type ChangeStatusRequest struct {
	TargetStatus model.ServiceStatus `json:"target_status"`
	Reason       *string             `json:"reason"`
	// ScheduledDate moves the service when rescheduling or when it comes
	// back from REPROGRAMADO.
	ScheduledDate *time.Time `json:"scheduled_date"`
}

type ServiceStateMachine struct {
	store     repository.Store
	allocator *ResourceAllocator
	notifier  Notifier
	metrics   *metrics.Metrics
	log       zerolog.Logger
	now       func() time.Time
}

func NewServiceStateMachine(
	store repository.Store,
	allocator *ResourceAllocator,
	notifier Notifier,
	m *metrics.Metrics,
	log zerolog.Logger,
) *ServiceStateMachine {
	return &ServiceStateMachine{
		store:     store,
		allocator: allocator,
		notifier:  notifier,
		metrics:   m,
		log:       log,
		now:       time.Now,
	}
}

// planTransition decides the next state of svc without touching storage. It
// returns the updated copy.
func planTransition(svc model.Service, req ChangeStatusRequest, now time.Time) (model.Service, error) {
	if !req.TargetStatus.Valid() {
		return svc, invalidInput("unknown status %q", req.TargetStatus)
	}
	if !svc.Status.CanTransition(req.TargetStatus) {
		return svc, &TransitionError{From: svc.Status, To: req.TargetStatus}
	}

	next := svc
	next.Status = req.TargetStatus
	next.UpdatedAt = now

	switch req.TargetStatus {
	case model.ServiceStatusInProgress:
		if next.StartedAt == nil {
			next.StartedAt = &now
		}
	case model.ServiceStatusCompleted:
		if next.FinishedAt == nil {
			next.FinishedAt = &now
		}
	case model.ServiceStatusIncomplete:
		if req.Reason == nil || strings.TrimSpace(*req.Reason) == "" {
			return svc, invalidInput("reason is required for %s", model.ServiceStatusIncomplete)
		}
		reason := *req.Reason
		next.IncompleteReason = &reason
	}

	if req.ScheduledDate != nil {
		switch req.TargetStatus {
		case model.ServiceStatusRescheduled, model.ServiceStatusScheduled:
			if req.ScheduledDate.IsZero() {
				return svc, invalidInput("scheduled_date must not be empty")
			}
			next.ScheduledDate = *req.ScheduledDate
		default:
			return svc, invalidInput("scheduled_date can only change with %s or %s",
				model.ServiceStatusRescheduled, model.ServiceStatusScheduled)
		}
	}
	return next, nil
}

// ChangeStatus moves the service along the lifecycle. The change and its
// resource side effects commit together; the notifier runs afterwards.
func (m *ServiceStateMachine) ChangeStatus(ctx context.Context, id uuid.UUID, req ChangeStatusRequest) (*model.Service, error) {
	var (
		from    model.ServiceStatus
		updated model.Service
	)
	err := m.store.Transaction(ctx, func(tx repository.Tx) error {
		svc, err := tx.GetService(ctx, id)
		if err != nil {
			return lookupErr(err, "service", id)
		}
		from = svc.Status

		next, err := planTransition(*svc, req, m.now().UTC())
		if err != nil {
			return err
		}

		if next.Status == model.ServiceStatusScheduled {
			if err := m.allocator.Revalidate(ctx, tx, &next); err != nil {
				return err
			}
		}
		if err := tx.UpdateService(ctx, &next); err != nil {
			return err
		}
		if err := m.allocator.ReleaseResources(ctx, tx, &next); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, persistence(err)
	}

	m.metrics.Transition(string(from), string(updated.Status))
	m.log.Info().
		Str("service_id", id.String()).
		Str("from", string(from)).
		Str("to", string(updated.Status)).
		Msg("service status changed")

	m.notify(ctx, updated, from)
	return m.allocator.GetService(ctx, id)
}

func (m *ServiceStateMachine) notify(ctx context.Context, svc model.Service, from model.ServiceStatus) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.OnStatusChanged(ctx, svc, from, svc.Status); err != nil {
		m.metrics.NotificationFailed()
		m.log.Warn().Err(err).
			Str("service_id", svc.ID.String()).
			Str("status", string(svc.Status)).
			Msg("status notification failed")
	}
}
