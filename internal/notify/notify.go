package notify

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/nurpe/fieldops/internal/model"
	"github.com/nurpe/fieldops/internal/service"
)

// LogNotifier writes every status change to the structured log.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) OnStatusChanged(_ context.Context, svc model.Service, from, to model.ServiceStatus) error {
	event := n.log.Info().
		Str("service_id", svc.ID.String()).
		Str("client_id", svc.ClientID.String()).
		Str("from", string(from)).
		Str("to", string(to)).
		Time("scheduled_date", svc.ScheduledDate)
	if svc.IncompleteReason != nil {
		event = event.Str("reason", *svc.IncompleteReason)
	}
	event.Msg("service status notification")
	return nil
}

// Multi fans a change out to every notifier. All of them run; their failures
// are joined.
type Multi []service.Notifier

func (m Multi) OnStatusChanged(ctx context.Context, svc model.Service, from, to model.ServiceStatus) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.OnStatusChanged(ctx, svc, from, to); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
