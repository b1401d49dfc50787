package notify

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/nurpe/fieldops/internal/model"
	"github.com/nurpe/fieldops/internal/repository"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Enabled reports whether enough settings exist to send mail.
func (c SMTPConfig) Enabled() bool {
	return strings.TrimSpace(c.Host) != "" && strings.TrimSpace(c.From) != ""
}

type Message struct {
	To      []string
	Subject string
	Body    string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type SMTPSender struct {
	cfg SMTPConfig
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return errors.New("message has no recipients")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	headers := []string{
		"From: " + s.cfg.From,
		"To: " + strings.Join(msg.To, ", "),
		"Subject: " + msg.Subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
	}
	body := strings.Join(headers, "\r\n") + "\r\n\r\n" + msg.Body

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	if err := smtp.SendMail(addr, auth, s.cfg.From, msg.To, []byte(body)); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

// EmailNotifier mails the client of the service on every status change.
type EmailNotifier struct {
	clients repository.ClientDirectory
	sender  Sender
	log     zerolog.Logger
}

func NewEmailNotifier(clients repository.ClientDirectory, sender Sender, log zerolog.Logger) *EmailNotifier {
	return &EmailNotifier{clients: clients, sender: sender, log: log}
}

func (n *EmailNotifier) OnStatusChanged(ctx context.Context, svc model.Service, from, to model.ServiceStatus) error {
	client := svc.Client
	if client == nil {
		loaded, err := n.clients.GetClient(ctx, svc.ClientID)
		if err != nil {
			return fmt.Errorf("load client %s: %w", svc.ClientID, err)
		}
		client = loaded
	}
	if strings.TrimSpace(client.Email) == "" {
		n.log.Debug().Str("client_id", client.ID.String()).Msg("client has no email, skipping notification")
		return nil
	}

	return n.sender.Send(ctx, Message{
		To:      []string{client.Email},
		Subject: fmt.Sprintf("Servicio %s: %s", svc.ScheduledDate.Format("02/01/2006"), statusLabel(to)),
		Body:    messageBody(*client, svc, from, to),
	})
}

func messageBody(client model.Client, svc model.Service, from, to model.ServiceStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Estimado/a %s,\n\n", client.Name)
	fmt.Fprintf(&b, "El servicio programado para el %s en %s cambió de estado: %s -> %s.\n",
		svc.ScheduledDate.Format("02/01/2006"), svc.Location, statusLabel(from), statusLabel(to))
	if to == model.ServiceStatusIncomplete && svc.IncompleteReason != nil {
		fmt.Fprintf(&b, "Motivo: %s\n", *svc.IncompleteReason)
	}
	b.WriteString("\nReferencia: " + svc.ID.String() + "\n")
	return b.String()
}

func statusLabel(status model.ServiceStatus) string {
	switch status {
	case model.ServiceStatusScheduled:
		return "programado"
	case model.ServiceStatusEnRoute:
		return "en ruta"
	case model.ServiceStatusInProgress:
		return "en proceso"
	case model.ServiceStatusCompleted:
		return "completado"
	case model.ServiceStatusRescheduled:
		return "reprogramado"
	case model.ServiceStatusIncomplete:
		return "incompleto"
	case model.ServiceStatusCancelled:
		return "cancelado"
	}
	return string(status)
}
