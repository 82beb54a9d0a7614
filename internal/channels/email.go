package channels

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/wneessen/go-mail"

	"vex-flows/backend/internal/config"
)

type emailSender struct {
	host     string
	port     int
	user     string
	password string
	from     string
	log      *logrus.Entry
}

func newEmailSender(cfg *config.Config, log *logrus.Entry) *emailSender {
	from := cfg.Channels.SMTP.From
	if from == "" {
		from = cfg.Channels.SMTP.User
	}
	return &emailSender{
		host:     cfg.Channels.SMTP.Host,
		port:     cfg.Channels.SMTP.Port,
		user:     cfg.Channels.SMTP.User,
		password: cfg.Channels.SMTP.Password,
		from:     from,
		log:      log,
	}
}

func (s *emailSender) send(ctx context.Context, msg EmailMessage) (EmailReceipt, error) {
	if msg.To == "" {
		return EmailReceipt{}, &ValidationError{Field: "to"}
	}
	if s.host == "" || s.from == "" {
		return EmailReceipt{}, &ProviderError{Provider: "email", Reason: ReasonTransportMisconfigured}
	}

	m := mail.NewMsg()
	if err := m.From(s.from); err != nil {
		return EmailReceipt{}, &ProviderError{Provider: "email", Reason: ReasonTransportMisconfigured, Err: err}
	}
	if err := m.To(msg.To); err != nil {
		return EmailReceipt{}, &ValidationError{Field: "to"}
	}
	messageID := uuid.New().String()
	m.SetMessageIDWithValue(messageID)
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Text)

	opts := []mail.Option{
		mail.WithPort(s.port),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(defaultCallTimeout),
	}
	if s.user != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.user),
			mail.WithPassword(s.password),
		)
	}
	client, err := mail.NewClient(s.host, opts...)
	if err != nil {
		return EmailReceipt{}, &ProviderError{Provider: "email", Reason: ReasonTransportMisconfigured, Err: err}
	}

	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return EmailReceipt{}, &ProviderError{Provider: "email", Reason: ReasonDeliveryRejected, Err: err}
	}

	s.log.WithFields(logrus.Fields{"to": msg.To, "message_id": messageID}).Debug("email sent")
	return EmailReceipt{MessageID: messageID}, nil
}
