package channels

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"vex-flows/backend/internal/config"
)

const twilioMessagesURL = "https://api.twilio.com/2010-04-01/Accounts/%s/Messages.json"

type whatsappSender struct {
	client     *resty.Client
	accountSID string
	authToken  string
	from       string
	log        *logrus.Entry
}

func newWhatsAppSender(cfg *config.Config, log *logrus.Entry) *whatsappSender {
	return &whatsappSender{
		client:     resty.New().SetTimeout(defaultCallTimeout),
		accountSID: cfg.Channels.WhatsApp.AccountSID,
		authToken:  cfg.Channels.WhatsApp.AuthToken,
		from:       cfg.Channels.WhatsApp.From,
		log:        log,
	}
}

func (s *whatsappSender) send(ctx context.Context, msg WhatsAppMessage) (WhatsAppReceipt, error) {
	if msg.To == "" {
		return WhatsAppReceipt{}, &ValidationError{Field: "to"}
	}

	// Without gateway credentials the channel resolves to a deterministic
	// stub success, which keeps flows testable end to end.
	if s.accountSID == "" || s.authToken == "" || s.from == "" {
		s.log.WithField("to", msg.To).Debug("whatsapp gateway not configured, stub send")
		return WhatsAppReceipt{Status: http.StatusOK, Mock: true}, nil
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetBasicAuth(s.accountSID, s.authToken).
		SetFormData(map[string]string{
			"From": "whatsapp:" + s.from,
			"To":   "whatsapp:" + msg.To,
			"Body": msg.Message,
		}).
		Post(fmt.Sprintf(twilioMessagesURL, s.accountSID))
	if err != nil {
		return WhatsAppReceipt{}, &ProviderError{Provider: "whatsapp", Reason: ReasonPostFailed, Err: err}
	}
	if resp.IsError() {
		return WhatsAppReceipt{}, &ProviderError{
			Provider: "whatsapp",
			Reason:   ReasonPostFailed,
			Err:      fmt.Errorf("twilio returned %s", resp.Status()),
		}
	}

	s.log.WithFields(logrus.Fields{"to": msg.To, "status": resp.StatusCode()}).Debug("whatsapp message sent")
	return WhatsAppReceipt{Status: resp.StatusCode()}, nil
}
