package channels

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

type slackSender struct {
	client *resty.Client
	log    *logrus.Entry
}

func newSlackSender(log *logrus.Entry) *slackSender {
	return &slackSender{
		client: resty.New().SetTimeout(defaultCallTimeout),
		log:    log,
	}
}

func (s *slackSender) send(ctx context.Context, msg SlackMessage) (SlackReceipt, error) {
	if msg.Webhook == "" {
		return SlackReceipt{}, &ProviderError{Provider: "slack", Reason: ReasonMissingWebhook}
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"text": msg.Text}).
		Post(msg.Webhook)
	if err != nil {
		return SlackReceipt{}, &ProviderError{Provider: "slack", Reason: ReasonPostFailed, Err: err}
	}
	if resp.IsError() {
		return SlackReceipt{}, &ProviderError{
			Provider: "slack",
			Reason:   ReasonPostFailed,
			Err:      fmt.Errorf("webhook returned %s", resp.Status()),
		}
	}

	s.log.WithField("status", resp.StatusCode()).Debug("slack message posted")
	return SlackReceipt{Status: resp.StatusCode()}, nil
}
