package notify

import (
	"context"
	"fmt"

	"github.com/resend/resend-go/v2"
	"go.uber.org/zap"
)

// EmailNotifier delivers events as email through the Resend API.
type EmailNotifier struct {
	client *resend.Client
	from   string
	logger *zap.Logger
}

// NewEmailNotifier builds a Resend-backed notifier.
func NewEmailNotifier(apiKey, from string, logger *zap.Logger) *EmailNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmailNotifier{
		client: resend.NewClient(apiKey),
		from:   from,
		logger: logger,
	}
}

// Send implements Notifier.
func (n *EmailNotifier) Send(ctx context.Context, event Event) error {
	if len(event.Recipients) == 0 {
		return nil
	}
	params := &resend.SendEmailRequest{
		From:    n.from,
		To:      event.Recipients,
		Subject: event.Subject,
		Text:    event.Body,
	}
	sent, err := n.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return fmt.Errorf("send %s notification: %w", event.Type, err)
	}
	n.logger.Debug("notification sent",
		zap.String("type", event.Type),
		zap.String("email_id", sent.Id),
		zap.Int("recipients", len(event.Recipients)),
	)
	return nil
}
