package email

import (
	"context"
	"fmt"

	"github.com/Domenick1991/carpool/internal/logger"
	"github.com/Domenick1991/carpool/internal/notify"
	"go.uber.org/zap"
)

// Sender is the consuming end of the notification queue. Delivery to a mail
// provider is out of scope, so it renders the envelope into the log.
type Sender struct {
	log *zap.Logger
}

func NewSender(log *zap.Logger) *Sender {
	return &Sender{log: logger.OrNop(log).Named("email")}
}

func (s *Sender) Send(ctx context.Context, env notify.Envelope) error {
	if env.Recipient.Email == "" {
		return fmt.Errorf("envelope %s has no recipient email", env.MessageID)
	}
	s.log.Info("send email",
		zap.String("to", env.Recipient.Email),
		zap.String("subject", env.Payload.Subject),
		zap.String("template", env.Payload.Template),
		zap.String("priority", string(env.Metadata.Priority)),
		zap.String("correlation_id", env.Metadata.CorrelationID),
		zap.Any("data", env.Payload.Data))
	return nil
}
