package email

import (
	"context"
	"testing"

	"github.com/Domenick1991/carpool/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSender_Send(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	s := NewSender(zap.New(core))

	env := notify.Envelope{
		MessageID: "m-1",
		Recipient: notify.Recipient{UserID: "u-1", Email: "u1@example.com"},
		Payload:   notify.Payload{Template: "ride_cancelled", Subject: "Your ride was cancelled"},
		Metadata:  notify.Metadata{CorrelationID: "c-1", Priority: notify.PriorityHigh},
	}
	require.NoError(t, s.Send(context.Background(), env))

	entries := logs.FilterMessage("send email").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "u1@example.com", fields["to"])
	assert.Equal(t, "ride_cancelled", fields["template"])
	assert.Equal(t, "high", fields["priority"])
}

func TestSender_SendWithoutEmail(t *testing.T) {
	s := NewSender(nil)
	err := s.Send(context.Background(), notify.Envelope{MessageID: "m-2"})
	assert.ErrorContains(t, err, "m-2")
}
