package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/Domenick1991/carpool/internal/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Transport delivers one envelope to the queue.
type Transport interface {
	Send(ctx context.Context, env Envelope) error
	Name() string
}

// Deduper remembers correlation ids already handed to the transport.
type Deduper interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Forget(ctx context.Context, key string) error
}

type Status string

// StatusSkipped means no transport is configured; StatusDuplicate means the
// correlation id was already published.
const (
	StatusPublished Status = "published"
	StatusSkipped   Status = "skipped"
	StatusDuplicate Status = "duplicate"
	StatusFailed    Status = "failed"
)

type Result struct {
	Status    Status
	MessageID string
	Reason    string
}

func (r Result) OK() bool { return r.Status != StatusFailed }

type BatchResult struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

type PublisherOption func(*Publisher)

func WithDeduper(d Deduper, ttl time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.dedupe = d
		p.dedupeTTL = ttl
	}
}

func WithConcurrency(n int) PublisherOption {
	return func(p *Publisher) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// Publisher never returns an error and never panics: a notification failure
// must not fail the business mutation that caused it.
type Publisher struct {
	transport   Transport
	dedupe      Deduper
	dedupeTTL   time.Duration
	concurrency int
	log         *zap.Logger
}

// NewPublisher accepts a nil transport; every publish is then skipped.
func NewPublisher(transport Transport, log *zap.Logger, opts ...PublisherOption) *Publisher {
	p := &Publisher{transport: transport, concurrency: 8, log: logger.OrNop(log).Named("publisher")}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Publisher) Configured() bool { return p.transport != nil }

func (p *Publisher) Publish(ctx context.Context, env Envelope) (res Result) {
	res = Result{MessageID: env.MessageID}
	fields := []zap.Field{
		zap.String("message_id", env.MessageID),
		zap.String("correlation_id", env.Metadata.CorrelationID),
		zap.String("template", env.Payload.Template),
		zap.String("recipient", env.Recipient.UserID),
	}

	if p.transport == nil {
		p.log.Debug("transport not configured, dropping envelope", fields...)
		res.Status, res.Reason = StatusSkipped, "transport not configured"
		return res
	}

	defer func() {
		if r := recover(); r != nil {
			p.log.Warn("transport panicked", append(fields, zap.Any("panic", r))...)
			res.Status, res.Reason = StatusFailed, fmt.Sprintf("panic: %v", r)
		}
	}()

	key := env.Metadata.CorrelationID
	if p.dedupe != nil && key != "" {
		fresh, err := p.dedupe.Claim(ctx, key, p.dedupeTTL)
		if err != nil {
			p.log.Warn("dedupe claim failed, sending anyway", append(fields, zap.Error(err))...)
		} else if !fresh {
			p.log.Debug("envelope already published", fields...)
			res.Status = StatusDuplicate
			return res
		}
	}

	if err := p.transport.Send(ctx, env); err != nil {
		p.log.Warn("publish failed", append(fields, zap.String("transport", p.transport.Name()), zap.Error(err))...)
		if p.dedupe != nil && key != "" {
			if ferr := p.dedupe.Forget(ctx, key); ferr != nil {
				p.log.Warn("dedupe forget failed", append(fields, zap.Error(ferr))...)
			}
		}
		res.Status, res.Reason = StatusFailed, err.Error()
		return res
	}

	res.Status = StatusPublished
	return res
}

// PublishBatch sends every envelope independently; one failure never stops
// the others and ordering across members is not preserved.
func (p *Publisher) PublishBatch(ctx context.Context, envs []Envelope) BatchResult {
	results := make([]Result, len(envs))

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i := range envs {
		g.Go(func() error {
			results[i] = p.Publish(ctx, envs[i])
			return nil
		})
	}
	_ = g.Wait()

	var out BatchResult
	for _, r := range results {
		switch r.Status {
		case StatusFailed:
			out.Failed++
		case StatusSkipped:
			out.Skipped++
		default:
			out.Succeeded++
		}
	}
	if out.Failed > 0 {
		p.log.Warn("batch publish had failures",
			zap.Int("succeeded", out.Succeeded), zap.Int("failed", out.Failed), zap.Int("skipped", out.Skipped))
	}
	return out
}
