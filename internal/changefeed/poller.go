package changefeed

import (
	"context"
	"sync"
	"time"

	"github.com/Domenick1991/carpool/config"
	"github.com/Domenick1991/carpool/internal/domain"
	"github.com/Domenick1991/carpool/internal/logger"
	"github.com/Domenick1991/carpool/internal/repository"
	"go.uber.org/zap"
)

type PollerConfig struct {
	BatchSize    int
	PollInterval time.Duration
	ClaimFor     time.Duration
}

func PollerConfigFrom(cfg config.WorkerConfig) PollerConfig {
	return PollerConfig{
		BatchSize:    cfg.BatchSize,
		PollInterval: time.Duration(cfg.PollIntervalSeconds) * time.Second,
		ClaimFor:     time.Duration(cfg.ClaimSeconds) * time.Second,
	}
}

// Poller drains the change feed into the router. Batches are acknowledged as
// a whole once routed; an unacknowledged batch reappears after ClaimFor.
type Poller struct {
	feed   repository.ChangeFeed
	router *Router
	cfg    PollerConfig
	log    *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPoller(feed repository.ChangeFeed, router *Router, cfg PollerConfig, log *zap.Logger) *Poller {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.ClaimFor <= 0 {
		cfg.ClaimFor = time.Minute
	}
	return &Poller{feed: feed, router: router, cfg: cfg, log: logger.OrNop(log).Named("poller")}
}

func (p *Poller) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go p.loop(ctx)

	p.log.Info("change feed poller started",
		zap.Int("batch_size", p.cfg.BatchSize),
		zap.Duration("poll_interval", p.cfg.PollInterval))
}

func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Info("change feed poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Poller) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Drain(ctx)
		}
	}
}

// Drain routes claimed batches until the feed is empty or a claim fails.
func (p *Poller) Drain(ctx context.Context) Tally {
	var total Tally
	for ctx.Err() == nil {
		t, n, err := p.PollOnce(ctx)
		total.Add(t)
		if err != nil || n < p.cfg.BatchSize {
			break
		}
	}
	return total
}

// PollOnce claims, routes and acknowledges a single batch. It returns the
// number of events claimed.
func (p *Poller) PollOnce(ctx context.Context) (Tally, int, error) {
	events, err := p.feed.Claim(ctx, p.cfg.BatchSize, p.cfg.ClaimFor)
	if err != nil {
		p.log.Error("failed to claim change events", zap.Error(err))
		return Tally{}, 0, err
	}
	if len(events) == 0 {
		return Tally{}, 0, nil
	}

	t := p.router.Route(ctx, events)

	if err := p.feed.Ack(ctx, ids(events)); err != nil {
		p.log.Error("failed to acknowledge change events", zap.Int("count", len(events)), zap.Error(err))
		return t, len(events), err
	}

	p.log.Debug("change batch routed",
		zap.Int("processed", t.Processed),
		zap.Int("skipped", t.Skipped),
		zap.Int("errored", t.Errored))
	return t, len(events), nil
}

func ids(events []domain.ChangeEvent) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.ID
	}
	return out
}
