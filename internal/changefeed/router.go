package changefeed

import (
	"context"
	"fmt"

	"github.com/Domenick1991/carpool/internal/domain"
	"github.com/Domenick1991/carpool/internal/logger"
	"go.uber.org/zap"
)

// Processor reacts to one change event. It may be invoked more than once for
// the same event.
type Processor interface {
	Process(ctx context.Context, ev domain.ChangeEvent) error
}

type ProcessorFunc func(ctx context.Context, ev domain.ChangeEvent) error

func (f ProcessorFunc) Process(ctx context.Context, ev domain.ChangeEvent) error { return f(ctx, ev) }

type Tally struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Errored   int `json:"errored"`
}

func (t *Tally) Add(o Tally) {
	t.Processed += o.Processed
	t.Skipped += o.Skipped
	t.Errored += o.Errored
}

type Router struct {
	processors map[domain.EntityType]Processor
	log        *zap.Logger
}

func NewRouter(log *zap.Logger) *Router {
	return &Router{processors: map[domain.EntityType]Processor{}, log: logger.OrNop(log).Named("router")}
}

// Register replaces any processor already bound to t.
func (r *Router) Register(t domain.EntityType, p Processor) *Router {
	r.processors[t] = p
	return r
}

// Route processes events in order. A failing or panicking record is counted as
// errored and never stops the rest of the batch.
func (r *Router) Route(ctx context.Context, events []domain.ChangeEvent) Tally {
	var t Tally
	for _, ev := range events {
		p, ok := r.processorFor(ev)
		if !ok {
			t.Skipped++
			continue
		}
		if err := r.dispatch(ctx, p, ev); err != nil {
			t.Errored++
			r.log.Error("change event processing failed",
				zap.String("change_id", ev.ID),
				zap.String("entity_type", string(ev.EntityType)),
				zap.String("entity_id", ev.EntityID),
				zap.String("kind", string(ev.Kind)),
				zap.Error(err))
			continue
		}
		t.Processed++
	}
	return t
}

func (r *Router) processorFor(ev domain.ChangeEvent) (Processor, bool) {
	switch ev.EntityType {
	case domain.EntityRide, domain.EntityBooking, domain.EntityRating,
		domain.EntityUser, domain.EntityVehicle, domain.EntityNotification:
		p, ok := r.processors[ev.EntityType]
		return p, ok
	default:
		r.log.Debug("unknown entity type", zap.String("entity_type", string(ev.EntityType)), zap.String("change_id", ev.ID))
		return nil, false
	}
}

func (r *Router) dispatch(ctx context.Context, p Processor, ev domain.ChangeEvent) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("processor panicked: %v", rec)
		}
	}()
	return p.Process(ctx, ev)
}
