// Package processors turns change events into notification envelopes. Each
// processor maps an entity's status transition to the facts worth telling
// someone about, resolves recipients and hands the envelopes to a Notifier.
//
// Change events are delivered at least once, so processors only ever write
// absolute values back to the store.
package processors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Domenick1991/carpool/internal/changefeed"
	"github.com/Domenick1991/carpool/internal/domain"
	"github.com/Domenick1991/carpool/internal/logger"
	"github.com/Domenick1991/carpool/internal/notify"
	"github.com/Domenick1991/carpool/internal/repository"
	"go.uber.org/zap"
)

type Notifier interface {
	PublishBatch(ctx context.Context, envs []notify.Envelope) notify.BatchResult
}

type Deps struct {
	Users    repository.UserRepository
	Bookings repository.BookingRepository
	Ratings  repository.RatingRepository
	Builder  *notify.Builder
	Notifier Notifier
	Log      *zap.Logger
}

// Register binds a processor for every entity type that produces
// notifications. Notification records are left unbound and get skipped.
func Register(r *changefeed.Router, d Deps) *changefeed.Router {
	return r.
		Register(domain.EntityBooking, NewBookingProcessor(d)).
		Register(domain.EntityRide, NewRideProcessor(d)).
		Register(domain.EntityRating, NewRatingProcessor(d)).
		Register(domain.EntityUser, NewUserProcessor(d)).
		Register(domain.EntityVehicle, NewVehicleProcessor(d))
}

type base struct {
	users    repository.UserRepository
	builder  *notify.Builder
	notifier Notifier
	log      *zap.Logger
}

func newBase(d Deps, name string) base {
	return base{
		users:    d.Users,
		builder:  d.Builder,
		notifier: d.Notifier,
		log:      logger.OrNop(d.Log).Named(name),
	}
}

// send builds one envelope per distinct recipient. Unknown recipients are
// logged and dropped; a failed lookup fails the event so it is counted.
func (b base) send(ctx context.Context, f notify.Fact, userIDs ...string) error {
	envs := make([]notify.Envelope, 0, len(userIDs))
	seen := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		u, err := b.users.GetByID(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			b.log.Warn("notification recipient not found", zap.String("user_id", id), zap.String("fact", f.Kind))
			continue
		}
		if err != nil {
			return fmt.Errorf("load recipient %s: %w", id, err)
		}
		envs = append(envs, b.builder.Build(f, notify.Recipient{UserID: u.ID, Email: u.Email, Name: u.Name}))
	}
	if len(envs) == 0 {
		return nil
	}

	res := b.notifier.PublishBatch(ctx, envs)
	b.log.Debug("notifications dispatched",
		zap.String("fact", f.Kind),
		zap.String("entity_id", f.EntityID),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped))
	return nil
}

func decode[T any](raw json.RawMessage) (*T, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// snapshots decodes both sides of a change. after is nil only for removals.
func snapshots[T any](ev domain.ChangeEvent) (before, after *T, err error) {
	if before, err = decode[T](ev.Before); err != nil {
		return nil, nil, fmt.Errorf("decode before snapshot of %s %s: %w", ev.EntityType, ev.EntityID, err)
	}
	if after, err = decode[T](ev.After); err != nil {
		return nil, nil, fmt.Errorf("decode after snapshot of %s %s: %w", ev.EntityType, ev.EntityID, err)
	}
	return before, after, nil
}
