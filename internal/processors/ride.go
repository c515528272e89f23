package processors

import (
	"context"
	"fmt"

	"github.com/Domenick1991/carpool/internal/domain"
	"github.com/Domenick1991/carpool/internal/notify"
	"github.com/Domenick1991/carpool/internal/repository"
)

type RideProcessor struct {
	base
	bookings repository.BookingRepository
}

func NewRideProcessor(d Deps) *RideProcessor {
	return &RideProcessor{base: newBase(d, "ride-processor"), bookings: d.Bookings}
}

func (p *RideProcessor) Process(ctx context.Context, ev domain.ChangeEvent) error {
	before, after, err := snapshots[domain.Ride](ev)
	if err != nil {
		return err
	}
	if before == nil || after == nil || before.Status == after.Status {
		return nil
	}

	switch after.Status {
	case domain.RideStatusCancelled:
		return p.cancelled(ctx, ev, after)
	case domain.RideStatusInProgress:
		return p.started(ctx, ev, after)
	}
	return nil
}

// cancelled notifies every passenger whose booking was active when the ride
// was cancelled: bookings still active, and those the cascade cancelled.
func (p *RideProcessor) cancelled(ctx context.Context, ev domain.ChangeEvent, ride *domain.Ride) error {
	bookings, err := p.bookings.ListByRide(ctx, ride.ID)
	if err != nil {
		return fmt.Errorf("list bookings of ride %s: %w", ride.ID, err)
	}

	var passengers []string
	for _, b := range bookings {
		cascaded := b.Status == domain.BookingStatusCancelled &&
			b.Cancellation != nil && b.Cancellation.Source == domain.CancelSourceRide
		if b.Status.Active() || cascaded {
			passengers = append(passengers, b.PassengerID)
		}
	}

	f := rideFact(ev, ride, "ride.cancelled", "ride_cancelled", "Your ride was cancelled")
	f.Priority = notify.PriorityHigh
	f.Data["reason"] = ride.CancellationReason
	return p.send(ctx, f, passengers...)
}

func (p *RideProcessor) started(ctx context.Context, ev domain.ChangeEvent, ride *domain.Ride) error {
	bookings, err := p.bookings.ListByRide(ctx, ride.ID, domain.BookingStatusConfirmed)
	if err != nil {
		return fmt.Errorf("list confirmed bookings of ride %s: %w", ride.ID, err)
	}

	passengers := make([]string, 0, len(bookings))
	for _, b := range bookings {
		passengers = append(passengers, b.PassengerID)
	}
	return p.send(ctx, rideFact(ev, ride, "ride.in_progress", "ride_started", "Your driver is on the way"), passengers...)
}

func rideFact(ev domain.ChangeEvent, ride *domain.Ride, kind, template, subject string) notify.Fact {
	return notify.Fact{
		Kind:       kind,
		EntityType: domain.EntityRide,
		EntityID:   ride.ID,
		ChangeID:   ev.ID,
		Template:   template,
		Subject:    subject,
		Data: map[string]any{
			"ride_id":      ride.ID,
			"departure_at": ride.DepartureAt,
			"origin":       ride.Origin.DisplayName,
			"destination":  ride.Destination.DisplayName,
		},
	}
}
