package processors

import (
	"context"

	"github.com/Domenick1991/carpool/internal/domain"
	"github.com/Domenick1991/carpool/internal/notify"
)

// transitionCreated keys rules that fire when the entity first appears.
const transitionCreated = "created"

type bookingRule struct {
	kind       string
	template   string
	subject    string
	priority   notify.Priority
	recipients func(b *domain.Booking) []string
	// revealCode puts the boarding code in the payload; only passenger-facing
	// rules set it.
	revealCode bool
}

func passenger(b *domain.Booking) []string { return []string{b.PassengerID} }
func driver(b *domain.Booking) []string    { return []string{b.DriverID} }
func both(b *domain.Booking) []string      { return []string{b.PassengerID, b.DriverID} }

// otherParty notifies whoever did not cancel. Ride cascades are announced by
// the ride processor, so they select nobody here.
func otherParty(b *domain.Booking) []string {
	if b.Cancellation == nil {
		return both(b)
	}
	switch b.Cancellation.Source {
	case domain.CancelSourceRide:
		return nil
	case domain.CancelSourceDriver:
		return passenger(b)
	case domain.CancelSourcePassenger:
		return driver(b)
	}
	if b.Cancellation.ActorID == b.DriverID {
		return passenger(b)
	}
	return driver(b)
}

var bookingRules = map[string]bookingRule{
	transitionCreated: {
		kind: "booking.created", template: "booking_requested",
		subject: "New booking on your ride", recipients: driver,
	},
	string(domain.BookingStatusConfirmed): {
		kind: "booking.confirmed", template: "booking_confirmed",
		subject: "Your booking is confirmed", recipients: passenger, revealCode: true,
	},
	string(domain.BookingStatusCancelled): {
		kind: "booking.cancelled", template: "booking_cancelled",
		subject: "A booking was cancelled", priority: notify.PriorityHigh, recipients: otherParty,
	},
	string(domain.BookingStatusInProgress): {
		kind: "booking.in_progress", template: "trip_started",
		subject: "Your trip has started", recipients: passenger,
	},
	string(domain.BookingStatusCompleted): {
		kind: "booking.completed", template: "rate_your_trip",
		subject: "How was your trip?", recipients: both,
	},
	string(domain.BookingStatusNoShow): {
		kind: "booking.no_show", template: "booking_no_show",
		subject: "You were marked as a no-show", recipients: passenger,
	},
}

type BookingProcessor struct {
	base
}

func NewBookingProcessor(d Deps) *BookingProcessor {
	return &BookingProcessor{base: newBase(d, "booking-processor")}
}

func (p *BookingProcessor) Process(ctx context.Context, ev domain.ChangeEvent) error {
	before, after, err := snapshots[domain.Booking](ev)
	if err != nil {
		return err
	}
	if after == nil {
		return nil
	}

	var transitions []string
	switch {
	case before == nil:
		transitions = append(transitions, transitionCreated)
		// Auto-confirmed bookings are born confirmed.
		if after.Status == domain.BookingStatusConfirmed {
			transitions = append(transitions, string(after.Status))
		}
	case before.Status != after.Status:
		transitions = append(transitions, string(after.Status))
	default:
		return nil
	}

	for _, transition := range transitions {
		rule, ok := bookingRules[transition]
		if !ok {
			continue
		}
		if err := p.send(ctx, bookingFact(ev, rule, after), rule.recipients(after)...); err != nil {
			return err
		}
	}
	return nil
}

func bookingFact(ev domain.ChangeEvent, rule bookingRule, b *domain.Booking) notify.Fact {
	data := map[string]any{
		"booking_id": b.ID,
		"ride_id":    b.RideID,
		"seats":      b.Seats,
		"status":     string(b.Status),
	}
	if b.PickupPointID != "" {
		data["pickup_point_id"] = b.PickupPointID
	}
	if b.Cancellation != nil {
		data["reason"] = b.Cancellation.Reason
		data["cancelled_by"] = string(b.Cancellation.Source)
	}
	if rule.revealCode {
		data["verification_code"] = b.VerificationCode
	}
	return notify.Fact{
		Kind:       rule.kind,
		EntityType: domain.EntityBooking,
		EntityID:   b.ID,
		ChangeID:   ev.ID,
		Template:   rule.template,
		Subject:    rule.subject,
		Data:       data,
		Priority:   rule.priority,
	}
}
