package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type RideStatus string

const (
	RideStatusDraft      RideStatus = "draft"
	RideStatusActive     RideStatus = "active"
	RideStatusFull       RideStatus = "full"
	RideStatusInProgress RideStatus = "in_progress"
	RideStatusCompleted  RideStatus = "completed"
	RideStatusCancelled  RideStatus = "cancelled"
)

// Bookable reports whether seats may still be reserved or released against
// the ride's counters.
func (s RideStatus) Bookable() bool {
	return s == RideStatusActive || s == RideStatusFull
}

type Place struct {
	Address     string  `json:"address"`
	DisplayName string  `json:"display_name"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
}

type PickupPoint struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Lat           float64 `json:"lat"`
	Lng           float64 `json:"lng"`
	OffsetMinutes int     `json:"offset_minutes"`
	Order         int     `json:"order"`
}

type Recurrence struct {
	Days    []time.Weekday `json:"days"`
	EndDate *time.Time     `json:"end_date,omitempty"`
}

type Ride struct {
	ID                  string          `json:"id"`
	OwnerID             string          `json:"owner_id"`
	VehicleID           string          `json:"vehicle_id"`
	DepartureAt         time.Time       `json:"departure_at"`
	Origin              Place           `json:"origin"`
	Destination         Place           `json:"destination"`
	PickupPoints        []PickupPoint   `json:"pickup_points"`
	TotalSeats          int             `json:"total_seats"`
	AvailableSeats      int             `json:"available_seats"`
	BookedSeats         int             `json:"booked_seats"`
	PricePerSeat        decimal.Decimal `json:"price_per_seat"`
	WaitMinutes         int             `json:"wait_minutes"`
	Notes               string          `json:"notes,omitempty"`
	Status              RideStatus      `json:"status"`
	IsRecurring         bool            `json:"is_recurring"`
	Recurrence          *Recurrence     `json:"recurrence,omitempty"`
	IsRecurringInstance bool            `json:"is_recurring_instance"`
	ParentRideID        string          `json:"parent_ride_id,omitempty"`
	CancellationReason  string          `json:"cancellation_reason,omitempty"`
	CancelledAt         *time.Time      `json:"cancelled_at,omitempty"`
	StartedAt           *time.Time      `json:"started_at,omitempty"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
	DurationMinutes     int             `json:"duration_minutes,omitempty"`
	Version             int64           `json:"version"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// SetTotalSeats changes capacity and re-derives availability and the
// active/full status. The caller must have checked total >= BookedSeats.
func (r *Ride) SetTotalSeats(total int) {
	r.TotalSeats = total
	r.AvailableSeats = total - r.BookedSeats
	r.syncFullStatus()
}

// Reserve moves seats from available to booked.
func (r *Ride) Reserve(seats int) {
	r.AvailableSeats -= seats
	r.BookedSeats += seats
	r.syncFullStatus()
}

// Release moves seats from booked back to available.
func (r *Ride) Release(seats int) {
	r.AvailableSeats += seats
	r.BookedSeats -= seats
	r.syncFullStatus()
}

func (r *Ride) syncFullStatus() {
	if !r.Status.Bookable() {
		return
	}
	if r.AvailableSeats == 0 {
		r.Status = RideStatusFull
	} else {
		r.Status = RideStatusActive
	}
}

func (r *Ride) PickupPoint(id string) (PickupPoint, bool) {
	for _, p := range r.PickupPoints {
		if p.ID == id {
			return p, true
		}
	}
	return PickupPoint{}, false
}

// Departed reports whether the departure time has passed at now.
func (r *Ride) Departed(now time.Time) bool {
	return !now.Before(r.DepartureAt)
}

// Clone returns a deep copy, so snapshots taken before a mutation stay intact.
func (r *Ride) Clone() *Ride {
	c := *r
	c.PickupPoints = append([]PickupPoint(nil), r.PickupPoints...)
	if r.Recurrence != nil {
		rec := *r.Recurrence
		rec.Days = append([]time.Weekday(nil), r.Recurrence.Days...)
		c.Recurrence = &rec
	}
	return &c
}
