package domain

import "time"

type BookingStatus string

const (
	BookingStatusPending    BookingStatus = "pending"
	BookingStatusConfirmed  BookingStatus = "confirmed"
	BookingStatusInProgress BookingStatus = "in_progress"
	BookingStatusCompleted  BookingStatus = "completed"
	BookingStatusCancelled  BookingStatus = "cancelled"
	BookingStatusNoShow     BookingStatus = "no_show"
)

// ActiveBookingStatuses hold seats and block removal of their pickup point.
var ActiveBookingStatuses = []BookingStatus{
	BookingStatusPending,
	BookingStatusConfirmed,
	BookingStatusInProgress,
}

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:    {BookingStatusConfirmed, BookingStatusCancelled, BookingStatusNoShow},
	BookingStatusConfirmed:  {BookingStatusInProgress, BookingStatusCancelled, BookingStatusNoShow},
	BookingStatusInProgress: {BookingStatusCompleted, BookingStatusCancelled, BookingStatusNoShow},
}

// CanTransition reports whether the booking status machine allows from -> to.
// Terminal states have no outgoing edges.
func (s BookingStatus) CanTransition(to BookingStatus) bool {
	for _, next := range bookingTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s BookingStatus) Active() bool {
	for _, a := range ActiveBookingStatuses {
		if s == a {
			return true
		}
	}
	return false
}

func (s BookingStatus) Terminal() bool {
	return len(bookingTransitions[s]) == 0
}

type CancelSource string

const (
	CancelSourcePassenger CancelSource = "passenger"
	CancelSourceDriver    CancelSource = "driver"
	CancelSourceRide      CancelSource = "ride"
)

type Cancellation struct {
	ActorID string       `json:"actor_id"`
	Reason  string       `json:"reason,omitempty"`
	Source  CancelSource `json:"source"`
	At      time.Time    `json:"at"`
}

type Booking struct {
	ID                    string        `json:"id"`
	RideID                string        `json:"ride_id"`
	PassengerID           string        `json:"passenger_id"`
	DriverID              string        `json:"driver_id"`
	Seats                 int           `json:"seats"`
	PickupPointID         string        `json:"pickup_point_id,omitempty"`
	Status                BookingStatus `json:"status"`
	VerificationCode      string        `json:"verification_code"`
	VerificationExpiresAt time.Time     `json:"verification_expires_at"`
	Cancellation          *Cancellation `json:"cancellation,omitempty"`
	ConfirmedAt           *time.Time    `json:"confirmed_at,omitempty"`
	StartedAt             *time.Time    `json:"started_at,omitempty"`
	CompletedAt           *time.Time    `json:"completed_at,omitempty"`
	Version               int64         `json:"version"`
	CreatedAt             time.Time     `json:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at"`
}

func (b *Booking) IsParticipant(userID string) bool {
	return userID == b.PassengerID || userID == b.DriverID
}

func (b *Booking) Clone() *Booking {
	c := *b
	if b.Cancellation != nil {
		cc := *b.Cancellation
		c.Cancellation = &cc
	}
	return &c
}
