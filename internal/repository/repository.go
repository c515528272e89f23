package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Domenick1991/carpool/internal/domain"
)

var (
	ErrNotFound = errors.New("repository: not found")
	// ErrConditionFailed: a conditional write's precondition (version, seat
	// count, status) did not hold against the current row.
	ErrConditionFailed = errors.New("repository: condition failed")
	ErrAlreadyExists   = errors.New("repository: already exists")
)

// Transactor runs fn atomically. Repositories called with the ctx passed to fn
// join the transaction; nested WithinTx calls reuse it.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Every write below records a domain.ChangeEvent in the same transaction.

type RideRepository interface {
	Create(ctx context.Context, rides ...*domain.Ride) error
	GetByID(ctx context.Context, id string) (*domain.Ride, error)
	ListByOwner(ctx context.Context, ownerID string, statuses ...domain.RideStatus) ([]domain.Ride, error)
	// Update writes ride if the stored version equals ride.Version and bumps
	// ride.Version on success.
	Update(ctx context.Context, ride *domain.Ride) error
	// ReserveSeats decrements availability only if at least seats are
	// available and the ride is bookable.
	ReserveSeats(ctx context.Context, rideID string, seats int) (*domain.Ride, error)
	// ReleaseSeats increments availability only if at least seats are booked.
	ReleaseSeats(ctx context.Context, rideID string, seats int) (*domain.Ride, error)
}

type BookingRepository interface {
	Create(ctx context.Context, booking *domain.Booking) error
	GetByID(ctx context.Context, id string) (*domain.Booking, error)
	ListByRide(ctx context.Context, rideID string, statuses ...domain.BookingStatus) ([]domain.Booking, error)
	// FindOpen returns the passenger's non-cancelled booking on the ride.
	FindOpen(ctx context.Context, rideID, passengerID string) (*domain.Booking, error)
	Update(ctx context.Context, booking *domain.Booking) error
}

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Update(ctx context.Context, user *domain.User) error
}

type VehicleRepository interface {
	Create(ctx context.Context, vehicle *domain.Vehicle) error
	GetByID(ctx context.Context, id string) (*domain.Vehicle, error)
	ListByOwner(ctx context.Context, ownerID string) ([]domain.Vehicle, error)
	Update(ctx context.Context, vehicle *domain.Vehicle) error
}

type RatingRepository interface {
	// Create fails with ErrAlreadyExists for a second rating of the same
	// booking by the same rater.
	Create(ctx context.Context, rating *domain.Rating) error
	ListByRatedUser(ctx context.Context, userID string) ([]domain.Rating, error)
}

// ChangeFeed surfaces recorded change events at least once. Claimed events are
// hidden from other claimers until claimFor elapses or they are acknowledged.
type ChangeFeed interface {
	Claim(ctx context.Context, limit int, claimFor time.Duration) ([]domain.ChangeEvent, error)
	Ack(ctx context.Context, ids []string) error
}
