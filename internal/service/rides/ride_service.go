package rides

import (
	"context"
	"errors"
	"time"

	"github.com/Domenick1991/carpool/config"
	"github.com/Domenick1991/carpool/internal/apperr"
	"github.com/Domenick1991/carpool/internal/cachekeys"
	"github.com/Domenick1991/carpool/internal/domain"
	"github.com/Domenick1991/carpool/internal/logger"
	"github.com/Domenick1991/carpool/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type RideUseCase interface {
	CreateRide(ctx context.Context, ownerID string, input CreateRideInput) (*CreateRideResult, error)
	UpdateRide(ctx context.Context, rideID, ownerID string, input UpdateRideInput) (*domain.Ride, error)
	CancelRide(ctx context.Context, rideID, ownerID, reason string) (*CancelRideResult, error)
	StartRide(ctx context.Context, rideID, ownerID string) (*domain.Ride, error)
	CompleteRide(ctx context.Context, rideID, ownerID string) (*domain.Ride, error)
	AddPickupPoint(ctx context.Context, rideID, ownerID string, input PickupPointInput) (*domain.Ride, error)
	RemovePickupPoint(ctx context.Context, rideID, ownerID, pointID string) (*domain.Ride, error)
	ReorderPickupPoints(ctx context.Context, rideID, ownerID string, pointIDs []string) (*domain.Ride, error)
	GetRide(ctx context.Context, rideID string) (*domain.Ride, error)
	ListOwnerRides(ctx context.Context, ownerID string) ([]domain.Ride, error)
}

// Cache is optional; a nil cache disables read-through and invalidation.
type Cache interface {
	GetRide(ctx context.Context, id string) (*domain.Ride, error)
	SetRide(ctx context.Context, ride *domain.Ride) error
	Invalidate(ctx context.Context, keys ...string) error
}

// BookingCascader cancels the bookings left active by a ride cancellation. It
// runs inside the cancelling transaction.
type BookingCascader interface {
	CascadeRideCancellation(ctx context.Context, ride *domain.Ride, affected []domain.Booking) ([]domain.Booking, error)
}

type Repos struct {
	Tx       repository.Transactor
	Rides    repository.RideRepository
	Bookings repository.BookingRepository
	Users    repository.UserRepository
	Vehicles repository.VehicleRepository
}

type Option func(*Service)

func WithCache(c Cache) Option {
	return func(s *Service) { s.cache = c }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

type Service struct {
	tx       repository.Transactor
	rides    repository.RideRepository
	bookings repository.BookingRepository
	users    repository.UserRepository
	vehicles repository.VehicleRepository
	cascader BookingCascader
	cache    Cache
	cfg      config.RidesConfig
	now      func() time.Time
	newID    func() string
	log      *zap.Logger
}

func NewService(repos Repos, cascader BookingCascader, cfg config.RidesConfig, log *zap.Logger, opts ...Option) *Service {
	s := &Service{
		tx:       repos.Tx,
		rides:    repos.Rides,
		bookings: repos.Bookings,
		users:    repos.Users,
		vehicles: repos.Vehicles,
		cascader: cascader,
		cfg:      cfg,
		now:      time.Now,
		newID:    uuid.NewString,
		log:      logger.OrNop(log).Named("rides"),
	}
	if s.cfg.UpdateRetryAttempts <= 0 {
		s.cfg.UpdateRetryAttempts = 1
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type PickupPointInput struct {
	Name          string  `json:"name"`
	Lat           float64 `json:"lat"`
	Lng           float64 `json:"lng"`
	OffsetMinutes int     `json:"offset_minutes"`
}

type CreateRideInput struct {
	VehicleID    string             `json:"vehicle_id"`
	DepartureAt  time.Time          `json:"departure_at"`
	Origin       domain.Place       `json:"origin"`
	Destination  domain.Place       `json:"destination"`
	PickupPoints []PickupPointInput `json:"pickup_points"`
	Seats        int                `json:"seats"`
	PricePerSeat decimal.Decimal    `json:"price_per_seat"`
	WaitMinutes  int                `json:"wait_minutes"`
	Notes        string             `json:"notes"`
	Recurrence   *domain.Recurrence `json:"recurrence,omitempty"`
}

type CreateRideResult struct {
	Ride      *domain.Ride   `json:"ride"`
	Instances []*domain.Ride `json:"instances,omitempty"`
}

// UpdateRideInput leaves nil fields unchanged.
type UpdateRideInput struct {
	DepartureAt  *time.Time       `json:"departure_at,omitempty"`
	PricePerSeat *decimal.Decimal `json:"price_per_seat,omitempty"`
	WaitMinutes  *int             `json:"wait_minutes,omitempty"`
	TotalSeats   *int             `json:"total_seats,omitempty"`
	Notes        *string          `json:"notes,omitempty"`
}

type CancelRideResult struct {
	Ride     *domain.Ride     `json:"ride"`
	Affected []domain.Booking `json:"affected"`
}

var overlapStatuses = []domain.RideStatus{
	domain.RideStatusActive,
	domain.RideStatusFull,
	domain.RideStatusInProgress,
}

func (s *Service) CreateRide(ctx context.Context, ownerID string, input CreateRideInput) (*CreateRideResult, error) {
	owner, err := s.users.GetByID(ctx, ownerID)
	if err != nil {
		return nil, userErr(err, ownerID)
	}
	if !owner.CanOfferRides() {
		return nil, apperr.Forbidden(apperr.CodeNotDriver, "user %s is not a verified driver", ownerID)
	}

	vehicle, err := s.vehicles.GetByID(ctx, input.VehicleID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound(apperr.CodeVehicleNotFound, "vehicle %s not found", input.VehicleID)
		}
		return nil, apperr.Internal(err, "load vehicle")
	}
	if vehicle.OwnerID != ownerID {
		return nil, apperr.Forbidden(apperr.CodeNotVehicleOwner, "vehicle %s does not belong to user %s", vehicle.ID, ownerID)
	}
	if !vehicle.Verified {
		return nil, apperr.Validation(apperr.CodeVehicleUnverified, "vehicle %s is not verified", vehicle.ID)
	}
	if input.Seats < 1 {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "seats must be at least 1")
	}
	if input.Seats > vehicle.Capacity {
		return nil, apperr.Validation(apperr.CodeVehicleCapacity, "vehicle %s seats at most %d", vehicle.ID, vehicle.Capacity)
	}
	if input.WaitMinutes < 0 {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "wait minutes must not be negative")
	}
	if err := s.checkDeparture(input.DepartureAt); err != nil {
		return nil, err
	}
	if err := s.checkPrice(input.PricePerSeat); err != nil {
		return nil, err
	}
	if len(input.PickupPoints) > s.cfg.MaxPickupPoints {
		return nil, apperr.Validation(apperr.CodeTooManyPickups, "a ride has at most %d pickup points", s.cfg.MaxPickupPoints)
	}
	if input.Recurrence != nil && len(input.Recurrence.Days) == 0 {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "recurrence needs at least one weekday")
	}

	now := s.now()
	ride := &domain.Ride{
		ID:             s.newID(),
		OwnerID:        ownerID,
		VehicleID:      vehicle.ID,
		DepartureAt:    input.DepartureAt,
		Origin:         input.Origin,
		Destination:    input.Destination,
		TotalSeats:     input.Seats,
		AvailableSeats: input.Seats,
		PricePerSeat:   input.PricePerSeat,
		WaitMinutes:    input.WaitMinutes,
		Notes:          input.Notes,
		Status:         domain.RideStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for i, p := range input.PickupPoints {
		ride.PickupPoints = append(ride.PickupPoints, s.pickupPoint(p, i+1))
	}

	result := &CreateRideResult{Ride: ride}
	if input.Recurrence != nil {
		rec := *input.Recurrence
		ride.IsRecurring = true
		ride.Recurrence = &rec
		result.Instances = ExpandRecurrence(ride, rec, ExpandOptions{
			MaxInstances: s.cfg.MaxRecurringRides,
			DefaultWeeks: s.cfg.DefaultRecurWeeks,
			NewID:        s.newID,
		})
	}

	all := append([]*domain.Ride{ride}, result.Instances...)
	if err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.checkOverlap(ctx, ownerID, "", input.DepartureAt); err != nil {
			return err
		}
		return s.rides.Create(ctx, all...)
	}); err != nil {
		return nil, writeErr(err, "create ride")
	}

	keys := make([][]string, 0, len(all))
	for _, r := range all {
		keys = append(keys, cachekeys.ForRide(nil, r))
	}
	s.invalidate(ctx, cachekeys.Merge(keys...))

	s.log.Info("ride created",
		zap.String("ride_id", ride.ID),
		zap.String("owner_id", ownerID),
		zap.Int("instances", len(result.Instances)))
	return result, nil
}

func (s *Service) UpdateRide(ctx context.Context, rideID, ownerID string, input UpdateRideInput) (*domain.Ride, error) {
	return s.mutate(ctx, rideID, ownerID, func(ctx context.Context, ride *domain.Ride) error {
		if !ride.Status.Bookable() {
			return apperr.BadRequest(apperr.CodeInvalidRideStatus, "ride %s is %s and can no longer be edited", ride.ID, ride.Status)
		}
		if ride.Departed(s.now()) {
			return apperr.BadRequest(apperr.CodeRideDeparted, "ride %s has already departed", ride.ID)
		}

		if input.DepartureAt != nil && !input.DepartureAt.Equal(ride.DepartureAt) {
			if err := s.checkDeparture(*input.DepartureAt); err != nil {
				return err
			}
			if err := s.checkOverlap(ctx, ownerID, ride.ID, *input.DepartureAt); err != nil {
				return err
			}
			ride.DepartureAt = *input.DepartureAt
		}
		if input.PricePerSeat != nil {
			if err := s.checkPrice(*input.PricePerSeat); err != nil {
				return err
			}
			ride.PricePerSeat = *input.PricePerSeat
		}
		if input.WaitMinutes != nil {
			if *input.WaitMinutes < 0 {
				return apperr.Validation(apperr.CodeInvalidInput, "wait minutes must not be negative")
			}
			ride.WaitMinutes = *input.WaitMinutes
		}
		if input.Notes != nil {
			ride.Notes = *input.Notes
		}
		if input.TotalSeats != nil && *input.TotalSeats != ride.TotalSeats {
			seats := *input.TotalSeats
			if seats < 1 {
				return apperr.Validation(apperr.CodeInvalidInput, "seats must be at least 1")
			}
			if seats < ride.BookedSeats {
				return apperr.Validation(apperr.CodeSeatsBelowBooked, "ride %s already has %d booked seats", ride.ID, ride.BookedSeats)
			}
			vehicle, err := s.vehicles.GetByID(ctx, ride.VehicleID)
			if err != nil {
				return apperr.Internal(err, "load vehicle")
			}
			if seats > vehicle.Capacity {
				return apperr.Validation(apperr.CodeVehicleCapacity, "vehicle %s seats at most %d", vehicle.ID, vehicle.Capacity)
			}
			ride.SetTotalSeats(seats)
		}
		return nil
	})
}

func (s *Service) CancelRide(ctx context.Context, rideID, ownerID, reason string) (*CancelRideResult, error) {
	var (
		before, ride *domain.Ride
		affected     []domain.Booking
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		ride, err = s.ownedRide(ctx, rideID, ownerID)
		if err != nil {
			return err
		}
		switch ride.Status {
		case domain.RideStatusCancelled, domain.RideStatusCompleted, domain.RideStatusInProgress:
			return apperr.BadRequest(apperr.CodeInvalidRideStatus, "ride %s is %s and cannot be cancelled", ride.ID, ride.Status)
		}
		before = ride.Clone()

		now := s.now()
		ride.Status = domain.RideStatusCancelled
		ride.CancellationReason = reason
		ride.CancelledAt = &now
		if err := s.rides.Update(ctx, ride); err != nil {
			return writeErr(err, "cancel ride")
		}

		active, err := s.bookings.ListByRide(ctx, ride.ID, domain.BookingStatusPending, domain.BookingStatusConfirmed)
		if err != nil {
			return apperr.Internal(err, "list ride bookings")
		}
		affected, err = s.cascader.CascadeRideCancellation(ctx, ride, active)
		return err
	})
	if errors.Is(err, repository.ErrConditionFailed) {
		return nil, apperr.Conflict(apperr.CodeConcurrentUpdate, "ride %s was modified concurrently, retry the request", rideID)
	}
	if err != nil {
		return nil, writeErr(err, "cancel ride")
	}

	keys := [][]string{cachekeys.ForRide(before, ride)}
	for i := range affected {
		keys = append(keys, cachekeys.ForBooking(nil, &affected[i]))
	}
	s.invalidate(ctx, cachekeys.Merge(keys...))

	s.log.Info("ride cancelled", zap.String("ride_id", ride.ID), zap.Int("affected_bookings", len(affected)))
	return &CancelRideResult{Ride: ride, Affected: affected}, nil
}

func (s *Service) StartRide(ctx context.Context, rideID, ownerID string) (*domain.Ride, error) {
	return s.mutate(ctx, rideID, ownerID, func(ctx context.Context, ride *domain.Ride) error {
		if !ride.Status.Bookable() {
			return apperr.BadRequest(apperr.CodeInvalidTransition, "ride %s is %s and cannot be started", ride.ID, ride.Status)
		}
		now := s.now()
		ride.Status = domain.RideStatusInProgress
		ride.StartedAt = &now
		return nil
	})
}

func (s *Service) CompleteRide(ctx context.Context, rideID, ownerID string) (*domain.Ride, error) {
	return s.mutate(ctx, rideID, ownerID, func(ctx context.Context, ride *domain.Ride) error {
		if ride.Status != domain.RideStatusInProgress {
			return apperr.BadRequest(apperr.CodeInvalidTransition, "ride %s is %s and cannot be completed", ride.ID, ride.Status)
		}
		now := s.now()
		ride.Status = domain.RideStatusCompleted
		ride.CompletedAt = &now
		if ride.StartedAt != nil {
			ride.DurationMinutes = int(now.Sub(*ride.StartedAt).Minutes())
		}
		return nil
	})
}

// GetRide reads through the cache. Cache failures fall back to the store.
func (s *Service) GetRide(ctx context.Context, rideID string) (*domain.Ride, error) {
	if s.cache != nil {
		cached, err := s.cache.GetRide(ctx, rideID)
		if err != nil {
			s.log.Warn("ride cache read failed", zap.String("ride_id", rideID), zap.Error(err))
		} else if cached != nil {
			return cached, nil
		}
	}

	ride, err := s.rides.GetByID(ctx, rideID)
	if err != nil {
		return nil, rideErr(err, rideID)
	}
	if s.cache != nil {
		if err := s.cache.SetRide(ctx, ride); err != nil {
			s.log.Warn("ride cache write failed", zap.String("ride_id", rideID), zap.Error(err))
			return ride, nil
		}
		return s.confirmCached(ctx, ride), nil
	}
	return ride, nil
}

// confirmCached re-reads the ride after a cache fill. A write that committed
// and invalidated between the load and the fill leaves a newer version in the
// store; the filled entry is then dropped.
func (s *Service) confirmCached(ctx context.Context, cached *domain.Ride) *domain.Ride {
	current, err := s.rides.GetByID(ctx, cached.ID)
	if err != nil {
		s.invalidate(ctx, []string{cachekeys.Ride(cached.ID)})
		return cached
	}
	if current.Version != cached.Version {
		s.invalidate(ctx, []string{cachekeys.Ride(cached.ID)})
		return current
	}
	return cached
}

func (s *Service) ListOwnerRides(ctx context.Context, ownerID string) ([]domain.Ride, error) {
	rides, err := s.rides.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, apperr.Internal(err, "list rides")
	}
	return rides, nil
}

// mutate applies fn to the owner's ride and writes it with a version check,
// reloading and retrying when a concurrent writer got there first.
func (s *Service) mutate(ctx context.Context, rideID, ownerID string, fn func(ctx context.Context, ride *domain.Ride) error) (*domain.Ride, error) {
	for attempt := 1; attempt <= s.cfg.UpdateRetryAttempts; attempt++ {
		var before, ride *domain.Ride
		err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
			var err error
			ride, err = s.ownedRide(ctx, rideID, ownerID)
			if err != nil {
				return err
			}
			before = ride.Clone()
			if err := fn(ctx, ride); err != nil {
				return err
			}
			return s.rides.Update(ctx, ride)
		})
		if errors.Is(err, repository.ErrConditionFailed) {
			s.log.Debug("ride update conflicted, retrying", zap.String("ride_id", rideID), zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, writeErr(err, "update ride")
		}
		s.invalidate(ctx, cachekeys.ForRide(before, ride))
		return ride, nil
	}
	return nil, apperr.Conflict(apperr.CodeConcurrentUpdate, "ride %s was modified concurrently, retry the request", rideID)
}

func (s *Service) ownedRide(ctx context.Context, rideID, ownerID string) (*domain.Ride, error) {
	ride, err := s.rides.GetByID(ctx, rideID)
	if err != nil {
		return nil, rideErr(err, rideID)
	}
	if ride.OwnerID != ownerID {
		return nil, apperr.Forbidden(apperr.CodeNotRideOwner, "user %s does not own ride %s", ownerID, rideID)
	}
	return ride, nil
}

func (s *Service) checkDeparture(at time.Time) error {
	until := at.Sub(s.now())
	if until < s.cfg.MinAdvance() || until > s.cfg.MaxAdvance() {
		return apperr.Validation(apperr.CodeDepartureWindow,
			"departure must be between %s and %s from now", s.cfg.MinAdvance(), s.cfg.MaxAdvance())
	}
	return nil
}

func (s *Service) checkPrice(price decimal.Decimal) error {
	lo, hi := decimal.NewFromFloat(s.cfg.MinPrice), decimal.NewFromFloat(s.cfg.MaxPrice)
	if price.LessThan(lo) || price.GreaterThan(hi) {
		return apperr.Validation(apperr.CodePriceOutOfRange, "price per seat must be between %s and %s", lo, hi)
	}
	return nil
}

// checkOverlap rejects a departure closer than the overlap window to any other
// live ride of the owner. A gap of exactly the window is allowed.
func (s *Service) checkOverlap(ctx context.Context, ownerID, exceptID string, at time.Time) error {
	rides, err := s.rides.ListByOwner(ctx, ownerID, overlapStatuses...)
	if err != nil {
		return apperr.Internal(err, "list owner rides")
	}
	for _, r := range rides {
		if r.ID == exceptID {
			continue
		}
		gap := r.DepartureAt.Sub(at)
		if gap < 0 {
			gap = -gap
		}
		if gap < s.cfg.Overlap() {
			return apperr.Conflict(apperr.CodeScheduleConflict,
				"ride %s departs %s, within %s of the requested time", r.ID, r.DepartureAt.Format(time.RFC3339), s.cfg.Overlap())
		}
	}
	return nil
}

// invalidate runs after commit; failures leave entries to expire by TTL.
func (s *Service) invalidate(ctx context.Context, keys []string) {
	if s.cache == nil || len(keys) == 0 {
		return
	}
	if err := s.cache.Invalidate(ctx, keys...); err != nil {
		s.log.Warn("cache invalidation failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

func rideErr(err error, id string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound(apperr.CodeRideNotFound, "ride %s not found", id)
	}
	return apperr.Internal(err, "load ride")
}

func userErr(err error, id string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound(apperr.CodeUserNotFound, "user %s not found", id)
	}
	return apperr.Internal(err, "load user")
}

// writeErr passes typed errors and version conflicts through and wraps the
// rest as internal.
func writeErr(err error, msg string) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) || errors.Is(err, repository.ErrConditionFailed) {
		return err
	}
	return apperr.Internal(err, msg)
}

var _ RideUseCase = (*Service)(nil)
