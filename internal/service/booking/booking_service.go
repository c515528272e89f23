package booking

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/Domenick1991/carpool/config"
	"github.com/Domenick1991/carpool/internal/apperr"
	"github.com/Domenick1991/carpool/internal/cachekeys"
	"github.com/Domenick1991/carpool/internal/domain"
	"github.com/Domenick1991/carpool/internal/logger"
	"github.com/Domenick1991/carpool/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type BookingUseCase interface {
	CreateBooking(ctx context.Context, input CreateBookingInput) (*domain.Booking, error)
	CancelBooking(ctx context.Context, bookingID, actorID, reason string) (*domain.Booking, error)
	CascadeRideCancellation(ctx context.Context, ride *domain.Ride, affected []domain.Booking) ([]domain.Booking, error)
	ConfirmBooking(ctx context.Context, bookingID, actorID string) (*domain.Booking, error)
	StartBooking(ctx context.Context, bookingID, actorID, code string) (*domain.Booking, error)
	CompleteBooking(ctx context.Context, bookingID, actorID string) (*domain.Booking, error)
	MarkNoShow(ctx context.Context, bookingID, actorID string) (*domain.Booking, error)
	RateBooking(ctx context.Context, input RateBookingInput) (*domain.Rating, error)
	GetBooking(ctx context.Context, bookingID, actorID string) (*domain.Booking, error)
	ListRideBookings(ctx context.Context, rideID, actorID string) ([]domain.Booking, error)
}

// Locker hands out short leases scoped to one ride, so bookings against the
// same ride serialize while different rides never contend.
type Locker interface {
	AcquireRideLock(ctx context.Context, rideID string, ttl time.Duration) (string, bool, error)
	ReleaseRideLock(ctx context.Context, rideID, token string) error
}

type Cache interface {
	Invalidate(ctx context.Context, keys ...string) error
}

type Repos struct {
	Tx       repository.Transactor
	Rides    repository.RideRepository
	Bookings repository.BookingRepository
	Users    repository.UserRepository
	Ratings  repository.RatingRepository
}

type BookingServiceOption func(*BookingService)

func WithLocker(l Locker) BookingServiceOption {
	return func(s *BookingService) { s.locker = l }
}

func WithCache(c Cache) BookingServiceOption {
	return func(s *BookingService) { s.cache = c }
}

func WithClock(now func() time.Time) BookingServiceOption {
	return func(s *BookingService) { s.now = now }
}

const lockPollInterval = 25 * time.Millisecond

type BookingService struct {
	tx       repository.Transactor
	rides    repository.RideRepository
	bookings repository.BookingRepository
	users    repository.UserRepository
	ratings  repository.RatingRepository
	locker   Locker
	cache    Cache
	cfg      config.BookingConfig
	now      func() time.Time
	newID    func() string
	log      *zap.Logger
}

type CreateBookingInput struct {
	RideID        string `json:"ride_id"`
	PassengerID   string `json:"passenger_id"`
	Seats         int    `json:"seats"`
	PickupPointID string `json:"pickup_point_id,omitempty"`
}

type RateBookingInput struct {
	BookingID string `json:"booking_id"`
	RaterID   string `json:"rater_id"`
	Score     int    `json:"score"`
	Comment   string `json:"comment,omitempty"`
}

func NewBookingService(repos Repos, cfg config.BookingConfig, log *zap.Logger, opts ...BookingServiceOption) *BookingService {
	service := &BookingService{
		tx:       repos.Tx,
		rides:    repos.Rides,
		bookings: repos.Bookings,
		users:    repos.Users,
		ratings:  repos.Ratings,
		cfg:      cfg,
		now:      time.Now,
		newID:    uuid.NewString,
		log:      logger.OrNop(log).Named("booking"),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

func (s *BookingService) CreateBooking(ctx context.Context, input CreateBookingInput) (*domain.Booking, error) {
	if input.Seats < 1 {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "seats must be at least 1")
	}
	if _, err := s.users.GetByID(ctx, input.PassengerID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound(apperr.CodeUserNotFound, "user %s not found", input.PassengerID)
		}
		return nil, apperr.Internal(err, "load passenger")
	}

	ride, err := s.rides.GetByID(ctx, input.RideID)
	if err != nil {
		return nil, rideErr(err, input.RideID)
	}
	if err := s.checkBookable(ride, input); err != nil {
		return nil, err
	}

	unlock, err := s.lockRide(ctx, ride.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	code, err := verificationCode()
	if err != nil {
		return nil, apperr.Internal(err, "generate verification code")
	}

	now := s.now()
	booking := &domain.Booking{
		ID:                    s.newID(),
		RideID:                ride.ID,
		PassengerID:           input.PassengerID,
		DriverID:              ride.OwnerID,
		Seats:                 input.Seats,
		PickupPointID:         input.PickupPointID,
		Status:                domain.BookingStatusPending,
		VerificationCode:      code,
		VerificationExpiresAt: ride.DepartureAt.Add(time.Duration(s.cfg.CodeValidAfterHours) * time.Hour),
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if s.cfg.AutoConfirm {
		booking.Status = domain.BookingStatusConfirmed
		booking.ConfirmedAt = &now
	}

	var reserved *domain.Ride
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.bookings.FindOpen(ctx, ride.ID, input.PassengerID); err == nil {
			return apperr.Conflict(apperr.CodeDuplicateBooking, "user %s already holds a booking on ride %s", input.PassengerID, ride.ID)
		} else if !errors.Is(err, repository.ErrNotFound) {
			return apperr.Internal(err, "check existing booking")
		}

		var err error
		reserved, err = s.rides.ReserveSeats(ctx, ride.ID, input.Seats)
		if errors.Is(err, repository.ErrConditionFailed) {
			return apperr.Conflict(apperr.CodeSeatsUnavailable, "ride %s has fewer than %d seats available", ride.ID, input.Seats)
		}
		if err != nil {
			return rideErr(err, ride.ID)
		}
		// The point may have been removed since the ride was first loaded.
		if input.PickupPointID != "" {
			if _, ok := reserved.PickupPoint(input.PickupPointID); !ok {
				return apperr.NotFound(apperr.CodePickupNotFound, "pickup point %s not found on ride %s", input.PickupPointID, ride.ID)
			}
		}

		if err := s.bookings.Create(ctx, booking); err != nil {
			if errors.Is(err, repository.ErrAlreadyExists) {
				return apperr.Conflict(apperr.CodeDuplicateBooking, "user %s already holds a booking on ride %s", input.PassengerID, ride.ID)
			}
			return apperr.Internal(err, "create booking")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, cachekeys.Merge(cachekeys.ForBooking(nil, booking), cachekeys.ForRide(ride, reserved)))
	s.log.Info("booking created",
		zap.String("booking_id", booking.ID),
		zap.String("ride_id", ride.ID),
		zap.Int("seats", booking.Seats),
		zap.Int("available_seats", reserved.AvailableSeats))
	return booking, nil
}

func (s *BookingService) checkBookable(ride *domain.Ride, input CreateBookingInput) error {
	if !ride.Status.Bookable() {
		return apperr.BadRequest(apperr.CodeInvalidRideStatus, "ride %s is %s and cannot be booked", ride.ID, ride.Status)
	}
	if ride.Departed(s.now()) {
		return apperr.BadRequest(apperr.CodeRideDeparted, "ride %s has already departed", ride.ID)
	}
	if ride.OwnerID == input.PassengerID {
		return apperr.Forbidden(apperr.CodeOwnRide, "drivers cannot book their own ride")
	}
	if input.PickupPointID != "" {
		if _, ok := ride.PickupPoint(input.PickupPointID); !ok {
			return apperr.NotFound(apperr.CodePickupNotFound, "pickup point %s not found on ride %s", input.PickupPointID, ride.ID)
		}
	}
	return nil
}

// CancelBooking returns the booking's seats to the ride. Passenger and driver
// may both cancel.
func (s *BookingService) CancelBooking(ctx context.Context, bookingID, actorID, reason string) (*domain.Booking, error) {
	current, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, bookingErr(err, bookingID)
	}
	if !current.IsParticipant(actorID) {
		return nil, apperr.Forbidden(apperr.CodeNotParticipant, "user %s is not part of booking %s", actorID, bookingID)
	}

	unlock, err := s.lockRide(ctx, current.RideID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		before, after *domain.Booking
		rideBefore    *domain.Ride
		released      *domain.Ride
	)
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		b, err := s.bookings.GetByID(ctx, bookingID)
		if err != nil {
			return bookingErr(err, bookingID)
		}
		if !b.Status.CanTransition(domain.BookingStatusCancelled) {
			return apperr.BadRequest(apperr.CodeInvalidTransition, "booking %s is %s and cannot be cancelled", b.ID, b.Status)
		}
		before = b.Clone()

		if rideBefore, err = s.rides.GetByID(ctx, b.RideID); err != nil {
			return rideErr(err, b.RideID)
		}
		released, err = s.rides.ReleaseSeats(ctx, b.RideID, b.Seats)
		if errors.Is(err, repository.ErrConditionFailed) {
			return apperr.Conflict(apperr.CodeConcurrentUpdate, "ride %s seat counters changed concurrently", b.RideID)
		}
		if err != nil {
			return rideErr(err, b.RideID)
		}

		source := domain.CancelSourcePassenger
		if actorID == b.DriverID {
			source = domain.CancelSourceDriver
		}
		b.Status = domain.BookingStatusCancelled
		b.Cancellation = &domain.Cancellation{ActorID: actorID, Reason: reason, Source: source, At: s.now()}
		if err := s.bookings.Update(ctx, b); err != nil {
			return updateErr(err, b.ID)
		}
		after = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, cachekeys.Merge(cachekeys.ForBooking(before, after), cachekeys.ForRide(rideBefore, released)))
	s.log.Info("booking cancelled",
		zap.String("booking_id", after.ID),
		zap.String("source", string(after.Cancellation.Source)),
		zap.Int("available_seats", released.AvailableSeats))
	return after, nil
}

// CascadeRideCancellation cancels the given formerly active bookings on a
// cancelled ride on behalf of its owner. Seats are not released. It joins the
// caller's transaction and skips bookings that are no longer cancellable.
func (s *BookingService) CascadeRideCancellation(ctx context.Context, ride *domain.Ride, affected []domain.Booking) ([]domain.Booking, error) {
	cancelled := make([]domain.Booking, 0, len(affected))
	at := s.now()
	for i := range affected {
		b := affected[i].Clone()
		if !b.Status.CanTransition(domain.BookingStatusCancelled) {
			continue
		}
		b.Status = domain.BookingStatusCancelled
		b.Cancellation = &domain.Cancellation{
			ActorID: ride.OwnerID,
			Reason:  ride.CancellationReason,
			Source:  domain.CancelSourceRide,
			At:      at,
		}
		if err := s.bookings.Update(ctx, b); err != nil {
			return nil, updateErr(err, b.ID)
		}
		cancelled = append(cancelled, *b)
	}
	return cancelled, nil
}

func (s *BookingService) ConfirmBooking(ctx context.Context, bookingID, actorID string) (*domain.Booking, error) {
	return s.transition(ctx, bookingID, actorID, domain.BookingStatusConfirmed, func(ctx context.Context, b *domain.Booking, now time.Time) error {
		b.ConfirmedAt = &now
		return nil
	})
}

// StartBooking boards the passenger: the driver enters the passenger's code
// once the ride is under way.
func (s *BookingService) StartBooking(ctx context.Context, bookingID, actorID, code string) (*domain.Booking, error) {
	return s.transition(ctx, bookingID, actorID, domain.BookingStatusInProgress, func(ctx context.Context, b *domain.Booking, now time.Time) error {
		ride, err := s.rides.GetByID(ctx, b.RideID)
		if err != nil {
			return rideErr(err, b.RideID)
		}
		if ride.Status != domain.RideStatusInProgress {
			return apperr.BadRequest(apperr.CodeInvalidRideStatus, "ride %s has not started", ride.ID)
		}
		if code == "" || code != b.VerificationCode {
			return apperr.Validation(apperr.CodeInvalidCode, "verification code does not match")
		}
		if now.After(b.VerificationExpiresAt) {
			return apperr.Validation(apperr.CodeInvalidCode, "verification code expired")
		}
		b.StartedAt = &now
		return nil
	})
}

func (s *BookingService) CompleteBooking(ctx context.Context, bookingID, actorID string) (*domain.Booking, error) {
	return s.transition(ctx, bookingID, actorID, domain.BookingStatusCompleted, func(ctx context.Context, b *domain.Booking, now time.Time) error {
		b.CompletedAt = &now
		return nil
	})
}

// MarkNoShow keeps the seats booked: the ride has left without the passenger.
func (s *BookingService) MarkNoShow(ctx context.Context, bookingID, actorID string) (*domain.Booking, error) {
	return s.transition(ctx, bookingID, actorID, domain.BookingStatusNoShow, nil)
}

// transition moves a booking along the status machine on behalf of its driver.
func (s *BookingService) transition(ctx context.Context, bookingID, actorID string, to domain.BookingStatus, apply func(ctx context.Context, b *domain.Booking, now time.Time) error) (*domain.Booking, error) {
	var before, after *domain.Booking
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		b, err := s.bookings.GetByID(ctx, bookingID)
		if err != nil {
			return bookingErr(err, bookingID)
		}
		if actorID != b.DriverID {
			return apperr.Forbidden(apperr.CodeNotRideOwner, "only the driver can move booking %s to %s", b.ID, to)
		}
		if !b.Status.CanTransition(to) {
			return apperr.BadRequest(apperr.CodeInvalidTransition, "booking %s cannot move from %s to %s", b.ID, b.Status, to)
		}
		before = b.Clone()

		if apply != nil {
			if err := apply(ctx, b, s.now()); err != nil {
				return err
			}
		}
		b.Status = to
		if err := s.bookings.Update(ctx, b); err != nil {
			return updateErr(err, b.ID)
		}
		after = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, cachekeys.ForBooking(before, after))
	s.log.Info("booking status changed",
		zap.String("booking_id", after.ID),
		zap.String("from", string(before.Status)),
		zap.String("to", string(after.Status)))
	return after, nil
}

func (s *BookingService) RateBooking(ctx context.Context, input RateBookingInput) (*domain.Rating, error) {
	if input.Score < 1 || input.Score > 5 {
		return nil, apperr.Validation(apperr.CodeInvalidRating, "score must be between 1 and 5")
	}
	b, err := s.bookings.GetByID(ctx, input.BookingID)
	if err != nil {
		return nil, bookingErr(err, input.BookingID)
	}
	if !b.IsParticipant(input.RaterID) {
		return nil, apperr.Forbidden(apperr.CodeNotParticipant, "user %s is not part of booking %s", input.RaterID, b.ID)
	}
	if b.Status != domain.BookingStatusCompleted {
		return nil, apperr.BadRequest(apperr.CodeBookingNotComplete, "booking %s is %s; only completed trips can be rated", b.ID, b.Status)
	}

	rated := b.DriverID
	if input.RaterID == b.DriverID {
		rated = b.PassengerID
	}
	rating := &domain.Rating{
		ID:          s.newID(),
		BookingID:   b.ID,
		RideID:      b.RideID,
		RaterID:     input.RaterID,
		RatedUserID: rated,
		Score:       input.Score,
		Comment:     input.Comment,
		CreatedAt:   s.now(),
	}
	if err := s.ratings.Create(ctx, rating); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, apperr.Conflict(apperr.CodeDuplicateRating, "booking %s was already rated by %s", b.ID, input.RaterID)
		}
		return nil, apperr.Internal(err, "create rating")
	}

	s.invalidate(ctx, cachekeys.ForRating(rating))
	return rating, nil
}

func (s *BookingService) GetBooking(ctx context.Context, bookingID, actorID string) (*domain.Booking, error) {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, bookingErr(err, bookingID)
	}
	if !b.IsParticipant(actorID) {
		return nil, apperr.Forbidden(apperr.CodeNotParticipant, "user %s is not part of booking %s", actorID, bookingID)
	}
	return b, nil
}

func (s *BookingService) ListRideBookings(ctx context.Context, rideID, actorID string) ([]domain.Booking, error) {
	ride, err := s.rides.GetByID(ctx, rideID)
	if err != nil {
		return nil, rideErr(err, rideID)
	}
	if ride.OwnerID != actorID {
		return nil, apperr.Forbidden(apperr.CodeNotRideOwner, "user %s does not own ride %s", actorID, rideID)
	}
	bookings, err := s.bookings.ListByRide(ctx, rideID)
	if err != nil {
		return nil, apperr.Internal(err, "list ride bookings")
	}
	return bookings, nil
}

// lockRide waits up to the configured bound for the ride lease. Without a
// locker, or when the locker itself fails, the conditional seat update is the
// only guard.
func (s *BookingService) lockRide(ctx context.Context, rideID string) (func(), error) {
	noop := func() {}
	if s.locker == nil {
		return noop, nil
	}

	wait := time.NewTimer(s.cfg.LockWait())
	defer wait.Stop()
	for {
		token, ok, err := s.locker.AcquireRideLock(ctx, rideID, s.cfg.LockTTL())
		if err != nil {
			s.log.Warn("ride lease unavailable, relying on conditional write", zap.String("ride_id", rideID), zap.Error(err))
			return noop, nil
		}
		if ok {
			return func() {
				if err := s.locker.ReleaseRideLock(context.WithoutCancel(ctx), rideID, token); err != nil {
					s.log.Warn("failed to release ride lease", zap.String("ride_id", rideID), zap.Error(err))
				}
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, apperr.Internal(ctx.Err(), "waiting for ride lease")
		case <-wait.C:
			return nil, apperr.Conflict(apperr.CodeRideLocked, "ride %s is busy, retry the request", rideID)
		case <-time.After(lockPollInterval):
		}
	}
}

func (s *BookingService) invalidate(ctx context.Context, keys []string) {
	if s.cache == nil || len(keys) == 0 {
		return
	}
	if err := s.cache.Invalidate(ctx, keys...); err != nil {
		s.log.Warn("cache invalidation failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

func verificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func rideErr(err error, id string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound(apperr.CodeRideNotFound, "ride %s not found", id)
	}
	return apperr.Internal(err, "load ride")
}

func bookingErr(err error, id string) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound(apperr.CodeBookingNotFound, "booking %s not found", id)
	}
	return apperr.Internal(err, "load booking")
}

func updateErr(err error, id string) error {
	if errors.Is(err, repository.ErrConditionFailed) {
		return apperr.Conflict(apperr.CodeConcurrentUpdate, "booking %s was modified concurrently", id)
	}
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound(apperr.CodeBookingNotFound, "booking %s not found", id)
	}
	return apperr.Internal(err, "update booking")
}

var _ BookingUseCase = (*BookingService)(nil)
