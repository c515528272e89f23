// Package memory is an in-process implementation of the repository
// contracts: conditional writes, transactions and a change feed, guarded by a
// single mutex. It backs local runs and service tests.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Domenick1991/carpool/internal/domain"
	"github.com/Domenick1991/carpool/internal/repository"
)

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

type Store struct {
	mu  sync.Mutex
	now func() time.Time

	rides    map[string]*domain.Ride
	bookings map[string]*domain.Booking
	users    map[string]*domain.User
	vehicles map[string]*domain.Vehicle
	ratings  map[string]*domain.Rating

	changes []*change
	seq     int64
}

type change struct {
	ev           domain.ChangeEvent
	claimedUntil time.Time
}

func New(opts ...Option) *Store {
	s := &Store{
		now:      time.Now,
		rides:    map[string]*domain.Ride{},
		bookings: map[string]*domain.Booking{},
		users:    map[string]*domain.User{},
		vehicles: map[string]*domain.Vehicle{},
		ratings:  map[string]*domain.Rating{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Rides() repository.RideRepository       { return rideRepo{s} }
func (s *Store) Bookings() repository.BookingRepository { return bookingRepo{s} }
func (s *Store) Users() repository.UserRepository       { return userRepo{s} }
func (s *Store) Vehicles() repository.VehicleRepository { return vehicleRepo{s} }
func (s *Store) Ratings() repository.RatingRepository   { return ratingRepo{s} }

type txKey struct{}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// lock takes the store mutex unless ctx already runs inside one of this
// store's transactions, which holds it for its whole duration.
func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

type snapshot struct {
	rides    map[string]*domain.Ride
	bookings map[string]*domain.Booking
	users    map[string]*domain.User
	vehicles map[string]*domain.Vehicle
	ratings  map[string]*domain.Rating
	changes  []*change
	seq      int64
}

// Stored entities are never mutated in place, so copying the maps is enough
// to roll back.
func (s *Store) snapshot() snapshot {
	return snapshot{
		rides:    copyMap(s.rides),
		bookings: copyMap(s.bookings),
		users:    copyMap(s.users),
		vehicles: copyMap(s.vehicles),
		ratings:  copyMap(s.ratings),
		changes:  append([]*change(nil), s.changes...),
		seq:      s.seq,
	}
}

func (s *Store) restore(snap snapshot) {
	s.rides, s.bookings, s.users = snap.rides, snap.bookings, snap.users
	s.vehicles, s.ratings = snap.vehicles, snap.ratings
	s.changes, s.seq = snap.changes, snap.seq
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	defer func() {
		if p := recover(); p != nil {
			s.restore(snap)
			panic(p)
		}
	}()
	if err = fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.restore(snap)
	}
	return err
}

func (s *Store) record(entityType domain.EntityType, id string, before, after any) error {
	ev, err := domain.NewChangeEvent(entityType, id, before, after, s.now())
	if err != nil {
		return err
	}
	s.seq++
	ev.ID = strconv.FormatInt(s.seq, 10)
	s.changes = append(s.changes, &change{ev: ev})
	return nil
}

func (s *Store) Claim(ctx context.Context, limit int, claimFor time.Duration) ([]domain.ChangeEvent, error) {
	unlock := s.lock(ctx)
	defer unlock()

	now := s.now()
	var out []domain.ChangeEvent
	for _, c := range s.changes {
		if len(out) >= limit {
			break
		}
		if c.claimedUntil.After(now) {
			continue
		}
		c.claimedUntil = now.Add(claimFor)
		out = append(out, c.ev)
	}
	return out, nil
}

func (s *Store) Ack(ctx context.Context, ids []string) error {
	unlock := s.lock(ctx)
	defer unlock()

	acked := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		acked[id] = struct{}{}
	}
	kept := s.changes[:0:0]
	for _, c := range s.changes {
		if _, ok := acked[c.ev.ID]; !ok {
			kept = append(kept, c)
		}
	}
	s.changes = kept
	return nil
}

// Pending reports how many change events are not yet acknowledged.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.changes)
}

func copyMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func statusIn[S comparable](s S, set []S) bool {
	if len(set) == 0 {
		return true
	}
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

type rideRepo struct{ s *Store }

func (r rideRepo) Create(ctx context.Context, rides ...*domain.Ride) error {
	unlock := r.s.lock(ctx)
	defer unlock()

	for _, ride := range rides {
		if _, ok := r.s.rides[ride.ID]; ok {
			return repository.ErrAlreadyExists
		}
	}
	for _, ride := range rides {
		stored := ride.Clone()
		r.s.rides[ride.ID] = stored
		if err := r.s.record(domain.EntityRide, ride.ID, nil, stored); err != nil {
			return err
		}
	}
	return nil
}

func (r rideRepo) GetByID(ctx context.Context, id string) (*domain.Ride, error) {
	unlock := r.s.lock(ctx)
	defer unlock()

	ride, ok := r.s.rides[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return ride.Clone(), nil
}

func (r rideRepo) ListByOwner(ctx context.Context, ownerID string, statuses ...domain.RideStatus) ([]domain.Ride, error) {
	unlock := r.s.lock(ctx)
	defer unlock()

	out := make([]domain.Ride, 0)
	for _, ride := range r.s.rides {
		if ride.OwnerID == ownerID && statusIn(ride.Status, statuses) {
			out = append(out, *ride.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DepartureAt.Before(out[j].DepartureAt) })
	return out, nil
}

func (r rideRepo) Update(ctx context.Context, ride *domain.Ride) error {
	unlock := r.s.lock(ctx)
	defer unlock()

	before, ok := r.s.rides[ride.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if before.Version != ride.Version {
		return repository.ErrConditionFailed
	}
	ride.Version++
	ride.UpdatedAt = r.s.now()
	after := ride.Clone()
	r.s.rides[ride.ID] = after
	return r.s.record(domain.EntityRide, ride.ID, before, after)
}

func (r rideRepo) ReserveSeats(ctx context.Context, rideID string, seats int) (*domain.Ride, error) {
	return r.adjust(ctx, rideID, func(ride *domain.Ride) bool {
		if !ride.Status.Bookable() || ride.AvailableSeats < seats {
			return false
		}
		ride.Reserve(seats)
		return true
	})
}

func (r rideRepo) ReleaseSeats(ctx context.Context, rideID string, seats int) (*domain.Ride, error) {
	return r.adjust(ctx, rideID, func(ride *domain.Ride) bool {
		if ride.BookedSeats < seats {
			return false
		}
		ride.Release(seats)
		return true
	})
}

func (r rideRepo) adjust(ctx context.Context, rideID string, apply func(*domain.Ride) bool) (*domain.Ride, error) {
	unlock := r.s.lock(ctx)
	defer unlock()

	before, ok := r.s.rides[rideID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	after := before.Clone()
	if !apply(after) {
		return nil, repository.ErrConditionFailed
	}
	after.Version++
	after.UpdatedAt = r.s.now()
	r.s.rides[rideID] = after
	if err := r.s.record(domain.EntityRide, rideID, before, after); err != nil {
		return nil, err
	}
	return after.Clone(), nil
}

type bookingRepo struct{ s *Store }

func (r bookingRepo) Create(ctx context.Context, booking *domain.Booking) error {
	unlock := r.s.lock(ctx)
	defer unlock()

	if _, ok := r.s.bookings[booking.ID]; ok {
		return repository.ErrAlreadyExists
	}
	stored := booking.Clone()
	r.s.bookings[booking.ID] = stored
	return r.s.record(domain.EntityBooking, booking.ID, nil, stored)
}

func (r bookingRepo) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	unlock := r.s.lock(ctx)
	defer unlock()

	b, ok := r.s.bookings[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return b.Clone(), nil
}

func (r bookingRepo) ListByRide(ctx context.Context, rideID string, statuses ...domain.BookingStatus) ([]domain.Booking, error) {
	unlock := r.s.lock(ctx)
	defer unlock()

	out := make([]domain.Booking, 0)
	for _, b := range r.s.bookings {
		if b.RideID == rideID && statusIn(b.Status, statuses) {
			out = append(out, *b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r bookingRepo) FindOpen(ctx context.Context, rideID, passengerID string) (*domain.Booking, error) {
	unlock := r.s.lock(ctx)
	defer unlock()

	for _, b := range r.s.bookings {
		if b.RideID == rideID && b.PassengerID == passengerID && b.Status != domain.BookingStatusCancelled {
			return b.Clone(), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r bookingRepo) Update(ctx context.Context, booking *domain.Booking) error {
	unlock := r.s.lock(ctx)
	defer unlock()

	before, ok := r.s.bookings[booking.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if before.Version != booking.Version {
		return repository.ErrConditionFailed
	}
	booking.Version++
	booking.UpdatedAt = r.s.now()
	after := booking.Clone()
	r.s.bookings[booking.ID] = after
	return r.s.record(domain.EntityBooking, booking.ID, before, after)
}

type userRepo struct{ s *Store }

func (r userRepo) Create(ctx context.Context, user *domain.User) error {
	unlock := r.s.lock(ctx)
	defer unlock()

	if _, ok := r.s.users[user.ID]; ok {
		return repository.ErrAlreadyExists
	}
	for _, u := range r.s.users {
		if u.Email == user.Email {
			return repository.ErrAlreadyExists
		}
	}
	stored := *user
	r.s.users[user.ID] = &stored
	return r.s.record(domain.EntityUser, user.ID, nil, &stored)
}

func (r userRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	unlock := r.s.lock(ctx)
	defer unlock()

	u, ok := r.s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (r userRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	unlock := r.s.lock(ctx)
	defer unlock()

	for _, u := range r.s.users {
		if u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r userRepo) Update(ctx context.Context, user *domain.User) error {
	unlock := r.s.lock(ctx)
	defer unlock()

	before, ok := r.s.users[user.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if before.Version != user.Version {
		return repository.ErrConditionFailed
	}
	user.Version++
	user.UpdatedAt = r.s.now()
	after := *user
	r.s.users[user.ID] = &after
	return r.s.record(domain.EntityUser, user.ID, before, &after)
}

type vehicleRepo struct{ s *Store }

func (r vehicleRepo) Create(ctx context.Context, vehicle *domain.Vehicle) error {
	unlock := r.s.lock(ctx)
	defer unlock()

	if _, ok := r.s.vehicles[vehicle.ID]; ok {
		return repository.ErrAlreadyExists
	}
	stored := *vehicle
	r.s.vehicles[vehicle.ID] = &stored
	return r.s.record(domain.EntityVehicle, vehicle.ID, nil, &stored)
}

func (r vehicleRepo) GetByID(ctx context.Context, id string) (*domain.Vehicle, error) {
	unlock := r.s.lock(ctx)
	defer unlock()

	v, ok := r.s.vehicles[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *v
	return &c, nil
}

func (r vehicleRepo) ListByOwner(ctx context.Context, ownerID string) ([]domain.Vehicle, error) {
	unlock := r.s.lock(ctx)
	defer unlock()

	out := make([]domain.Vehicle, 0)
	for _, v := range r.s.vehicles {
		if v.OwnerID == ownerID {
			out = append(out, *v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r vehicleRepo) Update(ctx context.Context, vehicle *domain.Vehicle) error {
	unlock := r.s.lock(ctx)
	defer unlock()

	before, ok := r.s.vehicles[vehicle.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if before.Version != vehicle.Version {
		return repository.ErrConditionFailed
	}
	vehicle.Version++
	vehicle.UpdatedAt = r.s.now()
	after := *vehicle
	r.s.vehicles[vehicle.ID] = &after
	return r.s.record(domain.EntityVehicle, vehicle.ID, before, &after)
}

type ratingRepo struct{ s *Store }

func (r ratingRepo) Create(ctx context.Context, rating *domain.Rating) error {
	unlock := r.s.lock(ctx)
	defer unlock()

	for _, existing := range r.s.ratings {
		if existing.ID == rating.ID || (existing.BookingID == rating.BookingID && existing.RaterID == rating.RaterID) {
			return repository.ErrAlreadyExists
		}
	}
	stored := *rating
	r.s.ratings[rating.ID] = &stored
	return r.s.record(domain.EntityRating, rating.ID, nil, &stored)
}

func (r ratingRepo) ListByRatedUser(ctx context.Context, userID string) ([]domain.Rating, error) {
	unlock := r.s.lock(ctx)
	defer unlock()

	out := make([]domain.Rating, 0)
	for _, rt := range r.s.ratings {
		if rt.RatedUserID == userID {
			out = append(out, *rt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

var (
	_ repository.Transactor = (*Store)(nil)
	_ repository.ChangeFeed = (*Store)(nil)
)
