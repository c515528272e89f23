package rides

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Domenick1991/carpool/config"
	"github.com/Domenick1991/carpool/internal/cache"
	"github.com/Domenick1991/carpool/internal/cachekeys"
	"github.com/Domenick1991/carpool/internal/apperr"
	"github.com/Domenick1991/carpool/internal/domain"
	"github.com/Domenick1991/carpool/internal/repository"
	"github.com/Domenick1991/carpool/internal/repository/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// Monday.
var baseTime = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type MockCascader struct {
	mock.Mock
}

func (m *MockCascader) CascadeRideCancellation(ctx context.Context, ride *domain.Ride, affected []domain.Booking) ([]domain.Booking, error) {
	args := m.Called(ctx, ride, affected)
	out, _ := args.Get(0).([]domain.Booking)
	return out, args.Error(1)
}

// conflictingRides fails every version-checked write.
type conflictingRides struct {
	repository.RideRepository
	calls int
}

func (r *conflictingRides) Update(ctx context.Context, ride *domain.Ride) error {
	r.calls++
	return repository.ErrConditionFailed
}

// racingRides runs afterGet once, right after the first GetByID returns.
type racingRides struct {
	repository.RideRepository
	afterGet func()
}

func (r *racingRides) GetByID(ctx context.Context, id string) (*domain.Ride, error) {
	ride, err := r.RideRepository.GetByID(ctx, id)
	if hook := r.afterGet; hook != nil {
		r.afterGet = nil
		hook()
	}
	return ride, err
}

type testEnv struct {
	store   *memory.Store
	service *Service
	now     time.Time
	ids     int
}

func testConfig() config.RidesConfig {
	cfg := config.Defaults().Rides
	cfg.MaxRecurringRides = 10
	cfg.MaxPickupPoints = 3
	return cfg
}

func newTestEnv(t *testing.T, cascader BookingCascader, opts ...Option) *testEnv {
	t.Helper()
	ctx := context.Background()
	env := &testEnv{now: baseTime}
	env.store = memory.New(memory.WithClock(func() time.Time { return env.now }))

	require.NoError(t, env.store.Users().Create(ctx, &domain.User{
		ID: "d1", Email: "d1@example.com", Role: domain.UserRoleDriver,
		EmailVerified: true, DriverStatus: domain.DriverStatusVerified,
	}))
	require.NoError(t, env.store.Users().Create(ctx, &domain.User{
		ID: "p1", Email: "p1@example.com", Role: domain.UserRolePassenger, EmailVerified: true,
	}))
	vehicles := []domain.Vehicle{
		{ID: "v1", OwnerID: "d1", Plate: "AA 1", Capacity: 4, Verified: true},
		{ID: "v2", OwnerID: "d1", Plate: "AA 2", Capacity: 4},
		{ID: "v3", OwnerID: "p1", Plate: "AA 3", Capacity: 4, Verified: true},
	}
	for i := range vehicles {
		require.NoError(t, env.store.Vehicles().Create(ctx, &vehicles[i]))
	}

	env.service = NewService(Repos{
		Tx:       env.store,
		Rides:    env.store.Rides(),
		Bookings: env.store.Bookings(),
		Users:    env.store.Users(),
		Vehicles: env.store.Vehicles(),
	}, cascader, testConfig(), nil, opts...)
	env.service.now = func() time.Time { return env.now }
	env.service.newID = func() string {
		env.ids++
		return fmt.Sprintf("id-%d", env.ids)
	}
	return env
}

func (e *testEnv) input(departure time.Time) CreateRideInput {
	return CreateRideInput{
		VehicleID:    "v1",
		DepartureAt:  departure,
		Origin:       domain.Place{Address: "Main St 1"},
		Destination:  domain.Place{Address: "Airport"},
		Seats:        3,
		PricePerSeat: decimal.NewFromInt(15),
		WaitMinutes:  5,
	}
}

func (e *testEnv) createRide(t *testing.T, departure time.Time) *domain.Ride {
	t.Helper()
	res, err := e.service.CreateRide(context.Background(), "d1", e.input(departure))
	require.NoError(t, err)
	return res.Ride
}

func assertCode(t *testing.T, err error, kind apperr.Kind, code string) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, apperr.KindOf(err), err.Error())
	assert.Equal(t, code, apperr.From(err).Code, err.Error())
}

func TestService_CreateRide(t *testing.T) {
	env := newTestEnv(t, nil)
	input := env.input(baseTime.Add(2 * time.Hour))
	input.PickupPoints = []PickupPointInput{{Name: "Gas station"}, {Name: "Bridge", OffsetMinutes: 10}}

	res, err := env.service.CreateRide(context.Background(), "d1", input)
	require.NoError(t, err)
	ride := res.Ride
	assert.Equal(t, domain.RideStatusActive, ride.Status)
	assert.Equal(t, 3, ride.TotalSeats)
	assert.Equal(t, 3, ride.AvailableSeats)
	assert.Zero(t, ride.BookedSeats)
	require.Len(t, ride.PickupPoints, 2)
	assert.Equal(t, 1, ride.PickupPoints[0].Order)
	assert.Equal(t, 2, ride.PickupPoints[1].Order)
	assert.Empty(t, res.Instances)

	stored, err := env.service.GetRide(context.Background(), ride.ID)
	require.NoError(t, err)
	assert.True(t, stored.PricePerSeat.Equal(decimal.NewFromInt(15)))
}

func TestService_CreateRide_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		owner  string
		modify func(in *CreateRideInput)
		kind   apperr.Kind
		code   string
	}{
		{"not a driver", "p1", func(in *CreateRideInput) { in.VehicleID = "v3" }, apperr.KindForbidden, apperr.CodeNotDriver},
		{"unknown owner", "ghost", func(in *CreateRideInput) {}, apperr.KindNotFound, apperr.CodeUserNotFound},
		{"unknown vehicle", "d1", func(in *CreateRideInput) { in.VehicleID = "nope" }, apperr.KindNotFound, apperr.CodeVehicleNotFound},
		{"foreign vehicle", "d1", func(in *CreateRideInput) { in.VehicleID = "v3" }, apperr.KindForbidden, apperr.CodeNotVehicleOwner},
		{"unverified vehicle", "d1", func(in *CreateRideInput) { in.VehicleID = "v2" }, apperr.KindValidation, apperr.CodeVehicleUnverified},
		{"over capacity", "d1", func(in *CreateRideInput) { in.Seats = 5 }, apperr.KindValidation, apperr.CodeVehicleCapacity},
		{"no seats", "d1", func(in *CreateRideInput) { in.Seats = 0 }, apperr.KindValidation, apperr.CodeInvalidInput},
		{"too soon", "d1", func(in *CreateRideInput) { in.DepartureAt = baseTime.Add(29 * time.Minute) }, apperr.KindValidation, apperr.CodeDepartureWindow},
		{"too far", "d1", func(in *CreateRideInput) { in.DepartureAt = baseTime.Add(8 * 24 * time.Hour) }, apperr.KindValidation, apperr.CodeDepartureWindow},
		{"cheap", "d1", func(in *CreateRideInput) { in.PricePerSeat = decimal.RequireFromString("0.99") }, apperr.KindValidation, apperr.CodePriceOutOfRange},
		{"expensive", "d1", func(in *CreateRideInput) { in.PricePerSeat = decimal.NewFromInt(501) }, apperr.KindValidation, apperr.CodePriceOutOfRange},
		{"too many pickups", "d1", func(in *CreateRideInput) { in.PickupPoints = make([]PickupPointInput, 4) }, apperr.KindValidation, apperr.CodeTooManyPickups},
		{"empty recurrence", "d1", func(in *CreateRideInput) { in.Recurrence = &domain.Recurrence{} }, apperr.KindValidation, apperr.CodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			input := env.input(baseTime.Add(2 * time.Hour))
			tt.modify(&input)
			_, err := env.service.CreateRide(context.Background(), tt.owner, input)
			assertCode(t, err, tt.kind, tt.code)
		})
	}
}

func TestService_CreateRide_Overlap(t *testing.T) {
	env := newTestEnv(t, nil)
	first := baseTime.Add(3 * time.Hour)
	env.createRide(t, first)

	_, err := env.service.CreateRide(context.Background(), "d1", env.input(first.Add(20*time.Minute)))
	assertCode(t, err, apperr.KindConflict, apperr.CodeScheduleConflict)

	_, err = env.service.CreateRide(context.Background(), "d1", env.input(first.Add(-29*time.Minute)))
	assertCode(t, err, apperr.KindConflict, apperr.CodeScheduleConflict)

	env.createRide(t, first.Add(40*time.Minute))
	env.createRide(t, first.Add(-30*time.Minute))
}

func TestService_CreateRide_OverlapIgnoresCancelled(t *testing.T) {
	cascader := &MockCascader{}
	cascader.On("CascadeRideCancellation", mock.Anything, mock.Anything, mock.Anything).Return([]domain.Booking{}, nil)
	env := newTestEnv(t, cascader)
	first := env.createRide(t, baseTime.Add(3*time.Hour))

	_, err := env.service.CancelRide(context.Background(), first.ID, "d1", "")
	require.NoError(t, err)

	env.createRide(t, first.DepartureAt.Add(10*time.Minute))
}

func TestService_CreateRide_Recurring(t *testing.T) {
	env := newTestEnv(t, nil)
	end := baseTime.AddDate(0, 0, 7)
	input := env.input(baseTime.Add(2 * time.Hour))
	input.Recurrence = &domain.Recurrence{
		Days:    []time.Weekday{time.Monday, time.Wednesday, time.Friday},
		EndDate: &end,
	}

	res, err := env.service.CreateRide(context.Background(), "d1", input)
	require.NoError(t, err)
	assert.True(t, res.Ride.IsRecurring)
	require.Len(t, res.Instances, 3, "wednesday, friday and the inclusive monday")

	wantDays := []time.Weekday{time.Wednesday, time.Friday, time.Monday}
	for i, inst := range res.Instances {
		assert.Equal(t, wantDays[i], inst.DepartureAt.Weekday())
		assert.Equal(t, 11, inst.DepartureAt.Hour())
		assert.Equal(t, res.Ride.ID, inst.ParentRideID)
		assert.True(t, inst.IsRecurringInstance)
		assert.False(t, inst.IsRecurring)
		assert.Nil(t, inst.Recurrence)
		assert.NotEqual(t, res.Ride.ID, inst.ID)
	}

	owned, err := env.service.ListOwnerRides(context.Background(), "d1")
	require.NoError(t, err)
	assert.Len(t, owned, 4)
}

func TestExpandRecurrence(t *testing.T) {
	parent := &domain.Ride{ID: "parent", DepartureAt: baseTime.Add(2 * time.Hour), IsRecurring: true, Version: 3}
	counter := 0
	newID := func() string {
		counter++
		return fmt.Sprintf("inst-%d", counter)
	}
	daily := []time.Weekday{
		time.Sunday, time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday,
	}

	t.Run("capped", func(t *testing.T) {
		out := ExpandRecurrence(parent, domain.Recurrence{Days: daily}, ExpandOptions{MaxInstances: 4, DefaultWeeks: 8, NewID: newID})
		require.Len(t, out, 4)
		assert.Equal(t, baseTime.Add(2*time.Hour).AddDate(0, 0, 4), out[3].DepartureAt)
		assert.Zero(t, out[0].Version)
	})

	t.Run("monday and wednesday for two weeks", func(t *testing.T) {
		end := baseTime.AddDate(0, 0, 13)
		out := ExpandRecurrence(parent, domain.Recurrence{Days: []time.Weekday{time.Monday, time.Wednesday}, EndDate: &end},
			ExpandOptions{MaxInstances: 50, DefaultWeeks: 8, NewID: newID})
		require.Len(t, out, 3)
		assert.Equal(t, []int{4, 9, 11}, []int{out[0].DepartureAt.Day(), out[1].DepartureAt.Day(), out[2].DepartureAt.Day()})
	})

	t.Run("default weeks", func(t *testing.T) {
		out := ExpandRecurrence(parent, domain.Recurrence{Days: []time.Weekday{time.Monday}}, ExpandOptions{MaxInstances: 50, DefaultWeeks: 2, NewID: newID})
		assert.Len(t, out, 2)
	})

	t.Run("end date before first day", func(t *testing.T) {
		end := baseTime
		out := ExpandRecurrence(parent, domain.Recurrence{Days: daily, EndDate: &end}, ExpandOptions{MaxInstances: 50, DefaultWeeks: 8, NewID: newID})
		assert.Empty(t, out)
	})

	t.Run("no days", func(t *testing.T) {
		assert.Nil(t, ExpandRecurrence(parent, domain.Recurrence{}, ExpandOptions{MaxInstances: 50, NewID: newID}))
	})
}

func TestService_UpdateRide(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	ride := env.createRide(t, baseTime.Add(2*time.Hour))

	_, err := env.store.Rides().ReserveSeats(ctx, ride.ID, 2)
	require.NoError(t, err)

	two, one, five := 2, 1, 5
	updated, err := env.service.UpdateRide(ctx, ride.ID, "d1", UpdateRideInput{TotalSeats: &two})
	require.NoError(t, err)
	assert.Equal(t, domain.RideStatusFull, updated.Status)
	assert.Zero(t, updated.AvailableSeats)

	_, err = env.service.UpdateRide(ctx, ride.ID, "d1", UpdateRideInput{TotalSeats: &one})
	assertCode(t, err, apperr.KindValidation, apperr.CodeSeatsBelowBooked)

	_, err = env.service.UpdateRide(ctx, ride.ID, "d1", UpdateRideInput{TotalSeats: &five})
	assertCode(t, err, apperr.KindValidation, apperr.CodeVehicleCapacity)

	four := 4
	notes := "no pets"
	price := decimal.RequireFromString("12.50")
	updated, err = env.service.UpdateRide(ctx, ride.ID, "d1", UpdateRideInput{TotalSeats: &four, Notes: &notes, PricePerSeat: &price})
	require.NoError(t, err)
	assert.Equal(t, domain.RideStatusActive, updated.Status)
	assert.Equal(t, 2, updated.AvailableSeats)
	assert.Equal(t, 2, updated.BookedSeats)
	assert.Equal(t, "no pets", updated.Notes)
	assert.True(t, updated.PricePerSeat.Equal(price))

	_, err = env.service.UpdateRide(ctx, ride.ID, "p1", UpdateRideInput{Notes: &notes})
	assertCode(t, err, apperr.KindForbidden, apperr.CodeNotRideOwner)
}

func TestService_UpdateRide_Departure(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	first := env.createRide(t, baseTime.Add(2*time.Hour))
	second := env.createRide(t, baseTime.Add(4*time.Hour))

	clash := first.DepartureAt.Add(15 * time.Minute)
	_, err := env.service.UpdateRide(ctx, second.ID, "d1", UpdateRideInput{DepartureAt: &clash})
	assertCode(t, err, apperr.KindConflict, apperr.CodeScheduleConflict)

	// Moving a ride near its own old slot is not an overlap with itself.
	nudged := second.DepartureAt.Add(10 * time.Minute)
	updated, err := env.service.UpdateRide(ctx, second.ID, "d1", UpdateRideInput{DepartureAt: &nudged})
	require.NoError(t, err)
	assert.Equal(t, nudged, updated.DepartureAt)

	env.now = first.DepartureAt
	notes := "late"
	_, err = env.service.UpdateRide(ctx, first.ID, "d1", UpdateRideInput{Notes: &notes})
	assertCode(t, err, apperr.KindBadRequest, apperr.CodeRideDeparted)
}

func TestService_UpdateRide_ConcurrentUpdate(t *testing.T) {
	env := newTestEnv(t, nil)
	ride := env.createRide(t, baseTime.Add(2*time.Hour))

	rides := &conflictingRides{RideRepository: env.store.Rides()}
	env.service.rides = rides

	notes := "x"
	_, err := env.service.UpdateRide(context.Background(), ride.ID, "d1", UpdateRideInput{Notes: &notes})
	assertCode(t, err, apperr.KindConflict, apperr.CodeConcurrentUpdate)
	assert.Equal(t, testConfig().UpdateRetryAttempts, rides.calls)
}

func TestService_PickupPoints(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	ride := env.createRide(t, baseTime.Add(2*time.Hour))

	var err error
	for _, name := range []string{"A", "B", "C"} {
		ride, err = env.service.AddPickupPoint(ctx, ride.ID, "d1", PickupPointInput{Name: name})
		require.NoError(t, err)
	}
	_, err = env.service.AddPickupPoint(ctx, ride.ID, "d1", PickupPointInput{Name: "D"})
	assertCode(t, err, apperr.KindValidation, apperr.CodeTooManyPickups)

	a, b, c := ride.PickupPoints[0].ID, ride.PickupPoints[1].ID, ride.PickupPoints[2].ID

	ride, err = env.service.ReorderPickupPoints(ctx, ride.ID, "d1", []string{c, a, b})
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "A", "B"}, pointNames(ride))
	assert.Equal(t, []int{1, 2, 3}, pointOrders(ride))

	_, err = env.service.ReorderPickupPoints(ctx, ride.ID, "d1", []string{c, c, b})
	assertCode(t, err, apperr.KindValidation, apperr.CodeInvalidInput)
	_, err = env.service.ReorderPickupPoints(ctx, ride.ID, "d1", []string{a, b})
	assertCode(t, err, apperr.KindValidation, apperr.CodeInvalidInput)

	require.NoError(t, env.store.Bookings().Create(ctx, &domain.Booking{
		ID: "b1", RideID: ride.ID, PassengerID: "p1", DriverID: "d1", Seats: 1,
		PickupPointID: a, Status: domain.BookingStatusConfirmed,
	}))
	_, err = env.service.RemovePickupPoint(ctx, ride.ID, "d1", a)
	assertCode(t, err, apperr.KindConflict, apperr.CodePickupInUse)

	_, err = env.service.RemovePickupPoint(ctx, ride.ID, "d1", "missing")
	assertCode(t, err, apperr.KindNotFound, apperr.CodePickupNotFound)

	ride, err = env.service.RemovePickupPoint(ctx, ride.ID, "d1", c)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, pointNames(ride))
	assert.Equal(t, []int{1, 2}, pointOrders(ride))
}

func pointNames(r *domain.Ride) []string {
	out := make([]string, 0, len(r.PickupPoints))
	for _, p := range r.PickupPoints {
		out = append(out, p.Name)
	}
	return out
}

func pointOrders(r *domain.Ride) []int {
	out := make([]int, 0, len(r.PickupPoints))
	for _, p := range r.PickupPoints {
		out = append(out, p.Order)
	}
	return out
}

func TestService_StartAndComplete(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	ride := env.createRide(t, baseTime.Add(2*time.Hour))

	_, err := env.service.CompleteRide(ctx, ride.ID, "d1")
	assertCode(t, err, apperr.KindBadRequest, apperr.CodeInvalidTransition)

	env.now = ride.DepartureAt
	started, err := env.service.StartRide(ctx, ride.ID, "d1")
	require.NoError(t, err)
	assert.Equal(t, domain.RideStatusInProgress, started.Status)
	require.NotNil(t, started.StartedAt)

	_, err = env.service.StartRide(ctx, ride.ID, "d1")
	assertCode(t, err, apperr.KindBadRequest, apperr.CodeInvalidTransition)

	_, err = env.service.AddPickupPoint(ctx, ride.ID, "d1", PickupPointInput{Name: "late"})
	assertCode(t, err, apperr.KindBadRequest, apperr.CodeInvalidRideStatus)

	env.now = env.now.Add(47 * time.Minute)
	done, err := env.service.CompleteRide(ctx, ride.ID, "d1")
	require.NoError(t, err)
	assert.Equal(t, domain.RideStatusCompleted, done.Status)
	assert.Equal(t, 47, done.DurationMinutes)
	require.NotNil(t, done.CompletedAt)

	_, err = env.service.CancelRide(ctx, ride.ID, "d1", "")
	assertCode(t, err, apperr.KindBadRequest, apperr.CodeInvalidRideStatus)
}

func TestService_CancelRide(t *testing.T) {
	cascader := &MockCascader{}
	env := newTestEnv(t, cascader)
	ctx := context.Background()
	ride := env.createRide(t, baseTime.Add(2*time.Hour))

	for i, status := range []domain.BookingStatus{
		domain.BookingStatusPending, domain.BookingStatusConfirmed, domain.BookingStatusCancelled,
	} {
		require.NoError(t, env.store.Bookings().Create(ctx, &domain.Booking{
			ID: fmt.Sprintf("b%d", i), RideID: ride.ID, PassengerID: fmt.Sprintf("p%d", i),
			DriverID: "d1", Seats: 1, Status: status,
		}))
	}

	cascaded := []domain.Booking{{ID: "b0"}, {ID: "b1"}}
	cascader.On("CascadeRideCancellation", mock.Anything,
		mock.MatchedBy(func(r *domain.Ride) bool { return r.Status == domain.RideStatusCancelled }),
		mock.MatchedBy(func(bs []domain.Booking) bool {
			return len(bs) == 2 && bs[0].Status.Active() && bs[1].Status.Active()
		}),
	).Return(cascaded, nil).Once()

	_, err := env.service.CancelRide(ctx, ride.ID, "p1", "")
	assertCode(t, err, apperr.KindForbidden, apperr.CodeNotRideOwner)

	res, err := env.service.CancelRide(ctx, ride.ID, "d1", "car broke down")
	require.NoError(t, err)
	assert.Equal(t, domain.RideStatusCancelled, res.Ride.Status)
	assert.Equal(t, "car broke down", res.Ride.CancellationReason)
	require.NotNil(t, res.Ride.CancelledAt)
	assert.Equal(t, cascaded, res.Affected)
	cascader.AssertExpectations(t)

	_, err = env.service.CancelRide(ctx, ride.ID, "d1", "")
	assertCode(t, err, apperr.KindBadRequest, apperr.CodeInvalidRideStatus)
}

func TestService_CancelRide_CascadeFailureRollsBack(t *testing.T) {
	cascader := &MockCascader{}
	cascader.On("CascadeRideCancellation", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("boom"))
	env := newTestEnv(t, cascader)
	ride := env.createRide(t, baseTime.Add(2*time.Hour))

	_, err := env.service.CancelRide(context.Background(), ride.ID, "d1", "")
	assertCode(t, err, apperr.KindInternal, apperr.CodeInternal)

	stored, err := env.store.Rides().GetByID(context.Background(), ride.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RideStatusActive, stored.Status)
}

func TestService_GetRide_WriteDuringFillDropsStaleEntry(t *testing.T) {
	local := cache.NewLocal(5 * time.Minute)
	env := newTestEnv(t, nil, WithCache(local))
	ctx := context.Background()
	ride := env.createRide(t, baseTime.Add(2*time.Hour))
	require.Equal(t, 3, ride.AvailableSeats)

	env.service.rides = &racingRides{
		RideRepository: env.store.Rides(),
		afterGet: func() {
			reserved, err := env.store.Rides().ReserveSeats(ctx, ride.ID, 1)
			require.NoError(t, err)
			require.NoError(t, local.Invalidate(ctx, cachekeys.ForRide(ride, reserved)...))
		},
	}

	got, err := env.service.GetRide(ctx, ride.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.AvailableSeats)

	cached, err := local.GetRide(ctx, ride.ID)
	require.NoError(t, err)
	assert.Nil(t, cached, "entry filled from the pre-write read is dropped")

	got, err = env.service.GetRide(ctx, ride.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.AvailableSeats)
	cached, err = local.GetRide(ctx, ride.ID)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, 2, cached.AvailableSeats)
}
