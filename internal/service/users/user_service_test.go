package users

import (
	"context"
	"testing"

	"github.com/Domenick1991/carpool/internal/apperr"
	"github.com/Domenick1991/carpool/internal/domain"
	"github.com/Domenick1991/carpool/internal/repository"
	"github.com/Domenick1991/carpool/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockCache struct {
	mock.Mock
}

func (m *MockCache) Invalidate(ctx context.Context, keys ...string) error {
	args := m.Called(ctx, keys)
	return args.Error(0)
}

// racingVehicles runs afterGet once, right after the first GetByID returns.
type racingVehicles struct {
	repository.VehicleRepository
	afterGet func()
}

func (r *racingVehicles) GetByID(ctx context.Context, id string) (*domain.Vehicle, error) {
	v, err := r.VehicleRepository.GetByID(ctx, id)
	if hook := r.afterGet; hook != nil {
		r.afterGet = nil
		hook()
	}
	return v, err
}

func newTestService(t *testing.T, opts ...Option) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	require.NoError(t, store.Users().Create(context.Background(), &domain.User{
		ID: "admin", Email: "admin@example.com", Role: domain.UserRoleAdmin, EmailVerified: true,
	}))
	return NewService(store.Users(), store.Vehicles(), nil, opts...), store
}

func code(err error) string { return apperr.From(err).Code }

func TestService_Register(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, RegisterInput{Email: "  Ana@Example.com ", Name: "Ana"})
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", u.Email)
	assert.Equal(t, domain.UserRolePassenger, u.Role)
	assert.Equal(t, domain.DriverStatusNone, u.DriverStatus)
	assert.False(t, u.EmailVerified)

	_, err = svc.Register(ctx, RegisterInput{Email: "ana@example.com", Name: "Other"})
	assert.Equal(t, apperr.CodeEmailTaken, code(err))
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestService_Register_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		input RegisterInput
		code  string
	}{
		{"bad email", RegisterInput{Email: "not-an-email", Name: "X"}, apperr.CodeInvalidInput},
		{"missing name", RegisterInput{Email: "x@example.com", Name: " "}, apperr.CodeInvalidInput},
		{"unknown role", RegisterInput{Email: "x@example.com", Name: "X", Role: "pilot"}, apperr.CodeInvalidInput},
		{"admin", RegisterInput{Email: "x@example.com", Name: "X", Role: domain.UserRoleAdmin}, apperr.CodeNotAdmin},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t)
			_, err := svc.Register(context.Background(), tt.input)
			assert.Equal(t, tt.code, code(err))
		})
	}
}

func TestService_DriverOnboarding(t *testing.T) {
	cache := &MockCache{}
	cache.On("Invalidate", mock.Anything, mock.Anything).Return(nil)
	svc, _ := newTestService(t, WithCache(cache))
	ctx := context.Background()

	u, err := svc.Register(ctx, RegisterInput{Email: "dan@example.com", Name: "Dan"})
	require.NoError(t, err)

	_, err = svc.RequestDriverVerification(ctx, u.ID)
	assert.Equal(t, apperr.CodeInvalidTransition, code(err), "email must be verified first")

	u, err = svc.VerifyEmail(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, u.EmailVerified)
	version := u.Version

	u, err = svc.VerifyEmail(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, version, u.Version, "verifying twice writes nothing")

	u, err = svc.RequestDriverVerification(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DriverStatusPending, u.DriverStatus)

	_, err = svc.RequestDriverVerification(ctx, u.ID)
	assert.Equal(t, apperr.CodeInvalidTransition, code(err))

	_, err = svc.ReviewDriver(ctx, u.ID, u.ID, true)
	assert.Equal(t, apperr.CodeNotAdmin, code(err))

	u, err = svc.ReviewDriver(ctx, "admin", u.ID, true)
	require.NoError(t, err)
	assert.Equal(t, domain.DriverStatusVerified, u.DriverStatus)
	assert.Equal(t, domain.UserRoleDriver, u.Role)
	assert.True(t, u.CanOfferRides())

	cache.AssertCalled(t, "Invalidate", mock.Anything, []string{"user:" + u.ID})
}

func TestService_ReviewDriver_Reject(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	u, err := svc.Register(ctx, RegisterInput{Email: "eve@example.com", Name: "Eve"})
	require.NoError(t, err)
	_, err = svc.VerifyEmail(ctx, u.ID)
	require.NoError(t, err)

	_, err = svc.ReviewDriver(ctx, "admin", u.ID, false)
	assert.Equal(t, apperr.CodeInvalidTransition, code(err), "nothing pending yet")

	_, err = svc.RequestDriverVerification(ctx, u.ID)
	require.NoError(t, err)
	u, err = svc.ReviewDriver(ctx, "admin", u.ID, false)
	require.NoError(t, err)
	assert.Equal(t, domain.DriverStatusRejected, u.DriverStatus)
	assert.False(t, u.CanOfferRides())

	u, err = svc.RequestDriverVerification(ctx, u.ID)
	require.NoError(t, err, "a rejected driver may reapply")
	assert.Equal(t, domain.DriverStatusPending, u.DriverStatus)
}

func TestService_Vehicles(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	u, err := svc.Register(ctx, RegisterInput{Email: "fay@example.com", Name: "Fay"})
	require.NoError(t, err)

	_, err = svc.RegisterVehicle(ctx, u.ID, VehicleInput{Plate: "ab 123", Capacity: 9})
	assert.Equal(t, apperr.CodeInvalidInput, code(err))

	_, err = svc.RegisterVehicle(ctx, "ghost", VehicleInput{Plate: "ab 123", Capacity: 4})
	assert.Equal(t, apperr.CodeUserNotFound, code(err))

	v, err := svc.RegisterVehicle(ctx, u.ID, VehicleInput{Make: "Skoda", Model: "Octavia", Plate: " ab 123 ", Capacity: 4})
	require.NoError(t, err)
	assert.Equal(t, "AB 123", v.Plate)
	assert.False(t, v.Verified)

	_, err = svc.VerifyVehicle(ctx, u.ID, v.ID)
	assert.Equal(t, apperr.CodeNotAdmin, code(err))

	v, err = svc.VerifyVehicle(ctx, "admin", v.ID)
	require.NoError(t, err)
	assert.True(t, v.Verified)

	_, err = svc.VerifyVehicle(ctx, "admin", "missing")
	assert.Equal(t, apperr.CodeVehicleNotFound, code(err))

	list, err := svc.ListVehicles(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Verified)
}

func TestService_VerifyVehicle_ConcurrentEdit(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	u, err := svc.Register(ctx, RegisterInput{Email: "gus@example.com", Name: "Gus"})
	require.NoError(t, err)
	v, err := svc.RegisterVehicle(ctx, u.ID, VehicleInput{Plate: "ab 1", Capacity: 4})
	require.NoError(t, err)

	svc.vehicles = &racingVehicles{
		VehicleRepository: store.Vehicles(),
		afterGet: func() {
			edited, err := store.Vehicles().GetByID(ctx, v.ID)
			require.NoError(t, err)
			edited.Plate = "AB 2"
			require.NoError(t, store.Vehicles().Update(ctx, edited))
		},
	}

	_, err = svc.VerifyVehicle(ctx, "admin", v.ID)
	assert.Equal(t, apperr.CodeConcurrentUpdate, code(err))
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	stored, err := store.Vehicles().GetByID(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, "AB 2", stored.Plate, "the concurrent edit survives")
	assert.False(t, stored.Verified)

	v, err = svc.VerifyVehicle(ctx, "admin", v.ID)
	require.NoError(t, err)
	assert.True(t, v.Verified)
	assert.Equal(t, "AB 2", v.Plate)
}
