package users

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/Domenick1991/carpool/internal/apperr"
	"github.com/Domenick1991/carpool/internal/cachekeys"
	"github.com/Domenick1991/carpool/internal/domain"
	"github.com/Domenick1991/carpool/internal/logger"
	"github.com/Domenick1991/carpool/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type UserUseCase interface {
	Register(ctx context.Context, input RegisterInput) (*domain.User, error)
	VerifyEmail(ctx context.Context, userID string) (*domain.User, error)
	RequestDriverVerification(ctx context.Context, userID string) (*domain.User, error)
	ReviewDriver(ctx context.Context, adminID, userID string, approve bool) (*domain.User, error)
	RegisterVehicle(ctx context.Context, ownerID string, input VehicleInput) (*domain.Vehicle, error)
	VerifyVehicle(ctx context.Context, adminID, vehicleID string) (*domain.Vehicle, error)
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	ListVehicles(ctx context.Context, ownerID string) ([]domain.Vehicle, error)
}

type Cache interface {
	Invalidate(ctx context.Context, keys ...string) error
}

const maxVehicleCapacity = 8

type Option func(*Service)

func WithCache(c Cache) Option {
	return func(s *Service) { s.cache = c }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

type Service struct {
	users    repository.UserRepository
	vehicles repository.VehicleRepository
	cache    Cache
	now      func() time.Time
	newID    func() string
	log      *zap.Logger
}

func NewService(users repository.UserRepository, vehicles repository.VehicleRepository, log *zap.Logger, opts ...Option) *Service {
	s := &Service{
		users:    users,
		vehicles: vehicles,
		now:      time.Now,
		newID:    uuid.NewString,
		log:      logger.OrNop(log).Named("users"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type RegisterInput struct {
	Email string          `json:"email"`
	Name  string          `json:"name"`
	Phone string          `json:"phone,omitempty"`
	Role  domain.UserRole `json:"role,omitempty"`
}

type VehicleInput struct {
	Make     string `json:"make"`
	Model    string `json:"model"`
	Plate    string `json:"plate"`
	Capacity int    `json:"capacity"`
}

func (s *Service) Register(ctx context.Context, input RegisterInput) (*domain.User, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "email %q is not valid", input.Email)
	}
	if strings.TrimSpace(input.Name) == "" {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "name is required")
	}
	role := input.Role
	switch role {
	case "":
		role = domain.UserRolePassenger
	case domain.UserRolePassenger, domain.UserRoleDriver:
	case domain.UserRoleAdmin:
		return nil, apperr.Forbidden(apperr.CodeNotAdmin, "admins cannot self-register")
	default:
		return nil, apperr.Validation(apperr.CodeInvalidInput, "unknown role %q", input.Role)
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, apperr.Conflict(apperr.CodeEmailTaken, "email %s is already registered", email)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.Internal(err, "look up email")
	}

	now := s.now()
	user := &domain.User{
		ID:           s.newID(),
		Email:        email,
		Phone:        input.Phone,
		Name:         strings.TrimSpace(input.Name),
		Role:         role,
		DriverStatus: domain.DriverStatusNone,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, apperr.Conflict(apperr.CodeEmailTaken, "email %s is already registered", email)
		}
		return nil, apperr.Internal(err, "create user")
	}
	s.log.Info("user registered", zap.String("user_id", user.ID))
	return user, nil
}

// VerifyEmail is idempotent.
func (s *Service) VerifyEmail(ctx context.Context, userID string) (*domain.User, error) {
	return s.update(ctx, userID, func(u *domain.User) (bool, error) {
		if u.EmailVerified {
			return false, nil
		}
		u.EmailVerified = true
		return true, nil
	})
}

func (s *Service) RequestDriverVerification(ctx context.Context, userID string) (*domain.User, error) {
	return s.update(ctx, userID, func(u *domain.User) (bool, error) {
		if !u.EmailVerified {
			return false, apperr.BadRequest(apperr.CodeInvalidTransition, "verify your email before applying as a driver")
		}
		switch u.DriverStatus {
		case domain.DriverStatusNone, domain.DriverStatusRejected:
			u.DriverStatus = domain.DriverStatusPending
			return true, nil
		}
		return false, apperr.BadRequest(apperr.CodeInvalidTransition, "driver application is already %s", u.DriverStatus)
	})
}

func (s *Service) ReviewDriver(ctx context.Context, adminID, userID string, approve bool) (*domain.User, error) {
	if err := s.requireAdmin(ctx, adminID); err != nil {
		return nil, err
	}
	return s.update(ctx, userID, func(u *domain.User) (bool, error) {
		if u.DriverStatus != domain.DriverStatusPending {
			return false, apperr.BadRequest(apperr.CodeInvalidTransition, "no pending driver application for user %s", u.ID)
		}
		if approve {
			u.DriverStatus = domain.DriverStatusVerified
			if u.Role == domain.UserRolePassenger {
				u.Role = domain.UserRoleDriver
			}
		} else {
			u.DriverStatus = domain.DriverStatusRejected
		}
		return true, nil
	})
}

func (s *Service) RegisterVehicle(ctx context.Context, ownerID string, input VehicleInput) (*domain.Vehicle, error) {
	if _, err := s.GetUser(ctx, ownerID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.Plate) == "" {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "plate is required")
	}
	if input.Capacity < 1 || input.Capacity > maxVehicleCapacity {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "capacity must be between 1 and %d", maxVehicleCapacity)
	}

	now := s.now()
	vehicle := &domain.Vehicle{
		ID:        s.newID(),
		OwnerID:   ownerID,
		Make:      input.Make,
		Model:     input.Model,
		Plate:     strings.ToUpper(strings.TrimSpace(input.Plate)),
		Capacity:  input.Capacity,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.vehicles.Create(ctx, vehicle); err != nil {
		return nil, apperr.Internal(err, "create vehicle")
	}
	s.invalidate(ctx, cachekeys.ForVehicle(vehicle))
	return vehicle, nil
}

func (s *Service) VerifyVehicle(ctx context.Context, adminID, vehicleID string) (*domain.Vehicle, error) {
	if err := s.requireAdmin(ctx, adminID); err != nil {
		return nil, err
	}
	vehicle, err := s.vehicles.GetByID(ctx, vehicleID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound(apperr.CodeVehicleNotFound, "vehicle %s not found", vehicleID)
		}
		return nil, apperr.Internal(err, "load vehicle")
	}
	if vehicle.Verified {
		return vehicle, nil
	}
	vehicle.Verified = true
	if err := s.vehicles.Update(ctx, vehicle); err != nil {
		if errors.Is(err, repository.ErrConditionFailed) {
			return nil, apperr.Conflict(apperr.CodeConcurrentUpdate, "vehicle %s was modified concurrently", vehicleID)
		}
		return nil, apperr.Internal(err, "update vehicle")
	}
	s.invalidate(ctx, cachekeys.ForVehicle(vehicle))
	return vehicle, nil
}

func (s *Service) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound(apperr.CodeUserNotFound, "user %s not found", userID)
		}
		return nil, apperr.Internal(err, "load user")
	}
	return u, nil
}

func (s *Service) ListVehicles(ctx context.Context, ownerID string) ([]domain.Vehicle, error) {
	vehicles, err := s.vehicles.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, apperr.Internal(err, "list vehicles")
	}
	return vehicles, nil
}

func (s *Service) requireAdmin(ctx context.Context, adminID string) error {
	admin, err := s.GetUser(ctx, adminID)
	if err != nil {
		return err
	}
	if admin.Role != domain.UserRoleAdmin {
		return apperr.Forbidden(apperr.CodeNotAdmin, "user %s is not an admin", adminID)
	}
	return nil
}

// update loads the user, applies fn and writes with a version check. fn
// reports whether anything changed.
func (s *Service) update(ctx context.Context, userID string, fn func(u *domain.User) (bool, error)) (*domain.User, error) {
	u, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	changed, err := fn(u)
	if err != nil {
		return nil, err
	}
	if !changed {
		return u, nil
	}
	if err := s.users.Update(ctx, u); err != nil {
		if errors.Is(err, repository.ErrConditionFailed) {
			return nil, apperr.Conflict(apperr.CodeConcurrentUpdate, "user %s was modified concurrently", userID)
		}
		return nil, apperr.Internal(err, "update user")
	}
	s.invalidate(ctx, cachekeys.ForUser(u))
	return u, nil
}

func (s *Service) invalidate(ctx context.Context, keys []string) {
	if s.cache == nil || len(keys) == 0 {
		return
	}
	if err := s.cache.Invalidate(ctx, keys...); err != nil {
		s.log.Warn("cache invalidation failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

var _ UserUseCase = (*Service)(nil)
