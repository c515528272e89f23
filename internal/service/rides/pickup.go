package rides

import (
	"context"

	"github.com/Domenick1991/carpool/internal/apperr"
	"github.com/Domenick1991/carpool/internal/domain"
)

func (s *Service) pickupPoint(in PickupPointInput, order int) domain.PickupPoint {
	return domain.PickupPoint{
		ID:            s.newID(),
		Name:          in.Name,
		Lat:           in.Lat,
		Lng:           in.Lng,
		OffsetMinutes: in.OffsetMinutes,
		Order:         order,
	}
}

func editable(ride *domain.Ride) error {
	if ride.Status.Bookable() || ride.Status == domain.RideStatusDraft {
		return nil
	}
	return apperr.BadRequest(apperr.CodeInvalidRideStatus, "ride %s is %s and its pickup points are fixed", ride.ID, ride.Status)
}

func (s *Service) AddPickupPoint(ctx context.Context, rideID, ownerID string, input PickupPointInput) (*domain.Ride, error) {
	return s.mutate(ctx, rideID, ownerID, func(ctx context.Context, ride *domain.Ride) error {
		if err := editable(ride); err != nil {
			return err
		}
		if len(ride.PickupPoints) >= s.cfg.MaxPickupPoints {
			return apperr.Validation(apperr.CodeTooManyPickups, "a ride has at most %d pickup points", s.cfg.MaxPickupPoints)
		}
		ride.PickupPoints = append(ride.PickupPoints, s.pickupPoint(input, len(ride.PickupPoints)+1))
		return nil
	})
}

// RemovePickupPoint refuses while an active booking boards at the point. The
// remaining points are renumbered from 1.
func (s *Service) RemovePickupPoint(ctx context.Context, rideID, ownerID, pointID string) (*domain.Ride, error) {
	return s.mutate(ctx, rideID, ownerID, func(ctx context.Context, ride *domain.Ride) error {
		if err := editable(ride); err != nil {
			return err
		}
		if _, ok := ride.PickupPoint(pointID); !ok {
			return apperr.NotFound(apperr.CodePickupNotFound, "pickup point %s not found on ride %s", pointID, ride.ID)
		}

		active, err := s.bookings.ListByRide(ctx, ride.ID, domain.ActiveBookingStatuses...)
		if err != nil {
			return apperr.Internal(err, "list ride bookings")
		}
		for _, b := range active {
			if b.PickupPointID == pointID {
				return apperr.Conflict(apperr.CodePickupInUse, "pickup point %s is used by booking %s", pointID, b.ID)
			}
		}

		kept := make([]domain.PickupPoint, 0, len(ride.PickupPoints)-1)
		for _, p := range ride.PickupPoints {
			if p.ID != pointID {
				kept = append(kept, p)
			}
		}
		renumber(kept)
		ride.PickupPoints = kept
		return nil
	})
}

// ReorderPickupPoints takes the full list of point ids in their new order.
func (s *Service) ReorderPickupPoints(ctx context.Context, rideID, ownerID string, pointIDs []string) (*domain.Ride, error) {
	return s.mutate(ctx, rideID, ownerID, func(ctx context.Context, ride *domain.Ride) error {
		if err := editable(ride); err != nil {
			return err
		}
		if len(pointIDs) != len(ride.PickupPoints) {
			return apperr.Validation(apperr.CodeInvalidInput, "expected %d pickup point ids, got %d", len(ride.PickupPoints), len(pointIDs))
		}

		reordered := make([]domain.PickupPoint, 0, len(pointIDs))
		seen := make(map[string]bool, len(pointIDs))
		for _, id := range pointIDs {
			p, ok := ride.PickupPoint(id)
			if !ok || seen[id] {
				return apperr.Validation(apperr.CodeInvalidInput, "pickup point ids must be a permutation of the ride's points")
			}
			seen[id] = true
			reordered = append(reordered, p)
		}
		renumber(reordered)
		ride.PickupPoints = reordered
		return nil
	})
}

func renumber(points []domain.PickupPoint) {
	for i := range points {
		points[i].Order = i + 1
	}
}
