package processors

import (
	"context"

	"github.com/Domenick1991/carpool/internal/domain"
	"github.com/Domenick1991/carpool/internal/notify"
)

type UserProcessor struct {
	base
}

func NewUserProcessor(d Deps) *UserProcessor {
	return &UserProcessor{base: newBase(d, "user-processor")}
}

func (p *UserProcessor) Process(ctx context.Context, ev domain.ChangeEvent) error {
	before, after, err := snapshots[domain.User](ev)
	if err != nil {
		return err
	}
	if before == nil || after == nil {
		return nil
	}

	fact := func(kind, template, subject string) notify.Fact {
		return notify.Fact{
			Kind:       kind,
			EntityType: domain.EntityUser,
			EntityID:   after.ID,
			ChangeID:   ev.ID,
			Template:   template,
			Subject:    subject,
			Data:       map[string]any{"name": after.Name},
		}
	}

	if !before.EmailVerified && after.EmailVerified {
		if err := p.send(ctx, fact("user.email_verified", "welcome", "Welcome aboard"), after.ID); err != nil {
			return err
		}
	}

	if before.DriverStatus == domain.DriverStatusPending && before.DriverStatus != after.DriverStatus {
		switch after.DriverStatus {
		case domain.DriverStatusVerified:
			return p.send(ctx, fact("user.driver_verified", "driver_approved", "You can now offer rides"), after.ID)
		case domain.DriverStatusRejected:
			return p.send(ctx, fact("user.driver_rejected", "driver_rejected", "Your driver application was declined"), after.ID)
		}
	}
	return nil
}

type VehicleProcessor struct {
	base
}

func NewVehicleProcessor(d Deps) *VehicleProcessor {
	return &VehicleProcessor{base: newBase(d, "vehicle-processor")}
}

func (p *VehicleProcessor) Process(ctx context.Context, ev domain.ChangeEvent) error {
	before, after, err := snapshots[domain.Vehicle](ev)
	if err != nil {
		return err
	}
	if before == nil || after == nil || before.Verified || !after.Verified {
		return nil
	}
	return p.send(ctx, notify.Fact{
		Kind:       "vehicle.verified",
		EntityType: domain.EntityVehicle,
		EntityID:   after.ID,
		ChangeID:   ev.ID,
		Template:   "vehicle_verified",
		Subject:    "Your vehicle was approved",
		Data: map[string]any{
			"vehicle_id": after.ID,
			"plate":      after.Plate,
		},
	}, after.OwnerID)
}
