package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Domenick1991/carpool/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var timeNow = time.Now

const rideColumns = `id, owner_id, vehicle_id, departure_at, origin, destination, pickup_points,
	total_seats, available_seats, booked_seats, price_cents, wait_minutes, notes, status,
	is_recurring, recurrence, is_recurring_instance, parent_ride_id, cancellation_reason,
	cancelled_at, started_at, completed_at, duration_minutes, version, created_at, updated_at`

type PGRideRepository struct {
	db *pgxpool.Pool
}

func NewRideRepository(db *pgxpool.Pool) RideRepository {
	return &PGRideRepository{db: db}
}

func (r *PGRideRepository) Create(ctx context.Context, rides ...*domain.Ride) error {
	return atomically(ctx, r.db, func(q querier) error {
		for _, ride := range rides {
			args, err := rideArgs(ride)
			if err != nil {
				return err
			}
			cmd, err := q.Exec(ctx, `INSERT INTO rides (`+rideColumns+`)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26)
				ON CONFLICT (id) DO NOTHING`, args...)
			if err != nil {
				return translate(err)
			}
			if cmd.RowsAffected() == 0 {
				return ErrAlreadyExists
			}
			if err := recordChange(ctx, q, domain.EntityRide, ride.ID, nil, ride); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *PGRideRepository) GetByID(ctx context.Context, id string) (*domain.Ride, error) {
	row := conn(ctx, r.db).QueryRow(ctx, `SELECT `+rideColumns+` FROM rides WHERE id=$1`, id)
	ride, err := scanRide(row)
	if err != nil {
		return nil, translate(err)
	}
	return ride, nil
}

func (r *PGRideRepository) ListByOwner(ctx context.Context, ownerID string, statuses ...domain.RideStatus) ([]domain.Ride, error) {
	filter := make([]string, 0, len(statuses))
	for _, s := range statuses {
		filter = append(filter, string(s))
	}
	rows, err := conn(ctx, r.db).Query(ctx, `SELECT `+rideColumns+` FROM rides
		WHERE owner_id=$1 AND (cardinality($2::text[]) = 0 OR status = ANY($2::text[]))
		ORDER BY departure_at`, ownerID, filter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rides := make([]domain.Ride, 0)
	for rows.Next() {
		ride, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		rides = append(rides, *ride)
	}
	return rides, rows.Err()
}

func (r *PGRideRepository) Update(ctx context.Context, ride *domain.Ride) error {
	return atomically(ctx, r.db, func(q querier) error {
		before, err := lockRide(ctx, q, ride.ID)
		if err != nil {
			return err
		}
		if before.Version != ride.Version {
			return ErrConditionFailed
		}

		args, err := rideArgs(ride)
		if err != nil {
			return err
		}
		// rideArgs keeps column order; version and updated_at are set here.
		row := q.QueryRow(ctx, `UPDATE rides SET
				owner_id=$2, vehicle_id=$3, departure_at=$4, origin=$5, destination=$6, pickup_points=$7,
				total_seats=$8, available_seats=$9, booked_seats=$10, price_cents=$11, wait_minutes=$12,
				notes=$13, status=$14, is_recurring=$15, recurrence=$16, is_recurring_instance=$17,
				parent_ride_id=$18, cancellation_reason=$19, cancelled_at=$20, started_at=$21,
				completed_at=$22, duration_minutes=$23, version=version+1, updated_at=now()
			WHERE id=$1 AND version=$24
			RETURNING version, updated_at`, args[:24]...)
		if err := row.Scan(&ride.Version, &ride.UpdatedAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrConditionFailed
			}
			return err
		}
		return recordChange(ctx, q, domain.EntityRide, ride.ID, before, ride)
	})
}

func (r *PGRideRepository) ReserveSeats(ctx context.Context, rideID string, seats int) (*domain.Ride, error) {
	return r.adjust(ctx, rideID, `UPDATE rides SET
			available_seats = available_seats - $2,
			booked_seats = booked_seats + $2,
			status = CASE WHEN available_seats - $2 = 0 THEN 'full' ELSE 'active' END,
			version = version + 1,
			updated_at = now()
		WHERE id=$1 AND available_seats >= $2 AND status IN ('active', 'full')
		RETURNING `+rideColumns, seats)
}

func (r *PGRideRepository) ReleaseSeats(ctx context.Context, rideID string, seats int) (*domain.Ride, error) {
	return r.adjust(ctx, rideID, `UPDATE rides SET
			available_seats = available_seats + $2,
			booked_seats = booked_seats - $2,
			status = CASE WHEN status = 'full' THEN 'active' ELSE status END,
			version = version + 1,
			updated_at = now()
		WHERE id=$1 AND booked_seats >= $2
		RETURNING `+rideColumns, seats)
}

// adjust runs a conditional counter update; no returned row means the
// precondition in its WHERE clause failed.
func (r *PGRideRepository) adjust(ctx context.Context, rideID, sql string, seats int) (*domain.Ride, error) {
	var after *domain.Ride
	err := atomically(ctx, r.db, func(q querier) error {
		before, err := lockRide(ctx, q, rideID)
		if err != nil {
			return err
		}
		after, err = scanRide(q.QueryRow(ctx, sql, rideID, seats))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrConditionFailed
			}
			return err
		}
		return recordChange(ctx, q, domain.EntityRide, rideID, before, after)
	})
	if err != nil {
		return nil, err
	}
	return after, nil
}

func lockRide(ctx context.Context, q querier, id string) (*domain.Ride, error) {
	ride, err := scanRide(q.QueryRow(ctx, `SELECT `+rideColumns+` FROM rides WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return nil, translate(err)
	}
	return ride, nil
}

func rideArgs(ride *domain.Ride) ([]any, error) {
	origin, err := json.Marshal(ride.Origin)
	if err != nil {
		return nil, err
	}
	destination, err := json.Marshal(ride.Destination)
	if err != nil {
		return nil, err
	}
	pickups, err := json.Marshal(ride.PickupPoints)
	if err != nil {
		return nil, err
	}
	var recurrence []byte
	if ride.Recurrence != nil {
		if recurrence, err = jsonOrNil(ride.Recurrence); err != nil {
			return nil, err
		}
	}
	return []any{
		ride.ID, ride.OwnerID, ride.VehicleID, ride.DepartureAt, origin, destination, pickups,
		ride.TotalSeats, ride.AvailableSeats, ride.BookedSeats, ride.PricePerSeat.Shift(2).IntPart(),
		ride.WaitMinutes, ride.Notes, ride.Status, ride.IsRecurring, recurrence, ride.IsRecurringInstance,
		ride.ParentRideID, ride.CancellationReason, ride.CancelledAt, ride.StartedAt, ride.CompletedAt,
		ride.DurationMinutes, ride.Version, ride.CreatedAt, ride.UpdatedAt,
	}, nil
}

func scanRide(row pgx.Row) (*domain.Ride, error) {
	var (
		ride                         domain.Ride
		origin, destination, pickups []byte
		recurrence                   []byte
		priceCents                   int64
	)
	if err := row.Scan(&ride.ID, &ride.OwnerID, &ride.VehicleID, &ride.DepartureAt, &origin, &destination, &pickups,
		&ride.TotalSeats, &ride.AvailableSeats, &ride.BookedSeats, &priceCents, &ride.WaitMinutes, &ride.Notes,
		&ride.Status, &ride.IsRecurring, &recurrence, &ride.IsRecurringInstance, &ride.ParentRideID,
		&ride.CancellationReason, &ride.CancelledAt, &ride.StartedAt, &ride.CompletedAt, &ride.DurationMinutes,
		&ride.Version, &ride.CreatedAt, &ride.UpdatedAt); err != nil {
		return nil, err
	}
	ride.PricePerSeat = decimal.New(priceCents, -2)
	if err := json.Unmarshal(origin, &ride.Origin); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(destination, &ride.Destination); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(pickups, &ride.PickupPoints); err != nil {
		return nil, err
	}
	if len(recurrence) > 0 {
		if err := json.Unmarshal(recurrence, &ride.Recurrence); err != nil {
			return nil, err
		}
	}
	return &ride, nil
}

var _ RideRepository = (*PGRideRepository)(nil)
