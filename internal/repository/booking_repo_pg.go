package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/Domenick1991/carpool/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const bookingColumns = `id, ride_id, passenger_id, driver_id, seats, pickup_point_id, status,
	verification_code, verification_expires_at, cancellation, confirmed_at, started_at,
	completed_at, version, created_at, updated_at`

type PGBookingRepository struct {
	db *pgxpool.Pool
}

func NewBookingRepository(db *pgxpool.Pool) BookingRepository {
	return &PGBookingRepository{db: db}
}

// Create relies on the partial unique index over (ride_id, passenger_id)
// for non-cancelled bookings.
func (r *PGBookingRepository) Create(ctx context.Context, booking *domain.Booking) error {
	return atomically(ctx, r.db, func(q querier) error {
		args, err := bookingArgs(booking)
		if err != nil {
			return err
		}
		if _, err := q.Exec(ctx, `INSERT INTO bookings (`+bookingColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`, args...); err != nil {
			return translate(err)
		}
		return recordChange(ctx, q, domain.EntityBooking, booking.ID, nil, booking)
	})
}

func (r *PGBookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	b, err := scanBooking(conn(ctx, r.db).QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id=$1`, id))
	if err != nil {
		return nil, translate(err)
	}
	return b, nil
}

func (r *PGBookingRepository) ListByRide(ctx context.Context, rideID string, statuses ...domain.BookingStatus) ([]domain.Booking, error) {
	filter := make([]string, 0, len(statuses))
	for _, s := range statuses {
		filter = append(filter, string(s))
	}
	rows, err := conn(ctx, r.db).Query(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE ride_id=$1 AND (cardinality($2::text[]) = 0 OR status = ANY($2::text[]))
		ORDER BY created_at, id`, rideID, filter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bookings := make([]domain.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

func (r *PGBookingRepository) FindOpen(ctx context.Context, rideID, passengerID string) (*domain.Booking, error) {
	b, err := scanBooking(conn(ctx, r.db).QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE ride_id=$1 AND passenger_id=$2 AND status <> 'cancelled' LIMIT 1`, rideID, passengerID))
	if err != nil {
		return nil, translate(err)
	}
	return b, nil
}

func (r *PGBookingRepository) Update(ctx context.Context, booking *domain.Booking) error {
	return atomically(ctx, r.db, func(q querier) error {
		before, err := scanBooking(q.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id=$1 FOR UPDATE`, booking.ID))
		if err != nil {
			return translate(err)
		}
		if before.Version != booking.Version {
			return ErrConditionFailed
		}
		cancellation, err := jsonOrNil(booking.Cancellation)
		if err != nil {
			return err
		}
		row := q.QueryRow(ctx, `UPDATE bookings SET
				status=$2, cancellation=$3, confirmed_at=$4, started_at=$5, completed_at=$6,
				version=version+1, updated_at=now()
			WHERE id=$1 AND version=$7
			RETURNING version, updated_at`,
			booking.ID, booking.Status, nullableJSON(cancellation), booking.ConfirmedAt, booking.StartedAt,
			booking.CompletedAt, booking.Version)
		if err := row.Scan(&booking.Version, &booking.UpdatedAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrConditionFailed
			}
			return err
		}
		return recordChange(ctx, q, domain.EntityBooking, booking.ID, before, booking)
	})
}

func bookingArgs(b *domain.Booking) ([]any, error) {
	var cancellation []byte
	if b.Cancellation != nil {
		var err error
		if cancellation, err = json.Marshal(b.Cancellation); err != nil {
			return nil, err
		}
	}
	return []any{
		b.ID, b.RideID, b.PassengerID, b.DriverID, b.Seats, b.PickupPointID, b.Status,
		b.VerificationCode, b.VerificationExpiresAt, nullableJSON(cancellation), b.ConfirmedAt,
		b.StartedAt, b.CompletedAt, b.Version, b.CreatedAt, b.UpdatedAt,
	}, nil
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return raw
}

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var (
		b            domain.Booking
		cancellation []byte
	)
	if err := row.Scan(&b.ID, &b.RideID, &b.PassengerID, &b.DriverID, &b.Seats, &b.PickupPointID, &b.Status,
		&b.VerificationCode, &b.VerificationExpiresAt, &cancellation, &b.ConfirmedAt, &b.StartedAt,
		&b.CompletedAt, &b.Version, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	if len(cancellation) > 0 {
		if err := json.Unmarshal(cancellation, &b.Cancellation); err != nil {
			return nil, err
		}
	}
	return &b, nil
}

var _ BookingRepository = (*PGBookingRepository)(nil)
