package repository

import (
	"context"
	"errors"

	"github.com/Domenick1991/carpool/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userColumns = `id, email, phone, name, email_verified, role, driver_status,
	rating_average, rating_count, version, created_at, updated_at`

type PGUserRepository struct {
	db *pgxpool.Pool
}

func NewUserRepository(db *pgxpool.Pool) UserRepository {
	return &PGUserRepository{db: db}
}

func (r *PGUserRepository) Create(ctx context.Context, u *domain.User) error {
	return atomically(ctx, r.db, func(q querier) error {
		if _, err := q.Exec(ctx, `INSERT INTO users (`+userColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
			u.ID, u.Email, u.Phone, u.Name, u.EmailVerified, u.Role, u.DriverStatus,
			u.RatingAverage, u.RatingCount, u.Version, u.CreatedAt, u.UpdatedAt); err != nil {
			return translate(err)
		}
		return recordChange(ctx, q, domain.EntityUser, u.ID, nil, u)
	})
}

func (r *PGUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	u, err := scanUser(conn(ctx, r.db).QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id))
	if err != nil {
		return nil, translate(err)
	}
	return u, nil
}

func (r *PGUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	u, err := scanUser(conn(ctx, r.db).QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email)=lower($1)`, email))
	if err != nil {
		return nil, translate(err)
	}
	return u, nil
}

func (r *PGUserRepository) Update(ctx context.Context, u *domain.User) error {
	return atomically(ctx, r.db, func(q querier) error {
		before, err := scanUser(q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1 FOR UPDATE`, u.ID))
		if err != nil {
			return translate(err)
		}
		row := q.QueryRow(ctx, `UPDATE users SET
				email=$2, phone=$3, name=$4, email_verified=$5, role=$6, driver_status=$7,
				rating_average=$8, rating_count=$9, version=version+1, updated_at=now()
			WHERE id=$1 AND version=$10
			RETURNING version, updated_at`,
			u.ID, u.Email, u.Phone, u.Name, u.EmailVerified, u.Role, u.DriverStatus,
			u.RatingAverage, u.RatingCount, u.Version)
		if err := row.Scan(&u.Version, &u.UpdatedAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrConditionFailed
			}
			return err
		}
		return recordChange(ctx, q, domain.EntityUser, u.ID, before, u)
	})
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.Phone, &u.Name, &u.EmailVerified, &u.Role, &u.DriverStatus,
		&u.RatingAverage, &u.RatingCount, &u.Version, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

const vehicleColumns = `id, owner_id, make, model, plate, capacity, verified, version, created_at, updated_at`

type PGVehicleRepository struct {
	db *pgxpool.Pool
}

func NewVehicleRepository(db *pgxpool.Pool) VehicleRepository {
	return &PGVehicleRepository{db: db}
}

func (r *PGVehicleRepository) Create(ctx context.Context, v *domain.Vehicle) error {
	return atomically(ctx, r.db, func(q querier) error {
		if _, err := q.Exec(ctx, `INSERT INTO vehicles (`+vehicleColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			v.ID, v.OwnerID, v.Make, v.Model, v.Plate, v.Capacity, v.Verified, v.Version, v.CreatedAt, v.UpdatedAt); err != nil {
			return translate(err)
		}
		return recordChange(ctx, q, domain.EntityVehicle, v.ID, nil, v)
	})
}

func (r *PGVehicleRepository) GetByID(ctx context.Context, id string) (*domain.Vehicle, error) {
	v, err := scanVehicle(conn(ctx, r.db).QueryRow(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE id=$1`, id))
	if err != nil {
		return nil, translate(err)
	}
	return v, nil
}

func (r *PGVehicleRepository) ListByOwner(ctx context.Context, ownerID string) ([]domain.Vehicle, error) {
	rows, err := conn(ctx, r.db).Query(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE owner_id=$1 ORDER BY id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	vehicles := make([]domain.Vehicle, 0)
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, err
		}
		vehicles = append(vehicles, *v)
	}
	return vehicles, rows.Err()
}

func (r *PGVehicleRepository) Update(ctx context.Context, v *domain.Vehicle) error {
	return atomically(ctx, r.db, func(q querier) error {
		before, err := scanVehicle(q.QueryRow(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE id=$1 FOR UPDATE`, v.ID))
		if err != nil {
			return translate(err)
		}
		row := q.QueryRow(ctx, `UPDATE vehicles SET
				make=$2, model=$3, plate=$4, capacity=$5, verified=$6, version=version+1, updated_at=now()
			WHERE id=$1 AND version=$7
			RETURNING version, updated_at`,
			v.ID, v.Make, v.Model, v.Plate, v.Capacity, v.Verified, v.Version)
		if err := row.Scan(&v.Version, &v.UpdatedAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrConditionFailed
			}
			return err
		}
		return recordChange(ctx, q, domain.EntityVehicle, v.ID, before, v)
	})
}

func scanVehicle(row pgx.Row) (*domain.Vehicle, error) {
	var v domain.Vehicle
	if err := row.Scan(&v.ID, &v.OwnerID, &v.Make, &v.Model, &v.Plate, &v.Capacity, &v.Verified, &v.Version, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	return &v, nil
}

type PGRatingRepository struct {
	db *pgxpool.Pool
}

func NewRatingRepository(db *pgxpool.Pool) RatingRepository {
	return &PGRatingRepository{db: db}
}

func (r *PGRatingRepository) Create(ctx context.Context, rt *domain.Rating) error {
	return atomically(ctx, r.db, func(q querier) error {
		if _, err := q.Exec(ctx, `INSERT INTO ratings (id, booking_id, ride_id, rater_id, rated_user_id, score, comment, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			rt.ID, rt.BookingID, rt.RideID, rt.RaterID, rt.RatedUserID, rt.Score, rt.Comment, rt.CreatedAt); err != nil {
			return translate(err)
		}
		return recordChange(ctx, q, domain.EntityRating, rt.ID, nil, rt)
	})
}

func (r *PGRatingRepository) ListByRatedUser(ctx context.Context, userID string) ([]domain.Rating, error) {
	rows, err := conn(ctx, r.db).Query(ctx, `SELECT id, booking_id, ride_id, rater_id, rated_user_id, score, comment, created_at
		FROM ratings WHERE rated_user_id=$1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ratings := make([]domain.Rating, 0)
	for rows.Next() {
		var rt domain.Rating
		if err := rows.Scan(&rt.ID, &rt.BookingID, &rt.RideID, &rt.RaterID, &rt.RatedUserID, &rt.Score, &rt.Comment, &rt.CreatedAt); err != nil {
			return nil, err
		}
		ratings = append(ratings, rt)
	}
	return ratings, rows.Err()
}

var (
	_ UserRepository    = (*PGUserRepository)(nil)
	_ VehicleRepository = (*PGVehicleRepository)(nil)
	_ RatingRepository  = (*PGRatingRepository)(nil)
)
