package domain

import "time"

type UserRole string

const (
	UserRolePassenger UserRole = "passenger"
	UserRoleDriver    UserRole = "driver"
	UserRoleAdmin     UserRole = "admin"
)

type DriverStatus string

const (
	DriverStatusNone     DriverStatus = "none"
	DriverStatusPending  DriverStatus = "pending"
	DriverStatusVerified DriverStatus = "verified"
	DriverStatusRejected DriverStatus = "rejected"
)

type User struct {
	ID            string       `json:"id"`
	Email         string       `json:"email"`
	Phone         string       `json:"phone,omitempty"`
	Name          string       `json:"name"`
	EmailVerified bool         `json:"email_verified"`
	Role          UserRole     `json:"role"`
	DriverStatus  DriverStatus `json:"driver_status"`
	RatingAverage float64      `json:"rating_average"`
	RatingCount   int          `json:"rating_count"`
	Version       int64        `json:"version"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// CanOfferRides: a verified email and an approved driver application.
func (u *User) CanOfferRides() bool {
	return u.EmailVerified && u.DriverStatus == DriverStatusVerified
}

type Vehicle struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Make      string    `json:"make"`
	Model     string    `json:"model"`
	Plate     string    `json:"plate"`
	Capacity  int       `json:"capacity"`
	Verified  bool      `json:"verified"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Rating struct {
	ID          string    `json:"id"`
	BookingID   string    `json:"booking_id"`
	RideID      string    `json:"ride_id"`
	RaterID     string    `json:"rater_id"`
	RatedUserID string    `json:"rated_user_id"`
	Score       int       `json:"score"`
	Comment     string    `json:"comment,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
