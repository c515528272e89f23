package cachekeys

import (
	"testing"

	"github.com/Domenick1991/carpool/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestForRide(t *testing.T) {
	ride := &domain.Ride{ID: "r1", OwnerID: "d1"}
	assert.Equal(t, []string{"bookings:ride:r1", "ride:r1", "rides:available", "rides:owner:d1"}, ForRide(nil, ride))
}

func TestForRide_RecurringInstance(t *testing.T) {
	instance := &domain.Ride{ID: "r2", OwnerID: "d1", ParentRideID: "r1", IsRecurringInstance: true}
	keys := ForRide(instance, instance)
	assert.Contains(t, keys, "rides:series:r1")
	assert.Contains(t, keys, "ride:r1")
	assert.Contains(t, keys, "ride:r2")
}

func TestForRide_OwnerChangeCoversBoth(t *testing.T) {
	before := &domain.Ride{ID: "r1", OwnerID: "d1"}
	after := &domain.Ride{ID: "r1", OwnerID: "d2"}
	keys := ForRide(before, after)
	assert.Contains(t, keys, "rides:owner:d1")
	assert.Contains(t, keys, "rides:owner:d2")
}

func TestForBooking(t *testing.T) {
	b := &domain.Booking{ID: "b1", RideID: "r1", PassengerID: "p1", DriverID: "d1"}
	assert.Equal(t, []string{
		"booking:b1",
		"bookings:driver:d1",
		"bookings:passenger:p1",
		"bookings:ride:r1",
		"ride:r1",
		"rides:available",
	}, ForBooking(b, b))
}

func TestNilSnapshots(t *testing.T) {
	assert.Empty(t, ForRide(nil, nil))
	assert.Empty(t, ForBooking(nil, nil))
	assert.Nil(t, ForUser(nil))
	assert.Nil(t, ForRating(nil))
	assert.Nil(t, ForVehicle(nil))
}

func TestMerge(t *testing.T) {
	got := Merge(ForUser(&domain.User{ID: "u1"}), ForRating(&domain.Rating{RatedUserID: "u1"}))
	assert.Equal(t, []string{"ratings:user:u1", "user:u1"}, got)
}
