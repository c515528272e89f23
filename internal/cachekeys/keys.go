// Package cachekeys derives, for a single entity mutation, every cache key a
// reader could hold stale data under. It performs no I/O.
package cachekeys

import (
	"sort"

	"github.com/Domenick1991/carpool/internal/domain"
)

const AvailableRides = "rides:available"

func Ride(id string) string              { return "ride:" + id }
func OwnerRides(ownerID string) string   { return "rides:owner:" + ownerID }
func RideSeries(parentID string) string  { return "rides:series:" + parentID }
func Booking(id string) string           { return "booking:" + id }
func RideBookings(rideID string) string  { return "bookings:ride:" + rideID }
func PassengerBookings(id string) string { return "bookings:passenger:" + id }
func DriverBookings(id string) string    { return "bookings:driver:" + id }
func User(id string) string              { return "user:" + id }
func UserRatings(id string) string       { return "ratings:user:" + id }
func OwnerVehicles(id string) string     { return "vehicles:owner:" + id }

// ForRide covers the ride itself, its owner's listing, the public listing and,
// for recurring rides, the series view. Either snapshot may be nil.
func ForRide(before, after *domain.Ride) []string {
	set := keySet{}
	for _, r := range []*domain.Ride{before, after} {
		if r == nil {
			continue
		}
		set.add(Ride(r.ID), OwnerRides(r.OwnerID), AvailableRides, RideBookings(r.ID))
		if r.ParentRideID != "" {
			set.add(RideSeries(r.ParentRideID), Ride(r.ParentRideID))
		}
		if r.IsRecurring {
			set.add(RideSeries(r.ID))
		}
	}
	return set.sorted()
}

// ForBooking also covers the ride, because every booking mutation can move
// its seat counters or status.
func ForBooking(before, after *domain.Booking) []string {
	set := keySet{}
	for _, b := range []*domain.Booking{before, after} {
		if b == nil {
			continue
		}
		set.add(
			Booking(b.ID),
			RideBookings(b.RideID),
			PassengerBookings(b.PassengerID),
			DriverBookings(b.DriverID),
			Ride(b.RideID),
			AvailableRides,
		)
	}
	return set.sorted()
}

func ForUser(u *domain.User) []string {
	if u == nil {
		return nil
	}
	return []string{User(u.ID)}
}

func ForRating(r *domain.Rating) []string {
	if r == nil {
		return nil
	}
	return keySet{}.add(UserRatings(r.RatedUserID), User(r.RatedUserID)).sorted()
}

func ForVehicle(v *domain.Vehicle) []string {
	if v == nil {
		return nil
	}
	return []string{OwnerVehicles(v.OwnerID)}
}

// Merge unions key sets, dropping duplicates.
func Merge(sets ...[]string) []string {
	set := keySet{}
	for _, s := range sets {
		set.add(s...)
	}
	return set.sorted()
}

type keySet map[string]struct{}

func (s keySet) add(keys ...string) keySet {
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

func (s keySet) sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
