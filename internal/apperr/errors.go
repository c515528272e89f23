// Package apperr defines the error taxonomy surfaced to callers: each error
// carries a kind (mapped to an HTTP status class) and a stable machine code.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindForbidden
	KindConflict
	KindBadRequest
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindBadRequest:
		return "bad_request"
	default:
		return "internal"
	}
}

// HTTPStatus returns the HTTP-equivalent status class of the kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation, KindBadRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Kind == KindInternal {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind and code, so sentinel values below work
// with errors.Is even when the message differs.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Code == "" || e.Code == t.Code)
}

func newf(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func Validation(code, format string, args ...any) *Error {
	return newf(KindValidation, code, format, args...)
}

func NotFound(code, format string, args ...any) *Error {
	return newf(KindNotFound, code, format, args...)
}

func Forbidden(code, format string, args ...any) *Error {
	return newf(KindForbidden, code, format, args...)
}

func Conflict(code, format string, args ...any) *Error {
	return newf(KindConflict, code, format, args...)
}

func BadRequest(code, format string, args ...any) *Error {
	return newf(KindBadRequest, code, format, args...)
}

// Internal wraps an unexpected failure. Its public message never includes err.
func Internal(err error, msg string) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: msg, Err: err}
}

// From returns err as an *Error, wrapping anything unrecognised as internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err, "internal error")
}

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

const (
	CodeInternal           = "INTERNAL_ERROR"
	CodeInvalidInput       = "INVALID_INPUT"
	CodeRideNotFound       = "RIDE_NOT_FOUND"
	CodeBookingNotFound    = "BOOKING_NOT_FOUND"
	CodeUserNotFound       = "USER_NOT_FOUND"
	CodeVehicleNotFound    = "VEHICLE_NOT_FOUND"
	CodePickupNotFound     = "PICKUP_POINT_NOT_FOUND"
	CodeNotRideOwner       = "NOT_RIDE_OWNER"
	CodeNotDriver          = "NOT_VERIFIED_DRIVER"
	CodeNotAdmin           = "NOT_ADMIN"
	CodeNotVehicleOwner    = "NOT_VEHICLE_OWNER"
	CodeNotParticipant     = "NOT_BOOKING_PARTICIPANT"
	CodeOwnRide            = "CANNOT_BOOK_OWN_RIDE"
	CodeScheduleConflict   = "RIDE_SCHEDULE_CONFLICT"
	CodeSeatsUnavailable   = "SEATS_UNAVAILABLE"
	CodeDuplicateBooking   = "DUPLICATE_BOOKING"
	CodeDuplicateRating    = "DUPLICATE_RATING"
	CodeConcurrentUpdate   = "CONCURRENT_UPDATE"
	CodeInvalidTransition  = "INVALID_STATE_TRANSITION"
	CodePickupInUse        = "PICKUP_POINT_IN_USE"
	CodeInvalidRideStatus  = "INVALID_RIDE_STATUS"
	CodeRideDeparted       = "RIDE_ALREADY_DEPARTED"
	CodeInvalidCode        = "INVALID_VERIFICATION_CODE"
	CodeEmailTaken         = "EMAIL_ALREADY_REGISTERED"
	CodeVehicleUnverified  = "VEHICLE_NOT_VERIFIED"
	CodeVehicleCapacity    = "VEHICLE_CAPACITY_EXCEEDED"
	CodeDepartureWindow    = "DEPARTURE_OUT_OF_WINDOW"
	CodePriceOutOfRange    = "PRICE_OUT_OF_RANGE"
	CodeTooManyPickups     = "TOO_MANY_PICKUP_POINTS"
	CodeSeatsBelowBooked   = "SEATS_BELOW_BOOKED"
	CodeRideLocked         = "RIDE_BUSY"
	CodeInvalidRating      = "INVALID_RATING"
	CodeBookingNotComplete = "BOOKING_NOT_COMPLETED"
)
