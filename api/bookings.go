package api

import (
	"net/http"

	"github.com/Domenick1991/carpool/internal/apperr"
	"github.com/Domenick1991/carpool/internal/logger"
	"github.com/Domenick1991/carpool/internal/service/booking"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type BookingHandler struct {
	service booking.BookingUseCase
	log     *zap.Logger
}

type createBookingRequest struct {
	RideID        string `json:"ride_id" binding:"required"`
	Seats         int    `json:"seats"`
	PickupPointID string `json:"pickup_point_id"`
}

type startBookingRequest struct {
	Code string `json:"code" binding:"required"`
}

type rateBookingRequest struct {
	Score   int    `json:"score"`
	Comment string `json:"comment"`
}

func NewBookingHandler(service booking.BookingUseCase, log *zap.Logger) *BookingHandler {
	return &BookingHandler{service: service, log: logger.OrNop(log)}
}

func (h *BookingHandler) Register(router *gin.RouterGroup) {
	router.POST("", h.create)
	router.GET("", h.listForRide)
	router.GET("/:id", h.get)
	router.POST("/:id/cancel", h.cancel)
	router.POST("/:id/confirm", h.confirm)
	router.POST("/:id/start", h.start)
	router.POST("/:id/complete", h.complete)
	router.POST("/:id/no-show", h.noShow)
	router.POST("/:id/rating", h.rate)
}

func (h *BookingHandler) create(c *gin.Context) {
	var req createBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Seats == 0 {
		req.Seats = 1
	}

	b, err := h.service.CreateBooking(c.Request.Context(), booking.CreateBookingInput{
		RideID:        req.RideID,
		PassengerID:   actorID(c),
		Seats:         req.Seats,
		PickupPointID: req.PickupPointID,
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

// listForRide serves GET /bookings?ride_id=... for the ride's driver.
func (h *BookingHandler) listForRide(c *gin.Context) {
	rideID := c.Query("ride_id")
	if rideID == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "ride_id is required", Code: apperr.CodeInvalidInput})
		return
	}
	list, err := h.service.ListRideBookings(c.Request.Context(), rideID, actorID(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *BookingHandler) get(c *gin.Context) {
	b, err := h.service.GetBooking(c.Request.Context(), c.Param("id"), actorID(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *BookingHandler) cancel(c *gin.Context) {
	var req cancelRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, err)
		return
	}

	b, err := h.service.CancelBooking(c.Request.Context(), c.Param("id"), actorID(c), req.Reason)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *BookingHandler) confirm(c *gin.Context) {
	b, err := h.service.ConfirmBooking(c.Request.Context(), c.Param("id"), actorID(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *BookingHandler) start(c *gin.Context) {
	var req startBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	b, err := h.service.StartBooking(c.Request.Context(), c.Param("id"), actorID(c), req.Code)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *BookingHandler) complete(c *gin.Context) {
	b, err := h.service.CompleteBooking(c.Request.Context(), c.Param("id"), actorID(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *BookingHandler) noShow(c *gin.Context) {
	b, err := h.service.MarkNoShow(c.Request.Context(), c.Param("id"), actorID(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *BookingHandler) rate(c *gin.Context) {
	var req rateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	rating, err := h.service.RateBooking(c.Request.Context(), booking.RateBookingInput{
		BookingID: c.Param("id"),
		RaterID:   actorID(c),
		Score:     req.Score,
		Comment:   req.Comment,
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, rating)
}
