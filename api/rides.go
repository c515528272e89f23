package api

import (
	"net/http"

	"github.com/Domenick1991/carpool/internal/logger"
	"github.com/Domenick1991/carpool/internal/service/rides"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type RideHandler struct {
	service rides.RideUseCase
	log     *zap.Logger
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type reorderRequest struct {
	PickupPointIDs []string `json:"pickup_point_ids" binding:"required"`
}

func NewRideHandler(service rides.RideUseCase, log *zap.Logger) *RideHandler {
	return &RideHandler{service: service, log: logger.OrNop(log)}
}

func (h *RideHandler) Register(router *gin.RouterGroup) {
	router.POST("", h.create)
	router.GET("", h.listMine)
	router.GET("/:id", h.get)
	router.PATCH("/:id", h.update)
	router.POST("/:id/cancel", h.cancel)
	router.POST("/:id/start", h.start)
	router.POST("/:id/complete", h.complete)
	router.POST("/:id/pickup-points", h.addPickupPoint)
	router.DELETE("/:id/pickup-points/:pointID", h.removePickupPoint)
	router.PUT("/:id/pickup-points/order", h.reorderPickupPoints)
}

func (h *RideHandler) create(c *gin.Context) {
	var req rides.CreateRideInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := h.service.CreateRide(c.Request.Context(), actorID(c), req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *RideHandler) listMine(c *gin.Context) {
	list, err := h.service.ListOwnerRides(c.Request.Context(), actorID(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *RideHandler) get(c *gin.Context) {
	ride, err := h.service.GetRide(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, ride)
}

func (h *RideHandler) update(c *gin.Context) {
	var req rides.UpdateRideInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ride, err := h.service.UpdateRide(c.Request.Context(), c.Param("id"), actorID(c), req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, ride)
}

func (h *RideHandler) cancel(c *gin.Context) {
	var req cancelRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := h.service.CancelRide(c.Request.Context(), c.Param("id"), actorID(c), req.Reason)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *RideHandler) start(c *gin.Context) {
	ride, err := h.service.StartRide(c.Request.Context(), c.Param("id"), actorID(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, ride)
}

func (h *RideHandler) complete(c *gin.Context) {
	ride, err := h.service.CompleteRide(c.Request.Context(), c.Param("id"), actorID(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, ride)
}

func (h *RideHandler) addPickupPoint(c *gin.Context) {
	var req rides.PickupPointInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ride, err := h.service.AddPickupPoint(c.Request.Context(), c.Param("id"), actorID(c), req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, ride)
}

func (h *RideHandler) removePickupPoint(c *gin.Context) {
	ride, err := h.service.RemovePickupPoint(c.Request.Context(), c.Param("id"), actorID(c), c.Param("pointID"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, ride)
}

func (h *RideHandler) reorderPickupPoints(c *gin.Context) {
	var req reorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ride, err := h.service.ReorderPickupPoints(c.Request.Context(), c.Param("id"), actorID(c), req.PickupPointIDs)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, ride)
}
