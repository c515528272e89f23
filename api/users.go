package api

import (
	"net/http"

	"github.com/Domenick1991/carpool/internal/logger"
	"github.com/Domenick1991/carpool/internal/service/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type UserHandler struct {
	service users.UserUseCase
	log     *zap.Logger
}

type reviewRequest struct {
	Approve bool `json:"approve"`
}

func NewUserHandler(service users.UserUseCase, log *zap.Logger) *UserHandler {
	return &UserHandler{service: service, log: logger.OrNop(log)}
}

// RegisterPublic mounts the routes that need no actor.
func (h *UserHandler) RegisterPublic(router *gin.RouterGroup) {
	router.POST("", h.register)
}

func (h *UserHandler) Register(router *gin.RouterGroup) {
	router.GET("/me", h.me)
	router.POST("/me/verify-email", h.verifyEmail)
	router.POST("/me/driver-application", h.applyAsDriver)
	router.POST("/:id/driver-review", h.reviewDriver)
}

func (h *UserHandler) RegisterVehicles(router *gin.RouterGroup) {
	router.POST("", h.registerVehicle)
	router.GET("", h.listVehicles)
	router.POST("/:id/verify", h.verifyVehicle)
}

func (h *UserHandler) register(c *gin.Context) {
	var req users.RegisterInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	u, err := h.service.Register(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

func (h *UserHandler) me(c *gin.Context) {
	u, err := h.service.GetUser(c.Request.Context(), actorID(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *UserHandler) verifyEmail(c *gin.Context) {
	u, err := h.service.VerifyEmail(c.Request.Context(), actorID(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *UserHandler) applyAsDriver(c *gin.Context) {
	u, err := h.service.RequestDriverVerification(c.Request.Context(), actorID(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *UserHandler) reviewDriver(c *gin.Context) {
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	u, err := h.service.ReviewDriver(c.Request.Context(), actorID(c), c.Param("id"), req.Approve)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *UserHandler) registerVehicle(c *gin.Context) {
	var req users.VehicleInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	v, err := h.service.RegisterVehicle(c.Request.Context(), actorID(c), req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, v)
}

func (h *UserHandler) listVehicles(c *gin.Context) {
	list, err := h.service.ListVehicles(c.Request.Context(), actorID(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *UserHandler) verifyVehicle(c *gin.Context) {
	v, err := h.service.VerifyVehicle(c.Request.Context(), actorID(c), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, v)
}
