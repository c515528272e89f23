package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/Domenick1991/carpool/internal/apperr"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ActorHeader carries the authenticated caller's user id, set by the gateway
// in front of this service.
const ActorHeader = "X-User-ID"

const actorKey = "actor_id"

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func RequireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := c.GetHeader(ActorHeader)
		if actor == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "missing " + ActorHeader + " header", Code: "UNAUTHENTICATED"})
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

func actorID(c *gin.Context) string {
	if v := c.GetString(actorKey); v != "" {
		return v
	}
	return c.GetHeader(ActorHeader)
}

// writeError maps typed errors to their status and code. Internal errors are
// logged in full and answered generically.
func writeError(c *gin.Context, log *zap.Logger, err error) {
	e := apperr.From(err)
	if e.Kind == apperr.KindInternal {
		log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.String("actor_id", actorID(c)),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error", Code: apperr.CodeInternal})
		return
	}
	c.JSON(e.Kind.HTTPStatus(), errorResponse{Error: e.Message, Code: e.Code})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error(), Code: apperr.CodeInvalidInput})
}

// bindOptionalJSON accepts an empty body.
func bindOptionalJSON(c *gin.Context, dst any) error {
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
