package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Domenick1991/carpool/api"
	"github.com/Domenick1991/carpool/config"
	"github.com/Domenick1991/carpool/internal/logger"
	"github.com/Domenick1991/carpool/internal/service/booking"
	"github.com/Domenick1991/carpool/internal/service/rides"
	"github.com/Domenick1991/carpool/internal/service/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Services struct {
	Rides    rides.RideUseCase
	Bookings booking.BookingUseCase
	Users    users.UserUseCase
}

// NewRouter mounts every handler under /api/v1. Everything except user
// registration and the health check requires the actor header.
func NewRouter(svc Services, log *zap.Logger) *gin.Engine {
	log = logger.OrNop(log)

	router := gin.New()
	router.Use(logger.Recovery(log), logger.GinMiddleware(log))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	userHandler := api.NewUserHandler(svc.Users, log)
	userHandler.RegisterPublic(v1.Group("/users"))

	authed := v1.Group("", api.RequireActor())
	userHandler.Register(authed.Group("/users"))
	userHandler.RegisterVehicles(authed.Group("/vehicles"))
	api.NewRideHandler(svc.Rides, log).Register(authed.Group("/rides"))
	api.NewBookingHandler(svc.Bookings, log).Register(authed.Group("/bookings"))

	return router
}

// Run serves handler until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, cfg config.HTTPConfig, handler http.Handler, log *zap.Logger) error {
	log = logger.OrNop(log)
	srv := &http.Server{
		Addr:              cfg.Address,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("address", cfg.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		timeout := time.Duration(cfg.ShutdownSeconds) * time.Second
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		log.Info("http server stopped")
		return nil
	}
}
