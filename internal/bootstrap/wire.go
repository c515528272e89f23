package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/Domenick1991/carpool/config"
	"github.com/Domenick1991/carpool/internal/cache"
	"github.com/Domenick1991/carpool/internal/changefeed"
	"github.com/Domenick1991/carpool/internal/kafka"
	"github.com/Domenick1991/carpool/internal/logger"
	"github.com/Domenick1991/carpool/internal/notify"
	"github.com/Domenick1991/carpool/internal/processors"
	"github.com/Domenick1991/carpool/internal/rabbitmq"
	"github.com/Domenick1991/carpool/internal/repository"
	"github.com/Domenick1991/carpool/internal/repository/memory"
	"github.com/Domenick1991/carpool/internal/service/booking"
	"github.com/Domenick1991/carpool/internal/service/rides"
	"github.com/Domenick1991/carpool/internal/service/users"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type Stores struct {
	Tx       repository.Transactor
	Rides    repository.RideRepository
	Bookings repository.BookingRepository
	Users    repository.UserRepository
	Vehicles repository.VehicleRepository
	Ratings  repository.RatingRepository
	Feed     repository.ChangeFeed

	close func()
}

func (s *Stores) Close() {
	if s.close != nil {
		s.close()
	}
}

// OpenStores connects the configured storage driver.
func OpenStores(ctx context.Context, cfg config.StorageConfig, db config.DatabaseConfig) (*Stores, error) {
	switch cfg.Driver {
	case "postgres":
		pool, err := pgxpool.New(ctx, db.DSN())
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		return &Stores{
			Tx:       repository.NewTransactor(pool),
			Rides:    repository.NewRideRepository(pool),
			Bookings: repository.NewBookingRepository(pool),
			Users:    repository.NewUserRepository(pool),
			Vehicles: repository.NewVehicleRepository(pool),
			Ratings:  repository.NewRatingRepository(pool),
			Feed:     repository.NewChangeFeed(pool),
			close:    pool.Close,
		}, nil
	case "memory", "":
		return MemoryStores(memory.New()), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func MemoryStores(store *memory.Store) *Stores {
	return &Stores{
		Tx:       store,
		Rides:    store.Rides(),
		Bookings: store.Bookings(),
		Users:    store.Users(),
		Vehicles: store.Vehicles(),
		Ratings:  store.Ratings(),
		Feed:     store,
	}
}

// SharedCache is what both cache implementations provide: ride read-through,
// per-ride leases and publish dedupe.
type SharedCache interface {
	rides.Cache
	booking.Locker
	notify.Deduper
}

// OpenCache returns Redis when an address is configured and an in-process
// cache otherwise.
func OpenCache(ctx context.Context, cfg config.RedisConfig, log *zap.Logger) (SharedCache, func(), error) {
	if cfg.Addr == "" {
		logger.OrNop(log).Info("redis not configured, using in-process cache")
		return cache.NewLocal(time.Duration(cfg.RideTTLSecs) * time.Second), func() {}, nil
	}
	rc := cache.NewRedisCache(cfg)
	if err := rc.Ping(ctx); err != nil {
		_ = rc.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	return rc, func() { _ = rc.Close() }, nil
}

func NewServices(cfg config.Config, stores *Stores, c SharedCache, log *zap.Logger) Services {
	bookingService := booking.NewBookingService(booking.Repos{
		Tx:       stores.Tx,
		Rides:    stores.Rides,
		Bookings: stores.Bookings,
		Users:    stores.Users,
		Ratings:  stores.Ratings,
	}, cfg.Booking, log, booking.WithLocker(c), booking.WithCache(c))

	rideService := rides.NewService(rides.Repos{
		Tx:       stores.Tx,
		Rides:    stores.Rides,
		Bookings: stores.Bookings,
		Users:    stores.Users,
		Vehicles: stores.Vehicles,
	}, bookingService, cfg.Rides, log, rides.WithCache(c))

	return Services{
		Rides:    rideService,
		Bookings: bookingService,
		Users:    users.NewService(stores.Users, stores.Vehicles, log, users.WithCache(c)),
	}
}

// OpenTransport returns a nil transport for the "none" driver, which makes
// every publish a logged skip. An unreachable Kafka cluster is only logged:
// the writer connects lazily and failed sends are retried by redelivery.
func OpenTransport(ctx context.Context, cfg config.Config, log *zap.Logger) (notify.Transport, func(), error) {
	switch cfg.Transport.Driver {
	case "kafka":
		p := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.NotificationsTopic, log)
		if err := p.CheckConnection(ctx); err != nil {
			logger.OrNop(log).Warn("kafka not reachable at startup", zap.Error(err))
		}
		return p, func() { _ = p.Close() }, nil
	case "rabbitmq":
		p, err := rabbitmq.Dial(cfg.RabbitMQ, log)
		if err != nil {
			return nil, nil, err
		}
		return p, func() { _ = p.Close() }, nil
	case "none", "":
		return nil, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport driver %q", cfg.Transport.Driver)
	}
}

// NewPipeline assembles change feed, processors and publisher into a poller.
func NewPipeline(cfg config.Config, stores *Stores, transport notify.Transport, dedupe notify.Deduper, log *zap.Logger) *changefeed.Poller {
	opts := []notify.PublisherOption{notify.WithConcurrency(cfg.Transport.Concurrency)}
	if dedupe != nil {
		opts = append(opts, notify.WithDeduper(dedupe, time.Duration(cfg.Transport.DedupeTTLHours)*time.Hour))
	}
	publisher := notify.NewPublisher(transport, log, opts...)

	router := processors.Register(changefeed.NewRouter(log), processors.Deps{
		Users:    stores.Users,
		Bookings: stores.Bookings,
		Ratings:  stores.Ratings,
		Builder:  notify.NewBuilder("change-feed-worker", nil),
		Notifier: publisher,
		Log:      log,
	})
	return changefeed.NewPoller(stores.Feed, router, changefeed.PollerConfigFrom(cfg.Worker), log)
}
