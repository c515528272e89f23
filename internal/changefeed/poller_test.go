package changefeed

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Domenick1991/carpool/internal/domain"
	"github.com/Domenick1991/carpool/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockChangeFeed struct {
	mock.Mock
}

func (m *MockChangeFeed) Claim(ctx context.Context, limit int, claimFor time.Duration) ([]domain.ChangeEvent, error) {
	args := m.Called(ctx, limit, claimFor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ChangeEvent), args.Error(1)
}

func (m *MockChangeFeed) Ack(ctx context.Context, ids []string) error {
	args := m.Called(ctx, ids)
	return args.Error(0)
}

func seedRides(t *testing.T, store *memory.Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		ride := &domain.Ride{ID: string(rune('a' + i)), OwnerID: "d1", TotalSeats: 1, AvailableSeats: 1, Status: domain.RideStatusActive}
		require.NoError(t, store.Rides().Create(context.Background(), ride))
	}
}

func TestPoller_DrainAcksEverything(t *testing.T) {
	store := memory.New()
	seedRides(t, store, 5)

	var calls int32
	router := NewRouter(nil).Register(domain.EntityRide, ProcessorFunc(func(context.Context, domain.ChangeEvent) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}))
	poller := NewPoller(store, router, PollerConfig{BatchSize: 2, PollInterval: time.Hour, ClaimFor: time.Minute}, nil)

	tally := poller.Drain(context.Background())

	assert.Equal(t, 5, tally.Processed)
	assert.Equal(t, int32(5), atomic.LoadInt32(&calls))
	assert.Equal(t, 0, store.Pending())
}

func TestPoller_AcksBatchWithErrors(t *testing.T) {
	store := memory.New()
	seedRides(t, store, 3)

	router := NewRouter(nil).Register(domain.EntityRide, ProcessorFunc(func(_ context.Context, ev domain.ChangeEvent) error {
		if ev.EntityID == "b" {
			return errors.New("boom")
		}
		return nil
	}))
	poller := NewPoller(store, router, PollerConfig{BatchSize: 10}, nil)

	tally, n, err := poller.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, Tally{Processed: 2, Errored: 1}, tally)
	assert.Equal(t, 0, store.Pending())
}

func TestPoller_ClaimErrorStopsDrain(t *testing.T) {
	feed := &MockChangeFeed{}
	feed.On("Claim", mock.Anything, 100, time.Minute).Return(nil, errors.New("db down")).Once()

	poller := NewPoller(feed, NewRouter(nil), PollerConfig{}, nil)
	tally := poller.Drain(context.Background())

	assert.Equal(t, Tally{}, tally)
	feed.AssertExpectations(t)
	feed.AssertNotCalled(t, "Ack", mock.Anything, mock.Anything)
}

func TestPoller_AckErrorIsReported(t *testing.T) {
	feed := &MockChangeFeed{}
	events := []domain.ChangeEvent{event("1", domain.EntityNotification)}
	feed.On("Claim", mock.Anything, 100, time.Minute).Return(events, nil).Once()
	feed.On("Ack", mock.Anything, []string{"1"}).Return(errors.New("db down")).Once()

	poller := NewPoller(feed, NewRouter(nil), PollerConfig{}, nil)
	tally, n, err := poller.PollOnce(context.Background())

	assert.Error(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, Tally{Skipped: 1}, tally)
	feed.AssertExpectations(t)
}

func TestPoller_StartStop(t *testing.T) {
	store := memory.New()
	seedRides(t, store, 1)

	processed := make(chan struct{}, 1)
	router := NewRouter(nil).Register(domain.EntityRide, ProcessorFunc(func(context.Context, domain.ChangeEvent) error {
		select {
		case processed <- struct{}{}:
		default:
		}
		return nil
	}))
	poller := NewPoller(store, router, PollerConfig{BatchSize: 10, PollInterval: 10 * time.Millisecond}, nil)
	poller.Start(context.Background())

	select {
	case <-processed:
	case <-time.After(2 * time.Second):
		t.Fatal("poller never routed the seeded event")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, poller.Stop(ctx))
}
