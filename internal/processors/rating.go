package processors

import (
	"context"
	"errors"
	"fmt"

	"github.com/Domenick1991/carpool/internal/domain"
	"github.com/Domenick1991/carpool/internal/notify"
	"github.com/Domenick1991/carpool/internal/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const aggregateWriteAttempts = 3

type RatingProcessor struct {
	base
	ratings repository.RatingRepository
}

func NewRatingProcessor(d Deps) *RatingProcessor {
	return &RatingProcessor{base: newBase(d, "rating-processor"), ratings: d.Ratings}
}

func (p *RatingProcessor) Process(ctx context.Context, ev domain.ChangeEvent) error {
	if ev.Kind != domain.ChangeCreated {
		return nil
	}
	_, rating, err := snapshots[domain.Rating](ev)
	if err != nil {
		return err
	}
	if rating == nil {
		return nil
	}

	if err := p.refreshAggregate(ctx, rating.RatedUserID); err != nil {
		return err
	}

	return p.send(ctx, notify.Fact{
		Kind:       "rating.created",
		EntityType: domain.EntityRating,
		EntityID:   rating.ID,
		ChangeID:   ev.ID,
		Template:   "rating_received",
		Subject:    "You received a new rating",
		Data: map[string]any{
			"rating_id":  rating.ID,
			"booking_id": rating.BookingID,
			"ride_id":    rating.RideID,
			"score":      rating.Score,
		},
	}, rating.RatedUserID)
}

// refreshAggregate recomputes the user's average from every stored rating and
// writes it only when it changed.
func (p *RatingProcessor) refreshAggregate(ctx context.Context, userID string) error {
	ratings, err := p.ratings.ListByRatedUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("list ratings of %s: %w", userID, err)
	}
	avg, count := Aggregate(ratings)

	for attempt := 0; attempt < aggregateWriteAttempts; attempt++ {
		u, err := p.users.GetByID(ctx, userID)
		if err != nil {
			return fmt.Errorf("load rated user %s: %w", userID, err)
		}
		if u.RatingCount == count && u.RatingAverage == avg {
			return nil
		}
		u.RatingAverage, u.RatingCount = avg, count
		err = p.users.Update(ctx, u)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrConditionFailed) {
			return fmt.Errorf("store rating aggregate of %s: %w", userID, err)
		}
		p.log.Debug("rating aggregate write conflicted, retrying", zap.String("user_id", userID), zap.Int("attempt", attempt+1))
	}
	return fmt.Errorf("store rating aggregate of %s: %w", userID, repository.ErrConditionFailed)
}

// Aggregate returns the mean score rounded to two places and the count.
func Aggregate(ratings []domain.Rating) (float64, int) {
	if len(ratings) == 0 {
		return 0, 0
	}
	var sum int64
	for _, r := range ratings {
		sum += int64(r.Score)
	}
	avg := decimal.NewFromInt(sum).Div(decimal.NewFromInt(int64(len(ratings)))).Round(2)
	return avg.InexactFloat64(), len(ratings)
}
