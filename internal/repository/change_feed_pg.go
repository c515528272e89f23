package repository

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/Domenick1991/carpool/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGChangeFeed reads entity_changes, the outbox written by every repository
// mutation in the same transaction.
type PGChangeFeed struct {
	db *pgxpool.Pool
}

func NewChangeFeed(db *pgxpool.Pool) ChangeFeed {
	return &PGChangeFeed{db: db}
}

func (f *PGChangeFeed) Claim(ctx context.Context, limit int, claimFor time.Duration) ([]domain.ChangeEvent, error) {
	rows, err := f.db.Query(ctx, `UPDATE entity_changes SET claimed_until = now() + make_interval(secs => $2::double precision)
		WHERE seq IN (
			SELECT seq FROM entity_changes
			WHERE processed_at IS NULL AND (claimed_until IS NULL OR claimed_until < now())
			ORDER BY seq
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING seq, entity_type, entity_id, kind, before, after, recorded_at`, limit, claimFor.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type claimed struct {
		seq int64
		ev  domain.ChangeEvent
	}
	var out []claimed
	for rows.Next() {
		var (
			c             claimed
			before, after []byte
		)
		if err := rows.Scan(&c.seq, &c.ev.EntityType, &c.ev.EntityID, &c.ev.Kind, &before, &after, &c.ev.RecordedAt); err != nil {
			return nil, err
		}
		c.ev.ID = strconv.FormatInt(c.seq, 10)
		c.ev.Before, c.ev.After = before, after
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	events := make([]domain.ChangeEvent, len(out))
	for i, c := range out {
		events[i] = c.ev
	}
	return events, nil
}

func (f *PGChangeFeed) Ack(ctx context.Context, ids []string) error {
	seqs := make([]int64, 0, len(ids))
	for _, id := range ids {
		seq, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return err
		}
		seqs = append(seqs, seq)
	}
	_, err := f.db.Exec(ctx, `UPDATE entity_changes SET processed_at = now() WHERE seq = ANY($1::bigint[])`, seqs)
	return err
}

var _ ChangeFeed = (*PGChangeFeed)(nil)
