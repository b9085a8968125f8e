package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/SirClappington/orderbots/internal/engine"
)

// Store is a write-mostly journal of completed orders, one row per order
// per run. Nothing is ever loaded back into an engine.
type Store struct{ db *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{db} }

// ArchiveCompleted records a completed order. Recording the same order of
// the same run twice keeps the first row.
func (s *Store) ArchiveCompleted(ctx context.Context, p *ArchiveParams) error {
	_, err := s.db.Exec(ctx, `insert into completed_orders(
id, run_id, order_id, class, bot_id, created_at, completed_at
) values ($1,$2,$3,$4,$5,$6,$7)
on conflict (run_id, order_id) do nothing`,
		uuid.NewString(), p.RunID, p.OrderID, p.Class, p.BotID, p.CreatedAt, p.CompletedAt,
	)
	return errors.Wrapf(err, "archive order %d", p.OrderID)
}

// ListCompleted returns the archived orders of a run in completion order.
func (s *Store) ListCompleted(ctx context.Context, runID string) ([]ArchiveParams, error) {
	rows, err := s.db.Query(ctx, `select run_id, order_id, class, bot_id, created_at, completed_at
  from completed_orders
 where run_id = $1
 order by completed_at asc, order_id asc`, runID)
	if err != nil {
		return nil, errors.Wrap(err, "list completed orders")
	}
	defer rows.Close()

	var out []ArchiveParams
	for rows.Next() {
		var p ArchiveParams
		if err := rows.Scan(&p.RunID, &p.OrderID, &p.Class, &p.BotID, &p.CreatedAt, &p.CompletedAt); err != nil {
			return nil, errors.Wrap(err, "scan completed order")
		}
		out = append(out, p)
	}
	return out, errors.Wrap(rows.Err(), "list completed orders")
}

// Journal archives every completion read from events until the channel
// closes or ctx ends. Other notifications are ignored.
//
// events is usually an Engine.Stream, which drops notifications when its
// buffer is full; a dropped completion is never archived and only shows up
// as a warning in the engine log. Size the buffer for the expected burst.
func (s *Store) Journal(ctx context.Context, runID string, events <-chan engine.Event, logger *zap.Logger) error {
	logger = logger.With(zap.String("component", "journal"))
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			p, ok := archiveParams(runID, evt)
			if !ok {
				continue
			}
			if err := s.ArchiveCompleted(ctx, p); err != nil {
				logger.Warn("journal completion", zap.Int64("order_id", p.OrderID), zap.Error(err))
			}
		}
	}
}

type ArchiveParams struct {
	RunID       string
	OrderID     int64
	Class       string
	BotID       int64
	CreatedAt   time.Time
	CompletedAt time.Time
}

func archiveParams(runID string, evt engine.Event) (*ArchiveParams, bool) {
	if evt.Kind != engine.JobCompleted || evt.Job == nil {
		return nil, false
	}
	p := &ArchiveParams{
		RunID:       runID,
		OrderID:     evt.Job.ID,
		Class:       string(evt.Job.Class),
		CreatedAt:   evt.Job.CreatedAt,
		CompletedAt: evt.At,
	}
	if evt.Worker != nil {
		p.BotID = evt.Worker.ID
	}
	return p, true
}
