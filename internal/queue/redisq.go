package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/SirClappington/orderbots/internal/engine"
)

// RedisQ relays engine notifications through a capped Redis list so that
// renderers in other processes can follow a run. New events are pushed at
// the head; Pop takes the oldest from the tail.
type RedisQ struct {
	rdb *r.Client
	key string
	cap int64
}

func New(rdb *r.Client, runID string, capacity int64) *RedisQ {
	if capacity <= 0 {
		capacity = 1000
	}
	return &RedisQ{rdb: rdb, key: Key(runID), cap: capacity}
}

// Key is the list holding the notifications of one run.
func Key(runID string) string { return "orderbots:events:" + runID }

func (q *RedisQ) Push(ctx context.Context, evt engine.Event) error {
	payload, err := encode(evt)
	if err != nil {
		return err
	}
	pipe := q.rdb.TxPipeline()
	pipe.LPush(ctx, q.key, payload)
	pipe.LTrim(ctx, q.key, 0, q.cap-1)
	_, err = pipe.Exec(ctx)
	return errors.Wrap(err, "push event")
}

// Pop waits up to block for the oldest notification. ok is false when
// nothing arrived in time.
func (q *RedisQ) Pop(ctx context.Context, block time.Duration) (evt engine.Event, ok bool, err error) {
	res, err := q.rdb.BRPop(ctx, block, q.key).Result()
	if errors.Is(err, r.Nil) {
		return engine.Event{}, false, nil
	}
	if err != nil {
		return engine.Event{}, false, errors.Wrap(err, "pop event")
	}
	if len(res) != 2 {
		return engine.Event{}, false, nil
	}
	evt, err = decode(res[1])
	if err != nil {
		return engine.Event{}, false, err
	}
	return evt, true, nil
}

// Recent returns up to n of the newest notifications, newest first.
func (q *RedisQ) Recent(ctx context.Context, n int64) ([]engine.Event, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := q.rdb.LRange(ctx, q.key, 0, n-1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "read recent events")
	}
	out := make([]engine.Event, 0, len(raw))
	for _, s := range raw {
		evt, err := decode(s)
		if err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	return out, nil
}

// Relay pushes every notification from events until the channel closes or
// ctx ends. Push failures are logged and skipped.
func (q *RedisQ) Relay(ctx context.Context, events <-chan engine.Event, logger *zap.Logger) error {
	logger = logger.With(zap.String("component", "redis-relay"), zap.String("key", q.key))
	logger.Info("relaying notifications")
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			if err := q.Push(ctx, evt); err != nil {
				logger.Warn("relay notification", zap.String("kind", string(evt.Kind)), zap.Error(err))
			}
		}
	}
}

func encode(evt engine.Event) ([]byte, error) {
	b, err := json.Marshal(evt)
	return b, errors.Wrap(err, "encode event")
}

func decode(s string) (engine.Event, error) {
	var evt engine.Event
	if err := json.Unmarshal([]byte(s), &evt); err != nil {
		return engine.Event{}, errors.Wrap(err, "decode event")
	}
	return evt, nil
}
