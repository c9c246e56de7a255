package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	logx "dailyprompt/pkg/logx"
)

type redisQueue struct {
	rdb    *redis.Client
	log    logx.Logger
	cfg    Config
	closed atomic.Bool
}

func openRedis(cfg Config, log logx.Logger) (Queue, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("queue.url is required for redis driver")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		opt = &redis.Options{Addr: url}
	}
	rdb := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &redisQueue{rdb: rdb, log: log, cfg: cfg}, nil
}

func (q *redisQueue) Enqueue(ctx context.Context, j Job) (Job, error) {
	if q.closed.Load() {
		return j, ErrClosed
	}
	j, err := prepare(j, time.Now())
	if err != nil {
		return j, err
	}
	b, err := json.Marshal(j)
	if err != nil {
		return j, err
	}
	return j, q.rdb.LPush(ctx, q.cfg.Key, b).Err()
}

func (q *redisQueue) Dequeue(ctx context.Context) (Job, error) {
	for {
		if q.closed.Load() {
			return Job{}, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return Job{}, err
		}
		res, err := q.rdb.BRPop(ctx, q.cfg.PollTimeout, q.cfg.Key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return Job{}, ctx.Err()
			}
			if errors.Is(err, redis.ErrClosed) {
				return Job{}, ErrClosed
			}
			return Job{}, err
		}
		if len(res) < 2 {
			continue
		}
		var j Job
		if err := json.Unmarshal([]byte(res[1]), &j); err != nil {
			// Unreadable payloads go straight to the dead-letter list.
			q.log.Warn("queue payload unreadable", logx.Err(err))
			_ = q.rdb.LPush(ctx, q.cfg.DeadLetterKey, res[1]).Err()
			continue
		}
		return j, nil
	}
}

func (q *redisQueue) Fail(ctx context.Context, j Job, reason string) error {
	j.Error = reason
	j.FailedAt = time.Now()
	b, err := json.Marshal(j)
	if err != nil {
		return err
	}
	pipe := q.rdb.TxPipeline()
	pipe.LPush(ctx, q.cfg.DeadLetterKey, b)
	pipe.LTrim(ctx, q.cfg.DeadLetterKey, 0, int64(q.cfg.DeadLetterMax-1))
	_, err = pipe.Exec(ctx)
	return err
}

func (q *redisQueue) DeadLetters(ctx context.Context, limit int) ([]Job, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	raw, err := q.rdb.LRange(ctx, q.cfg.DeadLetterKey, 0, stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Job, 0, len(raw))
	for _, r := range raw {
		var j Job
		if err := json.Unmarshal([]byte(r), &j); err != nil {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

func (q *redisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.rdb.LLen(ctx, q.cfg.Key).Result()
	return int(n), err
}

func (q *redisQueue) Close() error {
	if !q.closed.CompareAndSwap(false, true) {
		return nil
	}
	return q.rdb.Close()
}
