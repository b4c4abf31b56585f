package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/samirdawaliby/autobet/internal/config"
	"github.com/samirdawaliby/autobet/internal/detector"
)

const (
	recentKey    = "opportunities:recent"
	globalStream = "opportunities.detected"
)

func sportStream(sport string) string { return globalStream + "." + sport }

// Feed keeps a capped list of recent opportunities and appends every
// opportunity to the global and per-sport streams.
type Feed struct {
	rdb    *redis.Client
	limit  int64
	ttl    time.Duration
	maxLen int64
}

func NewFeed(c *Client, cfg config.RedisConfig) *Feed {
	limit := int64(cfg.RecentLimit)
	if limit <= 0 {
		limit = 20
	}
	return &Feed{rdb: c.Underlying(), limit: limit, ttl: cfg.RecentTTL.Duration, maxLen: cfg.StreamMaxLen}
}

func (f *Feed) Publish(ctx context.Context, opp detector.Opportunity) error {
	data, err := json.Marshal(opp)
	if err != nil {
		return fmt.Errorf("redis: marshal opportunity %s: %w", opp.ID, err)
	}

	pipe := f.rdb.TxPipeline()
	pipe.LPush(ctx, recentKey, data)
	pipe.LTrim(ctx, recentKey, 0, f.limit-1)
	if f.ttl > 0 {
		pipe.Expire(ctx, recentKey, f.ttl)
	}
	for _, stream := range []string{globalStream, sportStream(string(opp.Sport))} {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: stream,
			MaxLen: f.maxLen,
			Approx: f.maxLen > 0,
			Values: map[string]interface{}{
				"opportunity": string(data),
			},
		})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: publish opportunity %s: %w", opp.ID, err)
	}
	return nil
}

// Recent returns up to limit opportunities, newest first.
func (f *Feed) Recent(ctx context.Context, limit int) ([]detector.Opportunity, error) {
	if limit <= 0 || int64(limit) > f.limit {
		limit = int(f.limit)
	}
	vals, err := f.rdb.LRange(ctx, recentKey, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read recent opportunities: %w", err)
	}

	out := make([]detector.Opportunity, 0, len(vals))
	for _, v := range vals {
		var opp detector.Opportunity
		if err := json.Unmarshal([]byte(v), &opp); err != nil {
			return nil, fmt.Errorf("redis: decode recent opportunity: %w", err)
		}
		out = append(out, opp)
	}
	return out, nil
}
