package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Presence records when a user was last seen, at most once per throttle window.
type Presence struct {
	rdb      *redis.Client
	throttle time.Duration
}

func NewPresence(rdb *redis.Client, throttle time.Duration) *Presence {
	return &Presence{rdb: rdb, throttle: throttle}
}

func lastSeenKey(uid string) string { return fmt.Sprintf("user:lastseen:%s", uid) }
func throttleKey(uid string) string { return fmt.Sprintf("user:lastseen:lock:%s", uid) }

func (p *Presence) Touch(ctx context.Context, userID string, now time.Time) error {
	ok, err := p.rdb.SetNX(ctx, throttleKey(userID), "1", p.throttle).Result()
	if err != nil || !ok {
		return err
	}
	return p.rdb.Set(ctx, lastSeenKey(userID), now.UTC().Unix(), 0).Err()
}

// LastSeen returns the last-seen time of each user that has one.
func (p *Presence) LastSeen(ctx context.Context, userIDs []string) (map[string]time.Time, error) {
	out := make(map[string]time.Time, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = lastSeenKey(id)
	}
	vals, err := p.rdb.MGet(ctx, keys...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var sec int64
		if _, err := fmt.Sscan(s, &sec); err == nil {
			out[userIDs[i]] = time.Unix(sec, 0).UTC()
		}
	}
	return out, nil
}
