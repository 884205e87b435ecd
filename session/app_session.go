package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"toolcustody/models"

	"github.com/redis/go-redis/v9"
)

var ErrNoSession = errors.New("session not found")

// RememberStore keeps signed-in sessions in Redis. Each record carries a
// copy of the user as it was at sign-in; Restore prefers the live record.
type RememberStore struct {
	rdb *redis.Client
}

func NewRememberStore(rdb *redis.Client) *RememberStore {
	return &RememberStore{rdb: rdb}
}

type Remembered struct {
	User      models.User `json:"user"`
	Remember  bool        `json:"remember"`
	IssuedAt  int64       `json:"iat"`
	ExpiresAt int64       `json:"exp"`
}

func key(id string) string         { return fmt.Sprintf("app:sess:%s", id) }
func userSetKey(uid string) string { return fmt.Sprintf("app:user_sessions:%s", uid) }

// Create stores the session under id. The password never goes into Redis.
func (s *RememberStore) Create(ctx context.Context, id string, u models.User, remember bool, ttl time.Duration) error {
	now := time.Now()
	b, err := json.Marshal(Remembered{
		User:      u.Public(),
		Remember:  remember,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	})
	if err != nil {
		return err
	}
	// 集合的过期时间取最长的会话
	setTTL := s.rdb.TTL(ctx, userSetKey(u.ID)).Val()

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, key(id), b, ttl)
	pipe.SAdd(ctx, userSetKey(u.ID), id)
	if setTTL < ttl {
		pipe.Expire(ctx, userSetKey(u.ID), ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RememberStore) Get(ctx context.Context, id string) (*Remembered, error) {
	b, err := s.rdb.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, err
	}
	var r Remembered
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *RememberStore) Delete(ctx context.Context, id string) error {
	r, _ := s.Get(ctx, id) // 忽略失败
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, key(id))
	if r != nil {
		pipe.SRem(ctx, userSetKey(r.User.ID), id)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// 禁用账号时撤销该用户的所有会话
func (s *RememberStore) RevokeAllForUser(ctx context.Context, userID string) error {
	ids, err := s.rdb.SMembers(ctx, userSetKey(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	pipe := s.rdb.TxPipeline()
	for _, sid := range ids {
		pipe.Del(ctx, key(sid))
	}
	pipe.Del(ctx, userSetKey(userID))
	_, err = pipe.Exec(ctx)
	return err
}

// UpdateUser rewrites the cached user of every live session of u, keeping
// each session's remaining lifetime.
func (s *RememberStore) UpdateUser(ctx context.Context, u models.User) error {
	ids, err := s.rdb.SMembers(ctx, userSetKey(u.ID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	for _, sid := range ids {
		r, err := s.Get(ctx, sid)
		if errors.Is(err, ErrNoSession) {
			_ = s.rdb.SRem(ctx, userSetKey(u.ID), sid).Err()
			continue
		}
		if err != nil {
			return err
		}
		r.User = u.Public()
		b, err := json.Marshal(r)
		if err != nil {
			return err
		}
		if err := s.rdb.SetArgs(ctx, key(sid), b, redis.SetArgs{KeepTTL: true}).Err(); err != nil {
			return err
		}
	}
	return nil
}
