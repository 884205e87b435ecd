package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/redis/go-redis/v9"
)

// Store holds WebAuthn ceremony state between begin and finish.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store { return &Store{rdb: rdb, ttl: ttl} }

// 注册按用户 id，登录按一次性 sid
func regKey(userID string) string { return fmt.Sprintf("webauthn:reg:%s", userID) }
func authKey(sid string) string   { return fmt.Sprintf("webauthn:auth:%s", sid) }

func (s *Store) save(ctx context.Context, k string, sd *webauthn.SessionData) error {
	b, err := json.Marshal(sd)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, k, b, s.ttl).Err()
}

// load reads and deletes: ceremony data is single-use.
func (s *Store) load(ctx context.Context, k string) (*webauthn.SessionData, error) {
	b, err := s.rdb.GetDel(ctx, k).Bytes()
	if err != nil {
		return nil, err
	}
	var sd webauthn.SessionData
	if err := json.Unmarshal(b, &sd); err != nil {
		return nil, err
	}
	return &sd, nil
}

func (s *Store) SaveReg(ctx context.Context, userID string, sd *webauthn.SessionData) error {
	return s.save(ctx, regKey(userID), sd)
}

func (s *Store) TakeReg(ctx context.Context, userID string) (*webauthn.SessionData, error) {
	return s.load(ctx, regKey(userID))
}

func (s *Store) SaveAuth(ctx context.Context, sid string, sd *webauthn.SessionData) error {
	return s.save(ctx, authKey(sid), sd)
}

func (s *Store) TakeAuth(ctx context.Context, sid string) (*webauthn.SessionData, error) {
	return s.load(ctx, authKey(sid))
}
