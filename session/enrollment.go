package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// EnrollmentStore tracks biometric (passkey) enrollment per user and makes
// sure the enrollment prompt is offered at most once.
type EnrollmentStore struct {
	rdb *redis.Client
}

func NewEnrollmentStore(rdb *redis.Client) *EnrollmentStore { return &EnrollmentStore{rdb: rdb} }

func enrolledKey(uid string) string { return fmt.Sprintf("bio:enrolled:%s", uid) }
func promptKey(uid string) string   { return fmt.Sprintf("bio:prompted:%s", uid) }

func (e *EnrollmentStore) MarkEnrolled(ctx context.Context, userID string) error {
	return e.rdb.Set(ctx, enrolledKey(userID), time.Now().UTC().Format(time.RFC3339), 0).Err()
}

func (e *EnrollmentStore) IsEnrolled(ctx context.Context, userID string) (bool, error) {
	n, err := e.rdb.Exists(ctx, enrolledKey(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ClaimPrompt returns true exactly once per user.
func (e *EnrollmentStore) ClaimPrompt(ctx context.Context, userID string) (bool, error) {
	return e.rdb.SetNX(ctx, promptKey(userID), "1", 0).Result()
}

// Dismiss records that the user declined; later sign-ins do not prompt.
func (e *EnrollmentStore) Dismiss(ctx context.Context, userID string) error {
	return e.rdb.Set(ctx, promptKey(userID), "dismissed", 0).Err()
}

// Reset forgets both flags, e.g. after all passkeys of a user are removed.
func (e *EnrollmentStore) Reset(ctx context.Context, userID string) error {
	err := e.rdb.Del(ctx, enrolledKey(userID), promptKey(userID)).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}
