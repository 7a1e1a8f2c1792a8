// Package token issues the single-use tokens guarding the admin refund
// actions. A token is bound to one action scope and is consumed atomically,
// so it authorizes at most one refund.
package token

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// TTL is how long a minted token stays valid.
const TTL = 15 * time.Minute

// Store mints and consumes single-use action tokens.
type Store interface {
	Mint(ctx context.Context, scope string) (string, error)
	// Consume validates and burns the token in one step. Returns false when
	// the token is unknown, expired, already used or bound to another scope.
	Consume(ctx context.Context, scope, token string) (bool, error)
}

// ChargeRefundScope is the scope of a per-charge refund action.
func ChargeRefundScope(orderID int64, chargeID string) string {
	return fmt.Sprintf("refund:%d:%s", orderID, chargeID)
}

// TenderRefundScope is the scope of a tender refund action.
func TenderRefundScope(orderID int64, tenderID string) string {
	return fmt.Sprintf("refund-tender:%d:%s", orderID, tenderID)
}

// RedisStore keeps tokens in Redis keyed by token value, with the scope as
// the stored value. GETDEL makes consumption atomic across replicas of the
// gateway.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a token store. prefix namespaces keys per service.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(token string) string {
	return fmt.Sprintf("%s:action-token:%s", s.prefix, token)
}

// Mint creates a token bound to scope.
func (s *RedisStore) Mint(ctx context.Context, scope string) (string, error) {
	token := uuid.NewString()
	if err := s.client.Set(ctx, s.key(token), scope, TTL).Err(); err != nil {
		return "", fmt.Errorf("failed to mint action token: %w", err)
	}
	return token, nil
}

// Consume burns the token and checks its scope.
func (s *RedisStore) Consume(ctx context.Context, scope, token string) (bool, error) {
	stored, err := s.client.GetDel(ctx, s.key(token)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to consume action token: %w", err)
	}
	return stored == scope, nil
}
