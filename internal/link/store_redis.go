package link

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"vkyc/pkg/domain"
	"vkyc/pkg/platform/sentinel"
)

const (
	linkKeyPrefix     = "vkyc:link:"
	consumedKeyPrefix = "vkyc:link:consumed:"

	// Links outlive their expiry for the audit trail; resolution enforces
	// the real expiry from the stored record.
	retention = 90 * 24 * time.Hour
)

// RedisStore is the production implementation of Store for distributed
// deployments where multiple instances share link state.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

type redisLink struct {
	Token      string    `json:"token"`
	CustomerID string    `json:"customer_id"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (s *RedisStore) Save(ctx context.Context, l *VerificationLink) error {
	payload, err := json.Marshal(redisLink{
		Token:      string(l.Token),
		CustomerID: l.CustomerID.String(),
		IssuedAt:   l.IssuedAt,
		ExpiresAt:  l.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("marshal link: %w", err)
	}
	return s.client.Set(ctx, linkKeyPrefix+string(l.Token), payload, retention).Err()
}

func (s *RedisStore) Find(ctx context.Context, token domain.LinkToken) (*VerificationLink, error) {
	raw, err := s.client.Get(ctx, linkKeyPrefix+string(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get link: %w", err)
	}
	var stored redisLink
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("unmarshal link: %w", err)
	}
	customerID, err := domain.ParseCustomerID(stored.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("stored link has bad customer id: %w", err)
	}
	consumed, err := s.client.Exists(ctx, consumedKeyPrefix+string(token)).Result()
	if err != nil {
		return nil, fmt.Errorf("check consumed: %w", err)
	}
	return &VerificationLink{
		Token:      token,
		CustomerID: customerID,
		IssuedAt:   stored.IssuedAt,
		ExpiresAt:  stored.ExpiresAt,
		Consumed:   consumed > 0,
	}, nil
}

// Consume marks the token used. SETNX makes the marker atomic: the first
// caller wins, every later caller sees ErrAlreadyUsed.
func (s *RedisStore) Consume(ctx context.Context, token domain.LinkToken) error {
	exists, err := s.client.Exists(ctx, linkKeyPrefix+string(token)).Result()
	if err != nil {
		return fmt.Errorf("check link: %w", err)
	}
	if exists == 0 {
		return sentinel.ErrNotFound
	}
	set, err := s.client.SetNX(ctx, consumedKeyPrefix+string(token), "1", retention).Result()
	if err != nil {
		return fmt.Errorf("consume link: %w", err)
	}
	if !set {
		return sentinel.ErrAlreadyUsed
	}
	return nil
}
