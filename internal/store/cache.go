package store

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

const balanceCacheTTL = 5 * time.Minute

func balanceKey(walletID string) string { return "balance:" + walletID }

// CacheBalance writes the balance to Redis. A nil client (tests without a
// cache) makes this a no-op.
func (s *Store) CacheBalance(ctx context.Context, walletID string, bal decimal.Decimal) error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Set(ctx, balanceKey(walletID), bal.String(), balanceCacheTTL).Err()
}

// GetCachedBalance reads the balance from Redis.
func (s *Store) GetCachedBalance(ctx context.Context, walletID string) (decimal.Decimal, error) {
	if s.rdb == nil {
		return decimal.Zero, redis.Nil
	}
	str, err := s.rdb.Get(ctx, balanceKey(walletID)).Result()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(str)
}
