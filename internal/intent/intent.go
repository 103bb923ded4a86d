// Package intent keeps the follow-up action of a user who left for an
// external payment step, so it can be resumed exactly once on return.
package intent

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrNoIntent = errors.New("no pending intent")

type Intent struct {
	AuctionID     int64     `json:"auctionId"`
	DepositAmount int64     `json:"depositAmount"`
	BidAmount     *int64    `json:"bidAmount,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

type Store interface {
	Save(ctx context.Context, userID int64, in Intent) error
	// Consume returns the pending intent and removes it in one step.
	Consume(ctx context.Context, userID int64) (*Intent, error)
}

func key(userID int64) string {
	return "intent:deposit:" + strconv.FormatInt(userID, 10)
}

type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) Save(ctx context.Context, userID int64, in Intent) error {
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now()
	}
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, key(userID), data, s.ttl).Err()
}

// Consume uses GETDEL so a reloaded result page finds nothing to replay.
func (s *RedisStore) Consume(ctx context.Context, userID int64) (*Intent, error) {
	raw, err := s.rdb.GetDel(ctx, key(userID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNoIntent
		}
		return nil, err
	}
	var in Intent
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, ErrNoIntent
	}
	return &in, nil
}

type MemoryStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	items map[int64]Intent
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, now: time.Now, items: make(map[int64]Intent)}
}

func (s *MemoryStore) Save(_ context.Context, userID int64, in Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if in.CreatedAt.IsZero() {
		in.CreatedAt = s.now()
	}
	s.items[userID] = in
	return nil
}

func (s *MemoryStore) Consume(_ context.Context, userID int64) (*Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.items[userID]
	delete(s.items, userID)
	if !ok {
		return nil, ErrNoIntent
	}
	if s.ttl > 0 && s.now().Sub(in.CreatedAt) > s.ttl {
		return nil, ErrNoIntent
	}
	return &in, nil
}
