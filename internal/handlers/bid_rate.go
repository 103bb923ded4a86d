package handlers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const bidRateWindow = 5

// bidRate counts accepted bids per auction in memory and flushes them to
// per-second Redis buckets so every instance sees the same rate.
type bidRate struct {
	counters sync.Map // auction id -> *atomic.Int64
}

func (b *bidRate) bump(auctionID int64) {
	val, _ := b.counters.LoadOrStore(auctionID, &atomic.Int64{})
	val.(*atomic.Int64).Add(1)
}

// drain returns and resets the pending counts.
func (b *bidRate) drain() map[int64]int64 {
	out := make(map[int64]int64)
	b.counters.Range(func(key, value any) bool {
		if n := value.(*atomic.Int64).Swap(0); n > 0 {
			out[key.(int64)] = n
		}
		return true
	})
	return out
}

func bidRateKey(auctionID, sec int64) string {
	return fmt.Sprintf("auction:%d:bps:%d", auctionID, sec)
}

// StartBidRateFlusher pushes bid counts to Redis once a second until ctx
// is done.
func (s *Server) StartBidRateFlusher(ctx context.Context) {
	if s.Redis == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.flushBidRate(ctx, time.Now().Unix())
			}
		}
	}()
}

func (s *Server) flushBidRate(ctx context.Context, nowSec int64) {
	counts := s.bids.drain()
	if len(counts) == 0 {
		return
	}
	pipe := s.Redis.Pipeline()
	for auctionID, n := range counts {
		key := bidRateKey(auctionID, nowSec)
		pipe.IncrBy(ctx, key, n)
		pipe.Expire(ctx, key, 2*bidRateWindow*time.Second)
	}
	_, _ = pipe.Exec(ctx)
}

// calcBidRate returns the average over the window and the last second.
func (s *Server) calcBidRate(ctx context.Context, auctionID, nowSec int64) (avg, last int) {
	if s.Redis == nil {
		return 0, 0
	}
	var total int64
	for i := int64(0); i < bidRateWindow; i++ {
		val, _ := s.Redis.Get(ctx, bidRateKey(auctionID, nowSec-i)).Int64()
		if i == 0 {
			last = int(val)
		}
		total += val
	}
	return int(total / bidRateWindow), last
}
