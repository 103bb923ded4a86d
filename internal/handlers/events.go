package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"bidlive/internal/models"
	"bidlive/internal/stomp"
)

const auctionEventsPattern = "auction_events:*"

// EventRelay fans auction events out to every instance. With Redis,
// events go through pub/sub and each instance forwards them to its own
// hub; without Redis they go straight to the local hub.
type EventRelay struct {
	redis *redis.Client
	hub   *Hub

	mu      sync.Mutex
	viewers map[int64]int
}

func NewEventRelay(rdb *redis.Client, hub *Hub) *EventRelay {
	return &EventRelay{redis: rdb, hub: hub, viewers: make(map[int64]int)}
}

func (r *EventRelay) Publish(ctx context.Context, auctionID int64, msg models.StreamMessage) error {
	msg.AuctionID = auctionID
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if r.redis == nil {
		r.hub.Publish(stomp.AuctionTopic(auctionID), payload)
		return nil
	}
	return r.redis.Publish(ctx, auctionEventsChannel(auctionID), payload).Err()
}

// Start subscribes to the event channels and forwards them until ctx is
// done. It returns once the subscription is confirmed.
func (r *EventRelay) Start(ctx context.Context) error {
	if r.redis == nil {
		return nil
	}
	ps := r.redis.PSubscribe(ctx, auctionEventsPattern)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return err
	}
	go r.listen(ctx, ps)
	return nil
}

func (r *EventRelay) listen(ctx context.Context, ps *redis.PubSub) {
	defer ps.Close()
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			id, err := auctionIDFromChannel(msg.Channel)
			if err != nil {
				log.Printf("events: %v", err)
				continue
			}
			r.hub.Publish(stomp.AuctionTopic(id), []byte(msg.Payload))
		}
	}
}

// Join counts one more live viewer of the auction and returns the total.
func (r *EventRelay) Join(ctx context.Context, auctionID int64) (int, error) {
	return r.adjustViewers(ctx, auctionID, 1)
}

func (r *EventRelay) Leave(ctx context.Context, auctionID int64) (int, error) {
	return r.adjustViewers(ctx, auctionID, -1)
}

func (r *EventRelay) Viewers(ctx context.Context, auctionID int64) int {
	if r.redis == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.viewers[auctionID]
	}
	n, err := r.redis.Get(ctx, auctionViewersKey(auctionID)).Int()
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (r *EventRelay) adjustViewers(ctx context.Context, auctionID int64, delta int64) (int, error) {
	if r.redis == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		n := r.viewers[auctionID] + int(delta)
		if n < 0 {
			n = 0
		}
		r.viewers[auctionID] = n
		return n, nil
	}
	n, err := r.redis.IncrBy(ctx, auctionViewersKey(auctionID), delta).Result()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		_ = r.redis.Set(ctx, auctionViewersKey(auctionID), 0, 0).Err()
		n = 0
	}
	return int(n), nil
}

func auctionIDFromChannel(channel string) (int64, error) {
	raw := strings.TrimPrefix(channel, "auction_events:")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("bad event channel %q", channel)
	}
	return id, nil
}
