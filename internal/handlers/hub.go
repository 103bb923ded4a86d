package handlers

import (
	"log"
	"sync"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"

	"bidlive/internal/stomp"
)

// Hub tracks STOMP subscriptions of the sockets on this instance.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*WSClient]string
}

func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[*WSClient]string)}
}

func (h *Hub) Subscribe(topic string, client *WSClient, subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*WSClient]string)
	}
	h.topics[topic][client] = subID
}

func (h *Hub) Unsubscribe(client *WSClient, subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for topic, subs := range h.topics {
		if id, ok := subs[client]; ok && id == subID {
			delete(subs, client)
			if len(subs) == 0 {
				delete(h.topics, topic)
			}
		}
	}
}

// Remove drops every subscription of client. Once it returns no Publish
// will touch the client again.
func (h *Hub) Remove(client *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for topic, subs := range h.topics {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
}

// Publish sends body as a MESSAGE frame to each subscriber of topic.
func (h *Hub) Publish(topic string, body []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client, subID := range h.topics[topic] {
		f := stomp.NewFrame(frame.MESSAGE, body,
			frame.Subscription, subID,
			frame.MessageId, uuid.NewString(),
			frame.Destination, topic,
			frame.ContentType, "application/json")
		data, err := stomp.Encode(f)
		if err != nil {
			log.Printf("hub: encode message for %s: %v", topic, err)
			return
		}
		client.Send(data)
	}
}

func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
