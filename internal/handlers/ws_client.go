package handlers

import (
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 10 * time.Second

type WSClient struct {
	ID     string
	UserID int64
	Conn   *websocket.Conn
	SendCh chan []byte

	// auctions this socket has joined; touched only by the read loop
	joined map[int64]bool
}

func NewWSClient(id string, conn *websocket.Conn) *WSClient {
	return &WSClient{
		ID:     id,
		Conn:   conn,
		SendCh: make(chan []byte, 64),
		joined: make(map[int64]bool),
	}
}

// Send queues one frame. A slow consumer loses frames instead of
// stalling the hub.
func (c *WSClient) Send(payload []byte) {
	select {
	case c.SendCh <- payload:
	default:
	}
}

// WritePump drains SendCh until it is closed, then closes the socket.
func (c *WSClient) WritePump() {
	defer c.Conn.Close()
	for msg := range c.SendCh {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			for range c.SendCh {
			}
			return
		}
	}
}
