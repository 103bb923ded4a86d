package stomp

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"
)

var ErrNotConnected = errors.New("stream not connected")

const handshakeTimeout = 10 * time.Second

type Options struct {
	URL            string
	Header         http.Header
	Dialer         Dialer
	ReconnectDelay time.Duration
	MaxRetries     int
}

// Client keeps at most one live subscription and delivers its messages,
// in arrival order, to a single callback.
type Client struct {
	opts    Options
	machine *Machine

	mu        sync.Mutex
	gen       uint64
	conn      Conn
	topic     string
	subID     string
	onMessage func(body []byte)
	timer     *time.Timer

	// held while a message is handed to onMessage
	deliverMu sync.Mutex
}

func NewClient(opts Options) *Client {
	if opts.Dialer == nil {
		opts.Dialer = WebSocketDialer{}
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 3 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	return &Client{opts: opts, machine: NewMachine(opts.MaxRetries)}
}

func (c *Client) State() ConnectionState {
	return c.machine.State()
}

func (c *Client) Machine() *Machine {
	return c.machine
}

// Connect starts a lifecycle for topic. Calling it again for the same
// topic while the lifecycle is alive is a no-op; a different topic, or a
// failed/disconnected client, tears down and starts over with a fresh
// retry budget. onMessage must not call Disconnect synchronously.
func (c *Client) Connect(topic string, onMessage func(body []byte)) error {
	topic = normalizeTopic(topic)
	if _, err := AuctionIDFromTopic(topic); err != nil {
		return err
	}
	c.mu.Lock()
	state := c.machine.State()
	current := c.topic
	c.mu.Unlock()
	if current == topic && (state == StateConnecting || state == StateConnected || state == StateReconnecting) {
		return nil
	}
	if current != "" {
		c.Disconnect()
	}

	c.mu.Lock()
	c.topic = topic
	c.onMessage = onMessage
	c.gen++
	gen := c.gen
	notify := c.machine.start()
	c.mu.Unlock()
	notify()

	go c.attempt(gen)
	return nil
}

// Disconnect unsubscribes and closes the transport. It is safe to call
// any number of times.
func (c *Client) Disconnect() {
	c.machine.MarkClosing()
	c.mu.Lock()
	c.gen++
	c.stopTimerLocked()
	c.closeConnLocked(true)
	notify := c.machine.teardown()
	c.mu.Unlock()
	notify()

	// wait out a delivery already in progress
	c.deliverMu.Lock()
	c.deliverMu.Unlock()
}

// SendMessage publishes body to destination. Outside the connected state
// it only logs and returns ErrNotConnected.
func (c *Client) SendMessage(destination string, body []byte, headers map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.machine.State() != StateConnected || c.conn == nil {
		log.Printf("stomp: send to %s dropped: %s", destination, c.machine.State())
		return ErrNotConnected
	}
	f := NewFrame(frame.SEND, body, frame.Destination, destination, frame.ContentType, "application/json")
	for k, v := range headers {
		f.Header.Set(k, v)
	}
	if err := c.writeLocked(c.conn, f); err != nil {
		log.Printf("stomp: send to %s failed: %v", destination, err)
		return err
	}
	return nil
}

func (c *Client) attempt(gen uint64) {
	conn, err := c.handshake()

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		c.mu.Unlock()
		log.Printf("stomp: connect %s failed: %v", c.opts.URL, err)
		c.connectionLost(gen)
		return
	}
	auctionID, _ := AuctionIDFromTopic(c.topic)
	subID := uuid.NewString()
	sub := NewFrame(frame.SUBSCRIBE, nil, frame.Id, subID, frame.Destination, c.topic, frame.Ack, "auto")
	join := NewFrame(frame.SEND, []byte("{}"), frame.Destination, JoinDestination(auctionID), frame.ContentType, "application/json")
	if err = c.writeLocked(conn, sub); err == nil {
		c.conn = conn
		c.subID = subID
		err = c.writeLocked(conn, join)
	}
	if err != nil {
		c.closeConnLocked(false)
		_ = conn.Close()
		c.mu.Unlock()
		log.Printf("stomp: subscribe %s failed: %v", c.topic, err)
		c.connectionLost(gen)
		return
	}
	ok, notify := c.machine.connected()
	if !ok {
		c.closeConnLocked(false)
	}
	c.mu.Unlock()
	notify()
	if ok {
		go c.readLoop(gen, conn)
	}
}

func (c *Client) handshake() (Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
	defer cancel()
	conn, err := c.opts.Dialer.Dial(ctx, c.opts.URL, c.opts.Header)
	if err != nil {
		return nil, err
	}
	host := "localhost"
	if u, err := url.Parse(c.opts.URL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	connect := NewFrame(frame.CONNECT, nil, frame.AcceptVersion, "1.2", frame.Host, host, frame.HeartBeat, "0,0")
	if auth := c.opts.Header.Get("Authorization"); auth != "" {
		connect.Header.Set("Authorization", auth)
	}
	data, err := Encode(connect)
	if err == nil {
		err = conn.WriteMessage(data)
	}
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		f, err := Decode(raw)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		if f == nil {
			continue
		}
		switch f.Command {
		case frame.CONNECTED:
			_ = conn.SetReadDeadline(time.Time{})
			return conn, nil
		case frame.ERROR:
			_ = conn.Close()
			return nil, errors.New("broker refused connection: " + f.Header.Get(frame.Message))
		default:
			_ = conn.Close()
			return nil, errors.New("unexpected frame before CONNECTED: " + f.Command)
		}
	}
}

func (c *Client) readLoop(gen uint64, conn Conn) {
	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			c.connectionLost(gen)
			return
		}
		f, err := Decode(raw)
		if err != nil {
			log.Printf("stomp: bad frame dropped: %v", err)
			continue
		}
		if f == nil {
			continue
		}
		switch f.Command {
		case frame.MESSAGE:
			c.deliver(gen, f.Body)
		case frame.ERROR:
			log.Printf("stomp: broker error: %s", f.Header.Get(frame.Message))
			c.connectionLost(gen)
			return
		}
	}
}

func (c *Client) deliver(gen uint64, body []byte) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()
	c.mu.Lock()
	current := gen == c.gen
	fn := c.onMessage
	c.mu.Unlock()
	if !current || fn == nil {
		return
	}
	fn(body)
}

// connectionLost runs state observers only after c.mu is released.
func (c *Client) connectionLost(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.closeConnLocked(false)
	retry, notify := c.machine.lost()
	if retry {
		c.timer = time.AfterFunc(c.opts.ReconnectDelay, func() { c.retry(gen) })
	}
	c.mu.Unlock()
	notify()
}

func (c *Client) retry(scheduled uint64) {
	c.mu.Lock()
	if scheduled != c.gen {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	ok, notify := c.machine.retryFired()
	if !ok {
		c.mu.Unlock()
		notify()
		return
	}
	c.gen++
	gen := c.gen
	c.mu.Unlock()
	notify()
	go c.attempt(gen)
}

// closeConnLocked drops the current transport. graceful sends
// UNSUBSCRIBE and DISCONNECT first.
func (c *Client) closeConnLocked(graceful bool) {
	if c.conn == nil {
		c.subID = ""
		return
	}
	if graceful {
		if c.subID != "" {
			_ = c.writeLocked(c.conn, NewFrame(frame.UNSUBSCRIBE, nil, frame.Id, c.subID))
		}
		_ = c.writeLocked(c.conn, NewFrame(frame.DISCONNECT, nil))
	}
	_ = c.conn.Close()
	c.conn = nil
	c.subID = ""
}

func (c *Client) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Client) writeLocked(conn Conn, f *frame.Frame) error {
	data, err := Encode(f)
	if err != nil {
		return err
	}
	return conn.WriteMessage(data)
}
