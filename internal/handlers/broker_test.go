package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/redis/go-redis/v9"

	"bidlive/internal/config"
	"bidlive/internal/live"
	"bidlive/internal/models"
	"bidlive/internal/stomp"
)

type inbox struct {
	mu   sync.Mutex
	msgs []models.StreamMessage
}

func (b *inbox) handle(body []byte) {
	msg, err := live.ParseMessage(body)
	if err != nil {
		return
	}
	b.mu.Lock()
	b.msgs = append(b.msgs, msg)
	b.mu.Unlock()
}

// has reports whether a message of typ with currentUsers n arrived.
func (b *inbox) has(typ models.MessageType, n int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range b.msgs {
		if m.Type == typ && m.CurrentUsers == n {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newBrokerServer(t *testing.T, rdb *redis.Client) (*Server, string) {
	t.Helper()
	srv := NewServer(config.Config{JWTSecret: "test-secret"}, nil, rdb)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	assert.NoError(t, srv.Events.Start(ctx))
	ts := httptest.NewServer(http.HandlerFunc(srv.HandleWS))
	t.Cleanup(ts.Close)
	return srv, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func newStreamClient(url string) *stomp.Client {
	return stomp.NewClient(stomp.Options{URL: url, ReconnectDelay: 50 * time.Millisecond, MaxRetries: 1})
}

func testPresence(t *testing.T, rdb *redis.Client) {
	srv, url := newBrokerServer(t, rdb)
	topic := stomp.AuctionTopic(7)

	first := &inbox{}
	a := newStreamClient(url)
	assert.NoError(t, a.Connect(topic, first.handle))
	defer a.Disconnect()
	waitFor(t, "first join", func() bool { return first.has(models.MessageUserJoin, 1) })

	second := &inbox{}
	b := newStreamClient(url)
	assert.NoError(t, b.Connect(topic, second.handle))
	waitFor(t, "second join seen by first", func() bool { return first.has(models.MessageUserJoin, 2) })
	waitFor(t, "second join seen by second", func() bool { return second.has(models.MessageUserJoin, 2) })
	check.Equal(t, 2, srv.Events.Viewers(context.Background(), 7))

	b.Disconnect()
	waitFor(t, "leave", func() bool { return first.has(models.MessageUserLeave, 1) })
	check.Equal(t, 1, srv.Events.Viewers(context.Background(), 7))
}

func TestPresenceWithoutRedis(t *testing.T) {
	testPresence(t, nil)
}

func TestPresenceThroughRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	testPresence(t, rdb)
}

func TestBidEventReachesSubscribers(t *testing.T) {
	srv, url := newBrokerServer(t, nil)
	views := live.NewViewStore()
	views.Replace(live.AuctionLiveView{AuctionID: 9, StartBid: 10000})
	reducer := live.NewReducer(views)

	c := newStreamClient(url)
	assert.NoError(t, c.Connect(stomp.AuctionTopic(9), reducer.Handle))
	defer c.Disconnect()
	waitFor(t, "connected", func() bool { return srv.Hub.SubscriberCount(stomp.AuctionTopic(9)) == 1 })

	at := time.Now().UTC()
	msg := models.StreamMessage{Type: models.MessageBidSuccess, CurrentUsers: 1, BidSrno: 1,
		HighestUserID: 3, HighestUsername: "mina", BidPrice: 10000, BidAt: &at}
	assert.NoError(t, srv.Events.Publish(context.Background(), 9, msg))

	waitFor(t, "bid applied", func() bool {
		v, _ := views.Get()
		return v.CurrentBidPrice == 10000
	})
	v, _ := views.Get()
	check.True(t, v.IsHighestBidder(3))
	check.Equal(t, 1, len(v.BidHistory))
}

func dialRaw(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	assert.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) *frame.Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	assert.NoError(t, err)
	f, err := stomp.Decode(data)
	assert.NoError(t, err)
	assert.True(t, f != nil)
	return f
}

func writeFrame(t *testing.T, conn *websocket.Conn, f *frame.Frame) {
	t.Helper()
	data, err := stomp.Encode(f)
	assert.NoError(t, err)
	assert.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func TestBrokerRejectsBadToken(t *testing.T) {
	_, url := newBrokerServer(t, nil)
	conn := dialRaw(t, url)
	writeFrame(t, conn, stomp.NewFrame(frame.CONNECT, nil, frame.AcceptVersion, "1.2", "Authorization", "Bearer nope"))
	f := readFrame(t, conn)
	check.Equal(t, frame.ERROR, f.Command)
}

func TestBrokerAcceptsSignedToken(t *testing.T) {
	srv, url := newBrokerServer(t, nil)
	token, err := srv.SignToken(&userRow{ID: 5, Nickname: "mina"})
	assert.NoError(t, err)
	conn := dialRaw(t, url)
	writeFrame(t, conn, stomp.NewFrame(frame.CONNECT, nil, frame.AcceptVersion, "1.2", "Authorization", "Bearer "+token))
	f := readFrame(t, conn)
	check.Equal(t, frame.CONNECTED, f.Command)
	check.Equal(t, "1.2", f.Header.Get(frame.Version))
}

func TestBrokerRequiresConnectFirst(t *testing.T) {
	_, url := newBrokerServer(t, nil)
	conn := dialRaw(t, url)
	writeFrame(t, conn, stomp.NewFrame(frame.SUBSCRIBE, nil, frame.Id, "s1", frame.Destination, stomp.AuctionTopic(1)))
	f := readFrame(t, conn)
	check.Equal(t, frame.ERROR, f.Command)
}

func TestBrokerRejectsUnknownDestination(t *testing.T) {
	_, url := newBrokerServer(t, nil)
	conn := dialRaw(t, url)
	writeFrame(t, conn, stomp.NewFrame(frame.CONNECT, nil, frame.AcceptVersion, "1.2"))
	check.Equal(t, frame.CONNECTED, readFrame(t, conn).Command)
	writeFrame(t, conn, stomp.NewFrame(frame.SUBSCRIBE, nil, frame.Id, "s1", frame.Destination, "/topic/other"))
	check.Equal(t, frame.ERROR, readFrame(t, conn).Command)
}

func TestBrokerDisconnectReceipt(t *testing.T) {
	_, url := newBrokerServer(t, nil)
	conn := dialRaw(t, url)
	writeFrame(t, conn, stomp.NewFrame(frame.CONNECT, nil, frame.AcceptVersion, "1.2"))
	check.Equal(t, frame.CONNECTED, readFrame(t, conn).Command)
	writeFrame(t, conn, stomp.NewFrame(frame.DISCONNECT, nil, frame.Receipt, "bye-1"))
	f := readFrame(t, conn)
	check.Equal(t, frame.RECEIPT, f.Command)
	check.Equal(t, "bye-1", f.Header.Get(frame.ReceiptId))
}
