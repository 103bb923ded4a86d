package handlers

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"bidlive/internal/models"
	"bidlive/internal/stomp"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const presenceTimeout = 3 * time.Second

// HandleWS serves STOMP 1.2 over a websocket, one frame per text
// message. Watching is open to anonymous sockets; a bearer token, when
// given, must be valid.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client := NewWSClient(uuid.NewString(), conn)
	go client.WritePump()
	defer func() {
		s.Hub.Remove(client)
		s.leaveAll(client)
		close(client.SendCh)
	}()

	connected := false
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		f, err := stomp.Decode(raw)
		if err != nil {
			s.sendError(client, "malformed frame")
			return
		}
		if f == nil {
			continue
		}
		if !connected && f.Command != frame.CONNECT && f.Command != frame.STOMP {
			s.sendError(client, "not connected")
			return
		}
		switch f.Command {
		case frame.CONNECT, frame.STOMP:
			token := bearerValue(f.Header.Get("Authorization"))
			if token == "" {
				token = getBearerToken(r)
			}
			if token == "" {
				token = r.URL.Query().Get("token")
			}
			if token != "" {
				claims, err := s.authenticate(token)
				if err != nil {
					s.sendError(client, "authentication failed")
					return
				}
				client.UserID = claims.UserID
			}
			connected = true
			s.sendFrame(client, stomp.NewFrame(frame.CONNECTED, nil, frame.Version, "1.2", frame.HeartBeat, "0,0"))
		case frame.SUBSCRIBE:
			dest := f.Header.Get(frame.Destination)
			subID := f.Header.Get(frame.Id)
			auctionID, err := stomp.AuctionIDFromTopic(dest)
			if err != nil || subID == "" {
				s.sendError(client, "unknown destination")
				return
			}
			s.Hub.Subscribe(stomp.AuctionTopic(auctionID), client, subID)
		case frame.UNSUBSCRIBE:
			s.Hub.Unsubscribe(client, f.Header.Get(frame.Id))
		case frame.SEND:
			dest := f.Header.Get(frame.Destination)
			auctionID, err := stomp.AuctionIDFromJoin(dest)
			if err != nil {
				log.Printf("broker: send to %s ignored", dest)
				continue
			}
			s.join(client, auctionID)
		case frame.DISCONNECT:
			if receipt := f.Header.Get(frame.Receipt); receipt != "" {
				s.sendFrame(client, stomp.NewFrame(frame.RECEIPT, nil, frame.ReceiptId, receipt))
			}
			return
		default:
			log.Printf("broker: unsupported frame %s", f.Command)
		}
	}
}

func (s *Server) join(client *WSClient, auctionID int64) {
	if client.joined[auctionID] {
		return
	}
	client.joined[auctionID] = true
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	s.publishPresence(ctx, auctionID, models.MessageUserJoin, s.Events.Join)
}

func (s *Server) leaveAll(client *WSClient) {
	if len(client.joined) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	for auctionID := range client.joined {
		s.publishPresence(ctx, auctionID, models.MessageUserLeave, s.Events.Leave)
	}
	client.joined = map[int64]bool{}
}

func (s *Server) publishPresence(ctx context.Context, auctionID int64, typ models.MessageType, adjust func(context.Context, int64) (int, error)) {
	n, err := adjust(ctx, auctionID)
	if err != nil {
		log.Printf("broker: presence %d: %v", auctionID, err)
		return
	}
	if err := s.Events.Publish(ctx, auctionID, models.StreamMessage{Type: typ, CurrentUsers: n}); err != nil {
		log.Printf("broker: publish %s for %d: %v", typ, auctionID, err)
	}
}

func (s *Server) sendFrame(client *WSClient, f *frame.Frame) {
	data, err := stomp.Encode(f)
	if err != nil {
		log.Printf("broker: encode %s: %v", f.Command, err)
		return
	}
	client.Send(data)
}

func (s *Server) sendError(client *WSClient, msg string) {
	s.sendFrame(client, stomp.NewFrame(frame.ERROR, []byte(msg), frame.Message, msg, frame.ContentType, "text/plain"))
}
