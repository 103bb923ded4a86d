package live

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"bidlive/internal/models"
)

var ErrUnknownMessage = errors.New("unknown message type")

// ParseMessage decodes a stream frame body. Nothing is applied when it
// fails.
func ParseMessage(body []byte) (models.StreamMessage, error) {
	var msg models.StreamMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, fmt.Errorf("decode stream message: %w", err)
	}
	switch msg.Type {
	case models.MessageUserJoin, models.MessageUserLeave:
	case models.MessageBidSuccess:
		if msg.BidSrno <= 0 {
			return msg, errors.New("BID_SUCCESS without bidSrno")
		}
	default:
		return msg, fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
	}
	if msg.CurrentUsers < 0 {
		return msg, errors.New("negative currentUsers")
	}
	return msg, nil
}

// Apply folds msg into v and reports whether anything changed. v is not
// mutated.
func Apply(v AuctionLiveView, msg models.StreamMessage) (AuctionLiveView, bool) {
	if msg.AuctionID != 0 && v.AuctionID != 0 && msg.AuctionID != v.AuctionID {
		return v, false
	}
	out := v.Clone()
	switch msg.Type {
	case models.MessageUserJoin, models.MessageUserLeave:
		if out.ParticipantCount == msg.CurrentUsers {
			return v, false
		}
		out.ParticipantCount = msg.CurrentUsers
		return out, true
	case models.MessageBidSuccess:
		out.HasAnyBid = true
		out.ParticipantCount = msg.CurrentUsers
		// a late redelivery never lowers the price
		if msg.BidPrice >= out.CurrentBidPrice {
			out.CurrentBidPrice = msg.BidPrice
			out.HighestBidder = &Bidder{ID: msg.HighestUserID, DisplayName: msg.HighestUsername}
		}
		if !out.HasBid(msg.BidSrno) {
			rec := models.BidRecord{
				BidSrno:    msg.BidSrno,
				AuctionID:  msg.AuctionID,
				BidderID:   msg.HighestUserID,
				BidderName: msg.HighestUsername,
				BidPrice:   msg.BidPrice,
			}
			if rec.AuctionID == 0 {
				rec.AuctionID = out.AuctionID
			}
			if msg.BidAt != nil {
				rec.BidAt = *msg.BidAt
			} else {
				rec.BidAt = time.Now()
			}
			out.BidHistory = insertBid(out.BidHistory, rec)
		}
		return out, true
	}
	return v, false
}

// insertBid keeps history ordered by descending srno. New bids normally
// land at the front.
func insertBid(history []models.BidRecord, rec models.BidRecord) []models.BidRecord {
	idx := 0
	for idx < len(history) && history[idx].BidSrno > rec.BidSrno {
		idx++
	}
	history = append(history, models.BidRecord{})
	copy(history[idx+1:], history[idx:])
	history[idx] = rec
	return history
}

// Reducer feeds stream bodies into a ViewStore.
type Reducer struct {
	views *ViewStore
}

func NewReducer(views *ViewStore) *Reducer {
	return &Reducer{views: views}
}

// Handle is the stream callback. Bad payloads are logged and dropped.
func (r *Reducer) Handle(body []byte) {
	msg, err := ParseMessage(body)
	if err != nil {
		log.Printf("live: message dropped: %v", err)
		return
	}
	r.views.Update(func(v AuctionLiveView) (AuctionLiveView, bool) {
		return Apply(v, msg)
	})
}
