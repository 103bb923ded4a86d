package live

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"bidlive/internal/models"
)

func baseline() AuctionLiveView {
	return NewView(models.Auction{ID: 7, StartBid: 10000, ParticipantCount: 2}, nil)
}

func bidMsg(srno, price, user int64) []byte {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	data, _ := json.Marshal(models.StreamMessage{
		Type:            models.MessageBidSuccess,
		CurrentUsers:    3,
		BidSrno:         srno,
		HighestUserID:   user,
		HighestUsername: fmt.Sprintf("user%d", user),
		BidPrice:        price,
		BidAt:           &at,
		AuctionID:       7,
	})
	return data
}

func loadedStore() *ViewStore {
	s := NewViewStore()
	s.Replace(baseline())
	return s
}

func TestReducerPresenceIsSnapshot(t *testing.T) {
	s := loadedStore()
	r := NewReducer(s)

	r.Handle([]byte(`{"type":"USER_JOIN","currentUsers":5}`))
	v, _ := s.Get()
	check.Equal(t, 5, v.ParticipantCount)

	r.Handle([]byte(`{"type":"USER_LEAVE","currentUsers":4}`))
	v, _ = s.Get()
	check.Equal(t, 4, v.ParticipantCount)
	check.False(t, v.HasAnyBid)
}

func TestReducerBidSuccess(t *testing.T) {
	s := loadedStore()
	r := NewReducer(s)

	r.Handle(bidMsg(1, 10000, 42))
	v, _ := s.Get()
	check.True(t, v.HasAnyBid)
	check.Equal(t, int64(10000), v.CurrentBidPrice)
	assert.NotNil(t, v.HighestBidder)
	check.Equal(t, int64(42), v.HighestBidder.ID)
	check.Equal(t, "user42", v.HighestBidder.DisplayName)
	check.Equal(t, 3, v.ParticipantCount)
	assert.Equal(t, 1, len(v.BidHistory))
	check.Equal(t, int64(1), v.BidHistory[0].BidSrno)
	check.Equal(t, int64(7), v.BidHistory[0].AuctionID)
}

func TestReducerIdempotentMerge(t *testing.T) {
	s := loadedStore()
	r := NewReducer(s)

	deliveries := []int64{1, 2, 2, 1, 3, 3, 3, 2, 4}
	for _, srno := range deliveries {
		r.Handle(bidMsg(srno, 10000+srno*100, srno))
	}
	v, _ := s.Get()
	assert.Equal(t, 4, len(v.BidHistory))
	seen := map[int64]int{}
	for _, rec := range v.BidHistory {
		seen[rec.BidSrno]++
	}
	for srno, n := range seen {
		if n != 1 {
			t.Errorf("srno %d stored %d times", srno, n)
		}
	}
	// newest first
	check.Equal(t, int64(4), v.BidHistory[0].BidSrno)
	check.Equal(t, int64(1), v.BidHistory[3].BidSrno)
}

func TestReducerPriceNeverDecreases(t *testing.T) {
	s := loadedStore()
	r := NewReducer(s)

	prices := []int64{10000, 10500, 11000, 10500, 12000, 11900}
	last := int64(0)
	for i, p := range prices {
		r.Handle(bidMsg(int64(i+1), p, int64(i+1)))
		v, _ := s.Get()
		check.True(t, v.CurrentBidPrice >= last)
		last = v.CurrentBidPrice
	}
	v, _ := s.Get()
	check.Equal(t, int64(12000), v.CurrentBidPrice)
	check.Equal(t, int64(5), v.HighestBidder.ID)
	check.Equal(t, len(prices), len(v.BidHistory))
}

func TestReducerDropsMalformedPayload(t *testing.T) {
	s := loadedStore()
	r := NewReducer(s)
	before, _ := s.Get()

	r.Handle([]byte(`{"type":"BID_SUCCESS","bidPrice":`))
	r.Handle([]byte(`{"type":"BID_SUCCESS","bidPrice":20000,"currentUsers":9}`))
	r.Handle([]byte(`{"type":"AUCTION_CLOSED","currentUsers":9}`))
	r.Handle([]byte(`not json`))

	after, _ := s.Get()
	check.Equal(t, before.ParticipantCount, after.ParticipantCount)
	check.Equal(t, before.CurrentBidPrice, after.CurrentBidPrice)
	check.False(t, after.HasAnyBid)
	check.Equal(t, 0, len(after.BidHistory))
}

func TestReducerIgnoresOtherAuction(t *testing.T) {
	v := baseline()
	msg, err := ParseMessage([]byte(`{"type":"BID_SUCCESS","bidSrno":1,"bidPrice":20000,"currentUsers":1,"auctionId":8}`))
	assert.NoError(t, err)
	out, changed := Apply(v, msg)
	check.False(t, changed)
	check.False(t, out.HasAnyBid)
}

func TestReducerNoopWhenViewNotLoaded(t *testing.T) {
	s := NewViewStore()
	NewReducer(s).Handle(bidMsg(1, 10000, 1))
	_, ok := s.Get()
	check.False(t, ok)
}

func TestRefetchBaselineThenRedelivery(t *testing.T) {
	at := time.Now()
	history := []models.BidRecord{
		{BidSrno: 2, BidPrice: 10100, BidderID: 2, BidAt: at},
		{BidSrno: 1, BidPrice: 10000, BidderID: 1, BidAt: at},
		{BidSrno: 2, BidPrice: 10100, BidderID: 2, BidAt: at},
	}
	s := NewViewStore()
	s.Replace(NewView(models.Auction{ID: 7, StartBid: 10000, CurrentBidPrice: 10100, HasAnyBid: true, HighestUserID: 2}, history))
	v, _ := s.Get()
	check.Equal(t, 2, len(v.BidHistory))

	r := NewReducer(s)
	r.Handle(bidMsg(2, 10100, 2))
	r.Handle(bidMsg(3, 10200, 1))
	v, _ = s.Get()
	check.Equal(t, 3, len(v.BidHistory))
	check.Equal(t, int64(10200), v.CurrentBidPrice)
	check.True(t, v.IsHighestBidder(1))
	check.False(t, v.IsHighestBidder(2))
}
