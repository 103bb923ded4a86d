package live

import (
	"sort"

	"bidlive/internal/models"
)

type Bidder struct {
	ID          int64
	DisplayName string
}

// AuctionLiveView is the client-side picture of one auction while its
// detail page is open. BidHistory is newest first with unique BidSrno.
type AuctionLiveView struct {
	AuctionID        int64
	Title            string
	StartBid         int64
	DepositAmount    int64
	CurrentBidPrice  int64
	HasAnyBid        bool
	HighestBidder    *Bidder
	ParticipantCount int
	BidHistory       []models.BidRecord
}

// NewView builds the baseline from a detail fetch and a history page.
func NewView(a models.Auction, history []models.BidRecord) AuctionLiveView {
	v := AuctionLiveView{
		AuctionID:        a.ID,
		Title:            a.Title,
		StartBid:         a.StartBid,
		DepositAmount:    a.DepositAmount,
		CurrentBidPrice:  a.CurrentBidPrice,
		HasAnyBid:        a.HasAnyBid,
		ParticipantCount: a.ParticipantCount,
	}
	if a.HasAnyBid {
		v.HighestBidder = &Bidder{ID: a.HighestUserID, DisplayName: a.HighestUsername}
	}
	seen := make(map[int64]bool, len(history))
	for _, rec := range history {
		if seen[rec.BidSrno] {
			continue
		}
		seen[rec.BidSrno] = true
		v.BidHistory = append(v.BidHistory, rec)
	}
	sort.SliceStable(v.BidHistory, func(i, j int) bool {
		return v.BidHistory[i].BidSrno > v.BidHistory[j].BidSrno
	})
	return v
}

func (v AuctionLiveView) Clone() AuctionLiveView {
	out := v
	if v.HighestBidder != nil {
		b := *v.HighestBidder
		out.HighestBidder = &b
	}
	out.BidHistory = append([]models.BidRecord(nil), v.BidHistory...)
	return out
}

func (v AuctionLiveView) HasBid(srno int64) bool {
	for _, rec := range v.BidHistory {
		if rec.BidSrno == srno {
			return true
		}
	}
	return false
}

// IsHighestBidder reports whether userID currently holds the top bid.
func (v AuctionLiveView) IsHighestBidder(userID int64) bool {
	return v.HasAnyBid && v.HighestBidder != nil && v.HighestBidder.ID == userID
}
