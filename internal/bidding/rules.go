// Package bidding coordinates the caller's mutations on an open auction:
// bids, deposit payment, withdrawal and the top-up detour.
package bidding

import (
	"fmt"

	"bidlive/internal/live"
)

const (
	BidIncrement int64 = 100
	MinTopUp     int64 = 1000
)

// BidError is a bid rejected before it reaches the backend.
type BidError struct {
	Amount  int64
	Minimum int64
	Reason  string
}

func (e *BidError) Error() string {
	return fmt.Sprintf("bid %d rejected: %s", e.Amount, e.Reason)
}

// MinimumBid is the lowest amount ValidateBid accepts for v.
func MinimumBid(v live.AuctionLiveView) int64 {
	if !v.HasAnyBid {
		return roundUp(v.StartBid, BidIncrement)
	}
	return v.CurrentBidPrice + BidIncrement
}

func ValidateBid(amount int64, v live.AuctionLiveView) error {
	minimum := MinimumBid(v)
	switch {
	case amount <= 0:
		return &BidError{Amount: amount, Minimum: minimum, Reason: "amount must be positive"}
	case amount%BidIncrement != 0:
		return &BidError{Amount: amount, Minimum: minimum, Reason: fmt.Sprintf("amount must be a multiple of %d", BidIncrement)}
	case !v.HasAnyBid && amount < v.StartBid:
		return &BidError{Amount: amount, Minimum: minimum, Reason: fmt.Sprintf("first bid must be at least %d", v.StartBid)}
	case v.HasAnyBid && amount <= v.CurrentBidPrice:
		return &BidError{Amount: amount, Minimum: minimum, Reason: fmt.Sprintf("must exceed current price %d", v.CurrentBidPrice)}
	case v.HasAnyBid && amount < minimum:
		return &BidError{Amount: amount, Minimum: minimum, Reason: fmt.Sprintf("minimum raise is %d", BidIncrement)}
	}
	return nil
}

// ShortfallError means the balance cannot cover the deposit.
type ShortfallError struct {
	Balance     int64
	Needed      int64
	Shortage    int64
	Recommended int64
}

func (e *ShortfallError) Error() string {
	return fmt.Sprintf("deposit %d exceeds balance %d (short %d, top up %d)", e.Needed, e.Balance, e.Shortage, e.Recommended)
}

// Shortfall returns how much is missing and the top-up to suggest. Both
// are zero when the balance suffices.
func Shortfall(balance, needed int64) (shortage, recommended int64) {
	if balance >= needed {
		return 0, 0
	}
	shortage = needed - balance
	recommended = roundUp(shortage, 100)
	if recommended < MinTopUp {
		recommended = MinTopUp
	}
	return shortage, recommended
}

func roundUp(v, step int64) int64 {
	if v <= 0 {
		return 0
	}
	return (v + step - 1) / step * step
}
