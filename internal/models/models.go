package models

import "time"

type User struct {
	ID        int64     `json:"id"`
	Nickname  string    `json:"nickname"`
	IsAdmin   bool      `json:"isAdmin"`
	CreatedAt time.Time `json:"createdAt"`
}

type AuctionStatus string

const (
	AuctionScheduled  AuctionStatus = "SCHEDULED"
	AuctionInProgress AuctionStatus = "IN_PROGRESS"
	AuctionEnded      AuctionStatus = "ENDED"
)

// Auction is the detail payload. Amounts are integer currency units.
type Auction struct {
	ID               int64         `json:"auctionId"`
	Title            string        `json:"title"`
	SellerID         int64         `json:"sellerId"`
	StartBid         int64         `json:"startBid"`
	CurrentBidPrice  int64         `json:"currentBidPrice"`
	DepositAmount    int64         `json:"depositAmount"`
	HasAnyBid        bool          `json:"hasAnyBid"`
	HighestUserID    int64         `json:"highestUserId,omitempty"`
	HighestUsername  string        `json:"highestUsername,omitempty"`
	ParticipantCount int           `json:"participantCount"`
	BidCount         int64         `json:"bidCount"`
	Status           AuctionStatus `json:"status"`
	StartAt          time.Time     `json:"startAt"`
	EndAt            time.Time     `json:"endAt"`
	CreatedAt        time.Time     `json:"createdAt"`
}

type BidRecord struct {
	BidSrno    int64     `json:"bidSrno"`
	AuctionID  int64     `json:"auctionId"`
	BidderID   int64     `json:"bidderId"`
	BidderName string    `json:"bidderName"`
	BidPrice   int64     `json:"bidPrice"`
	BidAt      time.Time `json:"bidAt"`
}

type BidPage struct {
	Items []BidRecord `json:"items"`
	Page  int         `json:"page"`
	Size  int         `json:"size"`
	Total int64       `json:"total"`
}

type Participation struct {
	AuctionID      int64  `json:"auctionId"`
	IsParticipated bool   `json:"isParticipated"`
	IsWithdrawn    bool   `json:"isWithdrawn"`
	IsRefund       bool   `json:"isRefund"`
	LastBidPrice   *int64 `json:"lastBidPrice,omitempty"`
	DepositAmount  int64  `json:"depositAmount,omitempty"`
}

type DepositAccount struct {
	UserID  int64 `json:"userId"`
	Balance int64 `json:"balance"`
}

type LedgerReason string

const (
	LedgerCharge  LedgerReason = "CHARGE"
	LedgerDeposit LedgerReason = "DEPOSIT"
	LedgerRefund  LedgerReason = "REFUND"
)

type LedgerEntry struct {
	ID        int64        `json:"id"`
	Amount    int64        `json:"amount"`
	Reason    LedgerReason `json:"reason"`
	RefID     string       `json:"refId"`
	CreatedAt time.Time    `json:"createdAt"`
}

type ChargeStatus string

const (
	ChargePending ChargeStatus = "PENDING"
	ChargePaid    ChargeStatus = "PAID"
	ChargeFailed  ChargeStatus = "FAILED"
	ChargeClosed  ChargeStatus = "CLOSED"
)

type ChargeOrder struct {
	OrderNo   string       `json:"orderNo"`
	UserID    int64        `json:"userId"`
	Amount    int64        `json:"amount"`
	Status    ChargeStatus `json:"status"`
	PayURL    string       `json:"payUrl,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
	PaidAt    *time.Time   `json:"paidAt,omitempty"`
}

type MessageType string

const (
	MessageUserJoin   MessageType = "USER_JOIN"
	MessageUserLeave  MessageType = "USER_LEAVE"
	MessageBidSuccess MessageType = "BID_SUCCESS"
)

// StreamMessage is the JSON body of every frame on an auction topic.
// Bid fields are only set for BID_SUCCESS.
type StreamMessage struct {
	Type            MessageType `json:"type"`
	CurrentUsers    int         `json:"currentUsers"`
	BidSrno         int64       `json:"bidSrno,omitempty"`
	HighestUserID   int64       `json:"highestUserId,omitempty"`
	HighestUsername string      `json:"highestUsername,omitempty"`
	BidPrice        int64       `json:"bidPrice,omitempty"`
	BidAt           *time.Time  `json:"bidAt,omitempty"`
	AuctionID       int64       `json:"auctionId,omitempty"`
}

type PlaceBidRequest struct {
	BidPrice int64 `json:"bidPrice"`
}

type PlaceBidResponse struct {
	BidSrno         int64 `json:"bidSrno"`
	BidPrice        int64 `json:"bidPrice"`
	CurrentBidPrice int64 `json:"currentBidPrice"`
}

type CreateChargeRequest struct {
	Amount int64 `json:"amount"`
}
