package bidding

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"bidlive/internal/api"
	"bidlive/internal/intent"
	"bidlive/internal/live"
	"bidlive/internal/models"
	"bidlive/internal/stomp"
)

var (
	ErrHighestBidder    = errors.New("highest bidder cannot withdraw")
	ErrAlreadyWithdrawn = errors.New("participation already withdrawn")
	ErrNotParticipating = errors.New("not participating in this auction")
	ErrViewNotLoaded    = errors.New("auction not loaded")
	ErrIntentMismatch   = errors.New("pending intent belongs to another auction")
)

const (
	historyPageSize = 20
	refreshTimeout  = 10 * time.Second
)

// Backend is the part of the REST API the coordinator needs.
// *api.Client satisfies it.
type Backend interface {
	GetAuction(ctx context.Context, auctionID int64) (*models.Auction, error)
	ListBids(ctx context.Context, auctionID int64, page, size int) (*models.BidPage, error)
	PlaceBid(ctx context.Context, auctionID, price int64) (*models.PlaceBidResponse, error)
	GetParticipation(ctx context.Context, auctionID int64) (*models.Participation, error)
	CreateParticipation(ctx context.Context, auctionID int64) (*models.Participation, error)
	WithdrawParticipation(ctx context.Context, auctionID int64) (*models.Participation, error)
	GetDepositAccount(ctx context.Context) (*models.DepositAccount, error)
	GetDepositHistory(ctx context.Context) ([]models.LedgerEntry, error)
	CreateCharge(ctx context.Context, amount int64) (*models.ChargeOrder, error)
	ChargeSuccess(ctx context.Context, orderNo string) (*models.ChargeOrder, error)
	ChargeFail(ctx context.Context, orderNo string) (*models.ChargeOrder, error)
}

type StreamState interface {
	State() stomp.ConnectionState
}

type Options struct {
	UserID    int64
	AuctionID int64
	Backend   Backend
	Stream    StreamState
	Intents   intent.Store

	Views         *live.ViewStore
	Participation *live.ParticipationStore
	Balance       *live.BalanceStore
}

type Coordinator struct {
	userID    int64
	auctionID int64
	api       Backend
	stream    StreamState
	intents   intent.Store
	guard     *Guard

	Views         *live.ViewStore
	Participation *live.ParticipationStore
	Balance       *live.BalanceStore

	mu     sync.Mutex
	ledger []models.LedgerEntry
	bg     sync.WaitGroup
}

func NewCoordinator(opts Options) *Coordinator {
	c := &Coordinator{
		userID:        opts.UserID,
		auctionID:     opts.AuctionID,
		api:           opts.Backend,
		stream:        opts.Stream,
		intents:       opts.Intents,
		guard:         NewGuard(),
		Views:         opts.Views,
		Participation: opts.Participation,
		Balance:       opts.Balance,
	}
	if c.Views == nil {
		c.Views = live.NewViewStore()
	}
	if c.Participation == nil {
		c.Participation = live.NewParticipationStore()
	}
	if c.Balance == nil {
		c.Balance = live.NewBalanceStore()
	}
	if c.intents == nil {
		c.intents = intent.NewMemoryStore(30 * time.Minute)
	}
	return c
}

func (c *Coordinator) AuctionID() int64 { return c.auctionID }

// Load fetches the baseline view, the caller's participation and balance.
func (c *Coordinator) Load(ctx context.Context) error {
	if err := c.Reconcile(ctx); err != nil {
		return err
	}
	p, err := c.api.GetParticipation(ctx, c.auctionID)
	if err != nil {
		return fmt.Errorf("participation: %w", err)
	}
	if err := c.Participation.Set(*p); err != nil {
		log.Printf("bidding: participation refresh ignored: %v", err)
	}
	return c.refreshBalance(ctx)
}

// Reconcile replaces the live view with a fresh detail fetch and the
// first history page. Later stream messages dedupe against it.
func (c *Coordinator) Reconcile(ctx context.Context) error {
	a, err := c.api.GetAuction(ctx, c.auctionID)
	if err != nil {
		return fmt.Errorf("auction detail: %w", err)
	}
	page, err := c.api.ListBids(ctx, c.auctionID, 0, historyPageSize)
	if err != nil {
		return fmt.Errorf("bid history: %w", err)
	}
	c.Views.Replace(live.NewView(*a, page.Items))
	return nil
}

func (c *Coordinator) PlaceBid(ctx context.Context, amount int64) (*models.PlaceBidResponse, error) {
	var resp *models.PlaceBidResponse
	err := c.guard.Run(ctx, resourceBid, func(ctx context.Context) error {
		v, ok := c.Views.Get()
		if !ok {
			return ErrViewNotLoaded
		}
		if p, ok := c.Participation.Get(); ok && (!p.IsParticipated || p.IsWithdrawn) {
			return ErrNotParticipating
		}
		if err := ValidateBid(amount, v); err != nil {
			return err
		}
		r, err := c.api.PlaceBid(ctx, c.auctionID, amount)
		if err != nil {
			return err
		}
		resp = r
		if err := c.Participation.SetLastBid(amount); err != nil {
			log.Printf("bidding: last bid not recorded: %v", err)
		}
		// Without a live stream the BID_SUCCESS echo never arrives.
		if c.stream == nil || c.stream.State().Down() {
			if err := c.Reconcile(ctx); err != nil {
				log.Printf("bidding: fallback refetch failed: %v", err)
				c.Views.Invalidate()
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// PayDeposit joins the auction by paying its deposit from the balance.
// A short balance returns *ShortfallError and touches nothing.
func (c *Coordinator) PayDeposit(ctx context.Context) error {
	return c.guard.Run(ctx, resourceParticipation, c.payDeposit)
}

func (c *Coordinator) payDeposit(ctx context.Context) error {
	if p, ok := c.Participation.Get(); ok && p.AuctionID == c.auctionID {
		if p.IsWithdrawn {
			return ErrAlreadyWithdrawn
		}
		if p.IsParticipated {
			return nil
		}
	}
	deposit, err := c.depositAmount(ctx)
	if err != nil {
		return err
	}
	acct, err := c.api.GetDepositAccount(ctx)
	if err != nil {
		return fmt.Errorf("deposit account: %w", err)
	}
	c.Balance.Set(acct.Balance)
	if shortage, recommended := Shortfall(acct.Balance, deposit); shortage > 0 {
		return &ShortfallError{Balance: acct.Balance, Needed: deposit, Shortage: shortage, Recommended: recommended}
	}

	p, err := c.api.CreateParticipation(ctx, c.auctionID)
	if err != nil {
		c.forgetIfUncertain(err)
		return err
	}
	c.Balance.Decrement(deposit)
	if err := c.Participation.Set(*p); err != nil {
		return err
	}
	c.refreshInBackground()
	return nil
}

// Withdraw leaves the auction and gets the deposit back. The highest
// bidder and an already withdrawn caller are refused without a request.
func (c *Coordinator) Withdraw(ctx context.Context) error {
	return c.guard.Run(ctx, resourceParticipation, func(ctx context.Context) error {
		p, ok := c.Participation.Get()
		if ok && p.IsWithdrawn {
			return ErrAlreadyWithdrawn
		}
		if !ok || !p.IsParticipated {
			return ErrNotParticipating
		}
		v, ok := c.Views.Get()
		if !ok {
			return ErrViewNotLoaded
		}
		if v.IsHighestBidder(c.userID) {
			return ErrHighestBidder
		}

		out, err := c.api.WithdrawParticipation(ctx, c.auctionID)
		if err != nil {
			c.forgetIfUncertain(err)
			return err
		}
		if err := c.Participation.MarkWithdrawn(out.IsRefund); err != nil {
			return err
		}
		if out.IsRefund {
			c.Balance.Increment(p.DepositAmount)
		}
		c.refreshInBackground()
		return nil
	})
}

// StartTopUp records what to do after payment and opens a charge order.
// The caller sends the user to the returned PayURL.
func (c *Coordinator) StartTopUp(ctx context.Context, amount int64, bidAmount *int64) (*models.ChargeOrder, error) {
	if amount <= 0 {
		return nil, errors.New("top-up amount must be positive")
	}
	deposit, err := c.depositAmount(ctx)
	if err != nil {
		return nil, err
	}
	in := intent.Intent{AuctionID: c.auctionID, DepositAmount: deposit, BidAmount: bidAmount}
	if err := c.intents.Save(ctx, c.userID, in); err != nil {
		return nil, fmt.Errorf("save intent: %w", err)
	}
	order, err := c.api.CreateCharge(ctx, amount)
	if err != nil {
		return nil, err
	}
	return order, nil
}

type ResumeResult struct {
	Intent       *intent.Intent
	Paid         bool
	Participated bool
	Bid          *models.PlaceBidResponse
}

// ResumeIntent confirms orderNo with the backend and, once it is paid,
// runs the follow-up saved by StartTopUp. The intent is consumed first,
// so whatever happens next a second call returns intent.ErrNoIntent.
func (c *Coordinator) ResumeIntent(ctx context.Context, orderNo string) (*ResumeResult, error) {
	in, err := c.intents.Consume(ctx, c.userID)
	if err != nil {
		return nil, err
	}
	res := &ResumeResult{Intent: in}
	if in.AuctionID != c.auctionID {
		return res, ErrIntentMismatch
	}
	order, err := c.api.ChargeSuccess(ctx, orderNo)
	var apiErr *api.Error
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
		log.Printf("bidding: charge %s not paid: %s", orderNo, apiErr.Message)
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("charge confirm: %w", err)
	}
	if order.Status != models.ChargePaid {
		return res, nil
	}
	c.Balance.Increment(order.Amount)
	res.Paid = true
	if err := c.PayDeposit(ctx); err != nil {
		return res, err
	}
	res.Participated = true
	if in.BidAmount != nil {
		bid, err := c.PlaceBid(ctx, *in.BidAmount)
		if err != nil {
			return res, err
		}
		res.Bid = bid
	}
	return res, nil
}

// CancelTopUp abandons orderNo and drops the pending intent.
func (c *Coordinator) CancelTopUp(ctx context.Context, orderNo string) (*models.ChargeOrder, error) {
	if _, err := c.intents.Consume(ctx, c.userID); err != nil && !errors.Is(err, intent.ErrNoIntent) {
		log.Printf("bidding: drop intent: %v", err)
	}
	return c.api.ChargeFail(ctx, orderNo)
}

func (c *Coordinator) Ledger() []models.LedgerEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.LedgerEntry(nil), c.ledger...)
}

// Wait blocks until background refreshes finish.
func (c *Coordinator) Wait() {
	c.bg.Wait()
}

func (c *Coordinator) depositAmount(ctx context.Context) (int64, error) {
	if v, ok := c.Views.Get(); ok {
		return v.DepositAmount, nil
	}
	a, err := c.api.GetAuction(ctx, c.auctionID)
	if err != nil {
		return 0, fmt.Errorf("auction detail: %w", err)
	}
	return a.DepositAmount, nil
}

// forgetIfUncertain drops the participation and balance when err leaves
// the server outcome unknown, then reloads both.
func (c *Coordinator) forgetIfUncertain(err error) {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		return
	}
	c.Participation.Invalidate()
	c.Balance.Invalidate()
	c.refreshInBackground()
}

func (c *Coordinator) refreshInBackground() {
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		if err := c.refreshBalance(ctx); err != nil {
			log.Printf("bidding: balance refresh failed: %v", err)
		}
		if p, err := c.api.GetParticipation(ctx, c.auctionID); err != nil {
			log.Printf("bidding: participation refresh failed: %v", err)
		} else if err := c.Participation.Set(*p); err != nil {
			log.Printf("bidding: participation refresh ignored: %v", err)
		}
		entries, err := c.api.GetDepositHistory(ctx)
		if err != nil {
			log.Printf("bidding: ledger refresh failed: %v", err)
			return
		}
		c.mu.Lock()
		c.ledger = entries
		c.mu.Unlock()
	}()
}

func (c *Coordinator) refreshBalance(ctx context.Context) error {
	acct, err := c.api.GetDepositAccount(ctx)
	if err != nil {
		return fmt.Errorf("deposit account: %w", err)
	}
	c.Balance.Set(acct.Balance)
	return nil
}
