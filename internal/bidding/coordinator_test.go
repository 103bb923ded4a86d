package bidding

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"bidlive/internal/api"
	"bidlive/internal/intent"
	"bidlive/internal/live"
	"bidlive/internal/models"
	"bidlive/internal/stomp"
)

type fakeBackend struct {
	mu      sync.Mutex
	calls   map[string]int
	auction models.Auction
	bids    []models.BidRecord
	part    models.Participation
	balance int64
	charge  models.ChargeOrder
	bidErr  error
	joinErr error
	listErr error

	// whether the payment provider reports the charge as paid
	providerPaid bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		calls:   map[string]int{},
		auction: models.Auction{ID: 7, StartBid: 10000, DepositAmount: 5000},
		part:    models.Participation{AuctionID: 7},
	}
}

func (f *fakeBackend) hit(name string) {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
}

func (f *fakeBackend) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeBackend) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, v := range f.calls {
		n += v
	}
	return n
}

func (f *fakeBackend) GetAuction(ctx context.Context, id int64) (*models.Auction, error) {
	f.hit("GetAuction")
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.auction
	return &a, nil
}

func (f *fakeBackend) ListBids(ctx context.Context, id int64, page, size int) (*models.BidPage, error) {
	f.hit("ListBids")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return &models.BidPage{Items: append([]models.BidRecord(nil), f.bids...), Page: page, Size: size}, nil
}

func (f *fakeBackend) PlaceBid(ctx context.Context, id, price int64) (*models.PlaceBidResponse, error) {
	f.hit("PlaceBid")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bidErr != nil {
		return nil, f.bidErr
	}
	srno := int64(len(f.bids) + 1)
	f.bids = append([]models.BidRecord{{BidSrno: srno, AuctionID: id, BidderID: 1, BidPrice: price}}, f.bids...)
	f.auction.HasAnyBid = true
	f.auction.CurrentBidPrice = price
	f.auction.HighestUserID = 1
	return &models.PlaceBidResponse{BidSrno: srno, BidPrice: price, CurrentBidPrice: price}, nil
}

func (f *fakeBackend) GetParticipation(ctx context.Context, id int64) (*models.Participation, error) {
	f.hit("GetParticipation")
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.part
	return &p, nil
}

func (f *fakeBackend) CreateParticipation(ctx context.Context, id int64) (*models.Participation, error) {
	f.hit("CreateParticipation")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.joinErr != nil {
		return nil, f.joinErr
	}
	f.balance -= f.auction.DepositAmount
	f.part = models.Participation{AuctionID: id, IsParticipated: true, DepositAmount: f.auction.DepositAmount}
	p := f.part
	return &p, nil
}

func (f *fakeBackend) WithdrawParticipation(ctx context.Context, id int64) (*models.Participation, error) {
	f.hit("WithdrawParticipation")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balance += f.part.DepositAmount
	f.part.IsWithdrawn = true
	f.part.IsRefund = true
	p := f.part
	return &p, nil
}

func (f *fakeBackend) GetDepositAccount(ctx context.Context) (*models.DepositAccount, error) {
	f.hit("GetDepositAccount")
	f.mu.Lock()
	defer f.mu.Unlock()
	return &models.DepositAccount{UserID: 1, Balance: f.balance}, nil
}

func (f *fakeBackend) GetDepositHistory(ctx context.Context) ([]models.LedgerEntry, error) {
	f.hit("GetDepositHistory")
	return []models.LedgerEntry{{ID: 1, Amount: -5000, Reason: models.LedgerDeposit}}, nil
}

func (f *fakeBackend) CreateCharge(ctx context.Context, amount int64) (*models.ChargeOrder, error) {
	f.hit("CreateCharge")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.charge = models.ChargeOrder{OrderNo: "ord-1", UserID: 1, Amount: amount, Status: models.ChargePending, PayURL: "https://pay.example/ord-1"}
	o := f.charge
	return &o, nil
}

func (f *fakeBackend) ChargeSuccess(ctx context.Context, orderNo string) (*models.ChargeOrder, error) {
	f.hit("ChargeSuccess")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.charge.OrderNo != orderNo {
		return nil, &api.Error{Status: 404, Message: "charge not found"}
	}
	if f.charge.Status == models.ChargePending {
		if !f.providerPaid {
			return nil, &api.Error{Status: 409, Message: "payment not confirmed"}
		}
		f.charge.Status = models.ChargePaid
		f.balance += f.charge.Amount
	}
	o := f.charge
	return &o, nil
}

func (f *fakeBackend) ChargeFail(ctx context.Context, orderNo string) (*models.ChargeOrder, error) {
	f.hit("ChargeFail")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.charge.Status == models.ChargePending {
		f.charge.Status = models.ChargeFailed
	}
	o := f.charge
	return &o, nil
}

type fixedState stomp.ConnectionState

func (s fixedState) State() stomp.ConnectionState { return stomp.ConnectionState(s) }

func newCoordinator(t *testing.T, b *fakeBackend, state stomp.ConnectionState) *Coordinator {
	t.Helper()
	c := NewCoordinator(Options{UserID: 1, AuctionID: 7, Backend: b, Stream: fixedState(state)})
	assert.NoError(t, c.Reconcile(context.Background()))
	return c
}

func TestValidateBidMinimums(t *testing.T) {
	first := live.AuctionLiveView{StartBid: 10000}
	check.NotNil(t, ValidateBid(9900, first))
	check.Nil(t, ValidateBid(10000, first))

	later := live.AuctionLiveView{StartBid: 10000, HasAnyBid: true, CurrentBidPrice: 15000}
	check.NotNil(t, ValidateBid(15000, later))
	check.Nil(t, ValidateBid(15100, later))

	var bidErr *BidError
	assert.True(t, errors.As(ValidateBid(15050, later), &bidErr))
	check.Equal(t, int64(15100), bidErr.Minimum)
	check.NotNil(t, ValidateBid(0, first))
	check.NotNil(t, ValidateBid(-100, first))
}

func TestInvalidBidNeverReachesBackend(t *testing.T) {
	b := newFakeBackend()
	c := newCoordinator(t, b, stomp.StateConnected)

	_, err := c.PlaceBid(context.Background(), 9900)
	var bidErr *BidError
	check.True(t, errors.As(err, &bidErr))
	check.Equal(t, 0, b.count("PlaceBid"))

	_, err = c.PlaceBid(context.Background(), 10000)
	check.NoError(t, err)
	check.Equal(t, 1, b.count("PlaceBid"))
}

func TestShortfall(t *testing.T) {
	shortage, recommended := Shortfall(3000, 5000)
	check.Equal(t, int64(2000), shortage)
	check.Equal(t, int64(2000), recommended)

	shortage, recommended = Shortfall(4750, 5000)
	check.Equal(t, int64(250), shortage)
	check.Equal(t, MinTopUp, recommended)

	shortage, recommended = Shortfall(1, 5000)
	check.Equal(t, int64(4999), shortage)
	check.Equal(t, int64(5000), recommended)

	shortage, _ = Shortfall(5000, 5000)
	check.Equal(t, int64(0), shortage)
}

func TestPayDepositShortfallTouchesNothing(t *testing.T) {
	b := newFakeBackend()
	b.balance = 3000
	c := newCoordinator(t, b, stomp.StateConnected)

	err := c.PayDeposit(context.Background())
	var short *ShortfallError
	assert.True(t, errors.As(err, &short))
	check.Equal(t, int64(2000), short.Shortage)
	check.Equal(t, int64(2000), short.Recommended)
	check.Equal(t, 0, b.count("CreateParticipation"))
	_, ok := c.Participation.Get()
	check.False(t, ok)
}

func TestPayDepositOptimistic(t *testing.T) {
	b := newFakeBackend()
	b.balance = 8000
	c := newCoordinator(t, b, stomp.StateConnected)

	var balances []int64
	c.Balance.Subscribe(func(v int64, loaded bool) {
		if loaded {
			balances = append(balances, v)
		}
	})
	assert.NoError(t, c.PayDeposit(context.Background()))
	c.Wait()

	p, ok := c.Participation.Get()
	assert.True(t, ok)
	check.True(t, p.IsParticipated)
	// server value, optimistic decrement, then the background reconcile
	check.Equal(t, []int64{8000, 3000, 3000}, balances)
	check.Equal(t, 1, len(c.Ledger()))

	// already participating is a no-op
	assert.NoError(t, c.PayDeposit(context.Background()))
	check.Equal(t, 1, b.count("CreateParticipation"))
}

func TestWithdrawIsFinal(t *testing.T) {
	b := newFakeBackend()
	b.balance = 5000
	c := newCoordinator(t, b, stomp.StateConnected)
	assert.NoError(t, c.PayDeposit(context.Background()))
	c.Wait()

	assert.NoError(t, c.Withdraw(context.Background()))
	c.Wait()
	p, _ := c.Participation.Get()
	check.True(t, p.IsWithdrawn)
	check.True(t, p.IsRefund)
	bal, _ := c.Balance.Get()
	check.Equal(t, int64(5000), bal)

	before := b.total()
	check.True(t, errors.Is(c.Withdraw(context.Background()), ErrAlreadyWithdrawn))
	check.True(t, errors.Is(c.PayDeposit(context.Background()), ErrAlreadyWithdrawn))
	_, err := c.PlaceBid(context.Background(), 10000)
	check.True(t, errors.Is(err, ErrNotParticipating))
	check.Equal(t, before, b.total())
}

func TestHighestBidderCannotWithdraw(t *testing.T) {
	b := newFakeBackend()
	b.balance = 5000
	c := newCoordinator(t, b, stomp.StateConnected)
	assert.NoError(t, c.PayDeposit(context.Background()))
	c.Wait()

	c.Views.Update(func(v live.AuctionLiveView) (live.AuctionLiveView, bool) {
		v.HasAnyBid = true
		v.CurrentBidPrice = 10000
		v.HighestBidder = &live.Bidder{ID: 1, DisplayName: "me"}
		return v, true
	})
	before := b.total()
	check.True(t, errors.Is(c.Withdraw(context.Background()), ErrHighestBidder))
	check.Equal(t, before, b.total())
	check.Equal(t, 0, b.count("WithdrawParticipation"))
}

func TestFallbackRefetchWhenStreamDown(t *testing.T) {
	for _, tc := range []struct {
		state   stomp.ConnectionState
		refetch bool
	}{
		{stomp.StateConnected, false},
		{stomp.StateReconnecting, false},
		{stomp.StateFailed, true},
		{stomp.StateDisconnected, true},
	} {
		t.Run(tc.state.String(), func(t *testing.T) {
			b := newFakeBackend()
			c := newCoordinator(t, b, tc.state)
			detailBefore := b.count("GetAuction")

			_, err := c.PlaceBid(context.Background(), 10000)
			assert.NoError(t, err)

			check.Equal(t, tc.refetch, b.count("GetAuction") > detailBefore)
			v, _ := c.Views.Get()
			check.Equal(t, tc.refetch, v.HasAnyBid)
			if tc.refetch {
				check.Equal(t, int64(10000), v.CurrentBidPrice)
				check.Equal(t, 1, len(v.BidHistory))
			}
		})
	}
}

func TestFallbackThenLateEcho(t *testing.T) {
	b := newFakeBackend()
	c := newCoordinator(t, b, stomp.StateFailed)
	resp, err := c.PlaceBid(context.Background(), 10000)
	assert.NoError(t, err)

	r := live.NewReducer(c.Views)
	r.Handle([]byte(`{"type":"BID_SUCCESS","currentUsers":1,"bidSrno":1,"highestUserId":1,"highestUsername":"me","bidPrice":10000,"auctionId":7}`))
	v, _ := c.Views.Get()
	check.Equal(t, 1, len(v.BidHistory))
	check.Equal(t, resp.BidSrno, v.BidHistory[0].BidSrno)
}

func TestBackendErrorSurfaces(t *testing.T) {
	b := newFakeBackend()
	b.bidErr = &api.Error{Status: 409, Message: "outbid"}
	c := newCoordinator(t, b, stomp.StateConnected)

	_, err := c.PlaceBid(context.Background(), 10000)
	var apiErr *api.Error
	assert.True(t, errors.As(err, &apiErr))
	check.Equal(t, "outbid", apiErr.Message)
}

func TestStartTopUpAndResumeOnce(t *testing.T) {
	b := newFakeBackend()
	b.balance = 3000
	c := newCoordinator(t, b, stomp.StateConnected)
	bid := int64(10000)

	order, err := c.StartTopUp(context.Background(), 2000, &bid)
	assert.NoError(t, err)
	check.Equal(t, "ord-1", order.OrderNo)
	check.Equal(t, int64(2000), order.Amount)

	b.mu.Lock()
	b.providerPaid = true
	b.mu.Unlock()

	res, err := c.ResumeIntent(context.Background(), order.OrderNo)
	assert.NoError(t, err)
	check.Equal(t, 1, b.count("ChargeSuccess"))
	check.True(t, res.Paid)
	check.True(t, res.Participated)
	assert.NotNil(t, res.Bid)
	check.Equal(t, int64(10000), res.Bid.BidPrice)
	c.Wait()

	_, err = c.ResumeIntent(context.Background(), order.OrderNo)
	check.True(t, errors.Is(err, intent.ErrNoIntent))
	check.Equal(t, 1, b.count("PlaceBid"))
	check.Equal(t, 1, b.count("CreateParticipation"))
}

func TestResumeUnpaidClearsIntent(t *testing.T) {
	b := newFakeBackend()
	c := newCoordinator(t, b, stomp.StateConnected)
	_, err := c.StartTopUp(context.Background(), 1000, nil)
	assert.NoError(t, err)

	res, err := c.ResumeIntent(context.Background(), "ord-1")
	assert.NoError(t, err)
	check.False(t, res.Paid)
	check.Equal(t, 1, b.count("ChargeSuccess"))
	check.Equal(t, 0, b.count("CreateParticipation"))

	_, err = c.ResumeIntent(context.Background(), "ord-1")
	check.True(t, errors.Is(err, intent.ErrNoIntent))
}

func TestLoadPopulatesStores(t *testing.T) {
	b := newFakeBackend()
	b.balance = 1234
	b.part = models.Participation{AuctionID: 7, IsParticipated: true, DepositAmount: 5000}
	c := NewCoordinator(Options{UserID: 1, AuctionID: 7, Backend: b, Stream: fixedState(stomp.StateConnected)})

	assert.NoError(t, c.Load(context.Background()))
	_, ok := c.Views.Get()
	check.True(t, ok)
	p, _ := c.Participation.Get()
	check.True(t, p.IsParticipated)
	bal, _ := c.Balance.Get()
	check.Equal(t, int64(1234), bal)
}

func TestResumeUnknownOrderFails(t *testing.T) {
	b := newFakeBackend()
	c := newCoordinator(t, b, stomp.StateConnected)
	_, err := c.StartTopUp(context.Background(), 1000, nil)
	assert.NoError(t, err)

	res, err := c.ResumeIntent(context.Background(), "ord-other")
	var apiErr *api.Error
	assert.True(t, errors.As(err, &apiErr))
	check.Equal(t, 404, apiErr.Status)
	check.False(t, res.Paid)
}

func TestCancelTopUpDropsIntent(t *testing.T) {
	b := newFakeBackend()
	c := newCoordinator(t, b, stomp.StateConnected)
	order, err := c.StartTopUp(context.Background(), 1000, nil)
	assert.NoError(t, err)

	out, err := c.CancelTopUp(context.Background(), order.OrderNo)
	assert.NoError(t, err)
	check.Equal(t, models.ChargeFailed, out.Status)

	_, err = c.ResumeIntent(context.Background(), order.OrderNo)
	check.True(t, errors.Is(err, intent.ErrNoIntent))
	check.Equal(t, 0, b.count("ChargeSuccess"))
}

func TestWithdrawNeedsLoadedView(t *testing.T) {
	b := newFakeBackend()
	c := NewCoordinator(Options{UserID: 1, AuctionID: 7, Backend: b, Stream: fixedState(stomp.StateConnected)})
	assert.NoError(t, c.Participation.Set(models.Participation{AuctionID: 7, IsParticipated: true, DepositAmount: 5000}))

	check.True(t, errors.Is(c.Withdraw(context.Background()), ErrViewNotLoaded))
	check.Equal(t, 0, b.total())
}

func TestUncertainFailureReloadsStores(t *testing.T) {
	b := newFakeBackend()
	b.balance = 8000
	b.joinErr = context.DeadlineExceeded
	c := newCoordinator(t, b, stomp.StateConnected)

	var mu sync.Mutex
	var dropped bool
	c.Balance.Subscribe(func(_ int64, loaded bool) {
		mu.Lock()
		dropped = dropped || !loaded
		mu.Unlock()
	})
	err := c.PayDeposit(context.Background())
	check.True(t, errors.Is(err, context.DeadlineExceeded))
	c.Wait()

	mu.Lock()
	check.True(t, dropped)
	mu.Unlock()
	bal, ok := c.Balance.Get()
	check.True(t, ok)
	check.Equal(t, int64(8000), bal)
	p, ok := c.Participation.Get()
	check.True(t, ok)
	check.False(t, p.IsParticipated)
	check.Equal(t, 1, b.count("GetParticipation"))
}

func TestRejectedRequestKeepsStores(t *testing.T) {
	b := newFakeBackend()
	b.balance = 8000
	b.joinErr = &api.Error{Status: 409, Message: "auction is not in progress"}
	c := newCoordinator(t, b, stomp.StateConnected)

	var apiErr *api.Error
	check.True(t, errors.As(c.PayDeposit(context.Background()), &apiErr))
	c.Wait()
	_, ok := c.Balance.Get()
	check.True(t, ok)
	check.Equal(t, 0, b.count("GetParticipation"))
}

func TestFailedFallbackDropsStaleView(t *testing.T) {
	b := newFakeBackend()
	c := newCoordinator(t, b, stomp.StateFailed)
	b.mu.Lock()
	b.listErr = errors.New("connection reset")
	b.mu.Unlock()

	_, err := c.PlaceBid(context.Background(), 10000)
	assert.NoError(t, err)
	_, ok := c.Views.Get()
	check.False(t, ok)

	_, err = c.PlaceBid(context.Background(), 10100)
	check.True(t, errors.Is(err, ErrViewNotLoaded))
	check.Equal(t, 1, b.count("PlaceBid"))
}
