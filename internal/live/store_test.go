package live

import (
	"errors"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"bidlive/internal/models"
)

func TestBalanceStoreTypedOps(t *testing.T) {
	s := NewBalanceStore()
	var seen []int64
	unsubscribe := s.Subscribe(func(b int64, loaded bool) {
		if loaded {
			seen = append(seen, b)
		}
	})

	// unknown balance cannot be adjusted
	check.False(t, s.Decrement(100))

	s.Set(5000)
	check.True(t, s.Decrement(3000))
	check.True(t, s.Increment(500))
	check.False(t, s.Increment(0))
	b, ok := s.Get()
	check.True(t, ok)
	check.Equal(t, int64(2500), b)
	check.Equal(t, []int64{5000, 2000, 2500}, seen)

	unsubscribe()
	s.Set(1)
	check.Equal(t, 3, len(seen))

	s.Invalidate()
	_, ok = s.Get()
	check.False(t, ok)
}

func TestParticipationWithdrawIsFinal(t *testing.T) {
	s := NewParticipationStore()
	assert.NoError(t, s.MarkParticipated(7, 5000))
	assert.NoError(t, s.SetLastBid(12000))
	assert.NoError(t, s.MarkWithdrawn(true))

	p, _ := s.Get()
	check.True(t, p.IsWithdrawn)
	check.True(t, p.IsRefund)
	assert.NotNil(t, p.LastBidPrice)
	check.Equal(t, int64(12000), *p.LastBidPrice)

	check.True(t, errors.Is(s.MarkParticipated(7, 5000), ErrWithdrawnFinal))
	check.True(t, errors.Is(s.Set(models.Participation{AuctionID: 7, IsParticipated: true}), ErrWithdrawnFinal))
	check.True(t, errors.Is(s.Update(func(p *models.Participation) { p.IsWithdrawn = false }), ErrWithdrawnFinal))

	p, _ = s.Get()
	check.True(t, p.IsWithdrawn)

	// another auction is a different record
	check.NoError(t, s.MarkParticipated(8, 1000))
}

func TestViewStoreGetReturnsCopy(t *testing.T) {
	s := NewViewStore()
	s.Replace(NewView(models.Auction{ID: 7, HasAnyBid: true, HighestUserID: 1}, []models.BidRecord{{BidSrno: 1}}))

	v, _ := s.Get()
	v.BidHistory[0].BidSrno = 99
	v.HighestBidder.ID = 99

	again, _ := s.Get()
	check.Equal(t, int64(1), again.BidHistory[0].BidSrno)
	check.Equal(t, int64(1), again.HighestBidder.ID)
}

func TestViewStoreNotifiesOnInvalidate(t *testing.T) {
	s := loadedStore()
	var loadedFlags []bool
	s.Subscribe(func(_ AuctionLiveView, loaded bool) {
		loadedFlags = append(loadedFlags, loaded)
	})
	s.Invalidate()
	s.Replace(baseline())
	check.Equal(t, []bool{false, true}, loadedFlags)
}

func TestParticipationWithdrawSurvivesInvalidate(t *testing.T) {
	s := NewParticipationStore()
	assert.NoError(t, s.Set(models.Participation{AuctionID: 7, IsParticipated: true, IsWithdrawn: true}))
	s.Invalidate()
	_, ok := s.Get()
	check.False(t, ok)

	check.True(t, errors.Is(s.Set(models.Participation{AuctionID: 7, IsParticipated: true}), ErrWithdrawnFinal))
	_, ok = s.Get()
	check.False(t, ok)

	assert.NoError(t, s.Set(models.Participation{AuctionID: 7, IsParticipated: true, IsWithdrawn: true, IsRefund: true}))
	assert.NoError(t, s.Set(models.Participation{AuctionID: 8, IsParticipated: true}))
}
