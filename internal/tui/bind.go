package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"bidlive/internal/live"
	"bidlive/internal/models"
	"bidlive/internal/stomp"
)

// Sender is satisfied by *tea.Program.
type Sender interface {
	Send(msg tea.Msg)
}

// Stores are the client-side stores the viewer renders.
type Stores struct {
	Views         *live.ViewStore
	Participation *live.ParticipationStore
	Balance       *live.BalanceStore
}

// Bind forwards store and connection changes to p in order. A
// *tea.Program accepts nothing until Run starts, so messages are queued
// and delivered from a separate goroutine; observers never wait on p.
// Call Model.Seed for the current values. The returned func stops the
// subscriptions and drops anything still queued.
func Bind(p Sender, stores Stores, machine *stomp.Machine) func() {
	r := newRelay(p)
	var stops []func()
	if stores.Views != nil {
		stops = append(stops, stores.Views.Subscribe(func(v live.AuctionLiveView, loaded bool) {
			r.push(viewMsg{view: v, loaded: loaded})
		}))
	}
	if stores.Participation != nil {
		stops = append(stops, stores.Participation.Subscribe(func(pt models.Participation, loaded bool) {
			r.push(participationMsg{p: pt, loaded: loaded})
		}))
	}
	if stores.Balance != nil {
		stops = append(stops, stores.Balance.Subscribe(func(b int64, loaded bool) {
			r.push(balanceMsg{balance: b, loaded: loaded})
		}))
	}
	if machine != nil {
		machine.OnStateChange(func(_, to stomp.ConnectionState) {
			r.push(connMsg{state: to})
		})
	}
	return func() {
		for _, stop := range stops {
			stop()
		}
		r.close()
	}
}

type relay struct {
	p    Sender
	wake chan struct{}

	mu     sync.Mutex
	queue  []tea.Msg
	closed bool
}

func newRelay(p Sender) *relay {
	r := &relay{p: p, wake: make(chan struct{}, 1)}
	go r.loop()
	return r
}

func (r *relay) push(msg tea.Msg) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.queue = append(r.queue, msg)
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *relay) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.queue = nil
	close(r.wake)
}

func (r *relay) loop() {
	for range r.wake {
		for {
			r.mu.Lock()
			if r.closed || len(r.queue) == 0 {
				r.mu.Unlock()
				break
			}
			msg := r.queue[0]
			r.queue = r.queue[1:]
			r.mu.Unlock()
			r.p.Send(msg)
		}
	}
}

// Seed copies the current store values into m.
func (m Model) Seed(stores Stores, machine *stomp.Machine) Model {
	if stores.Views != nil {
		m.view, m.viewLoaded = stores.Views.Get()
	}
	if stores.Participation != nil {
		m.participation, m.partLoaded = stores.Participation.Get()
	}
	if stores.Balance != nil {
		m.balance, m.balanceLoaded = stores.Balance.Get()
	}
	if machine != nil {
		m.conn = machine.State()
	}
	return m
}
