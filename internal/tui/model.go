// Package tui renders one live auction in the terminal. Store and
// connection changes are fed in as tea messages by Bind.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"bidlive/internal/bidding"
	"bidlive/internal/live"
	"bidlive/internal/models"
	"bidlive/internal/stomp"
)

const (
	actionTimeout = 15 * time.Second
	historyRows   = 8
)

// Actions is what the viewer can ask of the coordinator.
type Actions interface {
	PlaceBid(ctx context.Context, amount int64) (*models.PlaceBidResponse, error)
	PayDeposit(ctx context.Context) error
	Withdraw(ctx context.Context) error
	Reconcile(ctx context.Context) error
}

type viewMsg struct {
	view   live.AuctionLiveView
	loaded bool
}

type participationMsg struct {
	p      models.Participation
	loaded bool
}

type balanceMsg struct {
	balance int64
	loaded  bool
}

type connMsg struct {
	state stomp.ConnectionState
}

type actionDoneMsg struct {
	label string
	err   error
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
	priceStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F5C542"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#5BD778"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F5F"))
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

type Model struct {
	actions Actions
	userID  int64
	input   textinput.Model

	view          live.AuctionLiveView
	viewLoaded    bool
	participation models.Participation
	partLoaded    bool
	balance       int64
	balanceLoaded bool
	conn          stomp.ConnectionState

	busy   string
	status string
	err    error
	width  int
}

func NewModel(actions Actions, userID int64) Model {
	in := textinput.New()
	in.Placeholder = "bid amount"
	in.CharLimit = 12
	in.Width = 14
	in.Prompt = "bid > "
	in.Focus()
	return Model{actions: actions, userID: userID, input: in}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.run("refresh", func(ctx context.Context) error {
		return m.actions.Reconcile(ctx)
	}))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case viewMsg:
		m.view, m.viewLoaded = msg.view, msg.loaded
		return m, nil
	case participationMsg:
		m.participation, m.partLoaded = msg.p, msg.loaded
		return m, nil
	case balanceMsg:
		m.balance, m.balanceLoaded = msg.balance, msg.loaded
		return m, nil
	case connMsg:
		m.conn = msg.state
		return m, nil
	case actionDoneMsg:
		m.busy = ""
		m.err = msg.err
		if msg.err == nil {
			m.status = msg.label + " ok"
		} else {
			m.status = ""
		}
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		return m, tea.Quit
	case tea.KeyEnter:
		return m.submitBid()
	case tea.KeyRunes:
		key := string(msg.Runes)
		if key >= "0" && key <= "9" {
			break
		}
		switch key {
		case "q":
			return m, tea.Quit
		case "d":
			return m.start("deposit", m.actions.PayDeposit)
		case "w":
			return m.start("withdraw", m.actions.Withdraw)
		case "r":
			return m.start("refresh", m.actions.Reconcile)
		}
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submitBid() (tea.Model, tea.Cmd) {
	raw := strings.TrimSpace(m.input.Value())
	amount, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		m.err = fmt.Errorf("not a number: %q", raw)
		return m, nil
	}
	m.input.SetValue("")
	return m.start("bid "+strconv.FormatInt(amount, 10), func(ctx context.Context) error {
		_, err := m.actions.PlaceBid(ctx, amount)
		return err
	})
}

// start runs fn off the update loop unless another action is in flight.
func (m Model) start(label string, fn func(context.Context) error) (tea.Model, tea.Cmd) {
	if m.busy != "" {
		m.status = m.busy + " in progress"
		return m, nil
	}
	m.busy = label
	m.status = label + "..."
	m.err = nil
	return m, m.run(label, fn)
}

func (m Model) run(label string, fn func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		return actionDoneMsg{label: label, err: fn(ctx)}
	}
}

func (m Model) View() string {
	var b strings.Builder
	title := "loading auction..."
	if m.viewLoaded {
		title = fmt.Sprintf("#%d %s", m.view.AuctionID, m.view.Title)
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("  ")
	b.WriteString(renderConn(m.conn))
	b.WriteString("\n\n")

	if m.viewLoaded {
		b.WriteString(m.renderAuction())
		b.WriteString("\n")
	}
	b.WriteString(m.renderAccount())
	b.WriteString("\n\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	if m.err != nil {
		b.WriteString(errStyle.Render(describeError(m.err)))
	} else if m.status != "" {
		b.WriteString(okStyle.Render(m.status))
	}
	b.WriteString("\n")
	b.WriteString(labelStyle.Render("enter bid · d deposit · w withdraw · r refetch · q quit"))
	return b.String()
}

func (m Model) renderAuction() string {
	v := m.view
	lines := []string{}
	price := "no bids yet, start " + strconv.FormatInt(v.StartBid, 10)
	if v.HasAnyBid {
		price = strconv.FormatInt(v.CurrentBidPrice, 10)
	}
	lines = append(lines, labelStyle.Render("price    ")+priceStyle.Render(price))
	leader := "-"
	if v.HighestBidder != nil {
		leader = v.HighestBidder.DisplayName
		if v.IsHighestBidder(m.userID) {
			leader += " (you)"
		}
	}
	lines = append(lines,
		labelStyle.Render("leader   ")+leader,
		labelStyle.Render("watching ")+strconv.Itoa(v.ParticipantCount),
		labelStyle.Render("next min ")+strconv.FormatInt(bidding.MinimumBid(v), 10),
	)
	if len(v.BidHistory) > 0 {
		lines = append(lines, "")
		for i, rec := range v.BidHistory {
			if i == historyRows {
				break
			}
			lines = append(lines, fmt.Sprintf("%4d  %-16s %10d  %s",
				rec.BidSrno, rec.BidderName, rec.BidPrice, rec.BidAt.Local().Format("15:04:05")))
		}
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

func (m Model) renderAccount() string {
	part := "?"
	if m.partLoaded {
		switch p := m.participation; {
		case p.IsWithdrawn:
			part = "withdrawn"
			if p.IsRefund {
				part += ", refunded"
			}
		case p.IsParticipated:
			part = "deposit paid"
		default:
			part = "not joined"
			if m.viewLoaded {
				part += fmt.Sprintf(" (deposit %d)", m.view.DepositAmount)
			}
		}
	}
	balance := "?"
	if m.balanceLoaded {
		balance = strconv.FormatInt(m.balance, 10)
	}
	return labelStyle.Render("participation ") + part + "   " + labelStyle.Render("balance ") + balance
}

func renderConn(s stomp.ConnectionState) string {
	label := "● " + s.String()
	switch s {
	case stomp.StateConnected:
		return okStyle.Render(label)
	case stomp.StateFailed, stomp.StateDisconnected:
		return errStyle.Render(label)
	default:
		return priceStyle.Render(label)
	}
}

func describeError(err error) string {
	var short *bidding.ShortfallError
	if errors.As(err, &short) {
		return fmt.Sprintf("balance %d is %d short of the %d deposit; top up at least %d",
			short.Balance, short.Shortage, short.Needed, short.Recommended)
	}
	var bidErr *bidding.BidError
	if errors.As(err, &bidErr) {
		return fmt.Sprintf("%s (minimum %d)", bidErr.Reason, bidErr.Minimum)
	}
	return err.Error()
}
