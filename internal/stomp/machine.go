package stomp

import "sync"

type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Down reports whether the live channel cannot be trusted for updates.
func (s ConnectionState) Down() bool {
	return s == StateDisconnected || s == StateFailed
}

// Machine owns the connection lifecycle of one subscription target.
// Its methods are the only way the state changes.
type Machine struct {
	mu           sync.Mutex
	state        ConnectionState
	attempts     int
	maxRetries   int
	closing      bool
	retryPending bool
	observers    []func(from, to ConnectionState)
}

func NewMachine(maxRetries int) *Machine {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Machine{maxRetries: maxRetries}
}

// OnStateChange registers fn to run after every transition. fn runs
// outside the machine lock.
func (m *Machine) OnStateChange(fn func(from, to ConnectionState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

func (m *Machine) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

func (m *Machine) Closing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closing
}

func (m *Machine) RetryPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retryPending
}

// Start begins a fresh lifecycle: the attempt counter is reset and any
// terminal failure is cleared.
func (m *Machine) Start() {
	m.start()()
}

func (m *Machine) start() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = 0
	m.closing = false
	m.retryPending = false
	return m.setLocked(StateConnecting)
}

// Connected records a finished handshake. It returns false if the
// lifecycle was torn down meanwhile.
func (m *Machine) Connected() bool {
	ok, notify := m.connected()
	notify()
	return ok
}

func (m *Machine) connected() (bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing || m.state != StateConnecting {
		return false, noop
	}
	m.attempts = 0
	return true, m.setLocked(StateConnected)
}

// Lost records a transport close, protocol error or failed attempt and
// reports whether a retry should be scheduled.
func (m *Machine) Lost() bool {
	retry, notify := m.lost()
	notify()
	return retry
}

func (m *Machine) lost() (bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing || m.retryPending || m.state == StateFailed || m.state == StateDisconnected {
		return false, noop
	}
	if m.attempts >= m.maxRetries {
		return false, m.setLocked(StateFailed)
	}
	m.attempts++
	m.retryPending = true
	return true, m.setLocked(StateReconnecting)
}

// RetryFired consumes the pending retry. It returns false when the retry
// is stale and must not dial.
func (m *Machine) RetryFired() bool {
	ok, notify := m.retryFired()
	notify()
	return ok
}

func (m *Machine) retryFired() (bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing || !m.retryPending || m.state != StateReconnecting {
		m.retryPending = false
		return false, noop
	}
	m.retryPending = false
	return true, m.setLocked(StateConnecting)
}

// MarkClosing flags the shutdown as self-initiated. Must be called before
// the transport is closed so the resulting close event is ignored.
func (m *Machine) MarkClosing() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closing = true
	m.retryPending = false
}

// Teardown is the terminal transition to disconnected.
func (m *Machine) Teardown() {
	m.teardown()()
}

func (m *Machine) teardown() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closing = true
	m.retryPending = false
	return m.setLocked(StateDisconnected)
}

func noop() {}

// setLocked changes the state and returns the observer calls for the
// caller to run once every lock is released.
func (m *Machine) setLocked(next ConnectionState) func() {
	prev := m.state
	if prev == next {
		return noop
	}
	m.state = next
	observers := append([]func(from, to ConnectionState){}, m.observers...)
	return func() {
		for _, fn := range observers {
			fn(prev, next)
		}
	}
}
