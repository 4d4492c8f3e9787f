package conn

import (
	"log/slog"
	"sync"
	"time"

	"github.com/pakhunchan/collab-board-sub000/internal/clock"
)

// ManagerOptions configures a Manager. Zero values select defaults.
type ManagerOptions struct {
	// Clock drives the backoff timer. Nil selects the real clock.
	Clock clock.Clock
	// Logger receives state-change records. Nil selects slog.Default().
	Logger *slog.Logger
	// MaxRetries bounds reconnect attempts; 0 selects DefaultMaxRetries.
	MaxRetries int
	// OnNotification receives user-facing connectivity notices. Called
	// outside the manager's lock.
	OnNotification func(Notification)
	// OnReconnect receives the reconnect generation, incremented exactly
	// once per reconnect effect. Generation 0 is the fresh session load;
	// the first reconnect cycle is generation 1. Called outside the
	// manager's lock.
	OnReconnect func(generation int)
}

// Manager hosts the state machine: it listens for host connectivity signals,
// accepts channel-status reports from transport owners, owns the backoff
// timer, and executes the machine's requested effects at the boundary.
type Manager struct {
	clock          clock.Clock
	logger         *slog.Logger
	onNotification func(Notification)
	onReconnect    func(int)

	mu         sync.Mutex
	state      State
	ctx        Context
	retryTimer clock.Timer
	generation int
	closed     bool
}

// NewManager returns a Manager in the idle state.
func NewManager(opts ManagerOptions) *Manager {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		clock:          clk,
		logger:         logger,
		onNotification: opts.OnNotification,
		onReconnect:    opts.OnReconnect,
		state:          StateIdle,
		ctx:            NewContext(opts.MaxRetries),
	}
}

// ReportChannelStatus records the health of one transport channel. Transport
// owners call this for every status change they observe.
func (m *Manager) ReportChannelStatus(channel string, status Status) {
	m.dispatch(ChannelStatusEvent(channel, status))
}

// SetBrowserOnline forwards a host-level connectivity signal.
func (m *Manager) SetBrowserOnline(online bool) {
	if online {
		m.dispatch(BrowserOnlineEvent())
		return
	}
	m.dispatch(BrowserOfflineEvent())
}

// FireRetryNow feeds the retry-timer event immediately, as if the armed
// backoff delay had already elapsed.
func (m *Manager) FireRetryNow() {
	m.mu.Lock()
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	m.mu.Unlock()
	m.dispatch(RetryTimerEvent())
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Context returns a copy of the machine context.
func (m *Manager) Context() Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctx.clone()
}

// Generation returns the current reconnect generation.
func (m *Manager) Generation() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// Close stops the backoff timer and ignores all further events.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

func (m *Manager) dispatch(ev Event) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	prev := m.state
	state, ctx, effects := Transition(m.state, m.ctx, ev)
	m.state, m.ctx = state, ctx

	var notifications []Notification
	reconnectGen := 0
	for _, eff := range effects {
		switch eff.Kind {
		case EffectNotify:
			notifications = append(notifications, eff.Notification)
		case EffectReconnect:
			m.generation++
			reconnectGen = m.generation
		case EffectArmRetry:
			m.armRetryLocked(eff.Delay)
		}
	}
	if state != StateReconnecting && m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	if state != prev {
		m.logger.Info("connection state changed",
			"from", prev, "to", state,
			"retryCount", ctx.RetryCount, "browserOnline", ctx.BrowserOnline)
	}
	onNotify := m.onNotification
	onReconnect := m.onReconnect
	m.mu.Unlock()

	if onNotify != nil {
		for _, n := range notifications {
			onNotify(n)
		}
	}
	if reconnectGen > 0 && onReconnect != nil {
		onReconnect(reconnectGen)
	}
}

func (m *Manager) armRetryLocked(d time.Duration) {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
	}
	m.retryTimer = m.clock.AfterFunc(d, func() {
		m.dispatch(RetryTimerEvent())
	})
}
