// Package conn aggregates per-channel transport health and host connectivity
// into a single board connection status, and drives reconnection with
// exponential backoff. The transition logic is a pure function over
// (state, context, event) so it needs no clock to test; Manager hosts it,
// owns the retry timer, and executes the effects it requests.
package conn

import "time"

// State is the aggregated connection lifecycle state.
type State string

const (
	StateIdle         State = "idle"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateOffline      State = "offline"
)

// Status is the last reported health of one transport channel.
type Status string

const (
	StatusSubscribed   Status = "subscribed"
	StatusClosed       Status = "closed"
	StatusChannelError Status = "channel_error"
	StatusTimedOut     Status = "timed_out"
)

// MinChannels is how many channels must report subscribed before the board
// counts as connected: the object-event channel and the cursor channel.
const MinChannels = 2

// DefaultMaxRetries bounds reconnect attempts before the machine settles in
// the offline state.
const DefaultMaxRetries = 5

const (
	baseRetryDelay = time.Second
	maxRetryDelay  = 16 * time.Second
)

// BackoffDelay returns the reconnect delay for a retry count:
// 1000ms * 2^retryCount, capped at 16s.
func BackoffDelay(retryCount int) time.Duration {
	d := baseRetryDelay
	for i := 0; i < retryCount; i++ {
		d *= 2
		if d >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return d
}

// Context is the machine's working memory. Transition copies it before
// mutating; callers never change it directly.
type Context struct {
	RetryCount         int
	MaxRetries         int
	ChannelStatuses    map[string]Status
	HasConnectedBefore bool
	BrowserOnline      bool
}

// NewContext returns the initial context: browser assumed online, no
// channels tracked yet. maxRetries <= 0 selects DefaultMaxRetries.
func NewContext(maxRetries int) Context {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return Context{
		MaxRetries:      maxRetries,
		ChannelStatuses: make(map[string]Status),
		BrowserOnline:   true,
	}
}

// AllSubscribed reports whether at least MinChannels channels are tracked
// and every one of them is subscribed. The status map is the single source
// of truth for health, independent of the current state.
func (c Context) AllSubscribed() bool {
	if len(c.ChannelStatuses) < MinChannels {
		return false
	}
	for _, st := range c.ChannelStatuses {
		if st != StatusSubscribed {
			return false
		}
	}
	return true
}

func (c Context) clone() Context {
	out := c
	out.ChannelStatuses = make(map[string]Status, len(c.ChannelStatuses))
	for ch, st := range c.ChannelStatuses {
		out.ChannelStatuses[ch] = st
	}
	return out
}

// EventKind discriminates machine inputs.
type EventKind string

const (
	EventChannelStatus  EventKind = "channel_status"
	EventBrowserOnline  EventKind = "browser_online"
	EventBrowserOffline EventKind = "browser_offline"
	EventRetryTimer     EventKind = "retry_timer"
)

// Event is one machine input. Channel and Status are set for channel_status
// events only.
type Event struct {
	Kind    EventKind
	Channel string
	Status  Status
}

// ChannelStatusEvent reports the health of one channel.
func ChannelStatusEvent(channel string, status Status) Event {
	return Event{Kind: EventChannelStatus, Channel: channel, Status: status}
}

// BrowserOnlineEvent reports host connectivity returning.
func BrowserOnlineEvent() Event { return Event{Kind: EventBrowserOnline} }

// BrowserOfflineEvent reports host connectivity loss.
func BrowserOfflineEvent() Event { return Event{Kind: EventBrowserOffline} }

// RetryTimerEvent reports the armed backoff timer firing.
func RetryTimerEvent() Event { return Event{Kind: EventRetryTimer} }

// Notification names the user-visible connectivity notices the machine
// requests.
type Notification string

const (
	NotifyDisconnected Notification = "disconnected"
	NotifyReconnected  Notification = "reconnected"
	NotifyOffline      Notification = "offline"
)

// EffectKind discriminates requested side effects.
type EffectKind string

const (
	// EffectNotify surfaces a Notification to the user.
	EffectNotify EffectKind = "notify"
	// EffectReconnect asks the host to bump the reconnect generation and
	// re-run its join/fetch/reconcile cycle.
	EffectReconnect EffectKind = "reconnect"
	// EffectArmRetry (re)arms the backoff timer for Delay.
	EffectArmRetry EffectKind = "arm_retry"
)

// Effect is one side-effect request returned by Transition. The machine
// never performs IO itself.
type Effect struct {
	Kind         EffectKind
	Notification Notification
	Delay        time.Duration
}

func notifyEffect(n Notification) Effect {
	return Effect{Kind: EffectNotify, Notification: n}
}

func armRetryEffect(d time.Duration) Effect {
	return Effect{Kind: EffectArmRetry, Delay: d}
}

// Transition applies one event and returns the new state, a new context (the
// input is never mutated), and the effects the host must execute. Every
// channel_status event updates the status map first, whatever the state.
func Transition(state State, ctx Context, ev Event) (State, Context, []Effect) {
	next := ctx.clone()
	if ev.Kind == EventChannelStatus && ev.Channel != "" {
		next.ChannelStatuses[ev.Channel] = ev.Status
	}

	switch state {
	case StateIdle:
		switch ev.Kind {
		case EventChannelStatus:
			if next.AllSubscribed() {
				next.HasConnectedBefore = true
				return StateConnected, next, nil
			}
		case EventBrowserOnline:
			next.BrowserOnline = true
		case EventBrowserOffline:
			next.BrowserOnline = false
		}
		return StateIdle, next, nil

	case StateConnected:
		switch ev.Kind {
		case EventChannelStatus:
			if channelUnhealthy(ev.Status) {
				return enterReconnecting(next)
			}
		case EventBrowserOffline:
			next.BrowserOnline = false
			return enterReconnecting(next)
		case EventBrowserOnline:
			next.BrowserOnline = true
		}
		return StateConnected, next, nil

	case StateReconnecting:
		switch ev.Kind {
		case EventChannelStatus:
			if next.AllSubscribed() {
				next.RetryCount = 0
				next.HasConnectedBefore = true
				return StateConnected, next, []Effect{notifyEffect(NotifyReconnected)}
			}
		case EventRetryTimer:
			if !next.BrowserOnline || next.RetryCount >= next.MaxRetries {
				return StateOffline, next, []Effect{notifyEffect(NotifyOffline)}
			}
			next.RetryCount++
			// Self-transition: no disconnected re-notification, timer
			// restarts at the next delay.
			return StateReconnecting, next, []Effect{
				{Kind: EffectReconnect},
				armRetryEffect(BackoffDelay(next.RetryCount)),
			}
		case EventBrowserOnline:
			next.BrowserOnline = true
			next.RetryCount = 0
			return StateReconnecting, next, []Effect{armRetryEffect(BackoffDelay(0))}
		case EventBrowserOffline:
			next.BrowserOnline = false
		}
		return StateReconnecting, next, nil

	case StateOffline:
		switch ev.Kind {
		case EventBrowserOnline:
			next.BrowserOnline = true
			next.RetryCount = 0
			return enterReconnecting(next)
		case EventBrowserOffline:
			next.BrowserOnline = false
		case EventChannelStatus:
			// Recorded above. The state graph has no edge from offline
			// straight to connected; recovery goes through reconnecting.
		}
		return StateOffline, next, nil
	}

	return state, next, nil
}

// enterReconnecting is the external entry into the reconnecting state (from
// connected or offline): notify once when a connection had been established
// before, and arm the backoff timer at the current retry count's delay.
func enterReconnecting(ctx Context) (State, Context, []Effect) {
	var effects []Effect
	if ctx.HasConnectedBefore {
		effects = append(effects, notifyEffect(NotifyDisconnected))
	}
	effects = append(effects, armRetryEffect(BackoffDelay(ctx.RetryCount)))
	return StateReconnecting, ctx, effects
}

func channelUnhealthy(st Status) bool {
	return st == StatusClosed || st == StatusChannelError || st == StatusTimedOut
}
