package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"marketgo/internal/bus"
	"marketgo/internal/events"
)

const defaultDebounceDelay = 300 * time.Millisecond

// Debouncer turns raw connection status transitions into the coarse
// Connected/Connecting flags render surfaces consume. A transition only
// becomes visible after it survived the debounce window, so a transport
// that drops and recovers within the window never flickers a badge.
type Debouncer struct {
	logger *slog.Logger
	bus    bus.MessageBus
	delay  time.Duration

	mu         sync.Mutex
	timer      *time.Timer
	current    events.UIConnState
	pending    events.UIConnState
	hasPending bool
}

func NewDebouncer(logger *slog.Logger, b bus.MessageBus, delay time.Duration) *Debouncer {
	if delay <= 0 {
		delay = defaultDebounceDelay
	}

	return &Debouncer{logger: logger, bus: b, delay: delay}
}

func (d *Debouncer) Start(ctx context.Context) {
	sub := d.bus.Subscribe(events.TopicConnStatus)

	go func() {
		defer d.bus.Unsubscribe(sub, events.TopicConnStatus)
		for {
			select {
			case <-ctx.Done():
				d.stopTimer()

				return
			case msg, ok := <-sub:
				if !ok {
					return
				}
				status, ok := msg.(events.ConnectionStatus)
				if !ok {
					continue
				}
				d.observe(status)
			}
		}
	}()
}

func (d *Debouncer) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.current.Connected
}

func (d *Debouncer) IsConnecting() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.current.Connecting
}

func (d *Debouncer) Snapshot() events.UIConnState {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.current
}

func (d *Debouncer) observe(status events.ConnectionStatus) {
	target := events.UIConnState{
		Connected:  status.State == events.StateOpen,
		Connecting: status.State == events.StateConnecting,
		Err:        status.Err,
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if target.Connected == d.current.Connected && target.Connecting == d.current.Connecting {
		// Settled back before the window elapsed: drop the pending flip.
		d.current.Err = target.Err
		if d.timer != nil {
			d.timer.Stop()
			d.timer = nil
		}
		d.hasPending = false

		return
	}

	d.pending = target
	d.hasPending = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.commit)
}

func (d *Debouncer) commit() {
	d.mu.Lock()
	if !d.hasPending {
		d.mu.Unlock()

		return
	}
	d.current = d.pending
	d.hasPending = false
	d.timer = nil
	state := d.current
	d.mu.Unlock()

	d.bus.Publish(events.TopicUIConnState, state)
	d.logger.Debug("ui connection state", "connected", state.Connected, "connecting", state.Connecting)
}

func (d *Debouncer) stopTimer() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.hasPending = false
}
