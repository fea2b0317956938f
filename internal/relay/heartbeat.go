package relay

import (
	"sync"
	"time"
)

// HeartbeatMonitor is the per-session liveness state machine. It starts
// idle-armed: idleWait of silence sends a ping and arms the readWait
// timer; any inbound frame re-arms the idle timer; readWait expiring with
// no inbound frame times the connection out. At most one timer is armed
// at any instant, and a generation counter makes cancellation atomic with
// respect to inbound processing: a timer that fires after Activity or
// Stop advanced the generation is a no-op.
type HeartbeatMonitor struct {
	idleWait time.Duration
	readWait time.Duration

	onPing    func()
	onTimeout func()

	mu       sync.Mutex
	gen      uint64
	timer    *time.Timer
	awaiting bool
	stopped  bool
}

// NewHeartbeatMonitor creates a monitor. onPing is invoked when the idle
// timer expires, onTimeout when the await timer does; onTimeout fires at
// most once and the monitor stops itself.
func NewHeartbeatMonitor(idleWait, readWait time.Duration, onPing, onTimeout func()) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		idleWait:  idleWait,
		readWait:  readWait,
		onPing:    onPing,
		onTimeout: onTimeout,
	}
}

// Start arms the idle timer. Call once, at connection open.
func (m *HeartbeatMonitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.armLocked(m.idleWait)
}

// Activity records an inbound frame of any type: the outstanding timer is
// cancelled and the idle timer re-armed.
func (m *HeartbeatMonitor) Activity() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.awaiting = false
	m.armLocked(m.idleWait)
}

// Stop cancels whichever timer is armed. Call at connection close.
func (m *HeartbeatMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
	}
}

func (m *HeartbeatMonitor) armLocked(d time.Duration) {
	m.gen++
	gen := m.gen
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(d, func() { m.fire(gen) })
}

func (m *HeartbeatMonitor) fire(gen uint64) {
	m.mu.Lock()
	if m.stopped || gen != m.gen {
		m.mu.Unlock()
		return
	}
	if !m.awaiting {
		m.awaiting = true
		m.armLocked(m.readWait)
		m.mu.Unlock()
		m.onPing()
		return
	}
	m.stopped = true
	m.mu.Unlock()
	m.onTimeout()
}
