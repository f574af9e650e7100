package access

import (
	"sync"
	"time"
)

// TickInterval countdown granularity
const TickInterval = time.Second

// PreviewTimer counts a preview down to zero and signals expiry once per run.
//
// Start and Stop must be called with lock held; callbacks acquire lock
// themselves, so every tick and expiry is serialized with the owner's
// other events. A callback belonging to a stopped or superseded run is
// dropped.
type PreviewTimer struct {
	clock    Clock
	interval time.Duration
	lock     sync.Locker
	onTick   func(remaining int)
	onExpire func()

	run       uint64
	running   bool
	remaining int
	tick      Timer
	deadline  Timer
}

// NewPreviewTimer create a timer whose callbacks are serialized by lock
func NewPreviewTimer(clock Clock, lock sync.Locker, onTick func(remaining int), onExpire func()) *PreviewTimer {
	if clock == nil {
		clock = RealClock{}
	}
	return &PreviewTimer{
		clock:    clock,
		interval: TickInterval,
		lock:     lock,
		onTick:   onTick,
		onExpire: onExpire,
	}
}

// Start resets the countdown to duration and schedules ticks and the
// expiry deadline, superseding any previous run
func (t *PreviewTimer) Start(duration time.Duration) {
	t.Stop()
	t.run++
	run := t.run
	t.running = true
	t.remaining = seconds(duration)
	t.deadline = t.clock.AfterFunc(duration, func() { t.expire(run) })
	t.scheduleTick(run)
}

// Stop cancels both schedules. Safe to call repeatedly or before Start.
func (t *PreviewTimer) Stop() {
	if t.tick != nil {
		t.tick.Stop()
		t.tick = nil
	}
	if t.deadline != nil {
		t.deadline.Stop()
		t.deadline = nil
	}
	t.running = false
}

// Running reports whether a countdown is active
func (t *PreviewTimer) Running() bool {
	return t.running
}

// Remaining seconds left in the current run
func (t *PreviewTimer) Remaining() int {
	return t.remaining
}

func (t *PreviewTimer) scheduleTick(run uint64) {
	t.tick = t.clock.AfterFunc(t.interval, func() { t.step(run) })
}

func (t *PreviewTimer) current(run uint64) bool {
	return t.running && run == t.run
}

func (t *PreviewTimer) step(run uint64) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if !t.current(run) {
		return
	}
	if t.remaining > 0 {
		t.remaining--
	}
	if t.remaining > 0 {
		t.scheduleTick(run)
	} else {
		t.tick = nil
	}
	if t.onTick != nil {
		t.onTick(t.remaining)
	}
}

func (t *PreviewTimer) expire(run uint64) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if !t.current(run) {
		return
	}
	t.deadline = nil
	t.Stop()
	t.remaining = 0
	if t.onExpire != nil {
		t.onExpire()
	}
}

func seconds(d time.Duration) int {
	s := int(d / time.Second)
	if d%time.Second != 0 {
		s++
	}
	if s < 0 {
		return 0
	}
	return s
}
