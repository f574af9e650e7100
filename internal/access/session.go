package access

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultPreviewDuration free preview window
const DefaultPreviewDuration = 40 * time.Second

// Options shared by every session of a registry
type Options struct {
	PreviewDuration time.Duration
	Clock           Clock
	Embedder        Embedder
	Gateway         PaymentGateway
	PriceLabel      string // shown next to the unlock affordance, eg. "0.001 ETH"
	Logger          *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.PreviewDuration <= 0 {
		o.PreviewDuration = DefaultPreviewDuration
	}
	if o.Clock == nil {
		o.Clock = RealClock{}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Lecture the part of a catalog record a session needs
type Lecture struct {
	ID       string
	MediaRef string
}

// Session per-lecture preview/unlock state.
//
// Every command, timer callback and payment resolution is serialized by mu,
// sessions share nothing with each other.
type Session struct {
	mu sync.Mutex

	id        string
	viewer    string
	lectureID string
	opts      Options
	logger    *zap.Logger

	state           State
	remaining       int
	paymentInFlight bool
	unavailable     bool
	closed          bool
	lastError       string
	lastActive      time.Time

	mount *Mount
	timer *PreviewTimer
	subs  []*subscriber
}

// NewSession create a session in locked-idle for lecture
func NewSession(id, viewer string, lecture Lecture, opts Options) *Session {
	opts = opts.withDefaults()
	s := &Session{
		id:        id,
		viewer:    viewer,
		lectureID: lecture.ID,
		opts:      opts,
		state:     LockedIdle,
		remaining: seconds(opts.PreviewDuration),
		mount:     NewMount(lecture.MediaRef, opts.Embedder),
	}
	s.logger = opts.Logger.With(
		zap.String("session.id", id),
		zap.String("lecture.id", lecture.ID),
	)
	s.timer = NewPreviewTimer(opts.Clock, &s.mu, s.handleTick, s.handleExpire)
	s.unavailable = !s.mount.Available()
	s.lastActive = opts.Clock.Now()
	return s
}

// ID session identifier
func (s *Session) ID() string { return s.id }

// LectureID lecture this session gates
func (s *Session) LectureID() string { return s.lectureID }

// Viewer owner of the session
func (s *Session) Viewer() string { return s.viewer }

// View returns the current snapshot
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// Touch marks the session as used by its viewer
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = s.opts.Clock.Now()
	s.mu.Unlock()
}

// RequestPreview starts the free preview, or replays it after it ended
func (s *Session) RequestPreview() (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = s.opts.Clock.Now()

	if s.closed {
		return s.viewLocked(), ErrSessionClosed
	}
	if s.unavailable {
		return s.viewLocked(), ErrMediaUnavailable
	}
	tr, err := TransitionFor(s.state, TriggerPreview)
	if err != nil {
		return s.viewLocked(), err
	}
	if err := s.mount.EnsureSurface(); err != nil {
		s.unavailable = true
		s.logger.Warn("Media surface unavailable", zap.Error(err))
		return s.viewLocked(), err
	}
	s.lastError = ""
	s.apply(tr)
	metrics.Add(metricPreviewsStarted, 1)
	s.logger.Debug("Preview started", zap.String("session.state", string(s.state)), zap.Int("preview.remaining", s.remaining))
	s.publish(EventPreviewStarted, "")
	return s.viewLocked(), nil
}

// RequestUnlock attempts the payment and unlocks the lecture on success.
// Gateway errors and panics are converted into the returned result.
func (s *Session) RequestUnlock(ctx context.Context) UnlockResult {
	s.mu.Lock()
	s.lastActive = s.opts.Clock.Now()
	switch {
	case s.closed:
		defer s.mu.Unlock()
		return s.resultLocked(UnlockClosed, ErrSessionClosed)
	case s.state == Unlocked:
		defer s.mu.Unlock()
		return s.resultLocked(UnlockAlready, nil)
	case s.unavailable:
		defer s.mu.Unlock()
		return s.resultLocked(UnlockUnavailable, ErrMediaUnavailable)
	case s.paymentInFlight:
		defer s.mu.Unlock()
		return s.resultLocked(UnlockBusy, ErrPaymentBusy)
	}
	s.paymentInFlight = true
	s.publish(EventPaymentPending, "")
	s.mu.Unlock()

	receipt, err := s.attempt(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.paymentInFlight = false
	if s.closed {
		s.logger.Info("Payment resolved after session close", zap.Bool("payment.ok", err == nil))
		res := s.resultLocked(UnlockClosed, ErrSessionClosed)
		if err == nil {
			res.Receipt = receipt
		}
		return res
	}
	if err != nil {
		tr, terr := TransitionFor(s.state, TriggerPaymentFailed)
		if terr == nil {
			s.apply(tr)
		}
		s.lastError = err.Error()
		metrics.Add(metricUnlocksFailed, 1)
		s.logger.Info("Unlock payment failed", zap.String("session.state", string(s.state)), zap.Error(err))
		s.publish(EventPaymentFailed, err.Error())
		return s.resultLocked(UnlockFailed, err)
	}

	tr, err := TransitionFor(s.state, TriggerPaymentSucceeded)
	if err != nil {
		// only reachable when a concurrent unlock already committed
		return s.resultLocked(UnlockAlready, nil)
	}
	if err := s.mount.EnsureSurface(); err != nil {
		panic(fmt.Errorf("unlock committed without a media surface: %w", err))
	}
	s.lastError = ""
	s.apply(tr)
	metrics.Add(metricUnlocksSucceeded, 1)
	s.logger.Info("Lecture unlocked", zap.String("session.state", string(s.state)))
	s.publish(EventUnlocked, "")
	res := s.resultLocked(UnlockSucceeded, nil)
	res.Receipt = receipt
	return res
}

// Subscribe returns a channel of session events and a func to stop
// receiving them. The channel is closed when the session closes.
func (s *Session) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := &subscriber{ch: make(chan Event, buffer)}
	if s.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	s.subs = append(s.subs, sub)
	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, item := range s.subs {
				if item == sub {
					s.subs = append(s.subs[:i], s.subs[i+1:]...)
					close(sub.ch)
					return
				}
			}
		})
	}
}

// Subscribers number of attached event streams
func (s *Session) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Close cancels the countdown, releases the surface and ends all event
// streams. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.timer.Stop()
	s.mount.Release()
	s.closed = true
	s.publish(EventClosed, "")
	for _, sub := range s.subs {
		close(sub.ch)
	}
	s.subs = nil
	metrics.Add(metricSessionsClosed, 1)
	s.logger.Debug("Session closed", zap.String("session.state", string(s.state)))
}

// Closed reports whether Close has been called
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) idleSince(now time.Time) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paymentInFlight || len(s.subs) > 0 {
		return 0, false
	}
	return now.Sub(s.lastActive), true
}

func (s *Session) attempt(ctx context.Context) (receipt *Receipt, err error) {
	if s.opts.Gateway == nil {
		return nil, ErrNoGateway
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Payment gateway panicked", zap.Any("panic", r))
			receipt, err = nil, fmt.Errorf("%w: %v", ErrGatewayPanic, r)
		}
	}()
	return s.opts.Gateway.AttemptUnlock(ctx, s.lectureID)
}

// apply runs a transition's side effects, caller holds mu
func (s *Session) apply(tr Transition) {
	if tr.Timer == TimerStop {
		s.timer.Stop()
	}
	s.state = tr.To
	switch tr.Media {
	case MediaAttach:
		s.mount.SetAttached(true)
	case MediaDetach:
		s.mount.SetAttached(false)
	}
	if tr.Timer == TimerStart {
		s.remaining = seconds(s.opts.PreviewDuration)
		s.timer.Start(s.opts.PreviewDuration)
	}
}

// handleTick runs under mu, called by the timer
func (s *Session) handleTick(remaining int) {
	if s.closed || s.state != LockedPlaying {
		return
	}
	s.remaining = remaining
	s.publish(EventTick, "")
}

// handleExpire runs under mu, called by the timer
func (s *Session) handleExpire() {
	if s.closed {
		return
	}
	tr, err := TransitionFor(s.state, TriggerExpire)
	if err != nil {
		s.logger.Debug("Ignored preview expiry", zap.Error(err))
		return
	}
	s.apply(tr)
	s.remaining = 0
	metrics.Add(metricPreviewsExpired, 1)
	s.logger.Debug("Preview ended", zap.String("session.state", string(s.state)))
	s.publish(EventPreviewEnded, "")
}

// publish runs under mu. A full subscriber loses ticks; any other event
// evicts the oldest queued one, every event carrying the whole view.
func (s *Session) publish(kind EventKind, reason string) {
	if len(s.subs) == 0 {
		return
	}
	ev := Event{Kind: kind, View: s.viewLocked(), Reason: reason, At: s.opts.Clock.Now()}
	for _, sub := range s.subs {
		sub.send(ev)
	}
}

func (sub *subscriber) send(ev Event) {
	for {
		select {
		case sub.ch <- ev:
			return
		default:
		}
		if ev.Kind == EventTick {
			sub.dropped++
			return
		}
		select {
		case <-sub.ch:
			sub.dropped++
		default:
		}
	}
}

func (s *Session) resultLocked(status UnlockStatus, err error) UnlockResult {
	res := UnlockResult{Status: status, View: s.viewLocked(), Err: err}
	if err != nil {
		res.Reason = err.Error()
	}
	return res
}

func (s *Session) viewLocked() View {
	v := View{
		SessionID:        s.id,
		LectureID:        s.lectureID,
		State:            s.state,
		RemainingSeconds: s.remaining,
		MediaAttached:    s.mount.Attached(),
		PaymentPending:   s.paymentInFlight,
		MediaAvailable:   !s.unavailable,
		SurfaceMounted:   s.mount.Mounted(),
		Overlay:          overlayFor(s.state, !s.unavailable, seconds(s.opts.PreviewDuration)),
		LastError:        s.lastError,
	}
	if s.state != Unlocked {
		v.Price = s.opts.PriceLabel
	}
	if surface := s.mount.Surface(); surface != nil {
		v.Source = surface.Source()
	}
	return v
}
