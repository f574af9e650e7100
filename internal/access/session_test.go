package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_InitialView(t *testing.T) {
	s, _ := newTestSession(t, &scriptedGateway{}, "abc123")
	v := s.View()
	assert.Equal(t, LockedIdle, v.State)
	assert.Equal(t, 40, v.RemainingSeconds)
	assert.False(t, v.MediaAttached)
	assert.False(t, v.PaymentPending)
	assert.True(t, v.MediaAvailable)
	assert.False(t, v.SurfaceMounted, "surface is created on first attach request")
	assert.Equal(t, "Watch 40s free preview", v.Overlay)
	assert.Equal(t, "s1", s.ID())
	assert.Equal(t, "lec-1", s.LectureID())
	assert.Equal(t, "0xviewer", s.Viewer())
}

func TestSession_PreviewRunsToEnd(t *testing.T) {
	s, clock := newTestSession(t, &scriptedGateway{}, "abc123")
	events, cancel := s.Subscribe(0)
	defer cancel()

	v, err := s.RequestPreview()
	require.NoError(t, err)
	assert.Equal(t, LockedPlaying, v.State)
	assert.True(t, v.MediaAttached)
	assert.True(t, v.SurfaceMounted)
	requireAttachmentMatchesState(t, v)

	for i := 0; i < 40; i++ {
		clock.Advance(time.Second)
		requireAttachmentMatchesState(t, s.View())
	}

	v = s.View()
	assert.Equal(t, LockedEnded, v.State)
	assert.Equal(t, 0, v.RemainingSeconds)
	assert.False(t, v.MediaAttached)
	assert.True(t, v.SurfaceMounted)
	assert.Equal(t, OverlayPreviewEnded, v.Overlay)

	clock.Advance(time.Minute)
	got := drain(events)
	assert.Equal(t, 1, countKind(got, EventPreviewStarted))
	assert.Equal(t, 1, countKind(got, EventPreviewEnded))
	assert.Equal(t, 39, countKind(got, EventTick))
	assert.Equal(t, EventPreviewEnded, got[len(got)-1].Kind)
	assert.Equal(t, 0, clock.Pending())
}

func TestSession_TicksCountDown(t *testing.T) {
	s, clock := newTestSession(t, &scriptedGateway{}, "abc123")
	_, err := s.RequestPreview()
	require.NoError(t, err)

	clock.Advance(10 * time.Second)
	assert.Equal(t, 30, s.View().RemainingSeconds)
	clock.Advance(500 * time.Millisecond)
	assert.Equal(t, 30, s.View().RemainingSeconds)
}

func TestSession_ReplayResetsCountdown(t *testing.T) {
	s, clock := newTestSession(t, &scriptedGateway{}, "abc123")
	_, err := s.RequestPreview()
	require.NoError(t, err)
	clock.Advance(40 * time.Second)
	require.Equal(t, LockedEnded, s.View().State)

	v, err := s.RequestPreview()
	require.NoError(t, err)
	assert.Equal(t, LockedPlaying, v.State)
	assert.Equal(t, 40, v.RemainingSeconds)
	assert.True(t, v.MediaAttached)

	clock.Advance(40 * time.Second)
	assert.Equal(t, LockedEnded, s.View().State)
}

func TestSession_PreviewWhilePlayingIsRejected(t *testing.T) {
	s, clock := newTestSession(t, &scriptedGateway{}, "abc123")
	_, err := s.RequestPreview()
	require.NoError(t, err)
	clock.Advance(5 * time.Second)

	v, err := s.RequestPreview()
	require.ErrorIs(t, err, ErrIllegalTransition)
	var terr *TransitionError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, ForbiddenAlreadyPlaying, terr.Reason)
	assert.Equal(t, 35, v.RemainingSeconds, "a rejected preview must not restart the countdown")
}

func TestSession_PayMidPreview(t *testing.T) {
	gateway := &scriptedGateway{}
	s, clock := newTestSession(t, gateway, "abc123")
	events, cancel := s.Subscribe(0)
	defer cancel()

	_, err := s.RequestPreview()
	require.NoError(t, err)
	clock.Advance(10 * time.Second)
	surface := s.mount.Surface()

	res := s.RequestUnlock(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, UnlockSucceeded, res.Status)
	assert.True(t, res.Unlocked())
	require.NotNil(t, res.Receipt)
	assert.Equal(t, "lec-1", res.Receipt.LectureID)

	v := s.View()
	assert.Equal(t, Unlocked, v.State)
	assert.True(t, v.MediaAttached)
	assert.False(t, v.PaymentPending)
	assert.Empty(t, v.Overlay)
	assert.Equal(t, 1, surface.Loads(), "media must stay attached through the unlock")
	assert.Equal(t, 0, clock.Pending(), "countdown must be cancelled on unlock")

	drain(events)
	clock.Advance(time.Minute)
	assert.Empty(t, drain(events))
	assert.Equal(t, Unlocked, s.View().State)
	assert.Equal(t, 1, gateway.Calls())
}

func TestSession_UnlockFromEveryLockedState(t *testing.T) {
	setups := map[State]func(s *Session, clock *FakeClock){
		LockedIdle: func(*Session, *FakeClock) {},
		LockedPlaying: func(s *Session, clock *FakeClock) {
			_, _ = s.RequestPreview()
			clock.Advance(3 * time.Second)
		},
		LockedEnded: func(s *Session, clock *FakeClock) {
			_, _ = s.RequestPreview()
			clock.Advance(40 * time.Second)
		},
	}
	for from, setup := range setups {
		t.Run(string(from), func(t *testing.T) {
			s, clock := newTestSession(t, &scriptedGateway{}, "abc123")
			setup(s, clock)
			require.Equal(t, from, s.View().State)

			res := s.RequestUnlock(context.Background())
			assert.Equal(t, UnlockSucceeded, res.Status)
			v := s.View()
			assert.Equal(t, Unlocked, v.State)
			assert.True(t, v.MediaAttached)
			requireAttachmentMatchesState(t, v)

			again := s.RequestUnlock(context.Background())
			assert.Equal(t, UnlockAlready, again.Status)
			assert.True(t, again.Unlocked())

			_, err := s.RequestPreview()
			assert.ErrorIs(t, err, ErrIllegalTransition)
		})
	}
}

func TestSession_UnlockAfterEndReattaches(t *testing.T) {
	s, clock := newTestSession(t, &scriptedGateway{}, "abc123")
	_, err := s.RequestPreview()
	require.NoError(t, err)
	clock.Advance(40 * time.Second)
	surface := s.mount.Surface()
	require.Empty(t, surface.Source())

	res := s.RequestUnlock(context.Background())
	require.Equal(t, UnlockSucceeded, res.Status)
	assert.Same(t, surface, s.mount.Surface())
	assert.NotEmpty(t, surface.Source())
	assert.Equal(t, 2, surface.Loads())
}

func TestSession_FailedPaymentIsRetryable(t *testing.T) {
	gateway := &scriptedGateway{results: []error{errDeclined, nil}}
	s, clock := newTestSession(t, gateway, "abc123")
	_, err := s.RequestPreview()
	require.NoError(t, err)
	clock.Advance(5 * time.Second)

	res := s.RequestUnlock(context.Background())
	assert.Equal(t, UnlockFailed, res.Status)
	assert.ErrorIs(t, res.Err, errDeclined)
	assert.Equal(t, "transaction rejected", res.Reason)
	assert.False(t, res.Unlocked())

	v := s.View()
	assert.Equal(t, LockedPlaying, v.State)
	assert.False(t, v.PaymentPending)
	assert.True(t, v.MediaAttached)
	assert.Equal(t, "transaction rejected", v.LastError)

	clock.Advance(time.Second)
	assert.Equal(t, 34, s.View().RemainingSeconds, "countdown keeps running after a failure")

	res = s.RequestUnlock(context.Background())
	assert.Equal(t, UnlockSucceeded, res.Status)
	assert.Empty(t, s.View().LastError)
	assert.Equal(t, 2, gateway.Calls())
}

func TestSession_FailedPaymentKeepsReplay(t *testing.T) {
	s, clock := newTestSession(t, &scriptedGateway{results: []error{errDeclined}}, "abc123")
	_, err := s.RequestPreview()
	require.NoError(t, err)
	clock.Advance(40 * time.Second)

	res := s.RequestUnlock(context.Background())
	require.Equal(t, UnlockFailed, res.Status)
	assert.Equal(t, LockedEnded, s.View().State)

	v, err := s.RequestPreview()
	require.NoError(t, err)
	assert.Equal(t, LockedPlaying, v.State)
	assert.Empty(t, v.LastError)
}

func TestSession_SecondUnlockWhilePendingIsBusy(t *testing.T) {
	gateway := newBlockingGateway()
	s, _ := newTestSession(t, gateway, "abc123")
	_, err := s.RequestPreview()
	require.NoError(t, err)

	pending := unlockAsync(t, s)

	busy := s.RequestUnlock(context.Background())
	assert.Equal(t, UnlockBusy, busy.Status)
	assert.ErrorIs(t, busy.Err, ErrPaymentBusy)
	assert.True(t, busy.View.PaymentPending)
	assert.Equal(t, 1, gateway.Calls())

	gateway.release <- nil
	res := <-pending
	assert.Equal(t, UnlockSucceeded, res.Status)
	assert.Equal(t, 1, gateway.Calls())
	assert.False(t, s.View().PaymentPending)
}

func TestSession_PaymentSucceedsAfterExpiry(t *testing.T) {
	gateway := newBlockingGateway()
	s, clock := newTestSession(t, gateway, "abc123")
	_, err := s.RequestPreview()
	require.NoError(t, err)
	clock.Advance(30 * time.Second)

	pending := unlockAsync(t, s)
	clock.Advance(10 * time.Second)
	v := s.View()
	require.Equal(t, LockedEnded, v.State)
	assert.False(t, v.MediaAttached)
	assert.True(t, v.PaymentPending)

	gateway.release <- nil
	res := <-pending
	assert.Equal(t, UnlockSucceeded, res.Status)
	v = s.View()
	assert.Equal(t, Unlocked, v.State)
	assert.True(t, v.MediaAttached)
}

func TestSession_LateTimerCallbacksAfterUnlockAreIgnored(t *testing.T) {
	clock := new(stickyClock)
	s := NewSession("s1", "0xviewer", Lecture{ID: "lec-1", MediaRef: "abc123"}, Options{
		Clock:    clock,
		Embedder: testEmbedder,
		Gateway:  &scriptedGateway{},
	})
	defer s.Close()

	_, err := s.RequestPreview()
	require.NoError(t, err)
	require.Equal(t, UnlockSucceeded, s.RequestUnlock(context.Background()).Status)

	for _, fn := range clock.fns {
		fn()
	}
	v := s.View()
	assert.Equal(t, Unlocked, v.State)
	assert.True(t, v.MediaAttached)
	assert.Equal(t, 40, v.RemainingSeconds)
}

func TestSession_GatewayPanicIsContained(t *testing.T) {
	gateway := GatewayFunc(func(ctx context.Context, lectureID string) (*Receipt, error) {
		panic("wallet provider exploded")
	})
	s, _ := newTestSession(t, gateway, "abc123")

	res := s.RequestUnlock(context.Background())
	assert.Equal(t, UnlockFailed, res.Status)
	assert.ErrorIs(t, res.Err, ErrGatewayPanic)
	assert.Equal(t, LockedIdle, s.View().State)
	assert.False(t, s.View().PaymentPending)
}

func TestSession_NoGateway(t *testing.T) {
	s, _ := newTestSession(t, nil, "abc123")
	res := s.RequestUnlock(context.Background())
	assert.Equal(t, UnlockFailed, res.Status)
	assert.ErrorIs(t, res.Err, ErrNoGateway)
}

func TestSession_MediaUnavailable(t *testing.T) {
	gateway := &scriptedGateway{}
	s, clock := newTestSession(t, gateway, "")

	v := s.View()
	assert.False(t, v.MediaAvailable)
	assert.Equal(t, OverlayNoPreview, v.Overlay)

	_, err := s.RequestPreview()
	assert.ErrorIs(t, err, ErrMediaUnavailable)

	res := s.RequestUnlock(context.Background())
	assert.Equal(t, UnlockUnavailable, res.Status)
	assert.Equal(t, 0, gateway.Calls())

	v = s.View()
	assert.Equal(t, LockedIdle, v.State)
	assert.False(t, v.SurfaceMounted)
	assert.Equal(t, 0, clock.Pending())
}

func TestSession_CloseCancelsCountdown(t *testing.T) {
	s, clock := newTestSession(t, &scriptedGateway{}, "abc123")
	events, _ := s.Subscribe(0)

	_, err := s.RequestPreview()
	require.NoError(t, err)
	clock.Advance(5 * time.Second)

	s.Close()
	s.Close()
	assert.True(t, s.Closed())
	assert.Equal(t, 0, clock.Pending())

	before := s.View()
	clock.Advance(time.Minute)
	after := s.View()
	assert.Equal(t, before, after)
	assert.False(t, after.MediaAttached)
	assert.False(t, after.SurfaceMounted)

	got := drain(events)
	require.NotEmpty(t, got)
	assert.Equal(t, EventClosed, got[len(got)-1].Kind)
	_, open := <-events
	assert.False(t, open)

	_, err = s.RequestPreview()
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.Equal(t, UnlockClosed, s.RequestUnlock(context.Background()).Status)
}

func TestSession_CloseDuringPayment(t *testing.T) {
	gateway := newBlockingGateway()
	s, _ := newTestSession(t, gateway, "abc123")
	_, err := s.RequestPreview()
	require.NoError(t, err)

	pending := unlockAsync(t, s)
	s.Close()
	gateway.release <- nil

	res := <-pending
	assert.Equal(t, UnlockClosed, res.Status)
	assert.ErrorIs(t, res.Err, ErrSessionClosed)
	assert.NotEqual(t, Unlocked, s.View().State)
	require.NotNil(t, res.Receipt, "the settled payment stays traceable")
	assert.Equal(t, "0xbeef", res.Receipt.TxHash)
}

func TestSession_CloseDuringFailedPayment(t *testing.T) {
	gateway := newBlockingGateway()
	s, _ := newTestSession(t, gateway, "abc123")

	pending := unlockAsync(t, s)
	s.Close()
	gateway.release <- errDeclined

	res := <-pending
	assert.Equal(t, UnlockClosed, res.Status)
	assert.Nil(t, res.Receipt)
}

func TestSession_CancelledContextFailsPayment(t *testing.T) {
	gateway := newBlockingGateway()
	s, _ := newTestSession(t, gateway, "abc123")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := s.RequestUnlock(ctx)
	assert.Equal(t, UnlockFailed, res.Status)
	assert.ErrorIs(t, res.Err, context.Canceled)
}

func TestSession_Subscribe(t *testing.T) {
	s, _ := newTestSession(t, &scriptedGateway{}, "abc123")

	events, cancel := s.Subscribe(4)
	assert.Equal(t, 1, s.Subscribers())
	cancel()
	cancel()
	assert.Equal(t, 0, s.Subscribers())
	_, open := <-events
	assert.False(t, open)

	// a slow subscriber never blocks the session and keeps the latest change
	slow, cancelSlow := s.Subscribe(1)
	defer cancelSlow()
	_, err := s.RequestPreview()
	require.NoError(t, err)
	require.Equal(t, UnlockSucceeded, s.RequestUnlock(context.Background()).Status)
	got := drain(slow)
	require.Len(t, got, 1)
	assert.Equal(t, EventUnlocked, got[0].Kind)
	assert.Equal(t, Unlocked, got[0].View.State)

	s.Close()
	late, _ := s.Subscribe(1)
	_, open = <-late
	assert.False(t, open)
}

func TestSession_PriceShownUntilUnlocked(t *testing.T) {
	s := NewSession("s1", "0xviewer", Lecture{ID: "lec-1", MediaRef: "abc123"}, Options{
		Clock:      NewFakeClock(epoch),
		Embedder:   testEmbedder,
		Gateway:    &scriptedGateway{},
		PriceLabel: "0.001 ETH",
	})
	defer s.Close()

	assert.Equal(t, "0.001 ETH", s.View().Price)
	res := s.RequestUnlock(context.Background())
	require.Equal(t, UnlockSucceeded, res.Status)
	assert.Empty(t, res.View.Price)
}

func TestSession_FullSubscriberKeepsStateChanges(t *testing.T) {
	s, clock := newTestSession(t, &scriptedGateway{}, "abc123")
	events, cancel := s.Subscribe(1)
	defer cancel()

	_, err := s.RequestPreview()
	require.NoError(t, err)
	clock.Advance(40 * time.Second)

	got := drain(events)
	require.Len(t, got, 1)
	assert.Equal(t, EventPreviewEnded, got[0].Kind)
	assert.Equal(t, LockedEnded, got[0].View.State)
	assert.False(t, got[0].View.MediaAttached)
}
