package access

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testEmbedder(ref string) (string, error) {
	return "https://player.test/embed/" + ref + "?autoplay=1", nil
}

type counterIDs struct {
	mu  sync.Mutex
	n   int
	err error
}

func (c *counterIDs) Generate() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", c.err
	}
	c.n++
	return fmt.Sprintf("s%d", c.n), nil
}

// scriptedGateway resolves immediately with the queued errors, nil meaning success
type scriptedGateway struct {
	mu      sync.Mutex
	results []error
	calls   int
}

func (g *scriptedGateway) AttemptUnlock(ctx context.Context, lectureID string) (*Receipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	var err error
	if len(g.results) > 0 {
		err = g.results[0]
		g.results = g.results[1:]
	}
	if err != nil {
		return nil, err
	}
	return &Receipt{TxHash: "0xfeed", LectureID: lectureID, Amount: "0.001", Currency: "ETH"}, nil
}

func (g *scriptedGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// blockingGateway holds every attempt until a result is sent on release
type blockingGateway struct {
	calls   int32
	release chan error
}

func newBlockingGateway() *blockingGateway {
	return &blockingGateway{release: make(chan error)}
}

func (g *blockingGateway) AttemptUnlock(ctx context.Context, lectureID string) (*Receipt, error) {
	atomic.AddInt32(&g.calls, 1)
	select {
	case err := <-g.release:
		if err != nil {
			return nil, err
		}
		return &Receipt{TxHash: "0xbeef", LectureID: lectureID}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *blockingGateway) Calls() int {
	return int(atomic.LoadInt32(&g.calls))
}

var errDeclined = errors.New("transaction rejected")

func newTestSession(t *testing.T, gateway PaymentGateway, mediaRef string) (*Session, *FakeClock) {
	t.Helper()
	clock := NewFakeClock(epoch)
	s := NewSession("s1", "0xviewer", Lecture{ID: "lec-1", MediaRef: mediaRef}, Options{
		PreviewDuration: 40 * time.Second,
		Clock:           clock,
		Embedder:        testEmbedder,
		Gateway:         gateway,
	})
	t.Cleanup(s.Close)
	return s, clock
}

// unlockAsync runs RequestUnlock in the background and waits until the
// payment is visibly pending
func unlockAsync(t *testing.T, s *Session) <-chan UnlockResult {
	t.Helper()
	out := make(chan UnlockResult, 1)
	go func() { out <- s.RequestUnlock(context.Background()) }()
	require.Eventually(t, func() bool { return s.View().PaymentPending }, time.Second, time.Millisecond)
	return out
}

func drain(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func countKind(events []Event, kind EventKind) int {
	n := 0
	for _, ev := range events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func requireAttachmentMatchesState(t *testing.T, v View) {
	t.Helper()
	require.Equal(t, v.State.MediaAttached(), v.MediaAttached, "media attachment out of sync with %s", v.State)
}
