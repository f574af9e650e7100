package payment

import (
	"context"
	"sync"
	"time"

	"github.com/pot-code/lecture-gate/internal/access"
	"github.com/pot-code/lecture-gate/internal/infrastructure/uuid"
)

// Mock gateway that settles every payment after a fixed latency, for local
// development and demos
type Mock struct {
	price   Price
	latency time.Duration
	hashes  uuid.Generator
	now     func() time.Time

	mu       sync.Mutex
	failures []error
}

var _ access.PaymentGateway = &Mock{}

// NewMock .
func NewMock(price Price, latency time.Duration) *Mock {
	return &Mock{
		price:   price,
		latency: latency,
		hashes:  uuid.NewHexGenerator("0x", 64),
		now:     time.Now,
	}
}

// FailNext makes the next attempt fail with err
func (m *Mock) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, err)
}

// AttemptUnlock waits for the simulated confirmation, returns early with
// ctx's error when ctx is done first
func (m *Mock) AttemptUnlock(ctx context.Context, lectureID string) (*access.Receipt, error) {
	if m.latency > 0 {
		timer := time.NewTimer(m.latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	var failure error
	if len(m.failures) > 0 {
		failure = m.failures[0]
		m.failures = m.failures[1:]
	}
	m.mu.Unlock()
	if failure != nil {
		return nil, failure
	}

	tx, err := m.hashes.Generate()
	if err != nil {
		return nil, err
	}
	return &access.Receipt{
		TxHash:    tx,
		LectureID: lectureID,
		Payer:     PayerFrom(ctx),
		Amount:    m.price.Amount,
		Currency:  m.price.Currency,
		PaidAt:    m.now().UTC(),
	}, nil
}
