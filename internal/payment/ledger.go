package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pot-code/lecture-gate/internal/access"
	"github.com/pot-code/lecture-gate/internal/infrastructure/driver"
	"go.uber.org/zap"
)

// DefaultReceiptTTL how long receipts are kept when no TTL is configured
const DefaultReceiptTTL = 30 * 24 * time.Hour

// Ledger records the receipt of every settled payment of the wrapped gateway
type Ledger struct {
	next   access.PaymentGateway
	kv     driver.KeyValueDB
	ttl    time.Duration
	logger *zap.Logger
}

var _ access.PaymentGateway = &Ledger{}

// NewLedger .
func NewLedger(next access.PaymentGateway, kv driver.KeyValueDB, ttl time.Duration, logger *zap.Logger) *Ledger {
	if ttl <= 0 {
		ttl = DefaultReceiptTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{next: next, kv: kv, ttl: ttl, logger: logger}
}

// AttemptUnlock settles through the wrapped gateway and stores the receipt.
// A settled payment is never reported as failed, storage errors are only
// logged.
func (l *Ledger) AttemptUnlock(ctx context.Context, lectureID string) (*access.Receipt, error) {
	receipt, err := l.next.AttemptUnlock(ctx, lectureID)
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		return nil, fmt.Errorf("payment failed: gateway returned no receipt")
	}
	if receipt.Payer == "" {
		receipt.Payer = PayerFrom(ctx)
	}
	if receipt.PaidAt.IsZero() {
		receipt.PaidAt = time.Now().UTC()
	}

	raw, err := json.Marshal(receipt)
	if err == nil {
		// the request context may already be cancelled by now
		storeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = l.kv.SetEX(storeCtx, receiptKey(receipt.TxHash), string(raw), l.ttl)
		cancel()
	}
	if err != nil {
		l.logger.Error("failed to store receipt",
			zap.String("tx.hash", receipt.TxHash),
			zap.String("lecture.id", lectureID),
			zap.Error(err),
		)
	}
	return receipt, nil
}

// Lookup returns a stored receipt
func (l *Ledger) Lookup(ctx context.Context, tx string) (*access.Receipt, error) {
	raw, err := l.kv.Get(ctx, receiptKey(tx))
	if errors.Is(err, driver.ErrKeyNotFound) {
		return nil, ErrReceiptNotFound
	}
	if err != nil {
		return nil, err
	}
	receipt := new(access.Receipt)
	if err := json.Unmarshal([]byte(raw), receipt); err != nil {
		return nil, fmt.Errorf("corrupt receipt %s: %w", tx, err)
	}
	return receipt, nil
}

func receiptKey(tx string) string {
	return "receipt:" + tx
}
