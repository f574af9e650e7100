package payment

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrWalletRequired the viewer has not connected a wallet
	ErrWalletRequired = errors.New("wallet not connected")
	// ErrDeclined the payment was rejected
	ErrDeclined = errors.New("payment declined")
	// ErrReceiptNotFound no stored receipt for that transaction
	ErrReceiptNotFound = errors.New("receipt not found")
)

// Price what an unlock costs
type Price struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// Label eg. "0.001 ETH"
func (p Price) Label() string {
	return fmt.Sprintf("%s %s", p.Amount, p.Currency)
}

type payerKey struct{}

// WithPayer returns a context carrying the wallet paying for an unlock
func WithPayer(ctx context.Context, wallet string) context.Context {
	return context.WithValue(ctx, payerKey{}, wallet)
}

// PayerFrom wallet set by WithPayer, empty when none
func PayerFrom(ctx context.Context) string {
	wallet, _ := ctx.Value(payerKey{}).(string)
	return wallet
}

// ShortHash abbreviates a transaction hash for display, eg. 0x12345678...abcdef
func ShortHash(tx string) string {
	if len(tx) <= 16 {
		return tx
	}
	return tx[:10] + "..." + tx[len(tx)-6:]
}
