package payment

import (
	"context"

	"github.com/pot-code/lecture-gate/internal/access"
)

// RequireWallet rejects attempts whose context carries no payer before they
// reach next
func RequireWallet(next access.PaymentGateway) access.PaymentGateway {
	return access.GatewayFunc(func(ctx context.Context, lectureID string) (*access.Receipt, error) {
		if PayerFrom(ctx) == "" {
			return nil, ErrWalletRequired
		}
		return next.AttemptUnlock(ctx, lectureID)
	})
}
