package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pot-code/lecture-gate/internal/access"
	"go.elastic.co/apm/module/apmhttp"
)

// Processor gateway backed by an external payment processor
type Processor struct {
	endpoint string
	price    Price
	client   *http.Client
	now      func() time.Time
}

var _ access.PaymentGateway = &Processor{}

type chargeRequest struct {
	LectureID string `json:"lecture_id"`
	Payer     string `json:"payer"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
}

type chargeResponse struct {
	TxHash string `json:"tx_hash"`
	Error  string `json:"error"`
}

// NewProcessor .
func NewProcessor(endpoint string, price Price, timeout time.Duration) *Processor {
	return &Processor{
		endpoint: strings.TrimRight(endpoint, "/"),
		price:    price,
		client:   apmhttp.WrapClient(&http.Client{Timeout: timeout}),
		now:      time.Now,
	}
}

// AttemptUnlock POST {endpoint}/charges, any 2xx carrying a tx_hash settles the payment
func (p *Processor) AttemptUnlock(ctx context.Context, lectureID string) (*access.Receipt, error) {
	payer := PayerFrom(ctx)
	body, err := json.Marshal(&chargeRequest{
		LectureID: lectureID,
		Payer:     payer,
		Amount:    p.price.Amount,
		Currency:  p.price.Currency,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/charges", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	res, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payment failed: %w", err)
	}
	defer res.Body.Close()

	var charge chargeResponse
	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("payment failed: %w", err)
	}
	decodeErr := json.Unmarshal(raw, &charge)

	if res.StatusCode < 200 || res.StatusCode > 299 {
		if decodeErr == nil && charge.Error != "" {
			return nil, fmt.Errorf("%w: %s", ErrDeclined, charge.Error)
		}
		return nil, fmt.Errorf("%w: %s", ErrDeclined, http.StatusText(res.StatusCode))
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("payment failed: malformed response: %w", decodeErr)
	}
	if charge.TxHash == "" {
		return nil, fmt.Errorf("payment failed: processor returned no transaction")
	}
	return &access.Receipt{
		TxHash:    charge.TxHash,
		LectureID: lectureID,
		Payer:     payer,
		Amount:    p.price.Amount,
		Currency:  p.price.Currency,
		PaidAt:    p.now().UTC(),
	}, nil
}
