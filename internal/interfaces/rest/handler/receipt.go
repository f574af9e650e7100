package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pot-code/lecture-gate/internal/access"
	"github.com/pot-code/lecture-gate/internal/payment"
)

// ReceiptLookup reads stored payment receipts
type ReceiptLookup interface {
	Lookup(ctx context.Context, tx string) (*access.Receipt, error)
}

// ReceiptHandler .
type ReceiptHandler struct {
	receipts ReceiptLookup
}

// NewReceiptHandler .
func NewReceiptHandler(Receipts ReceiptLookup) *ReceiptHandler {
	return &ReceiptHandler{Receipts}
}

// HandleGetReceipt GET /receipts/:tx
func (rh *ReceiptHandler) HandleGetReceipt(c echo.Context) error {
	receipt, err := rh.receipts.Lookup(c.Request().Context(), c.Param("tx"))
	if errors.Is(err, payment.ErrReceiptNotFound) {
		return replyError(c, http.StatusNotFound, err.Error())
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, receipt)
}
