package collaborator

import (
	"context"
	"errors"
	"net/http"
	"time"

	"custody-engine/internal/core/domain"
	"custody-engine/pkg/apperror"
)

// SettlementClient implements ports.SettlementTransfer against the settlement layer.
type SettlementClient struct {
	api jsonClient
}

// NewSettlementClient creates a client for the settlement layer at baseURL. doer may be nil.
func NewSettlementClient(baseURL string, doer HTTPDoer, timeout time.Duration) *SettlementClient {
	return &SettlementClient{api: newJSONClient(baseURL, doer, timeout)}
}

type transferRequest struct {
	Amount uint64           `json:"amount"`
	From   domain.AccountID `json:"from"`
	To     domain.AccountID `json:"to"`
}

type transferResponse struct {
	TransferID string `json:"transfer_id"`
}

// Transfer moves amount from one account to another and returns the layer's transfer id.
// HTTP 402 means the source account cannot cover the amount.
func (c *SettlementClient) Transfer(ctx context.Context, amount uint64, from, to domain.AccountID) (string, error) {
	var out transferResponse
	status, err := c.api.do(ctx, http.MethodPost, "/v1/transfers", transferRequest{
		Amount: amount,
		From:   from,
		To:     to,
	}, &out)
	if status == http.StatusPaymentRequired {
		return "", apperror.Wrap(
			apperror.CodeInsufficientSettlementFunds,
			"Insufficient settlement-layer funds",
			http.StatusPaymentRequired,
			err,
		)
	}
	if err != nil {
		return "", err
	}
	if out.TransferID == "" {
		return "", errors.New("settlement layer returned no transfer id")
	}
	return out.TransferID, nil
}
