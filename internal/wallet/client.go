// Package wallet wraps the external funds-movement provider. The engine
// never holds balances itself; every credit movement is a transfer between
// provider wallets, confirmed by polling the transfer status.
package wallet

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/streampay/backend/internal/faults"
)

// Transfer status values reported by the provider.
const (
	TransferPending   = "pending"
	TransferConfirmed = "confirmed"
	TransferFailed    = "failed"
)

// TransferResult identifies a submitted transfer.
type TransferResult struct {
	TransferID string `json:"transfer_id"`
}

// TransferStatus is the provider's view of a transfer in flight.
type TransferStatus struct {
	TransferID    string `json:"transfer_id"`
	Status        string `json:"status"`
	SettlementRef string `json:"settlement_ref,omitempty"`
}

// Client is the funds-movement service consumed by the engine. Transfer is
// idempotent per caller-supplied reference where the provider supports it.
type Client interface {
	Transfer(ctx context.Context, fromWallet, toWallet string, amount decimal.Decimal, reference string) (*TransferResult, error)
	GetTransferStatus(ctx context.Context, transferID string) (*TransferStatus, error)
	GetBalance(ctx context.Context, walletRef string) (decimal.Decimal, error)
}

const defaultPollInterval = 200 * time.Millisecond

// AwaitConfirmation submits a transfer and polls until the provider reports
// confirmed or failed, or the context expires. A failed transfer and a poll
// timeout both surface as faults.ErrTransient so the caller's retry policy
// applies uniformly.
func AwaitConfirmation(ctx context.Context, c Client, fromWallet, toWallet string, amount decimal.Decimal, reference string) (*TransferStatus, error) {
	res, err := c.Transfer(ctx, fromWallet, toWallet, amount, reference)
	if err != nil {
		return nil, err
	}
	ticker := time.NewTicker(defaultPollInterval)
	defer ticker.Stop()
	for {
		st, err := c.GetTransferStatus(ctx, res.TransferID)
		if err != nil {
			return nil, err
		}
		switch st.Status {
		case TransferConfirmed:
			return st, nil
		case TransferFailed:
			return st, faults.ErrTransient
		}
		select {
		case <-ctx.Done():
			return nil, faults.ErrTransient
		case <-ticker.C:
		}
	}
}
