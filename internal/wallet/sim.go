package wallet

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/streampay/backend/internal/faults"
)

// Sim is an in-memory funds-movement provider used for local development
// and tests. Transfers confirm immediately and are idempotent per reference.
type Sim struct {
	mu        sync.Mutex
	balances  map[string]decimal.Decimal
	transfers map[string]*TransferStatus
	byRef     map[string]string // reference -> transfer id
}

var _ Client = (*Sim)(nil)

// NewSim returns a simulator with no wallets funded.
func NewSim() *Sim {
	return &Sim{
		balances:  make(map[string]decimal.Decimal),
		transfers: make(map[string]*TransferStatus),
		byRef:     make(map[string]string),
	}
}

// Fund credits a wallet out of thin air (test/dev setup only).
func (s *Sim) Fund(walletRef string, amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[walletRef] = s.balances[walletRef].Add(amount)
}

func (s *Sim) Transfer(_ context.Context, fromWallet, toWallet string, amount decimal.Decimal, reference string) (*TransferResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if reference != "" {
		if id, ok := s.byRef[reference]; ok {
			return &TransferResult{TransferID: id}, nil
		}
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: transfer amount must be positive", faults.ErrInvalidParameters)
	}
	if s.balances[fromWallet].LessThan(amount) {
		return nil, fmt.Errorf("%w: insufficient balance in %s", faults.ErrConflict, fromWallet)
	}

	s.balances[fromWallet] = s.balances[fromWallet].Sub(amount)
	s.balances[toWallet] = s.balances[toWallet].Add(amount)

	id := uuid.NewString()
	s.transfers[id] = &TransferStatus{
		TransferID:    id,
		Status:        TransferConfirmed,
		SettlementRef: "sim-" + id[:8],
	}
	if reference != "" {
		s.byRef[reference] = id
	}
	return &TransferResult{TransferID: id}, nil
}

func (s *Sim) GetTransferStatus(_ context.Context, transferID string) (*TransferStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.transfers[transferID]
	if !ok {
		return nil, fmt.Errorf("%w: transfer %s", faults.ErrNotFound, transferID)
	}
	cp := *st
	return &cp, nil
}

func (s *Sim) GetBalance(_ context.Context, walletRef string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[walletRef], nil
}
