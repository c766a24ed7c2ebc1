package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"nostrintel/internal/model"
)

var log = logrus.WithField("module", "payment")

// MakeInvoiceRequest asks the wallet for a fresh invoice. Amount is in
// millisatoshi per NIP-47.
type MakeInvoiceRequest struct {
	AmountMsats uint64 `json:"amount"`
	Description string `json:"description,omitempty"`
	Expiry      uint64 `json:"expiry,omitempty"`
}

type MakeInvoiceResponse struct {
	Invoice     string `json:"invoice"`
	PaymentHash string `json:"payment_hash"`
	ExpiresAt   int64  `json:"expires_at,omitempty"`
}

type LookupInvoiceRequest struct {
	PaymentHash string `json:"payment_hash"`
}

type LookupInvoiceResponse struct {
	Invoice     string `json:"invoice,omitempty"`
	PaymentHash string `json:"payment_hash"`
	SettledAt   int64  `json:"settled_at,omitempty"`
}

// WalletClient is the two-operation wallet RPC surface the gateway needs.
// The production implementation speaks NWC; tests use a local double.
type WalletClient interface {
	MakeInvoice(ctx context.Context, req MakeInvoiceRequest) (MakeInvoiceResponse, error)
	LookupInvoice(ctx context.Context, req LookupInvoiceRequest) (LookupInvoiceResponse, error)
}

type pendingInvoice struct {
	toolName   string
	amountSats uint64
	expiresAt  int64
}

// InvoiceGateway issues invoices through the wallet and checks settlement.
// Pending invoices live in memory from issue until the first settled lookup.
type InvoiceGateway struct {
	wallet WalletClient

	mu      sync.RWMutex
	pending map[string]pendingInvoice
}

func NewInvoiceGateway(wallet WalletClient) *InvoiceGateway {
	return &InvoiceGateway{
		wallet:  wallet,
		pending: make(map[string]pendingInvoice),
	}
}

// CreateInvoice asks the wallet for an invoice of amountSats and records it
// as pending. Fails when the wallet omits the payment hash.
func (g *InvoiceGateway) CreateInvoice(ctx context.Context, toolName string, amountSats uint64, description string, expirySecs uint64) (*model.Invoice, error) {
	resp, err := g.wallet.MakeInvoice(ctx, MakeInvoiceRequest{
		AmountMsats: amountSats * 1000,
		Description: description,
		Expiry:      expirySecs,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: make_invoice failed: %v", model.ErrWalletRPC, err)
	}
	if resp.PaymentHash == "" {
		return nil, fmt.Errorf("%w: no payment_hash in make_invoice response", model.ErrWalletRPC)
	}

	g.mu.Lock()
	g.pending[resp.PaymentHash] = pendingInvoice{
		toolName:   toolName,
		amountSats: amountSats,
		expiresAt:  resp.ExpiresAt,
	}
	g.mu.Unlock()

	log.WithFields(logrus.Fields{
		"tool":         toolName,
		"amount_sats":  amountSats,
		"payment_hash": resp.PaymentHash,
	}).Debug("invoice issued")

	return &model.Invoice{
		Bolt11:      resp.Invoice,
		PaymentHash: resp.PaymentHash,
		AmountSats:  amountSats,
		ExpiresAt:   resp.ExpiresAt,
	}, nil
}

// VerifyPayment reports whether the wallet has settled the invoice. Safe to
// poll; the pending entry is dropped on the first settled observation.
func (g *InvoiceGateway) VerifyPayment(ctx context.Context, paymentHash string) (bool, error) {
	resp, err := g.wallet.LookupInvoice(ctx, LookupInvoiceRequest{PaymentHash: paymentHash})
	if err != nil {
		return false, fmt.Errorf("%w: lookup_invoice failed: %v", model.ErrWalletRPC, err)
	}

	settled := resp.SettledAt > 0
	if settled {
		g.mu.Lock()
		delete(g.pending, paymentHash)
		g.mu.Unlock()
	}
	return settled, nil
}

// PendingCount reports the number of unsettled invoices currently tracked.
func (g *InvoiceGateway) PendingCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.pending)
}
