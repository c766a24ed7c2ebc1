// Package paywall implements the gate in front of every paid tool: verify a
// supplied payment hash, otherwise spend free-tier quota, otherwise defer
// with an invoice or an exhaustion notice.
package paywall

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"nostrintel/internal/metrics"
	"nostrintel/internal/model"
)

var log = logrus.WithField("module", "paywall")

// RateStore is the slice of the cache store the gate needs.
type RateStore interface {
	CheckAndIncrementRate(ctx context.Context, sessionID string, dayOrdinal int, limit uint32) (bool, error)
	GetRateCount(ctx context.Context, sessionID string, dayOrdinal int) (uint32, error)
}

// InvoiceIssuer is the slice of the invoice gateway the gate needs. A nil
// issuer means payments are not configured.
type InvoiceIssuer interface {
	CreateInvoice(ctx context.Context, toolName string, amountSats uint64, description string, expirySecs uint64) (*model.Invoice, error)
	VerifyPayment(ctx context.Context, paymentHash string) (bool, error)
}

// Gate decides, per paid call, whether the handler runs now or the caller
// gets a payment payload instead.
type Gate struct {
	store         RateStore
	gateway       InvoiceIssuer
	callsPerDay   uint32
	invoiceExpiry uint64
	nowFunc       func() time.Time
}

func NewGate(store RateStore, gateway InvoiceIssuer, callsPerDay uint32, invoiceExpirySecs uint64) *Gate {
	return &Gate{
		store:         store,
		gateway:       gateway,
		callsPerDay:   callsPerDay,
		invoiceExpiry: invoiceExpirySecs,
		nowFunc:       time.Now,
	}
}

// Outcome is the gate's verdict. Proceed=true means run the handler. When
// Proceed=false, Payload holds a PaymentRequiredResponse or a
// FreeTierExhaustedResponse to return as a successful tool result.
type Outcome struct {
	Proceed bool
	Payload interface{}
}

// Check runs the decision chain. paymentHash may be empty.
func (g *Gate) Check(ctx context.Context, toolName string, amountSats uint64, paymentHash, sessionID string) (Outcome, error) {
	if paymentHash != "" {
		return g.checkPayment(ctx, paymentHash)
	}

	day := g.nowFunc().UTC().YearDay()
	underLimit, err := g.store.CheckAndIncrementRate(ctx, sessionID, day, g.callsPerDay)
	if err != nil {
		// Availability bias: a broken counter must not take paid tools down.
		log.WithError(err).WithField("session", sessionID).Warn("rate counter unavailable, serving call")
		return Outcome{Proceed: true}, nil
	}
	if underLimit {
		return Outcome{Proceed: true}, nil
	}

	if g.gateway == nil {
		used, err := g.store.GetRateCount(ctx, sessionID, day)
		if err != nil {
			used = g.callsPerDay
		}
		return Outcome{Payload: model.FreeTierExhaustedResponse{
			FreeTierExhausted: true,
			CallsUsed:         used,
			CallsLimit:        g.callsPerDay,
			Message: fmt.Sprintf(
				"Free tier exhausted (%d/%d calls today). This server has no payment system configured; try again tomorrow.",
				used, g.callsPerDay),
			PaymentAvailable: false,
		}}, nil
	}

	inv, err := g.gateway.CreateInvoice(ctx, toolName, amountSats, "nostr-intel: "+toolName, g.invoiceExpiry)
	if err != nil {
		return Outcome{}, err
	}
	log.WithFields(logrus.Fields{
		"tool":        toolName,
		"amount_sats": amountSats,
		"session":     sessionID,
	}).Info("free tier exhausted, invoice issued")

	return Outcome{Payload: model.PaymentRequiredResponse{
		PaymentRequired: true,
		ToolName:        toolName,
		AmountSats:      amountSats,
		Invoice:         inv.Bolt11,
		PaymentHash:     inv.PaymentHash,
		Message: fmt.Sprintf(
			"Free tier exhausted. Payment required: %d sats. Pay the invoice, then retry with the payment_hash parameter.",
			amountSats),
	}}, nil
}

func (g *Gate) checkPayment(ctx context.Context, paymentHash string) (Outcome, error) {
	if g.gateway == nil {
		return Outcome{}, fmt.Errorf("%w: payment system not configured", model.ErrPaymentSystemUnavailable)
	}
	settled, err := g.gateway.VerifyPayment(ctx, paymentHash)
	if err != nil {
		return Outcome{}, err
	}
	if !settled {
		return Outcome{}, model.ErrPaymentUnconfirmed
	}
	metrics.PaymentsVerified.Inc()
	return Outcome{Proceed: true}, nil
}
