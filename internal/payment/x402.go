package payment

import (
	"encoding/json"
	"fmt"
)

// USDC contract on Base mainnet.
const (
	x402ChainID      = 8453
	x402TokenAddress = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	x402Network      = "base"
)

// X402PaymentDetails describes an on-chain stablecoin payment option.
type X402PaymentDetails struct {
	PaymentAddress string `json:"payment_address"`
	AmountUSDC     string `json:"amount_usdc"`
	ChainID        uint64 `json:"chain_id"`
	TokenAddress   string `json:"token_address"`
	Network        string `json:"network"`
}

// NewX402PaymentDetails builds payment details for an amount in USD cents.
func NewX402PaymentDetails(amountCents uint64, address string) X402PaymentDetails {
	return X402PaymentDetails{
		PaymentAddress: address,
		AmountUSDC:     fmt.Sprintf("%d.%02d", amountCents/100, amountCents%100),
		ChainID:        x402ChainID,
		TokenAddress:   x402TokenAddress,
		Network:        x402Network,
	}
}

// Headers returns the response headers for an x402 payment-required reply.
func (d X402PaymentDetails) Headers() map[string]string {
	detail, err := json.Marshal(d)
	if err != nil {
		detail = []byte("{}")
	}
	return map[string]string{
		"X-Payment-Required": "true",
		"X-Payment-Protocol": "x402",
		"X-Payment-Details":  string(detail),
	}
}

// VerifyX402Payment checks an on-chain payment transaction. Not implemented:
// always reports unpaid.
func VerifyX402Payment(txHash string) bool {
	log.WithField("tx_hash", txHash).Warn("x402 payment verification is not implemented")
	return false
}
