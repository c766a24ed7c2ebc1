package model

import "errors"

// Abstract error kinds shared across subsystems. Handlers wrap these with
// fmt.Errorf("...: %w", ...) and callers branch with errors.Is.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrTimeout      = errors.New("timeout")
	ErrParse        = errors.New("parse error")
	ErrConfig       = errors.New("config error")
	ErrNetworkIO    = errors.New("network error")
	ErrStorage      = errors.New("database error")
	ErrWalletRPC    = errors.New("wallet rpc error")
	// ErrPaymentUnconfirmed is client-facing as-is; the wording is part of
	// the pay-then-retry contract.
	ErrPaymentUnconfirmed       = errors.New("Payment not confirmed. Invoice may be unpaid or expired.")
	ErrPaymentSystemUnavailable = errors.New("payment system not configured")
	ErrUnsupported              = errors.New("unsupported")
)

// L402 verification outcomes. Distinct sentinels so callers can map each to
// a precise challenge response.
var (
	ErrL402InvalidSecret = errors.New("l402: secret must be at least 32 bytes hex-encoded")
	ErrL402InvalidToken  = errors.New("l402: invalid token")
	ErrL402Expired       = errors.New("l402: token expired")
	ErrL402BadSignature  = errors.New("l402: signature verification failed")
	ErrL402BadPreimage   = errors.New("l402: invalid preimage")
)
