package mcp

import (
	"encoding/json"
	"net/http"
	"strings"
)

type l402ChallengeBody struct {
	Tool        string `json:"tool"`
	AmountSats  uint64 `json:"amount_sats"`
	Invoice     string `json:"invoice"`
	PaymentHash string `json:"payment_hash"`
}

// handleL402Challenge serves GET /l402/challenge/{tool}: a fresh invoice for
// the tool's base price wrapped in an L402 challenge.
func (s *Server) handleL402Challenge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	toolName := strings.TrimPrefix(r.URL.Path, "/l402/challenge/")
	if toolName == "" || strings.Contains(toolName, "/") {
		http.NotFound(w, r)
		return
	}

	// Challenges only exist for paid tools.
	tool, ok := s.catalog.tools[toolName]
	if !ok || !tool.paid {
		http.NotFound(w, r)
		return
	}

	if s.deps.Gateway == nil || s.deps.L402 == nil {
		http.Error(w, "payment system not configured", http.StatusServiceUnavailable)
		return
	}

	amount := s.catalog.toolPrice(toolName, nil)
	inv, err := s.deps.Gateway.CreateInvoice(r.Context(), toolName, amount, "nostr-intel: "+toolName, s.deps.Config.Payment.InvoiceExpirySeconds)
	if err != nil {
		log.WithError(err).Error("challenge invoice creation failed")
		http.Error(w, "invoice creation failed", http.StatusBadGateway)
		return
	}

	var expires uint64
	if inv.ExpiresAt > 0 {
		expires = uint64(inv.ExpiresAt)
	}

	w.Header().Set("WWW-Authenticate", s.deps.L402.CreateChallenge(inv.Bolt11, inv.PaymentHash, toolName, expires))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	_ = json.NewEncoder(w).Encode(l402ChallengeBody{
		Tool:        toolName,
		AmountSats:  amount,
		Invoice:     inv.Bolt11,
		PaymentHash: inv.PaymentHash,
	})
}
