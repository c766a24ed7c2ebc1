package model

// CachedProfile is a kind-0 profile document as stored in the cache.
// Pubkey is lowercase hex (64 chars) and is the primary key.
type CachedProfile struct {
	Pubkey      string `json:"pubkey"`
	Name        string `json:"name,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	About       string `json:"about,omitempty"`
	Picture     string `json:"picture,omitempty"`
	Banner      string `json:"banner,omitempty"`
	NIP05       string `json:"nip05,omitempty"`
	Lud16       string `json:"lud16,omitempty"`
	Website     string `json:"website,omitempty"`
}

// CachedRelayInfo is a relay's NIP-11 descriptor plus probe results, keyed by
// the relay URL exactly as the caller provided it.
type CachedRelayInfo struct {
	RelayURL      string `json:"relay_url"`
	Name          string `json:"name,omitempty"`
	Description   string `json:"description,omitempty"`
	SupportedNIPs []int  `json:"supported_nips"`
	Software      string `json:"software,omitempty"`
	Version       string `json:"version,omitempty"`
	Online        bool   `json:"online"`
	// LatencyMS is nil whenever Online is false.
	LatencyMS *int64 `json:"latency_ms,omitempty"`
}

// Invoice is the result of asking the wallet for a fresh Lightning invoice.
type Invoice struct {
	Bolt11      string `json:"invoice"`
	PaymentHash string `json:"payment_hash"`
	AmountSats  uint64 `json:"amount_sats"`
	ExpiresAt   int64  `json:"expires_at,omitempty"`
}

// PaymentRequiredResponse is returned as a successful tool result when the
// free tier is exhausted and a wallet is configured. The client is expected
// to pay the invoice and retry with the payment_hash parameter.
type PaymentRequiredResponse struct {
	PaymentRequired bool   `json:"payment_required"`
	ToolName        string `json:"tool_name"`
	AmountSats      uint64 `json:"amount_sats"`
	Invoice         string `json:"invoice"`
	PaymentHash     string `json:"payment_hash"`
	Message         string `json:"message"`
}

// FreeTierExhaustedResponse is returned as a successful tool result when the
// free tier is exhausted and no wallet is configured.
type FreeTierExhaustedResponse struct {
	FreeTierExhausted bool   `json:"free_tier_exhausted"`
	CallsUsed         uint32 `json:"calls_used"`
	CallsLimit        uint32 `json:"calls_limit"`
	Message           string `json:"message"`
	PaymentAvailable  bool   `json:"payment_available"`
}

// ProfileMetadata is the JSON content of a kind-0 event.
type ProfileMetadata struct {
	Name        string `json:"name,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	About       string `json:"about,omitempty"`
	Picture     string `json:"picture,omitempty"`
	Banner      string `json:"banner,omitempty"`
	NIP05       string `json:"nip05,omitempty"`
	Lud16       string `json:"lud16,omitempty"`
	Website     string `json:"website,omitempty"`
}
