package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"nostrintel/internal/model"
)

const (
	nip11Timeout  = 10 * time.Second
	nip11MaxBody  = 1 << 20
	nip11Accept   = "application/nostr+json"
	probeClientHd = "nostr-intel"
)

type nip11Document struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	SupportedNIPs []int  `json:"supported_nips"`
	Software      string `json:"software"`
	Version       string `json:"version"`
}

// ProbeRelay fetches a relay's NIP-11 information document over HTTP and
// measures round-trip latency. An unreachable or non-200 relay yields an
// offline descriptor with the failure in Description, not an error.
func ProbeRelay(ctx context.Context, client *http.Client, relayURL string) model.CachedRelayInfo {
	info := model.CachedRelayInfo{RelayURL: relayURL}

	httpURL, err := nip11URL(relayURL)
	if err != nil {
		info.Description = err.Error()
		return info
	}

	ctx, cancel := context.WithTimeout(ctx, nip11Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpURL, nil)
	if err != nil {
		info.Description = fmt.Sprintf("Connection failed: %v", err)
		return info
	}
	req.Header.Set("Accept", nip11Accept)
	req.Header.Set("User-Agent", probeClientHd)

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		info.Description = fmt.Sprintf("Connection failed: %v", err)
		return info
	}
	defer resp.Body.Close()
	latency := time.Since(start).Milliseconds()

	if resp.StatusCode != http.StatusOK {
		info.Description = fmt.Sprintf("HTTP error: %d", resp.StatusCode)
		return info
	}

	info.Online = true
	info.LatencyMS = &latency

	body, err := io.ReadAll(io.LimitReader(resp.Body, nip11MaxBody))
	if err != nil {
		return info
	}
	var doc nip11Document
	if err := json.Unmarshal(body, &doc); err != nil {
		// Online but not speaking NIP-11; keep the probe result.
		log.WithError(err).WithField("relay", relayURL).Debug("relay served invalid NIP-11 JSON")
		return info
	}

	info.Name = doc.Name
	info.Description = doc.Description
	info.SupportedNIPs = doc.SupportedNIPs
	info.Software = doc.Software
	info.Version = doc.Version
	return info
}

// nip11URL maps a websocket relay URL onto its HTTP endpoint.
func nip11URL(relayURL string) (string, error) {
	switch {
	case strings.HasPrefix(relayURL, "wss://"):
		return "https://" + strings.TrimPrefix(relayURL, "wss://"), nil
	case strings.HasPrefix(relayURL, "ws://"):
		return "http://" + strings.TrimPrefix(relayURL, "ws://"), nil
	default:
		return "", fmt.Errorf("%w: relay URL must start with ws:// or wss://", model.ErrInvalidInput)
	}
}
