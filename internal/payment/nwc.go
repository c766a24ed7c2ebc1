package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"

	"nostrintel/internal/model"
)

// NIP-47 event kinds.
const (
	nwcRequestKind  = 23194
	nwcResponseKind = 23195
)

const nwcResponseTimeout = 15 * time.Second

// NWCClient implements WalletClient over Nostr Wallet Connect: requests are
// kind-23194 events with NIP-04 encrypted payloads published to the wallet's
// relay, responses arrive as kind-23195 events tagged with the request id.
type NWCClient struct {
	walletPubkey string
	relayURL     string
	secretKey    string
	clientPubkey string
	sharedSecret []byte

	mu    sync.Mutex
	relay *nostr.Relay
}

// NewNWCClient parses a nostr+walletconnect:// URI into a wallet client.
func NewNWCClient(nwcURL string) (*NWCClient, error) {
	const scheme = "nostr+walletconnect://"
	if !strings.HasPrefix(nwcURL, scheme) {
		return nil, fmt.Errorf("%w: NWC URI must start with %s", model.ErrConfig, scheme)
	}

	u, err := url.Parse("https://" + strings.TrimPrefix(nwcURL, scheme))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid NWC URI: %v", model.ErrConfig, err)
	}

	walletPubkey := u.Host
	if len(walletPubkey) != 64 {
		return nil, fmt.Errorf("%w: wallet pubkey must be 64 hex chars", model.ErrConfig)
	}
	relayURL := u.Query().Get("relay")
	if relayURL == "" {
		return nil, fmt.Errorf("%w: NWC URI must include a relay parameter", model.ErrConfig)
	}
	secretKey := u.Query().Get("secret")
	if len(secretKey) != 64 {
		return nil, fmt.Errorf("%w: NWC secret must be 64 hex chars", model.ErrConfig)
	}

	clientPubkey, err := nostr.GetPublicKey(secretKey)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid NWC secret: %v", model.ErrConfig, err)
	}
	sharedSecret, err := nip04.ComputeSharedSecret(walletPubkey, secretKey)
	if err != nil {
		return nil, fmt.Errorf("%w: compute shared secret: %v", model.ErrConfig, err)
	}

	return &NWCClient{
		walletPubkey: walletPubkey,
		relayURL:     relayURL,
		secretKey:    secretKey,
		clientPubkey: clientPubkey,
		sharedSecret: sharedSecret,
	}, nil
}

type nwcRequest struct {
	Method string      `json:"method"`
	Params interface{} `json:"params"`
}

type nwcResponse struct {
	ResultType string          `json:"result_type"`
	Error      *nwcError       `json:"error,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
}

type nwcError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type nwcInvoiceResult struct {
	Invoice     string `json:"invoice,omitempty"`
	PaymentHash string `json:"payment_hash,omitempty"`
	AmountMsats uint64 `json:"amount,omitempty"`
	CreatedAt   int64  `json:"created_at,omitempty"`
	ExpiresAt   int64  `json:"expires_at,omitempty"`
	SettledAt   int64  `json:"settled_at,omitempty"`
}

func (c *NWCClient) MakeInvoice(ctx context.Context, req MakeInvoiceRequest) (MakeInvoiceResponse, error) {
	params := map[string]interface{}{
		"amount": req.AmountMsats,
	}
	if req.Description != "" {
		params["description"] = req.Description
	}
	if req.Expiry > 0 {
		params["expiry"] = req.Expiry
	}

	var result nwcInvoiceResult
	if err := c.call(ctx, "make_invoice", params, &result); err != nil {
		return MakeInvoiceResponse{}, err
	}
	return MakeInvoiceResponse{
		Invoice:     result.Invoice,
		PaymentHash: result.PaymentHash,
		ExpiresAt:   result.ExpiresAt,
	}, nil
}

func (c *NWCClient) LookupInvoice(ctx context.Context, req LookupInvoiceRequest) (LookupInvoiceResponse, error) {
	params := map[string]interface{}{
		"payment_hash": req.PaymentHash,
	}

	var result nwcInvoiceResult
	if err := c.call(ctx, "lookup_invoice", params, &result); err != nil {
		return LookupInvoiceResponse{}, err
	}
	return LookupInvoiceResponse{
		Invoice:     result.Invoice,
		PaymentHash: result.PaymentHash,
		SettledAt:   result.SettledAt,
	}, nil
}

// call publishes one encrypted request event and waits for the matching
// response event or the deadline.
func (c *NWCClient) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, nwcResponseTimeout)
	defer cancel()

	relay, err := c.ensureRelay(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(nwcRequest{Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrWalletRPC, err)
	}
	encrypted, err := nip04.Encrypt(string(payload), c.sharedSecret)
	if err != nil {
		return fmt.Errorf("%w: encrypt request: %v", model.ErrWalletRPC, err)
	}

	ev := nostr.Event{
		PubKey:    c.clientPubkey,
		CreatedAt: nostr.Now(),
		Kind:      nwcRequestKind,
		Tags:      nostr.Tags{{"p", c.walletPubkey}},
		Content:   encrypted,
	}
	if err := ev.Sign(c.secretKey); err != nil {
		return fmt.Errorf("%w: sign request: %v", model.ErrWalletRPC, err)
	}

	// Subscribe before publishing so the response cannot slip past us.
	sub, err := relay.Subscribe(ctx, nostr.Filters{{
		Kinds:   []int{nwcResponseKind},
		Authors: []string{c.walletPubkey},
		Tags:    nostr.TagMap{"e": []string{ev.ID}},
	}})
	if err != nil {
		c.dropRelay(relay)
		return fmt.Errorf("%w: subscribe: %v", model.ErrWalletRPC, err)
	}
	defer sub.Unsub()

	if err := relay.Publish(ctx, ev); err != nil {
		c.dropRelay(relay)
		return fmt.Errorf("%w: publish %s: %v", model.ErrWalletRPC, method, err)
	}

	for {
		select {
		case respEv, ok := <-sub.Events:
			if !ok {
				c.dropRelay(relay)
				return fmt.Errorf("%w: relay closed subscription", model.ErrWalletRPC)
			}
			if respEv == nil {
				continue
			}
			decrypted, err := nip04.Decrypt(respEv.Content, c.sharedSecret)
			if err != nil {
				log.WithError(err).Warn("undecryptable NWC response, skipping")
				continue
			}
			var resp nwcResponse
			if err := json.Unmarshal([]byte(decrypted), &resp); err != nil {
				return fmt.Errorf("%w: malformed %s response: %v", model.ErrWalletRPC, method, err)
			}
			if resp.Error != nil {
				return fmt.Errorf("%w: %s: %s (%s)", model.ErrWalletRPC, method, resp.Error.Message, resp.Error.Code)
			}
			if out != nil && len(resp.Result) > 0 {
				if err := json.Unmarshal(resp.Result, out); err != nil {
					return fmt.Errorf("%w: malformed %s result: %v", model.ErrWalletRPC, method, err)
				}
			}
			return nil
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: no %s response from wallet", model.ErrTimeout, method)
			}
			return ctx.Err()
		}
	}
}

func (c *NWCClient) ensureRelay(ctx context.Context) (*nostr.Relay, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.relay != nil && c.relay.IsConnected() {
		return c.relay, nil
	}
	relay, err := nostr.RelayConnect(ctx, c.relayURL)
	if err != nil {
		return nil, fmt.Errorf("%w: connect to wallet relay %s: %v", model.ErrWalletRPC, c.relayURL, err)
	}
	c.relay = relay
	return relay, nil
}

func (c *NWCClient) dropRelay(relay *nostr.Relay) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.relay == relay {
		_ = c.relay.Close()
		c.relay = nil
	}
}
