package mcp

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"nostrintel/internal/config"
	"nostrintel/internal/intel"
	"nostrintel/internal/metrics"
	"nostrintel/internal/model"
	"nostrintel/internal/payment"
	"nostrintel/internal/paywall"
	"nostrintel/internal/relay"
	"nostrintel/internal/store"
)

type fakeGateway struct {
	settled map[string]bool
	issued  int
}

func (g *fakeGateway) CreateInvoice(_ context.Context, _ string, amountSats uint64, _ string, _ uint64) (*model.Invoice, error) {
	g.issued++
	return &model.Invoice{
		Bolt11:      fmt.Sprintf("lnbcrt%d0n1fake%d", amountSats, g.issued),
		PaymentHash: fmt.Sprintf("hash-%d", g.issued),
		AmountSats:  amountSats,
		ExpiresAt:   time.Now().Unix() + 300,
	}, nil
}

func (g *fakeGateway) VerifyPayment(_ context.Context, paymentHash string) (bool, error) {
	return g.settled[paymentHash], nil
}

func newTestDeps(t *testing.T, gateway *fakeGateway, callsPerDay uint32) Deps {
	t.Helper()

	cfg := config.Default()
	cfg.FreeTier.CallsPerDay = callsPerDay
	cfg.Relays.Default = nil

	st := store.New(filepath.Join(t.TempDir(), "cache.db"), time.Hour, time.Hour)
	t.Cleanup(func() { _ = st.Close() })
	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("store init failed: %v", err)
	}

	pool := relay.NewPool(nil)
	t.Cleanup(pool.Close)

	secret := hex.EncodeToString(bytes.Repeat([]byte{0x42}, 32))
	l402, err := payment.NewL402Manager(secret)
	if err != nil {
		t.Fatalf("l402 manager failed: %v", err)
	}

	deps := Deps{
		Config: &cfg,
		Store:  st,
		Pool:   pool,
		Intel:  intel.NewService(pool, st),
		L402:   l402,
	}
	if gateway != nil {
		deps.Gateway = gateway
		deps.Gate = paywall.NewGate(st, gateway, callsPerDay, cfg.Payment.InvoiceExpirySeconds)
	} else {
		deps.Gate = paywall.NewGate(st, nil, callsPerDay, cfg.Payment.InvoiceExpirySeconds)
	}
	return deps
}

type rpcResult struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type toolResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StructuredContent map[string]interface{} `json:"structuredContent"`
	IsError           bool                   `json:"isError"`
}

func postRPC(t *testing.T, srv *httptest.Server, sessionID, body string) (*http.Response, rpcResult) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/mcp", strings.NewReader(body))
	if err != nil {
		t.Fatalf("request build failed: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set(sessionHeaderName, sessionID)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var out rpcResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("response decode failed: %v", err)
	}
	return resp, out
}

func initSession(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"initialize"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	defer resp.Body.Close()

	sessionID := resp.Header.Get(sessionHeaderName)
	if sessionID == "" {
		t.Fatal("initialize did not issue a session id")
	}
	return sessionID
}

func callTool(t *testing.T, srv *httptest.Server, sessionID, tool, argsJSON string) toolResult {
	t.Helper()
	body := fmt.Sprintf(`{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":%q,"arguments":%s}}`, tool, argsJSON)
	resp, out := postRPC(t, srv, sessionID, body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("tools/call status %d", resp.StatusCode)
	}
	if out.Error != nil {
		t.Fatalf("unexpected rpc error: %+v", out.Error)
	}
	var result toolResult
	if err := json.Unmarshal(out.Result, &result); err != nil {
		t.Fatalf("tool result decode failed: %v", err)
	}
	return result
}

func TestHTTPSessionLifecycle(t *testing.T) {
	server := NewServer(newTestDeps(t, nil, 10))
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	first := initSession(t, srv)
	second := initSession(t, srv)
	if !strings.HasPrefix(first, "http-") || !strings.HasPrefix(second, "http-") {
		t.Fatalf("session ids must be http-<N>: %q %q", first, second)
	}
	if first == second {
		t.Fatalf("sessions must be distinct: %q", first)
	}

	// tools/list works within a session.
	resp, out := postRPC(t, srv, first, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	if resp.StatusCode != http.StatusOK || out.Error != nil {
		t.Fatalf("tools/list failed: %d %+v", resp.StatusCode, out.Error)
	}
	var listed struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(out.Result, &listed); err != nil {
		t.Fatalf("tools/list decode failed: %v", err)
	}
	if len(listed.Tools) != 10 || listed.Tools[0].Name != "decode_nostr_uri" {
		t.Fatalf("unexpected catalogue: %+v", listed.Tools)
	}

	// Unknown session is rejected.
	resp, out = postRPC(t, srv, "http-999", `{"jsonrpc":"2.0","id":3,"method":"tools/list"}`)
	if resp.StatusCode != http.StatusNotFound || out.Error == nil || out.Error.Code != -32001 {
		t.Fatalf("expected session-not-found, got %d %+v", resp.StatusCode, out.Error)
	}

	// Missing session header too.
	resp, _ = postRPC(t, srv, "", `{"jsonrpc":"2.0","id":4,"method":"tools/list"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 without session header, got %d", resp.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := NewServer(newTestDeps(t, nil, 10))
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()
	buf := new(bytes.Buffer)
	_, _ = buf.ReadFrom(resp.Body)
	if resp.StatusCode != http.StatusOK || buf.String() != "ok" {
		t.Fatalf("unexpected health response: %d %q", resp.StatusCode, buf.String())
	}
}

func TestFreeTierPassthroughThenPaymentRequired(t *testing.T) {
	gateway := &fakeGateway{settled: map[string]bool{}}
	server := NewServer(newTestDeps(t, gateway, 2))
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	session := initSession(t, srv)

	// Two calls ride the free tier.
	for i := 0; i < 2; i++ {
		result := callTool(t, srv, session, "search_events", `{"search":"bitcoin"}`)
		if result.IsError {
			t.Fatalf("call %d should succeed: %+v", i+1, result)
		}
		if _, ok := result.StructuredContent["events"]; !ok {
			t.Fatalf("call %d missing event list: %+v", i+1, result.StructuredContent)
		}
	}

	// The third gets an invoice instead, as a successful result.
	result := callTool(t, srv, session, "search_events", `{"search":"bitcoin"}`)
	if result.IsError {
		t.Fatalf("payment-required must not be an error: %+v", result)
	}
	sc := result.StructuredContent
	if sc["payment_required"] != true || sc["tool_name"] != "search_events" {
		t.Fatalf("unexpected payload: %+v", sc)
	}
	if sc["amount_sats"] != float64(10) {
		t.Fatalf("expected base price 10, got %v", sc["amount_sats"])
	}
	if sc["invoice"] == "" || sc["payment_hash"] == "" {
		t.Fatalf("payload must carry invoice and hash: %+v", sc)
	}
}

func TestPaymentVerifiedAndUnconfirmed(t *testing.T) {
	gateway := &fakeGateway{settled: map[string]bool{"hash-1": true}}
	server := NewServer(newTestDeps(t, gateway, 0))
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	session := initSession(t, srv)

	// Settled hash: the call executes.
	result := callTool(t, srv, session, "search_events", `{"search":"bitcoin","payment_hash":"hash-1"}`)
	if result.IsError {
		t.Fatalf("settled payment should serve the call: %+v", result)
	}

	// Unsettled hash: tool error with the canonical message.
	result = callTool(t, srv, session, "search_events", `{"search":"bitcoin","payment_hash":"hash-2"}`)
	if !result.IsError {
		t.Fatalf("unsettled payment must be an error: %+v", result)
	}
	if len(result.Content) == 0 || !strings.Contains(result.Content[0].Text, "Payment not confirmed. Invoice may be unpaid or expired.") {
		t.Fatalf("unexpected error message: %+v", result.Content)
	}
}

func TestFreeTierExhaustedWithoutGateway(t *testing.T) {
	server := NewServer(newTestDeps(t, nil, 0))
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	session := initSession(t, srv)
	result := callTool(t, srv, session, "search_events", `{"search":"bitcoin"}`)
	if result.IsError {
		t.Fatalf("exhaustion payload must not be an error: %+v", result)
	}
	sc := result.StructuredContent
	if sc["free_tier_exhausted"] != true || sc["payment_available"] != false {
		t.Fatalf("unexpected payload: %+v", sc)
	}
}

func TestL402ChallengeEndpoint(t *testing.T) {
	gateway := &fakeGateway{settled: map[string]bool{}}
	server := NewServer(newTestDeps(t, gateway, 2))
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/l402/challenge/search_events")
	if err != nil {
		t.Fatalf("challenge request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", resp.StatusCode)
	}
	auth := resp.Header.Get("WWW-Authenticate")
	if !strings.HasPrefix(auth, `L402 invoice="`) || !strings.Contains(auth, `token="`) {
		t.Fatalf("unexpected challenge header: %q", auth)
	}

	var body l402ChallengeBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("body decode failed: %v", err)
	}
	if body.Tool != "search_events" || body.AmountSats != 10 {
		t.Fatalf("unexpected body: %+v", body)
	}
	if body.Invoice == "" || body.PaymentHash == "" {
		t.Fatalf("body must carry invoice and hash: %+v", body)
	}
}

func TestL402ChallengeUnknownToolAndNoGateway(t *testing.T) {
	withGateway := NewServer(newTestDeps(t, &fakeGateway{}, 2))
	srv := httptest.NewServer(withGateway.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/l402/challenge/no_such_tool")
	if err != nil {
		t.Fatalf("challenge request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown tool should 404, got %d", resp.StatusCode)
	}

	// Free tools have no challenge either.
	resp, err = srv.Client().Get(srv.URL + "/l402/challenge/get_profile")
	if err != nil {
		t.Fatalf("challenge request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("free tool should 404, got %d", resp.StatusCode)
	}

	withoutGateway := NewServer(newTestDeps(t, nil, 2))
	srv2 := httptest.NewServer(withoutGateway.Handler())
	defer srv2.Close()

	resp, err = srv2.Client().Get(srv2.URL + "/l402/challenge/search_events")
	if err != nil {
		t.Fatalf("challenge request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("absent gateway should 503, got %d", resp.StatusCode)
	}
}

func TestSearchEventsPricing(t *testing.T) {
	deps := newTestDeps(t, nil, 10)
	router := NewRouter(deps, "stdio")

	cases := []struct {
		limit int
		price uint64
	}{
		{0, 10},
		{20, 10},
		{21, 25},
		{50, 25},
		{51, 50},
	}
	for _, tc := range cases {
		args := map[string]interface{}{"limit": float64(tc.limit)}
		if got := router.toolPrice(toolNameSearchEvents, args); got != tc.price {
			t.Errorf("limit %d: price %d, want %d", tc.limit, got, tc.price)
		}
	}

	if got := router.toolPrice(toolNameFollowerGraph, map[string]interface{}{"depth": float64(2)}); got != 60 {
		t.Errorf("depth 2 should double the price, got %d", got)
	}
	if got := router.toolPrice(toolNameFollowerGraph, map[string]interface{}{"depth": float64(1)}); got != 30 {
		t.Errorf("depth 1 keeps the base price, got %d", got)
	}
}

func TestDispatchCountsToolOutcomes(t *testing.T) {
	pubkey := strings.Repeat("cd", 32)
	npub, err := nip19.EncodePublicKey(pubkey)
	if err != nil {
		t.Fatalf("npub encode failed: %v", err)
	}

	// A successful free tool counts one ok outcome.
	router := NewRouter(newTestDeps(t, nil, 10), "stdio")
	okFree := metrics.ToolCalls.WithLabelValues("decode_nostr_uri", metrics.OutcomeOK)
	before := testutil.ToFloat64(okFree)

	params := fmt.Sprintf(`{"name":"decode_nostr_uri","arguments":{"uri":%q}}`, npub)
	result, rpcErr := router.Dispatch(context.Background(), json.RawMessage(params))
	if rpcErr != nil || result.IsError {
		t.Fatalf("dispatch failed: %+v %+v", rpcErr, result)
	}
	if got := testutil.ToFloat64(okFree) - before; got != 1 {
		t.Fatalf("free tool must count one ok outcome, got %v", got)
	}

	// An exhausted paid call counts payment_required and not ok.
	paidRouter := NewRouter(newTestDeps(t, &fakeGateway{settled: map[string]bool{}}, 0), "stdio")
	paymentRequired := metrics.ToolCalls.WithLabelValues("search_events", metrics.OutcomePaymentRequired)
	okPaid := metrics.ToolCalls.WithLabelValues("search_events", metrics.OutcomeOK)
	beforeRequired := testutil.ToFloat64(paymentRequired)
	beforeOK := testutil.ToFloat64(okPaid)

	result, rpcErr = paidRouter.Dispatch(context.Background(), json.RawMessage(`{"name":"search_events","arguments":{"search":"bitcoin"}}`))
	if rpcErr != nil || result.IsError {
		t.Fatalf("dispatch failed: %+v %+v", rpcErr, result)
	}
	if got := testutil.ToFloat64(paymentRequired) - beforeRequired; got != 1 {
		t.Fatalf("expected one payment_required outcome, got %v", got)
	}
	if got := testutil.ToFloat64(okPaid) - beforeOK; got != 0 {
		t.Fatalf("gate short-circuit must not count as ok, got %v", got)
	}
}

func TestInvalidRequests(t *testing.T) {
	server := NewServer(newTestDeps(t, nil, 10))
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	resp, out := postRPC(t, srv, "", `{"jsonrpc":"1.0","id":1,"method":"initialize"}`)
	if resp.StatusCode != http.StatusBadRequest || out.Error == nil {
		t.Fatalf("wrong jsonrpc version must 400: %d %+v", resp.StatusCode, out.Error)
	}

	resp, out = postRPC(t, srv, "", `[{"jsonrpc":"2.0","id":1,"method":"initialize"}]`)
	if resp.StatusCode != http.StatusBadRequest || out.Error == nil {
		t.Fatalf("batch must be rejected: %d %+v", resp.StatusCode, out.Error)
	}

	session := initSession(t, srv)
	result := callTool(t, srv, session, "no_such_tool", `{}`)
	if !result.IsError || !strings.Contains(result.Content[0].Text, "unknown tool") {
		t.Fatalf("unknown tool must be a tool error: %+v", result)
	}
}
