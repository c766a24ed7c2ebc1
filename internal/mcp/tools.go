// Package mcp implements the JSON-RPC 2.0 tool server over stdio and HTTP,
// including the paid-tool paywall wiring and the L402 challenge endpoint.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/sirupsen/logrus"

	"nostrintel/internal/config"
	"nostrintel/internal/intel"
	"nostrintel/internal/metrics"
	"nostrintel/internal/paywall"
	"nostrintel/internal/payment"
	"nostrintel/internal/primal"
	"nostrintel/internal/relay"
	"nostrintel/internal/store"
)

var log = logrus.WithField("module", "mcp")

const (
	toolNameDecodeNostrURI   = "decode_nostr_uri"
	toolNameResolveNIP05     = "resolve_nip05"
	toolNameGetProfile       = "get_profile"
	toolNameCheckRelay       = "check_relay"
	toolNameSearchProfiles   = "search_profiles"
	toolNameSearchEvents     = "search_events"
	toolNameRelayDiscovery   = "relay_discovery"
	toolNameTrendingNotes    = "trending_notes"
	toolNameFollowerGraph    = "get_follower_graph"
	toolNameZapAnalytics     = "zap_analytics"
)

var toolOrder = []string{
	toolNameDecodeNostrURI,
	toolNameResolveNIP05,
	toolNameGetProfile,
	toolNameCheckRelay,
	toolNameSearchProfiles,
	toolNameSearchEvents,
	toolNameRelayDiscovery,
	toolNameTrendingNotes,
	toolNameFollowerGraph,
	toolNameZapAnalytics,
}

type toolHandler func(context.Context, map[string]interface{}) (toolCallResult, *toolExecutionError)

type toolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
	handler     toolHandler            `json:"-"`
	paid        bool                   `json:"-"`
}

type toolsCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

type toolCallResult struct {
	Content           []toolContentItem `json:"content"`
	StructuredContent interface{}       `json:"structuredContent,omitempty"`
	IsError           bool              `json:"isError,omitempty"`

	// outcome overrides the "ok" metrics label when the paywall short-
	// circuits with a payment payload.
	outcome string
}

type toolContentItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type toolExecutionError struct {
	Code      string
	Message   string
	Retryable bool
}

// Deps are the process singletons every router shares.
type Deps struct {
	Config  *config.Config
	Store   *store.Store
	Pool    *relay.Pool
	Primal  *primal.Client
	Intel   *intel.Service
	Gate    *paywall.Gate
	Gateway paywall.InvoiceIssuer
	L402    *payment.L402Manager
}

// Router dispatches tool calls for one session. Sessions share the Deps
// singletons; the session id only feeds the rate counter.
type Router struct {
	deps      Deps
	sessionID string
	tools     map[string]toolDefinition
}

func NewRouter(deps Deps, sessionID string) *Router {
	r := &Router{deps: deps, sessionID: sessionID}
	r.tools = r.buildToolRegistry()
	return r
}

func (r *Router) buildToolRegistry() map[string]toolDefinition {
	return map[string]toolDefinition{
		toolNameDecodeNostrURI: {
			Name:        toolNameDecodeNostrURI,
			Description: "Decode a Nostr bech32 entity (npub, note, nprofile, nevent, naddr) into hex identifiers and relay hints.",
			InputSchema: objectSchema(map[string]interface{}{
				"uri": stringProp("Nostr bech32 entity to decode"),
			}, "uri"),
			handler: r.handleDecodeNostrURI,
		},
		toolNameResolveNIP05: {
			Name:        toolNameResolveNIP05,
			Description: "Resolve a NIP-05 identifier like jack@cash.app to a public key.",
			InputSchema: objectSchema(map[string]interface{}{
				"nip05": stringProp("NIP-05 identifier, e.g. \"jack@cash.app\""),
			}, "nip05"),
			handler: r.handleResolveNIP05,
		},
		toolNameGetProfile: {
			Name:        toolNameGetProfile,
			Description: "Fetch a Nostr profile by hex pubkey, npub, NIP-05 identifier, or display name.",
			InputSchema: objectSchema(map[string]interface{}{
				"pubkey": stringProp("Public key in hex, npub, NIP-05, or a display name"),
			}, "pubkey"),
			handler: r.handleGetProfile,
		},
		toolNameCheckRelay: {
			Name:        toolNameCheckRelay,
			Description: "Probe a relay's NIP-11 document and measure round-trip latency.",
			InputSchema: objectSchema(map[string]interface{}{
				"relay_url": stringProp("Relay WebSocket URL, e.g. \"wss://relay.damus.io\""),
			}, "relay_url"),
			handler: r.handleCheckRelay,
		},
		toolNameSearchProfiles: {
			Name:        toolNameSearchProfiles,
			Description: "Fuzzy-search Nostr profiles by name or keyword.",
			InputSchema: objectSchema(map[string]interface{}{
				"query": stringProp("Name or keyword to search for"),
				"limit": intProp("Maximum number of profiles to return (default 5, max 20)"),
			}, "query"),
			handler: r.handleSearchProfiles,
		},
		toolNameSearchEvents: {
			Name:        toolNameSearchEvents,
			Description: "Search Nostr events across the configured relays with filters. Paid after the free tier.",
			InputSchema: objectSchema(map[string]interface{}{
				"authors":      arrayProp("Filter by author public keys (hex or npub)"),
				"kinds":        intArrayProp("Filter by event kinds, e.g. 1 for text notes"),
				"search":       stringProp("Full-text search (NIP-50)"),
				"since_hours":  intProp("Only events from the last N hours"),
				"limit":        intProp("Maximum number of events to return (default 20, max 100)"),
				"payment_hash": stringProp("Payment hash from a paid Lightning invoice"),
			}),
			handler: r.handleSearchEvents,
			paid:    true,
		},
		toolNameRelayDiscovery: {
			Name:        toolNameRelayDiscovery,
			Description: "Discover the relays a pubkey publishes to via its NIP-65 relay list. Paid after the free tier.",
			InputSchema: objectSchema(map[string]interface{}{
				"pubkey":       stringProp("Public key in hex or npub"),
				"payment_hash": stringProp("Payment hash from a paid Lightning invoice"),
			}, "pubkey"),
			handler: r.handleRelayDiscovery,
			paid:    true,
		},
		toolNameTrendingNotes: {
			Name:        toolNameTrendingNotes,
			Description: "Rank recent notes by reactions and reposts. Paid after the free tier.",
			InputSchema: objectSchema(map[string]interface{}{
				"timeframe":    stringProp("Lookback window: <N>h, <N>d, or <N>y (default 24h)"),
				"limit":        intProp("Maximum number of notes (default 20, max 50)"),
				"payment_hash": stringProp("Payment hash from a paid Lightning invoice"),
			}),
			handler: r.handleTrendingNotes,
			paid:    true,
		},
		toolNameFollowerGraph: {
			Name:        toolNameFollowerGraph,
			Description: "Assemble the follow graph around a pubkey: following, followers, and mutuals. Paid after the free tier.",
			InputSchema: objectSchema(map[string]interface{}{
				"pubkey":       stringProp("Public key in hex or npub"),
				"depth":        intProp("Graph depth, 1 or 2"),
				"payment_hash": stringProp("Payment hash from a paid Lightning invoice"),
			}, "pubkey"),
			handler: r.handleFollowerGraph,
			paid:    true,
		},
		toolNameZapAnalytics: {
			Name:        toolNameZapAnalytics,
			Description: "Aggregate zap receipts for a pubkey: totals, top zappers, top notes, and a daily series. Paid after the free tier.",
			InputSchema: objectSchema(map[string]interface{}{
				"pubkey":       stringProp("Public key in hex or npub"),
				"timeframe":    stringProp("Lookback window: <N>h, <N>d, or <N>y (default 30d)"),
				"payment_hash": stringProp("Payment hash from a paid Lightning invoice"),
			}, "pubkey"),
			handler: r.handleZapAnalytics,
			paid:    true,
		},
	}
}

// ToolList returns the tool definitions in catalogue order.
func (r *Router) ToolList() []toolDefinition {
	tools := make([]toolDefinition, 0, len(r.tools))
	for _, name := range toolOrder {
		if tool, ok := r.tools[name]; ok {
			tools = append(tools, tool)
		}
	}
	return tools
}

// Dispatch runs one tools/call request.
func (r *Router) Dispatch(ctx context.Context, rawParams json.RawMessage) (toolCallResult, *rpcError) {
	params, err := parseToolsCallParams(rawParams)
	if err != nil {
		canonicalCode := "INVALID_FIELD"
		var vErr validationError
		if e, ok := err.(validationError); ok && e.canonicalCode != "" {
			vErr = e
			canonicalCode = vErr.canonicalCode
		}
		return toolCallResult{}, &rpcError{
			Code:    -32600,
			Message: err.Error(),
			Data:    &rpcErrorData{Code: canonicalCode, Retryable: false},
		}
	}

	tool, ok := r.tools[params.Name]
	if !ok {
		return newToolErrorResult(toolExecutionError{
			Code:    "METHOD_NOT_FOUND",
			Message: fmt.Sprintf("unknown tool: %s", params.Name),
		}), nil
	}

	result, toolErr := tool.handler(ctx, params.Arguments)
	if toolErr != nil {
		metrics.ToolCalls.WithLabelValues(params.Name, metrics.OutcomeError).Inc()
		log.WithFields(logrus.Fields{
			"tool":    params.Name,
			"session": r.sessionID,
			"code":    toolErr.Code,
		}).Warn(toolErr.Message)
		return newToolErrorResult(*toolErr), nil
	}

	outcome := result.outcome
	if outcome == "" {
		outcome = metrics.OutcomeOK
	}
	metrics.ToolCalls.WithLabelValues(params.Name, outcome).Inc()
	return result, nil
}

func parseToolsCallParams(raw json.RawMessage) (toolsCallParams, error) {
	if len(raw) == 0 {
		return toolsCallParams{}, validationError{message: "params is required", canonicalCode: "MISSING_FIELD"}
	}

	var params toolsCallParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return toolsCallParams{}, validationError{message: "invalid tools/call params", canonicalCode: "INVALID_FIELD"}
	}

	params.Name = strings.TrimSpace(params.Name)
	if params.Name == "" {
		return toolsCallParams{}, validationError{message: "tool name is required", canonicalCode: "MISSING_FIELD"}
	}
	return params, nil
}

func newToolErrorResult(toolErr toolExecutionError) toolCallResult {
	return toolCallResult{
		Content: []toolContentItem{{Type: "text", Text: toolErr.Message}},
		IsError: true,
	}
}

// newToolResult wraps a structured payload as MCP content: pretty JSON text
// plus structuredContent.
func newToolResult(payload interface{}) toolCallResult {
	text, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return newToolErrorResult(toolExecutionError{
			Code:    "INTERNAL",
			Message: fmt.Sprintf("failed to serialise result: %v", err),
		})
	}
	return toolCallResult{
		Content:           []toolContentItem{{Type: "text", Text: string(text)}},
		StructuredContent: payload,
	}
}

func invalidInput(format string, args ...interface{}) *toolExecutionError {
	return &toolExecutionError{Code: "INVALID_INPUT", Message: fmt.Sprintf(format, args...)}
}

// argString reads a string argument, "" when absent.
func argString(args map[string]interface{}, key string) string {
	if v, ok := args[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// argInt reads a numeric argument, 0 when absent or not a whole number.
func argInt(args map[string]interface{}, key string) int {
	v, ok := args[key].(float64)
	if !ok || math.IsNaN(v) || v != math.Trunc(v) {
		return 0
	}
	return int(v)
}

func argStringSlice(args map[string]interface{}, key string) []string {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

func argIntSlice(args map[string]interface{}, key string) []int {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]int, 0, len(raw))
	for _, item := range raw {
		if v, ok := item.(float64); ok && v == math.Trunc(v) {
			out = append(out, int(v))
		}
	}
	return out
}

func objectSchema(props map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(description string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": description}
}

func intProp(description string) map[string]interface{} {
	return map[string]interface{}{"type": "integer", "description": description}
}

func arrayProp(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"items":       map[string]interface{}{"type": "string"},
		"description": description,
	}
}

func intArrayProp(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"items":       map[string]interface{}{"type": "integer"},
		"description": description,
	}
}
