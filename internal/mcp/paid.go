package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"

	"nostrintel/internal/metrics"
	"nostrintel/internal/model"
)

const eventPreviewBytes = 280

// toolPrice computes the sat price for one call. search_events scales with
// the requested limit, get_follower_graph with depth.
func (r *Router) toolPrice(tool string, args map[string]interface{}) uint64 {
	pricing := r.deps.Config.Pricing
	switch tool {
	case toolNameSearchEvents:
		price := pricing.SearchEventsBase
		if limit := argInt(args, "limit"); limit > 20 {
			price += 15
			if limit > 50 {
				price += 25
			}
		}
		return price
	case toolNameRelayDiscovery:
		return pricing.RelayDiscovery
	case toolNameTrendingNotes:
		return pricing.TrendingNotes
	case toolNameFollowerGraph:
		price := pricing.GetFollowerGraph
		if argInt(args, "depth") >= 2 {
			price *= 2
		}
		return price
	case toolNameZapAnalytics:
		return pricing.ZapAnalytics
	default:
		return 0
	}
}

// gateCall runs the paywall for a paid tool. It returns (nil, nil) when the
// handler should run, a ready result when the caller owes payment, or a tool
// error.
func (r *Router) gateCall(ctx context.Context, tool string, args map[string]interface{}) (*toolCallResult, *toolExecutionError) {
	outcome, err := r.deps.Gate.Check(ctx, tool, r.toolPrice(tool, args), argString(args, "payment_hash"), r.sessionID)
	if err != nil {
		return nil, &toolExecutionError{Code: "PAYMENT", Message: err.Error()}
	}
	if outcome.Proceed {
		return nil, nil
	}

	result := newToolResult(outcome.Payload)
	switch outcome.Payload.(type) {
	case model.PaymentRequiredResponse:
		metrics.InvoicesIssued.Inc()
		result.outcome = metrics.OutcomePaymentRequired
	case model.FreeTierExhaustedResponse:
		result.outcome = metrics.OutcomeFreeTierExhausted
	}
	return &result, nil
}

type eventSummary struct {
	ID          string `json:"id"`
	Pubkey      string `json:"pubkey"`
	Kind        int    `json:"kind"`
	Content     string `json:"content"`
	CreatedAt   int64  `json:"created_at"`
	TagsSummary string `json:"tags_summary"`
}

type searchEventsResponse struct {
	Events        []eventSummary `json:"events"`
	Count         int            `json:"count"`
	RelaysQueried []string       `json:"relays_queried"`
}

func (r *Router) handleSearchEvents(ctx context.Context, args map[string]interface{}) (toolCallResult, *toolExecutionError) {
	if early, toolErr := r.gateCall(ctx, toolNameSearchEvents, args); toolErr != nil || early != nil {
		if toolErr != nil {
			return toolCallResult{}, toolErr
		}
		return *early, nil
	}

	var authors []string
	for _, raw := range argStringSlice(args, "authors") {
		pk, err := parsePubkey(raw)
		if err != nil {
			return toolCallResult{}, invalidInput("invalid author pubkey %q: %v", raw, err)
		}
		authors = append(authors, pk)
	}

	kinds := argIntSlice(args, "kinds")

	var since *time.Time
	if hours := argInt(args, "since_hours"); hours > 0 {
		t := time.Now().Add(-time.Duration(hours) * time.Hour)
		since = &t
	}

	events, err := r.deps.Pool.SearchEvents(ctx, authors, kinds, argString(args, "search"), since, argInt(args, "limit"))
	if err != nil {
		return toolCallResult{}, &toolExecutionError{
			Code:      "NETWORK_IO",
			Message:   fmt.Sprintf("search failed: %v", err),
			Retryable: true,
		}
	}

	summaries := make([]eventSummary, 0, len(events))
	for _, ev := range events {
		summaries = append(summaries, summariseEvent(ev))
	}

	return newToolResult(searchEventsResponse{
		Events:        summaries,
		Count:         len(summaries),
		RelaysQueried: r.deps.Pool.URLs(),
	}), nil
}

func summariseEvent(ev *nostr.Event) eventSummary {
	content := ev.Content
	if len(content) > eventPreviewBytes {
		cut := eventPreviewBytes
		for cut > 0 && content[cut]&0xC0 == 0x80 {
			cut--
		}
		content = content[:cut] + "..."
	}

	tagsSummary := "none"
	if len(ev.Tags) > 0 {
		kinds := make([]string, 0, 5)
		for i, tag := range ev.Tags {
			if i == 5 {
				break
			}
			if len(tag) > 0 {
				kinds = append(kinds, tag[0])
			}
		}
		tagsSummary = strings.Join(kinds, ", ")
		if len(ev.Tags) > 5 {
			tagsSummary = fmt.Sprintf("%s (+%d more)", tagsSummary, len(ev.Tags)-5)
		}
	}

	return eventSummary{
		ID:          ev.ID,
		Pubkey:      ev.PubKey,
		Kind:        ev.Kind,
		Content:     content,
		CreatedAt:   int64(ev.CreatedAt),
		TagsSummary: tagsSummary,
	}
}

type discoveredRelay struct {
	URL    string `json:"url"`
	Marker string `json:"marker,omitempty"`
}

type relayDiscoveryResponse struct {
	Pubkey string            `json:"pubkey"`
	Relays []discoveredRelay `json:"relays"`
	Count  int               `json:"count"`
}

func (r *Router) handleRelayDiscovery(ctx context.Context, args map[string]interface{}) (toolCallResult, *toolExecutionError) {
	if early, toolErr := r.gateCall(ctx, toolNameRelayDiscovery, args); toolErr != nil || early != nil {
		if toolErr != nil {
			return toolCallResult{}, toolErr
		}
		return *early, nil
	}

	pubkey, err := parsePubkey(argString(args, "pubkey"))
	if err != nil {
		return toolCallResult{}, invalidInput("invalid pubkey: %v", err)
	}

	ev, err := r.deps.Pool.FetchRelayList(ctx, pubkey)
	if err != nil {
		return toolCallResult{}, &toolExecutionError{
			Code:      "NETWORK_IO",
			Message:   fmt.Sprintf("relay list fetch failed: %v", err),
			Retryable: true,
		}
	}

	var relays []discoveredRelay
	seen := make(map[string]bool)
	if ev != nil {
		for _, tag := range ev.Tags {
			if len(tag) < 2 || tag[0] != "r" || seen[tag[1]] {
				continue
			}
			seen[tag[1]] = true
			entry := discoveredRelay{URL: tag[1]}
			if len(tag) >= 3 {
				entry.Marker = tag[2]
			}
			relays = append(relays, entry)
		}
	}
	if relays == nil {
		relays = []discoveredRelay{}
	}

	return newToolResult(relayDiscoveryResponse{
		Pubkey: pubkey,
		Relays: relays,
		Count:  len(relays),
	}), nil
}

func (r *Router) handleTrendingNotes(ctx context.Context, args map[string]interface{}) (toolCallResult, *toolExecutionError) {
	if early, toolErr := r.gateCall(ctx, toolNameTrendingNotes, args); toolErr != nil || early != nil {
		if toolErr != nil {
			return toolCallResult{}, toolErr
		}
		return *early, nil
	}

	result, err := r.deps.Intel.TrendingNotes(ctx, argString(args, "timeframe"), argInt(args, "limit"))
	if err != nil {
		return toolCallResult{}, pipelineError(err)
	}

	return newToolResult(result), nil
}

func (r *Router) handleFollowerGraph(ctx context.Context, args map[string]interface{}) (toolCallResult, *toolExecutionError) {
	if early, toolErr := r.gateCall(ctx, toolNameFollowerGraph, args); toolErr != nil || early != nil {
		if toolErr != nil {
			return toolCallResult{}, toolErr
		}
		return *early, nil
	}

	pubkey, err := parsePubkey(argString(args, "pubkey"))
	if err != nil {
		return toolCallResult{}, invalidInput("invalid pubkey: %v", err)
	}

	graph, err := r.deps.Intel.FollowerGraphFor(ctx, pubkey, argInt(args, "depth"))
	if err != nil {
		return toolCallResult{}, pipelineError(err)
	}

	return newToolResult(graph), nil
}

func (r *Router) handleZapAnalytics(ctx context.Context, args map[string]interface{}) (toolCallResult, *toolExecutionError) {
	if early, toolErr := r.gateCall(ctx, toolNameZapAnalytics, args); toolErr != nil || early != nil {
		if toolErr != nil {
			return toolCallResult{}, toolErr
		}
		return *early, nil
	}

	pubkey, err := parsePubkey(argString(args, "pubkey"))
	if err != nil {
		return toolCallResult{}, invalidInput("invalid pubkey: %v", err)
	}

	analytics, err := r.deps.Intel.ZapAnalyticsFor(ctx, pubkey, argString(args, "timeframe"))
	if err != nil {
		return toolCallResult{}, pipelineError(err)
	}

	return newToolResult(analytics), nil
}

func pipelineError(err error) *toolExecutionError {
	if isInvalidInput(err) {
		return &toolExecutionError{Code: "INVALID_INPUT", Message: err.Error()}
	}
	return &toolExecutionError{Code: "NETWORK_IO", Message: err.Error(), Retryable: true}
}

func isInvalidInput(err error) bool {
	return errors.Is(err, model.ErrInvalidInput)
}

// parsePubkey accepts a 64-char hex pubkey or an npub.
func parsePubkey(input string) (string, error) {
	if input == "" {
		return "", fmt.Errorf("pubkey is required")
	}
	if isHexPubkey(input) {
		return input, nil
	}
	prefix, value, err := nip19.Decode(input)
	if err != nil || prefix != "npub" {
		return "", fmt.Errorf("%q is not a hex pubkey or npub", input)
	}
	return value.(string), nil
}
