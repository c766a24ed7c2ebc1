package mcp

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip05"
	"github.com/nbd-wtf/go-nostr/nip19"

	"nostrintel/internal/model"
	"nostrintel/internal/relay"
)

// probeClient serves NIP-05 and NIP-11 lookups; relay queries go over
// websockets and do not use it.
var probeClient = &http.Client{Timeout: 10 * time.Second}

type decodeNostrURIResponse struct {
	EntityType string   `json:"entity_type"`
	HexID      string   `json:"hex_id"`
	Relays     []string `json:"relays,omitempty"`
	AuthorHex  string   `json:"author_hex,omitempty"`
	Kind       *int     `json:"kind,omitempty"`
}

func (r *Router) handleDecodeNostrURI(_ context.Context, args map[string]interface{}) (toolCallResult, *toolExecutionError) {
	uri := argString(args, "uri")
	if uri == "" {
		return toolCallResult{}, invalidInput("uri is required")
	}
	uri = strings.TrimPrefix(uri, "nostr:")

	prefix, value, err := nip19.Decode(uri)
	if err != nil {
		return toolCallResult{}, invalidInput("cannot decode %q: %v", uri, err)
	}

	var resp decodeNostrURIResponse
	switch prefix {
	case "npub":
		resp = decodeNostrURIResponse{EntityType: "pubkey", HexID: value.(string)}
	case "note":
		resp = decodeNostrURIResponse{EntityType: "event_id", HexID: value.(string)}
	case "nprofile":
		pointer := value.(nostr.ProfilePointer)
		resp = decodeNostrURIResponse{
			EntityType: "profile",
			HexID:      pointer.PublicKey,
			Relays:     pointer.Relays,
		}
	case "nevent":
		pointer := value.(nostr.EventPointer)
		resp = decodeNostrURIResponse{
			EntityType: "event",
			HexID:      pointer.ID,
			Relays:     pointer.Relays,
			AuthorHex:  pointer.Author,
		}
		if pointer.Kind != 0 {
			kind := pointer.Kind
			resp.Kind = &kind
		}
	case "naddr":
		pointer := value.(nostr.EntityPointer)
		kind := pointer.Kind
		resp = decodeNostrURIResponse{
			EntityType: "coordinate",
			HexID:      pointer.Identifier,
			Relays:     pointer.Relays,
			AuthorHex:  pointer.PublicKey,
			Kind:       &kind,
		}
	default:
		return toolCallResult{}, invalidInput("unsupported entity type %q", prefix)
	}

	return newToolResult(resp), nil
}

type resolveNIP05Response struct {
	Pubkey     string   `json:"pubkey"`
	PubkeyNpub string   `json:"pubkey_npub"`
	Relays     []string `json:"relays,omitempty"`
}

func (r *Router) handleResolveNIP05(ctx context.Context, args map[string]interface{}) (toolCallResult, *toolExecutionError) {
	identifier := argString(args, "nip05")
	if identifier == "" {
		return toolCallResult{}, invalidInput("nip05 is required")
	}

	pointer, err := nip05.QueryIdentifier(ctx, identifier)
	if err != nil {
		return toolCallResult{}, &toolExecutionError{
			Code:      "NOT_FOUND",
			Message:   fmt.Sprintf("cannot resolve %q: %v", identifier, err),
			Retryable: true,
		}
	}

	npub, err := nip19.EncodePublicKey(pointer.PublicKey)
	if err != nil {
		return toolCallResult{}, &toolExecutionError{
			Code:    "PARSE",
			Message: fmt.Sprintf("resolved pubkey is invalid: %v", err),
		}
	}

	return newToolResult(resolveNIP05Response{
		Pubkey:     pointer.PublicKey,
		PubkeyNpub: npub,
		Relays:     pointer.Relays,
	}), nil
}

type getProfileResponse struct {
	Pubkey      string `json:"pubkey"`
	Name        string `json:"name,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	About       string `json:"about,omitempty"`
	Picture     string `json:"picture,omitempty"`
	Banner      string `json:"banner,omitempty"`
	NIP05       string `json:"nip05,omitempty"`
	Lud16       string `json:"lud16,omitempty"`
	Website     string `json:"website,omitempty"`
	MatchedBy   string `json:"matched_by,omitempty"`
}

func (r *Router) handleGetProfile(ctx context.Context, args map[string]interface{}) (toolCallResult, *toolExecutionError) {
	input := argString(args, "pubkey")
	if input == "" {
		return toolCallResult{}, invalidInput("pubkey is required")
	}

	pubkey, matchedBy, toolErr := r.resolveProfileKey(ctx, input)
	if toolErr != nil {
		return toolCallResult{}, toolErr
	}

	profile, toolErr := r.loadProfile(ctx, pubkey)
	if toolErr != nil {
		return toolCallResult{}, toolErr
	}

	return newToolResult(getProfileResponse{
		Pubkey:      profile.Pubkey,
		Name:        profile.Name,
		DisplayName: profile.DisplayName,
		About:       profile.About,
		Picture:     profile.Picture,
		Banner:      profile.Banner,
		NIP05:       profile.NIP05,
		Lud16:       profile.Lud16,
		Website:     profile.Website,
		MatchedBy:   matchedBy,
	}), nil
}

// resolveProfileKey turns hex, npub, NIP-05, or a bare name into a hex
// pubkey. The second return names the fallback used, "" for direct forms.
func (r *Router) resolveProfileKey(ctx context.Context, input string) (string, string, *toolExecutionError) {
	if isHexPubkey(input) {
		return strings.ToLower(input), "", nil
	}

	if strings.HasPrefix(input, "npub") {
		prefix, value, err := nip19.Decode(input)
		if err != nil || prefix != "npub" {
			return "", "", invalidInput("invalid npub %q", input)
		}
		return value.(string), "", nil
	}

	if strings.Contains(input, "@") {
		pointer, err := nip05.QueryIdentifier(ctx, input)
		if err != nil {
			return "", "", &toolExecutionError{
				Code:      "NOT_FOUND",
				Message:   fmt.Sprintf("cannot resolve %q: %v", input, err),
				Retryable: true,
			}
		}
		return pointer.PublicKey, "", nil
	}

	// Bare name: fuzzy search and take the top hit.
	if r.deps.Primal == nil {
		return "", "", invalidInput("%q is not a pubkey, npub, or NIP-05 identifier", input)
	}
	hits, err := r.deps.Primal.SearchProfiles(ctx, input, 1)
	if err != nil {
		return "", "", &toolExecutionError{
			Code:      "NETWORK_IO",
			Message:   fmt.Sprintf("name search failed: %v", err),
			Retryable: true,
		}
	}
	if len(hits) == 0 {
		return "", "", &toolExecutionError{
			Code:    "NOT_FOUND",
			Message: fmt.Sprintf("no profile found matching %q", input),
		}
	}
	return hits[0].Pubkey, "name_search", nil
}

// loadProfile serves from the cache, then falls back to a relay metadata
// fetch and refreshes the cache. Cache read errors degrade to a miss.
func (r *Router) loadProfile(ctx context.Context, pubkey string) (*model.CachedProfile, *toolExecutionError) {
	cached, err := r.deps.Store.GetProfile(ctx, pubkey)
	if err != nil {
		log.WithError(err).Warn("profile cache read failed")
	}
	if cached != nil {
		return cached, nil
	}

	ev, err := r.deps.Pool.GetMetadata(ctx, pubkey)
	if err != nil {
		return nil, &toolExecutionError{
			Code:      "NETWORK_IO",
			Message:   fmt.Sprintf("metadata fetch failed: %v", err),
			Retryable: true,
		}
	}
	if ev == nil {
		return nil, &toolExecutionError{
			Code:    "NOT_FOUND",
			Message: fmt.Sprintf("no profile metadata found for %s", pubkey),
		}
	}

	var meta model.ProfileMetadata
	if err := json.Unmarshal([]byte(ev.Content), &meta); err != nil {
		return nil, &toolExecutionError{
			Code:    "PARSE",
			Message: fmt.Sprintf("profile metadata is not valid JSON: %v", err),
		}
	}

	profile := &model.CachedProfile{
		Pubkey:      pubkey,
		Name:        meta.Name,
		DisplayName: meta.DisplayName,
		About:       meta.About,
		Picture:     meta.Picture,
		Banner:      meta.Banner,
		NIP05:       meta.NIP05,
		Lud16:       meta.Lud16,
		Website:     meta.Website,
	}
	if err := r.deps.Store.SetProfile(ctx, *profile); err != nil {
		log.WithError(err).Warn("profile cache write failed")
	}
	return profile, nil
}

type checkRelayResponse struct {
	Online        bool   `json:"online"`
	LatencyMS     *int64 `json:"latency_ms,omitempty"`
	Name          string `json:"name,omitempty"`
	Description   string `json:"description,omitempty"`
	SupportedNIPs []int  `json:"supported_nips,omitempty"`
	Software      string `json:"software,omitempty"`
	Version       string `json:"version,omitempty"`
}

func (r *Router) handleCheckRelay(ctx context.Context, args map[string]interface{}) (toolCallResult, *toolExecutionError) {
	relayURL := argString(args, "relay_url")
	if relayURL == "" {
		return toolCallResult{}, invalidInput("relay_url is required")
	}

	cached, err := r.deps.Store.GetRelayInfo(ctx, relayURL)
	if err != nil {
		log.WithError(err).Warn("relay cache read failed")
	}

	var info model.CachedRelayInfo
	if cached != nil {
		info = *cached
	} else {
		info = relay.ProbeRelay(ctx, probeClient, relayURL)
		if err := r.deps.Store.SetRelayInfo(ctx, info); err != nil {
			log.WithError(err).Warn("relay cache write failed")
		}
	}

	return newToolResult(checkRelayResponse{
		Online:        info.Online,
		LatencyMS:     info.LatencyMS,
		Name:          info.Name,
		Description:   info.Description,
		SupportedNIPs: info.SupportedNIPs,
		Software:      info.Software,
		Version:       info.Version,
	}), nil
}

const (
	searchProfilesDefaultLimit = 5
	searchProfilesMaxLimit     = 20
)

type profileSearchResult struct {
	Pubkey         string  `json:"pubkey"`
	PubkeyNpub     string  `json:"pubkey_npub"`
	Name           string  `json:"name,omitempty"`
	DisplayName    string  `json:"display_name,omitempty"`
	About          string  `json:"about,omitempty"`
	Picture        string  `json:"picture,omitempty"`
	NIP05          string  `json:"nip05,omitempty"`
	Lud16          string  `json:"lud16,omitempty"`
	Website        string  `json:"website,omitempty"`
	FollowersCount *uint64 `json:"followers_count,omitempty"`
}

type searchProfilesResponse struct {
	Query    string                `json:"query"`
	Profiles []profileSearchResult `json:"profiles"`
	Count    int                   `json:"count"`
	Source   string                `json:"source"`
}

func (r *Router) handleSearchProfiles(ctx context.Context, args map[string]interface{}) (toolCallResult, *toolExecutionError) {
	query := argString(args, "query")
	if query == "" {
		return toolCallResult{}, invalidInput("query is required")
	}
	limit := argInt(args, "limit")
	if limit <= 0 {
		limit = searchProfilesDefaultLimit
	}
	if limit > searchProfilesMaxLimit {
		limit = searchProfilesMaxLimit
	}

	if r.deps.Primal == nil {
		return toolCallResult{}, &toolExecutionError{
			Code:    "UNSUPPORTED",
			Message: "profile search backend is not configured",
		}
	}

	hits, err := r.deps.Primal.SearchProfiles(ctx, query, limit)
	if err != nil {
		return toolCallResult{}, &toolExecutionError{
			Code:      "NETWORK_IO",
			Message:   fmt.Sprintf("profile search failed: %v", err),
			Retryable: true,
		}
	}

	profiles := make([]profileSearchResult, 0, len(hits))
	for _, hit := range hits {
		npub, err := nip19.EncodePublicKey(hit.Pubkey)
		if err != nil {
			continue
		}
		profiles = append(profiles, profileSearchResult{
			Pubkey:         hit.Pubkey,
			PubkeyNpub:     npub,
			Name:           hit.Name,
			DisplayName:    hit.DisplayName,
			About:          hit.About,
			Picture:        hit.Picture,
			NIP05:          hit.NIP05,
			Lud16:          hit.Lud16,
			Website:        hit.Website,
			FollowersCount: hit.FollowersCount,
		})
	}

	return newToolResult(searchProfilesResponse{
		Query:    query,
		Profiles: profiles,
		Count:    len(profiles),
		Source:   "primal",
	}), nil
}

func isHexPubkey(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
