// Package primal queries the Primal cache API for profile search, which
// plain relays cannot answer well.
package primal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"nostrintel/internal/model"
)

const (
	DefaultAPIURL = "https://cache1.primal.net/api"

	requestTimeout = 15 * time.Second

	// Primal's non-standard event kind carrying follower counts keyed by
	// pubkey.
	kindFollowerCounts = 10000108
)

// ProfileHit is one profile search result, optionally enriched with
// Primal's follower count.
type ProfileHit struct {
	Pubkey         string  `json:"pubkey"`
	Name           string  `json:"name,omitempty"`
	DisplayName    string  `json:"display_name,omitempty"`
	About          string  `json:"about,omitempty"`
	Picture        string  `json:"picture,omitempty"`
	NIP05          string  `json:"nip05,omitempty"`
	Lud16          string  `json:"lud16,omitempty"`
	Website        string  `json:"website,omitempty"`
	FollowersCount *uint64 `json:"followers_count,omitempty"`
}

type Client struct {
	apiURL string
	http   *http.Client
}

func NewClient(apiURL string) *Client {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	return &Client{
		apiURL: apiURL,
		http:   &http.Client{Timeout: requestTimeout},
	}
}

type primalEvent struct {
	Kind    int    `json:"kind"`
	Pubkey  string `json:"pubkey"`
	Content string `json:"content"`
}

// SearchProfiles runs a user_search against the Primal cache and merges the
// kind-0 hits with follower counts.
func (c *Client) SearchProfiles(ctx context.Context, query string, limit int) ([]ProfileHit, error) {
	body, err := json.Marshal([]interface{}{
		"user_search",
		map[string]interface{}{"query": query, "limit": limit},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrParse, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrNetworkIO, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: Primal API request failed: %v", model.ErrNetworkIO, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: Primal API HTTP error: %d", model.ErrNetworkIO, resp.StatusCode)
	}

	var events []primalEvent
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, fmt.Errorf("%w: Primal API JSON parse error: %v", model.ErrParse, err)
	}

	var hits []ProfileHit
	for _, ev := range events {
		if ev.Kind != 0 || ev.Pubkey == "" {
			continue
		}
		var meta model.ProfileMetadata
		// Unparseable metadata still yields a bare hit with the pubkey.
		_ = json.Unmarshal([]byte(ev.Content), &meta)
		hits = append(hits, ProfileHit{
			Pubkey:      ev.Pubkey,
			Name:        meta.Name,
			DisplayName: meta.DisplayName,
			About:       meta.About,
			Picture:     meta.Picture,
			NIP05:       meta.NIP05,
			Lud16:       meta.Lud16,
			Website:     meta.Website,
		})
	}

	for _, ev := range events {
		if ev.Kind != kindFollowerCounts {
			continue
		}
		var counts map[string]uint64
		if err := json.Unmarshal([]byte(ev.Content), &counts); err != nil {
			continue
		}
		for i := range hits {
			if count, ok := counts[hits[i].Pubkey]; ok {
				c := count
				hits[i].FollowersCount = &c
			}
		}
	}

	return hits, nil
}
