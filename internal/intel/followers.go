package intel

import (
	"context"
	"fmt"
)

const followerFetchLimit = 100

type GraphEntry struct {
	Pubkey string `json:"pubkey"`
	Name   string `json:"name,omitempty"`
}

type FollowerGraph struct {
	Pubkey         string       `json:"pubkey"`
	Depth          int          `json:"depth"`
	Following      []GraphEntry `json:"following"`
	Followers      []GraphEntry `json:"followers"`
	Mutuals        []GraphEntry `json:"mutual_follows"`
	FollowingCount int          `json:"following_count"`
	FollowersCount int          `json:"followers_count"`
	MutualCount    int          `json:"mutual_count"`
}

// FollowerGraphFor assembles the follow graph around one pubkey: who they
// follow (their kind-3 p tags), who follows them (authors of contact lists
// p-tagging them), and the intersection. Depth is clamped to {1, 2}; depth 2
// currently yields the same graph and exists for pricing.
func (s *Service) FollowerGraphFor(ctx context.Context, pubkey string, depth int) (*FollowerGraph, error) {
	if depth < 1 {
		depth = 1
	}
	if depth > 2 {
		depth = 2
	}

	contactList, err := s.fetcher.FetchContactList(ctx, pubkey)
	if err != nil {
		return nil, fmt.Errorf("fetch contact list: %w", err)
	}

	var followingKeys []string
	seen := make(map[string]bool)
	if contactList != nil {
		for _, pk := range tagValues(contactList, "p") {
			if !seen[pk] {
				seen[pk] = true
				followingKeys = append(followingKeys, pk)
			}
		}
	}

	followerEvents, err := s.fetcher.FetchFollowers(ctx, pubkey, followerFetchLimit)
	if err != nil {
		return nil, fmt.Errorf("fetch followers: %w", err)
	}

	var followerKeys []string
	seenFollower := make(map[string]bool)
	for _, ev := range followerEvents {
		if !seenFollower[ev.PubKey] {
			seenFollower[ev.PubKey] = true
			followerKeys = append(followerKeys, ev.PubKey)
		}
	}

	var mutualKeys []string
	for _, pk := range followerKeys {
		if seen[pk] {
			mutualKeys = append(mutualKeys, pk)
		}
	}

	graph := &FollowerGraph{
		Pubkey:         pubkey,
		Depth:          depth,
		Following:      s.enrich(ctx, followingKeys),
		Followers:      s.enrich(ctx, followerKeys),
		Mutuals:        s.enrich(ctx, mutualKeys),
		FollowingCount: len(followingKeys),
		FollowersCount: len(followerKeys),
		MutualCount:    len(mutualKeys),
	}
	return graph, nil
}

func (s *Service) enrich(ctx context.Context, pubkeys []string) []GraphEntry {
	entries := make([]GraphEntry, 0, len(pubkeys))
	for _, pk := range pubkeys {
		entries = append(entries, GraphEntry{Pubkey: pk, Name: s.cachedName(ctx, pk)})
	}
	return entries
}
