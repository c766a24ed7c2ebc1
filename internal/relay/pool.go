// Package relay issues single-shot filtered queries against the configured
// relay set and probes relay NIP-11 documents.
package relay

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sirupsen/logrus"

	"nostrintel/internal/metrics"
)

var log = logrus.WithField("module", "relay")

const (
	metadataTimeout = 10 * time.Second
	queryTimeout    = 15 * time.Second
	maxQueryLimit   = 100
)

// Pool fans filtered queries out to every configured relay and merges the
// results. Connections are established lazily and reused until they drop.
type Pool struct {
	urls []string

	mu     sync.Mutex
	relays map[string]*nostr.Relay
}

// NewPool connects to every relay up front, best effort: a failed dial is
// logged and retried lazily on first use.
func NewPool(urls []string) *Pool {
	p := &Pool{
		urls:   urls,
		relays: make(map[string]*nostr.Relay),
	}
	for _, url := range urls {
		go func(url string) {
			ctx, cancel := context.WithTimeout(context.Background(), metadataTimeout)
			defer cancel()
			if _, err := p.relayFor(ctx, url); err != nil {
				log.WithError(err).WithField("relay", url).Warn("initial relay connect failed")
			}
		}(url)
	}
	return p
}

// URLs returns the configured relay set.
func (p *Pool) URLs() []string {
	out := make([]string, len(p.urls))
	copy(out, p.urls)
	return out
}

// Close drops every open relay connection.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for url, r := range p.relays {
		_ = r.Close()
		delete(p.relays, url)
	}
}

func (p *Pool) relayFor(ctx context.Context, url string) (*nostr.Relay, error) {
	p.mu.Lock()
	if r, ok := p.relays[url]; ok && r.IsConnected() {
		p.mu.Unlock()
		return r, nil
	}
	p.mu.Unlock()

	r, err := nostr.RelayConnect(ctx, url)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.relays[url] = r
	p.mu.Unlock()
	return r, nil
}

// queryAll runs one filter against every relay within the timeout and
// returns the events deduplicated by id. Per-relay failures are logged and
// skipped; the call only fails when every relay fails.
func (p *Pool) queryAll(ctx context.Context, filter nostr.Filter, timeout time.Duration) ([]*nostr.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		events []*nostr.Event
		err    error
	}
	results := make(chan result, len(p.urls))

	for _, url := range p.urls {
		go func(url string) {
			r, err := p.relayFor(ctx, url)
			if err != nil {
				results <- result{err: err}
				return
			}
			events, err := r.QuerySync(ctx, filter)
			results <- result{events: events, err: err}
		}(url)
	}

	var (
		merged  []*nostr.Event
		seen    = make(map[string]bool)
		lastErr error
		failed  int
	)
	for range p.urls {
		res := <-results
		if res.err != nil {
			failed++
			lastErr = res.err
			metrics.RelayQueryErrors.Inc()
			log.WithError(res.err).Debug("relay query failed")
			continue
		}
		for _, ev := range res.events {
			if ev == nil || seen[ev.ID] {
				continue
			}
			seen[ev.ID] = true
			merged = append(merged, ev)
		}
	}

	if failed == len(p.urls) && lastErr != nil {
		return nil, lastErr
	}
	return merged, nil
}

// queryLatest returns the most recent single event matching the filter, or
// nil when no relay has one.
func (p *Pool) queryLatest(ctx context.Context, filter nostr.Filter, timeout time.Duration) (*nostr.Event, error) {
	filter.Limit = 1
	events, err := p.queryAll(ctx, filter, timeout)
	if err != nil {
		return nil, err
	}
	var latest *nostr.Event
	for _, ev := range events {
		if latest == nil || ev.CreatedAt > latest.CreatedAt {
			latest = ev
		}
	}
	return latest, nil
}

// GetMetadata fetches the latest kind-0 event for a pubkey.
func (p *Pool) GetMetadata(ctx context.Context, pubkey string) (*nostr.Event, error) {
	if pubkey == "" {
		return nil, nil
	}
	return p.queryLatest(ctx, nostr.Filter{Kinds: []int{0}, Authors: []string{pubkey}}, metadataTimeout)
}

// FetchRelayList fetches the latest kind-10002 relay list for a pubkey.
func (p *Pool) FetchRelayList(ctx context.Context, pubkey string) (*nostr.Event, error) {
	if pubkey == "" {
		return nil, nil
	}
	return p.queryLatest(ctx, nostr.Filter{Kinds: []int{10002}, Authors: []string{pubkey}}, metadataTimeout)
}

// FetchContactList fetches the latest kind-3 contact list authored by a
// pubkey.
func (p *Pool) FetchContactList(ctx context.Context, pubkey string) (*nostr.Event, error) {
	if pubkey == "" {
		return nil, nil
	}
	return p.queryLatest(ctx, nostr.Filter{Kinds: []int{3}, Authors: []string{pubkey}}, metadataTimeout)
}

// SearchEvents runs a general filtered query. limit is clamped to 100.
func (p *Pool) SearchEvents(ctx context.Context, authors []string, kinds []int, search string, since *time.Time, limit int) ([]*nostr.Event, error) {
	filter := nostr.Filter{
		Kinds:  kinds,
		Search: search,
		Limit:  clampLimit(limit),
	}
	if len(authors) > 0 {
		filter.Authors = authors
	}
	if since != nil {
		ts := nostr.Timestamp(since.Unix())
		filter.Since = &ts
	}
	events, err := p.queryAll(ctx, filter, queryTimeout)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].CreatedAt > events[j].CreatedAt })
	if len(events) > filter.Limit {
		events = events[:filter.Limit]
	}
	return events, nil
}

// FetchReactions fetches kind-7 events referencing any of the note ids.
func (p *Pool) FetchReactions(ctx context.Context, noteIDs []string, since time.Time) ([]*nostr.Event, error) {
	return p.fetchByETag(ctx, 7, noteIDs, since)
}

// FetchReposts fetches kind-6 events referencing any of the note ids.
func (p *Pool) FetchReposts(ctx context.Context, noteIDs []string, since time.Time) ([]*nostr.Event, error) {
	return p.fetchByETag(ctx, 6, noteIDs, since)
}

func (p *Pool) fetchByETag(ctx context.Context, kind int, noteIDs []string, since time.Time) ([]*nostr.Event, error) {
	if len(noteIDs) == 0 {
		return nil, nil
	}
	ts := nostr.Timestamp(since.Unix())
	return p.queryAll(ctx, nostr.Filter{
		Kinds: []int{kind},
		Tags:  nostr.TagMap{"e": noteIDs},
		Since: &ts,
	}, queryTimeout)
}

// FetchZapReceipts fetches kind-9735 receipts addressed to a pubkey.
func (p *Pool) FetchZapReceipts(ctx context.Context, pubkey string, since time.Time) ([]*nostr.Event, error) {
	if pubkey == "" {
		return nil, nil
	}
	ts := nostr.Timestamp(since.Unix())
	return p.queryAll(ctx, nostr.Filter{
		Kinds: []int{9735},
		Tags:  nostr.TagMap{"p": []string{pubkey}},
		Since: &ts,
	}, queryTimeout)
}

// FetchRecentNotes fetches kind-1 notes newer than since.
func (p *Pool) FetchRecentNotes(ctx context.Context, since time.Time, limit int) ([]*nostr.Event, error) {
	ts := nostr.Timestamp(since.Unix())
	return p.queryAll(ctx, nostr.Filter{
		Kinds: []int{1},
		Since: &ts,
		Limit: limit,
	}, queryTimeout)
}

// FetchFollowers fetches contact-list events that p-tag the pubkey.
func (p *Pool) FetchFollowers(ctx context.Context, pubkey string, limit int) ([]*nostr.Event, error) {
	if pubkey == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = maxQueryLimit
	}
	return p.queryAll(ctx, nostr.Filter{
		Kinds: []int{3},
		Tags:  nostr.TagMap{"p": []string{pubkey}},
		Limit: clampLimit(limit),
	}, queryTimeout)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > maxQueryLimit {
		return maxQueryLimit
	}
	return limit
}
