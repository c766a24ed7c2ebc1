package intel

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/nbd-wtf/go-nostr"
)

const (
	trendingCandidates  = 200
	trendingLimitMax    = 50
	trendingLimitDflt   = 20
	previewBytes        = 280
	defaultTimeframe    = "24h"
	defaultZapTimeframe = "30d"
)

type TrendingNote struct {
	ID           string `json:"id"`
	Pubkey       string `json:"pubkey"`
	AuthorName   string `json:"author_name,omitempty"`
	Preview      string `json:"preview"`
	CreatedAt    int64  `json:"created_at"`
	Reactions    uint32 `json:"reactions"`
	Reposts      uint32 `json:"reposts"`
	ZapTotalSats uint64 `json:"zap_total_sats"`
	Score        uint64 `json:"score"`
}

type TrendingResult struct {
	Timeframe string         `json:"timeframe"`
	Notes     []TrendingNote `json:"notes"`
	Count     int            `json:"count"`
}

// TrendingNotes ranks recent notes by engagement: reactions count once,
// reposts three times. Zap totals are not yet folded into the score.
func (s *Service) TrendingNotes(ctx context.Context, timeframe string, limit int) (*TrendingResult, error) {
	if timeframe == "" {
		timeframe = defaultTimeframe
	}
	seconds, err := ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = trendingLimitDflt
	}
	if limit > trendingLimitMax {
		limit = trendingLimitMax
	}

	since := s.nowFunc().Add(-time.Duration(seconds) * time.Second)
	notes, err := s.fetcher.FetchRecentNotes(ctx, since, trendingCandidates)
	if err != nil {
		return nil, fmt.Errorf("fetch recent notes: %w", err)
	}
	if len(notes) == 0 {
		return &TrendingResult{Timeframe: timeframe, Notes: []TrendingNote{}}, nil
	}

	noteIDs := make([]string, 0, len(notes))
	for _, note := range notes {
		noteIDs = append(noteIDs, note.ID)
	}

	reactions := make(map[string]uint32)
	reposts := make(map[string]uint32)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		evs, err := s.fetcher.FetchReactions(ctx, noteIDs, since)
		if err != nil {
			log.WithError(err).Warn("reaction fetch failed, scoring without reactions")
			return
		}
		tallyByETag(evs, reactions)
	}()
	go func() {
		defer wg.Done()
		evs, err := s.fetcher.FetchReposts(ctx, noteIDs, since)
		if err != nil {
			log.WithError(err).Warn("repost fetch failed, scoring without reposts")
			return
		}
		tallyByETag(evs, reposts)
	}()
	wg.Wait()

	ranked := make([]TrendingNote, 0, len(notes))
	for _, note := range notes {
		r := reactions[note.ID]
		rp := reposts[note.ID]
		ranked = append(ranked, TrendingNote{
			ID:         note.ID,
			Pubkey:     note.PubKey,
			AuthorName: s.cachedName(ctx, note.PubKey),
			Preview:    previewContent(note.Content),
			CreatedAt:  int64(note.CreatedAt),
			Reactions:  r,
			Reposts:    rp,
			Score:      uint64(r) + 3*uint64(rp),
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	return &TrendingResult{Timeframe: timeframe, Notes: ranked, Count: len(ranked)}, nil
}

// tallyByETag counts, per referenced note id, how many events mention it.
func tallyByETag(evs []*nostr.Event, counts map[string]uint32) {
	for _, ev := range evs {
		for _, id := range tagValues(ev, "e") {
			counts[id]++
		}
	}
}

// previewContent truncates content to previewBytes, backing off to a rune
// boundary, and appends an ellipsis.
func previewContent(content string) string {
	if len(content) <= previewBytes {
		return content
	}
	cut := previewBytes
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut] + "..."
}
