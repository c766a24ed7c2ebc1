package intel

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"nostrintel/internal/model"
)

type fakeFetcher struct {
	notes        []*nostr.Event
	reactions    []*nostr.Event
	reposts      []*nostr.Event
	contactList  *nostr.Event
	followers    []*nostr.Event
	zapReceipts  []*nostr.Event
	notesErr     error
	reactionsErr error
	zapsErr      error

	notesLimit   int
	zapSince     time.Time
	followLimit  int
	reactionsIDs []string
}

func (f *fakeFetcher) FetchRecentNotes(_ context.Context, _ time.Time, limit int) ([]*nostr.Event, error) {
	f.notesLimit = limit
	return f.notes, f.notesErr
}

func (f *fakeFetcher) FetchReactions(_ context.Context, noteIDs []string, _ time.Time) ([]*nostr.Event, error) {
	f.reactionsIDs = noteIDs
	return f.reactions, f.reactionsErr
}

func (f *fakeFetcher) FetchReposts(_ context.Context, _ []string, _ time.Time) ([]*nostr.Event, error) {
	return f.reposts, nil
}

func (f *fakeFetcher) FetchContactList(_ context.Context, _ string) (*nostr.Event, error) {
	return f.contactList, nil
}

func (f *fakeFetcher) FetchFollowers(_ context.Context, _ string, limit int) ([]*nostr.Event, error) {
	f.followLimit = limit
	return f.followers, nil
}

func (f *fakeFetcher) FetchZapReceipts(_ context.Context, _ string, since time.Time) ([]*nostr.Event, error) {
	f.zapSince = since
	return f.zapReceipts, f.zapsErr
}

type fakeCache struct {
	names map[string]string
}

func (c *fakeCache) GetProfile(_ context.Context, pubkey string) (*model.CachedProfile, error) {
	name, ok := c.names[pubkey]
	if !ok {
		return nil, nil
	}
	return &model.CachedProfile{Pubkey: pubkey, Name: name}, nil
}

func note(id, pubkey, content string) *nostr.Event {
	return &nostr.Event{ID: id, PubKey: pubkey, Kind: 1, CreatedAt: 1700000000, Content: content}
}

func refEvent(kind int, noteID string) *nostr.Event {
	return &nostr.Event{Kind: kind, Tags: nostr.Tags{{"e", noteID}}}
}

func TestTrendingNotes_Scoring(t *testing.T) {
	fetcher := &fakeFetcher{
		notes: []*nostr.Event{
			note("n1", "alice", "first"),
			note("n2", "bob", "second"),
			note("n3", "carol", "third"),
		},
		// n1: 5 reactions. n2: 1 reaction + 2 reposts = 7. n3: nothing.
		reactions: []*nostr.Event{
			refEvent(7, "n1"), refEvent(7, "n1"), refEvent(7, "n1"),
			refEvent(7, "n1"), refEvent(7, "n1"),
			refEvent(7, "n2"),
		},
		reposts: []*nostr.Event{refEvent(6, "n2"), refEvent(6, "n2")},
	}
	svc := NewService(fetcher, &fakeCache{names: map[string]string{"alice": "Alice"}})

	result, err := svc.TrendingNotes(context.Background(), "24h", 0)
	if err != nil {
		t.Fatalf("TrendingNotes failed: %v", err)
	}
	if fetcher.notesLimit != 200 {
		t.Fatalf("expected candidate fetch of 200, got %d", fetcher.notesLimit)
	}
	if len(result.Notes) != 3 {
		t.Fatalf("expected 3 notes, got %d", len(result.Notes))
	}
	if result.Notes[0].ID != "n2" || result.Notes[0].Score != 7 {
		t.Fatalf("expected n2 first with score 7, got %s score %d", result.Notes[0].ID, result.Notes[0].Score)
	}
	if result.Notes[1].ID != "n1" || result.Notes[1].Score != 5 {
		t.Fatalf("expected n1 second with score 5, got %s score %d", result.Notes[1].ID, result.Notes[1].Score)
	}
	if result.Notes[2].Score != 0 {
		t.Fatalf("expected n3 last with score 0, got %d", result.Notes[2].Score)
	}
	if result.Notes[1].AuthorName != "Alice" {
		t.Fatalf("expected cache enrichment, got %q", result.Notes[1].AuthorName)
	}
	if result.Notes[0].ZapTotalSats != 0 {
		t.Fatal("zap contribution is not scored yet and must stay 0")
	}
}

func TestTrendingNotes_StableOrderOnTies(t *testing.T) {
	fetcher := &fakeFetcher{
		notes: []*nostr.Event{note("n1", "a", "x"), note("n2", "b", "y"), note("n3", "c", "z")},
	}
	svc := NewService(fetcher, nil)

	result, err := svc.TrendingNotes(context.Background(), "24h", 20)
	if err != nil {
		t.Fatalf("TrendingNotes failed: %v", err)
	}
	// All scores tie at zero; fetch order must be preserved.
	if result.Notes[0].ID != "n1" || result.Notes[1].ID != "n2" || result.Notes[2].ID != "n3" {
		t.Fatalf("tie order not stable: %v", []string{result.Notes[0].ID, result.Notes[1].ID, result.Notes[2].ID})
	}
}

func TestTrendingNotes_LimitAndPreview(t *testing.T) {
	long := strings.Repeat("a", 300)
	fetcher := &fakeFetcher{notes: []*nostr.Event{note("n1", "a", long)}}
	svc := NewService(fetcher, nil)

	result, err := svc.TrendingNotes(context.Background(), "24h", 500)
	if err != nil {
		t.Fatalf("TrendingNotes failed: %v", err)
	}
	preview := result.Notes[0].Preview
	if len(preview) != 283 || !strings.HasSuffix(preview, "...") {
		t.Fatalf("expected 280-byte preview with ellipsis, got %d bytes", len(preview))
	}

	if _, err := svc.TrendingNotes(context.Background(), "24x", 20); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("unknown timeframe suffix must fail, got %v", err)
	}
}

func TestTrendingNotes_DegradesWhenReactionsFail(t *testing.T) {
	fetcher := &fakeFetcher{
		notes:        []*nostr.Event{note("n1", "a", "x")},
		reactionsErr: errors.New("relay timeout"),
		reposts:      []*nostr.Event{refEvent(6, "n1")},
	}
	svc := NewService(fetcher, nil)

	result, err := svc.TrendingNotes(context.Background(), "24h", 20)
	if err != nil {
		t.Fatalf("reaction failure must not fail the pipeline: %v", err)
	}
	if result.Notes[0].Score != 3 {
		t.Fatalf("expected repost-only score 3, got %d", result.Notes[0].Score)
	}
}

func TestFollowerGraph(t *testing.T) {
	contactList := &nostr.Event{
		Kind: 3,
		Tags: nostr.Tags{{"p", "bob"}, {"p", "carol"}, {"p", "bob"}, {"p", "dave"}},
	}
	fetcher := &fakeFetcher{
		contactList: contactList,
		followers: []*nostr.Event{
			{Kind: 3, PubKey: "carol"},
			{Kind: 3, PubKey: "erin"},
			{Kind: 3, PubKey: "carol"},
			{Kind: 3, PubKey: "dave"},
		},
	}
	svc := NewService(fetcher, &fakeCache{names: map[string]string{"carol": "Carol"}})

	graph, err := svc.FollowerGraphFor(context.Background(), "alice", 1)
	if err != nil {
		t.Fatalf("FollowerGraphFor failed: %v", err)
	}
	if graph.FollowingCount != 3 {
		t.Fatalf("expected 3 following after dedup, got %d", graph.FollowingCount)
	}
	if graph.FollowersCount != 3 {
		t.Fatalf("expected 3 followers after dedup, got %d", graph.FollowersCount)
	}
	// Insertion order dedup: carol then erin then dave.
	if graph.Followers[0].Pubkey != "carol" || graph.Followers[1].Pubkey != "erin" {
		t.Fatalf("follower order not preserved: %#v", graph.Followers)
	}
	if graph.MutualCount != 2 {
		t.Fatalf("expected mutuals {carol, dave}, got %#v", graph.Mutuals)
	}
	if graph.Followers[0].Name != "Carol" {
		t.Fatalf("expected cache enrichment, got %#v", graph.Followers[0])
	}
	if fetcher.followLimit != 100 {
		t.Fatalf("expected follower fetch limit 100, got %d", fetcher.followLimit)
	}
}

func TestFollowerGraph_DepthClamp(t *testing.T) {
	fetcher := &fakeFetcher{}
	svc := NewService(fetcher, nil)

	graph, err := svc.FollowerGraphFor(context.Background(), "alice", 7)
	if err != nil {
		t.Fatalf("FollowerGraphFor failed: %v", err)
	}
	if graph.Depth != 2 {
		t.Fatalf("depth must clamp to 2, got %d", graph.Depth)
	}

	graph, err = svc.FollowerGraphFor(context.Background(), "alice", 0)
	if err != nil {
		t.Fatalf("FollowerGraphFor failed: %v", err)
	}
	if graph.Depth != 1 {
		t.Fatalf("depth must clamp to 1, got %d", graph.Depth)
	}
	if graph.FollowingCount != 0 || len(graph.Following) != 0 {
		t.Fatalf("missing contact list must yield an empty graph: %#v", graph)
	}
}

func zapReceipt(createdAt int64, tags nostr.Tags) *nostr.Event {
	return &nostr.Event{Kind: 9735, CreatedAt: nostr.Timestamp(createdAt), Tags: tags}
}

func TestZapAnalytics(t *testing.T) {
	// 2023-11-14 and 2023-11-15 UTC.
	day1 := int64(1700000000)
	day2 := day1 + 86_400

	fetcher := &fakeFetcher{
		zapReceipts: []*nostr.Event{
			// bolt11 tag wins over the description amount.
			zapReceipt(day1, nostr.Tags{
				{"bolt11", "lnbc10u1xyz"},
				{"description", `{"pubkey":"zapper1","tags":[["amount","999000"]]}`},
				{"e", "note1"},
			}),
			// No bolt11: fall back to the description amount tag, msats/1000.
			zapReceipt(day1, nostr.Tags{
				{"description", `{"pubkey":"zapper2","tags":[["amount","5000"]]}`},
				{"e", "note1"},
			}),
			// Uppercase P tag beats the description pubkey.
			zapReceipt(day2, nostr.Tags{
				{"bolt11", "lnbc20u1xyz"},
				{"P", "zapper1"},
				{"description", `{"pubkey":"someone-else","tags":[]}`},
				{"e", "note2"},
			}),
			// No amount anywhere, no zapper anywhere.
			zapReceipt(day2, nostr.Tags{{"e", "note2"}}),
		},
	}
	svc := NewService(fetcher, &fakeCache{names: map[string]string{"zapper1": "Satoshi"}})

	analytics, err := svc.ZapAnalyticsFor(context.Background(), "alice", "")
	if err != nil {
		t.Fatalf("ZapAnalyticsFor failed: %v", err)
	}
	if analytics.Timeframe != "30d" {
		t.Fatalf("expected default timeframe 30d, got %s", analytics.Timeframe)
	}
	if analytics.TotalZaps != 4 {
		t.Fatalf("expected 4 zaps, got %d", analytics.TotalZaps)
	}
	// 1000 + 5 + 2000 + 0 sats.
	if analytics.TotalSats != 3005 {
		t.Fatalf("expected 3005 sats total, got %d", analytics.TotalSats)
	}
	if analytics.AverageSats != 3005/4 {
		t.Fatalf("unexpected average: %d", analytics.AverageSats)
	}

	if len(analytics.TopZappers) != 3 {
		t.Fatalf("expected 3 zappers, got %#v", analytics.TopZappers)
	}
	if analytics.TopZappers[0].Pubkey != "zapper1" || analytics.TopZappers[0].TotalSats != 3000 {
		t.Fatalf("expected zapper1 on top with 3000 sats, got %#v", analytics.TopZappers[0])
	}
	if analytics.TopZappers[0].Name != "Satoshi" {
		t.Fatalf("expected cache enrichment, got %#v", analytics.TopZappers[0])
	}
	hasUnknown := false
	for _, z := range analytics.TopZappers {
		if z.Pubkey == "unknown" {
			hasUnknown = true
		}
	}
	if !hasUnknown {
		t.Fatalf("anonymous zaps must be bucketed as unknown: %#v", analytics.TopZappers)
	}

	if len(analytics.TopNotes) != 2 || analytics.TopNotes[0].NoteID != "note2" {
		t.Fatalf("expected note2 on top, got %#v", analytics.TopNotes)
	}

	if len(analytics.Daily) != 2 {
		t.Fatalf("expected 2 daily buckets, got %#v", analytics.Daily)
	}
	if analytics.Daily[0].Date >= analytics.Daily[1].Date {
		t.Fatalf("daily series must be date-ascending: %#v", analytics.Daily)
	}
	if analytics.Daily[0].Count != 2 || analytics.Daily[0].TotalSats != 1005 {
		t.Fatalf("unexpected first bucket: %#v", analytics.Daily[0])
	}
}

func TestZapAnalytics_EmptyWindow(t *testing.T) {
	svc := NewService(&fakeFetcher{}, nil)

	analytics, err := svc.ZapAnalyticsFor(context.Background(), "alice", "7d")
	if err != nil {
		t.Fatalf("ZapAnalyticsFor failed: %v", err)
	}
	if analytics.TotalZaps != 0 || analytics.TotalSats != 0 || analytics.AverageSats != 0 {
		t.Fatalf("expected zeroed analytics, got %#v", analytics)
	}
	if analytics.TopZappers == nil || analytics.Daily == nil {
		t.Fatal("empty result must keep empty slices, not nulls")
	}
}
