package intel

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"
)

const topListSize = 10

type ZapperStat struct {
	Pubkey    string `json:"pubkey"`
	Name      string `json:"name,omitempty"`
	TotalSats uint64 `json:"total_sats"`
	Count     uint32 `json:"count"`
}

type ZappedNote struct {
	NoteID    string `json:"note_id"`
	TotalSats uint64 `json:"total_sats"`
	Count     uint32 `json:"count"`
}

type DailyZaps struct {
	Date      string `json:"date"`
	Count     uint32 `json:"count"`
	TotalSats uint64 `json:"total_sats"`
}

type ZapAnalytics struct {
	Pubkey      string       `json:"pubkey"`
	Timeframe   string       `json:"timeframe"`
	TotalZaps   uint32       `json:"total_zaps_count"`
	TotalSats   uint64       `json:"total_received_sats"`
	AverageSats uint64       `json:"avg_zap_sats"`
	TopZappers  []ZapperStat `json:"top_zappers"`
	TopNotes    []ZappedNote `json:"top_zapped_notes"`
	Daily       []DailyZaps  `json:"zaps_over_time"`
}

// zapRequest is the embedded kind-9734 request carried in a zap receipt's
// description tag.
type zapRequest struct {
	Pubkey string     `json:"pubkey"`
	Tags   [][]string `json:"tags"`
}

// ZapAnalyticsFor aggregates kind-9735 zap receipts addressed to a pubkey:
// totals, per-zapper and per-note rollups, and a daily time series.
func (s *Service) ZapAnalyticsFor(ctx context.Context, pubkey, timeframe string) (*ZapAnalytics, error) {
	if timeframe == "" {
		timeframe = defaultZapTimeframe
	}
	seconds, err := ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}

	since := s.nowFunc().Add(-time.Duration(seconds) * time.Second)
	receipts, err := s.fetcher.FetchZapReceipts(ctx, pubkey, since)
	if err != nil {
		return nil, fmt.Errorf("fetch zap receipts: %w", err)
	}

	analytics := &ZapAnalytics{
		Pubkey:     pubkey,
		Timeframe:  timeframe,
		TopZappers: []ZapperStat{},
		TopNotes:   []ZappedNote{},
		Daily:      []DailyZaps{},
	}

	type zapperAgg struct {
		sats  uint64
		count uint32
	}
	zappers := make(map[string]*zapperAgg)
	notes := make(map[string]*zapperAgg)
	daily := make(map[string]*zapperAgg)

	for _, receipt := range receipts {
		var request *zapRequest
		if desc := firstTagValue(receipt, "description"); desc != "" {
			var req zapRequest
			if err := json.Unmarshal([]byte(desc), &req); err == nil {
				request = &req
			}
		}

		sats := zapAmountSats(firstTagValue(receipt, "bolt11"), request)
		zapper := firstTagValue(receipt, "P")
		if zapper == "" && request != nil {
			zapper = request.Pubkey
		}
		if zapper == "" {
			zapper = "unknown"
		}

		analytics.TotalZaps++
		analytics.TotalSats += sats

		agg := zappers[zapper]
		if agg == nil {
			agg = &zapperAgg{}
			zappers[zapper] = agg
		}
		agg.sats += sats
		agg.count++

		for _, noteID := range tagValues(receipt, "e") {
			n := notes[noteID]
			if n == nil {
				n = &zapperAgg{}
				notes[noteID] = n
			}
			n.sats += sats
			n.count++
		}

		date := receipt.CreatedAt.Time().UTC().Format("2006-01-02")
		d := daily[date]
		if d == nil {
			d = &zapperAgg{}
			daily[date] = d
		}
		d.sats += sats
		d.count++
	}

	if analytics.TotalZaps > 0 {
		analytics.AverageSats = analytics.TotalSats / uint64(analytics.TotalZaps)
	}

	for pk, agg := range zappers {
		analytics.TopZappers = append(analytics.TopZappers, ZapperStat{
			Pubkey:    pk,
			Name:      s.cachedName(ctx, pk),
			TotalSats: agg.sats,
			Count:     agg.count,
		})
	}
	sort.SliceStable(analytics.TopZappers, func(i, j int) bool {
		return analytics.TopZappers[i].TotalSats > analytics.TopZappers[j].TotalSats
	})
	if len(analytics.TopZappers) > topListSize {
		analytics.TopZappers = analytics.TopZappers[:topListSize]
	}

	for id, agg := range notes {
		analytics.TopNotes = append(analytics.TopNotes, ZappedNote{
			NoteID:    id,
			TotalSats: agg.sats,
			Count:     agg.count,
		})
	}
	sort.SliceStable(analytics.TopNotes, func(i, j int) bool {
		return analytics.TopNotes[i].TotalSats > analytics.TopNotes[j].TotalSats
	})
	if len(analytics.TopNotes) > topListSize {
		analytics.TopNotes = analytics.TopNotes[:topListSize]
	}

	for date, agg := range daily {
		analytics.Daily = append(analytics.Daily, DailyZaps{Date: date, Count: agg.count, TotalSats: agg.sats})
	}
	sort.Slice(analytics.Daily, func(i, j int) bool {
		return analytics.Daily[i].Date < analytics.Daily[j].Date
	})

	return analytics, nil
}

// zapAmountSats picks the amount for one receipt: the bolt11 tag when it
// parses, else the millisatoshi amount tag of the embedded zap request.
func zapAmountSats(bolt11 string, request *zapRequest) uint64 {
	if bolt11 != "" {
		if sats, ok := ParseBolt11AmountSats(bolt11); ok {
			return sats
		}
	}
	if request != nil {
		for _, tag := range request.Tags {
			if len(tag) >= 2 && tag[0] == "amount" {
				if msats, err := strconv.ParseUint(tag[1], 10, 64); err == nil {
					return msats / 1000
				}
			}
		}
	}
	return 0
}
