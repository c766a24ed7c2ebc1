// Package intel holds the aggregation pipelines: trending-note ranking,
// follower graph assembly, and zap analytics, plus the small parsers that
// feed them.
package intel

import (
	"fmt"
	"strconv"
	"strings"

	"nostrintel/internal/model"
)

const (
	secondsPerHour = 3600
	secondsPerDay  = 86400
	secondsPerYear = 31_536_000
)

// ParseTimeframe converts "<N>h", "<N>d", or "<N>y" into seconds.
func ParseTimeframe(s string) (int64, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("%w: timeframe %q, want e.g. 24h, 7d, 1y", model.ErrInvalidInput, s)
	}

	var unit int64
	switch s[len(s)-1] {
	case 'h':
		unit = secondsPerHour
	case 'd':
		unit = secondsPerDay
	case 'y':
		unit = secondsPerYear
	default:
		return 0, fmt.Errorf("%w: timeframe %q has unknown suffix %q", model.ErrInvalidInput, s, s[len(s)-1:])
	}

	n, err := strconv.ParseInt(strings.TrimSuffix(s, s[len(s)-1:]), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: timeframe %q needs a positive count", model.ErrInvalidInput, s)
	}
	return n * unit, nil
}
