package intel

import (
	"strconv"
	"strings"
)

// Human-readable-part prefixes, longest first so lnbcrt is not read as lnbc.
var bolt11Prefixes = []string{"lnbcrt", "lnbc", "lntb"}

// ParseBolt11AmountSats extracts the amount in satoshi from a BOLT-11
// invoice's human-readable part. The second return is false when the invoice
// carries no parseable amount. Sub-satoshi precision is truncated.
func ParseBolt11AmountSats(invoice string) (uint64, bool) {
	var rest string
	matched := false
	for _, prefix := range bolt11Prefixes {
		if strings.HasPrefix(invoice, prefix) {
			rest = invoice[len(prefix):]
			matched = true
			break
		}
	}
	if !matched {
		return 0, false
	}

	// The amount runs from the prefix to the bech32 separator. The data
	// charset excludes '1', so the separator is the last '1' in the string.
	// No '1' at all means a bare human-readable part: the whole rest is the
	// amount.
	var amount string
	switch sep := strings.LastIndex(rest, "1"); {
	case sep < 0, sep == 0 && len(rest) == 1:
		amount = rest
	case sep == 0:
		return 0, false
	default:
		amount = rest[:sep]
	}
	if amount == "" {
		return 0, false
	}

	multiplier := amount[len(amount)-1]
	digits := amount
	switch multiplier {
	case 'm', 'u', 'n', 'p':
		digits = amount[:len(amount)-1]
	}

	n, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, false
	}

	switch multiplier {
	case 'm':
		return n * 100_000, true
	case 'u':
		return n * 100, true
	case 'n':
		return n / 10, true
	case 'p':
		return n / 100, true
	default:
		return n * 100_000_000, true
	}
}
