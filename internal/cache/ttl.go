package cache

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"criabot-gateway/internal/apperr"
)

// DefaultChatExpiry is used when no duration string is configured.
const DefaultChatExpiry = time.Hour

var durationPattern = regexp.MustCompile(`^(\d+)([hdwmy])$`)

// ParseTTL parses a human duration string ("1h", "2d", "1w", "1m"=30d,
// "1y"=365d) into a time.Duration. An empty string returns DefaultChatExpiry.
func ParseTTL(raw string) (time.Duration, error) {
	if raw == "" {
		return DefaultChatExpiry, nil
	}

	match := durationPattern.FindStringSubmatch(raw)
	if match == nil {
		return 0, apperr.New(apperr.ErrValidationFailed, fmt.Sprintf("invalid duration %q: expected number + unit (h/d/w/m/y)", raw))
	}

	value, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, apperr.New(apperr.ErrValidationFailed, fmt.Sprintf("invalid duration %q", raw))
	}

	switch match[2] {
	case "h":
		return time.Duration(value) * time.Hour, nil
	case "d":
		return time.Duration(value) * 24 * time.Hour, nil
	case "w":
		return time.Duration(value) * 7 * 24 * time.Hour, nil
	case "m":
		return time.Duration(value) * 30 * 24 * time.Hour, nil
	case "y":
		return time.Duration(value) * 365 * 24 * time.Hour, nil
	default:
		return 0, apperr.New(apperr.ErrValidationFailed, fmt.Sprintf("unsupported duration unit in %q", raw))
	}
}
