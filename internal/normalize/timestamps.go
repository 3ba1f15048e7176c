package normalize

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xkilldash9x/reconctl/api/schemas"
)

// Layouts accepted for backend timestamps. Values without a zone are UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	time.RFC1123,
}

// ParseTimestamp parses a backend timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// FormatDuration renders d as whole minutes and seconds, e.g. "2m 30s".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		return schemas.Unknown
	}
	minutes := int64(d / time.Minute)
	seconds := int64((d % time.Minute) / time.Second)
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}

// CalculateDuration is FormatDuration(completed - created), or "Unknown"
// when either boundary is missing or unparseable.
func CalculateDuration(created, completed string) string {
	start, err := ParseTimestamp(created)
	if err != nil {
		return schemas.Unknown
	}
	end, err := ParseTimestamp(completed)
	if err != nil {
		return schemas.Unknown
	}
	return FormatDuration(end.Sub(start))
}
