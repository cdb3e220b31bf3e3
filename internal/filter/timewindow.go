package filter

import (
	"time"

	"github.com/dkoval/showtracks/internal/models"
)

// Timestamp layouts seen across source pages.
var startLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// KeepByHour keeps an event when its local start hour h satisfies
// min <= h < max. Defaults 0/24 keep everything. Events whose timestamp
// cannot be parsed are kept: a bad upstream value must not silently drop
// a show.
func KeepByHour(ev models.Event, minHour, maxHour int) bool {
	if minHour <= 0 && maxHour >= 24 {
		return true
	}
	h, ok := startHour(ev.StartsAt)
	if !ok {
		return true
	}
	return h >= minHour && h < maxHour
}

// ByHour filters events in place-order, keeping KeepByHour survivors.
func ByHour(events []models.Event, minHour, maxHour int) []models.Event {
	out := make([]models.Event, 0, len(events))
	for _, ev := range events {
		if KeepByHour(ev, minHour, maxHour) {
			out = append(out, ev)
		}
	}
	return out
}

func startHour(raw string) (int, bool) {
	for _, layout := range startLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Hour(), true
		}
	}
	return 0, false
}
