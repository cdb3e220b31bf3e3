package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dkoval/showtracks/internal/models"
)

func ev(startsAt string) models.Event {
	return models.Event{Artist: "x", Venue: "y", StartsAt: startsAt}
}

func TestKeepByHour_BoundaryInclusiveExclusive(t *testing.T) {
	// minStartTime=19 keeps hour 19 and drops hour 18.
	assert.True(t, KeepByHour(ev("2026-09-12T19:00:00"), 19, 24))
	assert.False(t, KeepByHour(ev("2026-09-12T18:59:00"), 19, 24))

	// maxStartTime is exclusive.
	assert.False(t, KeepByHour(ev("2026-09-12T23:00:00"), 0, 23))
	assert.True(t, KeepByHour(ev("2026-09-12T22:59:00"), 0, 23))
}

func TestKeepByHour_DefaultsKeepEverything(t *testing.T) {
	assert.True(t, KeepByHour(ev("2026-09-12T03:00:00"), 0, 24))
	assert.True(t, KeepByHour(ev("garbage"), 0, 24))
}

func TestKeepByHour_UnparsableKept(t *testing.T) {
	// Fail open: a broken timestamp must not drop the show.
	assert.True(t, KeepByHour(ev("doors at nine"), 19, 24))
	assert.True(t, KeepByHour(ev(""), 19, 24))
}

func TestKeepByHour_AcceptsCommonLayouts(t *testing.T) {
	assert.True(t, KeepByHour(ev("2026-09-12T20:00:00Z"), 19, 24))
	assert.True(t, KeepByHour(ev("2026-09-12 20:00"), 19, 24))
	assert.False(t, KeepByHour(ev("2026-09-12 12:00"), 19, 24))
}

func TestByHour_PreservesOrder(t *testing.T) {
	events := []models.Event{ev("2026-09-12T20:00:00"), ev("2026-09-12T12:00:00"), ev("2026-09-12T21:00:00")}
	kept := ByHour(events, 19, 24)

	assert.Len(t, kept, 2)
	assert.Equal(t, "2026-09-12T20:00:00", kept[0].StartsAt)
	assert.Equal(t, "2026-09-12T21:00:00", kept[1].StartsAt)
}
