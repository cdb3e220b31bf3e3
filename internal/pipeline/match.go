package pipeline

import (
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/dkoval/showtracks/internal/spotify"
)

// maxNameDistance bounds how far a fuzzy match may drift from the billed
// name. Anything beyond one edit is a different act, not a typo.
const maxNameDistance = 1

// BestMatch picks the catalog artist for an event headliner. An exact
// case-insensitive name match always wins; otherwise the closest candidate
// by edit distance is accepted only within maxNameDistance.
func BestMatch(name string, candidates []spotify.Artist) (spotify.Artist, bool) {
	want := normalizeName(name)

	for _, c := range candidates {
		if normalizeName(c.Name) == want {
			return c, true
		}
	}

	bestIdx := -1
	bestDist := 0
	for i, c := range candidates {
		d := levenshtein.ComputeDistance(want, normalizeName(c.Name))
		if bestIdx == -1 || d < bestDist {
			bestIdx, bestDist = i, d
		}
	}
	if bestIdx >= 0 && bestDist <= maxNameDistance {
		return candidates[bestIdx], true
	}
	return spotify.Artist{}, false
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
