package filter

import "strings"

// synonyms widens a user's excluded genre to the related tags the catalog
// actually uses. Matching is substring-based, so broad stems like "metal"
// already cover "death metal" without an entry here.
var synonyms = map[string][]string{
	"electronic": {"techno", "house", "edm", "trance", "electro", "dubstep", "drum and bass", "dance"},
	"rock":       {"punk", "grunge", "alternative", "hard rock", "metalcore"},
	"hip hop":    {"rap", "trap", "drill", "grime"},
	"hip-hop":    {"hip hop", "rap", "trap", "drill", "grime"},
	"rap":        {"hip hop", "trap", "drill"},
	"metal":      {"metalcore", "deathcore", "thrash", "doom"},
	"pop":        {"dance pop", "electropop", "synthpop"},
	"country":    {"americana", "bluegrass", "honky tonk"},
	"jazz":       {"bebop", "swing", "fusion"},
	"classical":  {"orchestral", "baroque", "opera", "chamber"},
	"latin":      {"reggaeton", "salsa", "bachata", "cumbia"},
	"folk":       {"singer-songwriter", "acoustic", "americana"},
}

// ExpandExclusions returns the user's excluded genres widened by the
// synonym table, lower-cased and de-duplicated.
func ExpandExclusions(excluded []string) []string {
	seen := make(map[string]bool, len(excluded)*3)
	var out []string
	add := func(term string) {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" || seen[term] {
			return
		}
		seen[term] = true
		out = append(out, term)
	}
	for _, g := range excluded {
		add(g)
		for _, syn := range synonyms[strings.ToLower(strings.TrimSpace(g))] {
			add(syn)
		}
	}
	return out
}

// ExcludedGenre reports the first artist genre tag that matches any
// expanded excluded term. A tag matches when it contains the term as a
// case-insensitive substring ("melodic techno" is caught by "techno").
func ExcludedGenre(artistGenres, expandedExclusions []string) (string, bool) {
	for _, tag := range artistGenres {
		lower := strings.ToLower(tag)
		for _, term := range expandedExclusions {
			if strings.Contains(lower, term) {
				return tag, true
			}
		}
	}
	return "", false
}
