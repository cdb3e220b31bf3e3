package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkoval/showtracks/internal/models"
	"github.com/dkoval/showtracks/internal/spotify"
)

type fakeEvents struct {
	events []models.Event
}

func (f *fakeEvents) FetchEvents(ctx context.Context, date string, lat, lon float64) []models.Event {
	return f.events
}

type fakeCatalog struct {
	artists     map[string][]spotify.Artist // search name -> candidates
	tracks      map[string][]spotify.Track  // artist id -> tracks
	searchErrs  map[string][]error          // per name, consumed in order
	tracksErrs  map[string][]error          // per artist id, consumed in order
	searchCalls int
}

func (f *fakeCatalog) SearchArtists(ctx context.Context, name string, limit int) ([]spotify.Artist, error) {
	f.searchCalls++
	if errs := f.searchErrs[name]; len(errs) > 0 {
		err := errs[0]
		f.searchErrs[name] = errs[1:]
		return nil, err
	}
	return f.artists[name], nil
}

func (f *fakeCatalog) TopTracks(ctx context.Context, artistID string) ([]spotify.Track, error) {
	if errs := f.tracksErrs[artistID]; len(errs) > 0 {
		err := errs[0]
		f.tracksErrs[artistID] = errs[1:]
		return nil, err
	}
	return f.tracks[artistID], nil
}

type fakePlaylists struct {
	created    int
	createErr  error
	appended   map[string][]string
	rolledBack []string
}

func (f *fakePlaylists) Create(ctx context.Context, params models.SearchParams) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created++
	return "pl1", nil
}

func (f *fakePlaylists) Append(ctx context.Context, playlistID string, uris []string) error {
	if f.appended == nil {
		f.appended = map[string][]string{}
	}
	f.appended[playlistID] = append(f.appended[playlistID], uris...)
	return nil
}

func (f *fakePlaylists) Rollback(ctx context.Context, playlistID string) error {
	f.rolledBack = append(f.rolledBack, playlistID)
	return nil
}

type fakeStore struct {
	logs      []string
	processed int
	total     int
	events    []models.Event
}

func (f *fakeStore) AppendLog(ctx context.Context, id int64, entry string) error {
	f.logs = append(f.logs, entry)
	return nil
}

func (f *fakeStore) SetProgress(ctx context.Context, id int64, processed, total int) error {
	f.processed, f.total = processed, total
	return nil
}

func (f *fakeStore) SetEventsData(ctx context.Context, id int64, events []models.Event) error {
	f.events = events
	return nil
}

type testHarness struct {
	runner    *Runner
	catalog   *fakeCatalog
	playlists *fakePlaylists
	store     *fakeStore
	slept     []time.Duration
}

func newHarness(events []models.Event, catalog *fakeCatalog) *testHarness {
	h := &testHarness{
		catalog:   catalog,
		playlists: &fakePlaylists{},
		store:     &fakeStore{},
	}
	h.runner = NewRunner(&fakeEvents{events: events}, catalog, nil, h.playlists, h.store)
	h.runner.sleep = func(ctx context.Context, d time.Duration) {
		h.slept = append(h.slept, d)
	}
	return h
}

func job(params models.SearchParams) *models.Job {
	if params.SongsPerArtist == 0 {
		params.SongsPerArtist = 3
	}
	if params.MaxStartTime == 0 {
		params.MaxStartTime = 24
	}
	return &models.Job{ID: 7, Status: models.StatusBuilding, Params: params}
}

func oneArtistCatalog(name, id string, trackCount int) *fakeCatalog {
	tracks := make([]spotify.Track, trackCount)
	for i := range tracks {
		tracks[i] = spotify.Track{URI: fmt.Sprintf("spotify:track:%s%d", id, i)}
	}
	return &fakeCatalog{
		artists: map[string][]spotify.Artist{name: {{ID: id, Name: name}}},
		tracks:  map[string][]spotify.Track{id: tracks},
	}
}

func TestRun_HappyPathWithOneSkip(t *testing.T) {
	catalog := &fakeCatalog{
		artists: map[string][]spotify.Artist{
			"Alpha": {{ID: "a1", Name: "Alpha"}},
			"Beta":  {{ID: "b1", Name: "Beta"}},
			"Gamma": {{ID: "g1", Name: "Gamma"}},
		},
		tracks: map[string][]spotify.Track{
			"a1": {{URI: "spotify:track:a"}},
			"b1": {}, // in catalog but nothing playable
			"g1": {{URI: "spotify:track:g"}},
		},
	}
	h := newHarness([]models.Event{{Artist: "Alpha"}, {Artist: "Beta"}, {Artist: "Gamma"}}, catalog)

	playlistID, err := h.runner.Run(context.Background(), job(models.SearchParams{Date: "2026-09-12"}))
	require.NoError(t, err)
	assert.Equal(t, "pl1", playlistID)

	assert.Contains(t, h.store.logs, models.LogArtist("Alpha"))
	assert.Contains(t, h.store.logs, models.LogSkipped("Beta", models.ReasonNoTracks))
	assert.Contains(t, h.store.logs, models.LogArtist("Gamma"))
	assert.Equal(t, []string{"spotify:track:a", "spotify:track:g"}, h.playlists.appended["pl1"])
	assert.Equal(t, 3, h.store.total)
	assert.Equal(t, 3, h.store.processed)
	assert.Empty(t, h.playlists.rolledBack)
}

func TestRun_NoEventsFailsBeforePlaylistCreation(t *testing.T) {
	h := newHarness(nil, &fakeCatalog{})

	_, err := h.runner.Run(context.Background(), job(models.SearchParams{}))
	require.EqualError(t, err, "No events found for this date and location")
	assert.Zero(t, h.playlists.created)
}

func TestRun_DuplicateBillingsCollapse(t *testing.T) {
	catalog := oneArtistCatalog("Foo", "f1", 1)
	h := newHarness([]models.Event{{Artist: "Foo"}, {Artist: "foo "}, {Artist: "FOO"}}, catalog)

	_, err := h.runner.Run(context.Background(), job(models.SearchParams{}))
	require.NoError(t, err)

	assert.Equal(t, 1, h.catalog.searchCalls)
	assert.Len(t, h.playlists.appended["pl1"], 1)
}

func TestRun_SameCanonicalArtistSkippedSilently(t *testing.T) {
	// Two differently billed events resolving to one catalog artist: the
	// second is dropped without a log entry.
	catalog := &fakeCatalog{
		artists: map[string][]spotify.Artist{
			"The Weeknd": {{ID: "w1", Name: "The Weeknd"}},
			"Weeknd":     {{ID: "w1", Name: "The Weeknd"}},
		},
		tracks: map[string][]spotify.Track{"w1": {{URI: "spotify:track:w"}}},
	}
	h := newHarness([]models.Event{{Artist: "The Weeknd"}, {Artist: "Weeknd"}}, catalog)

	_, err := h.runner.Run(context.Background(), job(models.SearchParams{}))
	require.NoError(t, err)

	assert.Len(t, h.playlists.appended["pl1"], 1)
	for _, entry := range h.store.logs {
		assert.False(t, strings.HasPrefix(entry, "SKIPPED:Weeknd"), "canonical duplicate must not be logged as skipped")
	}
}

func TestRun_GenreExclusionUsesSynonyms(t *testing.T) {
	catalog := &fakeCatalog{
		artists: map[string][]spotify.Artist{
			"DJ Pulse": {{ID: "d1", Name: "DJ Pulse", Genres: []string{"melodic techno"}}},
		},
		tracks: map[string][]spotify.Track{"d1": {{URI: "spotify:track:d"}}},
	}
	h := newHarness([]models.Event{{Artist: "DJ Pulse"}}, catalog)

	p := models.SearchParams{ExcludedGenres: []string{"electronic"}}
	_, err := h.runner.Run(context.Background(), job(p))
	require.EqualError(t, err, "No artists found")

	assert.Contains(t, h.store.logs, models.LogSkippedGenre("DJ Pulse", "melodic techno"))
	assert.Equal(t, []string{"pl1"}, h.playlists.rolledBack, "empty playlist must be removed")
}

func TestRun_SongsPerArtistCapsTracks(t *testing.T) {
	catalog := oneArtistCatalog("Alpha", "a1", 10)
	h := newHarness([]models.Event{{Artist: "Alpha"}}, catalog)

	p := models.SearchParams{SongsPerArtist: 2}
	_, err := h.runner.Run(context.Background(), job(p))
	require.NoError(t, err)
	assert.Len(t, h.playlists.appended["pl1"], 2)
}

func TestRun_UnknownArtistSkipped(t *testing.T) {
	catalog := oneArtistCatalog("Alpha", "a1", 1)
	h := newHarness([]models.Event{{Artist: "Alpha"}, {Artist: "Nobody You Know"}}, catalog)

	_, err := h.runner.Run(context.Background(), job(models.SearchParams{}))
	require.NoError(t, err)
	assert.Contains(t, h.store.logs, models.LogSkipped("Nobody You Know", models.ReasonNotFound))
}

func TestRun_RateLimitSleepsRetryAfterThenSucceeds(t *testing.T) {
	catalog := oneArtistCatalog("Alpha", "a1", 1)
	catalog.searchErrs = map[string][]error{
		"Alpha": {&spotify.APIError{StatusCode: http.StatusTooManyRequests, RetryAfter: 7 * time.Second}},
	}
	h := newHarness([]models.Event{{Artist: "Alpha"}}, catalog)

	_, err := h.runner.Run(context.Background(), job(models.SearchParams{}))
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{7 * time.Second}, h.slept)
	assert.Contains(t, h.store.logs, models.LogArtist("Alpha"))
}

func TestRun_RateLimitWithoutHintSleepsDefault(t *testing.T) {
	catalog := oneArtistCatalog("Alpha", "a1", 1)
	catalog.searchErrs = map[string][]error{
		"Alpha": {&spotify.APIError{StatusCode: http.StatusTooManyRequests}},
	}
	h := newHarness([]models.Event{{Artist: "Alpha"}}, catalog)

	_, err := h.runner.Run(context.Background(), job(models.SearchParams{}))
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{5 * time.Second}, h.slept)
}

func TestRun_ServerErrorsExhaustRetries(t *testing.T) {
	boom := &spotify.APIError{StatusCode: http.StatusInternalServerError}
	catalog := oneArtistCatalog("Alpha", "a1", 1)
	catalog.searchErrs = map[string][]error{"Alpha": {boom, boom, boom}}
	h := newHarness([]models.Event{{Artist: "Alpha"}}, catalog)

	_, err := h.runner.Run(context.Background(), job(models.SearchParams{}))
	require.EqualError(t, err, "No artists found")

	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, h.slept)
	assert.Contains(t, h.store.logs, models.LogSkipped("Alpha", models.ReasonAfterRetry))
}

func TestRun_PermanentErrorSkipsImmediately(t *testing.T) {
	catalog := oneArtistCatalog("Alpha", "a1", 1)
	catalog.searchErrs = map[string][]error{
		"Alpha": {&spotify.APIError{StatusCode: http.StatusNotFound}},
	}
	h := newHarness([]models.Event{{Artist: "Alpha"}}, catalog)

	_, err := h.runner.Run(context.Background(), job(models.SearchParams{}))
	require.EqualError(t, err, "No artists found")

	assert.Empty(t, h.slept, "permanent failures must not retry")
	assert.Contains(t, h.store.logs, models.LogSkipped("Alpha", models.ReasonNotFound))
}

func TestRun_TimeWindowFiltersEvents(t *testing.T) {
	catalog := oneArtistCatalog("Night Act", "n1", 1)
	events := []models.Event{
		{Artist: "Night Act", StartsAt: "2026-09-12T21:00:00"},
		{Artist: "Matinee Act", StartsAt: "2026-09-12T14:00:00"},
	}
	h := newHarness(events, catalog)

	p := models.SearchParams{MinStartTime: 19, MaxStartTime: 24}
	_, err := h.runner.Run(context.Background(), job(p))
	require.NoError(t, err)

	assert.Equal(t, 1, h.store.total)
	require.Len(t, h.store.events, 1)
	assert.Equal(t, "Night Act", h.store.events[0].Artist)
}

type fakeCache struct {
	hits   map[string][]spotify.Artist
	stored map[string][]spotify.Artist
}

func (f *fakeCache) GetArtistSearch(ctx context.Context, name string) ([]spotify.Artist, bool) {
	artists, ok := f.hits[name]
	return artists, ok
}

func (f *fakeCache) StoreArtistSearch(ctx context.Context, name string, artists []spotify.Artist) error {
	if f.stored == nil {
		f.stored = map[string][]spotify.Artist{}
	}
	f.stored[name] = artists
	return nil
}

func TestRun_CacheHitSkipsCatalogSearch(t *testing.T) {
	catalog := &fakeCatalog{
		tracks: map[string][]spotify.Track{"a1": {{URI: "spotify:track:a"}}},
	}
	cache := &fakeCache{hits: map[string][]spotify.Artist{
		"Alpha": {{ID: "a1", Name: "Alpha"}},
	}}
	h := newHarness([]models.Event{{Artist: "Alpha"}}, catalog)
	h.runner.cache = cache

	_, err := h.runner.Run(context.Background(), job(models.SearchParams{}))
	require.NoError(t, err)
	assert.Zero(t, h.catalog.searchCalls)
}

func TestRun_CacheMissStoresResult(t *testing.T) {
	catalog := oneArtistCatalog("Alpha", "a1", 1)
	cache := &fakeCache{}
	h := newHarness([]models.Event{{Artist: "Alpha"}}, catalog)
	h.runner.cache = cache

	_, err := h.runner.Run(context.Background(), job(models.SearchParams{}))
	require.NoError(t, err)
	assert.Len(t, cache.stored["Alpha"], 1)
}
