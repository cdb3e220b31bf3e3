package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	eventsrc "github.com/dkoval/showtracks/internal/events"
	"github.com/dkoval/showtracks/internal/filter"
	"github.com/dkoval/showtracks/internal/models"
	"github.com/dkoval/showtracks/internal/spotify"
)

const (
	msgNoEvents  = "No events found for this date and location"
	msgNoArtists = "No artists found"

	searchLimit      = 10
	maxAttempts      = 3
	serverRetryDelay = 3 * time.Second
	rateLimitDelay   = 5 * time.Second
)

// EventSource yields raw event listings. It never fails; an empty slice is
// the degenerate result.
type EventSource interface {
	FetchEvents(ctx context.Context, date string, lat, lon float64) []models.Event
}

// Catalog is the slice of the music catalog the pipeline calls.
type Catalog interface {
	SearchArtists(ctx context.Context, name string, limit int) ([]spotify.Artist, error)
	TopTracks(ctx context.Context, artistID string) ([]spotify.Track, error)
}

// ArtistCache fronts catalog searches. Both operations are best effort.
type ArtistCache interface {
	GetArtistSearch(ctx context.Context, name string) ([]spotify.Artist, bool)
	StoreArtistSearch(ctx context.Context, name string, artists []spotify.Artist) error
}

// PlaylistBuilder assembles the output playlist.
type PlaylistBuilder interface {
	Create(ctx context.Context, params models.SearchParams) (string, error)
	Append(ctx context.Context, playlistID string, uris []string) error
	Rollback(ctx context.Context, playlistID string) error
}

// ProgressStore is the subset of the job store the pipeline writes through
// while a build is running.
type ProgressStore interface {
	AppendLog(ctx context.Context, id int64, entry string) error
	SetProgress(ctx context.Context, id int64, processed, total int) error
	SetEventsData(ctx context.Context, id int64, events []models.Event) error
}

type Runner struct {
	events    EventSource
	catalog   Catalog
	cache     ArtistCache // may be nil
	playlists PlaylistBuilder
	store     ProgressStore

	sleep func(ctx context.Context, d time.Duration)
}

func NewRunner(events EventSource, catalog Catalog, cache ArtistCache, playlists PlaylistBuilder, store ProgressStore) *Runner {
	return &Runner{
		events:    events,
		catalog:   catalog,
		cache:     cache,
		playlists: playlists,
		store:     store,
		sleep:     sleepCtx,
	}
}

// Run executes the full build for a claimed job and returns the playlist id
// on success. A returned error is the job's failure message; the caller owns
// the terminal status write.
func (r *Runner) Run(ctx context.Context, job *models.Job) (string, error) {
	p := job.Params

	r.log(ctx, job.ID, fmt.Sprintf("Searching events in %s on %s", p.LocationName, p.Date))

	events := r.events.FetchEvents(ctx, p.Date, p.Lat, p.Lon)
	events = eventsrc.Dedupe(events)
	events = filter.ByHour(events, p.MinStartTime, p.MaxStartTime)
	if len(events) == 0 {
		return "", errors.New(msgNoEvents)
	}

	if err := r.store.SetEventsData(ctx, job.ID, events); err != nil {
		slog.Warn("failed to persist events data", "job_id", job.ID, "err", err)
	}
	if err := r.store.SetProgress(ctx, job.ID, 0, len(events)); err != nil {
		slog.Warn("failed to persist progress", "job_id", job.ID, "err", err)
	}
	r.log(ctx, job.ID, fmt.Sprintf("Found %d artists playing that day", len(events)))

	playlistID, err := r.playlists.Create(ctx, p)
	if err != nil {
		return "", fmt.Errorf("failed to create playlist: %w", err)
	}

	exclusions := filter.ExpandExclusions(p.ExcludedGenres)
	seen := make(map[string]bool, len(events))
	addedArtists := 0

	for i, ev := range events {
		if r.processArtist(ctx, job.ID, playlistID, ev.Artist, p.SongsPerArtist, exclusions, seen) {
			addedArtists++
		}
		if err := r.store.SetProgress(ctx, job.ID, i+1, len(events)); err != nil {
			slog.Warn("failed to persist progress", "job_id", job.ID, "err", err)
		}
	}

	if addedArtists == 0 {
		if err := r.playlists.Rollback(ctx, playlistID); err != nil {
			slog.Warn("failed to roll back empty playlist", "playlist_id", playlistID, "err", err)
		}
		return "", errors.New(msgNoArtists)
	}

	slog.Info("playlist build finished", "job_id", job.ID, "playlist_id", playlistID, "artists", addedArtists)
	return playlistID, nil
}

// processArtist resolves one headliner end to end and reports whether any
// of their tracks made it into the playlist.
func (r *Runner) processArtist(ctx context.Context, jobID int64, playlistID, name string, songsPerArtist int, exclusions []string, seen map[string]bool) bool {
	candidates, err := r.searchArtists(ctx, name)
	if err != nil {
		r.log(ctx, jobID, models.LogSkipped(name, skipReason(err)))
		return false
	}

	artist, ok := BestMatch(name, candidates)
	if !ok {
		r.log(ctx, jobID, models.LogSkipped(name, models.ReasonNotFound))
		return false
	}

	// The same act can headline two venues in one night.
	if seen[artist.ID] {
		return false
	}
	seen[artist.ID] = true

	if tag, excluded := filter.ExcludedGenre(artist.Genres, exclusions); excluded {
		r.log(ctx, jobID, models.LogSkippedGenre(name, tag))
		return false
	}

	var tracks []spotify.Track
	err = r.withRetry(ctx, func() error {
		var callErr error
		tracks, callErr = r.catalog.TopTracks(ctx, artist.ID)
		return callErr
	})
	if err != nil {
		r.log(ctx, jobID, models.LogSkipped(name, skipReason(err)))
		return false
	}
	if songsPerArtist > 0 && len(tracks) > songsPerArtist {
		tracks = tracks[:songsPerArtist]
	}
	if len(tracks) == 0 {
		r.log(ctx, jobID, models.LogSkipped(name, models.ReasonNoTracks))
		return false
	}

	uris := make([]string, len(tracks))
	for i, t := range tracks {
		uris[i] = t.URI
	}
	err = r.withRetry(ctx, func() error {
		return r.playlists.Append(ctx, playlistID, uris)
	})
	if err != nil {
		r.log(ctx, jobID, models.LogWarning(fmt.Sprintf("could not add tracks for %s", name)))
		return false
	}

	r.log(ctx, jobID, models.LogArtist(artist.Name))
	return true
}

func (r *Runner) searchArtists(ctx context.Context, name string) ([]spotify.Artist, error) {
	if r.cache != nil {
		if artists, ok := r.cache.GetArtistSearch(ctx, name); ok {
			return artists, nil
		}
	}

	var artists []spotify.Artist
	err := r.withRetry(ctx, func() error {
		var callErr error
		artists, callErr = r.catalog.SearchArtists(ctx, name, searchLimit)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		if err := r.cache.StoreArtistSearch(ctx, name, artists); err != nil {
			slog.Debug("artist cache write failed", "artist", name, "err", err)
		}
	}
	return artists, nil
}

// withRetry runs a catalog call up to maxAttempts times, sleeping between
// transient failures: Retry-After (default 5s) on 429, a fixed 3s on 5xx.
// Any other failure is returned immediately.
func (r *Runner) withRetry(ctx context.Context, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var apiErr *spotify.APIError
		if !errors.As(err, &apiErr) || !apiErr.Transient() {
			return err
		}
		if attempt >= maxAttempts {
			return fmt.Errorf("%w (gave up after %d attempts)", err, attempt)
		}

		delay := serverRetryDelay
		if apiErr.StatusCode == 429 {
			delay = rateLimitDelay
			if apiErr.RetryAfter > 0 {
				delay = apiErr.RetryAfter
			}
		}
		slog.Debug("transient catalog error, retrying", "attempt", attempt, "delay", delay, "err", err)
		r.sleep(ctx, delay)
	}
}

// skipReason maps a resolution error to the log-entry reason the UI shows.
func skipReason(err error) string {
	var apiErr *spotify.APIError
	if errors.As(err, &apiErr) && apiErr.Transient() {
		return models.ReasonAfterRetry
	}
	return models.ReasonNotFound
}

func (r *Runner) log(ctx context.Context, jobID int64, entry string) {
	if err := r.store.AppendLog(ctx, jobID, entry); err != nil {
		slog.Warn("failed to append job log", "job_id", jobID, "entry", entry, "err", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}
