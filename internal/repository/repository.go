package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dkoval/showtracks/internal/common"
	"github.com/dkoval/showtracks/internal/database"
	"github.com/dkoval/showtracks/internal/models"
)

const (
	// A building job whose last update is older than this is presumed
	// abandoned when a client asks for an equivalent job.
	DefaultStaleAfter = 5 * time.Minute

	// A building job untouched for this long is failed by the reaper.
	DefaultBuildTimeout = 30 * time.Minute
)

const jobColumns = `
	id, status, location_name, lat, lon, event_date, songs_per_artist,
	excluded_genres, min_start_time, max_start_time, log_history,
	total_artists, processed_artists, events_data, playlist_id,
	error_message, owner_id, created_at, updated_at
`

type Repository struct {
	db *database.DB
}

func New(db *database.DB) *Repository {
	return &Repository{db: db}
}

// NormalizeGenres lower-cases, trims, de-duplicates and sorts the excluded
// genre list so that array equality in SQL is set equality.
func NormalizeGenres(genres []string) []string {
	out := make([]string, 0, len(genres))
	seen := make(map[string]bool, len(genres))
	for _, g := range genres {
		g = strings.ToLower(strings.TrimSpace(g))
		if g == "" || seen[g] {
			continue
		}
		seen[g] = true
		out = append(out, g)
	}
	slices.Sort(out)
	return out
}

func (r *Repository) Create(ctx context.Context, params models.SearchParams, ownerID *uuid.UUID) (*models.Job, error) {
	date, err := time.Parse("2006-01-02", params.Date)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", params.Date, err)
	}

	query := `
		INSERT INTO playlist_jobs (
			status, location_name, lat, lon, event_date, songs_per_artist,
			excluded_genres, min_start_time, max_start_time, owner_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + jobColumns

	row := r.db.Pool().QueryRow(ctx, query,
		models.StatusPending,
		params.LocationName,
		params.Lat,
		params.Lon,
		date,
		params.SongsPerArtist,
		NormalizeGenres(params.ExcludedGenres),
		params.MinStartTime,
		params.MaxStartTime,
		ownerID,
	)
	return scanJob(row)
}

// FindEquivalent returns a reusable job for the given params: one with the
// same location, date, track count, excluded-genre set and hour window in
// pending, building or complete state. A stale building match is failed
// and reported as absent so the caller creates a fresh job.
func (r *Repository) FindEquivalent(ctx context.Context, params models.SearchParams, staleAfter time.Duration) (*models.Job, error) {
	date, err := time.Parse("2006-01-02", params.Date)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", params.Date, err)
	}

	query := `
		SELECT ` + jobColumns + `
		FROM playlist_jobs
		WHERE location_name = $1
		  AND event_date = $2
		  AND songs_per_artist = $3
		  AND excluded_genres = $4
		  AND min_start_time = $5
		  AND max_start_time = $6
		  AND status IN ('pending', 'building', 'complete')
		ORDER BY created_at DESC
		LIMIT 1
	`

	row := r.db.Pool().QueryRow(ctx, query,
		params.LocationName,
		date,
		params.SongsPerArtist,
		NormalizeGenres(params.ExcludedGenres),
		params.MinStartTime,
		params.MaxStartTime,
	)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if j.Status == models.StatusBuilding && time.Since(j.UpdatedAt) > staleAfter {
		if err := r.Fail(ctx, j.ID, "Build went stale and was abandoned"); err != nil {
			return nil, fmt.Errorf("failed to mark stale job: %w", err)
		}
		return nil, nil
	}
	return j, nil
}

// ClaimNextPending atomically hands the oldest pending job to the caller
// and flips it to building. Rows locked by a concurrent claim are skipped,
// never awaited. Returns (nil, nil) when nothing is claimable.
func (r *Repository) ClaimNextPending(ctx context.Context) (*models.Job, error) {
	query := `
		WITH next AS (
			SELECT id FROM playlist_jobs
			WHERE status = 'pending'
			ORDER BY id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE playlist_jobs j
		SET status = 'building', updated_at = now()
		FROM next
		WHERE j.id = next.id
		RETURNING ` + jobColumns

	j, err := scanJob(r.db.Pool().QueryRow(ctx, query))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return j, nil
}

// ReapZombies fails every building job untouched for longer than timeout.
// Returns the number of jobs reaped.
func (r *Repository) ReapZombies(ctx context.Context, timeout time.Duration) (int64, error) {
	query := `
		UPDATE playlist_jobs
		SET status = 'failed',
		    error_message = 'Build timed out and was abandoned',
		    updated_at = now()
		WHERE status = 'building'
		  AND updated_at < now() - $1::interval
	`
	tag, err := r.db.Pool().Exec(ctx, query, timeout)
	if err != nil {
		return 0, fmt.Errorf("failed to reap zombie jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// FailAllBuilding fails every building job unconditionally. Called once at
// process startup: anything left building belongs to a dead incarnation.
func (r *Repository) FailAllBuilding(ctx context.Context) (int64, error) {
	query := `
		UPDATE playlist_jobs
		SET status = 'failed',
		    error_message = 'Interrupted by service restart',
		    updated_at = now()
		WHERE status = 'building'
	`
	tag, err := r.db.Pool().Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to fail building jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) GetByID(ctx context.Context, id int64) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM playlist_jobs WHERE id = $1`
	j, err := scanJob(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrJobNotFound
	}
	return j, err
}

func (r *Repository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM playlist_jobs
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.db.Pool().Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// AppendLog appends one entry to the job's log history. The history is
// append-only; entries are never rewritten.
func (r *Repository) AppendLog(ctx context.Context, id int64, entry string) error {
	query := `
		UPDATE playlist_jobs
		SET log_history = array_append(log_history, $2), updated_at = now()
		WHERE id = $1
	`
	_, err := r.db.Pool().Exec(ctx, query, id, entry)
	return err
}

func (r *Repository) SetProgress(ctx context.Context, id int64, processed, total int) error {
	query := `
		UPDATE playlist_jobs
		SET processed_artists = $2, total_artists = $3, updated_at = now()
		WHERE id = $1
	`
	_, err := r.db.Pool().Exec(ctx, query, id, processed, total)
	return err
}

// SetEventsData stores the filtered event list early so the status poll
// can render it before the build completes.
func (r *Repository) SetEventsData(ctx context.Context, id int64, events []models.Event) error {
	data, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("failed to marshal events: %w", err)
	}
	query := `
		UPDATE playlist_jobs
		SET events_data = $2, updated_at = now()
		WHERE id = $1
	`
	_, err = r.db.Pool().Exec(ctx, query, id, data)
	return err
}

// Complete marks a building job complete. Returns false when the job was
// no longer building (e.g. the reaper failed it first); the caller's
// result is then discarded rather than resurrecting the row.
func (r *Repository) Complete(ctx context.Context, id int64, playlistID string) (bool, error) {
	query := `
		UPDATE playlist_jobs
		SET status = 'complete', playlist_id = $2, updated_at = now()
		WHERE id = $1 AND status = 'building'
	`
	tag, err := r.db.Pool().Exec(ctx, query, id, playlistID)
	if err != nil {
		return false, fmt.Errorf("failed to complete job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Fail writes a terminal failed state with a short human-readable message.
func (r *Repository) Fail(ctx context.Context, id int64, message string) error {
	query := `
		UPDATE playlist_jobs
		SET status = 'failed', error_message = $2, updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'building')
	`
	_, err := r.db.Pool().Exec(ctx, query, id, message)
	return err
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var (
		j          models.Job
		date       time.Time
		eventsData []byte
	)
	err := row.Scan(
		&j.ID,
		&j.Status,
		&j.Params.LocationName,
		&j.Params.Lat,
		&j.Params.Lon,
		&date,
		&j.Params.SongsPerArtist,
		&j.Params.ExcludedGenres,
		&j.Params.MinStartTime,
		&j.Params.MaxStartTime,
		&j.LogHistory,
		&j.TotalArtists,
		&j.ProcessedArtists,
		&eventsData,
		&j.PlaylistID,
		&j.ErrorMessage,
		&j.OwnerID,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Params.Date = date.Format("2006-01-02")
	if len(eventsData) > 0 {
		if err := json.Unmarshal(eventsData, &j.EventsData); err != nil {
			return nil, fmt.Errorf("failed to decode events data: %w", err)
		}
	}
	if j.LogHistory == nil {
		j.LogHistory = []string{}
	}
	if j.EventsData == nil {
		j.EventsData = []models.Event{}
	}
	return &j, nil
}
