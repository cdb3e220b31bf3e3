package repository

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkoval/showtracks/internal/common"
	"github.com/dkoval/showtracks/internal/database"
	"github.com/dkoval/showtracks/internal/models"
)

func testRepo(t *testing.T) *Repository {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("Skipping integration test: TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := database.NewDB(ctx, dbURL)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, db.Migrate(ctx))

	_, err = db.Pool().Exec(ctx, "TRUNCATE playlist_jobs RESTART IDENTITY")
	require.NoError(t, err)

	return New(db)
}

func testParams(location string) models.SearchParams {
	return models.SearchParams{
		LocationName:   location,
		Lat:            30.27,
		Lon:            -97.74,
		Date:           "2026-09-12",
		SongsPerArtist: 3,
		ExcludedGenres: []string{"Electronic", "metal"},
		MinStartTime:   0,
		MaxStartTime:   24,
	}
}

func TestNormalizeGenres(t *testing.T) {
	got := NormalizeGenres([]string{" Metal", "electronic", "METAL", ""})
	assert.Equal(t, []string{"electronic", "metal"}, got)
}

func TestCreateAndGet(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, testParams("Austin"), nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, created.Status)

	got, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Austin", got.Params.LocationName)
	assert.Equal(t, "2026-09-12", got.Params.Date)
	assert.Equal(t, []string{"electronic", "metal"}, got.Params.ExcludedGenres, "genres stored normalized")
	assert.Empty(t, got.LogHistory)
	assert.Nil(t, got.PlaylistID)
}

func TestGetByID_Missing(t *testing.T) {
	repo := testRepo(t)

	got, err := repo.GetByID(context.Background(), 12345)
	assert.True(t, common.IsNotFound(err))
	assert.Nil(t, got)
}

func TestClaimNextPending_FIFO(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	first, err := repo.Create(ctx, testParams("Austin"), nil)
	require.NoError(t, err)
	second, err := repo.Create(ctx, testParams("Dallas"), nil)
	require.NoError(t, err)

	claimed, err := repo.ClaimNextPending(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, first.ID, claimed.ID, "oldest pending job claimed first")
	assert.Equal(t, models.StatusBuilding, claimed.Status)

	claimed2, err := repo.ClaimNextPending(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed2)
	assert.Equal(t, second.ID, claimed2.ID)

	claimed3, err := repo.ClaimNextPending(ctx)
	require.NoError(t, err)
	assert.Nil(t, claimed3, "nothing left to claim")
}

func TestClaimNextPending_ConcurrentClaimsAreExclusive(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	const jobs = 5
	for i := 0; i < jobs; i++ {
		_, err := repo.Create(ctx, testParams(fmt.Sprintf("City %d", i)), nil)
		require.NoError(t, err)
	}

	const claimers = 10
	var mu sync.Mutex
	var wg sync.WaitGroup
	claimedIDs := make(map[int64]int)

	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := repo.ClaimNextPending(ctx)
			assert.NoError(t, err)
			if job != nil {
				mu.Lock()
				claimedIDs[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimedIDs, jobs, "every job claimed exactly once")
	for id, count := range claimedIDs {
		assert.Equal(t, 1, count, "job %d claimed more than once", id)
	}
}

func TestFindEquivalent_MatchesNormalizedGenreSet(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, testParams("Austin"), nil)
	require.NoError(t, err)

	same := testParams("Austin")
	same.ExcludedGenres = []string{"METAL", "electronic "} // same set, different shape
	found, err := repo.FindEquivalent(ctx, same, 5*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, created.ID, found.ID)

	different := testParams("Austin")
	different.ExcludedGenres = []string{"metal"}
	found, err = repo.FindEquivalent(ctx, different, 5*time.Minute)
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestFindEquivalent_StaleBuildingJobIsFailedAndIgnored(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, testParams("Austin"), nil)
	require.NoError(t, err)

	claimed, err := repo.ClaimNextPending(ctx)
	require.NoError(t, err)
	require.Equal(t, created.ID, claimed.ID)

	// Age the row past the staleness threshold.
	_, err = repo.db.Pool().Exec(ctx,
		"UPDATE playlist_jobs SET updated_at = now() - interval '10 minutes' WHERE id = $1", created.ID)
	require.NoError(t, err)

	found, err := repo.FindEquivalent(ctx, testParams("Austin"), 5*time.Minute)
	require.NoError(t, err)
	assert.Nil(t, found, "stale building job must not be reused")

	got, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
}

func TestReapZombies(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, testParams("Austin"), nil)
	require.NoError(t, err)
	_, err = repo.ClaimNextPending(ctx)
	require.NoError(t, err)

	_, err = repo.db.Pool().Exec(ctx,
		"UPDATE playlist_jobs SET updated_at = now() - interval '1 hour' WHERE id = $1", created.ID)
	require.NoError(t, err)

	reaped, err := repo.ReapZombies(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reaped)

	got, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
}

func TestReapZombies_FreshBuildingJobSurvives(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, testParams("Austin"), nil)
	require.NoError(t, err)
	_, err = repo.ClaimNextPending(ctx)
	require.NoError(t, err)

	reaped, err := repo.ReapZombies(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, reaped)

	got, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusBuilding, got.Status)
}

func TestCompleteIsConditionalOnBuilding(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, testParams("Austin"), nil)
	require.NoError(t, err)
	_, err = repo.ClaimNextPending(ctx)
	require.NoError(t, err)

	// Reaper wins the race first.
	require.NoError(t, repo.Fail(ctx, created.ID, "Job timed out"))

	updated, err := repo.Complete(ctx, created.ID, "pl1")
	require.NoError(t, err)
	assert.False(t, updated, "completion after a terminal write must be a no-op")

	got, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Nil(t, got.PlaylistID)
}

func TestProgressWrites(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, testParams("Austin"), nil)
	require.NoError(t, err)

	require.NoError(t, repo.AppendLog(ctx, created.ID, models.LogArtist("Alpha")))
	require.NoError(t, repo.AppendLog(ctx, created.ID, models.LogSkipped("Beta", models.ReasonNotFound)))
	require.NoError(t, repo.SetProgress(ctx, created.ID, 2, 5))
	require.NoError(t, repo.SetEventsData(ctx, created.ID, []models.Event{{Artist: "Alpha", Venue: "Mohawk"}}))

	got, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"ARTIST:Alpha", "SKIPPED:Beta (Not found)"}, got.LogHistory)
	assert.Equal(t, 2, got.ProcessedArtists)
	assert.Equal(t, 5, got.TotalArtists)
	require.Len(t, got.EventsData, 1)
	assert.Equal(t, "Mohawk", got.EventsData[0].Venue)
}

func TestFailAllBuilding(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	_, err := repo.Create(ctx, testParams("Austin"), nil)
	require.NoError(t, err)
	_, err = repo.Create(ctx, testParams("Dallas"), nil)
	require.NoError(t, err)

	claimed, err := repo.ClaimNextPending(ctx)
	require.NoError(t, err)

	failed, err := repo.FailAllBuilding(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), failed)

	got, err := repo.GetByID(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
}
