package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dkoval/showtracks/internal/models"
)

// Store is the job-store surface the pool drives. Claim exclusivity in the
// store is the only cross-worker synchronization; loops share no state.
type Store interface {
	ClaimNextPending(ctx context.Context) (*models.Job, error)
	ReapZombies(ctx context.Context, timeout time.Duration) (int64, error)
	Complete(ctx context.Context, id int64, playlistID string) (bool, error)
	Fail(ctx context.Context, id int64, message string) error
}

// Runner builds one claimed job and returns the playlist id, or an error
// carrying the job's failure message.
type Runner interface {
	Run(ctx context.Context, job *models.Job) (string, error)
}

type Pool struct {
	store        Store
	runner       Runner
	size         int
	interval     time.Duration
	buildTimeout time.Duration

	wg sync.WaitGroup
}

func NewPool(store Store, runner Runner, size int, interval, buildTimeout time.Duration) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		store:        store,
		runner:       runner,
		size:         size,
		interval:     interval,
		buildTimeout: buildTimeout,
	}
}

// Start launches the worker loops and returns. Loops exit when ctx is
// cancelled; Wait blocks until they have.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.loop(ctx, i)
	}
	slog.Info("worker pool started", "size", p.size, "interval", p.interval)
}

func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) loop(ctx context.Context, workerID int) {
	defer p.wg.Done()

	// Stagger startup so the loops don't hit the store in lockstep.
	stagger := time.Duration(workerID) * p.interval / time.Duration(p.size)
	select {
	case <-time.After(stagger):
	case <-ctx.Done():
		return
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		// Ticks run inline, so a long build simply drops the ticks it
		// overlaps; there is never more than one job per loop in flight.
		p.tick(ctx, workerID)

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// tick is one scheduling round: reap zombies, claim at most one job, build
// it, write exactly one terminal state. Store errors abandon the round; the
// next tick retries.
func (p *Pool) tick(ctx context.Context, workerID int) {
	reaped, err := p.store.ReapZombies(ctx, p.buildTimeout)
	if err != nil {
		slog.Error("zombie reap failed", "worker", workerID, "err", err)
	} else if reaped > 0 {
		slog.Warn("reaped zombie jobs", "worker", workerID, "count", reaped)
	}

	job, err := p.store.ClaimNextPending(ctx)
	if err != nil {
		slog.Error("job claim failed", "worker", workerID, "err", err)
		return
	}
	if job == nil {
		return
	}

	slog.Info("job claimed", "worker", workerID, "job_id", job.ID)

	playlistID, err := p.runJob(ctx, job)
	if err != nil {
		slog.Warn("job failed", "worker", workerID, "job_id", job.ID, "err", err)
		if failErr := p.store.Fail(ctx, job.ID, err.Error()); failErr != nil {
			// Abandon the write; the reaper is the backstop.
			slog.Error("failed to record job failure", "job_id", job.ID, "err", failErr)
		}
		return
	}

	updated, err := p.store.Complete(ctx, job.ID, playlistID)
	if err != nil {
		slog.Error("failed to record job completion", "job_id", job.ID, "err", err)
		return
	}
	if !updated {
		slog.Warn("job was finalized elsewhere before completion", "job_id", job.ID)
		return
	}
	slog.Info("job complete", "worker", workerID, "job_id", job.ID, "playlist_id", playlistID)
}

// runJob shields the loop from a panicking pipeline.
func (p *Pool) runJob(ctx context.Context, job *models.Job) (playlistID string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline panic: %v", r)
		}
	}()
	return p.runner.Run(ctx, job)
}
