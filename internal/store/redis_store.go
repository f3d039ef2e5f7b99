package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"label-analyzer/internal/models"
	"label-analyzer/internal/telemetry"
)

const keyPrefix = "analysis:job:"

// JobStore keeps one JSON document per job id in Redis with a bounded
// retention window. It is a cache, not a system of record: results only
// matter until the client has polled them out.
type JobStore struct {
	client    *redis.Client
	retention time.Duration
	sweepFreq time.Duration
	log       *slog.Logger

	// overridable for deterministic expiry tests
	now func() time.Time
}

// Option customizes a JobStore.
type Option func(*JobStore)

// WithClock overrides the store's time source.
func WithClock(now func() time.Time) Option {
	return func(s *JobStore) { s.now = now }
}

// New builds a store over an existing Redis client.
func New(client *redis.Client, retention, sweepFreq time.Duration, opts ...Option) *JobStore {
	if retention <= 0 {
		retention = time.Hour
	}
	if sweepFreq <= 0 {
		sweepFreq = 5 * time.Minute
	}
	s := &JobStore{
		client:    client,
		retention: retention,
		sweepFreq: sweepFreq,
		log:       slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func jobKey(id string) string {
	return keyPrefix + id
}

// CreateJob writes a fresh pending record. A write failure is fatal to the
// submission that triggered it and propagates to the caller.
func (s *JobStore) CreateJob(ctx context.Context, id string) error {
	job := models.Job{
		ID:        id,
		Status:    models.StatusPending,
		Timestamp: s.now().UTC(),
	}
	if err := s.write(ctx, job); err != nil {
		return fmt.Errorf("create job %s: %w", id, err)
	}
	return nil
}

// JobUpdate carries the fields merged over an existing record. Zero-valued
// fields are left untouched.
type JobUpdate struct {
	Status string
	Result *models.AnalysisResult
	Error  string
}

// UpdateJob merges update over the stored record and refreshes its timestamp.
// Updating a missing (deleted or expired) id is a logged no-op so a late
// pipeline result cannot resurrect a swept job. The read-merge-write is not
// atomic; ids are generated fresh per submission, so only one writer exists
// per id and last-writer-wins is acceptable.
func (s *JobStore) UpdateJob(ctx context.Context, id string, update JobUpdate) error {
	job, err := s.read(ctx, id)
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	if job == nil {
		s.log.Warn("update for missing job record ignored", "job_id", id, "status", update.Status)
		return nil
	}

	if update.Status != "" {
		job.Status = update.Status
	}
	if update.Result != nil {
		job.Result = update.Result
	}
	if update.Error != "" {
		job.Error = update.Error
	}
	job.Timestamp = s.now().UTC()

	if err := s.write(ctx, *job); err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	return nil
}

// GetJob returns the record for id, or nil when it never existed, expired, or
// cannot be decoded. Expired and corrupt entries are removed on read.
func (s *JobStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.read(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, nil
	}
	if s.expired(*job) {
		s.remove(ctx, id, "expired")
		return nil, nil
	}
	return job, nil
}

// Sweep scans every job key and removes records that are expired or no longer
// parseable. It is idempotent and safe to run concurrently with reads and
// writes: each key is re-checked before deletion.
func (s *JobStore) Sweep(ctx context.Context) (int, error) {
	removed := 0
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		id := key[len(keyPrefix):]
		raw, err := s.client.Get(ctx, key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("sweep read %s: %w", key, err)
		}
		var job models.Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			s.remove(ctx, id, "corrupt")
			removed++
			continue
		}
		if s.expired(job) {
			s.remove(ctx, id, "expired")
			removed++
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("sweep scan: %w", err)
	}
	return removed, nil
}

// RunSweeper runs Sweep on a fixed period until ctx is cancelled. Main owns
// the goroutine, so shutdown is explicit rather than an orphaned timer.
func (s *JobStore) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.sweepFreq)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.Sweep(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				s.log.Error("job sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				s.log.Info("job sweep removed records", "count", removed)
			}
		}
	}
}

func (s *JobStore) expired(job models.Job) bool {
	return s.now().Sub(job.Timestamp) > s.retention
}

func (s *JobStore) write(ctx context.Context, job models.Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return s.client.Set(ctx, jobKey(job.ID), raw, 0).Err()
}

// read returns (nil, nil) for absent or corrupt records; corrupt entries are
// deleted so they do not survive until the next sweep.
func (s *JobStore) read(ctx context.Context, id string) (*models.Job, error) {
	raw, err := s.client.Get(ctx, jobKey(id)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read record: %w", err)
	}
	var job models.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		s.log.Warn("dropping corrupt job record", "job_id", id, "error", err)
		s.remove(ctx, id, "corrupt")
		return nil, nil
	}
	return &job, nil
}

func (s *JobStore) remove(ctx context.Context, id, reason string) {
	if err := s.client.Del(ctx, jobKey(id)).Err(); err != nil {
		s.log.Warn("failed to delete job record", "job_id", id, "reason", reason, "error", err)
		return
	}
	telemetry.RecordsSwept.Inc()
	s.log.Debug("job record removed", "job_id", id, "reason", reason)
}
