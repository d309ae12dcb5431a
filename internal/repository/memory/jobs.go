package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vipul43/mailsync/internal/models"
	"github.com/vipul43/mailsync/internal/repository"
)

// JobStore keeps jobs in a map. The single mutex makes the active-job check
// and the insert one atomic step, matching the partial unique index.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*models.SyncJob
	seq  map[string]int
	next int
}

func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]*models.SyncJob),
		seq:  make(map[string]int),
	}
}

func (s *JobStore) Create(_ context.Context, job *models.SyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status.Active() {
		for _, existing := range s.jobs {
			if existing.AccountID == job.AccountID && existing.Status.Active() {
				return repository.ErrJobAlreadyQueued
			}
		}
	}
	c := cloneJob(job)
	s.jobs[job.ID] = c
	s.next++
	s.seq[job.ID] = s.next
	return nil
}

func (s *JobStore) GetByID(_ context.Context, jobID string) (*models.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, repository.ErrJobNotFound
	}
	return cloneJob(j), nil
}

func (s *JobStore) NextEligible(_ context.Context, now time.Time) (*models.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *models.SyncJob
	for _, j := range s.jobs {
		if j.Status != models.JobStatusPending || j.ScheduledFor.After(now) {
			continue
		}
		if best == nil || s.before(j, best) {
			best = j
		}
	}
	if best == nil {
		return nil, nil
	}
	return cloneJob(best), nil
}

func (s *JobStore) before(a, b *models.SyncJob) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.ScheduledFor.Equal(b.ScheduledFor) {
		return a.ScheduledFor.Before(b.ScheduledFor)
	}
	return s.seq[a.ID] < s.seq[b.ID]
}

func (s *JobStore) MarkInProgress(_ context.Context, jobID string, at time.Time) error {
	return s.transition(jobID, models.JobStatusPending, func(j *models.SyncJob) {
		j.Status = models.JobStatusInProgress
		j.StartedAt = timePtr(at)
		j.UpdatedAt = at
	})
}

func (s *JobStore) MarkCompleted(_ context.Context, jobID string, at time.Time) error {
	return s.transition(jobID, models.JobStatusInProgress, func(j *models.SyncJob) {
		j.Status = models.JobStatusCompleted
		j.CompletedAt = timePtr(at)
		j.ErrorMessage = nil
		j.UpdatedAt = at
	})
}

func (s *JobStore) Reschedule(_ context.Context, jobID string, retryCount int, scheduledFor time.Time, message string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return repository.ErrJobNotFound
	}
	if j.Status != models.JobStatusInProgress || j.RetryCount != retryCount {
		return repository.ErrJobStateConflict
	}
	j.Status = models.JobStatusPending
	j.RetryCount = retryCount + 1
	j.ScheduledFor = scheduledFor
	j.StartedAt = nil
	j.ErrorMessage = &message
	j.UpdatedAt = at
	return nil
}

func (s *JobStore) MarkFailed(_ context.Context, jobID string, message string, at time.Time) error {
	return s.transition(jobID, models.JobStatusInProgress, func(j *models.SyncJob) {
		j.Status = models.JobStatusFailed
		j.CompletedAt = timePtr(at)
		j.ErrorMessage = &message
		j.UpdatedAt = at
	})
}

func (s *JobStore) CancelPending(_ context.Context, accountID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, j := range s.jobs {
		if j.AccountID != accountID || j.Status != models.JobStatusPending {
			continue
		}
		msg := "cancelled"
		j.Status = models.JobStatusFailed
		j.ErrorMessage = &msg
		j.CompletedAt = timePtr(at)
		j.UpdatedAt = at
		n++
	}
	return n, nil
}

func (s *JobStore) Expedite(_ context.Context, accountID string, priority int, at time.Time) (*models.SyncJob, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.AccountID != accountID || j.Status != models.JobStatusPending {
			continue
		}
		changed := false
		if priority < j.Priority {
			j.Priority = priority
			changed = true
		}
		if at.Before(j.ScheduledFor) {
			j.ScheduledFor = at
			changed = true
		}
		if changed {
			j.UpdatedAt = at
		}
		return cloneJob(j), changed, nil
	}
	return nil, false, repository.ErrJobNotFound
}

func (s *JobStore) DeleteCompletedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, j := range s.jobs {
		if j.Status == models.JobStatusCompleted && j.CompletedAt != nil && j.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
			delete(s.seq, id)
			n++
		}
	}
	return n, nil
}

func (s *JobStore) ListStaleInProgress(_ context.Context, startedBefore time.Time, limit int) ([]models.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SyncJob
	for _, j := range s.jobs {
		if j.Status == models.JobStatusInProgress && j.StartedAt != nil && j.StartedAt.Before(startedBefore) {
			out = append(out, *cloneJob(j))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].StartedAt.Before(*out[b].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *JobStore) ListByAccount(_ context.Context, accountID string, limit int) ([]models.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SyncJob
	for _, j := range s.jobs {
		if j.AccountID == accountID {
			out = append(out, *cloneJob(j))
		}
	}
	// newest first; sequence breaks ties between jobs created in the same instant
	sort.Slice(out, func(a, b int) bool { return s.seq[out[a].ID] > s.seq[out[b].ID] })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *JobStore) CountByStatus(_ context.Context) (map[models.SyncJobStatus]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[models.SyncJobStatus]int64)
	for _, j := range s.jobs {
		counts[j.Status]++
	}
	return counts, nil
}

// All returns a snapshot of every job, oldest first.
func (s *JobStore) All() []models.SyncJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SyncJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *cloneJob(j))
	}
	sort.Slice(out, func(a, b int) bool { return s.seq[out[a].ID] < s.seq[out[b].ID] })
	return out
}

func (s *JobStore) transition(jobID string, from models.SyncJobStatus, fn func(*models.SyncJob)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return repository.ErrJobNotFound
	}
	if j.Status != from {
		return repository.ErrJobStateConflict
	}
	fn(j)
	return nil
}

func cloneJob(j *models.SyncJob) *models.SyncJob {
	c := *j
	c.ErrorMessage = cloneString(j.ErrorMessage)
	if j.Metadata.Folders != nil {
		c.Metadata.Folders = append([]string(nil), j.Metadata.Folders...)
	}
	return &c
}
