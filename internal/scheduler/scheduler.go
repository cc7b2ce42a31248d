// Package scheduler runs daily housekeeping jobs, such as pruning old chat
// history, at a fixed local time of day.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Job is one daily task.
type Job struct {
	Name string
	At   string // HH:MM, local time
	Run  func(ctx context.Context) error
}

// Scheduler runs its jobs once a day until cancelled.
type Scheduler struct {
	jobs []Job
	now  func() time.Time
}

// New creates a scheduler for jobs.
func New(jobs ...Job) *Scheduler {
	return &Scheduler{jobs: jobs, now: time.Now}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	for _, job := range s.jobs {
		if _, _, err := ParseClock(job.At); err != nil {
			return fmt.Errorf("job %s: %w", job.Name, err)
		}
	}

	log.Info().Int("jobs", len(s.jobs)).Msg("scheduler started")
	for _, job := range s.jobs {
		go s.loop(ctx, job)
	}
	<-ctx.Done()
	log.Info().Msg("scheduler stopped")
	return nil
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	for {
		next := NextRun(job.At, s.now())
		log.Info().
			Str("job", job.Name).
			Time("next_run", next).
			Msg("job scheduled")

		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.runJob(ctx, job)
		}
	}
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	start := s.now()
	if err := job.Run(ctx); err != nil {
		log.Warn().Err(err).Str("job", job.Name).Msg("job failed")
		return
	}
	log.Info().Str("job", job.Name).Dur("took", s.now().Sub(start)).Msg("job completed")
}

// ParseClock parses an HH:MM time of day.
func ParseClock(at string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", at)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q: want HH:MM", at)
	}
	return t.Hour(), t.Minute(), nil
}

// NextRun returns the first instant at or after now matching at. A
// malformed at falls back to 04:00.
func NextRun(at string, now time.Time) time.Time {
	hour, minute, err := ParseClock(at)
	if err != nil {
		hour, minute = 4, 0
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if next.Before(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// ChatPruner deletes chat history older than a cutoff.
type ChatPruner interface {
	PruneChat(ctx context.Context, before time.Time) (int64, error)
}

// ChatRetention is a job keeping the last days of chat history.
func ChatRetention(store ChatPruner, days int, at string) Job {
	return Job{
		Name: "chat-retention",
		At:   at,
		Run: func(ctx context.Context) error {
			cutoff := time.Now().AddDate(0, 0, -days)
			removed, err := store.PruneChat(ctx, cutoff)
			if err != nil {
				return fmt.Errorf("failed to prune chat history: %w", err)
			}
			log.Info().
				Int64("removed", removed).
				Int("retention_days", days).
				Msg("chat history pruned")
			return nil
		},
	}
}
