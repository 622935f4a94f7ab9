// Package retention implements the data retention policy for the Botyard
// control plane. Terminal tasks (resolved, disposed, failed) and the chat
// transcripts of pairs with no remaining live work are archived to a
// durable backend and then purged from the hot store once they age past
// the retention window.
//
// Archiving is fail-safe: data is NOT deleted if the archive write fails.
// Friend request records are never purged, because the invitation pacer
// relies on them to enforce at most one invitation per pair, ever.
package retention

import (
	"context"
	"time"

	"github.com/botyard/botyard/internal/store"
	"github.com/botyard/botyard/pkg/models"
	"github.com/rs/zerolog/log"
)

// Archiver is a pluggable archive backend for purged data.
type Archiver interface {
	// Kind identifies the backend ("local", "s3", ...).
	Kind() string

	// ArchiveTasks durably stores a batch of tasks and returns the
	// location they were written to.
	ArchiveTasks(ctx context.Context, tasks []models.Task) (string, error)

	// ArchiveTranscript durably stores one chat and its full message
	// history and returns the location.
	ArchiveTranscript(ctx context.Context, chat models.Chat, msgs []models.Message) (string, error)
}

// CycleStats tracks what one retention cycle did.
type CycleStats struct {
	TasksPurged int
	ChatsPurged int
	Errors      []error
}

// Janitor periodically archives and purges aged terminal tasks and the
// chats they leave behind.
type Janitor struct {
	store    store.Store
	archiver Archiver // nil disables archiving: purge only
	interval time.Duration
	window   time.Duration
}

// NewJanitor creates a retention janitor. window is how long terminal
// tasks stay in the hot store after their last update.
func NewJanitor(s store.Store, archiver Archiver, interval, window time.Duration) *Janitor {
	if interval < time.Minute {
		interval = time.Hour
	}
	return &Janitor{store: s, archiver: archiver, interval: interval, window: window}
}

// Start runs the janitor until ctx is canceled. It blocks, so callers run
// it in its own goroutine.
func (j *Janitor) Start(ctx context.Context) {
	backend := "none"
	if j.archiver != nil {
		backend = j.archiver.Kind()
	}
	log.Info().
		Dur("interval", j.interval).
		Dur("window", j.window).
		Str("archiver", backend).
		Msg("Retention janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Retention janitor stopped")
			return
		case <-ticker.C:
			j.RunCycle(ctx)
		}
	}
}

// RunCycle performs one retention sweep.
func (j *Janitor) RunCycle(ctx context.Context) CycleStats {
	start := time.Now()
	stats := CycleStats{}

	expired, err := j.findExpiredTasks(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Retention cycle: failed to list tasks")
		stats.Errors = append(stats.Errors, err)
		return stats
	}
	if len(expired) == 0 {
		return stats
	}

	if j.archiver != nil {
		if _, err := j.archiver.ArchiveTasks(ctx, expired); err != nil {
			log.Warn().Err(err).Int("count", len(expired)).
				Msg("Task archive failed, skipping purge")
			stats.Errors = append(stats.Errors, err)
			return stats
		}
	}

	for i := range expired {
		task := expired[i]
		if err := j.store.DeleteTask(ctx, task.ID); err != nil {
			log.Warn().Err(err).Str("task_id", task.ID).Msg("Failed to purge expired task")
			stats.Errors = append(stats.Errors, err)
			continue
		}
		stats.TasksPurged++
		j.reapChat(ctx, task.BotID, task.CounterpartID, &stats)
	}

	if stats.TasksPurged > 0 || stats.ChatsPurged > 0 {
		log.Info().
			Int("purged_tasks", stats.TasksPurged).
			Int("purged_chats", stats.ChatsPurged).
			Dur("elapsed", time.Since(start)).
			Msg("Retention cycle complete")
	}
	return stats
}

// findExpiredTasks returns terminal tasks whose last update is older than
// the retention window.
func (j *Janitor) findExpiredTasks(ctx context.Context) ([]models.Task, error) {
	tasks, err := j.store.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().UTC().Add(-j.window)
	var expired []models.Task
	for _, t := range tasks {
		if t.Status.Terminal() && t.UpdatedAt.Before(cutoff) {
			expired = append(expired, t)
		}
	}
	return expired, nil
}

// reapChat archives and deletes the pair's chat, but only when no other
// task still references the pair: a chat with live work stays put.
func (j *Janitor) reapChat(ctx context.Context, botID, counterpartID string, stats *CycleStats) {
	chat, err := j.store.GetChatByPair(ctx, botID, counterpartID)
	if err != nil {
		return // no chat for the pair
	}

	tasks, err := j.store.ListTasks(ctx)
	if err != nil {
		stats.Errors = append(stats.Errors, err)
		return
	}
	for _, t := range tasks {
		if t.BotID == botID && t.CounterpartID == counterpartID {
			return
		}
	}

	if j.archiver != nil {
		msgs, err := j.store.ListMessages(ctx, chat.ID, nil)
		if err != nil {
			stats.Errors = append(stats.Errors, err)
			return
		}
		if _, err := j.archiver.ArchiveTranscript(ctx, *chat, msgs); err != nil {
			log.Warn().Err(err).Str("chat_id", chat.ID).
				Msg("Transcript archive failed, skipping purge")
			stats.Errors = append(stats.Errors, err)
			return
		}
	}

	if err := j.store.DeleteChat(ctx, chat.ID); err != nil {
		stats.Errors = append(stats.Errors, err)
		return
	}
	stats.ChatsPurged++
	log.Debug().Str("chat_id", chat.ID).Msg("Chat reaped")
}
