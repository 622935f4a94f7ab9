package orchestrator

import (
	"context"

	"github.com/botyard/botyard/internal/registry"
	"github.com/botyard/botyard/internal/store"
	"github.com/botyard/botyard/pkg/models"
	"github.com/rs/zerolog/log"
)

// Pacer sends rate-limited friend requests for assigned tasks. A task that
// cannot be invited this tick (cooldown, no session, transient provider
// failure) simply stays assigned and is retried next tick; retries are
// bounded only by the per-bot cooldown, never by a counter.
type Pacer struct {
	store    store.Store
	registry *registry.Registry
}

// NewPacer creates the invitation pacer.
func NewPacer(s store.Store, r *registry.Registry) *Pacer {
	return &Pacer{store: s, registry: r}
}

// Tick invites the counterpart of every assigned task whose bot is live,
// at most once per (bot, counterpart) pair overall.
func (p *Pacer) Tick(ctx context.Context) error {
	tasks, err := p.store.ListTasksByStatus(ctx, models.TaskStatusAssigned)
	if err != nil {
		return err
	}

	for i := range tasks {
		task := tasks[i]

		if !p.registry.HasSession(task.BotID) {
			continue
		}

		// One outstanding invitation per pair, ever.
		if _, err := p.store.GetOutstandingFriendRequest(ctx, task.BotID, task.CounterpartID); err == nil {
			continue
		} else if !store.IsNotFound(err) {
			log.Error().Err(err).Str("task_id", task.ID).Msg("Friend request lookup failed")
			continue
		}

		sent, err := p.registry.SendFriendRequest(ctx, task.BotID, task.CounterpartID)
		if err != nil {
			// Transient provider failure: retry next tick.
			log.Warn().Err(err).Str("task_id", task.ID).Str("bot_id", task.BotID).
				Msg("Friend request failed, will retry")
			continue
		}
		if !sent {
			// Cooldown still running.
			continue
		}

		fresh, err := p.store.GetTask(ctx, task.ID)
		if err != nil || fresh.Status != models.TaskStatusAssigned {
			continue
		}
		fresh.Status = models.TaskStatusInvited
		if err := p.store.UpdateTask(ctx, fresh); err != nil {
			log.Error().Err(err).Str("task_id", task.ID).Msg("Failed to advance task to invited")
			continue
		}

		log.Info().Str("task_id", task.ID).Str("counterpart_id", task.CounterpartID).Msg("Task invited")
	}
	return nil
}
