// Package orchestrator drives the periodic processes that move tasks
// through their lifecycle: assignment, invitation pacing, and scripted
// conversation runs, all owned by a single lifecycle coordinator.
package orchestrator

import (
	"context"

	"github.com/botyard/botyard/internal/registry"
	"github.com/botyard/botyard/internal/store"
	"github.com/botyard/botyard/pkg/models"
	"github.com/rs/zerolog/log"
)

// Assigner pairs created tasks with available bots.
type Assigner struct {
	store    store.Store
	registry *registry.Registry
}

// NewAssigner creates the assignment scheduler.
func NewAssigner(s store.Store, r *registry.Registry) *Assigner {
	return &Assigner{store: s, registry: r}
}

// Tick assigns every claimable task, oldest first. Tasks that cannot be
// assigned (no bot available) are left untouched for the next tick.
func (a *Assigner) Tick(ctx context.Context) error {
	tasks, err := a.store.ListTasksByStatus(ctx, models.TaskStatusCreated)
	if err != nil {
		return err
	}

	for i := range tasks {
		task := tasks[i]

		bot, err := a.registry.NextAvailableBot(ctx)
		if err != nil {
			return err
		}
		if bot == nil {
			continue
		}

		// Re-validate right before mutating: another process may have
		// claimed or disposed the task since the listing.
		fresh, err := a.store.GetTask(ctx, task.ID)
		if err != nil || fresh.Status != models.TaskStatusCreated {
			continue
		}

		fresh.BotID = bot.ID
		fresh.Status = models.TaskStatusAssigned
		if err := a.store.UpdateTask(ctx, fresh); err != nil {
			log.Error().Err(err).Str("task_id", task.ID).Msg("Failed to assign task")
			continue
		}

		log.Info().Str("task_id", task.ID).Str("bot_id", bot.ID).Msg("Task assigned")
	}
	return nil
}
