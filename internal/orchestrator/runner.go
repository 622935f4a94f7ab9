package orchestrator

import (
	"context"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/botyard/botyard/internal/config"
	"github.com/botyard/botyard/internal/registry"
	"github.com/botyard/botyard/internal/store"
	"github.com/botyard/botyard/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// script is the fixed message sequence played into an accepted chat.
// A run of n messages plays lines 0..n-1, with {item}, {min}, and {max}
// substituted from the task.
var script = []string{
	"Hi! I saw you have {item} up for trade.",
	"I'm buying {item} in the {min}-{max} range, are you interested?",
	"I can do {max} if the deal closes today.",
	"Anything between {min} and {max} works for me, your call.",
	"I'm around whenever you want to settle on a price for {item}.",
}

// Runner plays the scripted exchange for accepted, automation-enabled
// chats. One logical run exists per chat; concurrent runs for different
// chats are independently timed. All runs share one token-bucket ceiling
// on outbound messages, separate from the per-bot invite cooldown.
type Runner struct {
	store    store.Store
	registry *registry.Registry

	delay   time.Duration
	minMsgs int
	maxMsgs int
	limiter *rate.Limiter

	mu      sync.Mutex
	running map[string]struct{} // chat IDs with a run in flight
	wg      sync.WaitGroup
}

// NewRunner creates the script runner.
func NewRunner(s store.Store, r *registry.Registry, cfg config.OrchestratorConfig) *Runner {
	minMsgs, maxMsgs := cfg.ScriptMinMessages, cfg.ScriptMaxMessages
	if minMsgs < 1 {
		minMsgs = 1
	}
	if maxMsgs < minMsgs {
		maxMsgs = minMsgs
	}
	return &Runner{
		store:    s,
		registry: r,
		delay:    cfg.ScriptDelay,
		minMsgs:  minMsgs,
		maxMsgs:  maxMsgs,
		limiter:  rate.NewLimiter(rate.Limit(cfg.MessageRate), cfg.MessageBurst),
		running:  make(map[string]struct{}),
	}
}

// Sweep starts a run for every accepted task whose chat has automation
// enabled and whose bot holds a live session. Chats with a run already in
// flight are skipped.
func (r *Runner) Sweep(ctx context.Context) error {
	tasks, err := r.store.ListTasksByStatus(ctx, models.TaskStatusAccepted)
	if err != nil {
		return err
	}

	for i := range tasks {
		task := tasks[i]

		chat, err := r.store.GetChatByPair(ctx, task.BotID, task.CounterpartID)
		if err != nil {
			continue
		}
		if !chat.Automated {
			continue
		}
		if !r.registry.HasSession(task.BotID) {
			continue
		}
		if !r.acquire(chat.ID) {
			continue
		}

		r.wg.Add(1)
		go func(task models.Task, chatID string) {
			defer r.wg.Done()
			defer r.release(chatID)
			r.run(ctx, task, chatID)
		}(task, chat.ID)
	}
	return nil
}

// Wait blocks until all in-flight runs finish. Called on shutdown.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// run plays one scripted exchange. The automation flag is re-read from
// the store immediately before every send: disabling it aborts the rest
// of the script without retracting sent messages or touching the task,
// leaving the task accepted for a later sweep to restart from line one.
func (r *Runner) run(ctx context.Context, task models.Task, chatID string) {
	n := r.minMsgs + rand.Intn(r.maxMsgs-r.minMsgs+1)

	log.Info().Str("task_id", task.ID).Str("chat_id", chatID).Int("messages", n).
		Msg("Script run started")

	for i := 0; i < n; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.delay):
			}
		}

		chat, err := r.store.GetChat(ctx, chatID)
		if err != nil {
			log.Error().Err(err).Str("chat_id", chatID).Msg("Chat vanished mid-run")
			return
		}
		if !chat.Automated {
			log.Info().Str("chat_id", chatID).Int("sent", i).Msg("Automation disabled, run aborted")
			return
		}

		if err := r.limiter.Wait(ctx); err != nil {
			return
		}

		text := renderLine(i, &task)
		msg := &models.Message{
			ID:        uuid.New().String(),
			ChatID:    chatID,
			Source:    models.MessageSourceBot,
			Text:      text,
			CreatedAt: time.Now().UTC(),
		}
		if err := r.store.AppendMessage(ctx, msg); err != nil {
			log.Error().Err(err).Str("chat_id", chatID).Msg("Failed to append scripted message")
			return
		}
		if err := r.registry.SendMessage(ctx, task.BotID, task.CounterpartID, text); err != nil {
			log.Warn().Err(err).Str("task_id", task.ID).Msg("Scripted send failed, run aborted")
			return
		}
	}

	fresh, err := r.store.GetTask(ctx, task.ID)
	if err != nil || fresh.Status != models.TaskStatusAccepted {
		return
	}
	fresh.Status = models.TaskStatusResolved
	if err := r.store.UpdateTask(ctx, fresh); err != nil {
		log.Error().Err(err).Str("task_id", task.ID).Msg("Failed to resolve task")
		return
	}

	log.Info().Str("task_id", task.ID).Int("messages", n).Msg("Script run complete, task resolved")
}

func (r *Runner) acquire(chatID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.running[chatID]; busy {
		return false
	}
	r.running[chatID] = struct{}{}
	return true
}

func (r *Runner) release(chatID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, chatID)
}

// renderLine substitutes task fields into script line i (lines repeat when
// a run is longer than the script).
func renderLine(i int, task *models.Task) string {
	line := script[i%len(script)]
	return strings.NewReplacer(
		"{item}", task.Item,
		"{min}", formatPrice(task.PriceMin),
		"{max}", formatPrice(task.PriceMax),
	).Replace(line)
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
