package registry

import (
	"context"
	"time"

	"github.com/botyard/botyard/internal/provider"
	"github.com/botyard/botyard/internal/store"
	"github.com/botyard/botyard/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// handleEvent applies one inbound provider event to the stored state.
// Event handling never returns an error to the pump: failures are logged
// and the stream keeps draining.
func (r *Registry) handleEvent(ctx context.Context, sess *session, ev provider.Event) {
	switch ev.Kind {
	case provider.EventLoggedOn:
		r.handleLoggedOn(ctx, sess, ev)

	case provider.EventWebSession:
		sess.mu.Lock()
		sess.cookies = ev.Cookies
		sess.mu.Unlock()
		log.Debug().Str("bot_id", sess.botID).Int("cookies", len(ev.Cookies)).Msg("Web session established")

	case provider.EventError:
		log.Warn().Err(ev.Err).Str("bot_id", sess.botID).Msg("Provider error")
		r.setBotStatus(ctx, sess.botID, models.BotStatusAuthFailed)

	case provider.EventDisconnected:
		log.Info().Str("bot_id", sess.botID).Msg("Provider connection lost")
		r.setBotStatus(ctx, sess.botID, models.BotStatusDisconnected)

	case provider.EventFriendship:
		r.handleFriendship(ctx, sess, ev)

	case provider.EventFriendMessage:
		r.handleFriendMessage(ctx, sess, ev)

	default:
		log.Debug().Str("bot_id", sess.botID).Str("kind", string(ev.Kind)).Msg("Ignoring provider event")
	}
}

func (r *Registry) handleLoggedOn(ctx context.Context, sess *session, ev provider.Event) {
	bot, err := r.store.GetBot(ctx, sess.botID)
	if err != nil {
		log.Error().Err(err).Str("bot_id", sess.botID).Msg("Logged on for unknown bot")
		return
	}
	bot.Status = models.BotStatusConnected
	bot.LastSeen = time.Now().UTC()
	if bot.AccountID == "" {
		bot.AccountID = ev.AccountID
	}
	if err := r.store.UpdateBot(ctx, bot); err != nil {
		log.Error().Err(err).Str("bot_id", sess.botID).Msg("Failed to mark bot connected")
		return
	}

	if err := sess.conn.SetPresence(ctx, provider.PresenceOnline); err != nil {
		log.Warn().Err(err).Str("bot_id", sess.botID).Msg("Failed to set presence")
	}
	log.Info().Str("bot_id", sess.botID).Str("account_id", bot.AccountID).Msg("Bot logged on")
}

func (r *Registry) handleFriendship(ctx context.Context, sess *session, ev provider.Event) {
	switch ev.Relationship {
	case provider.RelationshipRequestRecipient:
		// Incoming requests are always accepted.
		if err := sess.conn.AddFriend(ctx, ev.CounterpartID); err != nil {
			log.Warn().Err(err).Str("bot_id", sess.botID).Str("counterpart_id", ev.CounterpartID).
				Msg("Failed to accept incoming friend request")
			return
		}
		r.friendAccepted(ctx, sess.botID, ev.CounterpartID)

	case provider.RelationshipFriend:
		r.friendAccepted(ctx, sess.botID, ev.CounterpartID)

	case provider.RelationshipNone:
		fr, err := r.store.GetOutstandingFriendRequest(ctx, sess.botID, ev.CounterpartID)
		if err != nil || fr.Status != models.FriendRequestSent {
			return
		}
		fr.Status = models.FriendRequestRejected
		if err := r.store.UpdateFriendRequest(ctx, fr); err != nil {
			log.Error().Err(err).Str("bot_id", sess.botID).Msg("Failed to mark friend request rejected")
		}
	}
}

// friendAccepted runs the acceptance flow for a (bot, counterpart) pair:
// the outstanding sent record flips to accepted, a chat is created if the
// pair has none, and an invited task for the pair advances to accepted.
func (r *Registry) friendAccepted(ctx context.Context, botID, counterpartID string) {
	if fr, err := r.store.GetOutstandingFriendRequest(ctx, botID, counterpartID); err == nil {
		if fr.Status == models.FriendRequestSent {
			fr.Status = models.FriendRequestAccepted
			if uerr := r.store.UpdateFriendRequest(ctx, fr); uerr != nil {
				log.Error().Err(uerr).Str("bot_id", botID).Msg("Failed to mark friend request accepted")
			}
		}
	}

	if _, err := r.store.GetChatByPair(ctx, botID, counterpartID); err != nil {
		if !store.IsNotFound(err) {
			log.Error().Err(err).Str("bot_id", botID).Msg("Chat lookup failed")
			return
		}
		now := time.Now().UTC()
		chat := &models.Chat{
			ID:            uuid.New().String(),
			BotID:         botID,
			CounterpartID: counterpartID,
			Automated:     true,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if cerr := r.store.CreateChat(ctx, chat); cerr != nil {
			log.Error().Err(cerr).Str("bot_id", botID).Msg("Failed to create chat")
			return
		}
		log.Info().Str("bot_id", botID).Str("counterpart_id", counterpartID).Str("chat_id", chat.ID).
			Msg("Chat created")
	}

	tasks, err := r.store.ListTasksByStatus(ctx, models.TaskStatusInvited)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list invited tasks")
		return
	}
	for i := range tasks {
		task := tasks[i]
		if task.BotID != botID || task.CounterpartID != counterpartID {
			continue
		}
		task.Status = models.TaskStatusAccepted
		if err := r.store.UpdateTask(ctx, &task); err != nil {
			log.Error().Err(err).Str("task_id", task.ID).Msg("Failed to advance task to accepted")
			continue
		}
		log.Info().Str("task_id", task.ID).Str("bot_id", botID).Msg("Task accepted")
	}
}

// handleFriendMessage appends an inbound message to the pair's chat.
// Messages for pairs with no chat are dropped: a chat is only ever created
// by the acceptance flow, never from an inbound message alone.
func (r *Registry) handleFriendMessage(ctx context.Context, sess *session, ev provider.Event) {
	chat, err := r.store.GetChatByPair(ctx, sess.botID, ev.CounterpartID)
	if err != nil {
		log.Debug().Str("bot_id", sess.botID).Str("counterpart_id", ev.CounterpartID).
			Msg("Inbound message for unknown chat, dropped")
		return
	}

	msg := &models.Message{
		ID:        uuid.New().String(),
		ChatID:    chat.ID,
		Source:    models.MessageSourcePlayer,
		Text:      ev.Text,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.AppendMessage(ctx, msg); err != nil {
		log.Error().Err(err).Str("chat_id", chat.ID).Msg("Failed to append inbound message")
	}
}

func (r *Registry) setBotStatus(ctx context.Context, botID string, status models.BotStatus) {
	bot, err := r.store.GetBot(ctx, botID)
	if err != nil {
		return
	}
	bot.Status = status
	if err := r.store.UpdateBot(ctx, bot); err != nil {
		log.Error().Err(err).Str("bot_id", botID).Str("status", string(status)).
			Msg("Failed to update bot status")
	}
}
