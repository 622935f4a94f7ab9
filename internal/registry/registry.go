// Package registry owns the mapping from bot ID to live provider session.
// It is the only component that talks to the account session provider:
// connecting, disconnecting, messaging, and friending all go through it,
// as does the inbound event stream (see events.go).
//
// Architecture:
//
//	Connect(botID)
//	    └─► Provider.Open(credentials, proxy)
//	            ├─► session registered (one per bot, ever)
//	            └─► event pump goroutine ─► handleEvent
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/botyard/botyard/internal/provider"
	"github.com/botyard/botyard/internal/store"
	"github.com/botyard/botyard/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrNoSession is returned when an action requires a live session for a
// bot that has none.
var ErrNoSession = errors.New("no live session for bot")

// session is the runtime handle for one connected bot. Never persisted.
type session struct {
	botID string
	conn  provider.Conn

	// mu guards lastInvite. The cooldown check-then-act must not race
	// across concurrent callers, so it is a per-session critical section.
	mu         sync.Mutex
	lastInvite time.Time

	cookies []string
}

// Registry maps bot IDs to live sessions and mediates all provider actions.
type Registry struct {
	store    store.Store
	provider provider.Provider
	cooldown time.Duration

	mu       sync.RWMutex
	sessions map[string]*session // key: bot ID
	cursor   int                 // round-robin position, advances monotonically

	wg sync.WaitGroup // event pumps in flight
}

// New creates a session registry. cooldown is the per-bot minimum spacing
// between friend requests.
func New(s store.Store, p provider.Provider, cooldown time.Duration) *Registry {
	return &Registry{
		store:    s,
		provider: p,
		cooldown: cooldown,
		sessions: make(map[string]*session),
	}
}

// HasSession reports whether a live session exists for the bot.
func (r *Registry) HasSession(botID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[botID]
	return ok
}

// Connect establishes a live session for the bot. A second call while a
// session exists is a no-op, preserving the one-session-per-bot invariant.
// Malformed credentials do not return an error: the bot is marked
// auth_failed and the failure is logged.
func (r *Registry) Connect(ctx context.Context, botID string) error {
	r.mu.RLock()
	_, exists := r.sessions[botID]
	r.mu.RUnlock()
	if exists {
		return nil
	}

	bot, err := r.store.GetBot(ctx, botID)
	if err != nil {
		return err
	}

	creds := provider.Credentials{Username: bot.Username, Password: bot.Password}
	if !creds.Valid() {
		log.Warn().Str("bot_id", botID).Msg("Malformed credentials, cannot connect")
		bot.Status = models.BotStatusAuthFailed
		if err := r.store.UpdateBot(ctx, bot); err != nil {
			log.Error().Err(err).Str("bot_id", botID).Msg("Failed to mark bot auth_failed")
		}
		return nil
	}

	bot.Status = models.BotStatusConnecting
	if err := r.store.UpdateBot(ctx, bot); err != nil {
		return fmt.Errorf("mark bot connecting: %w", err)
	}

	conn, err := r.provider.Open(ctx, creds, bot.Proxy)
	if err != nil {
		bot.Status = models.BotStatusAuthFailed
		if uerr := r.store.UpdateBot(ctx, bot); uerr != nil {
			log.Error().Err(uerr).Str("bot_id", botID).Msg("Failed to mark bot auth_failed")
		}
		return fmt.Errorf("open provider connection: %w", err)
	}

	sess := &session{botID: botID, conn: conn}

	r.mu.Lock()
	if _, raced := r.sessions[botID]; raced {
		// Another Connect won while we were opening; drop ours.
		r.mu.Unlock()
		conn.LogOff()
		return nil
	}
	r.sessions[botID] = sess
	r.mu.Unlock()

	r.wg.Add(1)
	go r.pumpEvents(sess)

	log.Info().Str("bot_id", botID).Str("username", bot.Username).Msg("Session opened, authenticating")
	return nil
}

// Disconnect tears down the bot's live session. Idempotent: disconnecting
// a bot with no session is a no-op.
func (r *Registry) Disconnect(ctx context.Context, botID string) error {
	r.mu.Lock()
	sess, ok := r.sessions[botID]
	if ok {
		delete(r.sessions, botID)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}

	if err := sess.conn.LogOff(); err != nil {
		log.Warn().Err(err).Str("bot_id", botID).Msg("Log off failed during disconnect")
	}

	bot, err := r.store.GetBot(ctx, botID)
	if err == nil {
		bot.Status = models.BotStatusDisconnected
		if uerr := r.store.UpdateBot(ctx, bot); uerr != nil {
			log.Error().Err(uerr).Str("bot_id", botID).Msg("Failed to mark bot disconnected")
		}
	}

	log.Info().Str("bot_id", botID).Msg("Session closed")
	return nil
}

// Shutdown disconnects every live session and waits for the event pumps
// to drain. Called on server shutdown.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		if err := r.Disconnect(ctx, id); err != nil {
			log.Warn().Err(err).Str("bot_id", id).Msg("Failed to disconnect during shutdown")
		}
	}
	r.wg.Wait()
	log.Info().Int("count", len(ids)).Msg("All sessions closed")
}

// SendMessage dispatches a chat message through the bot's live session.
// It enforces no rate limit of its own; outbound pacing for scripted runs
// is the script runner's global limiter.
func (r *Registry) SendMessage(ctx context.Context, botID, counterpartID, text string) error {
	sess := r.session(botID)
	if sess == nil {
		return fmt.Errorf("%w: %s", ErrNoSession, botID)
	}
	return sess.conn.SendMessage(ctx, counterpartID, text)
}

// SendFriendRequest sends a social-connection request if the bot's invite
// cooldown has elapsed. It returns false with no side effect while the
// cooldown is still running. On success the cooldown timestamp advances
// and a FriendRequest record with status sent is written.
func (r *Registry) SendFriendRequest(ctx context.Context, botID, counterpartID string) (bool, error) {
	sess := r.session(botID)
	if sess == nil {
		return false, fmt.Errorf("%w: %s", ErrNoSession, botID)
	}

	// The whole check-dispatch-stamp sequence holds the per-session lock:
	// two concurrent callers must not both pass the cooldown check.
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if since := time.Since(sess.lastInvite); since < r.cooldown {
		return false, nil
	}

	if err := sess.conn.AddFriend(ctx, counterpartID); err != nil {
		return false, fmt.Errorf("add friend: %w", err)
	}
	sess.lastInvite = time.Now()

	now := time.Now().UTC()
	fr := &models.FriendRequest{
		ID:            uuid.New().String(),
		BotID:         botID,
		CounterpartID: counterpartID,
		Status:        models.FriendRequestSent,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.store.CreateFriendRequest(ctx, fr); err != nil {
		log.Error().Err(err).Str("bot_id", botID).Str("counterpart_id", counterpartID).
			Msg("Friend request dispatched but not recorded")
		return true, err
	}

	log.Info().Str("bot_id", botID).Str("counterpart_id", counterpartID).Msg("Friend request sent")
	return true, nil
}

// NextAvailableBot selects one connected bot in round-robin rotation.
// The pool is recomputed fresh on every call, so bots connecting or
// disconnecting between calls shift the rotation naturally; the cursor
// only ever advances. Returns nil when no bot is available.
func (r *Registry) NextAvailableBot(ctx context.Context) (*models.Bot, error) {
	bots, err := r.store.ListBots(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var pool []models.Bot
	for _, b := range bots {
		if b.Status != models.BotStatusConnected {
			continue
		}
		if _, ok := r.sessions[b.ID]; !ok {
			continue
		}
		pool = append(pool, b)
	}
	if len(pool) == 0 {
		return nil, nil
	}

	pick := pool[r.cursor%len(pool)]
	r.cursor++
	return &pick, nil
}

func (r *Registry) session(botID string) *session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[botID]
}

// pumpEvents drains a connection's event stream until it closes.
func (r *Registry) pumpEvents(sess *session) {
	defer r.wg.Done()
	for ev := range sess.conn.Events() {
		r.handleEvent(context.Background(), sess, ev)
	}
}
