// Package store provides the storage interface and implementations for the
// Botyard control plane. The orchestration core treats the store as the
// single source of truth for bots, tasks, chats, messages, and friend
// requests; live sessions are never persisted.
package store

import (
	"context"
	"time"

	"github.com/botyard/botyard/pkg/models"
)

// Store is the primary storage interface for the control plane.
// All orchestration and handler code depends on this interface, making it
// easy to swap between in-memory (tests, OSS) and SQL-backed implementations.
type Store interface {
	BotStore
	TaskStore
	ChatStore
	MessageStore
	FriendRequestStore

	// Ping checks if the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// ── Bot Store ───────────────────────────────────────────────

type BotStore interface {
	ListBots(ctx context.Context) ([]models.Bot, error)
	GetBot(ctx context.Context, id string) (*models.Bot, error)
	CreateBot(ctx context.Context, bot *models.Bot) error
	UpdateBot(ctx context.Context, bot *models.Bot) error
	DeleteBot(ctx context.Context, id string) error
}

// ── Task Store ──────────────────────────────────────────────

type TaskStore interface {
	ListTasks(ctx context.Context) ([]models.Task, error)

	// ListTasksByStatus returns tasks in the given status ordered by
	// creation time, oldest first (FIFO fairness for the scheduler).
	ListTasksByStatus(ctx context.Context, status models.TaskStatus) ([]models.Task, error)

	GetTask(ctx context.Context, id string) (*models.Task, error)
	CreateTask(ctx context.Context, task *models.Task) error
	UpdateTask(ctx context.Context, task *models.Task) error

	// DeleteTask removes a task. Used by the retention janitor to purge
	// aged terminal tasks; orchestration code never deletes.
	DeleteTask(ctx context.Context, id string) error
}

// ── Chat Store ──────────────────────────────────────────────

type ChatStore interface {
	ListChats(ctx context.Context) ([]models.Chat, error)
	GetChat(ctx context.Context, id string) (*models.Chat, error)

	// GetChatByPair returns the canonical chat for a (bot, counterpart)
	// pair. Callers use it for idempotent lookup-then-create.
	GetChatByPair(ctx context.Context, botID, counterpartID string) (*models.Chat, error)

	CreateChat(ctx context.Context, chat *models.Chat) error
	UpdateChat(ctx context.Context, chat *models.Chat) error

	// DeleteChat removes a chat, its pair index entry, and its messages.
	DeleteChat(ctx context.Context, id string) error
}

// ── Message Store ───────────────────────────────────────────

type MessageStore interface {
	// AppendMessage adds a message to a chat. Messages are append-only
	// and never mutated after creation.
	AppendMessage(ctx context.Context, msg *models.Message) error

	// ListMessages returns a chat's messages ordered by creation time.
	// A non-nil since filters to messages created after that instant.
	ListMessages(ctx context.Context, chatID string, since *time.Time) ([]models.Message, error)
}

// ── Friend Request Store ────────────────────────────────────

type FriendRequestStore interface {
	ListFriendRequests(ctx context.Context, botID string) ([]models.FriendRequest, error)

	// GetOutstandingFriendRequest returns the sent or accepted record for
	// the pair, or ErrNotFound when none exists. The pacer uses this to
	// guarantee at most one outstanding invitation per pair.
	GetOutstandingFriendRequest(ctx context.Context, botID, counterpartID string) (*models.FriendRequest, error)

	CreateFriendRequest(ctx context.Context, fr *models.FriendRequest) error
	UpdateFriendRequest(ctx context.Context, fr *models.FriendRequest) error
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// IsNotFound reports whether err is a store ErrNotFound.
func IsNotFound(err error) bool {
	_, ok := err.(*ErrNotFound)
	return ok
}
