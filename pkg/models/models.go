// Package models defines the core data model for the Botyard control plane:
// managed bot accounts, negotiation tasks, chats, messages, and friend
// request records. These types are shared between the store, the
// orchestration core, and the HTTP API.
package models

import "time"

// ── Bot ─────────────────────────────────────────────────────

// BotStatus is the connection lifecycle state of a managed account.
type BotStatus string

const (
	BotStatusConnecting   BotStatus = "connecting"
	BotStatusConnected    BotStatus = "connected"
	BotStatusDisconnected BotStatus = "disconnected"
	BotStatusAuthFailed   BotStatus = "auth_failed"
)

// Bot is a managed chat account. Status is mutated only by the session
// registry, in response to provider events or explicit connect/disconnect.
type Bot struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id,omitempty"` // assigned on first successful login
	Label     string    `json:"label"`
	Username  string    `json:"username"`
	Password  string    `json:"password,omitempty"` // masked on API reads
	Proxy     string    `json:"proxy,omitempty"`    // egress proxy URL, empty = direct
	Status    BotStatus `json:"status"`
	LastSeen  time.Time `json:"last_seen,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ── Task ────────────────────────────────────────────────────

// TaskStatus is the lifecycle state of a negotiation task.
//
//	created → assigned → invited → accepted → resolved
//
// Any non-terminal task may be disposed by an operator. Terminal states
// (resolved, disposed, failed) are retained for audit and never re-entered.
type TaskStatus string

const (
	TaskStatusCreated  TaskStatus = "created"
	TaskStatusAssigned TaskStatus = "assigned"
	TaskStatusInvited  TaskStatus = "invited"
	TaskStatusAccepted TaskStatus = "accepted"
	TaskStatusResolved TaskStatus = "resolved"
	TaskStatusDisposed TaskStatus = "disposed"
	TaskStatusFailed   TaskStatus = "failed"
)

// Terminal reports whether s is a terminal task state.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusResolved || s == TaskStatusDisposed || s == TaskStatusFailed
}

// Task is one unit of work: negotiate one item with one counterpart within
// a price band. BotID is set when (and only when) the task reaches assigned.
type Task struct {
	ID            string     `json:"id"`
	CounterpartID string     `json:"counterpart_id"`
	Item          string     `json:"item"`
	PriceMin      float64    `json:"price_min"`
	PriceMax      float64    `json:"price_max"`
	Status        TaskStatus `json:"status"`
	BotID         string     `json:"bot_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// ── Chat ────────────────────────────────────────────────────

// Chat is the conversation channel for one (bot, counterpart) pair.
// At most one chat per pair is canonical; creation is idempotent.
type Chat struct {
	ID            string    `json:"id"`
	BotID         string    `json:"bot_id"`
	CounterpartID string    `json:"counterpart_id"`
	Automated     bool      `json:"automated"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ── Message ─────────────────────────────────────────────────

// MessageSource tags who produced a message.
type MessageSource string

const (
	MessageSourceBot    MessageSource = "bot"
	MessageSourcePlayer MessageSource = "player"
)

// Message is one utterance in a chat. Append-only, never mutated.
type Message struct {
	ID        string        `json:"id"`
	ChatID    string        `json:"chat_id"`
	Source    MessageSource `json:"source"`
	Text      string        `json:"text"`
	CreatedAt time.Time     `json:"created_at"`
}

// ── FriendRequest ───────────────────────────────────────────

// FriendRequestStatus tracks one social-connection attempt.
type FriendRequestStatus string

const (
	FriendRequestSent     FriendRequestStatus = "sent"
	FriendRequestAccepted FriendRequestStatus = "accepted"
	FriendRequestRejected FriendRequestStatus = "rejected"
	FriendRequestFailed   FriendRequestStatus = "failed"
)

// FriendRequest records a single invitation from a bot to a counterpart.
// No two sent/accepted records may coexist for the same pair; the pacer
// checks this before inviting.
type FriendRequest struct {
	ID            string              `json:"id"`
	BotID         string              `json:"bot_id"`
	CounterpartID string              `json:"counterpart_id"`
	Status        FriendRequestStatus `json:"status"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// Outstanding reports whether this record blocks a new invitation for
// the same (bot, counterpart) pair.
func (f *FriendRequest) Outstanding() bool {
	return f.Status == FriendRequestSent || f.Status == FriendRequestAccepted
}
