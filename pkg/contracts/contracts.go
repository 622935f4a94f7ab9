// Package contracts re-exports the service interfaces that form the
// boundary between the OSS control plane and deployments that embed it.
//
// The OSS binary runs against the sandbox session provider; a production
// deployment imports pkg/server and supplies a real chat-network driver
// implementing SessionProvider. These aliases exist so that driver code
// never has to import internal/ directly.
package contracts

import (
	"github.com/botyard/botyard/internal/provider"
	"github.com/botyard/botyard/internal/retention"
	"github.com/botyard/botyard/internal/store"
)

// Store is the persistence interface the control plane runs on. Embedders
// can supply their own implementation via server composition.
type Store = store.Store

// ErrNotFound is the store's typed not-found error.
type ErrNotFound = store.ErrNotFound

// ── Session provider ────────────────────────────────────────

// SessionProvider opens authenticated connections to the chat network.
// This is the one interface a production deployment must implement.
type SessionProvider = provider.Provider

// SessionConn is one live, per-bot connection.
type SessionConn = provider.Conn

// Credentials authenticate one bot account.
type Credentials = provider.Credentials

// Event is one inbound occurrence on a live connection.
type Event = provider.Event

// EventKind discriminates inbound events.
type EventKind = provider.EventKind

// RelationshipKind is the relationship reported by a friendship event.
type RelationshipKind = provider.RelationshipKind

// PresenceState is the visible online state of a logged-on account.
type PresenceState = provider.PresenceState

// ── Retention ───────────────────────────────────────────────

// Archiver is the pluggable archive backend used by the retention
// janitor. The OSS default writes local JSONL files.
type Archiver = retention.Archiver
