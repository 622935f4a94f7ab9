// Package provider defines the contract consumed by the session registry to
// talk to the external chat network. The control plane never speaks the wire
// protocol itself: authentication, encryption, and handshakes live behind
// this interface, and inbound activity arrives as an event stream.
package provider

import "context"

// Credentials authenticate one bot account.
type Credentials struct {
	Username string
	Password string
}

// Valid reports whether the credentials are well-formed enough to attempt
// a login.
func (c Credentials) Valid() bool {
	return c.Username != "" && c.Password != ""
}

// PresenceState is the visible online state of a logged-on account.
type PresenceState string

const (
	PresenceOnline  PresenceState = "online"
	PresenceOffline PresenceState = "offline"
)

// EventKind discriminates inbound events on a connection's stream.
type EventKind string

const (
	EventLoggedOn      EventKind = "logged_on"
	EventWebSession    EventKind = "web_session"
	EventError         EventKind = "error"
	EventDisconnected  EventKind = "disconnected"
	EventFriendship    EventKind = "friendship"
	EventFriendMessage EventKind = "friend_message"
)

// RelationshipKind is the new relationship reported by a friendship event.
type RelationshipKind string

const (
	// RelationshipRequestRecipient means the counterpart sent us a
	// friend request (we are the recipient).
	RelationshipRequestRecipient RelationshipKind = "request_recipient"

	// RelationshipFriend means the pair is now connected (our invite was
	// accepted, or we accepted theirs).
	RelationshipFriend RelationshipKind = "friend"

	// RelationshipNone means the connection was removed or declined.
	RelationshipNone RelationshipKind = "none"
)

// Event is one inbound occurrence on a live connection. Only the fields
// relevant to the Kind are populated.
type Event struct {
	Kind          EventKind
	AccountID     string           // logged_on: external account identifier
	Cookies       []string         // web_session
	Err           error            // error
	CounterpartID string           // friendship, friend_message
	Relationship  RelationshipKind // friendship
	Text          string           // friend_message
}

// Provider opens authenticated connections to the chat network.
type Provider interface {
	// Open starts authentication for the given credentials, routed through
	// proxy when non-empty. It returns immediately; the outcome arrives on
	// the connection's event stream as logged_on or error.
	Open(ctx context.Context, creds Credentials, proxy string) (Conn, error)
}

// Conn is one live, per-bot connection. All methods are safe for
// concurrent use. The events channel is closed when the connection dies.
type Conn interface {
	SendMessage(ctx context.Context, counterpartID, text string) error

	// AddFriend sends a friend request, or accepts a pending incoming one
	// from the same counterpart.
	AddFriend(ctx context.Context, counterpartID string) error

	SetPresence(ctx context.Context, state PresenceState) error

	// LogOff tears the connection down. The event stream is closed after
	// a final disconnected event.
	LogOff() error

	Events() <-chan Event
}
