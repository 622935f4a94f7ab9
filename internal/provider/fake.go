package provider

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory Provider used by tests and as the sandbox driver for
// the OSS binary. Logins succeed immediately unless the username has been
// marked as failing; all outbound actions are recorded for inspection and
// tests inject inbound events directly with Emit.
type Fake struct {
	mu       sync.Mutex
	conns    map[string]*FakeConn // key: username, latest connection
	failAuth map[string]bool
}

// NewFake creates a fake provider.
func NewFake() *Fake {
	return &Fake{
		conns:    make(map[string]*FakeConn),
		failAuth: make(map[string]bool),
	}
}

// FailAuth marks a username so its next Open emits an error event instead
// of logging on.
func (f *Fake) FailAuth(username string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAuth[username] = true
}

// Conn returns the most recent connection opened for a username, or nil.
func (f *Fake) Conn(username string) *FakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[username]
}

// Open implements Provider. The authentication outcome is queued on the
// event stream before Open returns, so consumers see it as soon as they
// start draining events.
func (f *Fake) Open(_ context.Context, creds Credentials, proxy string) (Conn, error) {
	c := &FakeConn{
		username: creds.Username,
		proxy:    proxy,
		events:   make(chan Event, 64),
	}

	f.mu.Lock()
	f.conns[creds.Username] = c
	fail := f.failAuth[creds.Username]
	f.mu.Unlock()

	if fail {
		c.events <- Event{Kind: EventError, Err: fmt.Errorf("invalid password for %s", creds.Username)}
	} else {
		c.events <- Event{Kind: EventLoggedOn, AccountID: "acct-" + creds.Username}
		c.events <- Event{Kind: EventWebSession, Cookies: []string{"sessionid=fake-" + creds.Username}}
	}
	return c, nil
}

// SentMessage is one outbound message recorded by a FakeConn.
type SentMessage struct {
	CounterpartID string
	Text          string
}

// FakeConn is the Conn returned by Fake.
type FakeConn struct {
	username string
	proxy    string
	events   chan Event

	mu       sync.Mutex
	closed   bool
	presence PresenceState
	sent     []SentMessage
	friended []string
	sendErr  error
}

func (c *FakeConn) SendMessage(_ context.Context, counterpartID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, SentMessage{CounterpartID: counterpartID, Text: text})
	return nil
}

func (c *FakeConn) AddFriend(_ context.Context, counterpartID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.friended = append(c.friended, counterpartID)
	return nil
}

func (c *FakeConn) SetPresence(_ context.Context, state PresenceState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.presence = state
	return nil
}

func (c *FakeConn) LogOff() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.events <- Event{Kind: EventDisconnected}
	close(c.events)
	return nil
}

func (c *FakeConn) Events() <-chan Event { return c.events }

// Emit injects an inbound event, as if it arrived from the network.
func (c *FakeConn) Emit(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.events <- ev
}

// SetSendErr makes subsequent SendMessage/AddFriend calls fail with err.
func (c *FakeConn) SetSendErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// Sent returns a copy of all messages sent on this connection.
func (c *FakeConn) Sent() []SentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SentMessage, len(c.sent))
	copy(out, c.sent)
	return out
}

// Friended returns every counterpart this connection friended, in order.
func (c *FakeConn) Friended() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.friended))
	copy(out, c.friended)
	return out
}

// Presence returns the last presence state set on the connection.
func (c *FakeConn) Presence() PresenceState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.presence
}

var _ Provider = (*Fake)(nil)
