package registry_test

import (
	"context"
	"testing"
	"time"

	"github.com/botyard/botyard/internal/provider"
	"github.com/botyard/botyard/internal/store"
	"github.com/botyard/botyard/pkg/models"
)

func TestAcceptanceFlow_InviteAccepted(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.addBot(t, "b1", "alice")
	f.connect(t, "b1")

	ctx := context.Background()
	f.store.CreateTask(ctx, &models.Task{
		ID: "t1", CounterpartID: "p1", Item: "keys", BotID: "b1",
		Status: models.TaskStatusInvited, CreatedAt: time.Now().UTC(),
	})
	if sent, _ := f.registry.SendFriendRequest(ctx, "b1", "p1"); !sent {
		t.Fatal("SendFriendRequest() = false, want true")
	}

	// The counterpart accepts our invite.
	f.provider.Conn("alice").Emit(provider.Event{
		Kind:          provider.EventFriendship,
		CounterpartID: "p1",
		Relationship:  provider.RelationshipFriend,
	})

	waitFor(t, func() bool {
		task, _ := f.store.GetTask(ctx, "t1")
		return task.Status == models.TaskStatusAccepted
	}, "task to reach accepted")

	fr, err := f.store.GetOutstandingFriendRequest(ctx, "b1", "p1")
	if err != nil {
		t.Fatalf("GetOutstandingFriendRequest() error = %v", err)
	}
	if fr.Status != models.FriendRequestAccepted {
		t.Errorf("FriendRequest.Status = %q, want %q", fr.Status, models.FriendRequestAccepted)
	}

	chat, err := f.store.GetChatByPair(ctx, "b1", "p1")
	if err != nil {
		t.Fatalf("GetChatByPair() error = %v, want chat created on acceptance", err)
	}
	if !chat.Automated {
		t.Error("acceptance chat created with Automated = false, want true")
	}
}

func TestAcceptanceFlow_IncomingRequestAutoAccepted(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.addBot(t, "b1", "alice")
	f.connect(t, "b1")

	// A counterpart invites the bot first.
	f.provider.Conn("alice").Emit(provider.Event{
		Kind:          provider.EventFriendship,
		CounterpartID: "p9",
		Relationship:  provider.RelationshipRequestRecipient,
	})

	ctx := context.Background()
	waitFor(t, func() bool {
		_, err := f.store.GetChatByPair(ctx, "b1", "p9")
		return err == nil
	}, "chat to be created for auto-accepted pair")

	// Auto-accept goes back through the provider.
	friended := f.provider.Conn("alice").Friended()
	if len(friended) != 1 || friended[0] != "p9" {
		t.Errorf("Friended() = %v, want [p9]", friended)
	}
}

func TestAcceptanceFlow_Idempotent(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.addBot(t, "b1", "alice")
	f.connect(t, "b1")

	conn := f.provider.Conn("alice")
	for i := 0; i < 3; i++ {
		conn.Emit(provider.Event{
			Kind:          provider.EventFriendship,
			CounterpartID: "p1",
			Relationship:  provider.RelationshipFriend,
		})
	}

	ctx := context.Background()
	waitFor(t, func() bool {
		_, err := f.store.GetChatByPair(ctx, "b1", "p1")
		return err == nil
	}, "chat to be created")

	// Repeated friendship events must not spawn duplicate chats.
	chats, _ := f.store.ListChats(ctx)
	if len(chats) != 1 {
		t.Errorf("ListChats() returned %d chats after repeated events, want 1", len(chats))
	}
}

func TestRejection_FlipsSentRequest(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.addBot(t, "b1", "alice")
	f.connect(t, "b1")

	ctx := context.Background()
	if sent, _ := f.registry.SendFriendRequest(ctx, "b1", "p1"); !sent {
		t.Fatal("SendFriendRequest() = false, want true")
	}

	f.provider.Conn("alice").Emit(provider.Event{
		Kind:          provider.EventFriendship,
		CounterpartID: "p1",
		Relationship:  provider.RelationshipNone,
	})

	waitFor(t, func() bool {
		_, err := f.store.GetOutstandingFriendRequest(ctx, "b1", "p1")
		return store.IsNotFound(err)
	}, "sent request to stop being outstanding")
}

func TestInboundMessage_AppendedToChat(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.addBot(t, "b1", "alice")
	f.connect(t, "b1")

	ctx := context.Background()
	chat := &models.Chat{ID: "c1", BotID: "b1", CounterpartID: "p1", Automated: true}
	f.store.CreateChat(ctx, chat)

	f.provider.Conn("alice").Emit(provider.Event{
		Kind:          provider.EventFriendMessage,
		CounterpartID: "p1",
		Text:          "how much for the rifle?",
	})

	waitFor(t, func() bool {
		msgs, _ := f.store.ListMessages(ctx, "c1", nil)
		return len(msgs) == 1
	}, "inbound message to be appended")

	msgs, _ := f.store.ListMessages(ctx, "c1", nil)
	if msgs[0].Source != models.MessageSourcePlayer {
		t.Errorf("Message.Source = %q, want %q", msgs[0].Source, models.MessageSourcePlayer)
	}
	if msgs[0].Text != "how much for the rifle?" {
		t.Errorf("Message.Text = %q", msgs[0].Text)
	}
}

func TestInboundMessage_DroppedWithoutChat(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.addBot(t, "b1", "alice")
	f.connect(t, "b1")

	conn := f.provider.Conn("alice")
	conn.Emit(provider.Event{
		Kind:          provider.EventFriendMessage,
		CounterpartID: "stranger",
		Text:          "hello?",
	})
	// A second event forces the first through the pump before we assert.
	conn.Emit(provider.Event{
		Kind:          provider.EventFriendship,
		CounterpartID: "p1",
		Relationship:  provider.RelationshipFriend,
	})

	ctx := context.Background()
	waitFor(t, func() bool {
		_, err := f.store.GetChatByPair(ctx, "b1", "p1")
		return err == nil
	}, "sentinel event to be processed")

	// No chat, no message, and definitely no chat conjured for the stranger.
	if _, err := f.store.GetChatByPair(ctx, "b1", "stranger"); !store.IsNotFound(err) {
		t.Errorf("GetChatByPair(stranger) error = %v, want ErrNotFound", err)
	}
}

func TestProviderDisconnect_MarksBot(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.addBot(t, "b1", "alice")
	f.connect(t, "b1")

	f.provider.Conn("alice").Emit(provider.Event{Kind: provider.EventDisconnected})

	waitFor(t, func() bool {
		bot, _ := f.store.GetBot(context.Background(), "b1")
		return bot.Status == models.BotStatusDisconnected
	}, "bot to be marked disconnected")
}
