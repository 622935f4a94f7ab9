package retention_test

import (
	"context"
	"testing"
	"time"

	"github.com/botyard/botyard/internal/retention"
	"github.com/botyard/botyard/internal/store"
	"github.com/botyard/botyard/pkg/models"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s := store.NewMemoryStore("")
	t.Cleanup(func() { s.Close() })
	return s
}

func seedTask(t *testing.T, s store.Store, id string, status models.TaskStatus, age time.Duration) {
	t.Helper()
	now := time.Now().UTC()
	err := s.CreateTask(context.Background(), &models.Task{
		ID: id, BotID: "b1", CounterpartID: "p-" + id, Item: "keys",
		Status: status, CreatedAt: now.Add(-age - time.Hour), UpdatedAt: now.Add(-age),
	})
	if err != nil {
		t.Fatalf("CreateTask(%s) error = %v", id, err)
	}
}

func TestRunCycle_PurgesAgedTerminalTasks(t *testing.T) {
	s := newTestStore(t)
	seedTask(t, s, "old-resolved", models.TaskStatusResolved, 48*time.Hour)
	seedTask(t, s, "old-disposed", models.TaskStatusDisposed, 48*time.Hour)
	seedTask(t, s, "fresh-resolved", models.TaskStatusResolved, time.Hour)
	seedTask(t, s, "old-active", models.TaskStatusInvited, 48*time.Hour)

	archiver := retention.NewLocalFileArchiver(t.TempDir(), false)
	j := retention.NewJanitor(s, archiver, time.Hour, 24*time.Hour)

	stats := j.RunCycle(context.Background())
	if stats.TasksPurged != 2 {
		t.Errorf("TasksPurged = %d, want 2", stats.TasksPurged)
	}
	if len(stats.Errors) != 0 {
		t.Errorf("Errors = %v, want none", stats.Errors)
	}

	ctx := context.Background()
	for _, id := range []string{"old-resolved", "old-disposed"} {
		if _, err := s.GetTask(ctx, id); !store.IsNotFound(err) {
			t.Errorf("GetTask(%s) error = %v, want ErrNotFound after purge", id, err)
		}
	}
	// Fresh terminal tasks and non-terminal tasks stay, whatever their age.
	for _, id := range []string{"fresh-resolved", "old-active"} {
		if _, err := s.GetTask(ctx, id); err != nil {
			t.Errorf("GetTask(%s) error = %v, want task retained", id, err)
		}
	}
}

func TestRunCycle_ReapsChatWithTranscript(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedTask(t, s, "t1", models.TaskStatusResolved, 48*time.Hour)

	s.CreateChat(ctx, &models.Chat{ID: "c1", BotID: "b1", CounterpartID: "p-t1"})
	s.AppendMessage(ctx, &models.Message{
		ID: "m1", ChatID: "c1", Source: models.MessageSourceBot, Text: "hi",
		CreatedAt: time.Now().UTC(),
	})

	archiver := retention.NewLocalFileArchiver(t.TempDir(), false)
	j := retention.NewJanitor(s, archiver, time.Hour, 24*time.Hour)

	stats := j.RunCycle(ctx)
	if stats.ChatsPurged != 1 {
		t.Errorf("ChatsPurged = %d, want 1", stats.ChatsPurged)
	}
	if _, err := s.GetChatByPair(ctx, "b1", "p-t1"); !store.IsNotFound(err) {
		t.Errorf("GetChatByPair() error = %v, want ErrNotFound after reap", err)
	}
}

func TestRunCycle_KeepsChatWithLiveWork(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedTask(t, s, "t1", models.TaskStatusResolved, 48*time.Hour)

	// A second, still-active task for the same pair pins the chat.
	s.CreateTask(ctx, &models.Task{
		ID: "t2", BotID: "b1", CounterpartID: "p-t1", Item: "keys",
		Status: models.TaskStatusAccepted, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	})
	s.CreateChat(ctx, &models.Chat{ID: "c1", BotID: "b1", CounterpartID: "p-t1"})

	j := retention.NewJanitor(s, retention.NewLocalFileArchiver(t.TempDir(), false), time.Hour, 24*time.Hour)
	stats := j.RunCycle(ctx)

	if stats.TasksPurged != 1 {
		t.Errorf("TasksPurged = %d, want 1", stats.TasksPurged)
	}
	if stats.ChatsPurged != 0 {
		t.Errorf("ChatsPurged = %d, want 0 while live work remains", stats.ChatsPurged)
	}
	if _, err := s.GetChat(ctx, "c1"); err != nil {
		t.Errorf("GetChat() error = %v, want chat retained", err)
	}
}

// failingArchiver simulates a broken archive backend.
type failingArchiver struct{}

func (failingArchiver) Kind() string { return "broken" }
func (failingArchiver) ArchiveTasks(context.Context, []models.Task) (string, error) {
	return "", context.DeadlineExceeded
}
func (failingArchiver) ArchiveTranscript(context.Context, models.Chat, []models.Message) (string, error) {
	return "", context.DeadlineExceeded
}

func TestRunCycle_ArchiveFailureSkipsPurge(t *testing.T) {
	s := newTestStore(t)
	seedTask(t, s, "t1", models.TaskStatusResolved, 48*time.Hour)

	j := retention.NewJanitor(s, failingArchiver{}, time.Hour, 24*time.Hour)
	stats := j.RunCycle(context.Background())

	if stats.TasksPurged != 0 {
		t.Errorf("TasksPurged = %d, want 0 when archiving fails", stats.TasksPurged)
	}
	if len(stats.Errors) == 0 {
		t.Error("expected archive error to be reported")
	}
	if _, err := s.GetTask(context.Background(), "t1"); err != nil {
		t.Errorf("GetTask() error = %v, want task retained (fail-safe)", err)
	}
}

func TestRunCycle_FriendRequestsSurvive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedTask(t, s, "t1", models.TaskStatusResolved, 48*time.Hour)
	s.CreateFriendRequest(ctx, &models.FriendRequest{
		ID: "fr1", BotID: "b1", CounterpartID: "p-t1", Status: models.FriendRequestAccepted,
	})

	j := retention.NewJanitor(s, retention.NewLocalFileArchiver(t.TempDir(), false), time.Hour, 24*time.Hour)
	j.RunCycle(ctx)

	// The once-per-pair invitation guard outlives the task.
	if _, err := s.GetOutstandingFriendRequest(ctx, "b1", "p-t1"); err != nil {
		t.Errorf("GetOutstandingFriendRequest() error = %v, want record retained", err)
	}
}
