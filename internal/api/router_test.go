package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/botyard/botyard/internal/api"
	"github.com/botyard/botyard/internal/api/handlers"
	"github.com/botyard/botyard/internal/config"
	"github.com/botyard/botyard/internal/provider"
	"github.com/botyard/botyard/internal/registry"
	"github.com/botyard/botyard/internal/store"
	"github.com/botyard/botyard/pkg/models"
)

type testEnv struct {
	store    store.Store
	provider *provider.Fake
	registry *registry.Registry
	router   http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s := store.NewMemoryStore("")
	t.Cleanup(func() { s.Close() })

	p := provider.NewFake()
	r := registry.New(s, p, time.Minute)
	t.Cleanup(func() { r.Shutdown(context.Background()) })

	cfg := &config.Config{Version: "test"}
	h := handlers.New(s, r)
	return &testEnv{store: s, provider: p, registry: r, router: api.NewRouter(cfg, h)}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestHealthAndVersion(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("GET /health status = %d, want 200", rec.Code)
	}

	rec = e.do(t, http.MethodGet, "/version", nil)
	var ver map[string]string
	decode(t, rec, &ver)
	if ver["version"] != "test" {
		t.Errorf("version = %q, want %q", ver["version"], "test")
	}
}

func TestAddBot_MasksPassword(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/api/v1/bots", map[string]string{
		"label": "Trader", "username": "alice", "password": "hunter2",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /bots status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		OK  bool       `json:"ok"`
		Bot models.Bot `json:"bot"`
	}
	decode(t, rec, &resp)
	if !resp.OK {
		t.Error("response ok = false")
	}
	if resp.Bot.Password != "" {
		t.Error("password leaked in create response")
	}
	if resp.Bot.Status != models.BotStatusDisconnected {
		t.Errorf("new bot status = %q, want %q", resp.Bot.Status, models.BotStatusDisconnected)
	}

	// And on reads.
	rec = e.do(t, http.MethodGet, "/api/v1/bots/"+resp.Bot.ID, nil)
	var got models.Bot
	decode(t, rec, &got)
	if got.Password != "" {
		t.Error("password leaked on GET")
	}

	// The store still holds the real credential.
	stored, _ := e.store.GetBot(context.Background(), resp.Bot.ID)
	if stored.Password != "hunter2" {
		t.Errorf("stored password = %q, want %q", stored.Password, "hunter2")
	}
}

func TestAddBot_Validation(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/api/v1/bots", map[string]string{"username": "alice"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing password: status = %d, want 400", rec.Code)
	}
}

func TestConnectAndDisconnectBot(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.store.CreateBot(ctx, &models.Bot{
		ID: "b1", Username: "alice", Password: "pw", Status: models.BotStatusDisconnected,
	})

	rec := e.do(t, http.MethodPost, "/api/v1/bots/b1/connect", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /connect status = %d", rec.Code)
	}
	if !e.registry.HasSession("b1") {
		t.Error("no session after connect")
	}

	rec = e.do(t, http.MethodPost, "/api/v1/bots/b1/disconnect", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /disconnect status = %d", rec.Code)
	}
	if e.registry.HasSession("b1") {
		t.Error("session survived disconnect")
	}
}

func TestConnectBot_NotFound(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/api/v1/bots/ghost/connect", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestDeleteBot_DisconnectsFirst(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.store.CreateBot(ctx, &models.Bot{
		ID: "b1", Username: "alice", Password: "pw", Status: models.BotStatusDisconnected,
	})
	e.registry.Connect(ctx, "b1")

	rec := e.do(t, http.MethodDelete, "/api/v1/bots/b1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("DELETE status = %d", rec.Code)
	}
	if e.registry.HasSession("b1") {
		t.Error("session survived bot deletion")
	}
	if _, err := e.store.GetBot(ctx, "b1"); !store.IsNotFound(err) {
		t.Errorf("GetBot() after delete error = %v, want ErrNotFound", err)
	}
}

func TestCreateTask(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/api/v1/tasks", map[string]any{
		"counterpart_id": "p1", "item": "keys", "price_min": 10, "price_max": 20,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /tasks status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		OK   bool        `json:"ok"`
		Task models.Task `json:"task"`
	}
	decode(t, rec, &resp)
	if resp.Task.Status != models.TaskStatusCreated {
		t.Errorf("new task status = %q, want %q", resp.Task.Status, models.TaskStatusCreated)
	}
	if resp.Task.BotID != "" {
		t.Errorf("new task BotID = %q, want empty until assignment", resp.Task.BotID)
	}
}

func TestCreateTask_Validation(t *testing.T) {
	e := newTestEnv(t)

	cases := []struct {
		name string
		body map[string]any
	}{
		{"missing item", map[string]any{"counterpart_id": "p1", "price_min": 1, "price_max": 2}},
		{"missing counterpart", map[string]any{"item": "keys", "price_min": 1, "price_max": 2}},
		{"negative min", map[string]any{"counterpart_id": "p1", "item": "keys", "price_min": -1, "price_max": 2}},
		{"inverted band", map[string]any{"counterpart_id": "p1", "item": "keys", "price_min": 5, "price_max": 2}},
	}
	for _, tc := range cases {
		rec := e.do(t, http.MethodPost, "/api/v1/tasks", tc.body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tc.name, rec.Code)
		}
	}
}

func TestListTasks_StatusFilter(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.store.CreateTask(ctx, &models.Task{ID: "t1", Status: models.TaskStatusCreated})
	e.store.CreateTask(ctx, &models.Task{ID: "t2", Status: models.TaskStatusResolved})

	rec := e.do(t, http.MethodGet, "/api/v1/tasks?status=resolved", nil)
	var tasks []models.Task
	decode(t, rec, &tasks)
	if len(tasks) != 1 || tasks[0].ID != "t2" {
		t.Errorf("filtered tasks = %+v, want only t2", tasks)
	}
}

func TestDisposeTask(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.store.CreateTask(ctx, &models.Task{ID: "t1", Status: models.TaskStatusInvited})

	rec := e.do(t, http.MethodPost, "/api/v1/tasks/t1/dispose", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /dispose status = %d", rec.Code)
	}
	task, _ := e.store.GetTask(ctx, "t1")
	if task.Status != models.TaskStatusDisposed {
		t.Errorf("task status = %q, want %q", task.Status, models.TaskStatusDisposed)
	}

	// Terminal tasks are immutable.
	rec = e.do(t, http.MethodPost, "/api/v1/tasks/t1/dispose", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("dispose of terminal task: status = %d, want 409", rec.Code)
	}
}

func TestSetAutomation(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.store.CreateChat(ctx, &models.Chat{ID: "c1", BotID: "b1", CounterpartID: "p1", Automated: true})

	rec := e.do(t, http.MethodPost, "/api/v1/chats/c1/automation", map[string]bool{"enabled": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /automation status = %d", rec.Code)
	}
	chat, _ := e.store.GetChat(ctx, "c1")
	if chat.Automated {
		t.Error("automation still enabled after toggle off")
	}

	rec = e.do(t, http.MethodPost, "/api/v1/chats/missing/automation", map[string]bool{"enabled": true})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown chat: status = %d, want 404", rec.Code)
	}
}

func TestListChatMessages_SinceFilter(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.store.CreateChat(ctx, &models.Chat{ID: "c1", BotID: "b1", CounterpartID: "p1"})

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		e.store.AppendMessage(ctx, &models.Message{
			ID: "m" + string(rune('0'+i)), ChatID: "c1",
			Source: models.MessageSourcePlayer, Text: "hi",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	rec := e.do(t, http.MethodGet, "/api/v1/chats/c1/messages?since="+base.Add(time.Minute).Format(time.RFC3339Nano), nil)
	var msgs []models.Message
	decode(t, rec, &msgs)
	if len(msgs) != 1 {
		t.Errorf("since filter returned %d messages, want 1", len(msgs))
	}

	rec = e.do(t, http.MethodGet, "/api/v1/chats/c1/messages?since=not-a-time", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad since: status = %d, want 400", rec.Code)
	}
}

func TestSendChatMessage(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.store.CreateBot(ctx, &models.Bot{
		ID: "b1", Username: "alice", Password: "pw", Status: models.BotStatusDisconnected,
	})
	e.store.CreateChat(ctx, &models.Chat{ID: "c1", BotID: "b1", CounterpartID: "p1"})

	// Without a session the operator send is refused.
	rec := e.do(t, http.MethodPost, "/api/v1/chats/c1/messages", map[string]string{"text": "hello"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("send without session: status = %d, want 409", rec.Code)
	}

	e.registry.Connect(ctx, "b1")
	rec = e.do(t, http.MethodPost, "/api/v1/chats/c1/messages", map[string]string{"text": "hello"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("send with session: status = %d, body %s", rec.Code, rec.Body.String())
	}

	msgs, _ := e.store.ListMessages(ctx, "c1", nil)
	if len(msgs) != 1 || msgs[0].Source != models.MessageSourceBot {
		t.Errorf("ListMessages() = %+v, want one bot message", msgs)
	}
	sent := e.provider.Conn("alice").Sent()
	if len(sent) != 1 || sent[0].Text != "hello" {
		t.Errorf("provider Sent() = %+v, want one message %q", sent, "hello")
	}
}
