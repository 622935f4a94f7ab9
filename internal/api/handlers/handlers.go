// Package handlers implements the HTTP handlers for the Botyard control
// plane. Every handler is a thin pass-through to the store or the session
// registry; none of them carries orchestration logic of its own.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/botyard/botyard/internal/registry"
	"github.com/botyard/botyard/internal/store"
	"github.com/botyard/botyard/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Store    store.Store
	Registry *registry.Registry
}

// New creates a new Handlers instance.
func New(s store.Store, r *registry.Registry) *Handlers {
	return &Handlers{Store: s, Registry: r}
}

// ── Bot Handlers ─────────────────────────────────────────────

func (h *Handlers) ListBots(w http.ResponseWriter, r *http.Request) {
	bots, err := h.Store.ListBots(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for i := range bots {
		maskBot(&bots[i])
	}
	respondJSON(w, http.StatusOK, bots)
}

func (h *Handlers) AddBot(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Label    string `json:"label"`
		Username string `json:"username"`
		Password string `json:"password"`
		Proxy    string `json:"proxy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	if req.Label == "" {
		req.Label = req.Username
	}

	bot := &models.Bot{
		ID:        uuid.New().String(),
		Label:     req.Label,
		Username:  req.Username,
		Password:  req.Password,
		Proxy:     req.Proxy,
		Status:    models.BotStatusDisconnected,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.Store.CreateBot(r.Context(), bot); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Str("bot_id", bot.ID).Str("username", bot.Username).Msg("Bot added")
	masked := *bot
	maskBot(&masked)
	respondJSON(w, http.StatusCreated, map[string]any{"ok": true, "bot": masked})
}

func (h *Handlers) GetBot(w http.ResponseWriter, r *http.Request) {
	bot, err := h.Store.GetBot(r.Context(), chi.URLParam(r, "botID"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	maskBot(bot)
	respondJSON(w, http.StatusOK, bot)
}

// DeleteBot removes a bot. A live session is always torn down first:
// deletion never leaves an orphaned connection behind.
func (h *Handlers) DeleteBot(w http.ResponseWriter, r *http.Request) {
	botID := chi.URLParam(r, "botID")

	if err := h.Registry.Disconnect(r.Context(), botID); err != nil {
		log.Warn().Err(err).Str("bot_id", botID).Msg("Disconnect before delete failed")
	}

	if err := h.Store.DeleteBot(r.Context(), botID); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handlers) ConnectBot(w http.ResponseWriter, r *http.Request) {
	botID := chi.URLParam(r, "botID")
	if err := h.Registry.Connect(r.Context(), botID); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handlers) DisconnectBot(w http.ResponseWriter, r *http.Request) {
	botID := chi.URLParam(r, "botID")
	if err := h.Registry.Disconnect(r.Context(), botID); err != nil {
		respondError(w, http.StatusInternalServerError, "disconnect failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// ── Task Handlers ────────────────────────────────────────────

func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	var (
		tasks []models.Task
		err   error
	)
	if status := r.URL.Query().Get("status"); status != "" {
		tasks, err = h.Store.ListTasksByStatus(r.Context(), models.TaskStatus(status))
	} else {
		tasks, err = h.Store.ListTasks(r.Context())
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	respondJSON(w, http.StatusOK, tasks)
}

func (h *Handlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CounterpartID string  `json:"counterpart_id"`
		Item          string  `json:"item"`
		PriceMin      float64 `json:"price_min"`
		PriceMax      float64 `json:"price_max"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CounterpartID == "" || req.Item == "" {
		respondError(w, http.StatusBadRequest, "counterpart_id and item are required")
		return
	}
	if req.PriceMin < 0 || req.PriceMax < req.PriceMin {
		respondError(w, http.StatusBadRequest, "price band must satisfy 0 <= min <= max")
		return
	}

	now := time.Now().UTC()
	task := &models.Task{
		ID:            uuid.New().String(),
		CounterpartID: req.CounterpartID,
		Item:          req.Item,
		PriceMin:      req.PriceMin,
		PriceMax:      req.PriceMax,
		Status:        models.TaskStatusCreated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := h.Store.CreateTask(r.Context(), task); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Str("task_id", task.ID).Str("item", task.Item).Msg("Task created")
	respondJSON(w, http.StatusCreated, map[string]any{"ok": true, "task": task})
}

func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.Store.GetTask(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, task)
}

// DisposeTask moves a task to the disposed terminal state. Allowed from
// any non-terminal state; terminal tasks are immutable.
func (h *Handlers) DisposeTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.Store.GetTask(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if task.Status.Terminal() {
		respondError(w, http.StatusConflict, "task is already in a terminal state")
		return
	}

	task.Status = models.TaskStatusDisposed
	if err := h.Store.UpdateTask(r.Context(), task); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Str("task_id", task.ID).Msg("Task disposed")
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "task": task})
}

// ── Chat Handlers ────────────────────────────────────────────

func (h *Handlers) ListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := h.Store.ListChats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if chats == nil {
		chats = []models.Chat{}
	}
	respondJSON(w, http.StatusOK, chats)
}

func (h *Handlers) GetChat(w http.ResponseWriter, r *http.Request) {
	chat, err := h.Store.GetChat(r.Context(), chi.URLParam(r, "chatID"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, chat)
}

// ListChatMessages returns a chat's messages, optionally only those after
// the since query parameter (RFC 3339) for incremental polling.
func (h *Handlers) ListChatMessages(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	if _, err := h.Store.GetChat(r.Context(), chatID); err != nil {
		respondStoreError(w, err)
		return
	}

	var since *time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		since = &ts
	}

	msgs, err := h.Store.ListMessages(r.Context(), chatID, since)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, msgs)
}

// SetAutomation toggles the chat's automation flag. This is the only way
// the flag is ever written from outside: the script runner only reads it.
func (h *Handlers) SetAutomation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	chat, err := h.Store.GetChat(r.Context(), chi.URLParam(r, "chatID"))
	if err != nil {
		respondStoreError(w, err)
		return
	}

	chat.Automated = req.Enabled
	if err := h.Store.UpdateChat(r.Context(), chat); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Str("chat_id", chat.ID).Bool("enabled", req.Enabled).Msg("Chat automation toggled")
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "chat": chat})
}

// SendChatMessage lets an operator speak through the bot directly,
// typically after taking over a conversation from the script.
func (h *Handlers) SendChatMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		respondError(w, http.StatusBadRequest, "text is required")
		return
	}

	chat, err := h.Store.GetChat(r.Context(), chi.URLParam(r, "chatID"))
	if err != nil {
		respondStoreError(w, err)
		return
	}

	if err := h.Registry.SendMessage(r.Context(), chat.BotID, chat.CounterpartID, req.Text); err != nil {
		if errors.Is(err, registry.ErrNoSession) {
			respondError(w, http.StatusConflict, "bot is not connected")
			return
		}
		log.Warn().Err(err).Str("chat_id", chat.ID).Msg("Operator send failed")
		respondError(w, http.StatusBadGateway, "message could not be delivered")
		return
	}

	msg := &models.Message{
		ID:        uuid.New().String(),
		ChatID:    chat.ID,
		Source:    models.MessageSourceBot,
		Text:      req.Text,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.Store.AppendMessage(r.Context(), msg); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"ok": true, "message": msg})
}

// ── Helpers ──────────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, reason string) {
	respondJSON(w, status, map[string]any{"ok": false, "error": reason})
}

func respondStoreError(w http.ResponseWriter, err error) {
	if store.IsNotFound(err) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}

// maskBot redacts credentials before returning a bot to API consumers.
func maskBot(b *models.Bot) {
	b.Password = ""
}
