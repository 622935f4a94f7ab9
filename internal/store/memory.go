// Package store — in-memory Store implementation.
// Used for local development and tests. Supports file-based snapshot
// persistence so data survives restarts.
package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/botyard/botyard/pkg/models"
	"github.com/rs/zerolog/log"
)

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	Bots           map[string]*models.Bot           `json:"bots"`
	Tasks          map[string]*models.Task          `json:"tasks"`
	Chats          map[string]*models.Chat          `json:"chats"`
	Messages       map[string][]*models.Message     `json:"messages"` // key: chat ID, append order
	FriendRequests map[string]*models.FriendRequest `json:"friend_requests"`
}

// MemoryStore implements Store with in-memory maps.
type MemoryStore struct {
	mu             sync.RWMutex
	bots           map[string]*models.Bot           // key: id
	tasks          map[string]*models.Task          // key: id
	chats          map[string]*models.Chat          // key: id
	chatByPair     map[string]string                // key: botID:counterpartID → chat ID
	messages       map[string][]*models.Message     // key: chat ID, append order
	friendRequests map[string]*models.FriendRequest // key: id

	// Persistence
	snapshotPath string        // empty = no persistence
	saveMu       sync.Mutex    // guards file writes
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{} // signals background goroutines to stop
}

// NewMemoryStore creates a new in-memory store. If dataDir is non-empty,
// data is persisted to a JSON file in that directory.
func NewMemoryStore(dataDir string) *MemoryStore {
	m := &MemoryStore{
		bots:           make(map[string]*models.Bot),
		tasks:          make(map[string]*models.Task),
		chats:          make(map[string]*models.Chat),
		chatByPair:     make(map[string]string),
		messages:       make(map[string][]*models.Message),
		friendRequests: make(map[string]*models.FriendRequest),
		saveCh:         make(chan struct{}, 1),
		doneCh:         make(chan struct{}),
	}

	if dataDir != "" {
		m.snapshotPath = filepath.Join(dataDir, "data.json")
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			log.Warn().Err(err).Str("dir", dataDir).Msg("Cannot create data dir, persistence disabled")
			m.snapshotPath = ""
		}
	}

	if m.snapshotPath != "" {
		m.loadSnapshot()
		go m.saveLoop()
	}

	log.Info().Str("snapshot", m.snapshotPath).Msg("Memory store configured")
	return m
}

// requestSave signals the background goroutine to persist data.
// Non-blocking: coalesces multiple rapid writes into one disk flush.
func (m *MemoryStore) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
		// Already pending
	}
}

// saveLoop runs in a goroutine, debouncing save requests.
func (m *MemoryStore) saveLoop() {
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			time.Sleep(500 * time.Millisecond) // debounce
			m.saveSnapshot()
		}
	}
}

// saveSnapshot persists all data to disk as JSON.
func (m *MemoryStore) saveSnapshot() {
	m.mu.RLock()
	snap := snapshot{
		Bots:           m.bots,
		Tasks:          m.tasks,
		Chats:          m.chats,
		Messages:       m.messages,
		FriendRequests: m.friendRequests,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	m.mu.RUnlock()

	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal snapshot")
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	// Write to temp file then rename for atomicity
	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("Failed to write snapshot tmp")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to rename snapshot")
		return
	}

	log.Debug().Str("path", m.snapshotPath).Msg("Snapshot saved")
}

// loadSnapshot reads data from disk on startup.
func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", m.snapshotPath).Msg("No snapshot file found, starting fresh")
			return
		}
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Failed to read snapshot")
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to parse snapshot, starting fresh")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if snap.Bots != nil {
		m.bots = snap.Bots
	}
	if snap.Tasks != nil {
		m.tasks = snap.Tasks
	}
	if snap.Chats != nil {
		m.chats = snap.Chats
	}
	if snap.Messages != nil {
		m.messages = snap.Messages
	}
	if snap.FriendRequests != nil {
		m.friendRequests = snap.FriendRequests
	}

	// Rebuild the pair index.
	for id, c := range m.chats {
		m.chatByPair[pairKey(c.BotID, c.CounterpartID)] = id
	}

	// Live sessions do not survive restarts; a bot cannot come back
	// connected from disk.
	for _, b := range m.bots {
		if b.Status == models.BotStatusConnected || b.Status == models.BotStatusConnecting {
			b.Status = models.BotStatusDisconnected
		}
	}

	log.Info().
		Int("bots", len(m.bots)).
		Int("tasks", len(m.tasks)).
		Int("chats", len(m.chats)).
		Str("path", m.snapshotPath).
		Msg("Snapshot loaded")
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// Close stops background goroutines and forces a final snapshot write.
// Safe to call multiple times (second call is a no-op).
func (m *MemoryStore) Close() error {
	select {
	case <-m.doneCh:
		// Already closed
		return nil
	default:
		close(m.doneCh)
	}

	if m.snapshotPath != "" {
		m.saveSnapshot()
	}

	log.Info().Msg("Memory store closed")
	return nil
}

func pairKey(botID, counterpartID string) string {
	return botID + ":" + counterpartID
}

// ── Bot Store ───────────────────────────────────────────────

func (m *MemoryStore) ListBots(_ context.Context) ([]models.Bot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.Bot, 0, len(m.bots))
	for _, b := range m.bots {
		result = append(result, *b)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MemoryStore) GetBot(_ context.Context, id string) (*models.Bot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bots[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "bot", Key: id}
	}
	copy := *b
	return &copy, nil
}

func (m *MemoryStore) CreateBot(_ context.Context, bot *models.Bot) error {
	m.mu.Lock()
	copy := *bot
	m.bots[bot.ID] = &copy
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateBot(_ context.Context, bot *models.Bot) error {
	m.mu.Lock()
	if _, ok := m.bots[bot.ID]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "bot", Key: bot.ID}
	}
	copy := *bot
	m.bots[bot.ID] = &copy
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteBot(_ context.Context, id string) error {
	m.mu.Lock()
	if _, ok := m.bots[id]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "bot", Key: id}
	}
	delete(m.bots, id)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

// ── Task Store ──────────────────────────────────────────────

func (m *MemoryStore) ListTasks(_ context.Context) ([]models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		result = append(result, *t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *MemoryStore) ListTasksByStatus(_ context.Context, status models.TaskStatus) ([]models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []models.Task
	for _, t := range m.tasks {
		if t.Status == status {
			result = append(result, *t)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *MemoryStore) GetTask(_ context.Context, id string) (*models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "task", Key: id}
	}
	copy := *t
	return &copy, nil
}

func (m *MemoryStore) CreateTask(_ context.Context, task *models.Task) error {
	m.mu.Lock()
	copy := *task
	m.tasks[task.ID] = &copy
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateTask(_ context.Context, task *models.Task) error {
	m.mu.Lock()
	if _, ok := m.tasks[task.ID]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "task", Key: task.ID}
	}
	copy := *task
	copy.UpdatedAt = time.Now().UTC()
	m.tasks[task.ID] = &copy
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteTask(_ context.Context, id string) error {
	m.mu.Lock()
	if _, ok := m.tasks[id]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "task", Key: id}
	}
	delete(m.tasks, id)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

// ── Chat Store ──────────────────────────────────────────────

func (m *MemoryStore) ListChats(_ context.Context) ([]models.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.Chat, 0, len(m.chats))
	for _, c := range m.chats {
		result = append(result, *c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *MemoryStore) GetChat(_ context.Context, id string) (*models.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.chats[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "chat", Key: id}
	}
	copy := *c
	return &copy, nil
}

func (m *MemoryStore) GetChatByPair(_ context.Context, botID, counterpartID string) (*models.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.chatByPair[pairKey(botID, counterpartID)]
	if !ok {
		return nil, &ErrNotFound{Entity: "chat", Key: pairKey(botID, counterpartID)}
	}
	copy := *m.chats[id]
	return &copy, nil
}

func (m *MemoryStore) CreateChat(_ context.Context, chat *models.Chat) error {
	m.mu.Lock()
	pk := pairKey(chat.BotID, chat.CounterpartID)
	if existing, ok := m.chatByPair[pk]; ok {
		// One canonical chat per pair; duplicate creation reuses it.
		*chat = *m.chats[existing]
		m.mu.Unlock()
		return nil
	}
	copy := *chat
	m.chats[chat.ID] = &copy
	m.chatByPair[pk] = chat.ID
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateChat(_ context.Context, chat *models.Chat) error {
	m.mu.Lock()
	if _, ok := m.chats[chat.ID]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "chat", Key: chat.ID}
	}
	copy := *chat
	copy.UpdatedAt = time.Now().UTC()
	m.chats[chat.ID] = &copy
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteChat(_ context.Context, id string) error {
	m.mu.Lock()
	c, ok := m.chats[id]
	if !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "chat", Key: id}
	}
	delete(m.chats, id)
	delete(m.chatByPair, pairKey(c.BotID, c.CounterpartID))
	delete(m.messages, id)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

// ── Message Store ───────────────────────────────────────────

func (m *MemoryStore) AppendMessage(_ context.Context, msg *models.Message) error {
	m.mu.Lock()
	if _, ok := m.chats[msg.ChatID]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "chat", Key: msg.ChatID}
	}
	copy := *msg
	m.messages[msg.ChatID] = append(m.messages[msg.ChatID], &copy)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListMessages(_ context.Context, chatID string, since *time.Time) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[chatID]
	result := make([]models.Message, 0, len(msgs))
	for _, msg := range msgs {
		if since != nil && !msg.CreatedAt.After(*since) {
			continue
		}
		result = append(result, *msg)
	}
	return result, nil
}

// ── Friend Request Store ────────────────────────────────────

func (m *MemoryStore) ListFriendRequests(_ context.Context, botID string) ([]models.FriendRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []models.FriendRequest
	for _, fr := range m.friendRequests {
		if botID == "" || fr.BotID == botID {
			result = append(result, *fr)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *MemoryStore) GetOutstandingFriendRequest(_ context.Context, botID, counterpartID string) (*models.FriendRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, fr := range m.friendRequests {
		if fr.BotID == botID && fr.CounterpartID == counterpartID && fr.Outstanding() {
			copy := *fr
			return &copy, nil
		}
	}
	return nil, &ErrNotFound{Entity: "friend_request", Key: pairKey(botID, counterpartID)}
}

func (m *MemoryStore) CreateFriendRequest(_ context.Context, fr *models.FriendRequest) error {
	m.mu.Lock()
	copy := *fr
	m.friendRequests[fr.ID] = &copy
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateFriendRequest(_ context.Context, fr *models.FriendRequest) error {
	m.mu.Lock()
	if _, ok := m.friendRequests[fr.ID]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "friend_request", Key: fr.ID}
	}
	copy := *fr
	copy.UpdatedAt = time.Now().UTC()
	m.friendRequests[fr.ID] = &copy
	m.mu.Unlock()
	m.requestSave()
	return nil
}

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
